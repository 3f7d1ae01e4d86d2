package passbundle

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Manifest maps each bundle file (slash-separated path relative to the bundle
// root) to the lowercase hex SHA-1 digest of its contents.
type Manifest map[string]string

// GenerateManifest hashes every regular file below root.
func GenerateManifest(root string) (Manifest, error) {
	entries, err := walkTree(root)
	if err != nil {
		return nil, newError(KindIO, "manifest", root, err)
	}

	manifest := make(Manifest, len(entries))
	for _, e := range entries {
		if e.Dir {
			continue
		}
		digest, err := hashFile(e.Path)
		if err != nil {
			return nil, newError(KindIO, "manifest", e.Path, fmt.Errorf("failed to hash: %w", err))
		}
		manifest[e.Rel] = digest
	}

	return manifest, nil
}

// WriteManifest generates the manifest of root and writes it to
// root/manifest.json.
func WriteManifest(root string) (Manifest, error) {
	manifest, err := GenerateManifest(root)
	if err != nil {
		return nil, err
	}

	data, err := manifest.Marshal()
	if err != nil {
		return nil, newError(KindIO, "manifest", ManifestFilename, err)
	}

	manifestPath := filepath.Join(root, ManifestFilename)
	if err := os.WriteFile(manifestPath, data, fileMode); err != nil {
		return nil, newError(KindIO, "manifest", manifestPath, err)
	}

	return manifest, nil
}

// Marshal encodes the manifest as compact JSON with keys in lexicographic order.
func (m Manifest) Marshal() ([]byte, error) {
	// encoding/json sorts map keys.
	return marshalJSON(map[string]string(m))
}

// ParseManifest decodes manifest.json contents.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

// Paths returns the manifest keys in sorted order.
func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// DigestBytes returns the manifest digest of data.
func DigestBytes(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
