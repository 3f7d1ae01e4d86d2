package passbundle

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// BuildArchive writes every file and directory below root into a zip archive
// at dest. Entry names are relative to root, directories (including empty
// ones) get their own "name/" entry, and files are deflated.
//
// dest is created exclusively unless overwrite is set, in which case an
// existing file is truncated. On a write failure the partial archive is removed.
func BuildArchive(root, dest string, overwrite bool) error {
	entries, err := walkTree(root)
	if err != nil {
		return newError(KindIO, "archive", root, err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	outFile, err := os.OpenFile(dest, flags, fileMode)
	if err != nil {
		return newError(KindIO, "archive", dest, fmt.Errorf("failed to create output file: %w", err))
	}

	if err := writeArchive(outFile, entries); err != nil {
		_ = outFile.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := outFile.Close(); err != nil {
		_ = os.Remove(dest)
		return newError(KindArchive, "archive", dest, err)
	}
	return nil
}

func writeArchive(out io.Writer, entries []treeEntry) error {
	w := zip.NewWriter(out)

	for _, e := range entries {
		if err := addArchiveEntry(w, e); err != nil {
			_ = w.Close()
			return err
		}
	}

	if err := w.Close(); err != nil {
		return newError(KindArchive, "archive", "", fmt.Errorf("failed to finalize zip: %w", err))
	}
	return nil
}

func addArchiveEntry(w *zip.Writer, e treeEntry) error {
	info, err := os.Lstat(e.Path)
	if err != nil {
		return newError(KindIO, "archive", e.Path, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return newError(KindArchive, "archive", e.Path, err)
	}

	if e.Dir {
		header.Name = e.Rel + "/"
		header.Method = zip.Store
		if _, err := w.CreateHeader(header); err != nil {
			return newError(KindArchive, "archive", e.Rel, err)
		}
		return nil
	}

	data, err := os.ReadFile(e.Path)
	if err != nil {
		return newError(KindIO, "archive", e.Path, err)
	}

	header.Name = e.Rel
	header.Method = zip.Deflate
	writer, err := w.CreateHeader(header)
	if err != nil {
		return newError(KindArchive, "archive", e.Rel, err)
	}
	if _, err := writer.Write(data); err != nil {
		return newError(KindArchive, "archive", e.Rel, err)
	}
	return nil
}

// Bundle is a pass archive loaded into memory.
type Bundle struct {
	// Entries lists every entry name in archive order.
	Entries []string
	// Files holds the contents of the file entries.
	Files map[string][]byte
}

// ReadBundle loads the archive at path.
func ReadBundle(path string) (*Bundle, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, newError(KindArchive, "read bundle", path, err)
	}
	defer r.Close()

	b := &Bundle{Files: make(map[string][]byte, len(r.File))}
	for _, f := range r.File {
		b.Entries = append(b.Entries, f.Name)
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			return nil, newError(KindArchive, "read bundle", f.Name, err)
		}
		b.Files[f.Name] = data
	}
	return b, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// SortedEntries returns the entry names in lexicographic order.
func (b *Bundle) SortedEntries() []string {
	names := append([]string(nil), b.Entries...)
	sort.Strings(names)
	return names
}

// Manifest parses the bundle's manifest.json.
func (b *Bundle) Manifest() (Manifest, error) {
	data, ok := b.Files[ManifestFilename]
	if !ok {
		return nil, fmt.Errorf("bundle has no %s: %w", ManifestFilename, os.ErrNotExist)
	}
	return ParseManifest(data)
}

// errDigestMismatch marks a file whose contents differ from its manifest digest.
var errDigestMismatch = errors.New("digest mismatch")

// VerifyManifest recomputes the digest of every file listed in manifest.json
// and reports listed files that are missing or altered, plus files (other
// than manifest.json and signature) that the manifest does not list.
func (b *Bundle) VerifyManifest() ([]string, error) {
	manifest, err := b.Manifest()
	if err != nil {
		return nil, err
	}

	var problems []string
	for _, name := range manifest.Paths() {
		data, ok := b.Files[name]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s: %v", name, os.ErrNotExist))
		case DigestBytes(data) != manifest[name]:
			problems = append(problems, fmt.Sprintf("%s: %v", name, errDigestMismatch))
		}
	}

	for name := range b.Files {
		if name == ManifestFilename || name == SignatureFilename {
			continue
		}
		if _, ok := manifest[name]; !ok {
			problems = append(problems, name+": not listed in manifest")
		}
	}
	sort.Strings(problems)

	return problems, nil
}
