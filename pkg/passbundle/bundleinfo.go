package passbundle

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.mozilla.org/pkcs7"
)

// SignatureInfo summarizes the signature entry of a bundle.
type SignatureInfo struct {
	Size         int
	SignerCN     string
	SignerTeamID string
	PassTypeID   string
	Certificates int
	Detached     bool
}

// Signature parses the bundle's signature entry. It reports who signed the
// bundle; it does not establish trust in the signer.
func (b *Bundle) Signature() (*SignatureInfo, error) {
	data, ok := b.Files[SignatureFilename]
	if !ok {
		return nil, nil
	}

	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signature: %w", err)
	}

	info := &SignatureInfo{
		Size:         len(data),
		Certificates: len(p7.Certificates),
		Detached:     len(p7.Content) == 0,
	}
	if signer := p7.GetOnlySigner(); signer != nil {
		material := &CertificateMaterial{Certificate: signer}
		info.SignerCN = signer.Subject.CommonName
		info.SignerTeamID = material.TeamID()
		info.PassTypeID = material.PassTypeID()
	}
	return info, nil
}

// fprint is a helper that ignores fmt.Fprintf errors (for CLI output)
func fprint(w io.Writer, format string, a ...interface{}) {
	_, _ = fmt.Fprintf(w, format, a...)
}

// PrintBundleInfo writes a human readable report of the bundle at path.
func PrintBundleInfo(w io.Writer, path string, b *Bundle) error {
	fprint(w, "\n=== %s ===\n", filepath.Base(path))

	if pass, err := NewPass(b.Files[PassFilename]); err == nil {
		fprint(w, "Serial Number: %s\n", pass.SerialNumber())
		if id, ok := pass.Document["passTypeIdentifier"].(string); ok {
			fprint(w, "Pass Type ID:  %s\n", id)
		}
	}

	fprint(w, "\nEntries (%d):\n", len(b.Entries))
	names := b.SortedEntries()
	for i, name := range names {
		prefix := "├─"
		if i == len(names)-1 {
			prefix = "└─"
		}
		if strings.HasSuffix(name, "/") {
			fprint(w, "  %s %s\n", prefix, name)
		} else {
			fprint(w, "  %s %s (%d bytes)\n", prefix, name, len(b.Files[name]))
		}
	}

	problems, err := b.VerifyManifest()
	if err != nil {
		return err
	}
	fprint(w, "\nManifest:\n")
	if len(problems) == 0 {
		fprint(w, "  all digests match\n")
	}
	for _, p := range problems {
		fprint(w, "  ! %s\n", p)
	}

	sig, err := b.Signature()
	if err != nil {
		return err
	}
	fprint(w, "\nSignature:\n")
	if sig == nil {
		fprint(w, "  none (unsigned bundle)\n")
		return nil
	}
	fprint(w, "  Size:         %d bytes\n", sig.Size)
	fprint(w, "  Detached:     %v\n", sig.Detached)
	fprint(w, "  Certificates: %d\n", sig.Certificates)
	if sig.SignerCN != "" {
		fprint(w, "  Signer:       %s\n", sig.SignerCN)
	}
	if sig.SignerTeamID != "" {
		fprint(w, "  Team ID:      %s\n", sig.SignerTeamID)
	}
	if sig.PassTypeID != "" {
		fprint(w, "  Pass Type ID: %s\n", sig.PassTypeID)
	}
	return nil
}
