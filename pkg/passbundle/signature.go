package passbundle

import (
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"go.mozilla.org/pkcs7"
)

// SignatureFormat selects how the signature file is produced.
type SignatureFormat string

const (
	// SignatureFormatDER writes the detached DER signature directly.
	SignatureFormatDER SignatureFormat = "der"
	// SignatureFormatSMIME first writes an S/MIME envelope and then extracts
	// the DER signature from it, matching envelope-producing signers.
	SignatureFormatSMIME SignatureFormat = "smime"
)

// Valid reports whether f is a known format.
func (f SignatureFormat) Valid() bool {
	return f == SignatureFormatDER || f == SignatureFormatSMIME
}

// SignManifest signs the bytes of manifestPath and writes the raw detached
// signature to the "signature" file next to it, replacing any existing one.
func SignManifest(manifestPath string, material *CertificateMaterial, format SignatureFormat) error {
	if format == "" {
		format = SignatureFormatDER
	}
	if !format.Valid() {
		return newError(KindSignature, "sign", manifestPath, fmt.Errorf("unknown signature format %q", format))
	}

	manifest, err := os.ReadFile(manifestPath)
	if err != nil {
		return newError(KindIO, "sign", manifestPath, err)
	}

	der, err := SignDetached(manifest, material)
	if err != nil {
		return newError(KindSignature, "sign", manifestPath, err)
	}

	signaturePath := filepath.Join(filepath.Dir(manifestPath), SignatureFilename)

	if format == SignatureFormatSMIME {
		envelope, err := EncodeSMIME(manifest, der)
		if err != nil {
			return newError(KindSignature, "sign", signaturePath, err)
		}
		if err := os.WriteFile(signaturePath, envelope, fileMode); err != nil {
			return newError(KindIO, "sign", signaturePath, err)
		}
		return ExtractSignatureFile(signaturePath)
	}

	if err := os.WriteFile(signaturePath, der, fileMode); err != nil {
		return newError(KindIO, "sign", signaturePath, err)
	}
	return nil
}

// SignDetached returns a DER-encoded PKCS#7 detached signature over content.
// The signer certificate and the intermediate are embedded in the signature.
func SignDetached(content []byte, material *CertificateMaterial) ([]byte, error) {
	if err := material.Validate(); err != nil {
		return nil, err
	}

	signedData, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("failed to create signed data: %w", err)
	}
	signedData.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	parents := []*x509.Certificate{material.Intermediate}
	if err := signedData.AddSignerChain(material.Certificate, material.PrivateKey, parents, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("failed to add signer chain: %w", err)
	}

	// Detached: the content stays in manifest.json.
	signedData.Detach()

	der, err := signedData.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to finish signing: %w", err)
	}
	if len(der) == 0 {
		return nil, ErrEmptySignature
	}
	return der, nil
}
