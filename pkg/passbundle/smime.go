package passbundle

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// smimeSignatureMarker introduces the signature part of an S/MIME envelope.
const smimeSignatureMarker = `filename="smime.p7s"`

const smimeLineLength = 64

// EncodeSMIME wraps a detached DER signature over content in a
// multipart/signed S/MIME document laid out like OpenSSL's output: the
// content part, then a base64 signature part whose last header is
// Content-Disposition with filename="smime.p7s".
func EncodeSMIME(content, signature []byte) ([]byte, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate MIME boundary: %w", err)
	}
	boundary := "----" + strings.ToUpper(hex.EncodeToString(nonce))

	var buf bytes.Buffer
	buf.WriteString("MIME-Version: 1.0\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/signed; protocol=\"application/x-pkcs7-signature\"; micalg=\"sha-256\"; boundary=\"%s\"\n\n", boundary)
	buf.WriteString("This is an S/MIME signed message\n\n")

	fmt.Fprintf(&buf, "--%s\n", boundary)
	buf.Write(content)
	fmt.Fprintf(&buf, "\n--%s\n", boundary)
	buf.WriteString("Content-Type: application/x-pkcs7-signature; name=\"smime.p7s\"\n")
	buf.WriteString("Content-Transfer-Encoding: base64\n")
	fmt.Fprintf(&buf, "Content-Disposition: attachment; %s\n\n", smimeSignatureMarker)

	encoded := base64.StdEncoding.EncodeToString(signature)
	for len(encoded) > smimeLineLength {
		buf.WriteString(encoded[:smimeLineLength])
		buf.WriteByte('\n')
		encoded = encoded[smimeLineLength:]
	}
	buf.WriteString(encoded)
	fmt.Fprintf(&buf, "\n\n--%s--\n\n", boundary)

	return buf.Bytes(), nil
}

// ExtractSignature returns the raw signature carried by an S/MIME envelope.
//
// The payload starts right after the filename="smime.p7s" header and ends at
// the next line beginning with dashes (the multipart delimiter). The text in
// between is base64 and must decode to a non-empty blob.
func ExtractSignature(envelope []byte) ([]byte, error) {
	text := string(envelope)

	// The signature part comes last; the content part may mention the marker.
	start := strings.LastIndex(text, smimeSignatureMarker)
	if start < 0 {
		return nil, ErrEnvelopeMarker
	}
	rest := text[start+len(smimeSignatureMarker):]

	end := strings.Index(rest, "\n--")
	if end < 0 {
		return nil, ErrEnvelopeBoundary
	}

	payload := strings.Join(strings.Fields(rest[:end]), "")
	signature, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature payload: %w", err)
	}
	if len(signature) == 0 {
		return nil, ErrEmptySignature
	}
	return signature, nil
}

// ExtractSignatureFile replaces the S/MIME envelope stored at path with the
// raw signature it carries.
func ExtractSignatureFile(path string) error {
	return ExtractSignatureTo(path, path)
}

// ExtractSignatureTo reads the S/MIME envelope at src and writes the raw
// signature to dst. src and dst may be the same file.
func ExtractSignatureTo(src, dst string) error {
	envelope, err := os.ReadFile(src)
	if err != nil {
		return newError(KindSignature, "extract signature", src, fmt.Errorf("failed to read envelope: %w", err))
	}

	signature, err := ExtractSignature(envelope)
	if err != nil {
		return newError(KindSignature, "extract signature", src, err)
	}

	if err := os.WriteFile(dst, signature, fileMode); err != nil {
		return newError(KindIO, "extract signature", dst, err)
	}
	return nil
}
