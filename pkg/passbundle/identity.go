package passbundle

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	gop12 "software.sslmate.com/src/go-pkcs12"
)

// Apple Worldwide Developer Relations Certification Authority - G3 (DER, base64).
// Used as the intermediate when neither the caller nor the PKCS#12 file supplies one.
const appleWWDRG3Base64 = `MIIEUTCCAzmgAwIBAgIQfK9pCiW3Of57m0R6wXjF7jANBgkqhkiG9w0BAQsFADBiMQswCQYDVQQGEwJVUzETMBEGA1UEChMKQXBwbGUgSW5jLjEmMCQGA1UECxMdQXBwbGUgQ2VydGlmaWNhdGlvbiBBdXRob3JpdHkxFjAUBgNVBAMTDUFwcGxlIFJvb3QgQ0EwHhcNMjAwMjE5MTgxMzQ3WhcNMzAwMjIwMDAwMDAwWjB1MUQwQgYDVQQDDDtBcHBsZSBXb3JsZHdpZGUgRGV2ZWxvcGVyIFJlbGF0aW9ucyBDZXJ0aWZpY2F0aW9uIEF1dGhvcml0eTELMAkGA1UECwwCRzMxEzARBgNVBAoMCkFwcGxlIEluYy4xCzAJBgNVBAYTAlVTMIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEA2PWJ/KhZC4fHTJEuLVaQ03gdpDDppUjvC0O/LYT7JF1FG+XrWTYSXFRknmxiLbTGl8rMPPbWBpH85QKmHGq0edVny6zpPwcR4YS8Rx1mjjmi6LRJ7TrS4RBgeo6TjMrA2gzAg9Dj+ZHWp4zIwXPirkbRYp2SqJBgN31ols2N4Pyb+ni743uvLRfdW/6AWSN1F7gSwe0b5TTO/iK1nkmw5VW/j4SiPKi6xYaVFuQAyZ8D0MyzOhZ71gVcnetHrg21LYwOaU1A0EtMOwSejSGxrC5DVDDOwYqGlJhL32oNP/77HK6XF8J4CjDgXx9UO0m3JQAaN4LSVpelUkl8YDib7wIDAQABo4HvMIHsMBIGA1UdEwEB/wQIMAYBAf8CAQAwHwYDVR0jBBgwFoAUK9BpR5R2Cf70a40uQKb3R01/CF4wRAYIKwYBBQUHAQEEODA2MDQGCCsGAQUFBzABhihodHRwOi8vb2NzcC5hcHBsZS5jb20vb2NzcDAzLWFwcGxlcm9vdGNhMC4GA1UdHwQnMCUwI6AhoB+GHWh0dHA6Ly9jcmwuYXBwbGUuY29tL3Jvb3QuY3JsMB0GA1UdDgQWBBQJ/sAVkPmvZAqSErkmKGMMl+ynsjAOBgNVHQ8BAf8EBAMCAQYwEAYKKoZIhvdjZAYCAQQCBQAwDQYJKoZIhvcNAQELBQADggEBAK1lE+j24IF3RAJHQr5fpTkg6mKp/cWQyXMT1Z6b0KoPjY3L7QHPbChAW8dVJEH4/M/BtSPp3Ozxb8qAHXfCxGFJJWevD8o5Ja3T43rMMygNDi6hV0Bz+uZcrgZRKe3jhQxPYdwyFot30ETKXXIDMUacrptAGvr04NM++i+MZp+XxFRZ79JI9AeZSWBZGcfdlNHAwWx/eCHvDOs7bJmCS1JgOLU5gm3sUjFTvg+RTElJdI+mUcuER04ddSduvfnSXPN/wmwLCTbiZOTCNwMUGdXqapSqqdv+9poIZ4vvK7iqF0mDr8/LvOnP6pVxsLRFoszlh6oKw0E6eVzaUDSdlTs=`

// oidUserID is the subject attribute carrying the pass type identifier.
var oidUserID = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}

// CertificateMaterial is the decoded signing identity: the private key, its
// certificate and the intermediate that issued the certificate.
type CertificateMaterial struct {
	PrivateKey   crypto.PrivateKey
	Certificate  *x509.Certificate
	Intermediate *x509.Certificate
}

// LoadCertificateMaterial decodes a signing identity from a PKCS#12 file, or
// from a PEM bundle holding the private key and certificate. intermediateData
// may be PEM or DER; when empty, the first CA certificate of the PKCS#12 file
// is used, falling back to Apple WWDR G3.
func LoadCertificateMaterial(identityData []byte, password string, intermediateData []byte) (*CertificateMaterial, error) {
	var (
		material *CertificateMaterial
		caCerts  []*x509.Certificate
		err      error
	)

	if bytes.Contains(identityData, []byte("-----BEGIN")) {
		material, err = loadPEMIdentity(identityData)
	} else {
		var (
			key  interface{}
			cert *x509.Certificate
		)
		key, cert, caCerts, err = gop12.DecodeChain(identityData, password)
		if err != nil {
			err = fmt.Errorf("failed to decode P12: %w", err)
		}
		material = &CertificateMaterial{PrivateKey: key, Certificate: cert}
	}
	if err != nil {
		return nil, err
	}

	switch {
	case len(intermediateData) > 0:
		material.Intermediate, err = parseCertificate(intermediateData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse intermediate certificate: %w", err)
		}
	case len(caCerts) > 0:
		material.Intermediate = caCerts[0]
	default:
		material.Intermediate, err = defaultIntermediate()
		if err != nil {
			return nil, err
		}
	}

	if err := material.Validate(); err != nil {
		return nil, err
	}

	return material, nil
}

// loadPEMIdentity reads the first private key and first certificate of a PEM bundle.
func loadPEMIdentity(pemData []byte) (*CertificateMaterial, error) {
	material := &CertificateMaterial{}

	for rest := pemData; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		var err error
		switch block.Type {
		case "CERTIFICATE":
			if material.Certificate == nil {
				material.Certificate, err = x509.ParseCertificate(block.Bytes)
			}
		case "RSA PRIVATE KEY":
			material.PrivateKey, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		case "PRIVATE KEY":
			material.PrivateKey, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		case "EC PRIVATE KEY":
			material.PrivateKey, err = x509.ParseECPrivateKey(block.Bytes)
		case "ENCRYPTED PRIVATE KEY":
			return nil, fmt.Errorf("encrypted PEM keys are not supported, use a P12 file")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse PEM block %q: %w", block.Type, err)
		}
	}

	if material.PrivateKey == nil {
		return nil, fmt.Errorf("no private key found in PEM data")
	}
	if material.Certificate == nil {
		return nil, fmt.Errorf("no certificate found in PEM data")
	}
	return material, nil
}

func parseCertificate(data []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	return x509.ParseCertificate(data)
}

func defaultIntermediate() (*x509.Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(appleWWDRG3Base64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Apple WWDR G3: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Apple WWDR G3: %w", err)
	}
	return cert, nil
}

// Validate checks that all parts are present and that the key belongs to the certificate.
func (m *CertificateMaterial) Validate() error {
	if m == nil || m.PrivateKey == nil || m.Certificate == nil {
		return ErrNoCertificate
	}
	if m.Intermediate == nil {
		return errors.New("intermediate certificate is required")
	}
	if !keyMatchesCert(m.PrivateKey, m.Certificate) {
		return ErrKeyMismatch
	}
	return nil
}

// TeamID returns the 10 character team identifier from the certificate's organizational unit.
func (m *CertificateMaterial) TeamID() string {
	if m == nil || m.Certificate == nil {
		return ""
	}
	for _, ou := range m.Certificate.Subject.OrganizationalUnit {
		if len(ou) == 10 {
			return ou
		}
	}
	return ""
}

// PassTypeID returns the pass type identifier stored in the certificate
// subject's UID attribute, e.g. "pass.com.example.boarding".
func (m *CertificateMaterial) PassTypeID() string {
	if m == nil || m.Certificate == nil {
		return ""
	}
	for _, name := range m.Certificate.Subject.Names {
		if name.Type.Equal(oidUserID) {
			if s, ok := name.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}

// keyMatchesCert checks if a private key matches a certificate's public key
func keyMatchesCert(privateKey crypto.PrivateKey, cert *x509.Certificate) bool {
	signer, ok := privateKey.(crypto.Signer)
	if !ok {
		return false
	}
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	return ok && pub.Equal(cert.PublicKey)
}
