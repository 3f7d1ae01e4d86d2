package passbundle

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testTeamID     = "ABCDE12345"
	testPassTypeID = "pass.com.example.boarding"
)

// testChain is a throwaway root -> intermediate -> leaf hierarchy.
type testChain struct {
	rootKey  *rsa.PrivateKey
	root     *x509.Certificate
	interKey *rsa.PrivateKey
	inter    *x509.Certificate
	leafKey  *rsa.PrivateKey
	leaf     *x509.Certificate
	otherKey *rsa.PrivateKey
}

var (
	chainOnce sync.Once
	chain     *testChain
	chainErr  error
)

// getTestChain generates the certificate chain once per test binary.
func getTestChain(t *testing.T) *testChain {
	t.Helper()

	chainOnce.Do(func() {
		chain, chainErr = newTestChain()
	})
	require.NoError(t, chainErr)
	return chain
}

func newTestChain() (*testChain, error) {
	c := &testChain{}
	keys := make([]*rsa.PrivateKey, 4)
	for i := range keys {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	c.rootKey, c.interKey, c.leafKey, c.otherKey = keys[0], keys[1], keys[2], keys[3]

	notBefore := time.Now().Add(-time.Hour)
	notAfter := time.Now().Add(24 * time.Hour)

	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root CA", Organization: []string{"Example"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	var err error
	c.root, err = createCert(rootTmpl, rootTmpl, &c.rootKey.PublicKey, c.rootKey)
	if err != nil {
		return nil, err
	}

	interTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "Test Worldwide Developer Relations", OrganizationalUnit: []string{"G3"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	c.inter, err = createCert(interTmpl, c.root, &c.interKey.PublicKey, c.rootKey)
	if err != nil {
		return nil, err
	}

	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject: pkix.Name{
			CommonName:         "Pass Type ID: " + testPassTypeID,
			OrganizationalUnit: []string{testTeamID},
			Organization:       []string{"Example Airlines"},
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: oidUserID, Value: testPassTypeID},
			},
		},
		NotBefore:   notBefore,
		NotAfter:    notAfter,
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	c.leaf, err = createCert(leafTmpl, c.inter, &c.leafKey.PublicKey, c.interKey)
	if err != nil {
		return nil, err
	}

	return c, nil
}

func createCert(tmpl, parent *x509.Certificate, pub *rsa.PublicKey, signer *rsa.PrivateKey) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// material returns signing material for the leaf certificate.
func (c *testChain) material() *CertificateMaterial {
	return &CertificateMaterial{
		PrivateKey:   c.leafKey,
		Certificate:  c.leaf,
		Intermediate: c.inter,
	}
}

// rootPool returns a pool trusting only the test root.
func (c *testChain) rootPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(c.root)
	return pool
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// newTestPass builds the boarding pass used across the tests: two images at
// the root and an English localization with one image.
func newTestPass(t *testing.T, serial string) *Pass {
	t.Helper()

	src := t.TempDir()
	writeTestFile(t, filepath.Join(src, "icon.png"), "icon-bytes")
	writeTestFile(t, filepath.Join(src, "logo-hd.png"), "logo-hd-bytes")
	writeTestFile(t, filepath.Join(src, "logo-en.png"), "logo-en-bytes")

	doc := `{"formatVersion":1,"passTypeIdentifier":"` + testPassTypeID + `","serialNumber":"` + serial + `","teamIdentifier":"` + testTeamID + `"}`
	pass, err := NewPass([]byte(doc))
	require.NoError(t, err)

	pass.Images = []Media{
		{SourcePath: filepath.Join(src, "icon.png"), Context: "icon", Extension: "png"},
		{SourcePath: filepath.Join(src, "logo-hd.png"), Context: "logo", HighDensity: true, Extension: "png"},
	}
	pass.Locales = []Localization{{
		Language: "en",
		Strings:  map[string]string{"GATE": "Gate", "SEAT": "Seat"},
		Media: []Media{
			{SourcePath: filepath.Join(src, "logo-en.png"), Context: "logo", Extension: "png"},
		},
	}}
	return pass
}

// stubPass is a PassContent whose parts are set directly by the test.
type stubPass struct {
	serial  string
	payload []byte
	err     error
	media   []Media
	locs    []Localization
}

func (s *stubPass) SerialNumber() string          { return s.serial }
func (s *stubPass) Serialize() ([]byte, error)    { return s.payload, s.err }
func (s *stubPass) Media() []Media                { return s.media }
func (s *stubPass) Localizations() []Localization { return s.locs }
