package passbundle

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aluedeke/go-passbundle/internal/logger"
)

func newTestPackager(t *testing.T, opts Options) *Packager {
	t.Helper()

	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	if opts.StagingDir == "" {
		opts.StagingDir = t.TempDir()
	}

	var material *CertificateMaterial
	if !opts.SkipSignature {
		material = getTestChain(t).material()
	}

	p, err := New(material, opts)
	require.NoError(t, err)
	return p
}

// TestPackageEndToEnd packages one icon and one English localization
// with a single string and no localized media.
func TestPackageEndToEnd(t *testing.T) {
	t.Parallel()

	c := getTestChain(t)
	p := newTestPackager(t, Options{})

	icon := filepath.Join(t.TempDir(), "icon-source.png")
	writeTestFile(t, icon, "\x89PNG icon")

	pass, err := NewPass([]byte(`{"serialNumber":"ABC123","formatVersion":1}`))
	require.NoError(t, err)
	pass.Images = []Media{{SourcePath: icon, Context: "icon", Extension: "png"}}
	pass.Locales = []Localization{{Language: "en", Strings: map[string]string{"GATE": "A12"}}}

	path, err := p.Package(context.Background(), pass)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(p.Options().OutputDir, "ABC123.pkpass"), path)

	b, err := ReadBundle(path)
	require.NoError(t, err)
	require.Equal(t, []string{
		"en.lproj/",
		"en.lproj/pass.strings",
		"icon.png",
		"manifest.json",
		"pass.json",
		"signature",
	}, b.SortedEntries())

	require.Equal(t, `"GATE" = "A12";`, strings.TrimSpace(string(b.Files["en.lproj/pass.strings"])))
	require.Equal(t, "\x89PNG icon", string(b.Files["icon.png"]))

	manifest, err := b.Manifest()
	require.NoError(t, err)
	require.Equal(t, []string{"en.lproj/pass.strings", "icon.png", "pass.json"}, manifest.Paths())
	for name, digest := range manifest {
		require.Equal(t, DigestBytes(b.Files[name]), digest, name)
	}
	require.NotContains(t, manifest, SignatureFilename)
	require.NotContains(t, manifest, ManifestFilename)

	problems, err := b.VerifyManifest()
	require.NoError(t, err)
	require.Empty(t, problems)

	signature := b.Files[SignatureFilename]
	requireNoMIME(t, signature)
	p7 := verifyDetached(t, c, b.Files[ManifestFilename], signature)
	require.True(t, p7.GetOnlySigner().Equal(c.leaf))

	// Staging is gone.
	_, err = os.Stat(p.StagingPath("ABC123"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestPackageSkipSignature(t *testing.T) {
	t.Parallel()

	p := newTestPackager(t, Options{SkipSignature: true})

	path, err := p.Package(context.Background(), newTestPass(t, "UNSIGNED1"))
	require.NoError(t, err)

	b, err := ReadBundle(path)
	require.NoError(t, err)
	require.NotContains(t, b.Files, SignatureFilename)
	require.Contains(t, b.Files, ManifestFilename)
	for _, name := range b.Entries {
		require.NotEqual(t, SignatureFilename, name)
	}
}

func TestPackageSMIMEFormat(t *testing.T) {
	t.Parallel()

	c := getTestChain(t)
	p := newTestPackager(t, Options{SignatureFormat: SignatureFormatSMIME, BundleExtension: ".pkpasses"})

	path, err := p.Package(context.Background(), newTestPass(t, "SMIME1"))
	require.NoError(t, err)
	require.Equal(t, "SMIME1.pkpasses", filepath.Base(path))

	b, err := ReadBundle(path)
	require.NoError(t, err)
	requireNoMIME(t, b.Files[SignatureFilename])
	verifyDetached(t, c, b.Files[ManifestFilename], b.Files[SignatureFilename])
}

func TestPackageIdempotentWithOverwrite(t *testing.T) {
	t.Parallel()

	p := newTestPackager(t, Options{Overwrite: true})
	pass := newTestPass(t, "AGAIN1")

	first, err := p.Package(context.Background(), pass)
	require.NoError(t, err)
	b1, err := ReadBundle(first)
	require.NoError(t, err)

	second, err := p.Package(context.Background(), pass)
	require.NoError(t, err)
	require.Equal(t, first, second)
	b2, err := ReadBundle(second)
	require.NoError(t, err)

	require.Equal(t, b1.SortedEntries(), b2.SortedEntries())
	m1, err := b1.Manifest()
	require.NoError(t, err)
	m2, err := b2.Manifest()
	require.NoError(t, err)
	require.Equal(t, m1, m2)
	require.Equal(t, b1.Files[ManifestFilename], b2.Files[ManifestFilename])

	// A leftover staging directory from a crashed run is reused, not merged.
	writeTestFile(t, filepath.Join(p.StagingPath("AGAIN1"), "stale.png"), "stale")
	third, err := p.Package(context.Background(), pass)
	require.NoError(t, err)
	b3, err := ReadBundle(third)
	require.NoError(t, err)
	require.Equal(t, b1.SortedEntries(), b3.SortedEntries())
}

func TestPackageEmptySerialHasNoSideEffects(t *testing.T) {
	t.Parallel()

	staging := filepath.Join(t.TempDir(), "staging")
	output := filepath.Join(t.TempDir(), "output")
	p := newTestPackager(t, Options{StagingDir: staging, OutputDir: output})

	_, err := p.Package(context.Background(), newTestPass(t, ""))
	require.Error(t, err)
	require.True(t, IsKind(err, KindValidation))
	require.ErrorIs(t, err, ErrEmptySerialNumber)

	_, err = os.Stat(staging)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(output)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestPackageDirectoryConflict(t *testing.T) {
	t.Parallel()

	p := newTestPackager(t, Options{})
	staged := p.StagingPath("BUSY1")
	writeTestFile(t, filepath.Join(staged, "pass.json"), "someone else's")

	_, err := p.Package(context.Background(), newTestPass(t, "BUSY1"))
	require.Error(t, err)
	require.True(t, IsKind(err, KindDirectoryConflict))
	require.False(t, IsKind(err, KindCleanup))

	// Not removed and not modified.
	require.Equal(t, "someone else's", readTestFile(t, filepath.Join(staged, "pass.json")))
	entries, err := os.ReadDir(staged)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoFileExists(t, p.ArchivePath("BUSY1"))
}

func TestPackageCleansUpAfterFailure(t *testing.T) {
	t.Parallel()

	p := newTestPackager(t, Options{})
	pass := newTestPass(t, "FAIL1")
	pass.Images = append(pass.Images, Media{SourcePath: filepath.Join(t.TempDir(), "missing.png"), Context: "strip", Extension: "png"})

	_, err := p.Package(context.Background(), pass)
	require.Error(t, err)
	require.True(t, IsKind(err, KindIO))

	_, statErr := os.Stat(p.StagingPath("FAIL1"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
	require.NoFileExists(t, p.ArchivePath("FAIL1"))
}

func TestPackageExistingArchive(t *testing.T) {
	t.Parallel()

	p := newTestPackager(t, Options{})
	writeTestFile(t, p.ArchivePath("OLD1"), "old archive")

	_, err := p.Package(context.Background(), newTestPass(t, "OLD1"))
	require.True(t, IsKind(err, KindIO))
	require.Equal(t, "old archive", readTestFile(t, p.ArchivePath("OLD1")))

	_, statErr := os.Stat(p.StagingPath("OLD1"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestPackageCleanupFailure(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("needs unix permissions enforced for the current user")
	}

	// The staging parent becomes read-only once the stage exists, so the
	// archive is still written but the staging directory cannot be removed.
	parent := t.TempDir()
	p := newTestPackager(t, Options{StagingDir: parent, SkipSignature: true})

	pass := &lockingPass{Pass: newTestPass(t, "LOCK1"), dir: parent}
	t.Cleanup(func() { _ = os.Chmod(parent, 0o755) })

	path, err := p.Package(context.Background(), pass)
	require.Error(t, err)
	require.True(t, IsKind(err, KindCleanup))
	require.Equal(t, p.ArchivePath("LOCK1"), path)
	require.FileExists(t, path)
}

// lockingPass makes its staging parent read-only while being serialized.
type lockingPass struct {
	*Pass
	dir string
}

func (l *lockingPass) Serialize() ([]byte, error) {
	if err := os.Chmod(l.dir, 0o555); err != nil {
		return nil, err
	}
	return l.Pass.Serialize()
}

func TestPackageLogs(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

	p := newTestPackager(t, Options{})
	_, err := p.Package(ctx, newTestPass(t, "LOG1"))
	require.NoError(t, err)

	created := logs.FilterMessage("bundle created").All()
	require.Len(t, created, 1)
	require.Equal(t, "passbundle", created[0].LoggerName)
	fields := created[0].ContextMap()
	require.Equal(t, "LOG1", fields["serial"])
	require.Equal(t, p.ArchivePath("LOG1"), fields["path"])

	signed := logs.FilterMessage("manifest signed").All()
	require.Len(t, signed, 1)
	require.Equal(t, testTeamID, signed[0].ContextMap()["team_id"])
}

func TestNewOptions(t *testing.T) {
	t.Parallel()

	c := getTestChain(t)

	p, err := New(c.material(), Options{})
	require.NoError(t, err)
	opts := p.Options()
	require.Equal(t, ".", opts.OutputDir)
	require.Equal(t, os.TempDir(), opts.StagingDir)
	require.Equal(t, DefaultBundleExtension, opts.BundleExtension)
	require.Equal(t, SignatureFormatDER, opts.SignatureFormat)

	_, err = New(nil, Options{})
	require.True(t, IsKind(err, KindSignature))
	require.ErrorIs(t, err, ErrNoCertificate)

	m := c.material()
	m.PrivateKey = c.otherKey
	_, err = New(m, Options{})
	require.True(t, IsKind(err, KindSignature))
	require.ErrorIs(t, err, ErrKeyMismatch)

	_, err = New(c.material(), Options{SignatureFormat: "pem"})
	require.True(t, IsKind(err, KindValidation))

	_, err = New(nil, Options{SkipSignature: true})
	require.NoError(t, err)
}

// TestPackageDistinctSerialsInParallel runs independent packages concurrently.
func TestPackageDistinctSerialsInParallel(t *testing.T) {
	t.Parallel()

	c := getTestChain(t)
	p := newTestPackager(t, Options{})

	serials := []string{"PAR1", "PAR2", "PAR3", "PAR4"}
	passes := make([]*Pass, len(serials))
	for i, serial := range serials {
		passes[i] = newTestPass(t, serial)
	}

	errs := make(chan error, len(serials))
	for _, pass := range passes {
		go func(pass *Pass) {
			_, err := p.Package(context.Background(), pass)
			errs <- err
		}(pass)
	}
	for range serials {
		require.NoError(t, <-errs)
	}

	for _, serial := range serials {
		b, err := ReadBundle(p.ArchivePath(serial))
		require.NoError(t, err)
		p7, err := pkcs7.Parse(b.Files[SignatureFilename])
		require.NoError(t, err)
		p7.Content = b.Files[ManifestFilename]
		require.NoError(t, p7.VerifyWithChain(c.rootPool()))
	}
}
