package passbundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/aluedeke/go-passbundle/internal/logger"
)

// Options configures a Packager.
type Options struct {
	// OutputDir receives the finished archive. Defaults to the working directory.
	OutputDir string
	// StagingDir is the parent of the per-serial staging directories.
	// Defaults to os.TempDir().
	StagingDir string
	// BundleExtension is the archive file extension without the dot.
	// Defaults to DefaultBundleExtension.
	BundleExtension string
	// Overwrite allows reusing an existing staging directory and replacing
	// an existing archive.
	Overwrite bool
	// SkipSignature produces an unsigned bundle with no signature file.
	SkipSignature bool
	// SignatureFormat selects how the signature is produced. Defaults to SignatureFormatDER.
	SignatureFormat SignatureFormat
}

// Packager turns pass content into signed bundles. Its configuration is fixed
// at construction; a Packager may be used for any number of Package calls,
// but calls for the same serial number must not overlap.
type Packager struct {
	material *CertificateMaterial
	opts     Options
}

// New returns a Packager signing with material. material may be nil only
// when opts.SkipSignature is set.
func New(material *CertificateMaterial, opts Options) (*Packager, error) {
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.StagingDir == "" {
		opts.StagingDir = os.TempDir()
	}
	opts.BundleExtension = strings.TrimPrefix(opts.BundleExtension, ".")
	if opts.BundleExtension == "" {
		opts.BundleExtension = DefaultBundleExtension
	}
	if opts.SignatureFormat == "" {
		opts.SignatureFormat = SignatureFormatDER
	}
	if !opts.SignatureFormat.Valid() {
		return nil, newError(KindValidation, "configure", "", fmt.Errorf("unknown signature format %q", opts.SignatureFormat))
	}

	if !opts.SkipSignature {
		if material == nil {
			return nil, newError(KindSignature, "configure", "", ErrNoCertificate)
		}
		if err := material.Validate(); err != nil {
			return nil, newError(KindSignature, "configure", "", err)
		}
	}

	return &Packager{material: material, opts: opts}, nil
}

// Options returns the effective configuration, defaults applied.
func (p *Packager) Options() Options {
	return p.opts
}

// StagingPath returns the staging directory used for serial.
func (p *Packager) StagingPath(serial string) string {
	return filepath.Join(p.opts.StagingDir, serial)
}

// ArchivePath returns the archive path produced for serial.
func (p *Packager) ArchivePath(serial string) string {
	return filepath.Join(p.opts.OutputDir, serial+"."+p.opts.BundleExtension)
}

// Package stages pass, writes its manifest, signs it unless signing is
// skipped, and zips the result into <OutputDir>/<serial>.<ext>. It returns
// the archive path.
//
// The staging directory is removed on every path once this call has created
// it. A failed removal is reported as a KindCleanup error combined with the
// pipeline error; when the archive was built, its path is still returned.
func (p *Packager) Package(ctx context.Context, pass PassContent) (archivePath string, err error) {
	if err := validatePass(pass); err != nil {
		return "", err
	}

	serial := pass.SerialNumber()
	ctx = logger.WithKV(logger.WithName(ctx, "passbundle"), "serial", serial)

	stagingDir := p.StagingPath(serial)
	if err := prepareStagingDir(stagingDir, p.opts.Overwrite); err != nil {
		return "", err
	}
	logger.DebugKV(ctx, "staging directory ready", "path", stagingDir)

	defer func() {
		if rmErr := os.RemoveAll(stagingDir); rmErr != nil {
			logger.WarnKV(ctx, "failed to remove staging directory", "path", stagingDir, "error", rmErr)
			err = multierr.Append(err, newError(KindCleanup, "cleanup", stagingDir, rmErr))
		}
	}()

	if err := writeBundleContents(pass, stagingDir); err != nil {
		return "", err
	}
	logger.DebugKV(ctx, "bundle staged",
		"media", len(pass.Media()),
		"localizations", len(pass.Localizations()))

	manifest, err := WriteManifest(stagingDir)
	if err != nil {
		return "", err
	}
	logger.DebugKV(ctx, "manifest written", "files", len(manifest))

	if p.opts.SkipSignature {
		logger.InfoKV(ctx, "signature skipped")
	} else {
		manifestPath := filepath.Join(stagingDir, ManifestFilename)
		if err := SignManifest(manifestPath, p.material, p.opts.SignatureFormat); err != nil {
			return "", err
		}
		logger.DebugKV(ctx, "manifest signed",
			"format", p.opts.SignatureFormat,
			"team_id", p.material.TeamID(),
			"pass_type_id", p.material.PassTypeID())
	}

	if err := os.MkdirAll(p.opts.OutputDir, dirMode); err != nil {
		return "", newError(KindIO, "archive", p.opts.OutputDir, fmt.Errorf("failed to create output directory: %w", err))
	}

	archivePath = p.ArchivePath(serial)
	if err := BuildArchive(stagingDir, archivePath, p.opts.Overwrite); err != nil {
		return "", err
	}
	logger.InfoKV(ctx, "bundle created", "path", archivePath)

	return archivePath, nil
}
