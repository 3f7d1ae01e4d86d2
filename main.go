package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docopt/docopt-go"

	"github.com/aluedeke/go-passbundle/internal/config"
	"github.com/aluedeke/go-passbundle/internal/logger"
	"github.com/aluedeke/go-passbundle/pkg/passbundle"
)

const version = "1.0.0"

const usage = `passbundle - Signed Pass Bundle Packager

A command-line tool for packaging pass templates into signed .pkpass bundles.

Usage:
  passbundle package --pass=<dir> [--config=<path>] [--p12=<path>] [--password=<password>] [--wwdr=<path>] [--output=<dir>] [--staging=<dir>] [--format=<format>] [--overwrite] [--skip-signature] [--log-level=<level>]
  passbundle extract-signature --in=<path> [--out=<path>]
  passbundle info --bundle=<path>
  passbundle info --p12=<path> [--password=<password>] [--wwdr=<path>]
  passbundle init [--config=<path>]
  passbundle -h | --help
  passbundle --version

Commands:
  package             Stage, sign and zip a pass template directory
  extract-signature   Convert an S/MIME signature envelope into a raw DER signature
  info                Display information about a bundle or a signing certificate
  init                Write a settings file with default values

Options:
  --pass=<dir>          Pass template directory (pass.json, images, *.lproj)
  --config=<path>       Settings file [default: passbundle.yaml]
  --p12=<path>          PKCS#12 (or PEM) signing identity (or PASSBUNDLE_P12 env var)
  --password=<password> Password for the identity (or PASSBUNDLE_PASSWORD env var)
  --wwdr=<path>         Intermediate certificate, PEM or DER (or PASSBUNDLE_WWDR env var)
  --output=<dir>        Directory receiving the bundle
  --staging=<dir>       Parent directory for staging (defaults to the system temp dir)
  --format=<format>     Signature format: der or smime
  --overwrite           Replace an existing staging directory and bundle
  --skip-signature      Produce an unsigned bundle
  --log-level=<level>   debug, info, warn or error
  --in=<path>           S/MIME envelope to read
  --out=<path>          File receiving the DER signature (defaults to --in)
  --bundle=<path>       Path to a .pkpass bundle
  -h --help             Show this help message
  --version             Show version

Environment Variables:
  PASSBUNDLE_P12        Path to the signing identity (overridden by --p12)
  PASSBUNDLE_PASSWORD   Identity password (overridden by --password)
  PASSBUNDLE_WWDR       Path to the intermediate certificate (overridden by --wwdr)

Examples:
  # Package a pass template
  passbundle package --pass=templates/coupon --p12=pass.p12 --password=secret --output=dist

  # Package using environment variables (useful for CI/CD)
  export PASSBUNDLE_P12=/path/to/pass.p12
  export PASSBUNDLE_PASSWORD=secret
  passbundle package --pass=templates/coupon

  # Rebuild a bundle that was packaged before
  passbundle package --pass=templates/coupon --overwrite

  # Convert an openssl smime output into a raw signature
  passbundle extract-signature --in=signature.smime --out=signature

  # Inspect a bundle
  passbundle info --bundle=dist/ABC123.pkpass

  # Inspect a signing identity
  passbundle info --p12=pass.p12 --password=secret
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if pkg, _ := opts.Bool("package"); pkg {
		err = runPackage(ctx, opts)
	} else if extract, _ := opts.Bool("extract-signature"); extract {
		err = runExtractSignature(opts)
	} else if info, _ := opts.Bool("info"); info {
		err = runInfo(opts)
	} else if initCfg, _ := opts.Bool("init"); initCfg {
		err = runInit(opts)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadSettings reads the settings file and lets flags and environment
// variables override it.
func loadSettings(opts docopt.Opts) (*config.Config, error) {
	configPath, _ := opts.String("--config")

	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return nil, err
	}

	if v := stringOpt(opts, "--p12", "PASSBUNDLE_P12"); v != "" {
		cfg.Certificate = v
	}
	if v := stringOpt(opts, "--password", "PASSBUNDLE_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := stringOpt(opts, "--wwdr", "PASSBUNDLE_WWDR"); v != "" {
		cfg.Intermediate = v
	}
	if v, _ := opts.String("--output"); v != "" {
		cfg.OutputDir = v
	}
	if v, _ := opts.String("--staging"); v != "" {
		cfg.StagingDir = v
	}
	if v, _ := opts.String("--format"); v != "" {
		cfg.SignatureFormat = v
	}
	if v, _ := opts.String("--log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := opts.Bool("--overwrite"); v {
		cfg.Overwrite = true
	}
	if v, _ := opts.Bool("--skip-signature"); v {
		cfg.SkipSignature = true
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringOpt returns the flag value, falling back to the environment variable.
func stringOpt(opts docopt.Opts, flag, env string) string {
	if v, _ := opts.String(flag); v != "" {
		return v
	}
	return os.Getenv(env)
}

func runPackage(ctx context.Context, opts docopt.Opts) error {
	passDir, _ := opts.String("--pass")

	cfg, err := loadSettings(opts)
	if err != nil {
		return err
	}

	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	logger.SetLevel(level)

	var material *passbundle.CertificateMaterial
	if !cfg.SkipSignature {
		material, err = loadMaterial(cfg.Certificate, cfg.Password, cfg.Intermediate)
		if err != nil {
			return err
		}
	}

	packager, err := passbundle.New(material, passbundle.Options{
		OutputDir:       cfg.OutputDir,
		StagingDir:      cfg.StagingDir,
		BundleExtension: cfg.BundleExtension,
		Overwrite:       cfg.Overwrite,
		SkipSignature:   cfg.SkipSignature,
		SignatureFormat: passbundle.SignatureFormat(cfg.SignatureFormat),
	})
	if err != nil {
		return err
	}

	pass, err := passbundle.LoadPass(passDir)
	if err != nil {
		return fmt.Errorf("failed to load pass template: %w", err)
	}

	fmt.Printf("Packaging pass: %s\n", passDir)
	fmt.Printf("Serial number: %s\n", pass.SerialNumber())
	if cfg.SkipSignature {
		fmt.Printf("Signature: skipped\n")
	} else {
		fmt.Printf("Using certificate: %s\n", cfg.Certificate)
		if team := material.TeamID(); team != "" {
			fmt.Printf("Team ID: %s\n", team)
		}
	}
	fmt.Println()

	archivePath, err := packager.Package(ctx, pass)
	if err != nil {
		if passbundle.IsKind(err, passbundle.KindDirectoryConflict) {
			return fmt.Errorf("%w (rerun with --overwrite to replace it)", err)
		}
		if archivePath != "" && passbundle.IsKind(err, passbundle.KindCleanup) {
			fmt.Printf("Created bundle: %s\n", archivePath)
		}
		return err
	}

	fmt.Printf("Successfully created bundle: %s\n", archivePath)
	return nil
}

func loadMaterial(identityPath, password, intermediatePath string) (*passbundle.CertificateMaterial, error) {
	if identityPath == "" {
		return nil, errors.New("--p12 is required (or set PASSBUNDLE_P12 environment variable)")
	}

	identityData, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing identity: %w", err)
	}

	var intermediateData []byte
	if intermediatePath != "" {
		intermediateData, err = os.ReadFile(intermediatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read intermediate certificate: %w", err)
		}
	}

	return passbundle.LoadCertificateMaterial(identityData, password, intermediateData)
}

func runExtractSignature(opts docopt.Opts) error {
	in, _ := opts.String("--in")
	out, _ := opts.String("--out")
	if out == "" {
		out = in
	}

	if err := passbundle.ExtractSignatureTo(in, out); err != nil {
		return err
	}

	fmt.Printf("Wrote signature: %s\n", out)
	return nil
}

func runInfo(opts docopt.Opts) error {
	bundlePath, _ := opts.String("--bundle")
	if bundlePath != "" {
		return showBundleInfo(bundlePath)
	}

	identityPath := stringOpt(opts, "--p12", "PASSBUNDLE_P12")
	if identityPath != "" {
		return showCertificateInfo(identityPath,
			stringOpt(opts, "--password", "PASSBUNDLE_PASSWORD"),
			stringOpt(opts, "--wwdr", "PASSBUNDLE_WWDR"))
	}

	return fmt.Errorf("either --bundle or --p12 is required")
}

func showBundleInfo(bundlePath string) error {
	bundle, err := passbundle.ReadBundle(bundlePath)
	if err != nil {
		return err
	}
	return passbundle.PrintBundleInfo(os.Stdout, bundlePath, bundle)
}

func showCertificateInfo(identityPath, password, intermediatePath string) error {
	material, err := loadMaterial(identityPath, password, intermediatePath)
	if err != nil {
		return err
	}

	cert := material.Certificate
	fmt.Println("Signing Identity Information")
	fmt.Println("============================")
	fmt.Printf("File:           %s\n", identityPath)
	fmt.Printf("Subject:        %s\n", cert.Subject.CommonName)
	fmt.Printf("Team ID:        %s\n", material.TeamID())
	fmt.Printf("Pass Type ID:   %s\n", material.PassTypeID())
	fmt.Printf("Serial:         %s\n", cert.SerialNumber.String())
	fmt.Printf("Expires:        %s\n", cert.NotAfter.Format("2006-01-02 15:04:05"))
	fmt.Println()
	fmt.Println("Intermediate:")
	fmt.Printf("  %s\n", material.Intermediate.Subject.CommonName)
	fmt.Printf("  Expires: %s\n", material.Intermediate.NotAfter.Format("2006-01-02"))
	return nil
}

func runInit(opts docopt.Opts) error {
	configPath, _ := opts.String("--config")
	if configPath == "" {
		configPath = config.DefaultConfigFilename
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	if err := config.Save(configPath, config.Default()); err != nil {
		return err
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		abs = configPath
	}
	fmt.Printf("Wrote settings: %s\n", abs)
	return nil
}
