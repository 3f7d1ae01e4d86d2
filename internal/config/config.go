package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the packaging settings.
type Config struct {
	// Certificate is the PKCS#12 file (or PEM key and certificate bundle) used for signing.
	Certificate string `yaml:"certificate"`
	// Password unlocks Certificate.
	Password string `yaml:"password,omitempty"`
	// Intermediate is an optional PEM or DER intermediate certificate.
	// The embedded Apple WWDR certificate is used when empty.
	Intermediate string `yaml:"intermediate,omitempty"`
	// OutputDir receives the finished bundles.
	OutputDir string `yaml:"output_dir"`
	// StagingDir is the parent of the per-serial staging directories.
	StagingDir string `yaml:"staging_dir,omitempty"`
	// BundleExtension is the archive extension without the dot.
	BundleExtension string `yaml:"bundle_extension"`
	// Overwrite allows replacing existing staging directories and bundles.
	Overwrite bool `yaml:"overwrite"`
	// SkipSignature produces unsigned bundles.
	SkipSignature bool `yaml:"skip_signature"`
	// SignatureFormat is "der" or "smime".
	SignatureFormat string `yaml:"signature_format"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is the settings file looked up in the working directory.
	DefaultConfigFilename = "passbundle.yaml"

	// DefaultOutputDir is used when no output directory is configured.
	DefaultOutputDir = "."

	// DefaultBundleExtension is the extension of produced bundles.
	DefaultBundleExtension = "pkpass"

	// DefaultSignatureFormat is used when no format is configured.
	DefaultSignatureFormat = "der"

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the file permission for saved settings, which may hold a password.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errCertificateRequired is returned when signing is enabled without a certificate.
	errCertificateRequired = errors.New("certificate must be provided unless skip_signature is set")
)

// Default returns the settings used when no file exists.
func Default() *Config {
	cfg := new(Config)
	_ = applyDefaults(cfg)
	return cfg
}

// Load reads configuration from the provided path and applies defaults.
// Required fields are checked by Validate once flags have been merged in.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOptional behaves like Load but returns Default when path does not exist.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes cfg to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := applyDefaults(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills in defaults and checks that the settings can drive a packaging run.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if err := applyDefaults(settings); err != nil {
		return err
	}

	if !settings.SkipSignature && settings.Certificate == "" {
		return errCertificateRequired
	}

	return nil
}

func applyDefaults(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.OutputDir == "" {
		settings.OutputDir = DefaultOutputDir
	}

	settings.BundleExtension = strings.TrimPrefix(settings.BundleExtension, ".")
	if settings.BundleExtension == "" {
		settings.BundleExtension = DefaultBundleExtension
	}
	if strings.ContainsAny(settings.BundleExtension, `/\`) {
		return fmt.Errorf("invalid bundle extension %q", settings.BundleExtension)
	}

	settings.SignatureFormat = strings.ToLower(settings.SignatureFormat)
	switch settings.SignatureFormat {
	case "":
		settings.SignatureFormat = DefaultSignatureFormat
	case "der", "smime":
	default:
		return fmt.Errorf("invalid signature format %q", settings.SignatureFormat)
	}

	switch strings.ToLower(settings.LogLevel) {
	case "":
		settings.LogLevel = DefaultLogLevel
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", settings.LogLevel)
	}

	return nil
}
