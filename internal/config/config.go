package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the project-level packaging configuration stored in polypack.yaml.
type Config struct {
	// Name overrides the application name detected from go.mod.
	Name string `yaml:"name,omitempty"`
	// Version is the application version written into the manifest.
	Version string `yaml:"version,omitempty"`
	// Description is an optional human-readable summary.
	Description string `yaml:"description,omitempty"`
	// Output is the artifact path; defaults to <name>.ppack or <name>.zip.
	Output string `yaml:"output,omitempty"`
	// MainPackage is the package passed to `go build` (defaults to ".").
	MainPackage string `yaml:"main_package,omitempty"`
	// Targets lists build targets in GOOS/GOARCH form, built in this order.
	Targets []string `yaml:"targets,omitempty"`
	// Features are build tags enabled for every target.
	Features []string `yaml:"features,omitempty"`
	// Assets are paths relative to the project root copied under assets/.
	Assets []string `yaml:"assets,omitempty"`
	// License is an explicit license file; when empty, well-known names are probed.
	License string `yaml:"license,omitempty"`
	// Profile is the optimization profile: release, debug or size.
	Profile string `yaml:"profile,omitempty"`
	// Strip runs the strip tool on every binary (best-effort).
	Strip bool `yaml:"strip,omitempty"`
	// Compress runs upx on every binary (best-effort).
	Compress bool `yaml:"compress,omitempty"`
	// Zip selects the plain zip encoding instead of the self-extracting one.
	Zip bool `yaml:"zip,omitempty"`
	// UpdateURL is published through manifest metadata for the launcher updater.
	UpdateURL string `yaml:"update_url,omitempty"`
	// Metadata is merged into the manifest metadata verbatim.
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

const (
	// DefaultConfigFilename is the project configuration file probed in the project root.
	DefaultConfigFilename = "polypack.yaml"

	// DefaultFilePermissions is the file permission for configuration files.
	DefaultFilePermissions = 0o600

	// ProfileRelease strips debug information and trims paths.
	ProfileRelease = "release"
	// ProfileDebug keeps symbols and disables optimizations.
	ProfileDebug = "debug"
	// ProfileSize is release plus upx-friendly flags.
	ProfileSize = "size"
)

var (
	// ErrConfig marks malformed project configuration.
	ErrConfig = errors.New("invalid configuration")
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
)

// Load reads configuration from the provided path and validates it.
// A missing file is not an error: an empty Config is returned so that
// flags and go.mod detection can fill it in.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(configPath))
	if errors.Is(err, os.ErrNotExist) {
		return new(Config), nil
	}

	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w: %w", ErrConfig, err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(configPath string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if configPath == "" {
		configPath = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(configPath), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate checks field formats and applies defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Profile == "" {
		cfg.Profile = ProfileRelease
	}

	switch cfg.Profile {
	case ProfileRelease, ProfileDebug, ProfileSize:
	default:
		return fmt.Errorf("profile %q: %w", cfg.Profile, ErrConfig)
	}

	if cfg.MainPackage == "" {
		cfg.MainPackage = "."
	}

	for _, target := range cfg.Targets {
		goos, goarch, ok := strings.Cut(strings.TrimSpace(target), "/")
		if !ok || goos == "" || goarch == "" {
			return fmt.Errorf("target %q must look like GOOS/GOARCH: %w", target, ErrConfig)
		}
	}

	for _, asset := range cfg.Assets {
		clean := path.Clean(filepath.ToSlash(asset))
		if asset == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return fmt.Errorf("asset %q must be relative to the project root: %w", asset, ErrConfig)
		}
	}

	if cfg.UpdateURL != "" {
		if _, err := url.ParseRequestURI(cfg.UpdateURL); err != nil {
			return fmt.Errorf("update url: %w: %w", ErrConfig, err)
		}
	}

	return nil
}
