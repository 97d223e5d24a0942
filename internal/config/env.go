package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// LauncherEnv is the launcher's environment-driven configuration.
type LauncherEnv struct {
	// TempDir is the parent directory for payload extraction.
	TempDir string `env:"POLYPACK_TMPDIR"`
	// LogLevel controls launcher diagnostics; the application output is never affected.
	LogLevel string `env:"POLYPACK_LOG_LEVEL" envDefault:"warn"`
	// HTTPTimeout bounds every request made by the update subcommands.
	HTTPTimeout time.Duration `env:"POLYPACK_HTTP_TIMEOUT" envDefault:"30s"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	return nil
}

// LoadLauncherEnv reads LauncherEnv from the process environment.
func LoadLauncherEnv() (*LauncherEnv, error) {
	var cfg LauncherEnv
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// BuildEnv is the environment-driven configuration of `polypack build`.
type BuildEnv struct {
	// SigningKey is the HMAC key used to sign artifacts; the --sign-key flag wins.
	SigningKey string `env:"POLYPACK_SIGNING_KEY"`
	// LogLevel is the default for --log-level.
	LogLevel string `env:"POLYPACK_LOG_LEVEL" envDefault:"info"`
}

// LoadBuildEnv reads BuildEnv from the process environment.
func LoadBuildEnv() (*BuildEnv, error) {
	var cfg BuildEnv
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
