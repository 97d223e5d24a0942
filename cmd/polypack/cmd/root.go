package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/polypack/internal/config"
	"github.com/oshokin/polypack/internal/logger"
	"github.com/oshokin/polypack/internal/version"
)

var (
	// logLevel of the polypack process itself.
	logLevel string

	// rootCmd represents the base command when called without any subcommands.
	rootCmd = &cobra.Command{
		Use:   "polypack",
		Short: "Package a Go application for several platforms into one artifact.",
		Long: `polypack cross-compiles a Go module for every configured target and bundles
the binaries, assets, license and a manifest into a single artifact.

A self-extracting artifact starts with a POSIX shell launcher and runs on any
supported host directly. A zip artifact is started with "polypack launch".`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return logger.Configure(logLevel)
		},
	}
)

// Execute runs the polypack CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is canceled on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	defaultLevel := "info"
	if env, err := config.LoadBuildEnv(); err == nil && env.LogLevel != "" {
		defaultLevel = env.LogLevel
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaultLevel, "log level: debug, info, warn or error")
}
