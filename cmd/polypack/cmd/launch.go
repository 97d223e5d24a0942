package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/polypack/internal/service/launcher"
)

// launchCmd runs an artifact through the native launcher.
var launchCmd = &cobra.Command{
	Use:   "launch ARTIFACT [args...]",
	Short: "Run the binary of an artifact that matches this host.",
	Long: `Extracts the artifact, resolves the binary for this host and runs it with the
remaining arguments. The first argument may instead be --polypack-check-update,
--polypack-update or --polypack-self-replace PATH. Launcher diagnostics are
controlled by POLYPACK_LOG_LEVEL.

The shell launcher at the front of a self-extracting artifact hands the
update flags to this command. Without polypack on PATH it only prints a note
and exits 0, so an artifact run on its own cannot update itself.`,
	Args:               cobra.MinimumNArgs(1),
	DisableFlagParsing: true,
	// Flags of the application must reach it untouched.
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return nil
	},
	Run: func(_ *cobra.Command, args []string) {
		ctx, stop := signalContext()

		code := launcher.Run(ctx, &launcher.Options{
			ArtifactPath: args[0],
			Args:         args[1:],
		})

		stop()
		os.Exit(code)
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(launchCmd)
}
