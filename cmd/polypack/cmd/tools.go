package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oshokin/polypack/internal/archive"
	"github.com/oshokin/polypack/internal/config"
	"github.com/oshokin/polypack/internal/integrity"
	"github.com/oshokin/polypack/internal/logger"
	"github.com/oshokin/polypack/internal/patch"
)

var (
	// signingKey for sign and verify; falls back to POLYPACK_SIGNING_KEY.
	signingKey string
	// sidecarPath overrides <artifact>.sig for sign and verify.
	sidecarPath string

	// diffCmd writes a patch that rebuilds TARGET from SOURCE.
	diffCmd = &cobra.Command{
		Use:   "diff SOURCE TARGET PATCH",
		Short: "Write a patch that turns SOURCE into TARGET.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := patch.CreateFile(args[0], args[1], args[2])
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d entries written to %s\n", entries, args[2])

			return nil
		},
	}

	// patchCmd applies a patch to a file.
	patchCmd = &cobra.Command{
		Use:   "patch INPUT PATCH OUTPUT",
		Short: "Apply PATCH to INPUT and write OUTPUT.",
		Long:  "Applies a patch produced by `polypack diff`. Malformed patch lines are skipped and reported.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := patch.ApplyFile(args[0], args[1], args[2])
			if err != nil {
				return err
			}

			for _, lineErr := range stats.Errors {
				logger.WarnKV(cmd.Context(), "Skipped patch line", "error", lineErr)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d entries applied, %d lines skipped\n", stats.Entries, stats.Skipped)

			return nil
		},
	}

	// signCmd writes a signature record next to an artifact.
	signCmd = &cobra.Command{
		Use:   "sign ARTIFACT",
		Short: "Digest and sign an artifact.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resolveSigningKey()
			if err != nil {
				return err
			}

			record, err := integrity.SignFile(args[0], key)
			if err != nil {
				return err
			}

			target := recordPath(args[0])
			if err = integrity.WriteRecord(target, record); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", record.Digest, target)

			return nil
		},
	}

	// verifyCmd checks an artifact against its signature record.
	verifyCmd = &cobra.Command{
		Use:   "verify ARTIFACT",
		Short: "Check an artifact against its signature record.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resolveSigningKey()
			if err != nil {
				return err
			}

			record, err := integrity.ReadRecord(recordPath(args[0]))
			if err != nil {
				return err
			}

			if err = integrity.VerifyFile(args[0], record, key); err != nil {
				return err
			}

			status := "digest ok"
			if record.Signature != "" {
				status = "signature ok"
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], status)

			return nil
		},
	}

	// inspectCmd prints the manifest and the payload listing of an artifact.
	inspectCmd = &cobra.Command{
		Use:   "inspect ARTIFACT",
		Short: "Print the manifest and contents of an artifact.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := archive.DetectFile(args[0])
			if err != nil {
				return err
			}

			m, err := archive.ReadManifest(args[0])
			if err != nil {
				return err
			}

			headers, err := archive.List(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			_, _ = fmt.Fprintf(out, "format: %s\n", format)

			if err = m.Encode(out); err != nil {
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

			for _, header := range headers {
				name := header.Name
				if header.Dir {
					name += "/"
				}

				_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", header.Mode, header.Size, name)
			}

			return w.Flush()
		},
	}
)

// resolveSigningKey prefers --key over POLYPACK_SIGNING_KEY.
func resolveSigningKey() ([]byte, error) {
	if signingKey != "" {
		return []byte(signingKey), nil
	}

	env, err := config.LoadBuildEnv()
	if err != nil {
		return nil, err
	}

	return []byte(env.SigningKey), nil
}

func recordPath(artifactPath string) string {
	if sidecarPath != "" {
		return sidecarPath
	}

	return integrity.SidecarPath(artifactPath)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	for _, command := range []*cobra.Command{signCmd, verifyCmd} {
		command.Flags().StringVarP(&signingKey, "key", "k", "", "HMAC signing key (default $POLYPACK_SIGNING_KEY)")
		command.Flags().StringVarP(&sidecarPath, "record", "r", "", "signature record path (default ARTIFACT.sig)")
	}

	rootCmd.AddCommand(diffCmd, patchCmd, signCmd, verifyCmd, inspectCmd)
}
