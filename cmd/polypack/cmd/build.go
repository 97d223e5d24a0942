package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oshokin/polypack/internal/config"
	"github.com/oshokin/polypack/internal/service/packager"
	"github.com/oshokin/polypack/internal/service/watcher"
)

// buildFlags are the `polypack build` overrides of polypack.yaml.
type buildFlags struct {
	configPath  string
	output      string
	version     string
	mainPackage string
	profile     string
	updateURL   string
	signingKey  string
	targets     []string
	features    []string
	assets      []string
	zip         bool
	strip       bool
	compress    bool
	watch       bool
}

var (
	// build holds the parsed build flags.
	build buildFlags

	// buildCmd packages the module in the given directory.
	buildCmd = &cobra.Command{
		Use:   "build [project-dir]",
		Short: "Build every target and write the artifact.",
		Long: `Builds the Go module in project-dir (the working directory by default) for each
configured target, assembles the payload and writes the artifact with its
signature record. Flags override polypack.yaml.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			projectDir := "."
			if len(args) > 0 {
				projectDir = args[0]
			}

			options, err := buildOptions(cmd, projectDir)
			if err != nil {
				return err
			}

			result, err := packager.Run(ctx, options)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", result.ArtifactPath)

			if !build.watch {
				return nil
			}

			return watcher.Run(ctx, &watcher.Options{
				Root:   options.ProjectDir,
				Ignore: []string{result.ArtifactPath, result.SidecarPath},
				Rebuild: func(ctx context.Context) error {
					_, rebuildErr := packager.Run(ctx, options)
					return rebuildErr
				},
			})
		},
	}
)

// buildOptions merges polypack.yaml, the environment and the flags.
func buildOptions(cmd *cobra.Command, projectDir string) (*packager.Options, error) {
	configPath := build.configPath
	if configPath == "" {
		configPath = filepath.Join(projectDir, config.DefaultConfigFilename)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	flags := cmd.Flags()

	setString := func(name string, target *string, value string) {
		if flags.Changed(name) {
			*target = value
		}
	}

	setBool := func(name string, target *bool, value bool) {
		if flags.Changed(name) {
			*target = value
		}
	}

	setString("output", &cfg.Output, build.output)
	setString("version", &cfg.Version, build.version)
	setString("main-package", &cfg.MainPackage, build.mainPackage)
	setString("profile", &cfg.Profile, build.profile)
	setString("update-url", &cfg.UpdateURL, build.updateURL)
	setBool("zip", &cfg.Zip, build.zip)
	setBool("strip", &cfg.Strip, build.strip)
	setBool("compress", &cfg.Compress, build.compress)

	if flags.Changed("target") {
		cfg.Targets = build.targets
	}

	if flags.Changed("feature") {
		cfg.Features = build.features
	}

	if flags.Changed("asset") {
		cfg.Assets = build.assets
	}

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	env, err := config.LoadBuildEnv()
	if err != nil {
		return nil, err
	}

	key := env.SigningKey
	if build.signingKey != "" {
		key = build.signingKey
	}

	return &packager.Options{
		ProjectDir: projectDir,
		Config:     cfg,
		SigningKey: []byte(key),
	}, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := buildCmd.Flags()
	flags.StringVarP(&build.configPath, "config", "c", "", "path to polypack.yaml (default <project-dir>/polypack.yaml)")
	flags.StringVarP(&build.output, "output", "o", "", "artifact path")
	flags.StringVar(&build.version, "version", "", "application version")
	flags.StringVar(&build.mainPackage, "main-package", "", "package passed to go build")
	flags.StringVar(&build.profile, "profile", "", "optimization profile: release, debug or size")
	flags.StringVar(&build.updateURL, "update-url", "", "update host published in the manifest")
	flags.StringVar(&build.signingKey, "sign-key", "", "HMAC signing key (default $POLYPACK_SIGNING_KEY)")
	flags.StringSliceVarP(&build.targets, "target", "t", nil, "build target in GOOS/GOARCH form, repeatable")
	flags.StringSliceVar(&build.features, "feature", nil, "build tag, repeatable")
	flags.StringSliceVar(&build.assets, "asset", nil, "asset path relative to the project, repeatable")
	flags.BoolVar(&build.zip, "zip", false, "write a zip artifact instead of a self-extracting one")
	flags.BoolVar(&build.strip, "strip", false, "strip binaries (best-effort)")
	flags.BoolVar(&build.compress, "compress", false, "compress binaries with upx (best-effort)")
	flags.BoolVarP(&build.watch, "watch", "w", false, "rebuild on source changes until interrupted")

	rootCmd.AddCommand(buildCmd)
}
