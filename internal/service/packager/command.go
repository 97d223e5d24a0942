package packager

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"

	"github.com/oshokin/polypack/internal/archive"
	"github.com/oshokin/polypack/internal/config"
	"github.com/oshokin/polypack/internal/domain/manifest"
	"github.com/oshokin/polypack/internal/domain/platform"
	"github.com/oshokin/polypack/internal/integrity"
	"github.com/oshokin/polypack/internal/logger"
	"github.com/oshokin/polypack/internal/service/builder"
	"github.com/oshokin/polypack/internal/service/common"
)

const (
	// MetadataBuiltByHost records the build host name.
	MetadataBuiltByHost = "built_by_host"
	// MetadataBuiltByUser records the account that ran the build.
	MetadataBuiltByUser = "built_by_user"
	// MetadataLauncherProtocol records the launcher protocol version of the artifact.
	MetadataLauncherProtocol = "launcher_protocol"

	// ArtifactExtension names self-extracting artifacts.
	ArtifactExtension = ".ppack"
	// ZipExtension names plain artifacts.
	ZipExtension = ".zip"

	// defaultVersion is used when neither the flags nor polypack.yaml set one.
	defaultVersion = "0.1.0"
)

var (
	// errOptionsNotSet is returned when Run is called without options.
	errOptionsNotSet = errors.New("packager options are not set")
	// errNameUnknown is returned when no name is configured and go.mod cannot supply one.
	errNameUnknown = errors.New("application name is unknown")
	// errArtifactMismatch is returned when the written artifact does not read back.
	errArtifactMismatch = errors.New("artifact does not match the assembled manifest")
)

// Options contains inputs for the packager entry point.
type Options struct {
	// ProjectDir is the Go module root; defaults to the working directory.
	ProjectDir string
	// Config holds the merged project configuration (flags over polypack.yaml).
	Config *config.Config
	// Builder produces target binaries; defaults to the go command.
	Builder builder.Builder
	// SigningKey signs the artifact digest; when empty only the digest is recorded.
	SigningKey []byte
}

// Result describes a finished package.
type Result struct {
	// ArtifactPath is the written artifact.
	ArtifactPath string
	// SidecarPath is the written signature record.
	SidecarPath string
	// Manifest is the manifest embedded in the artifact.
	Manifest *manifest.Manifest
	// Record is the digest and signature report.
	Record *integrity.Record
}

// packager assembles one artifact.
// It is unexported—callers should use Run, which encapsulates setup and validation.
type packager struct {
	// cfg is the validated project configuration.
	cfg *config.Config
	// projectDir is the absolute module root.
	projectDir string
	// module is the parsed go.mod, nil when unavailable.
	module *builder.Module
	// builder produces binaries.
	builder builder.Builder
	// signingKey is optional.
	signingKey []byte
	// workDir holds build outputs and the payload tree; removed on exit.
	workDir string
}

// Run executes the packaging workflow.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	if opts == nil {
		return nil, errOptionsNotSet
	}

	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "packager")

	pkg, err := newPackager(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("initialize packager: %w", err)
	}

	defer pkg.cleanup(ctx)

	result, err := pkg.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("packager failed: %w", err)
	}

	logger.InfoKV(ctx, "Package created", "artifact", result.ArtifactPath, "digest", result.Record.Digest)

	return result, nil
}

// newPackager resolves the project and the defaults that depend on it.
func newPackager(ctx context.Context, opts *Options) (*packager, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = new(config.Config)
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	projectDir := opts.ProjectDir
	if projectDir == "" {
		projectDir = "."
	}

	projectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}

	pkg := &packager{
		cfg:        cfg,
		projectDir: projectDir,
		builder:    opts.Builder,
		signingKey: opts.SigningKey,
	}

	if pkg.builder == nil {
		pkg.builder = builder.NewGoToolchain()
	}

	module, err := builder.ReadModule(projectDir)
	if err != nil {
		// Metadata extraction is best-effort; only the name is required.
		if cfg.Name == "" {
			return nil, fmt.Errorf("%w: %w", errNameUnknown, err)
		}

		logger.WarnKV(ctx, "Unable to read go.mod, skipping dependency metadata", "error", err)
	}

	pkg.module = module

	return pkg, nil
}

// Run builds, assembles, archives and signs.
func (p *packager) Run(ctx context.Context) (*Result, error) {
	// Nothing is written before the declared assets are known to exist.
	if err := CheckAssets(p.projectDir, p.cfg.Assets); err != nil {
		return nil, err
	}

	targets, err := p.targets()
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "polypack-build-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	p.workDir = workDir

	binaries, err := p.buildTargets(ctx, targets)
	if err != nil {
		return nil, err
	}

	payloadRoot := filepath.Join(workDir, "payload")

	logger.Info(ctx, "Assembling payload")

	m, err := Assemble(ctx, payloadRoot, &AssembleInput{
		Name:        p.name(),
		Version:     p.version(),
		Description: p.cfg.Description,
		ProjectDir:  p.projectDir,
		Binaries:    binaries,
		Assets:      p.cfg.Assets,
		License:     p.cfg.License,
		Features:    p.cfg.Features,
		Metadata:    p.metadata(ctx),
	})
	if err != nil {
		return nil, err
	}

	artifactPath := OutputPath(p.projectDir, p.cfg, p.name())
	format := archive.FormatFromZipFlag(p.cfg.Zip)

	logger.InfoKV(ctx, "Writing artifact", "path", artifactPath, "format", format)

	if err = archive.Write(payloadRoot, artifactPath, format); err != nil {
		return nil, err
	}

	if err = verifyArtifact(artifactPath, m); err != nil {
		_ = os.Remove(artifactPath)
		return nil, err
	}

	return p.sign(ctx, artifactPath, m)
}

// targets parses the configured targets, defaulting to the host.
func (p *packager) targets() ([]platform.Target, error) {
	if len(p.cfg.Targets) == 0 {
		return []platform.Target{builder.HostTarget()}, nil
	}

	targets := make([]platform.Target, 0, len(p.cfg.Targets))

	for _, raw := range p.cfg.Targets {
		target, err := platform.ParseTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrConfig, err)
		}

		targets = append(targets, target)
	}

	return targets, nil
}

// buildTargets runs the build collaborator for each target, one at a time
// and in declared order. The first failure aborts the whole build.
func (p *packager) buildTargets(ctx context.Context, targets []platform.Target) ([]Binary, error) {
	binaries := make([]Binary, 0, len(targets))

	for i, target := range targets {
		plat, arch := target.Normalized()
		label := platform.Label(plat, arch)

		logger.InfoKV(ctx, "Building", "target", target.String(), "step", strconv.Itoa(i+1)+"/"+strconv.Itoa(len(targets)))

		result, err := p.builder.Build(ctx, &builder.Request{
			ProjectDir:  p.projectDir,
			MainPackage: p.cfg.MainPackage,
			Target:      target,
			Profile:     p.cfg.Profile,
			Tags:        p.cfg.Features,
			OutputPath:  filepath.Join(p.workDir, "build", label, p.name()+platform.ExecutableSuffix(plat)),
			Strip:       p.cfg.Strip,
			Compress:    p.cfg.Compress,
		})
		if err != nil {
			return nil, err
		}

		binaries = append(binaries, Binary{
			Platform:      plat,
			Arch:          arch,
			SourcePath:    result.Path,
			Features:      p.cfg.Features,
			Optimizations: result.Optimizations,
			Compatibility: result.Compatibility,
		})
	}

	return binaries, nil
}

// metadata collects the manifest metadata. Every probe is best-effort.
func (p *packager) metadata(ctx context.Context) map[string]string {
	metadata := map[string]string{
		MetadataLauncherProtocol: strconv.Itoa(archive.ProtocolVersion),
	}

	if toolchain, err := p.builder.ToolchainVersion(ctx); err != nil {
		logger.WarnKV(ctx, "Unable to detect toolchain version", "error", err)
	} else {
		metadata[manifest.MetadataToolchainVersion] = toolchain
	}

	if p.module != nil {
		for _, req := range p.module.DirectRequirements() {
			metadata[manifest.MetadataDependencyPrefix+req.Path] = req.Version
		}
	}

	if actor, err := common.DetectActor(); err != nil {
		logger.WarnKV(ctx, "Unable to detect build actor", "error", err)
	} else {
		metadata[MetadataBuiltByHost] = actor.Hostname
		metadata[MetadataBuiltByUser] = actor.Username
	}

	if p.cfg.UpdateURL != "" {
		metadata[manifest.MetadataUpdateURL] = p.cfg.UpdateURL
	}

	// Explicit configuration wins over detected values.
	maps.Copy(metadata, p.cfg.Metadata)

	return metadata
}

// sign records the artifact digest, and its signature when a key is set.
func (p *packager) sign(ctx context.Context, artifactPath string, m *manifest.Manifest) (*Result, error) {
	record, err := integrity.SignFile(artifactPath, p.signingKey)
	if err != nil {
		return nil, err
	}

	sidecarPath := integrity.SidecarPath(artifactPath)
	if err = integrity.WriteRecord(sidecarPath, record); err != nil {
		return nil, err
	}

	if record.Signature == "" {
		logger.InfoKV(ctx, "No signing key given, recorded digest only", "sidecar", sidecarPath)
	}

	return &Result{
		ArtifactPath: artifactPath,
		SidecarPath:  sidecarPath,
		Manifest:     m,
		Record:       record,
	}, nil
}

// cleanup removes the work directory.
func (p *packager) cleanup(ctx context.Context) {
	if p.workDir == "" {
		return
	}

	if err := os.RemoveAll(p.workDir); err != nil {
		logger.WarnKV(ctx, "Unable to remove work dir", "path", p.workDir, "error", err)
	}
}

func (p *packager) name() string {
	if p.cfg.Name != "" {
		return p.cfg.Name
	}

	return p.module.Name
}

func (p *packager) version() string {
	if p.cfg.Version != "" {
		return p.cfg.Version
	}

	return defaultVersion
}

// OutputPath returns the artifact location: the configured output resolved
// against projectDir, or <name>.ppack / <name>.zip in projectDir.
func OutputPath(projectDir string, cfg *config.Config, name string) string {
	output := cfg.Output
	if output == "" {
		extension := ArtifactExtension
		if cfg.Zip {
			extension = ZipExtension
		}

		output = name + extension
	}

	if filepath.IsAbs(output) {
		return filepath.Clean(output)
	}

	return filepath.Join(projectDir, output)
}

// verifyArtifact reads the manifest back from the written artifact.
func verifyArtifact(artifactPath string, m *manifest.Manifest) error {
	stored, err := archive.ReadManifest(artifactPath)
	if err != nil {
		return err
	}

	if stored.InstallationID != m.InstallationID || len(stored.Targets) != len(m.Targets) {
		return fmt.Errorf("%s: %w: %w", artifactPath, archive.ErrArchiveIO, errArtifactMismatch)
	}

	return nil
}
