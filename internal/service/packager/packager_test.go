package packager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/polypack/internal/archive"
	"github.com/oshokin/polypack/internal/config"
	"github.com/oshokin/polypack/internal/domain/manifest"
	"github.com/oshokin/polypack/internal/domain/platform"
	"github.com/oshokin/polypack/internal/integrity"
	"github.com/oshokin/polypack/internal/service/builder"
)

// fakeBuilder writes a small file per target instead of running the toolchain.
type fakeBuilder struct {
	built   []string
	failOn  string
	version string
}

func (f *fakeBuilder) Build(_ context.Context, req *builder.Request) (*builder.Result, error) {
	f.built = append(f.built, req.Target.String())

	if req.Target.String() == f.failOn {
		return nil, errors.Join(builder.ErrBuildFailure, errors.New("exit status 2"))
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, err
	}

	if err := os.WriteFile(req.OutputPath, []byte("binary for "+req.Target.String()), 0o755); err != nil {
		return nil, err
	}

	p, _ := req.Target.Normalized()

	return &builder.Result{
		Path:          req.OutputPath,
		Compatibility: []string{platform.BinaryFormat(p), "cgo:disabled"},
		Optimizations: req.Profile,
	}, nil
}

func (f *fakeBuilder) ToolchainVersion(context.Context) (string, error) {
	return f.version, nil
}

// newProject lays out a minimal Go project.
func newProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	goMod := "module github.com/acme/hello\n\ngo 1.22\n\nrequire github.com/spf13/cobra v1.10.1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte(goMod), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "web", "static"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "web", "static", "app.css"), []byte("body{}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "conf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conf", "config.yaml"), []byte("a: 1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "LICENSE-MIT"), []byte("MIT License"), 0o644))

	return dir
}

// TestRun builds, archives and signs a three-target package.
func TestRun(t *testing.T) {
	t.Parallel()

	projectDir := newProject(t)
	fake := &fakeBuilder{version: "go1.25.1"}

	cfg := &config.Config{
		Version:   "2.0.0",
		Targets:   []string{"linux/amd64", "windows/amd64", "darwin/arm64"},
		Features:  []string{"netgo"},
		Assets:    []string{"web/static", "conf/config.yaml"},
		UpdateURL: "https://updates.example.com/hello",
		Metadata:  map[string]string{"channel": "beta"},
	}

	result, err := Run(context.Background(), &Options{
		ProjectDir: projectDir,
		Config:     cfg,
		Builder:    fake,
		SigningKey: []byte("secret"),
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(projectDir, "hello.ppack"), result.ArtifactPath)
	require.Equal(t, []string{"linux/amd64", "windows/amd64", "darwin/arm64"}, fake.built)

	m := result.Manifest
	require.Equal(t, "hello", m.Name)
	require.Equal(t, "2.0.0", m.Version)
	require.Equal(t, []string{"netgo"}, m.Features)
	require.Len(t, m.Targets, 3)
	require.Equal(t, "bin/windows-x86_64/hello.exe", m.Targets[1].BinaryPath)
	require.Equal(t, "bin/macos-aarch64/hello", m.Targets[2].BinaryPath)
	require.Equal(t, config.ProfileRelease, m.Targets[0].Optimizations)
	require.Equal(t, "go1.25.1", m.Metadata[manifest.MetadataToolchainVersion])
	require.Equal(t, "v1.10.1", m.Metadata["dependency_github.com/spf13/cobra"])
	require.Equal(t, "https://updates.example.com/hello", m.UpdateURL())
	require.Equal(t, "beta", m.Metadata["channel"])
	require.Equal(t, "1", m.Metadata[MetadataLauncherProtocol])

	stored, err := archive.ReadManifest(result.ArtifactPath)
	require.NoError(t, err)
	require.Equal(t, m, stored)

	dest := t.TempDir()
	_, err = archive.Extract(result.ArtifactPath, dest)
	require.NoError(t, err)

	binary, err := os.ReadFile(filepath.Join(dest, "bin", "windows-x86_64", "hello.exe"))
	require.NoError(t, err)
	require.Equal(t, "binary for windows/amd64", string(binary))

	require.FileExists(t, filepath.Join(dest, "assets", "web", "static", "app.css"))
	require.FileExists(t, filepath.Join(dest, "assets", "config.yaml"))

	license, err := os.ReadFile(filepath.Join(dest, LicenseFilename))
	require.NoError(t, err)
	require.Equal(t, "MIT License", string(license))

	record, err := integrity.ReadRecord(result.SidecarPath)
	require.NoError(t, err)
	require.NoError(t, integrity.VerifyFile(result.ArtifactPath, record, []byte("secret")))
	require.ErrorIs(t, integrity.VerifyFile(result.ArtifactPath, record, []byte("wrong")), integrity.ErrSignature)
}

// TestRunZip honours the zip switch and the explicit output path.
func TestRunZip(t *testing.T) {
	t.Parallel()

	projectDir := newProject(t)
	output := filepath.Join(t.TempDir(), "dist", "hello-latest.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(output), 0o755))

	result, err := Run(context.Background(), &Options{
		ProjectDir: projectDir,
		Config:     &config.Config{Zip: true, Output: output, Targets: []string{"linux/arm64"}},
		Builder:    &fakeBuilder{version: "go1.25.1"},
	})
	require.NoError(t, err)
	require.Equal(t, output, result.ArtifactPath)
	require.Empty(t, result.Record.Signature)

	format, err := archive.DetectFile(output)
	require.NoError(t, err)
	require.Equal(t, archive.FormatZip, format)
}

// TestRunMissingAsset fails before any build or output.
func TestRunMissingAsset(t *testing.T) {
	t.Parallel()

	projectDir := newProject(t)
	fake := &fakeBuilder{version: "go1.25.1"}

	_, err := Run(context.Background(), &Options{
		ProjectDir: projectDir,
		Config:     &config.Config{Assets: []string{"web/missing"}, Targets: []string{"linux/amd64"}},
		Builder:    fake,
	})
	require.ErrorIs(t, err, ErrAssetNotFound)
	require.Empty(t, fake.built)
	requireNoArtifacts(t, projectDir)
}

// TestRunAssetCollision refuses two single-file assets with the same base name.
func TestRunAssetCollision(t *testing.T) {
	t.Parallel()

	projectDir := newProject(t)
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, "deploy"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "deploy", "config.yaml"), []byte("b: 2"), 0o644))

	fake := &fakeBuilder{version: "go1.25.1"}

	_, err := Run(context.Background(), &Options{
		ProjectDir: projectDir,
		Config:     &config.Config{Assets: []string{"conf/config.yaml", "deploy/config.yaml"}, Targets: []string{"linux/amd64"}},
		Builder:    fake,
	})
	require.ErrorIs(t, err, config.ErrConfig)
	require.ErrorContains(t, err, "assets/config.yaml")
	require.Empty(t, fake.built)
	requireNoArtifacts(t, projectDir)
}

// TestCheckAssets accepts sibling directories and rejects files shadowing a directory.
func TestCheckAssets(t *testing.T) {
	t.Parallel()

	projectDir := newProject(t)
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, "web", "templates"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, "other"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "other", "web"), []byte("x"), 0o644))

	require.NoError(t, CheckAssets(projectDir, []string{"web/static", "web/templates", "conf/config.yaml"}))
	require.ErrorIs(t, CheckAssets(projectDir, []string{"web/static", "other/web"}), config.ErrConfig)
	require.ErrorIs(t, CheckAssets(projectDir, []string{"other/web", "web/static"}), config.ErrConfig)
	require.ErrorIs(t, CheckAssets(projectDir, []string{"web/nope"}), ErrAssetNotFound)
}

// TestRunBuildFailure aborts the whole build on the first failing target.
func TestRunBuildFailure(t *testing.T) {
	t.Parallel()

	projectDir := newProject(t)
	fake := &fakeBuilder{version: "go1.25.1", failOn: "windows/amd64"}

	_, err := Run(context.Background(), &Options{
		ProjectDir: projectDir,
		Config:     &config.Config{Targets: []string{"linux/amd64", "windows/amd64", "darwin/arm64"}},
		Builder:    fake,
	})
	require.ErrorIs(t, err, builder.ErrBuildFailure)
	require.Equal(t, []string{"linux/amd64", "windows/amd64"}, fake.built)
	requireNoArtifacts(t, projectDir)
}

// TestRunUnsupportedTarget reports a configuration error.
func TestRunUnsupportedTarget(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), &Options{
		ProjectDir: newProject(t),
		Config:     &config.Config{Targets: []string{"plan9/amd64"}},
		Builder:    &fakeBuilder{},
	})
	require.ErrorIs(t, err, config.ErrConfig)
}

// TestAssembleLicensePlaceholder writes a note when no license exists.
func TestAssembleLicensePlaceholder(t *testing.T) {
	t.Parallel()

	projectDir := t.TempDir()
	source := filepath.Join(projectDir, "hello")
	require.NoError(t, os.WriteFile(source, []byte("bin"), 0o755))

	root := filepath.Join(t.TempDir(), "payload")

	m, err := Assemble(context.Background(), root, &AssembleInput{
		Name:       "hello",
		Version:    "1.0.0",
		ProjectDir: projectDir,
		Binaries:   []Binary{{Platform: platform.Linux, Arch: platform.X86_64, SourcePath: source}},
	})
	require.NoError(t, err)
	require.Len(t, m.Targets, 1)

	license, err := os.ReadFile(filepath.Join(root, LicenseFilename))
	require.NoError(t, err)
	require.Equal(t, licensePlaceholder, string(license))

	// Candidates are tried in order, so LICENSE beats COPYING.
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "COPYING"), []byte("GPL"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "LICENSE"), []byte("BSD"), 0o644))

	root = filepath.Join(t.TempDir(), "payload")

	_, err = Assemble(context.Background(), root, &AssembleInput{
		Name:       "hello",
		Version:    "1.0.0",
		ProjectDir: projectDir,
		Binaries:   []Binary{{Platform: platform.Linux, Arch: platform.X86_64, SourcePath: source}},
	})
	require.NoError(t, err)

	license, err = os.ReadFile(filepath.Join(root, LicenseFilename))
	require.NoError(t, err)
	require.Equal(t, "BSD", string(license))
}

// TestAssembleDuplicateTarget rejects two binaries for one host pair.
func TestAssembleDuplicateTarget(t *testing.T) {
	t.Parallel()

	projectDir := t.TempDir()
	source := filepath.Join(projectDir, "hello")
	require.NoError(t, os.WriteFile(source, []byte("bin"), 0o755))

	binary := Binary{Platform: platform.Linux, Arch: platform.X86_64, SourcePath: source}

	_, err := Assemble(context.Background(), t.TempDir(), &AssembleInput{
		Name:       "hello",
		Version:    "1.0.0",
		ProjectDir: projectDir,
		Binaries:   []Binary{binary, binary},
	})
	require.ErrorIs(t, err, manifest.ErrInvalidManifest)
}

// TestOutputPath covers defaults and explicit outputs.
func TestOutputPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, filepath.Join("/src", "app.ppack"), OutputPath("/src", &config.Config{}, "app"))
	require.Equal(t, filepath.Join("/src", "app.zip"), OutputPath("/src", &config.Config{Zip: true}, "app"))
	require.Equal(t, filepath.Join("/src", "dist", "x.ppack"), OutputPath("/src", &config.Config{Output: "dist/x.ppack"}, "app"))
}

func requireNoArtifacts(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, entry := range entries {
		name := entry.Name()
		require.False(t, strings.HasSuffix(name, ArtifactExtension) || strings.Contains(name, ".tmp-"), name)
	}
}
