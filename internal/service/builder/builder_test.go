package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/polypack/internal/config"
	"github.com/oshokin/polypack/internal/domain/platform"
)

// fakeRun records invocations and fakes the go command.
type fakeRun struct {
	calls [][]string
	envs  [][]string
	fail  bool
}

func (f *fakeRun) run(_ context.Context, _ string, env []string, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	f.envs = append(f.envs, env)

	if len(args) > 0 && args[0] == "version" {
		return []byte("go version go1.25.1 linux/amd64\n"), nil
	}

	if f.fail {
		return []byte("main.go:3:1: syntax error"), errors.New("exit status 1")
	}

	out := args[slices.Index(args, "-o")+1]

	return nil, os.WriteFile(out, []byte("binary"), 0o755)
}

// TestBuild checks the toolchain invocation and the produced result.
func TestBuild(t *testing.T) {
	t.Parallel()

	fake := new(fakeRun)
	toolchain := NewGoToolchain(withRunner(fake.run), WithGoBinary("go1.25"))

	out := filepath.Join(t.TempDir(), "bin", "linux-aarch64", "hello")

	result, err := toolchain.Build(context.Background(), &Request{
		ProjectDir:  t.TempDir(),
		MainPackage: "./cmd/hello",
		Target:      platform.Target{GOOS: "linux", GOARCH: "arm64"},
		Profile:     config.ProfileRelease,
		Tags:        []string{"netgo", "osusergo"},
		OutputPath:  out,
	})
	require.NoError(t, err)
	require.Equal(t, out, result.Path)
	require.Equal(t, config.ProfileRelease, result.Optimizations)
	require.Equal(t, []string{"format:elf", "cgo:disabled", "go:1.25"}, result.Compatibility)

	require.Equal(t, []string{
		"go1.25", "build", "-o", out, "-trimpath", "-ldflags=-s -w", "-tags=netgo,osusergo", "./cmd/hello",
	}, fake.calls[0])
	require.Contains(t, fake.envs[0], "GOOS=linux")
	require.Contains(t, fake.envs[0], "GOARCH=arm64")
	require.Contains(t, fake.envs[0], "CGO_ENABLED=0")

	// The toolchain version is asked once and memoized.
	_, err = toolchain.ToolchainVersion(context.Background())
	require.NoError(t, err)

	versionCalls := 0

	for _, call := range fake.calls {
		if call[1] == "version" {
			versionCalls++
		}
	}

	require.Equal(t, 1, versionCalls)
}

// TestBuildFailure wraps toolchain errors with ErrBuildFailure.
func TestBuildFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeRun{fail: true}
	toolchain := NewGoToolchain(withRunner(fake.run))

	_, err := toolchain.Build(context.Background(), &Request{
		ProjectDir: t.TempDir(),
		Target:     platform.Target{GOOS: "windows", GOARCH: "amd64"},
		OutputPath: filepath.Join(t.TempDir(), "hello.exe"),
	})
	require.ErrorIs(t, err, ErrBuildFailure)
	require.ErrorContains(t, err, "syntax error")
}

// TestBuildArgs covers profiles.
func TestBuildArgs(t *testing.T) {
	t.Parallel()

	debug := BuildArgs(&Request{OutputPath: "out", Profile: config.ProfileDebug})
	require.Equal(t, []string{"build", "-o", "out", "-gcflags=all=-N -l", "."}, debug)

	size := BuildArgs(&Request{OutputPath: "out", Profile: config.ProfileSize, MainPackage: "./cmd/x"})
	require.Equal(t, []string{"build", "-o", "out", "-trimpath", "-ldflags=-s -w", "./cmd/x"}, size)
}

// TestToolchainParsing covers `go version` output and the compatibility marker.
func TestToolchainParsing(t *testing.T) {
	t.Parallel()

	toolchain, err := ParseToolchainVersion("go version go1.22.4 darwin/arm64")
	require.NoError(t, err)
	require.Equal(t, "go1.22.4", toolchain)

	_, err = ParseToolchainVersion("command not found")
	require.Error(t, err)

	require.Equal(t, "go:1.22", GoMarker("go1.22.4"))
	require.Equal(t, "go:1.25", GoMarker("go1.25rc1"))
	require.Empty(t, GoMarker("devel"))
}

// TestReadModule extracts name, go version and requirements.
func TestReadModule(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	goMod := `module github.com/acme/hello/v2

go 1.22

require (
	github.com/spf13/cobra v1.10.1
	go.uber.org/zap v1.27.0
	go.uber.org/multierr v1.11.0 // indirect
)
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, GoModFilename), []byte(goMod), 0o600))

	module, err := ReadModule(dir)
	require.NoError(t, err)
	require.Equal(t, "github.com/acme/hello/v2", module.Path)
	require.Equal(t, "hello", module.Name)
	require.Equal(t, "1.22", module.GoVersion)
	require.Len(t, module.Requires, 3)
	require.Equal(t, []Requirement{
		{Path: "github.com/spf13/cobra", Version: "v1.10.1"},
		{Path: "go.uber.org/zap", Version: "v1.27.0"},
	}, module.DirectRequirements())

	_, err = ReadModule(t.TempDir())
	require.ErrorIs(t, err, config.ErrConfig)
}

// TestNameFromModulePath strips major version suffixes.
func TestNameFromModulePath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "tool", NameFromModulePath("github.com/acme/tool"))
	require.Equal(t, "tool", NameFromModulePath("github.com/acme/tool/v3"))
	require.Equal(t, "hello", NameFromModulePath("hello"))
}
