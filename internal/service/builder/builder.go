package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/oshokin/polypack/internal/config"
	"github.com/oshokin/polypack/internal/domain/platform"
	"github.com/oshokin/polypack/internal/logger"
)

// ErrBuildFailure is returned when the toolchain fails for a target.
// It aborts the whole multi-target build.
var ErrBuildFailure = errors.New("build failure")

// errUnexpectedToolchainOutput is returned when `go version` prints something unparsable.
var errUnexpectedToolchainOutput = errors.New("unexpected toolchain output")

// outputTailSize bounds the toolchain output quoted in a build error.
const outputTailSize = 2048

// Request describes one target build.
type Request struct {
	// ProjectDir is the module root the toolchain runs in.
	ProjectDir string
	// MainPackage is the package to build, relative to ProjectDir.
	MainPackage string
	// Target is the GOOS/GOARCH pair.
	Target platform.Target
	// Profile is one of the config.Profile* values.
	Profile string
	// Tags are build tags enabled for this binary.
	Tags []string
	// OutputPath is where the binary is written.
	OutputPath string
	// Strip runs the strip tool after the build (best-effort).
	Strip bool
	// Compress runs upx after the build (best-effort).
	Compress bool
}

// Result describes a produced binary.
type Result struct {
	// Path is the binary location, equal to Request.OutputPath.
	Path string
	// Compatibility lists ABI markers for the manifest entry.
	Compatibility []string
	// Optimizations is the profile tag recorded in the manifest entry.
	Optimizations string
}

// Builder produces target binaries. The packager depends on this interface
// so that tests can substitute the toolchain.
type Builder interface {
	// Build produces one binary; a failure wraps ErrBuildFailure.
	Build(ctx context.Context, req *Request) (*Result, error)
	// ToolchainVersion reports the toolchain version, e.g. "go1.25.1".
	ToolchainVersion(ctx context.Context) (string, error)
}

// runFunc executes a command and returns its combined output.
type runFunc func(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)

// GoToolchain builds with the go command found on PATH.
type GoToolchain struct {
	// goBinary is the go command to run.
	goBinary string
	// run executes commands; replaced in tests.
	run runFunc
	// cachedVersion memoizes ToolchainVersion.
	cachedVersion string
}

// Option configures GoToolchain.
type Option func(*GoToolchain)

// WithGoBinary overrides the go command.
func WithGoBinary(name string) Option {
	return func(g *GoToolchain) {
		if name != "" {
			g.goBinary = name
		}
	}
}

// withRunner replaces command execution.
func withRunner(run runFunc) Option {
	return func(g *GoToolchain) {
		g.run = run
	}
}

// NewGoToolchain returns a Builder backed by the go command.
func NewGoToolchain(opts ...Option) *GoToolchain {
	g := &GoToolchain{
		goBinary: "go",
		run:      runCommand,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Build runs `go build` for req.Target and applies the optional post-processing steps.
func (g *GoToolchain) Build(ctx context.Context, req *Request) (*Result, error) {
	ctx = logger.WithKV(ctx, "target", req.Target.String())

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), platformDirMode); err != nil {
		return nil, fmt.Errorf("prepare output dir: %w", err)
	}

	args := BuildArgs(req)
	env := BuildEnv(req.Target)

	logger.InfoKV(ctx, "Building target", "profile", req.Profile, "tags", strings.Join(req.Tags, ","))
	logger.DebugKV(ctx, "Toolchain invocation", "command", g.goBinary+" "+strings.Join(args, " "))

	output, err := g.run(ctx, req.ProjectDir, env, g.goBinary, args...)
	if err != nil {
		return nil, fmt.Errorf("go build %s: %w: %w\n%s", req.Target, ErrBuildFailure, err, tail(output))
	}

	if _, err = os.Stat(req.OutputPath); err != nil {
		return nil, fmt.Errorf("go build %s produced no binary: %w: %w", req.Target, ErrBuildFailure, err)
	}

	if req.Strip {
		g.bestEffort(ctx, req, "strip", stripArgs(req)...)
	}

	if req.Compress || req.Profile == config.ProfileSize {
		g.bestEffort(ctx, req, "upx", "-q", "--best", req.OutputPath)
	}

	compatibility := []string{
		platform.BinaryFormat(platformOf(req.Target)),
		"cgo:disabled",
	}

	if toolchain, err := g.ToolchainVersion(ctx); err == nil {
		if marker := GoMarker(toolchain); marker != "" {
			compatibility = append(compatibility, marker)
		}
	}

	return &Result{
		Path:          req.OutputPath,
		Compatibility: compatibility,
		Optimizations: req.Profile,
	}, nil
}

// ToolchainVersion returns the version printed by `go version`.
func (g *GoToolchain) ToolchainVersion(ctx context.Context) (string, error) {
	if g.cachedVersion != "" {
		return g.cachedVersion, nil
	}

	output, err := g.run(ctx, "", nil, g.goBinary, "version")
	if err != nil {
		return "", fmt.Errorf("go version: %w", err)
	}

	toolchain, err := ParseToolchainVersion(string(output))
	if err != nil {
		return "", err
	}

	g.cachedVersion = toolchain

	return toolchain, nil
}

// bestEffort runs an optional tool and only logs a failure.
func (g *GoToolchain) bestEffort(ctx context.Context, req *Request, tool string, args ...string) {
	if _, err := exec.LookPath(tool); err != nil {
		logger.WarnKV(ctx, "Optional tool not found, skipping", "tool", tool)
		return
	}

	if output, err := g.run(ctx, req.ProjectDir, nil, tool, args...); err != nil {
		logger.WarnKV(ctx, "Optional tool failed, skipping", "tool", tool, "error", err, "output", tail(output))
		return
	}

	logger.DebugKV(ctx, "Optional tool applied", "tool", tool)
}

// BuildArgs returns the `go build` arguments for req.
func BuildArgs(req *Request) []string {
	args := []string{"build", "-o", req.OutputPath}

	switch req.Profile {
	case config.ProfileDebug:
		args = append(args, "-gcflags=all=-N -l")
	default:
		args = append(args, "-trimpath", "-ldflags=-s -w")
	}

	if len(req.Tags) > 0 {
		args = append(args, "-tags="+strings.Join(req.Tags, ","))
	}

	mainPackage := req.MainPackage
	if mainPackage == "" {
		mainPackage = "."
	}

	return append(args, mainPackage)
}

// BuildEnv returns the child environment for a target build.
func BuildEnv(target platform.Target) []string {
	return append(os.Environ(),
		"GOOS="+target.GOOS,
		"GOARCH="+target.GOARCH,
		"CGO_ENABLED=0",
	)
}

// ParseToolchainVersion extracts "go1.25.1" from "go version go1.25.1 linux/amd64".
func ParseToolchainVersion(output string) (string, error) {
	fields := strings.Fields(output)
	if len(fields) < 3 || fields[0] != "go" || fields[1] != "version" || !strings.HasPrefix(fields[2], "go") {
		return "", fmt.Errorf("%q: %w", strings.TrimSpace(output), errUnexpectedToolchainOutput)
	}

	return fields[2], nil
}

// GoMarker turns "go1.25.1" into the compatibility marker "go:1.25".
func GoMarker(toolchain string) string {
	release := strings.TrimPrefix(toolchain, "go")

	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 || parts[0] == "" {
		return ""
	}

	minor := parts[1]
	if end := strings.IndexFunc(minor, func(r rune) bool { return r < '0' || r > '9' }); end >= 0 {
		minor = minor[:end]
	}

	if minor == "" {
		return ""
	}

	return "go:" + parts[0] + "." + minor
}

func stripArgs(req *Request) []string {
	if req.Target.GOOS == "darwin" {
		return []string{"-x", req.OutputPath}
	}

	return []string{req.OutputPath}
}

func platformOf(target platform.Target) platform.Platform {
	p, _ := target.Normalized()
	return p
}

func runCommand(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	if env != nil {
		cmd.Env = env
	}

	var output bytes.Buffer

	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()

	return output.Bytes(), err
}

func tail(output []byte) string {
	if len(output) > outputTailSize {
		output = output[len(output)-outputTailSize:]
	}

	return strings.TrimSpace(string(output))
}

// platformDirMode is used for directories created next to build outputs.
const platformDirMode = 0o755
