package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/oshokin/polypack/internal/archive"
	"github.com/oshokin/polypack/internal/config"
	"github.com/oshokin/polypack/internal/domain/manifest"
	"github.com/oshokin/polypack/internal/domain/platform"
	"github.com/oshokin/polypack/internal/logger"
	"github.com/oshokin/polypack/internal/service/updater"
)

const (
	// ExitLaunchFailure is returned when the artifact cannot be launched.
	ExitLaunchFailure = 1
	// ExitUsage is returned for malformed launcher arguments.
	ExitUsage = 2

	// binaryMode is applied to the resolved binary before it runs.
	binaryMode = 0o755
)

// Options are inputs accepted by the launcher entry point.
type Options struct {
	// ArtifactPath is the artifact to launch.
	ArtifactPath string
	// Args are the arguments given to the artifact.
	Args []string
	// Env is the launcher environment configuration; read from the process when nil.
	Env *config.LauncherEnv
	// Stdin, Stdout and Stderr default to the process streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Detect overrides host detection.
	Detect func(ctx context.Context) (platform.Platform, platform.Arch)
	// HTTPClient is used by the update subcommands.
	HTTPClient *http.Client
	// ForceChild runs the binary as a child even where the process image could be replaced.
	ForceChild bool
}

// runner holds the state of one launch.
// It is intentionally unexported—call Run.
type runner struct {
	opts *Options
	env  *config.LauncherEnv
	// workDir is the extraction directory.
	workDir string
	// hostLabel is the detected host, e.g. "linux-x86_64".
	hostLabel string
}

// Run executes the launcher protocol and returns the process exit code.
// Diagnostics go to Stderr; on a successful process replacement Run does
// not return.
func Run(ctx context.Context, opts *Options) int {
	ctx = logger.WithName(ctx, "launcher")

	r, err := newRunner(opts)
	if err != nil {
		fmt.Fprintf(r.opts.Stderr, "polypack: %v\n", err)
		return ExitUsage
	}

	if leveled, ok := logger.WithLevelName(ctx, r.env.LogLevel); ok {
		ctx = leveled
	}

	invocation, err := ParseArgs(opts.Args)
	if err != nil {
		fmt.Fprintf(r.opts.Stderr, "polypack: %v\n", err)
		return ExitUsage
	}

	switch invocation.Mode {
	case ModeCheckUpdate:
		return r.checkUpdate(ctx)
	case ModeUpdate:
		return r.update(ctx)
	case ModeSelfReplace:
		return r.selfReplace(ctx, invocation.ReplaceTarget)
	default:
		return r.launch(ctx, invocation)
	}
}

// newRunner fills in defaults. The returned runner is usable for
// diagnostics even when an error is returned.
func newRunner(opts *Options) (*runner, error) {
	o := *opts

	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}

	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}

	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}

	if o.Detect == nil {
		o.Detect = platform.Detect
	}

	r := &runner{opts: &o, env: o.Env}

	if r.env == nil {
		env, err := config.LoadLauncherEnv()
		if err != nil {
			r.env = new(config.LauncherEnv)
			return r, err
		}

		r.env = env
	}

	return r, nil
}

// launch runs steps 2 to 6 of the protocol.
func (r *runner) launch(ctx context.Context, invocation *Invocation) int {
	workDir, err := os.MkdirTemp(r.env.TempDir, "polypack-")
	if err != nil {
		fmt.Fprintf(r.opts.Stderr, "polypack: create extraction dir: %v\n", err)
		return ExitLaunchFailure
	}

	r.workDir = workDir

	logger.DebugKV(ctx, "Extracting payload", "artifact", r.opts.ArtifactPath, "dir", workDir)

	binary, m, err := r.prepare(ctx)
	if err != nil {
		r.removeWorkDir(ctx)

		if errors.Is(err, manifest.ErrNoCompatibleBinary) {
			fmt.Fprintln(r.opts.Stderr, "no compatible binary found for "+r.hostLabel)
		} else {
			fmt.Fprintf(r.opts.Stderr, "polypack: %v\n", err)
		}

		return ExitLaunchFailure
	}

	env := os.Environ()

	assetsDir := filepath.Join(workDir, "assets")
	if info, statErr := os.Stat(assetsDir); statErr == nil && info.IsDir() {
		env = append(env, archive.AssetsEnv+"="+assetsDir)
	}

	logger.DebugKV(ctx, "Launching", "name", m.Name, "version", m.Version, "binary", binary)

	if invocation.Cleanup || r.opts.ForceChild || !canReplaceProcess {
		code := r.runChild(binary, invocation.Args, env)

		if invocation.Cleanup {
			r.removeWorkDir(ctx)
		}

		return code
	}

	argv := append([]string{binary}, invocation.Args...)

	err = replaceProcess(binary, argv, env)
	fmt.Fprintf(r.opts.Stderr, "polypack: exec %s: %v\n", binary, err)

	return ExitLaunchFailure
}

// prepare extracts the payload and resolves the binary for the host.
func (r *runner) prepare(ctx context.Context) (string, *manifest.Manifest, error) {
	if _, err := archive.Extract(r.opts.ArtifactPath, r.workDir); err != nil {
		return "", nil, err
	}

	file, err := os.Open(filepath.Join(r.workDir, manifest.Filename))
	if err != nil {
		return "", nil, fmt.Errorf("open manifest: %w", err)
	}

	m, err := manifest.Decode(file)
	_ = file.Close()

	if err != nil {
		return "", nil, err
	}

	hostPlatform, hostArch := r.opts.Detect(ctx)
	r.hostLabel = platform.Label(hostPlatform, hostArch)

	target, err := m.Resolve(hostPlatform, hostArch)
	if err != nil {
		return "", nil, err
	}

	binary := filepath.Join(r.workDir, filepath.FromSlash(target.BinaryPath))

	if err = os.Chmod(binary, binaryMode); err != nil {
		return "", nil, fmt.Errorf("chmod binary: %w", err)
	}

	return binary, m, nil
}

// runChild runs the binary, waits and returns its exit code.
func (r *runner) runChild(binary string, args, env []string) int {
	//nolint:gosec,noctx // The binary comes from the artifact; signals reach it through the process group.
	cmd := exec.Command(binary, args...)
	cmd.Env = env
	cmd.Stdin = r.opts.Stdin
	cmd.Stdout = r.opts.Stdout
	cmd.Stderr = r.opts.Stderr

	err := cmd.Run()
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	fmt.Fprintf(r.opts.Stderr, "polypack: run %s: %v\n", filepath.Base(binary), err)

	return ExitLaunchFailure
}

// checkUpdate reports the version check. Failures are not fatal.
func (r *runner) checkUpdate(ctx context.Context) int {
	status, err := updater.CheckUpdate(ctx, r.updaterOptions())
	if err != nil {
		fmt.Fprintf(r.opts.Stderr, "polypack: update check failed: %v\n", err)
		return 0
	}

	if !status.Available {
		fmt.Fprintf(r.opts.Stdout, "up to date (version %s)\n", status.Current)
		return 0
	}

	fmt.Fprintf(r.opts.Stdout, "update available: %s -> %s\n", status.Current, status.Latest)

	if status.Notes != "" {
		fmt.Fprintln(r.opts.Stdout, status.Notes)
	}

	return 0
}

// update downloads and stages the newest version. Failures are not fatal.
func (r *runner) update(ctx context.Context) int {
	status, err := updater.Update(ctx, r.updaterOptions())
	if err != nil {
		fmt.Fprintf(r.opts.Stderr, "polypack: update failed: %v\n", err)
		return 0
	}

	if !status.Available {
		fmt.Fprintf(r.opts.Stdout, "up to date (version %s)\n", status.Current)
		return 0
	}

	fmt.Fprintf(r.opts.Stdout, "updating %s -> %s, the artifact is replaced once this process exits\n",
		status.Current, status.Latest)

	return 0
}

// selfReplace moves this artifact over target once the parent has exited.
func (r *runner) selfReplace(ctx context.Context, target string) int {
	err := updater.SelfReplace(ctx, &updater.SelfReplaceOptions{
		Source:    r.opts.ArtifactPath,
		Target:    target,
		ParentPID: os.Getppid(),
	})
	if err != nil {
		fmt.Fprintf(r.opts.Stderr, "polypack: self-replace failed: %v\n", err)
		return ExitLaunchFailure
	}

	fmt.Fprintf(r.opts.Stdout, "replaced %s\n", target)

	return 0
}

func (r *runner) updaterOptions() *updater.Options {
	return &updater.Options{
		ArtifactPath: r.opts.ArtifactPath,
		Timeout:      r.env.HTTPTimeout,
		HTTPClient:   r.opts.HTTPClient,
	}
}

func (r *runner) removeWorkDir(ctx context.Context) {
	if r.workDir == "" {
		return
	}

	if err := os.RemoveAll(r.workDir); err != nil {
		logger.WarnKV(ctx, "Unable to remove extraction dir", "path", r.workDir, "error", err)
	}
}
