package updater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/polypack/internal/archive"
	"github.com/oshokin/polypack/internal/domain/manifest"
	"github.com/oshokin/polypack/internal/logger"
	"github.com/oshokin/polypack/internal/service/common"
)

const (
	// MarkerSuffix names the marker that guards an artifact while it is being replaced.
	MarkerSuffix = ".polypack-update"

	// DefaultWaitTimeout bounds the wait for the parent launcher to exit.
	DefaultWaitTimeout = 2 * time.Minute

	// artifactMode is applied to downloaded and replaced artifacts.
	artifactMode os.FileMode = 0o755

	// markerLifetime is the period after which a stale update marker is ignored.
	markerLifetime = 5 * time.Minute

	// pollInterval is the process table polling period.
	pollInterval = 100 * time.Millisecond
)

var (
	// ErrNoUpdateURL is returned when the artifact does not advertise an update URL.
	ErrNoUpdateURL = errors.New("no update url in manifest metadata")
	// errUpdaterAlreadyRunning is returned when a fresh marker guards the target.
	errUpdaterAlreadyRunning = errors.New("an update is already running")
	// errParentStillRunning is returned when the parent launcher outlives the wait.
	errParentStillRunning = errors.New("parent process is still running")
)

// Options are inputs accepted by CheckUpdate and Update.
type Options struct {
	// ArtifactPath is the artifact being checked or updated.
	ArtifactPath string
	// Manifest overrides the manifest read from ArtifactPath.
	Manifest *manifest.Manifest
	// Timeout bounds each request to the update host.
	Timeout time.Duration
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	// Relaunch starts the self-replace step. It defaults to running this
	// executable as `launch <downloaded> --polypack-self-replace <artifact>`.
	Relaunch func(ctx context.Context, downloaded, target string) error
}

// Status is the outcome of a version check.
type Status struct {
	// Current is the version of the local artifact.
	Current string
	// Latest is the published version.
	Latest string
	// Available is set when Latest is newer than Current.
	Available bool
	// Notes are the published release notes.
	Notes string
	// Artifact is the published artifact location.
	Artifact string
	// Downloaded is the staged artifact, set by Update.
	Downloaded string
}

// runner holds the state of a single check or update.
// It is intentionally unexported—call CheckUpdate or Update.
type runner struct {
	opts     *Options
	manifest *manifest.Manifest
	client   *common.Client
}

// CheckUpdate compares the artifact version with the published descriptor.
// Nothing is downloaded besides the descriptor.
func CheckUpdate(ctx context.Context, opts *Options) (*Status, error) {
	ctx = logger.WithName(ctx, "updater")

	u, err := newRunner(opts)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = u.client.Close()
	}()

	return u.check(ctx)
}

// Update downloads the newest artifact next to the current one and starts
// the self-replace step. It returns without waiting for the replacement.
func Update(ctx context.Context, opts *Options) (*Status, error) {
	ctx = logger.WithName(ctx, "updater")

	if IsUpdateRunningNow(ctx, opts.ArtifactPath) {
		return nil, errUpdaterAlreadyRunning
	}

	u, err := newRunner(opts)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = u.client.Close()
	}()

	status, err := u.check(ctx)
	if err != nil || !status.Available {
		return status, err
	}

	if status.Downloaded, err = u.download(ctx, status); err != nil {
		return status, err
	}

	relaunch := opts.Relaunch
	if relaunch == nil {
		relaunch = relaunchSelf
	}

	if err = relaunch(ctx, status.Downloaded, opts.ArtifactPath); err != nil {
		_ = os.Remove(status.Downloaded)
		return status, fmt.Errorf("start self-replace: %w", err)
	}

	logger.InfoKV(ctx, "Update staged", "version", status.Latest, "path", status.Downloaded)

	return status, nil
}

// newRunner loads the manifest and prepares the update host client.
func newRunner(opts *Options) (*runner, error) {
	m := opts.Manifest
	if m == nil {
		var err error

		if m, err = archive.ReadManifest(opts.ArtifactPath); err != nil {
			return nil, err
		}
	}

	updateURL := m.UpdateURL()
	if updateURL == "" {
		return nil, ErrNoUpdateURL
	}

	client, err := common.Dial(updateURL, common.WithCallTimeout(opts.Timeout), common.WithHTTPClient(opts.HTTPClient))
	if err != nil {
		return nil, err
	}

	return &runner{opts: opts, manifest: m, client: client}, nil
}

// check fetches the descriptor and compares versions.
func (u *runner) check(ctx context.Context) (*Status, error) {
	logger.Info(ctx, "Downloading the version descriptor")

	desc, err := FetchDescriptor(ctx, u.client)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Current:   u.manifest.Version,
		Latest:    desc.Version,
		Available: IsNewer(u.manifest.Version, desc.Version),
		Notes:     desc.Notes,
		Artifact:  u.client.URL(desc.Artifact),
	}

	logger.InfoKV(ctx, "Version check", "local", status.Current, "remote", status.Latest, "available", status.Available)

	return status, nil
}

// download stages the published artifact in the directory of the current one,
// so that the final move stays on one file system.
func (u *runner) download(ctx context.Context, status *Status) (string, error) {
	dir := filepath.Dir(u.opts.ArtifactPath)

	staged, err := os.CreateTemp(dir, "."+filepath.Base(u.opts.ArtifactPath)+".update-*")
	if err != nil {
		return "", fmt.Errorf("stage download: %w", err)
	}

	stagedPath := staged.Name()
	_ = staged.Close()

	logger.InfoKV(ctx, "Downloading artifact", "url", status.Artifact)

	if err = u.client.Download(ctx, status.Artifact, stagedPath, artifactMode); err != nil {
		_ = os.Remove(stagedPath)
		return "", err
	}

	if err = os.Chmod(stagedPath, artifactMode); err != nil {
		_ = os.Remove(stagedPath)
		return "", err
	}

	if _, err = archive.ReadManifest(stagedPath); err != nil {
		_ = os.Remove(stagedPath)
		return "", fmt.Errorf("downloaded artifact: %w", err)
	}

	return stagedPath, nil
}

// relaunchSelf starts this executable in self-replace mode and detaches from it.
func relaunchSelf(_ context.Context, downloaded, target string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}

	//nolint:gosec // Arguments are paths produced by this process.
	cmd := exec.Command(executable, "launch", downloaded, archive.FlagSelfReplace, target)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err = cmd.Start(); err != nil {
		return err
	}

	return cmd.Process.Release()
}

// SelfReplaceOptions are inputs accepted by SelfReplace.
type SelfReplaceOptions struct {
	// Source is the new artifact.
	Source string
	// Target is the artifact to replace.
	Target string
	// ParentPID is waited for before replacing; zero skips the wait.
	ParentPID int
	// WaitTimeout bounds the wait; defaults to DefaultWaitTimeout.
	WaitTimeout time.Duration
}

// SelfReplace waits for the parent launcher to exit and atomically moves
// Source over Target.
func SelfReplace(ctx context.Context, opts *SelfReplaceOptions) error {
	ctx = logger.WithName(ctx, "updater")

	if IsUpdateRunningNow(ctx, opts.Target) {
		return errUpdaterAlreadyRunning
	}

	marker := opts.Target + MarkerSuffix

	markerFile, err := os.Create(filepath.Clean(marker))
	if err != nil {
		return err
	}

	if err = markerFile.Close(); err != nil {
		return err
	}

	defer func() {
		_ = os.Remove(marker)
	}()

	if _, err = archive.ReadManifest(opts.Source); err != nil {
		return fmt.Errorf("new artifact: %w", err)
	}

	timeout := opts.WaitTimeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	if opts.ParentPID > 0 {
		logger.InfoKV(ctx, "Waiting for the launcher to exit", "pid", opts.ParentPID)

		if err = waitForExit(ctx, opts.ParentPID, timeout); err != nil {
			return err
		}
	}

	source, err := os.Open(filepath.Clean(opts.Source))
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Replacing artifact", "path", opts.Target)

	err = goupdate.Apply(source, goupdate.Options{
		TargetPath: opts.Target,
		TargetMode: artifactMode,
	})

	_ = source.Close()

	if err != nil {
		return fmt.Errorf("replace %s: %w", opts.Target, err)
	}

	oldFileName := opts.Target + ".old"
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	_ = os.Remove(opts.Source)

	return nil
}

// waitForExit polls the process table until pid disappears.
func waitForExit(ctx context.Context, pid int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		process, err := ps.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("find process %d: %w", pid, err)
		}

		if process == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("pid %d: %w: %w", pid, errParentStillRunning, ctx.Err())
		case <-ticker.C:
		}
	}
}

// IsUpdateRunningNow checks for a fresh marker next to the artifact and
// removes a stale one.
func IsUpdateRunningNow(ctx context.Context, artifactPath string) bool {
	marker := artifactPath + MarkerSuffix

	fileInfo, err := os.Stat(marker)
	if err == nil {
		if time.Since(fileInfo.ModTime()) <= markerLifetime {
			return true
		}

		logger.Info(ctx, "The update marker is too old, removing it")

		return os.Remove(marker) != nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		logger.Infof(ctx, "Unable to read update marker: %v", err)
	}

	return false
}
