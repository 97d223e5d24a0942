package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oshokin/polypack/internal/logger"
)

const (
	// DefaultWindow is the quiet period after the start of a rebuild.
	DefaultWindow = 5 * time.Second

	// eventBuffer is the capacity of the observer to consumer channel.
	eventBuffer = 64

	// buildDirPrefix matches the packager's temporary build directories.
	buildDirPrefix = "polypack-build-"
)

var errNoRebuild = errors.New("rebuild function is required")

// skippedDirs are never watched.
var skippedDirs = map[string]struct{}{
	".git": {},
	".hg":  {},
	".svn": {},
}

// Options controls the watch loop.
type Options struct {
	// Root is the project directory to observe.
	Root string
	// Ignore lists paths whose changes never trigger a rebuild, typically the output artifact.
	Ignore []string
	// Window is the quiet period; defaults to DefaultWindow.
	Window time.Duration
	// Rebuild is called for every accepted change. Its errors are logged.
	Rebuild func(ctx context.Context) error

	// ready is closed once the initial watches are registered.
	ready chan struct{}
}

// loop holds the consumer state.
// It is intentionally unexported—call Run.
type loop struct {
	opts    *Options
	ignore  map[string]struct{}
	watcher *fsnotify.Watcher
	// lastStart is when the previous rebuild began.
	lastStart time.Time
	// pending is the latest change waiting for the window to elapse.
	pending string
}

// Run observes Root until ctx is canceled. It returns nil on cancellation.
//
//nolint:cyclop // One select loop reads better than several small helpers.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "watcher")

	if opts.Rebuild == nil {
		return errNoRebuild
	}

	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	defer func() {
		_ = fsw.Close()
	}()

	l := &loop{
		opts:    opts,
		ignore:  make(map[string]struct{}, len(opts.Ignore)),
		watcher: fsw,
	}

	for _, p := range opts.Ignore {
		if abs, absErr := filepath.Abs(p); absErr == nil {
			l.ignore[abs] = struct{}{}
		}
	}

	if err = l.addTree(ctx, opts.Root); err != nil {
		return err
	}

	if opts.ready != nil {
		close(opts.ready)
	}

	logger.InfoKV(ctx, "Watching for changes", "root", opts.Root, "window", opts.Window.String())

	events := make(chan string, eventBuffer)

	go l.observe(ctx, events)

	// Armed only while a change is pending.
	timer := time.NewTimer(opts.Window)
	timer.Stop()

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case name := <-events:
			wait := opts.Window - time.Since(l.lastStart)
			if wait <= 0 {
				l.pending = ""
				l.rebuild(ctx, name)

				continue
			}

			if l.pending == "" {
				timer.Reset(wait)
			}

			l.pending = name
		case <-timer.C:
			if l.pending != "" {
				name := l.pending
				l.pending = ""
				l.rebuild(ctx, name)
			}
		}
	}
}

// rebuild runs one rebuild and records its start.
func (l *loop) rebuild(ctx context.Context, trigger string) {
	l.lastStart = time.Now()

	logger.InfoKV(ctx, "Change detected, rebuilding", "path", trigger)

	if err := l.opts.Rebuild(ctx); err != nil {
		logger.ErrorKV(ctx, "Rebuild failed", "error", err)
		return
	}

	logger.Info(ctx, "Rebuild finished")
}

// observe forwards relevant fsnotify events until ctx is canceled.
func (l *loop) observe(ctx context.Context, events chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}

			logger.WarnKV(ctx, "Watch error", "error", err)
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}

			if !l.relevant(event) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err = l.addTree(ctx, event.Name); err != nil {
						logger.WarnKV(ctx, "Unable to watch new directory", "path", event.Name, "error", err)
					}
				}
			}

			select {
			case events <- event.Name:
			case <-ctx.Done():
				return
			}
		}
	}
}

// relevant reports whether an event may change the build output.
func (l *loop) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}

	return !l.ignored(event.Name)
}

// ignored reports whether path is the output, a VCS directory or a build temp dir.
func (l *loop) ignored(path string) bool {
	if abs, err := filepath.Abs(path); err == nil {
		if _, skip := l.ignore[abs]; skip {
			return true
		}
	}

	rel, err := filepath.Rel(l.opts.Root, path)
	if err != nil {
		return false
	}

	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if _, skip := skippedDirs[part]; skip {
			return true
		}

		if strings.HasPrefix(part, buildDirPrefix) {
			return true
		}
	}

	return false
}

// addTree watches root and every directory below it.
func (l *loop) addTree(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.IsDir() {
			return nil
		}

		if path != root && l.ignored(path) {
			return filepath.SkipDir
		}

		if err = l.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}

		logger.DebugKV(ctx, "Watching directory", "path", path)

		return nil
	})
}
