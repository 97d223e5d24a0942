package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/require"
)

// startWatcher runs the loop in the background and waits until it is ready.
func startWatcher(t *testing.T, root string, window time.Duration, ignore ...string) (*atomic.Int32, chan struct{}) {
	t.Helper()

	var count atomic.Int32

	rebuilt := make(chan struct{}, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	opts := &Options{
		Root:   root,
		Ignore: ignore,
		Window: window,
		Rebuild: func(context.Context) error {
			count.Add(1)
			rebuilt <- struct{}{}

			return nil
		},
		ready: make(chan struct{}),
	}

	go func() {
		done <- Run(ctx, opts)
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	select {
	case <-opts.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}

	return &count, rebuilt
}

func waitRebuild(t *testing.T, rebuilt <-chan struct{}) {
	t.Helper()

	select {
	case <-rebuilt:
	case <-time.After(5 * time.Second):
		t.Fatal("no rebuild")
	}
}

// TestRunCoalescesBursts rebuilds once for the first change and once for a burst inside the window.
func TestRunCoalescesBursts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	window := 500 * time.Millisecond

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), nil, 0o644))

	count, rebuilt := startWatcher(t, root, window)

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))
	waitRebuild(t, rebuilt)

	for i := range 5 {
		require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte{byte('a' + i)}, 0o644))
	}

	waitRebuild(t, rebuilt)

	// Nothing else is pending.
	time.Sleep(2 * window)
	require.Equal(t, int32(2), count.Load())
}

// TestRunIgnoresOutputAndVCS never rebuilds for the artifact or .git.
func TestRunIgnoresOutputAndVCS(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	artifact := filepath.Join(root, "hello.ppack")

	count, rebuilt := startWatcher(t, root, 100*time.Millisecond, artifact)

	require.NoError(t, os.WriteFile(artifact, []byte("artifact"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0o644))

	time.Sleep(500 * time.Millisecond)
	require.Zero(t, count.Load())

	// New directories are watched too.
	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	waitRebuild(t, rebuilt)

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "lib.go"), []byte("package pkg"), 0o644))
	waitRebuild(t, rebuilt)
}

// TestRelevant filters chmod events and ignored paths.
func TestRelevant(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	l := &loop{
		opts:   &Options{Root: root},
		ignore: map[string]struct{}{filepath.Join(root, "out.ppack"): {}},
	}

	require.True(t, l.relevant(fsnotify.Event{Name: filepath.Join(root, "main.go"), Op: fsnotify.Write}))
	require.False(t, l.relevant(fsnotify.Event{Name: filepath.Join(root, "main.go"), Op: fsnotify.Chmod}))
	require.False(t, l.relevant(fsnotify.Event{Name: filepath.Join(root, "out.ppack"), Op: fsnotify.Create}))
	require.False(t, l.relevant(fsnotify.Event{Name: filepath.Join(root, ".git", "index"), Op: fsnotify.Write}))
	require.False(t, l.relevant(fsnotify.Event{Name: filepath.Join(root, "polypack-build-1", "x"), Op: fsnotify.Write}))
}

// TestRunRequiresRebuild rejects options without a callback.
func TestRunRequiresRebuild(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Run(context.Background(), &Options{Root: t.TempDir()}), errNoRebuild)
}
