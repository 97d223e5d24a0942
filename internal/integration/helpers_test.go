package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/polypack/internal/config"
	"github.com/oshokin/polypack/internal/domain/platform"
	"github.com/oshokin/polypack/internal/service/builder"
	"github.com/oshokin/polypack/internal/service/packager"
)

// scriptBuilder emits a shell script per target in place of a compiled binary.
type scriptBuilder struct {
	// exitCode is returned by every emitted script.
	exitCode int
}

func (s *scriptBuilder) Build(_ context.Context, req *builder.Request) (*builder.Result, error) {
	script := "#!/bin/sh\necho \"target=" + req.Target.String() + " args=$*\"\n" +
		"[ -f \"$POLYPACK_ASSETS_DIR/banner.txt\" ] && cat \"$POLYPACK_ASSETS_DIR/banner.txt\"\n" +
		"exit " + strconv.Itoa(s.exitCode) + "\n"

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, err
	}

	if err := os.WriteFile(req.OutputPath, []byte(script), 0o755); err != nil {
		return nil, err
	}

	p, _ := req.Target.Normalized()

	return &builder.Result{
		Path:          req.OutputPath,
		Compatibility: []string{platform.BinaryFormat(p)},
		Optimizations: req.Profile,
	}, nil
}

func (*scriptBuilder) ToolchainVersion(context.Context) (string, error) {
	return "go1.25.0", nil
}

// newProject lays out a module with one asset.
func newProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/hello/v2\n\ngo 1.25\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "banner.txt"), []byte("welcome"), 0o644))

	return dir
}

// pack runs the packager over a fresh project.
func pack(t *testing.T, cfg *config.Config, key string) *packager.Result {
	t.Helper()

	result, err := packager.Run(context.Background(), &packager.Options{
		ProjectDir: newProject(t),
		Config:     cfg,
		Builder:    &scriptBuilder{exitCode: 7},
		SigningKey: []byte(key),
	})
	require.NoError(t, err)

	return result
}

// updateHost serves a descriptor and artifacts from a directory under /hello.
type updateHost struct {
	*httptest.Server
	dir string
}

func newUpdateHost(t *testing.T) *updateHost {
	t.Helper()

	host := &updateHost{dir: t.TempDir()}
	host.Server = httptest.NewServer(http.StripPrefix("/hello/", http.FileServer(http.Dir(host.dir))))
	t.Cleanup(host.Close)

	return host
}

// publish copies an artifact to the host and points the descriptor at it.
func (h *updateHost) publish(t *testing.T, artifactPath, version string) {
	t.Helper()

	name := "hello-" + version + ".ppack"

	data, err := os.ReadFile(artifactPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, name), data, 0o644))

	descriptor := "version: " + version + "\nartifact: " + name + "\nnotes: bug fixes\n"
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "polypack-version.yaml"), []byte(descriptor), 0o644))
}

func (h *updateHost) url() string {
	return h.URL + "/hello"
}
