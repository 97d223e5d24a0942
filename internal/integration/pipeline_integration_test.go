package integration

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/polypack/internal/archive"
	"github.com/oshokin/polypack/internal/config"
	"github.com/oshokin/polypack/internal/domain/platform"
	"github.com/oshokin/polypack/internal/integrity"
	"github.com/oshokin/polypack/internal/patch"
	"github.com/oshokin/polypack/internal/service/launcher"
)

// TestPackageAndLaunch packages three targets and launches each through the native launcher.
func TestPackageAndLaunch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("bundled binaries are shell scripts")
	}

	for _, zip := range []bool{false, true} {
		result := pack(t, &config.Config{
			Version: "1.0.0",
			Targets: []string{"linux/amd64", "linux/arm64", "darwin/arm64"},
			Assets:  []string{"banner.txt"},
			Zip:     zip,
		}, "key")

		require.Equal(t, "hello", result.Manifest.Name)

		record, err := integrity.ReadRecord(result.SidecarPath)
		require.NoError(t, err)
		require.NoError(t, integrity.VerifyFile(result.ArtifactPath, record, []byte("key")))

		for _, host := range []struct {
			platform platform.Platform
			arch     platform.Arch
			target   string
		}{
			{platform.Linux, platform.X86_64, "linux/amd64"},
			{platform.Linux, platform.AArch64, "linux/arm64"},
			{platform.MacOS, platform.AArch64, "darwin/arm64"},
		} {
			tmp := t.TempDir()

			var stdout, stderr bytes.Buffer

			code := launcher.Run(context.Background(), &launcher.Options{
				ArtifactPath: result.ArtifactPath,
				Args:         []string{archive.FlagCleanup, "--verbose", "x"},
				Env:          &config.LauncherEnv{TempDir: tmp},
				Stdin:        bytes.NewReader(nil),
				Stdout:       &stdout,
				Stderr:       &stderr,
				Detect: func(context.Context) (platform.Platform, platform.Arch) {
					return host.platform, host.arch
				},
			})

			require.Equal(t, 7, code, stderr.String())
			require.Contains(t, stdout.String(), "target="+host.target+" args=--verbose x")
			require.Contains(t, stdout.String(), "welcome")

			entries, err := os.ReadDir(tmp)
			require.NoError(t, err)
			require.Empty(t, entries)
		}

		// A host without a bundled binary.
		var stderr bytes.Buffer

		code := launcher.Run(context.Background(), &launcher.Options{
			ArtifactPath: result.ArtifactPath,
			Env:          &config.LauncherEnv{TempDir: t.TempDir()},
			Stdout:       new(bytes.Buffer),
			Stderr:       &stderr,
			Detect: func(context.Context) (platform.Platform, platform.Arch) {
				return platform.Windows, platform.X86
			},
		})

		require.Equal(t, launcher.ExitLaunchFailure, code)
		require.Contains(t, stderr.String(), "no compatible binary found for windows-x86")
	}
}

// TestArtifactDelta ships the difference between two releases as a patch.
func TestArtifactDelta(t *testing.T) {
	t.Parallel()

	v1 := pack(t, &config.Config{Version: "1.0.0", Targets: []string{"linux/amd64"}}, "")
	v2 := pack(t, &config.Config{Version: "1.1.0", Targets: []string{"linux/amd64", "windows/amd64"}}, "")

	dir := t.TempDir()
	patchPath := filepath.Join(dir, "1.0.0-1.1.0.patch")
	rebuilt := filepath.Join(dir, "hello.ppack")

	_, err := patch.CreateFile(v1.ArtifactPath, v2.ArtifactPath, patchPath)
	require.NoError(t, err)

	stats, err := patch.ApplyFile(v1.ArtifactPath, patchPath, rebuilt)
	require.NoError(t, err)
	require.Zero(t, stats.Skipped)

	record, err := integrity.ReadRecord(v2.SidecarPath)
	require.NoError(t, err)
	require.NoError(t, integrity.VerifyFile(rebuilt, record, nil))

	m, err := archive.ReadManifest(rebuilt)
	require.NoError(t, err)
	require.Equal(t, "1.1.0", m.Version)
	require.Len(t, m.Targets, 2)
}
