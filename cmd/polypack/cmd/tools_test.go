package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/polypack/internal/integrity"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		signingKey, sidecarPath = "", ""
	})

	err := rootCmd.Execute()

	return out.String(), err
}

// TestDiffPatchCommands round-trips a file through diff and patch.
func TestDiffPatchCommands(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "v1.bin")
	target := filepath.Join(dir, "v2.bin")
	patchFile := filepath.Join(dir, "v1-v2.patch")
	output := filepath.Join(dir, "out.bin")

	require.NoError(t, os.WriteFile(source, []byte("hello world, version one"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("hello there, version two!"), 0o644))

	out, err := execute(t, "diff", source, target, patchFile)
	require.NoError(t, err)
	require.Contains(t, out, "entries written")

	out, err = execute(t, "patch", source, patchFile, output)
	require.NoError(t, err)
	require.Contains(t, out, "0 lines skipped")

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t, "hello there, version two!", string(got))
}

// TestSignVerifyCommands signs with a key and detects tampering.
func TestSignVerifyCommands(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "hello.ppack")
	require.NoError(t, os.WriteFile(artifact, []byte("payload"), 0o644))

	_, err := execute(t, "sign", "--key", "k1", artifact)
	require.NoError(t, err)
	require.FileExists(t, integrity.SidecarPath(artifact))

	out, err := execute(t, "verify", "--key", "k1", artifact)
	require.NoError(t, err)
	require.Contains(t, out, "signature ok")

	_, err = execute(t, "verify", "--key", "k2", artifact)
	require.ErrorIs(t, err, integrity.ErrSignature)

	require.NoError(t, os.WriteFile(artifact, []byte("tampered"), 0o644))

	_, err = execute(t, "verify", "--key", "k1", artifact)
	require.ErrorIs(t, err, integrity.ErrSignature)
}
