package patch

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// CreateFile diffs two files on disk and writes the patch to patchPath.
// It returns the number of entries written.
func CreateFile(sourcePath, targetPath, patchPath string) (int, error) {
	source, err := os.ReadFile(filepath.Clean(sourcePath))
	if err != nil {
		return 0, fmt.Errorf("read source: %w", err)
	}

	target, err := os.ReadFile(filepath.Clean(targetPath))
	if err != nil {
		return 0, fmt.Errorf("read target: %w", err)
	}

	entries := Diff(source, target)

	var buf bytes.Buffer
	if err = Encode(&buf, entries); err != nil {
		return 0, err
	}

	if err = os.WriteFile(filepath.Clean(patchPath), buf.Bytes(), 0o644); err != nil { //nolint:gosec // Patch files are not secret.
		return 0, fmt.Errorf("write patch: %w", err)
	}

	return len(entries), nil
}

// ApplyFile applies patchPath to inputPath and writes the result to
// outputPath, keeping the input file mode.
func ApplyFile(inputPath, patchPath, outputPath string) (Stats, error) {
	info, err := os.Stat(filepath.Clean(inputPath))
	if err != nil {
		return Stats{}, fmt.Errorf("stat input: %w", err)
	}

	original, err := os.ReadFile(filepath.Clean(inputPath))
	if err != nil {
		return Stats{}, fmt.Errorf("read input: %w", err)
	}

	patchFile, err := os.Open(filepath.Clean(patchPath))
	if err != nil {
		return Stats{}, fmt.Errorf("open patch: %w", err)
	}

	defer func() {
		_ = patchFile.Close()
	}()

	entries, stats, err := Decode(patchFile)
	if err != nil {
		return stats, err
	}

	if err = os.WriteFile(filepath.Clean(outputPath), Apply(original, entries), info.Mode().Perm()); err != nil {
		return stats, fmt.Errorf("write output: %w", err)
	}

	return stats, nil
}
