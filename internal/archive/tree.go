package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// treeEntry is one directory or regular file of a payload tree.
type treeEntry struct {
	// rel is the slash-separated path relative to the payload root.
	rel string
	// abs is the path on disk.
	abs string
	// info is the lstat result.
	info fs.FileInfo
}

// collectTree walks root in lexical order. Symlinks and special files are
// not part of a payload and are skipped.
func collectTree(root string) ([]treeEntry, error) {
	var entries []treeEntry

	err := filepath.WalkDir(root, func(abs string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if abs == root {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return err
		}

		entries = append(entries, treeEntry{
			rel:  filepath.ToSlash(rel),
			abs:  abs,
			info: info,
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk payload: %w: %w", ErrArchiveIO, err)
	}

	return entries, nil
}

// safeTarget joins an archive entry name onto dest, rejecting absolute
// names and names that climb out of dest.
func safeTarget(dest, name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("absolute path %q: %w", name, ErrArchiveIO)
	}

	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", fmt.Errorf("path traversal %q: %w", name, ErrArchiveIO)
		}
	}

	target := filepath.Join(dest, filepath.FromSlash(slashed))

	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path escapes destination %q: %w", name, ErrArchiveIO)
	}

	return target, nil
}

// writeFile materializes one regular file below dest.
func writeFile(target string, mode fs.FileMode, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), ExecutableMode); err != nil {
		return fmt.Errorf("mkdir parent: %w: %w", ErrArchiveIO, err)
	}

	if mode == 0 {
		mode = 0o644
	}

	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w: %w", target, ErrArchiveIO, err)
	}

	_, copyErr := io.Copy(file, body)
	closeErr := file.Close()

	if copyErr != nil {
		return fmt.Errorf("write %s: %w: %w", target, ErrArchiveIO, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close %s: %w: %w", target, ErrArchiveIO, closeErr)
	}

	// OpenFile honours the umask; the recorded mode wins.
	if err = os.Chmod(target, mode); err != nil {
		return fmt.Errorf("chmod %s: %w: %w", target, ErrArchiveIO, err)
	}

	return nil
}
