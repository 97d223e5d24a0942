package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// WriteSelfExtracting writes the launcher stub, the marker line and a
// gzip-compressed tar of root to w.
func WriteSelfExtracting(w io.Writer, root string) error {
	entries, err := collectTree(root)
	if err != nil {
		return err
	}

	stub := launcherScript
	if !strings.HasSuffix(stub, "\n") {
		stub += "\n"
	}

	if _, err = io.WriteString(w, stub+Marker+"\n"); err != nil {
		return fmt.Errorf("write launcher: %w: %w", ErrArchiveIO, err)
	}

	compressor, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("gzip writer: %w: %w", ErrArchiveIO, err)
	}

	tw := tar.NewWriter(compressor)

	for _, entry := range entries {
		if err = addTarEntry(tw, entry); err != nil {
			return err
		}
	}

	if err = tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w: %w", ErrArchiveIO, err)
	}

	if err = compressor.Close(); err != nil {
		return fmt.Errorf("close gzip: %w: %w", ErrArchiveIO, err)
	}

	return nil
}

func addTarEntry(tw *tar.Writer, entry treeEntry) error {
	header := &tar.Header{
		Name:    entry.rel,
		Mode:    int64(entry.info.Mode().Perm()),
		ModTime: entry.info.ModTime(),
	}

	if entry.info.IsDir() {
		header.Typeflag = tar.TypeDir
		header.Name += "/"
		header.Mode = ExecutableMode

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write dir header %s: %w: %w", entry.rel, ErrArchiveIO, err)
		}

		return nil
	}

	header.Typeflag = tar.TypeReg
	header.Size = entry.info.Size()

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header %s: %w: %w", entry.rel, ErrArchiveIO, err)
	}

	return copyFrom(tw, entry)
}

// WriteZip writes a deflate zip of root to w. Directories get explicit
// entries and every file carries the executable permission bits.
func WriteZip(w io.Writer, root string) error {
	entries, err := collectTree(root)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, entry := range entries {
		if err = addZipEntry(zw, entry); err != nil {
			return err
		}
	}

	if err = zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w: %w", ErrArchiveIO, err)
	}

	return nil
}

func addZipEntry(zw *zip.Writer, entry treeEntry) error {
	header := &zip.FileHeader{
		Name:     entry.rel,
		Modified: entry.info.ModTime(),
	}

	if entry.info.IsDir() {
		header.Name += "/"
		header.Method = zip.Store
		header.SetMode(fs.ModeDir | ExecutableMode)

		if _, err := zw.CreateHeader(header); err != nil {
			return fmt.Errorf("write dir entry %s: %w: %w", entry.rel, ErrArchiveIO, err)
		}

		return nil
	}

	header.Method = zip.Deflate
	header.SetMode(ExecutableMode)

	body, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("write entry %s: %w: %w", entry.rel, ErrArchiveIO, err)
	}

	return copyFrom(body, entry)
}

func copyFrom(w io.Writer, entry treeEntry) error {
	file, err := os.Open(entry.abs)
	if err != nil {
		return fmt.Errorf("open %s: %w: %w", entry.rel, ErrArchiveIO, err)
	}

	defer file.Close()

	if _, err = io.Copy(w, file); err != nil {
		return fmt.Errorf("write body %s: %w: %w", entry.rel, ErrArchiveIO, err)
	}

	return nil
}
