package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/oshokin/polypack/internal/domain/manifest"
)

// Header describes one entry of an artifact payload.
type Header struct {
	// Name is the slash-separated path relative to the payload root, without a trailing slash.
	Name string
	// Mode holds the permission bits recorded for the entry.
	Mode fs.FileMode
	// Size is the uncompressed size; zero for directories.
	Size int64
	// Dir is set for directory entries.
	Dir bool
}

// errStopWalk ends a walk early without reporting an error.
var errStopWalk = errors.New("stop walk")

// visitFunc receives every payload entry; body is nil for directories.
type visitFunc func(header Header, body io.Reader) error

// PayloadReader positions r right after the marker line of a
// self-extracting artifact. The returned reader yields the gzip stream.
func PayloadReader(r io.Reader) (io.Reader, error) {
	reader := bufio.NewReaderSize(r, 64*1024)

	for {
		line, err := reader.ReadString('\n')
		if strings.TrimRight(line, "\r\n") == Marker && strings.HasSuffix(line, "\n") {
			return reader, nil
		}

		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("payload marker not found: %w", ErrArchiveIO)
		}

		if err != nil {
			return nil, fmt.Errorf("scan for payload marker: %w: %w", ErrArchiveIO, err)
		}
	}
}

// Extract restores the payload of the artifact into dest and returns the
// number of regular files written. Entries that would land outside dest
// fail the extraction.
func Extract(artifactPath, dest string) (int, error) {
	if err := os.MkdirAll(dest, ExecutableMode); err != nil {
		return 0, fmt.Errorf("create destination: %w: %w", ErrArchiveIO, err)
	}

	count := 0

	err := walk(artifactPath, func(header Header, body io.Reader) error {
		target, err := safeTarget(dest, header.Name)
		if err != nil {
			return err
		}

		if header.Dir {
			if err = os.MkdirAll(target, ExecutableMode); err != nil {
				return fmt.Errorf("mkdir %s: %w: %w", header.Name, ErrArchiveIO, err)
			}

			return nil
		}

		if err = writeFile(target, header.Mode, body); err != nil {
			return err
		}

		count++

		return nil
	})

	return count, err
}

// ReadManifest returns the manifest of an artifact without extracting it.
func ReadManifest(artifactPath string) (*manifest.Manifest, error) {
	var result *manifest.Manifest

	err := walk(artifactPath, func(header Header, body io.Reader) error {
		if header.Dir || header.Name != manifest.Filename {
			return nil
		}

		m, err := manifest.Decode(body)
		if err != nil {
			return err
		}

		result = m

		return errStopWalk
	})
	if err != nil {
		return nil, err
	}

	if result == nil {
		return nil, fmt.Errorf("%s not found in artifact: %w", manifest.Filename, ErrArchiveIO)
	}

	return result, nil
}

// List returns the payload entries of an artifact in stored order.
func List(artifactPath string) ([]Header, error) {
	var headers []Header

	err := walk(artifactPath, func(header Header, _ io.Reader) error {
		headers = append(headers, header)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return headers, nil
}

// walk visits every payload entry of the artifact, whichever its encoding.
func walk(artifactPath string, visit visitFunc) error {
	file, err := os.Open(filepath.Clean(artifactPath))
	if err != nil {
		return fmt.Errorf("open artifact: %w: %w", ErrArchiveIO, err)
	}

	defer file.Close()

	format, err := Detect(file)
	if err != nil {
		return err
	}

	if _, err = file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind artifact: %w: %w", ErrArchiveIO, err)
	}

	if format == FormatZip {
		err = walkZip(file, visit)
	} else {
		err = walkSelfExtracting(file, visit)
	}

	if errors.Is(err, errStopWalk) {
		return nil
	}

	return err
}

func walkSelfExtracting(r io.Reader, visit visitFunc) error {
	payload, err := PayloadReader(r)
	if err != nil {
		return err
	}

	decompressor, err := gzip.NewReader(payload)
	if err != nil {
		return fmt.Errorf("gzip reader: %w: %w", ErrArchiveIO, err)
	}

	defer decompressor.Close()

	tr := tar.NewReader(decompressor)

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read tar: %w: %w", ErrArchiveIO, err)
		}

		name := cleanName(header.Name)
		if name == "" {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			err = visit(Header{Name: name, Mode: fs.FileMode(header.Mode) & fs.ModePerm, Dir: true}, nil)
		case tar.TypeReg:
			err = visit(Header{Name: name, Mode: fs.FileMode(header.Mode) & fs.ModePerm, Size: header.Size}, tr)
		default:
			continue
		}

		if err != nil {
			return err
		}
	}
}

func walkZip(file *os.File, visit visitFunc) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w: %w", ErrArchiveIO, err)
	}

	reader, err := zip.NewReader(file, info.Size())
	if err != nil {
		return fmt.Errorf("zip reader: %w: %w", ErrArchiveIO, err)
	}

	for _, entry := range reader.File {
		name := cleanName(entry.Name)
		if name == "" {
			continue
		}

		if entry.FileInfo().IsDir() {
			if err = visit(Header{Name: name, Mode: entry.Mode().Perm(), Dir: true}, nil); err != nil {
				return err
			}

			continue
		}

		if err = visitZipFile(entry, name, visit); err != nil {
			return err
		}
	}

	return nil
}

func visitZipFile(entry *zip.File, name string, visit visitFunc) error {
	body, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w: %w", name, ErrArchiveIO, err)
	}

	defer body.Close()

	//nolint:gosec // Sizes are informational; zip.File reads are bounded by the entry.
	return visit(Header{Name: name, Mode: entry.Mode().Perm(), Size: int64(entry.UncompressedSize64)}, body)
}

// cleanName strips the leading "./" and trailing "/" that tar and zip
// writers add. Traversal components are kept so that callers reject them.
func cleanName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimSuffix(name, "/")

	for strings.HasPrefix(name, "./") {
		name = strings.TrimPrefix(name, "./")
	}

	if name == "." {
		return ""
	}

	if strings.Contains(name, "..") {
		return name
	}

	return path.Clean(name)
}
