package archive

import (
	_ "embed" // launcher stub
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Format is an artifact encoding.
type Format string

const (
	// FormatSelfExtracting is the launcher stub, the marker line and a gzip tar payload.
	FormatSelfExtracting Format = "self-extracting"
	// FormatZip is a deflate zip of the payload tree.
	FormatZip Format = "zip"

	// Marker separates the launcher stub from the payload. It occupies a line of its own.
	Marker = "__POLYPACK_PAYLOAD_BEGINS__"
	// ProtocolVersion is the launcher protocol implemented by the stub and the native launcher.
	ProtocolVersion = 1
	// ExecutableMode is applied to artifacts and to every file in a zip.
	ExecutableMode = 0o755
)

var (
	// ErrArchiveIO is returned when an artifact cannot be written or read back.
	ErrArchiveIO = errors.New("archive i/o")
	// errUnknownFormat is returned for an encoding this package does not produce.
	errUnknownFormat = errors.New("unknown archive format")
)

//go:embed launcher.sh
var launcherScript string

// LauncherScript returns the POSIX shell stub that fronts self-extracting artifacts.
func LauncherScript() string {
	return launcherScript
}

// FormatFromZipFlag maps the project-level zip switch to a format.
func FormatFromZipFlag(zip bool) Format {
	if zip {
		return FormatZip
	}

	return FormatSelfExtracting
}

// Write encodes the payload tree at root into outPath. The artifact is
// written to a temporary file next to outPath and renamed into place only
// when encoding succeeded.
func Write(root, outPath string, format Format) error {
	if format != FormatSelfExtracting && format != FormatZip {
		return fmt.Errorf("%q: %w: %w", format, ErrArchiveIO, errUnknownFormat)
	}

	if _, err := os.Stat(root); err != nil {
		return fmt.Errorf("payload root: %w: %w", ErrArchiveIO, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), "."+filepath.Base(outPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w: %w", ErrArchiveIO, err)
	}

	tmpPath := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if format == FormatZip {
		err = WriteZip(tmp, root)
	} else {
		err = WriteSelfExtracting(tmp, root)
	}

	closeErr := tmp.Close()

	if err != nil {
		return err
	}

	if closeErr != nil {
		return fmt.Errorf("close temp artifact: %w: %w", ErrArchiveIO, closeErr)
	}

	if format == FormatSelfExtracting && runtime.GOOS != "windows" {
		if err = os.Chmod(tmpPath, ExecutableMode); err != nil {
			return fmt.Errorf("chmod artifact: %w: %w", ErrArchiveIO, err)
		}
	}

	if err = os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename artifact: %w: %w", ErrArchiveIO, err)
	}

	committed = true

	return nil
}

// DetectFile reports the encoding of the artifact at artifactPath.
func DetectFile(artifactPath string) (Format, error) {
	file, err := os.Open(filepath.Clean(artifactPath))
	if err != nil {
		return "", fmt.Errorf("open artifact: %w: %w", ErrArchiveIO, err)
	}

	defer file.Close()

	return Detect(file)
}

// Detect inspects the leading bytes of an artifact.
func Detect(r io.Reader) (Format, error) {
	head := make([]byte, 4)

	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("read artifact header: %w: %w", ErrArchiveIO, err)
	}

	head = head[:n]

	switch {
	case strings.HasPrefix(string(head), "PK\x03\x04"), strings.HasPrefix(string(head), "PK\x05\x06"):
		return FormatZip, nil
	case strings.HasPrefix(string(head), "#!"):
		return FormatSelfExtracting, nil
	default:
		return "", fmt.Errorf("unrecognized artifact header: %w", ErrArchiveIO)
	}
}

// Launcher flags. The stub and the native launcher recognise the same set;
// auxiliary flags are only honoured as the first forwarded argument.
const (
	// FlagCleanup is removed from the forwarded arguments and makes the
	// launcher wait for the application and delete the extraction directory.
	FlagCleanup = "--polypack-cleanup"
	// FlagCheckUpdate reports whether a newer version is published.
	FlagCheckUpdate = "--polypack-check-update"
	// FlagUpdate downloads the newest artifact and hands over to FlagSelfReplace.
	FlagUpdate = "--polypack-update"
	// FlagSelfReplace moves the artifact over the path given as the next argument.
	FlagSelfReplace = "--polypack-self-replace"

	// AssetsEnv carries the extracted assets directory to the application.
	AssetsEnv = "POLYPACK_ASSETS_DIR"
)
