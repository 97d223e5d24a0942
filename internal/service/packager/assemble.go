package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/polypack/internal/archive"
	"github.com/oshokin/polypack/internal/config"
	"github.com/oshokin/polypack/internal/domain/manifest"
	"github.com/oshokin/polypack/internal/domain/platform"
	"github.com/oshokin/polypack/internal/logger"
)

const (
	// BinDir holds one directory per target label.
	BinDir = "bin"
	// AssetsDir holds the copied assets.
	AssetsDir = "assets"
	// LicenseFilename is the license location in the payload.
	LicenseFilename = "LICENSE"

	// dirMode is used for every directory of the payload tree.
	dirMode = 0o755
	// binaryMode is applied to every bundled binary.
	binaryMode = 0o755
	// fileMode is applied to assets, the license and the manifest.
	fileMode = 0o644

	// licensePlaceholder is written when no license file is found.
	licensePlaceholder = "No license file was found in the project when this package was built.\n" +
		"Contact the authors for licensing terms.\n"
)

// licenseCandidates are probed in order, case-exact, in the project root.
var licenseCandidates = []string{
	"LICENSE",
	"LICENSE.md",
	"LICENSE.txt",
	"LICENSE-MIT",
	"LICENSE-APACHE",
	"COPYING",
}

// ErrAssetNotFound is returned when a declared asset does not exist. It is
// raised before any output is written.
var ErrAssetNotFound = errors.New("asset not found")

// Binary is one build output handed to Assemble.
type Binary struct {
	// Platform is the normalized operating system tag.
	Platform platform.Platform
	// Arch is the normalized architecture tag.
	Arch platform.Arch
	// SourcePath is the binary produced by the build collaborator.
	SourcePath string
	// Features lists the build tags enabled for this binary.
	Features []string
	// Optimizations is the profile tag.
	Optimizations string
	// Compatibility lists ABI markers.
	Compatibility []string
}

// AssembleInput describes a payload tree.
type AssembleInput struct {
	// Name is the application and binary name.
	Name string
	// Version is the application version.
	Version string
	// Description is optional.
	Description string
	// ProjectDir is the root asset and license paths are relative to.
	ProjectDir string
	// Binaries are bundled in this order.
	Binaries []Binary
	// Assets are project-relative files or directories.
	Assets []string
	// License is an explicit license file; empty means probe the candidates.
	License string
	// Features are the advertised feature tags.
	Features []string
	// Metadata is copied into the manifest.
	Metadata map[string]string
}

// CheckAssets verifies that every declared asset exists under projectDir
// and that no two assets land on the same path under assets/. Single files
// are flattened to their base name, so a collision there is a config error.
func CheckAssets(projectDir string, assets []string) error {
	// owners maps a top-level name under assets/ to the asset placing it.
	owners := make(map[string]string, len(assets))
	// files records which owners are flattened single files.
	files := make(map[string]bool, len(assets))

	for _, asset := range assets {
		info, err := os.Stat(filepath.Join(projectDir, filepath.FromSlash(asset)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%s: %w", asset, ErrAssetNotFound)
			}

			return fmt.Errorf("stat asset %s: %w", asset, err)
		}

		top := filepath.Base(filepath.FromSlash(asset))
		if info.IsDir() {
			top = strings.SplitN(filepath.ToSlash(filepath.Clean(filepath.FromSlash(asset))), "/", 2)[0]
		}

		if owner, taken := owners[top]; taken && (files[top] || !info.IsDir()) {
			return fmt.Errorf("assets %s and %s both write %s/%s: %w", owner, asset, AssetsDir, top, config.ErrConfig)
		}

		owners[top] = asset
		files[top] = files[top] || !info.IsDir()
	}

	return nil
}

// Assemble lays out the payload tree under root and returns its manifest.
// The manifest file is written after every binary and asset is in place.
func Assemble(ctx context.Context, root string, input *AssembleInput) (*manifest.Manifest, error) {
	if err := CheckAssets(input.ProjectDir, input.Assets); err != nil {
		return nil, err
	}

	m := manifest.New(input.Name, input.Version, input.Description)
	m.SetFeatures(input.Features)
	maps.Copy(m.Metadata, input.Metadata)

	for _, binary := range input.Binaries {
		relPath, err := placeBinary(root, input.Name, &binary)
		if err != nil {
			return nil, err
		}

		err = m.AddTarget(manifest.Target{
			Platform:      binary.Platform,
			Arch:          binary.Arch,
			BinaryPath:    relPath,
			Features:      append([]string(nil), binary.Features...),
			Optimizations: binary.Optimizations,
			Compatibility: append([]string(nil), binary.Compatibility...),
		})
		if err != nil {
			return nil, err
		}

		logger.DebugKV(ctx, "Placed binary", "path", relPath)
	}

	for _, asset := range input.Assets {
		if err := copyAsset(root, input.ProjectDir, asset); err != nil {
			return nil, err
		}

		logger.DebugKV(ctx, "Copied asset", "asset", asset)
	}

	writeLicense(ctx, root, input.ProjectDir, input.License)

	if err := m.Validate(); err != nil {
		return nil, err
	}

	if err := writeManifest(root, m); err != nil {
		return nil, err
	}

	return m, nil
}

// placeBinary copies a binary to bin/<label>/<name>[ext].
func placeBinary(root, name string, binary *Binary) (string, error) {
	label := platform.Label(binary.Platform, binary.Arch)
	relPath := BinDir + "/" + label + "/" + name + platform.ExecutableSuffix(binary.Platform)

	if err := copyFile(binary.SourcePath, filepath.Join(root, filepath.FromSlash(relPath)), binaryMode); err != nil {
		return "", fmt.Errorf("place binary %s: %w", label, err)
	}

	return relPath, nil
}

// copyAsset copies a directory keeping its project-relative path under
// assets/, or a single file flattened to assets/<basename>.
func copyAsset(root, projectDir, asset string) error {
	source := filepath.Join(projectDir, filepath.FromSlash(asset))

	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("%s: %w", asset, ErrAssetNotFound)
	}

	if !info.IsDir() {
		return copyFile(source, filepath.Join(root, AssetsDir, filepath.Base(source)), fileMode)
	}

	destination := filepath.Join(root, AssetsDir, filepath.Clean(filepath.FromSlash(asset)))

	return filepath.WalkDir(source, func(current string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(source, current)
		if err != nil {
			return err
		}

		target := filepath.Join(destination, rel)

		if d.IsDir() {
			return os.MkdirAll(target, dirMode)
		}

		if !d.Type().IsRegular() {
			return nil
		}

		return copyFile(current, target, fileMode)
	})
}

// writeLicense copies the first license found, or a placeholder. It never fails the build.
func writeLicense(ctx context.Context, root, projectDir, explicit string) {
	target := filepath.Join(root, LicenseFilename)

	candidates := licenseCandidates
	if explicit != "" {
		candidates = append([]string{explicit}, licenseCandidates...)
	}

	for _, candidate := range candidates {
		source := candidate
		if !filepath.IsAbs(source) {
			source = filepath.Join(projectDir, filepath.FromSlash(candidate))
		}

		if !exactFileExists(source) {
			continue
		}

		if err := copyFile(source, target, fileMode); err != nil {
			logger.WarnKV(ctx, "Unable to copy license, trying next candidate", "license", candidate, "error", err)
			continue
		}

		logger.DebugKV(ctx, "License detected", "license", candidate)

		return
	}

	logger.Warn(ctx, "No license file found, writing a placeholder")

	if err := os.WriteFile(target, []byte(licensePlaceholder), fileMode); err != nil {
		logger.WarnKV(ctx, "Unable to write license placeholder", "error", err)
	}
}

// exactFileExists matches the file name case-sensitively, even on
// case-insensitive file systems.
func exactFileExists(filePath string) bool {
	info, err := os.Stat(filePath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	entries, err := os.ReadDir(filepath.Dir(filePath))
	if err != nil {
		return false
	}

	base := filepath.Base(filePath)

	for _, entry := range entries {
		if entry.Name() == base {
			return true
		}
	}

	return false
}

func writeManifest(root string, m *manifest.Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}

	if err = os.WriteFile(filepath.Join(root, manifest.Filename), data, fileMode); err != nil {
		return fmt.Errorf("write manifest: %w: %w", archive.ErrArchiveIO, err)
	}

	return nil
}

func copyFile(source, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return err
	}

	input, err := os.Open(filepath.Clean(source))
	if err != nil {
		return err
	}

	defer input.Close()

	output, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(output, input); err != nil {
		_ = output.Close()
		return fmt.Errorf("copy %s: %w", filepath.Base(source), err)
	}

	if err = output.Close(); err != nil {
		return err
	}

	return os.Chmod(target, mode)
}
