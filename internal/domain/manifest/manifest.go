package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/polypack/internal/domain/platform"
)

const (
	// Filename is the manifest location relative to the payload root.
	Filename = "manifest.json"

	// MetadataToolchainVersion holds the `go version` of the build host.
	MetadataToolchainVersion = "toolchain_version"
	// MetadataUpdateURL holds the base URL polled by the launcher updater.
	MetadataUpdateURL = "update_url"
	// MetadataDependencyPrefix prefixes per-dependency version pins.
	MetadataDependencyPrefix = "dependency_"
)

var (
	// ErrInvalidManifest is returned when a manifest breaks one of its invariants.
	ErrInvalidManifest = errors.New("invalid manifest")
	// ErrNoCompatibleBinary is returned by Resolve when no target matches the host.
	ErrNoCompatibleBinary = errors.New("no compatible binary")
)

// Manifest describes a package: what it is and which binary serves which host.
// It is built once per package and treated as immutable afterwards.
type Manifest struct {
	// Name is the application name.
	Name string `json:"name"`
	// Version is the application version.
	Version string `json:"version"`
	// Description is an optional human-readable summary.
	Description string `json:"description,omitempty"`
	// Targets lists bundled binaries in resolution order.
	Targets []Target `json:"targets"`
	// CreatedAt is the package creation time.
	CreatedAt time.Time `json:"created_at"`
	// InstallationID is a random identifier of this package build. It is not
	// a content digest; see the integrity package for that.
	InstallationID string `json:"installation_id"`
	// Features is the sorted set of advertised feature tags.
	Features []string `json:"features"`
	// Metadata carries free-form string pairs (toolchain version, dependency pins, update URL).
	Metadata map[string]string `json:"metadata"`
}

// Target is one bundled binary and the host it serves.
type Target struct {
	// Platform is the normalized operating system tag.
	Platform platform.Platform `json:"platform"`
	// Arch is the normalized architecture tag.
	Arch platform.Arch `json:"arch"`
	// BinaryPath is relative to the payload root, slash-separated.
	BinaryPath string `json:"binary_path"`
	// Features lists the build tags enabled for this binary.
	Features []string `json:"features"`
	// Optimizations is the optional optimization profile tag.
	Optimizations string `json:"optimizations,omitempty"`
	// Compatibility lists minimum ABI markers such as "format:elf" or "go:1.22".
	Compatibility []string `json:"compatibility"`
}

// Label returns the target label, e.g. "linux-x86_64".
func (t *Target) Label() string {
	return platform.Label(t.Platform, t.Arch)
}

// New creates a manifest with a fresh installation ID and creation time.
func New(name, version, description string) *Manifest {
	return &Manifest{
		Name:           name,
		Version:        version,
		Description:    description,
		Targets:        []Target{},
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		InstallationID: uuid.NewString(),
		Features:       []string{},
		Metadata:       map[string]string{},
	}
}

// AddTarget appends a target, rejecting a second entry for the same host pair.
func (m *Manifest) AddTarget(target Target) error {
	for i := range m.Targets {
		if m.Targets[i].Platform == target.Platform && m.Targets[i].Arch == target.Arch {
			return fmt.Errorf("duplicate target %s: %w", target.Label(), ErrInvalidManifest)
		}
	}

	target.normalize()
	m.Targets = append(m.Targets, target)

	return nil
}

// SetFeatures replaces the advertised features with a sorted, deduplicated copy.
func (m *Manifest) SetFeatures(features []string) {
	m.Features = normalizeSet(features)
}

// Validate checks the manifest invariants, including unique host pairs.
// It guards the build path; decoding applies only checkStructure.
func (m *Manifest) Validate() error {
	if err := m.checkStructure(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(m.Targets))

	for i := range m.Targets {
		label := m.Targets[i].Label()
		if _, dup := seen[label]; dup {
			return fmt.Errorf("duplicate target %s: %w", label, ErrInvalidManifest)
		}

		seen[label] = struct{}{}
	}

	return nil
}

// checkStructure checks what a launcher needs to use a manifest. Duplicate
// host pairs pass: Resolve picks the first of them.
func (m *Manifest) checkStructure() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("empty name: %w", ErrInvalidManifest)
	}

	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("empty version: %w", ErrInvalidManifest)
	}

	if len(m.Targets) == 0 {
		return fmt.Errorf("no targets: %w", ErrInvalidManifest)
	}

	for i := range m.Targets {
		target := &m.Targets[i]

		if err := validateBinaryPath(target.BinaryPath); err != nil {
			return fmt.Errorf("target %s: %w", target.Label(), err)
		}
	}

	return nil
}

// Resolve returns the first target matching the host pair, in stored order.
func (m *Manifest) Resolve(p platform.Platform, a platform.Arch) (*Target, error) {
	for i := range m.Targets {
		if m.Targets[i].Platform == p && m.Targets[i].Arch == a {
			target := m.Targets[i]
			return &target, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", platform.Label(p, a), ErrNoCompatibleBinary)
}

// UpdateURL returns the update host advertised in metadata, if any.
func (m *Manifest) UpdateURL() string {
	return strings.TrimSpace(m.Metadata[MetadataUpdateURL])
}

// Encode writes the manifest as indented JSON.
func (m *Manifest) Encode(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	return nil
}

// Marshal returns the encoded manifest.
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode reads a manifest and checks its structure. Manifests written by
// other tools may repeat a host pair; they decode and resolve first-match.
func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest

	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w: %w", ErrInvalidManifest, err)
	}

	m.normalize()

	if err := m.checkStructure(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Unmarshal decodes a manifest from bytes.
func Unmarshal(data []byte) (*Manifest, error) {
	return Decode(bytes.NewReader(data))
}

// normalize replaces nil collections so that decoded and freshly built
// manifests compare equal.
func (m *Manifest) normalize() {
	m.CreatedAt = m.CreatedAt.UTC()

	if m.Targets == nil {
		m.Targets = []Target{}
	}

	if m.Features == nil {
		m.Features = []string{}
	}

	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}

	for i := range m.Targets {
		m.Targets[i].normalize()
	}
}

func (t *Target) normalize() {
	if t.Features == nil {
		t.Features = []string{}
	}

	if t.Compatibility == nil {
		t.Compatibility = []string{}
	}
}

// validateBinaryPath rejects absolute, empty or escaping paths.
func validateBinaryPath(p string) error {
	if p == "" {
		return fmt.Errorf("empty binary path: %w", ErrInvalidManifest)
	}

	if strings.Contains(p, `\`) || path.IsAbs(p) {
		return fmt.Errorf("binary path %q must be relative and slash-separated: %w", p, ErrInvalidManifest)
	}

	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("binary path %q escapes the payload root: %w", p, ErrInvalidManifest)
	}

	return nil
}

// normalizeSet returns a sorted copy without duplicates or blanks.
func normalizeSet(values []string) []string {
	result := make([]string, 0, len(values))

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}

	slices.Sort(result)

	return slices.Compact(result)
}
