package platform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedTarget is returned for GOOS/GOARCH pairs without a normalized tag.
var ErrUnsupportedTarget = errors.New("unsupported build target")

// goArch maps normalized architectures to GOARCH values.
//
//nolint:gochecknoglobals // Static lookup table.
var goArch = map[Arch]string{
	X86_64:  "amd64",
	AArch64: "arm64",
	X86:     "386",
	ARM:     "arm",
}

// goOS maps normalized platforms to GOOS values.
//
//nolint:gochecknoglobals // Static lookup table.
var goOS = map[Platform]string{
	Linux:   "linux",
	MacOS:   "darwin",
	Windows: "windows",
}

// Target is a build target expressed in Go toolchain terms.
type Target struct {
	// GOOS is the toolchain operating system, e.g. "darwin".
	GOOS string
	// GOARCH is the toolchain architecture, e.g. "arm64".
	GOARCH string
}

// String renders the target as GOOS/GOARCH.
func (t Target) String() string {
	return t.GOOS + "/" + t.GOARCH
}

// Normalized maps the toolchain pair to normalized tags.
func (t Target) Normalized() (Platform, Arch) {
	return Normalize(t.GOOS, t.GOARCH)
}

// ParseTarget parses a "GOOS/GOARCH" string and checks that both halves
// have a normalized tag.
func ParseTarget(s string) (Target, error) {
	goos, goarch, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Target{}, fmt.Errorf("%q: %w", s, ErrUnsupportedTarget)
	}

	t := Target{GOOS: goos, GOARCH: goarch}

	p, a := t.Normalized()
	if p == UnknownPlatform || a == UnknownArch {
		return Target{}, fmt.Errorf("%q: %w", s, ErrUnsupportedTarget)
	}

	return t, nil
}

// ToGo maps normalized tags back to a toolchain target.
func ToGo(p Platform, a Arch) (Target, error) {
	goos, okOS := goOS[p]
	goarch, okArch := goArch[a]

	if !okOS || !okArch {
		return Target{}, fmt.Errorf("%s: %w", Label(p, a), ErrUnsupportedTarget)
	}

	return Target{GOOS: goos, GOARCH: goarch}, nil
}
