package platform

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Platform is a normalized operating system tag.
type Platform string

// Arch is a normalized CPU architecture tag.
type Arch string

// Known platforms.
const (
	Linux   Platform = "linux"
	MacOS   Platform = "macos"
	Windows Platform = "windows"

	UnknownPlatform Platform = "unknown"
)

// Known architectures.
const (
	X86_64  Arch = "x86_64"  //nolint:revive,stylecheck // Mirrors the uname spelling.
	AArch64 Arch = "aarch64" //nolint:revive,stylecheck // Mirrors the uname spelling.
	X86     Arch = "x86"
	ARM     Arch = "arm"

	UnknownArch Arch = "unknown"
)

// unameTimeout bounds the uname probe in Host.
const unameTimeout = 2 * time.Second

// Normalize maps raw kernel and machine names, as printed by `uname -s` and
// `uname -m`, to normalized tags. Unrecognised values map to unknown.
func Normalize(kernelName, archName string) (Platform, Arch) {
	return NormalizeKernel(kernelName), NormalizeArch(archName)
}

// NormalizeKernel maps a kernel name to a Platform.
func NormalizeKernel(kernelName string) Platform {
	kernel := strings.ToLower(strings.TrimSpace(kernelName))

	switch {
	case kernel == "darwin":
		return MacOS
	case kernel == "linux":
		return Linux
	case kernel == "windows",
		strings.Contains(kernel, "mingw"),
		strings.Contains(kernel, "cygwin"),
		strings.Contains(kernel, "msys"):
		return Windows
	default:
		return UnknownPlatform
	}
}

// NormalizeArch maps a machine name to an Arch.
func NormalizeArch(archName string) Arch {
	switch strings.ToLower(strings.TrimSpace(archName)) {
	case "x86_64", "amd64":
		return X86_64
	case "arm64", "aarch64":
		return AArch64
	case "i386", "i686", "386":
		return X86
	case "arm", "armv7l":
		return ARM
	default:
		return UnknownArch
	}
}

// Label renders the target label used as a path segment, e.g. "linux-x86_64".
func Label(p Platform, a Arch) string {
	return string(p) + "-" + string(a)
}

// ExecutableSuffix returns ".exe" for windows and "" elsewhere.
func ExecutableSuffix(p Platform) string {
	if p == Windows {
		return ".exe"
	}

	return ""
}

// BinaryFormat returns the compatibility tag describing the executable format.
func BinaryFormat(p Platform) string {
	switch p {
	case Linux:
		return "format:elf"
	case MacOS:
		return "format:macho"
	case Windows:
		return "format:pe"
	default:
		return "format:unknown"
	}
}

// Host reports the raw kernel and machine names of the running host.
// It asks uname first, like the shell launcher does, and falls back to the
// Go runtime when uname is unavailable (e.g. native windows).
func Host(ctx context.Context) (kernelName, archName string) {
	kernelName, archName = runtime.GOOS, runtime.GOARCH

	if runtime.GOOS == "windows" {
		return kernelName, archName
	}

	ctx, cancel := context.WithTimeout(ctx, unameTimeout)
	defer cancel()

	if out, err := exec.CommandContext(ctx, "uname", "-s").Output(); err == nil {
		if s := strings.TrimSpace(string(out)); s != "" {
			kernelName = s
		}
	}

	if out, err := exec.CommandContext(ctx, "uname", "-m").Output(); err == nil {
		if s := strings.TrimSpace(string(out)); s != "" {
			archName = s
		}
	}

	return kernelName, archName
}

// Detect returns the normalized tags of the running host.
func Detect(ctx context.Context) (Platform, Arch) {
	return Normalize(Host(ctx))
}
