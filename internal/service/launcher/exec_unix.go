//go:build !windows

package launcher

import "syscall"

// canReplaceProcess reports whether replaceProcess is available.
const canReplaceProcess = true

// replaceProcess replaces the launcher process image with the binary.
func replaceProcess(binary string, argv, env []string) error {
	return syscall.Exec(binary, argv, env) //nolint:gosec // The binary comes from the artifact being launched.
}
