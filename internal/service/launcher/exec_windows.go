//go:build windows

package launcher

import "errors"

// canReplaceProcess reports whether replaceProcess is available.
const canReplaceProcess = false

var errReplaceUnsupported = errors.New("process replacement is not supported on windows")

// replaceProcess is never called on windows: binaries run as children.
func replaceProcess(string, []string, []string) error {
	return errReplaceUnsupported
}
