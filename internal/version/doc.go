// Package version reports which polypack build is running. The values are
// injected with ldflags and fall back to the build info stamped by the Go
// toolchain. UserAgent identifies polypack to update hosts.
package version
