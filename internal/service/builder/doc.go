// Package builder drives the Go toolchain to produce one binary per target.
//
// Every per-target setting (GOOS, GOARCH, build tags, profile flags) is
// passed on the command line or in the child environment, so nothing is
// written into the project tree between targets. Optional post-processing
// with strip and upx is best-effort. The package also reads the toolchain
// version and the go.mod requirements recorded in the manifest metadata.
package builder
