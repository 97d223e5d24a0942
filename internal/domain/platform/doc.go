// Package platform normalizes host-reported kernel and architecture names
// into the tags stored in a package manifest, and maps those tags to Go
// toolchain targets.
package platform
