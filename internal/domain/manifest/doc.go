// Package manifest contains the package manifest: the data model shared by
// the packager, the archive codec and the launcher.
//
// A Manifest lists bundled binaries as Targets keyed by a normalized
// (platform, arch) pair. Resolve picks the first Target matching a host, in
// stored order; Validate forbids duplicate pairs, so the order only matters
// for manifests produced outside this package.
package manifest
