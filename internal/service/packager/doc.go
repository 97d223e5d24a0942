// Package packager builds a polypack artifact from a Go project.
//
// Run drives the build collaborator for every target in declared order,
// hands the binaries to Assemble, which lays out the payload tree and writes
// the manifest last, encodes the tree with the archive package and finally
// records the artifact digest (and signature, when a key is given) in a
// sidecar file. Declared assets are checked before anything is written, so
// a missing asset never leaves a partial artifact behind.
package packager
