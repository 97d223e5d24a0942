// Package integrity computes content digests and keyed signatures over
// finished artifacts.
//
// The scheme is hash-then-MAC: the artifact is hashed with SHA-256, and the
// hex digest is signed with HMAC-SHA256, so the MAC input has a constant
// size whatever the artifact size. Signatures are reported in a YAML sidecar
// and are not part of the artifact format.
package integrity
