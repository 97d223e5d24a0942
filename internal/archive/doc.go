// Package archive encodes a payload tree into a polypack artifact and reads
// it back.
//
// Two encodings exist. The self-extracting one is the POSIX launcher stub,
// then a line holding exactly Marker, then a gzip-compressed tar of the
// payload; the artifact is itself executable and implements launcher
// protocol version 1 with standard shell tools. The plain one is a deflate
// zip whose files all carry the executable bit, meant for hosts without a
// POSIX shell.
//
// Both are read by the same walker, which drives Extract, ReadManifest and
// List.
package archive
