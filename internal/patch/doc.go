// Package patch computes and applies byte-region patches between two
// binaries, and reads and writes the line-oriented patch file format:
//
//	offset:length:base64(data)
//
// one entry per line. The diff is a greedy heuristic meant for small
// same-architecture updates, not a general delta compressor.
package patch
