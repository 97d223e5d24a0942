// Package launcher is the native implementation of launcher protocol 1.
//
// The protocol, shared with the shell stub at the front of self-extracting
// artifacts:
//
//  1. If the first argument is --polypack-check-update, --polypack-update
//     or --polypack-self-replace PATH, run that subcommand and stop. Network
//     trouble and a missing update URL are reported and exit 0.
//  2. Extract the payload into a fresh polypack-* directory under
//     POLYPACK_TMPDIR (or the system temp dir).
//  3. Detect the host platform and architecture.
//  4. Export POLYPACK_ASSETS_DIR when the payload has an assets/ directory.
//  5. Resolve the manifest target for the host. On a miss print
//     "no compatible binary found for <platform>-<arch>" and exit 1.
//  6. Make the binary executable and run it with the remaining arguments.
//     On POSIX the launcher process image is replaced. On windows, or when
//     --polypack-cleanup was given (and stripped), the binary runs as a child,
//     its exit code is propagated and, with the flag, the directory removed.
//
// Unlike the stub, this launcher reads both encodings and needs no shell.
package launcher
