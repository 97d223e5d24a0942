// Package updater implements the auxiliary launcher subcommands.
//
// CheckUpdate compares the artifact version with the version descriptor
// published next to the update URL. Update downloads the newest artifact
// next to the current one and starts a second launcher in self-replace mode.
// SelfReplace waits until the launcher that started it has exited and then
// atomically moves the new artifact over the old one.
//
// Downloads are checked to be readable polypack artifacts, nothing more:
// their origin is not authenticated.
package updater
