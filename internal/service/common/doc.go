// Package common holds helpers shared by several services.
//
// It provides a small HTTP client for the update host with per-call timeouts,
// and a helper that detects the current system actor (hostname/username)
// recorded in package metadata.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
