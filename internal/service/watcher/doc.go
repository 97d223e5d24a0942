// Package watcher rebuilds a project when its sources change.
//
// One goroutine observes the project tree through fsnotify and feeds a
// buffered channel with a single consumer. The consumer runs at most one
// rebuild at a time. Events that arrive within the quiet window measured from
// the start of the previous rebuild are coalesced into one pending rebuild,
// which runs when the window elapses.
package watcher
