// Package watcher delivers debounced change notifications for individual files.
//
// Files are watched through their parent directory so that replacements by
// rename are still observed. Events are best-effort: bursts are coalesced and
// callers should treat a callback as a signal to re-read, not as a diff.
package watcher
