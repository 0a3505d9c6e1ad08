// Package watcher provides debounced change notification for a single
// session transcript file.
//
// Transcripts are written in bursts: one tool invocation can append
// several lines within a few milliseconds. Raw fsnotify events are
// therefore coalesced inside a debounce window and surfaced as a single
// tick, so the index updater runs once per burst instead of once per
// write.
package watcher
