// Package artifacts indexes stage outputs in SQLite so finished work is
// never redone. Entries are keyed by content fingerprint and stage; a lookup
// only counts as a cache hit when every recorded file still verifies on disk.
package artifacts
