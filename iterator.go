package vdisk

import "github.com/mwantia/vdisk/metafs"

// DirectoryIterator is a single-pass enumeration over one directory's
// entries, snapshotted at creation. It is not restartable mid-traversal;
// obtain a fresh iterator to start over.
type DirectoryIterator interface {
	// Valid reports whether the iterator points at an entry.
	Valid() bool
	// Next advances to the next entry.
	Next()
	// Name returns the current entry's base name.
	Name() string
	// Path returns the current entry's path relative to the disk root.
	Path() string
}

type sliceIterator struct {
	entries []metafs.Entry
	pos     int
}

func newSliceIterator(entries []metafs.Entry) *sliceIterator {
	return &sliceIterator{entries: entries}
}

func (it *sliceIterator) Valid() bool {
	return it.pos < len(it.entries)
}

func (it *sliceIterator) Next() {
	it.pos++
}

func (it *sliceIterator) Name() string {
	if !it.Valid() {
		return ""
	}
	return it.entries[it.pos].Name
}

func (it *sliceIterator) Path() string {
	if !it.Valid() {
		return ""
	}
	return it.entries[it.pos].Path
}
