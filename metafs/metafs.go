package metafs

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/mwantia/vdisk/backend"
)

// Entry is one directory entry of a metadata filesystem.
type Entry struct {
	// Name is the entry's base name.
	Name string
	// Path is the entry's full path relative to the filesystem root.
	Path string
	// Dir reports whether the entry is a directory.
	Dir bool
	// ModTime is the entry's last modification time.
	ModTime time.Time
}

// MetadataFS stores the small metadata files that represent logical paths on
// a virtual disk. Paths are slash-separated and rooted at "/".
//
// Link must alias dst to the same stored content as src: a later WriteFile
// through either path is visible through both, and the content survives until
// the last aliased path is unlinked. The local implementation gets this from
// native hard links; every other implementation keys content by an internal
// content id shared between paths.
type MetadataFS interface {
	backend.Backend

	Exists(ctx context.Context, path string) (bool, error)
	IsFile(ctx context.Context, path string) (bool, error)
	IsDirectory(ctx context.Context, path string) (bool, error)

	// ReadFile returns the stored content of the metadata file at path.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile replaces the content of the metadata file at path, creating
	// it when absent. The write goes through to the shared content, not to a
	// fresh copy, so hard-linked paths observe it. When sync is set the
	// content is flushed to stable storage before returning.
	WriteFile(ctx context.Context, path string, content []byte, sync bool) error

	// Rename moves the entry at oldPath to newPath. Shared content is
	// untouched; only the path binding moves.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Link makes dst a second path bound to src's content.
	Link(ctx context.Context, src, dst string) error

	// Unlink removes the path binding. The underlying content is dropped
	// once its last binding is gone.
	Unlink(ctx context.Context, path string) error

	CreateDirectory(ctx context.Context, path string) error
	CreateDirectories(ctx context.Context, path string) error

	// RemoveDirectory removes an empty directory.
	RemoveDirectory(ctx context.Context, path string) error

	// ListEntries returns a snapshot of the direct entries of the directory
	// at path.
	ListEntries(ctx context.Context, path string) ([]Entry, error)

	LastModified(ctx context.Context, path string) (time.Time, error)
	SetLastModified(ctx context.Context, path string, t time.Time) error
}

// CleanPath normalizes a logical path to a rooted, slash-separated form.
func CleanPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// SplitPath returns the parent directory and base name of a cleaned path.
func SplitPath(p string) (dir, name string) {
	p = CleanPath(p)
	return path.Dir(p), path.Base(p)
}
