// Package vdisk exposes remote object storage behind a local-disk style
// surface: logical file paths, directories, renames and hard links, while
// file bytes live in a remote blob store addressed by opaque keys.
//
// Each logical file is represented by a small metadata record mapping the
// path to an ordered list of remote objects. Records are kept by a metadata
// filesystem (see metafs) and blobs by an object storage collaborator (see
// backend), both selected at configuration time.
package vdisk

import (
	"context"
	"io"
	"time"
)

// Disk is the capability set shared by all disk variants.
//
// Operations against the same logical path are not individually safe against
// concurrent mutation; callers serialize conflicting operations externally.
// The only internally synchronized state is the reservation accounting.
type Disk interface {
	// Name returns the configured disk name.
	Name() string

	// Open prepares the disk and its collaborators for use.
	Open(ctx context.Context) error
	// Close releases the disk's collaborators.
	Close(ctx context.Context) error

	// Exists reports whether any entry is present at path.
	Exists(ctx context.Context, path string) (bool, error)
	// IsFile reports whether path holds a file.
	IsFile(ctx context.Context, path string) (bool, error)
	// IsDirectory reports whether path holds a directory.
	IsDirectory(ctx context.Context, path string) (bool, error)

	// CreateFile creates an empty file at path. No remote I/O happens.
	CreateFile(ctx context.Context, path string) error

	// FileSize returns the file's logical size in bytes.
	FileSize(ctx context.Context, path string) (uint64, error)

	// MoveFile renames a path. Fails with data.ErrExist when dst is taken.
	// O(1) regardless of file size: only the path binding moves.
	MoveFile(ctx context.Context, src, dst string) error

	// ReplaceFile moves src over dst, dropping dst's previous content.
	ReplaceFile(ctx context.Context, src, dst string) error

	// CreateHardLink binds dst to the same file content as src.
	CreateHardLink(ctx context.Context, src, dst string) error

	// RemoveFile removes the path and, when it held the last reference,
	// the file's remote objects.
	RemoveFile(ctx context.Context, path string) error
	// RemoveFileIfExists is RemoveFile on a path that may be absent.
	RemoveFileIfExists(ctx context.Context, path string) error
	// RemoveSharedFile is RemoveFile with the option to leave remote
	// objects in place even when the last reference goes away.
	RemoveSharedFile(ctx context.Context, path string, keepRemote bool) error

	// RemoveRecursive removes a whole subtree depth-first.
	RemoveRecursive(ctx context.Context, path string) error
	// RemoveSharedRecursive is RemoveRecursive keeping remote objects.
	RemoveSharedRecursive(ctx context.Context, path string, keepRemote bool) error

	// SetReadOnly marks the file read-only for all paths sharing it.
	SetReadOnly(ctx context.Context, path string) error

	CreateDirectory(ctx context.Context, path string) error
	CreateDirectories(ctx context.Context, path string) error
	// ClearDirectory removes every file directly inside path.
	ClearDirectory(ctx context.Context, path string) error
	// RemoveDirectory removes an empty directory.
	RemoveDirectory(ctx context.Context, path string) error

	// IterateDirectory returns a fresh single-pass iterator over the
	// directory's entries. Each call starts a new traversal.
	IterateDirectory(ctx context.Context, path string) (DirectoryIterator, error)
	// ListFiles returns the names of the directory's entries.
	ListFiles(ctx context.Context, path string) ([]string, error)

	LastModified(ctx context.Context, path string) (time.Time, error)
	SetLastModified(ctx context.Context, path string, t time.Time) error

	// ReadFile streams the file's content in object order.
	ReadFile(ctx context.Context, path string) (io.ReadCloser, error)
	// WriteFile returns a writer whose content becomes visible when the
	// writer is closed.
	WriteFile(ctx context.Context, path string, mode WriteMode) (io.WriteCloser, error)

	// Reserve claims capacity for a pending write. It returns nil, not an
	// error, when the disk lacks unreserved space, so callers can fall
	// back to another disk. The handle must be released.
	Reserve(bytes uint64) *Reservation
}
