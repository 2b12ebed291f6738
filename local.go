package vdisk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwantia/vdisk/data"
	"github.com/mwantia/vdisk/log"
	"github.com/mwantia/vdisk/metafs"
)

var _ Disk = (*LocalDisk)(nil)

// LocalDisk is the purely local disk variant: file bytes live directly in
// files under a root directory, with no object store involved. It exists so
// callers can pick a disk implementation at configuration time without
// caring where the bytes end up.
type LocalDisk struct {
	name string
	root string

	log          *log.Logger
	reservations *reservationTracker
}

func NewLocalDisk(name, root string, opts ...DiskOption) (*LocalDisk, error) {
	options := newDefaultDiskOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	logger := options.Logger.Named(name)

	return &LocalDisk{
		name:         name,
		root:         root,
		log:          logger,
		reservations: newReservationTracker(name, options.AvailableSpace, logger),
	}, nil
}

// Name returns the configured disk name.
func (d *LocalDisk) Name() string {
	return d.name
}

// Open prepares the disk and its collaborators for use.
func (d *LocalDisk) Open(ctx context.Context) error {
	return os.MkdirAll(d.root, 0755)
}

// Close releases the disk's collaborators.
func (d *LocalDisk) Close(ctx context.Context) error {
	return nil
}

func (d *LocalDisk) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := os.Stat(d.resolve(path)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *LocalDisk) IsFile(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(d.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (d *LocalDisk) IsDirectory(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(d.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (d *LocalDisk) CreateFile(ctx context.Context, path string) error {
	f, err := os.OpenFile(d.resolve(path), os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (d *LocalDisk) FileSize(ctx context.Context, path string) (uint64, error) {
	info, err := os.Stat(d.resolve(path))
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

func (d *LocalDisk) MoveFile(ctx context.Context, src, dst string) error {
	exists, err := d.Exists(ctx, dst)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", data.ErrExist, dst)
	}

	return os.Rename(d.resolve(src), d.resolve(dst))
}

// ReplaceFile overwrites dst in one rename. Unlike the remote variant this
// is atomic, since the operating system's rename replaces in place.
func (d *LocalDisk) ReplaceFile(ctx context.Context, src, dst string) error {
	return os.Rename(d.resolve(src), d.resolve(dst))
}

func (d *LocalDisk) CreateHardLink(ctx context.Context, src, dst string) error {
	return os.Link(d.resolve(src), d.resolve(dst))
}

func (d *LocalDisk) RemoveFile(ctx context.Context, path string) error {
	isFile, err := d.IsFile(ctx, path)
	if err != nil {
		return err
	}
	if !isFile {
		exists, err := d.Exists(ctx, path)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("path '%s': %w", path, data.ErrNotExist)
		}
		return fmt.Errorf("path '%s': %w", path, data.ErrIsDirectory)
	}
	return os.Remove(d.resolve(path))
}

func (d *LocalDisk) RemoveFileIfExists(ctx context.Context, path string) error {
	exists, err := d.Exists(ctx, path)
	if err != nil || !exists {
		return err
	}
	return d.RemoveFile(ctx, path)
}

// RemoveSharedFile ignores keepRemote: a local disk has no remote objects
// to keep.
func (d *LocalDisk) RemoveSharedFile(ctx context.Context, path string, keepRemote bool) error {
	return d.RemoveFile(ctx, path)
}

func (d *LocalDisk) RemoveRecursive(ctx context.Context, path string) error {
	return d.removeRecursive(ctx, path, 0)
}

func (d *LocalDisk) RemoveSharedRecursive(ctx context.Context, path string, keepRemote bool) error {
	return d.removeRecursive(ctx, path, 0)
}

func (d *LocalDisk) removeRecursive(ctx context.Context, path string, depth int) error {
	if depth >= maxRemoveDepth {
		return fmt.Errorf("refusing to descend into '%s': %w", path, data.ErrTooDeep)
	}

	isFile, err := d.IsFile(ctx, path)
	if err != nil {
		return err
	}
	if isFile {
		return os.Remove(d.resolve(path))
	}

	entries, err := d.listEntries(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := d.removeRecursive(ctx, entry.Path, depth+1); err != nil {
			return err
		}
	}

	return os.Remove(d.resolve(path))
}

// SetReadOnly uses the permission bits; with file bytes stored locally there
// is no hard-linked metadata record to carry the flag instead.
func (d *LocalDisk) SetReadOnly(ctx context.Context, path string) error {
	return os.Chmod(d.resolve(path), 0444)
}

func (d *LocalDisk) CreateDirectory(ctx context.Context, path string) error {
	return os.Mkdir(d.resolve(path), 0755)
}

func (d *LocalDisk) CreateDirectories(ctx context.Context, path string) error {
	return os.MkdirAll(d.resolve(path), 0755)
}

func (d *LocalDisk) ClearDirectory(ctx context.Context, path string) error {
	entries, err := d.listEntries(path)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Dir {
			continue
		}
		if err := os.Remove(d.resolve(entry.Path)); err != nil {
			return err
		}
	}

	return nil
}

func (d *LocalDisk) RemoveDirectory(ctx context.Context, path string) error {
	return os.Remove(d.resolve(path))
}

func (d *LocalDisk) IterateDirectory(ctx context.Context, path string) (DirectoryIterator, error) {
	entries, err := d.listEntries(path)
	if err != nil {
		return nil, err
	}
	return newSliceIterator(entries), nil
}

func (d *LocalDisk) ListFiles(ctx context.Context, path string) ([]string, error) {
	entries, err := d.listEntries(path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	return names, nil
}

func (d *LocalDisk) LastModified(ctx context.Context, path string) (time.Time, error) {
	info, err := os.Stat(d.resolve(path))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (d *LocalDisk) SetLastModified(ctx context.Context, path string, t time.Time) error {
	return os.Chtimes(d.resolve(path), t, t)
}

func (d *LocalDisk) ReadFile(ctx context.Context, path string) (io.ReadCloser, error) {
	return os.Open(d.resolve(path))
}

func (d *LocalDisk) WriteFile(ctx context.Context, path string, mode WriteMode) (io.WriteCloser, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if mode == WriteModeAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return os.OpenFile(d.resolve(path), flags, 0644)
}

// Reserve claims capacity for a pending write; nil means insufficient
// unreserved space.
func (d *LocalDisk) Reserve(bytes uint64) *Reservation {
	return d.reservations.reserve(bytes)
}

func (d *LocalDisk) listEntries(path string) ([]metafs.Entry, error) {
	clean := metafs.CleanPath(path)

	dirents, err := os.ReadDir(d.resolve(clean))
	if err != nil {
		return nil, err
	}

	entries := make([]metafs.Entry, 0, len(dirents))
	for _, dirent := range dirents {
		entry := metafs.Entry{
			Name: dirent.Name(),
			Path: metafs.CleanPath(clean + "/" + dirent.Name()),
			Dir:  dirent.IsDir(),
		}
		if info, err := dirent.Info(); err == nil {
			entry.ModTime = info.ModTime()
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (d *LocalDisk) resolve(path string) string {
	clean := strings.TrimPrefix(metafs.CleanPath(path), "/")
	return filepath.Join(d.root, filepath.FromSlash(clean))
}
