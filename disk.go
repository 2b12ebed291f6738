package vdisk

import (
	"context"
	"fmt"
	"time"

	"github.com/mwantia/vdisk/backend"
	"github.com/mwantia/vdisk/data"
	"github.com/mwantia/vdisk/log"
	"github.com/mwantia/vdisk/metafs"
)

var _ Disk = (*RemoteDisk)(nil)

// RemoteDisk is the object-storage backed disk variant. File bytes live in
// the object store; every logical path maps to a metadata record kept by the
// metadata filesystem.
type RemoteDisk struct {
	name       string
	remoteRoot string

	meta    metafs.MetadataFS
	objects backend.ObjectStorage

	log          *log.Logger
	syncMetadata bool
	reservations *reservationTracker
}

// NewRemoteDisk composes a remote disk from its collaborators. The
// remoteRoot prefixes every object key this disk touches in the object
// store.
func NewRemoteDisk(name, remoteRoot string, meta metafs.MetadataFS, objects backend.ObjectStorage, opts ...DiskOption) (*RemoteDisk, error) {
	options := newDefaultDiskOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	logger := options.Logger.Named(name)

	return &RemoteDisk{
		name:         name,
		remoteRoot:   remoteRoot,
		meta:         meta,
		objects:      objects,
		log:          logger,
		syncMetadata: options.SyncMetadata,
		reservations: newReservationTracker(name, options.AvailableSpace, logger),
	}, nil
}

// Name returns the configured disk name.
func (d *RemoteDisk) Name() string {
	return d.name
}

// Open prepares the disk and its collaborators for use.
func (d *RemoteDisk) Open(ctx context.Context) error {
	if err := d.meta.Open(ctx); err != nil {
		return err
	}
	return d.objects.Open(ctx)
}

// Close releases the disk's collaborators.
func (d *RemoteDisk) Close(ctx context.Context) error {
	if err := d.meta.Close(ctx); err != nil {
		d.objects.Close(ctx)
		return err
	}
	return d.objects.Close(ctx)
}

func (d *RemoteDisk) Exists(ctx context.Context, path string) (bool, error) {
	return d.meta.Exists(ctx, path)
}

func (d *RemoteDisk) IsFile(ctx context.Context, path string) (bool, error) {
	return d.meta.IsFile(ctx, path)
}

func (d *RemoteDisk) IsDirectory(ctx context.Context, path string) (bool, error) {
	return d.meta.IsDirectory(ctx, path)
}

// CreateFile persists an empty metadata record. The object store is not
// involved.
func (d *RemoteDisk) CreateFile(ctx context.Context, path string) error {
	return d.saveMeta(ctx, path, data.NewMetadata(d.remoteRoot))
}

func (d *RemoteDisk) FileSize(ctx context.Context, path string) (uint64, error) {
	meta, err := d.readMeta(ctx, path)
	if err != nil {
		return 0, err
	}
	return meta.TotalSize, nil
}

// MoveFile renames the metadata entry only; remote objects are untouched,
// so the cost is independent of file size.
func (d *RemoteDisk) MoveFile(ctx context.Context, src, dst string) error {
	exists, err := d.meta.Exists(ctx, dst)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", data.ErrExist, dst)
	}

	return d.meta.Rename(ctx, src, dst)
}

// ReplaceFile moves src over an existing dst via a dst -> dst.old -> delete
// sequence. The sequence is not crash-atomic: a failure in between can leave
// a stranded ".old" entry or a missing destination, which callers must be
// prepared to repair.
func (d *RemoteDisk) ReplaceFile(ctx context.Context, src, dst string) error {
	exists, err := d.meta.Exists(ctx, dst)
	if err != nil {
		return err
	}

	if exists {
		old := dst + ".old"
		if err := d.MoveFile(ctx, dst, old); err != nil {
			return err
		}
		if err := d.MoveFile(ctx, src, dst); err != nil {
			return err
		}
		return d.RemoveFile(ctx, old)
	}

	return d.MoveFile(ctx, src, dst)
}

// CreateHardLink bumps the source record's reference count and binds dst to
// the same record content. Concurrent hard-link creation against one source
// must be serialized by the caller.
func (d *RemoteDisk) CreateHardLink(ctx context.Context, src, dst string) error {
	meta, err := d.readMeta(ctx, src)
	if err != nil {
		return err
	}

	meta.RefCount++
	if err := d.saveMeta(ctx, src, meta); err != nil {
		return err
	}

	return d.meta.Link(ctx, src, dst)
}

func (d *RemoteDisk) RemoveFile(ctx context.Context, path string) error {
	return d.removeMeta(ctx, path, false)
}

func (d *RemoteDisk) RemoveFileIfExists(ctx context.Context, path string) error {
	exists, err := d.meta.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return d.removeMeta(ctx, path, false)
}

func (d *RemoteDisk) RemoveSharedFile(ctx context.Context, path string, keepRemote bool) error {
	return d.removeMeta(ctx, path, keepRemote)
}

func (d *RemoteDisk) RemoveRecursive(ctx context.Context, path string) error {
	return d.removeMetaRecursive(ctx, path, false, 0)
}

func (d *RemoteDisk) RemoveSharedRecursive(ctx context.Context, path string, keepRemote bool) error {
	return d.removeMetaRecursive(ctx, path, keepRemote, 0)
}

// SetReadOnly stores the flag inside the metadata record rather than as a
// filesystem permission bit, so it stays consistent across hard-linked paths
// and process restarts.
func (d *RemoteDisk) SetReadOnly(ctx context.Context, path string) error {
	meta, err := d.readMeta(ctx, path)
	if err != nil {
		return err
	}

	meta.ReadOnly = true
	return d.saveMeta(ctx, path, meta)
}

func (d *RemoteDisk) CreateDirectory(ctx context.Context, path string) error {
	return d.meta.CreateDirectory(ctx, path)
}

func (d *RemoteDisk) CreateDirectories(ctx context.Context, path string) error {
	return d.meta.CreateDirectories(ctx, path)
}

// ClearDirectory removes every file directly inside path, leaving
// subdirectories alone.
func (d *RemoteDisk) ClearDirectory(ctx context.Context, path string) error {
	entries, err := d.meta.ListEntries(ctx, path)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Dir {
			continue
		}
		if err := d.RemoveFile(ctx, entry.Path); err != nil {
			return err
		}
	}

	return nil
}

func (d *RemoteDisk) RemoveDirectory(ctx context.Context, path string) error {
	return d.meta.RemoveDirectory(ctx, path)
}

func (d *RemoteDisk) IterateDirectory(ctx context.Context, path string) (DirectoryIterator, error) {
	entries, err := d.meta.ListEntries(ctx, path)
	if err != nil {
		return nil, err
	}
	return newSliceIterator(entries), nil
}

func (d *RemoteDisk) ListFiles(ctx context.Context, path string) ([]string, error) {
	entries, err := d.meta.ListEntries(ctx, path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	return names, nil
}

func (d *RemoteDisk) LastModified(ctx context.Context, path string) (time.Time, error) {
	return d.meta.LastModified(ctx, path)
}

func (d *RemoteDisk) SetLastModified(ctx context.Context, path string, t time.Time) error {
	return d.meta.SetLastModified(ctx, path, t)
}

// Reserve claims capacity for a pending write; nil means insufficient
// unreserved space.
func (d *RemoteDisk) Reserve(bytes uint64) *Reservation {
	return d.reservations.reserve(bytes)
}
