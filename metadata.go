package vdisk

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/vdisk/data"
)

// maxRemoveDepth bounds recursive removal. Cyclic structures, such as a
// self-referential symlink inside the metadata tree, would otherwise recurse
// forever; hitting the bound fails the whole operation.
const maxRemoveDepth = 128

// readMeta loads and decodes the metadata record at path.
func (d *RemoteDisk) readMeta(ctx context.Context, path string) (*data.Metadata, error) {
	raw, err := d.meta.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return data.DecodeMetadata(raw, d.remoteRoot)
}

// saveMeta persists the record, always in the newest format layout.
func (d *RemoteDisk) saveMeta(ctx context.Context, path string, meta *data.Metadata) error {
	return d.meta.WriteFile(ctx, path, data.EncodeMetadata(meta), d.syncMetadata)
}

// removeMeta unlinks one logical path, applying the reference-count
// protocol: with no further references the remote objects go too, unless
// keepRemote is set.
//
// A record that cannot be parsed is unlinked anyway: its remote objects are
// unreachable either way, and keeping the broken entry around helps nobody.
// Every other load failure propagates.
func (d *RemoteDisk) removeMeta(ctx context.Context, path string, keepRemote bool) error {
	d.log.Debug("removing file by path '%s'", path)

	isFile, err := d.meta.IsFile(ctx, path)
	if err != nil {
		return err
	}
	if !isFile {
		exists, err := d.meta.Exists(ctx, path)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("path '%s': %w", path, data.ErrNotExist)
		}
		return fmt.Errorf("path '%s': %w", path, data.ErrIsDirectory)
	}

	meta, err := d.readMeta(ctx, path)
	if err != nil {
		if errors.Is(err, data.ErrFormat) {
			d.log.Warn("metadata file '%s' cannot be read, removing it forcibly: %v", path, err)
			return d.meta.Unlink(ctx, path)
		}
		return err
	}

	// No other path references this record; drop the remote content too.
	if meta.RefCount == 0 {
		if err := d.meta.Unlink(ctx, path); err != nil {
			return err
		}
		if !keepRemote {
			d.removeRemoteObjects(ctx, meta)
		}
		return nil
	}

	meta.RefCount--
	if err := d.saveMeta(ctx, path, meta); err != nil {
		return err
	}
	return d.meta.Unlink(ctx, path)
}

// removeRemoteObjects issues one delete request per object key. Individual
// failures are logged and skipped, never combined into a returned error;
// the object store collaborator owns retries.
func (d *RemoteDisk) removeRemoteObjects(ctx context.Context, meta *data.Metadata) {
	for _, obj := range meta.Objects {
		key := d.remoteRoot + obj.Key
		if err := d.objects.DeleteObject(ctx, key); err != nil {
			d.log.Error("failed to delete remote object '%s': %v", key, err)
		}
	}
}

// removeMetaRecursive walks the subtree depth-first, removing files through
// removeMeta and directories once they are empty.
func (d *RemoteDisk) removeMetaRecursive(ctx context.Context, path string, keepRemote bool, depth int) error {
	if depth >= maxRemoveDepth {
		return fmt.Errorf("refusing to descend into '%s': %w", path, data.ErrTooDeep)
	}

	isFile, err := d.meta.IsFile(ctx, path)
	if err != nil {
		return err
	}

	if isFile {
		return d.removeMeta(ctx, path, keepRemote)
	}

	entries, err := d.meta.ListEntries(ctx, path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := d.removeMetaRecursive(ctx, entry.Path, keepRemote, depth+1); err != nil {
			return err
		}
	}

	return d.meta.RemoveDirectory(ctx, path)
}
