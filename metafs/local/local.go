package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwantia/vdisk/data"
	"github.com/mwantia/vdisk/metafs"
)

var _ metafs.MetadataFS = (*LocalFS)(nil)

// LocalFS stores metadata files as plain files under a root directory.
// Hard-link aliasing comes straight from the operating system: Link creates a
// native hard link, so every aliased path shares one inode and WriteFile
// (which truncates in place rather than replacing the file) is visible
// through all of them.
type LocalFS struct {
	root string
}

func NewLocalFS(root string) *LocalFS {
	return &LocalFS{root: root}
}

// Returns the identifier name defined for this backend
func (*LocalFS) Name() string {
	return "local"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (lf *LocalFS) Open(ctx context.Context) error {
	return os.MkdirAll(lf.root, 0755)
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (lf *LocalFS) Close(ctx context.Context) error {
	return nil
}

func (lf *LocalFS) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := os.Stat(lf.resolve(path)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (lf *LocalFS) IsFile(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(lf.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (lf *LocalFS) IsDirectory(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(lf.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (lf *LocalFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	content, err := os.ReadFile(lf.resolve(path))
	if err != nil {
		return nil, mapError(err)
	}
	return content, nil
}

func (lf *LocalFS) WriteFile(ctx context.Context, path string, content []byte, sync bool) error {
	// Truncate in place. Replacing via temp file and rename would detach the
	// file from its hard links.
	f, err := os.OpenFile(lf.resolve(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return mapError(err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		return err
	}

	if sync {
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}

	return f.Close()
}

func (lf *LocalFS) Rename(ctx context.Context, oldPath, newPath string) error {
	return mapError(os.Rename(lf.resolve(oldPath), lf.resolve(newPath)))
}

func (lf *LocalFS) Link(ctx context.Context, src, dst string) error {
	return mapError(os.Link(lf.resolve(src), lf.resolve(dst)))
}

func (lf *LocalFS) Unlink(ctx context.Context, path string) error {
	// os.Remove would happily delete an empty directory.
	info, err := os.Stat(lf.resolve(path))
	if err != nil {
		return mapError(err)
	}
	if info.IsDir() {
		return data.ErrIsDirectory
	}

	return mapError(os.Remove(lf.resolve(path)))
}

func (lf *LocalFS) CreateDirectory(ctx context.Context, path string) error {
	return mapError(os.Mkdir(lf.resolve(path), 0755))
}

func (lf *LocalFS) CreateDirectories(ctx context.Context, path string) error {
	return mapError(os.MkdirAll(lf.resolve(path), 0755))
}

func (lf *LocalFS) RemoveDirectory(ctx context.Context, path string) error {
	return mapError(os.Remove(lf.resolve(path)))
}

func (lf *LocalFS) ListEntries(ctx context.Context, path string) ([]metafs.Entry, error) {
	clean := metafs.CleanPath(path)

	dirents, err := os.ReadDir(lf.resolve(clean))
	if err != nil {
		return nil, mapError(err)
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

func (lf *LocalFS) LastModified(ctx context.Context, path string) (time.Time, error) {
	info, err := os.Stat(lf.resolve(path))
	if err != nil {
		return time.Time{}, mapError(err)
	}
	return info.ModTime(), nil
}

func (lf *LocalFS) SetLastModified(ctx context.Context, path string, t time.Time) error {
	return mapError(os.Chtimes(lf.resolve(path), t, t))
}

func (lf *LocalFS) resolve(path string) string {
	clean := strings.TrimPrefix(metafs.CleanPath(path), "/")
	return filepath.Join(lf.root, filepath.FromSlash(clean))
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return data.ErrNotExist
	case errors.Is(err, fs.ErrExist):
		return data.ErrExist
	default:
		return err
	}
}
