package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/vdisk/data"
	"github.com/mwantia/vdisk/metafs"
	"github.com/tidwall/btree"
)

var _ metafs.MetadataFS = (*MemoryFS)(nil)

// MemoryFS keeps metadata files in process memory. Hard-link aliasing is
// explicit: every path entry points at a content id, Link binds a second path
// to the same id, and content is dropped when its link count reaches zero.
type MemoryFS struct {
	mu sync.RWMutex

	// Sorted path index; directories carry an empty content id.
	entries  *btree.Map[string, *entry]
	contents map[string]*content
}

type entry struct {
	dir       bool
	contentID string
	modTime   time.Time
}

type content struct {
	bytes []byte
	links int
}

func NewMemoryFS() *MemoryFS {
	return &MemoryFS{
		entries:  btree.NewMap[string, *entry](0),
		contents: make(map[string]*content),
	}
}

// Returns the identifier name defined for this backend
func (*MemoryFS) Name() string {
	return "memory"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (mf *MemoryFS) Open(ctx context.Context) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	if _, ok := mf.entries.Get("/"); !ok {
		mf.entries.Set("/", &entry{dir: true, modTime: time.Now()})
	}

	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (mf *MemoryFS) Close(ctx context.Context) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	mf.entries.Clear()
	mf.contents = make(map[string]*content)

	return nil
}

func (mf *MemoryFS) Exists(ctx context.Context, path string) (bool, error) {
	mf.mu.RLock()
	defer mf.mu.RUnlock()

	_, ok := mf.entries.Get(metafs.CleanPath(path))
	return ok, nil
}

func (mf *MemoryFS) IsFile(ctx context.Context, path string) (bool, error) {
	mf.mu.RLock()
	defer mf.mu.RUnlock()

	ent, ok := mf.entries.Get(metafs.CleanPath(path))
	return ok && !ent.dir, nil
}

func (mf *MemoryFS) IsDirectory(ctx context.Context, path string) (bool, error) {
	mf.mu.RLock()
	defer mf.mu.RUnlock()

	ent, ok := mf.entries.Get(metafs.CleanPath(path))
	return ok && ent.dir, nil
}

func (mf *MemoryFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	mf.mu.RLock()
	defer mf.mu.RUnlock()

	ent, ok := mf.entries.Get(metafs.CleanPath(path))
	if !ok {
		return nil, data.ErrNotExist
	}
	if ent.dir {
		return nil, data.ErrIsDirectory
	}

	stored := mf.contents[ent.contentID]
	out := make([]byte, len(stored.bytes))
	copy(out, stored.bytes)
	return out, nil
}

func (mf *MemoryFS) WriteFile(ctx context.Context, path string, contentBytes []byte, sync bool) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	clean := metafs.CleanPath(path)

	ent, ok := mf.entries.Get(clean)
	if ok {
		if ent.dir {
			return data.ErrIsDirectory
		}
		// Write through to the shared content so aliases observe it.
		mf.contents[ent.contentID].bytes = append([]byte(nil), contentBytes...)
		ent.modTime = time.Now()
		return nil
	}

	if err := mf.requireParent(clean); err != nil {
		return err
	}

	id := uuid.Must(uuid.NewV7()).String()
	mf.contents[id] = &content{bytes: append([]byte(nil), contentBytes...), links: 1}
	mf.entries.Set(clean, &entry{contentID: id, modTime: time.Now()})

	return nil
}

func (mf *MemoryFS) Rename(ctx context.Context, oldPath, newPath string) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	oldClean := metafs.CleanPath(oldPath)
	newClean := metafs.CleanPath(newPath)

	ent, ok := mf.entries.Get(oldClean)
	if !ok {
		return data.ErrNotExist
	}
	if _, ok := mf.entries.Get(newClean); ok {
		return data.ErrExist
	}
	if err := mf.requireParent(newClean); err != nil {
		return err
	}

	if ent.dir {
		// Rebind every child path under the new prefix.
		prefix := oldClean + "/"
		var moved []string
		mf.entries.Ascend(prefix, func(key string, _ *entry) bool {
			if !strings.HasPrefix(key, prefix) {
				return false
			}
			moved = append(moved, key)
			return true
		})
		for _, key := range moved {
			child, _ := mf.entries.Get(key)
			mf.entries.Delete(key)
			mf.entries.Set(newClean+"/"+key[len(prefix):], child)
		}
	}

	mf.entries.Delete(oldClean)
	mf.entries.Set(newClean, ent)
	ent.modTime = time.Now()

	return nil
}

func (mf *MemoryFS) Link(ctx context.Context, src, dst string) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	srcClean := metafs.CleanPath(src)
	dstClean := metafs.CleanPath(dst)

	ent, ok := mf.entries.Get(srcClean)
	if !ok {
		return data.ErrNotExist
	}
	if ent.dir {
		return data.ErrIsDirectory
	}
	if _, ok := mf.entries.Get(dstClean); ok {
		return data.ErrExist
	}
	if err := mf.requireParent(dstClean); err != nil {
		return err
	}

	mf.contents[ent.contentID].links++
	mf.entries.Set(dstClean, &entry{contentID: ent.contentID, modTime: time.Now()})

	return nil
}

func (mf *MemoryFS) Unlink(ctx context.Context, path string) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	clean := metafs.CleanPath(path)

	ent, ok := mf.entries.Get(clean)
	if !ok {
		return data.ErrNotExist
	}
	if ent.dir {
		return data.ErrIsDirectory
	}

	stored := mf.contents[ent.contentID]
	stored.links--
	if stored.links <= 0 {
		delete(mf.contents, ent.contentID)
	}

	mf.entries.Delete(clean)
	return nil
}

func (mf *MemoryFS) CreateDirectory(ctx context.Context, path string) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	return mf.createDirectoryUnsafe(metafs.CleanPath(path))
}

func (mf *MemoryFS) CreateDirectories(ctx context.Context, path string) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	clean := metafs.CleanPath(path)

	// Build every missing segment from the root down.
	segments := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	current := ""
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		current += "/" + segment
		if ent, ok := mf.entries.Get(current); ok {
			if !ent.dir {
				return data.ErrNotDirectory
			}
			continue
		}
		if err := mf.createDirectoryUnsafe(current); err != nil {
			return err
		}
	}

	return nil
}

func (mf *MemoryFS) RemoveDirectory(ctx context.Context, path string) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	clean := metafs.CleanPath(path)

	ent, ok := mf.entries.Get(clean)
	if !ok {
		return data.ErrNotExist
	}
	if !ent.dir {
		return data.ErrNotDirectory
	}
	if len(mf.childrenUnsafe(clean)) > 0 {
		return data.ErrNotEmpty
	}

	mf.entries.Delete(clean)
	return nil
}

func (mf *MemoryFS) ListEntries(ctx context.Context, path string) ([]metafs.Entry, error) {
	mf.mu.RLock()
	defer mf.mu.RUnlock()

	clean := metafs.CleanPath(path)

	ent, ok := mf.entries.Get(clean)
	if !ok {
		return nil, data.ErrNotExist
	}
	if !ent.dir {
		return nil, data.ErrNotDirectory
	}

	return mf.childrenUnsafe(clean), nil
}

func (mf *MemoryFS) LastModified(ctx context.Context, path string) (time.Time, error) {
	mf.mu.RLock()
	defer mf.mu.RUnlock()

	ent, ok := mf.entries.Get(metafs.CleanPath(path))
	if !ok {
		return time.Time{}, data.ErrNotExist
	}
	return ent.modTime, nil
}

func (mf *MemoryFS) SetLastModified(ctx context.Context, path string, t time.Time) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	ent, ok := mf.entries.Get(metafs.CleanPath(path))
	if !ok {
		return data.ErrNotExist
	}
	ent.modTime = t
	return nil
}

// createDirectoryUnsafe creates one directory entry.
// MUST be called while holding the write lock.
func (mf *MemoryFS) createDirectoryUnsafe(clean string) error {
	if _, ok := mf.entries.Get(clean); ok {
		return data.ErrExist
	}
	if err := mf.requireParent(clean); err != nil {
		return err
	}

	mf.entries.Set(clean, &entry{dir: true, modTime: time.Now()})
	return nil
}

// childrenUnsafe returns the direct children of a directory path.
// MUST be called while holding at least the read lock.
func (mf *MemoryFS) childrenUnsafe(clean string) []metafs.Entry {
	prefix := clean + "/"
	if clean == "/" {
		prefix = "/"
	}

	var children []metafs.Entry
	mf.entries.Ascend(prefix, func(key string, ent *entry) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		rest := key[len(prefix):]
		if rest == "" || strings.Contains(rest, "/") {
			return true
		}
		children = append(children, metafs.Entry{
			Name:    rest,
			Path:    key,
			Dir:     ent.dir,
			ModTime: ent.modTime,
		})
		return true
	})

	return children
}

// requireParent verifies the parent of a cleaned path exists and is a
// directory. MUST be called while holding at least the read lock.
func (mf *MemoryFS) requireParent(clean string) error {
	dir, _ := metafs.SplitPath(clean)

	parent, ok := mf.entries.Get(dir)
	if !ok {
		return data.ErrNotExist
	}
	if !parent.dir {
		return data.ErrNotDirectory
	}

	return nil
}
