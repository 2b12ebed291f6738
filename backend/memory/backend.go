package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/mwantia/vdisk/backend"
	"github.com/mwantia/vdisk/data"
	"github.com/tidwall/btree"
)

var _ backend.ObjectStorage = (*MemoryStorage)(nil)

// MemoryStorage keeps disk objects in process memory. Besides serving as a
// lightweight stand-in for a remote store in tests, it records every delete
// request so callers can assert the disk's deletion protocol.
type MemoryStorage struct {
	mu sync.RWMutex

	objects *btree.Map[string, []byte]
	deleted []string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects: btree.NewMap[string, []byte](0),
	}
}

// Returns the identifier name defined for this backend
func (*MemoryStorage) Name() string {
	return "memory"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (ms *MemoryStorage) Open(ctx context.Context) error {
	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (ms *MemoryStorage) Close(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.objects.Clear()
	ms.deleted = nil

	return nil
}

func (ms *MemoryStorage) PutObject(ctx context.Context, key string, r io.Reader, size int64) error {
	value, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.objects.Set(key, value)
	return nil
}

func (ms *MemoryStorage) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	value, ok := ms.objects.Get(key)
	if !ok {
		return nil, data.ErrNotExist
	}

	return io.NopCloser(bytes.NewReader(value)), nil
}

func (ms *MemoryStorage) DeleteObject(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.deleted = append(ms.deleted, key)

	if _, ok := ms.objects.Get(key); !ok {
		return data.ErrNotExist
	}

	ms.objects.Delete(key)
	return nil
}

// Len returns the number of stored objects.
func (ms *MemoryStorage) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return ms.objects.Len()
}

// Deleted returns the keys of every delete request seen so far, in order,
// including requests for keys that did not exist.
func (ms *MemoryStorage) Deleted() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]string, len(ms.deleted))
	copy(out, ms.deleted)
	return out
}
