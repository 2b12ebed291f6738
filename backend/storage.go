package backend

import (
	"context"
	"io"
)

// ObjectStorage is the remote blob collaborator of a virtual disk. Objects
// are addressed by opaque keys; the disk composes keys from its configured
// remote root plus the relative key stored in metadata.
//
// Implementations own their retry and backoff policy. The disk performs no
// retries itself and issues exactly one DeleteObject call per key when the
// last reference to a metadata record is dropped.
type ObjectStorage interface {
	Backend

	// PutObject uploads size bytes read from r under the given key,
	// overwriting any existing object.
	PutObject(ctx context.Context, key string, r io.Reader, size int64) error

	// GetObject returns a stream over the object's bytes.
	// Returns data.ErrNotExist when no object is stored under key.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// DeleteObject removes the object stored under key.
	// Returns data.ErrNotExist when no object is stored under key.
	DeleteObject(ctx context.Context, key string) error
}
