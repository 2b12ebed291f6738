package vdisk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/mwantia/vdisk/data"
)

// WriteMode selects what happens to a file's existing content on WriteFile.
type WriteMode int

const (
	// WriteModeRewrite starts the file over with a fresh record.
	WriteModeRewrite WriteMode = iota
	// WriteModeAppend adds the written bytes after the existing content.
	WriteModeAppend
)

// ReadFile streams the file's bytes by fetching its remote objects in record
// order, one at a time.
func (d *RemoteDisk) ReadFile(ctx context.Context, path string) (io.ReadCloser, error) {
	meta, err := d.readMeta(ctx, path)
	if err != nil {
		return nil, err
	}

	return &objectReader{ctx: ctx, disk: d, meta: meta}, nil
}

// WriteFile buffers written bytes and, on Close, uploads them as one fresh
// remote object appended to the record. Nothing is visible on the disk
// until Close persists the updated record.
func (d *RemoteDisk) WriteFile(ctx context.Context, path string, mode WriteMode) (io.WriteCloser, error) {
	meta := data.NewMetadata(d.remoteRoot)

	exists, err := d.meta.Exists(ctx, path)
	if err != nil {
		return nil, err
	}

	if exists {
		existing, err := d.readMeta(ctx, path)
		switch {
		case err == nil:
			if existing.ReadOnly {
				return nil, fmt.Errorf("%w: %s", data.ErrReadOnly, path)
			}
			if mode == WriteModeAppend {
				meta = existing
			}
		case errors.Is(err, data.ErrFormat) && mode == WriteModeRewrite:
			// A rewrite over a corrupt record repairs it.
			d.log.Warn("rewriting unreadable metadata file '%s': %v", path, err)
		default:
			return nil, err
		}
	}

	return &objectWriter{ctx: ctx, disk: d, path: path, meta: meta}, nil
}

type objectReader struct {
	ctx  context.Context
	disk *RemoteDisk
	meta *data.Metadata

	index   int
	current io.ReadCloser
}

func (r *objectReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if r.index >= len(r.meta.Objects) {
				return 0, io.EOF
			}

			obj := r.meta.Objects[r.index]
			rc, err := r.disk.objects.GetObject(r.ctx, r.disk.remoteRoot+obj.Key)
			if err != nil {
				return 0, err
			}
			r.current = rc
		}

		n, err := r.current.Read(p)
		if err == io.EOF {
			r.current.Close()
			r.current = nil
			r.index++
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *objectReader) Close() error {
	if r.current != nil {
		err := r.current.Close()
		r.current = nil
		return err
	}
	return nil
}

type objectWriter struct {
	ctx  context.Context
	disk *RemoteDisk
	path string
	meta *data.Metadata

	buf    bytes.Buffer
	closed bool
}

func (w *objectWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *objectWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.buf.Len() > 0 {
		key := uuid.Must(uuid.NewV7()).String()
		size := int64(w.buf.Len())

		if err := w.disk.objects.PutObject(w.ctx, w.disk.remoteRoot+key, bytes.NewReader(w.buf.Bytes()), size); err != nil {
			return err
		}

		w.meta.AddObject(key, uint64(size))
	}

	return w.disk.saveMeta(w.ctx, w.path, w.meta)
}
