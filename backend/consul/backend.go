package consul

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/vdisk/backend"
	"github.com/mwantia/vdisk/data"
)

var _ backend.ObjectStorage = (*ConsulStorage)(nil)

// Consul KV rejects values above 512KB; suitable for small-object disks only.
const maxObjectSize = 512 * 1024

// ConsulStorage stores disk objects in Consul's key-value store under a
// common key prefix.
type ConsulStorage struct {
	kv     *api.KV
	prefix string
}

func NewConsulStorage(config *api.Config, prefix string) (*ConsulStorage, error) {
	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}

	return &ConsulStorage{
		kv:     client.KV(),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Returns the identifier name defined for this backend
func (*ConsulStorage) Name() string {
	return "consul"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (cs *ConsulStorage) Open(ctx context.Context) error {
	// Probe the KV endpoint so misconfiguration fails early.
	_, _, err := cs.kv.Keys(cs.prefix, "/", (&api.QueryOptions{}).WithContext(ctx))
	return err
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (cs *ConsulStorage) Close(ctx context.Context) error {
	return nil
}

func (cs *ConsulStorage) PutObject(ctx context.Context, key string, r io.Reader, size int64) error {
	if size > maxObjectSize {
		return fmt.Errorf("object size %d exceeds consul KV limit of %d bytes", size, maxObjectSize)
	}

	value, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return err
	}

	pair := &api.KVPair{
		Key:   cs.buildKey(key),
		Value: value,
	}

	_, err = cs.kv.Put(pair, (&api.WriteOptions{}).WithContext(ctx))
	return err
}

func (cs *ConsulStorage) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	pair, _, err := cs.kv.Get(cs.buildKey(key), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, data.ErrNotExist
	}

	return io.NopCloser(bytes.NewReader(pair.Value)), nil
}

func (cs *ConsulStorage) DeleteObject(ctx context.Context, key string) error {
	consulKey := cs.buildKey(key)

	pair, _, err := cs.kv.Get(consulKey, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return err
	}
	if pair == nil {
		return data.ErrNotExist
	}

	_, err = cs.kv.Delete(consulKey, (&api.WriteOptions{}).WithContext(ctx))
	return err
}

func (cs *ConsulStorage) buildKey(key string) string {
	if cs.prefix == "" {
		return strings.TrimPrefix(key, "/")
	}
	return cs.prefix + "/" + strings.TrimPrefix(key, "/")
}
