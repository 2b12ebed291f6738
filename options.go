package vdisk

import (
	"math"

	"github.com/mwantia/vdisk/log"
)

type DiskOptions struct {
	// Logger receives operational logging; discards by default.
	Logger *log.Logger

	// SyncMetadata forces a durable flush on every metadata save.
	SyncMetadata bool

	// AvailableSpace reports the disk's current free capacity for the
	// reservation accounting. Defaults to unlimited.
	AvailableSpace func() uint64
}

type DiskOption func(*DiskOptions) error

func newDefaultDiskOptions() *DiskOptions {
	return &DiskOptions{
		Logger:         log.Discard(),
		SyncMetadata:   false,
		AvailableSpace: func() uint64 { return math.MaxUint64 },
	}
}

func WithLogger(logger *log.Logger) DiskOption {
	return func(do *DiskOptions) error {
		do.Logger = logger
		return nil
	}
}

func WithSyncMetadata(sync bool) DiskOption {
	return func(do *DiskOptions) error {
		do.SyncMetadata = sync
		return nil
	}
}

func WithAvailableSpace(bytes uint64) DiskOption {
	return func(do *DiskOptions) error {
		do.AvailableSpace = func() uint64 { return bytes }
		return nil
	}
}

func WithAvailableSpaceFunc(space func() uint64) DiskOption {
	return func(do *DiskOptions) error {
		do.AvailableSpace = space
		return nil
	}
}
