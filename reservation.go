package vdisk

import (
	"sync"

	"github.com/mwantia/vdisk/log"
)

// reservationTracker keeps per-disk capacity accounting. Critical sections
// are short and never perform I/O.
type reservationTracker struct {
	mu sync.Mutex

	diskName       string
	log            *log.Logger
	availableSpace func() uint64

	reservedBytes    uint64
	reservationCount uint32
}

func newReservationTracker(diskName string, space func() uint64, logger *log.Logger) *reservationTracker {
	return &reservationTracker{
		diskName:       diskName,
		log:            logger,
		availableSpace: space,
	}
}

// tryReserve claims bytes against the unreserved capacity. A zero-byte
// request always succeeds and only bumps the reservation count.
func (rt *reservationTracker) tryReserve(bytes uint64) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if bytes == 0 {
		rt.log.Debug("reserving 0 bytes on disk '%s'", rt.diskName)
		rt.reservationCount++
		return true
	}

	available := rt.availableSpace()
	unreserved := available - min(available, rt.reservedBytes)
	if unreserved >= bytes {
		rt.log.Debug("reserving %d bytes on disk '%s', having unreserved %d",
			bytes, rt.diskName, unreserved)
		rt.reservationCount++
		rt.reservedBytes += bytes
		return true
	}

	return false
}

func (rt *reservationTracker) reserve(bytes uint64) *Reservation {
	if !rt.tryReserve(bytes) {
		return nil
	}
	return &Reservation{tracker: rt, size: bytes}
}

// Reservation is a scoped claim against a disk's capacity, held for a
// pending write's duration. Callers release it on every exit path,
// typically via defer.
type Reservation struct {
	tracker  *reservationTracker
	size     uint64
	released bool
}

// Size returns the currently claimed byte count.
func (r *Reservation) Size() uint64 {
	r.tracker.mu.Lock()
	defer r.tracker.mu.Unlock()

	return r.size
}

// Update atomically resizes the claim.
func (r *Reservation) Update(newSize uint64) {
	r.tracker.mu.Lock()
	defer r.tracker.mu.Unlock()

	r.tracker.reservedBytes -= r.size
	r.size = newSize
	r.tracker.reservedBytes += newSize
}

// Release returns the claimed capacity. It never fails: bookkeeping drift
// from abnormal termination is clamped and logged instead. Releasing twice
// is a no-op.
func (r *Reservation) Release() {
	rt := r.tracker

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if r.released {
		return
	}
	r.released = true

	if rt.reservedBytes < r.size {
		rt.reservedBytes = 0
		rt.log.Error("unbalanced reservation size for disk '%s'", rt.diskName)
	} else {
		rt.reservedBytes -= r.size
	}

	if rt.reservationCount == 0 {
		rt.log.Error("unbalanced reservation count for disk '%s'", rt.diskName)
	} else {
		rt.reservationCount--
	}
}
