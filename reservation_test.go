package vdisk

import (
	"testing"

	"github.com/mwantia/vdisk/log"
)

func newTestTracker(available uint64) *reservationTracker {
	return newReservationTracker("test", func() uint64 { return available }, log.Discard())
}

func TestReservation_ZeroBytesAlwaysSucceeds(t *testing.T) {
	rt := newTestTracker(0)

	if !rt.tryReserve(0) {
		t.Fatal("Expected zero-byte reservation to succeed")
	}
	if rt.reservedBytes != 0 {
		t.Errorf("Expected reserved bytes unchanged, got %d", rt.reservedBytes)
	}
	if rt.reservationCount != 1 {
		t.Errorf("Expected reservation count 1, got %d", rt.reservationCount)
	}
}

func TestReservation_InsufficientSpace(t *testing.T) {
	rt := newTestTracker(100)

	if !rt.tryReserve(80) {
		t.Fatal("Expected reservation of 80/100 to succeed")
	}
	if rt.tryReserve(30) {
		t.Error("Expected reservation of 30 with only 20 unreserved to fail")
	}
	if rt.reservedBytes != 80 {
		t.Errorf("Expected reserved bytes unchanged at 80, got %d", rt.reservedBytes)
	}
	if rt.reservationCount != 1 {
		t.Errorf("Expected reservation count unchanged at 1, got %d", rt.reservationCount)
	}
}

func TestReservation_ReleaseRestores(t *testing.T) {
	rt := newTestTracker(100)

	res := rt.reserve(60)
	if res == nil {
		t.Fatal("Expected reservation to succeed")
	}
	if rt.reservedBytes != 60 || rt.reservationCount != 1 {
		t.Fatalf("Unexpected state after reserve: bytes=%d count=%d", rt.reservedBytes, rt.reservationCount)
	}

	res.Release()
	if rt.reservedBytes != 0 || rt.reservationCount != 0 {
		t.Errorf("Expected state restored, got bytes=%d count=%d", rt.reservedBytes, rt.reservationCount)
	}

	// Releasing twice must not underflow.
	res.Release()
	if rt.reservedBytes != 0 || rt.reservationCount != 0 {
		t.Errorf("Expected double release to be a no-op, got bytes=%d count=%d", rt.reservedBytes, rt.reservationCount)
	}
}

func TestReservation_ReserveNilOnFailure(t *testing.T) {
	rt := newTestTracker(10)

	if res := rt.reserve(20); res != nil {
		t.Error("Expected nil handle when capacity is insufficient")
	}
}

func TestReservation_Update(t *testing.T) {
	rt := newTestTracker(1000)

	res := rt.reserve(100)
	res.Update(250)

	if rt.reservedBytes != 250 {
		t.Errorf("Expected reserved bytes 250 after update, got %d", rt.reservedBytes)
	}
	if res.Size() != 250 {
		t.Errorf("Expected handle size 250, got %d", res.Size())
	}

	res.Release()
	if rt.reservedBytes != 0 {
		t.Errorf("Expected reserved bytes 0 after release, got %d", rt.reservedBytes)
	}
}

func TestReservation_DriftClampsToZero(t *testing.T) {
	rt := newTestTracker(1000)

	res := rt.reserve(100)

	// Simulate bookkeeping drift from an earlier abnormal release.
	rt.mu.Lock()
	rt.reservedBytes = 40
	rt.mu.Unlock()

	res.Release()
	if rt.reservedBytes != 0 {
		t.Errorf("Expected drifted release to clamp to zero, got %d", rt.reservedBytes)
	}
	if rt.reservationCount != 0 {
		t.Errorf("Expected reservation count 0, got %d", rt.reservationCount)
	}
}
