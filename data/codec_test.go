package data

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestMetadata_AddObject(t *testing.T) {
	meta := NewMetadata("root/")

	meta.AddObject("obj1", 100)
	meta.AddObject("obj2", 50)
	meta.AddObject("obj3", 0)

	if meta.TotalSize != 150 {
		t.Errorf("Expected total size 150, got %d", meta.TotalSize)
	}
	if len(meta.Objects) != 3 {
		t.Fatalf("Expected 3 objects, got %d", len(meta.Objects))
	}

	// Order must reflect append order.
	for i, key := range []string{"obj1", "obj2", "obj3"} {
		if meta.Objects[i].Key != key {
			t.Errorf("Object %d: expected key %q, got %q", i, key, meta.Objects[i].Key)
		}
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	meta := NewMetadata("root/")
	meta.AddObject("obj1", 100)
	meta.AddObject("obj2", 50)
	meta.RefCount = 3
	meta.ReadOnly = true

	got, err := DecodeMetadata(EncodeMetadata(meta), "root/")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.TotalSize != meta.TotalSize {
		t.Errorf("Expected total size %d, got %d", meta.TotalSize, got.TotalSize)
	}
	if got.RefCount != meta.RefCount {
		t.Errorf("Expected ref count %d, got %d", meta.RefCount, got.RefCount)
	}
	if !got.ReadOnly {
		t.Error("Expected read-only flag to survive the round trip")
	}
	if len(got.Objects) != len(meta.Objects) {
		t.Fatalf("Expected %d objects, got %d", len(meta.Objects), len(got.Objects))
	}
	for i := range meta.Objects {
		if got.Objects[i] != meta.Objects[i] {
			t.Errorf("Object %d: expected %+v, got %+v", i, meta.Objects[i], got.Objects[i])
		}
	}
}

func TestCodec_RoundTrip_EscapedKeys(t *testing.T) {
	meta := NewMetadata("root/")
	meta.AddObject("dir\twith\ntabs\\and newlines", 7)

	got, err := DecodeMetadata(EncodeMetadata(meta), "root/")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.Objects[0].Key != meta.Objects[0].Key {
		t.Errorf("Expected key %q, got %q", meta.Objects[0].Key, got.Objects[0].Key)
	}
}

func TestCodec_AlwaysWritesNewestVersion(t *testing.T) {
	raw := EncodeMetadata(NewMetadata("root/"))

	if !strings.HasPrefix(string(raw), fmt.Sprintf("%d\n", VersionReadOnlyFlag)) {
		t.Errorf("Expected newest version header, got %q", string(raw))
	}
}

func TestCodec_LegacyAbsoluteKeys(t *testing.T) {
	raw := "1\n1\t100\n100\troot/obj1\n0\n"

	meta, err := DecodeMetadata([]byte(raw), "root/")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if meta.Objects[0].Key != "obj1" {
		t.Errorf("Expected stripped key \"obj1\", got %q", meta.Objects[0].Key)
	}
	if meta.ReadOnly {
		t.Error("Version 1 has no read-only flag, expected false")
	}
}

func TestCodec_LegacyKeyOutsideRoot(t *testing.T) {
	raw := "1\n1\t100\n100\tother/obj1\n0\n"

	if _, err := DecodeMetadata([]byte(raw), "root/"); !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat, got %v", err)
	}
}

func TestCodec_RelativeKeysWithoutFlag(t *testing.T) {
	raw := "2\n2\t150\n100\tobj1\n50\tobj2\n1\n"

	meta, err := DecodeMetadata([]byte(raw), "root/")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if meta.TotalSize != 150 || meta.RefCount != 1 || meta.ReadOnly {
		t.Errorf("Unexpected record: %+v", meta)
	}
}

func TestCodec_MaxRefCount(t *testing.T) {
	raw := "3\n0\t0\n4294967295\n0\n"

	meta, err := DecodeMetadata([]byte(raw), "root/")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if meta.RefCount != math.MaxUint32 {
		t.Errorf("Expected ref count %d, got %d", uint32(math.MaxUint32), meta.RefCount)
	}
}

func TestCodec_UnsupportedVersion(t *testing.T) {
	for _, raw := range []string{"0\n0\t0\n0\n0\n", "4\n0\t0\n0\n0\n"} {
		if _, err := DecodeMetadata([]byte(raw), "root/"); !errors.Is(err, ErrFormat) {
			t.Errorf("Raw %q: expected ErrFormat, got %v", raw, err)
		}
	}
}

func TestCodec_StructuralDefects(t *testing.T) {
	cases := map[string]string{
		"empty":              "",
		"missing separators": "3",
		"truncated header":   "3\n2\t",
		"missing objects":    "3\n2\t100\n",
		"garbage count":      "3\nx\t100\n0\n0\n",
		"truncated escape":   "3\n1\t1\n1\tkey\\",
		"bare tab in key":    "3\n1\t1\n1\ta\tb\n0\n0\n",
		"oversized refcount": "3\n0\t0\n4294967296\n0\n",
	}

	for name, raw := range cases {
		if _, err := DecodeMetadata([]byte(raw), "root/"); !errors.Is(err, ErrFormat) {
			t.Errorf("%s: expected ErrFormat, got %v", name, err)
		}
	}
}
