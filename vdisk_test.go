package vdisk_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mwantia/vdisk"
	"github.com/mwantia/vdisk/backend/memory"
	"github.com/mwantia/vdisk/data"
	"github.com/mwantia/vdisk/metafs"
	"github.com/mwantia/vdisk/metafs/local"
	memfs "github.com/mwantia/vdisk/metafs/memory"
	"github.com/mwantia/vdisk/metafs/sqlite"
)

type testDisk struct {
	disk    *vdisk.RemoteDisk
	meta    metafs.MetadataFS
	objects *memory.MemoryStorage
}

type testDiskFactory func(tst *testing.T, opts ...vdisk.DiskOption) *testDisk

func getTestDiskFactories() map[string]testDiskFactory {
	return map[string]testDiskFactory{
		"memory": func(tst *testing.T, opts ...vdisk.DiskOption) *testDisk {
			return newTestDisk(tst, memfs.NewMemoryFS(), opts...)
		},
		"local": func(tst *testing.T, opts ...vdisk.DiskOption) *testDisk {
			return newTestDisk(tst, local.NewLocalFS(tst.TempDir()), opts...)
		},
		"sqlite": func(tst *testing.T, opts ...vdisk.DiskOption) *testDisk {
			mfs, err := sqlite.NewSQLiteFS(":memory:")
			if err != nil {
				tst.Fatalf("NewSQLiteFS failed: %v", err)
			}
			return newTestDisk(tst, mfs, opts...)
		},
	}
}

func newTestDisk(tst *testing.T, mfs metafs.MetadataFS, opts ...vdisk.DiskOption) *testDisk {
	ctx := context.Background()

	objects := memory.NewMemoryStorage()
	disk, err := vdisk.NewRemoteDisk("test", "root/", mfs, objects, opts...)
	if err != nil {
		tst.Fatalf("NewRemoteDisk failed: %v", err)
	}

	if err := disk.Open(ctx); err != nil {
		tst.Fatalf("Open failed: %v", err)
	}
	tst.Cleanup(func() {
		disk.Close(ctx)
	})

	return &testDisk{disk: disk, meta: mfs, objects: objects}
}

func writeString(tst *testing.T, disk *vdisk.RemoteDisk, path, content string, mode vdisk.WriteMode) {
	ctx := context.Background()

	w, err := disk.WriteFile(ctx, path, mode)
	if err != nil {
		tst.Fatalf("WriteFile %s failed: %v", path, err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		tst.Fatalf("Write %s failed: %v", path, err)
	}
	if err := w.Close(); err != nil {
		tst.Fatalf("Close %s failed: %v", path, err)
	}
}

func readString(tst *testing.T, disk *vdisk.RemoteDisk, path string) string {
	ctx := context.Background()

	r, err := disk.ReadFile(ctx, path)
	if err != nil {
		tst.Fatalf("ReadFile %s failed: %v", path, err)
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		tst.Fatalf("ReadAll %s failed: %v", path, err)
	}
	return string(content)
}

func TestDisk_CreateFile(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			if err := td.disk.CreateFile(ctx, "/file.bin"); err != nil {
				t.Fatalf("CreateFile failed: %v", err)
			}

			exists, err := td.disk.Exists(ctx, "/file.bin")
			if err != nil || !exists {
				t.Fatalf("Expected file to exist, got exists=%v err=%v", exists, err)
			}

			isFile, err := td.disk.IsFile(ctx, "/file.bin")
			if err != nil || !isFile {
				t.Fatalf("Expected a file, got isFile=%v err=%v", isFile, err)
			}

			size, err := td.disk.FileSize(ctx, "/file.bin")
			if err != nil {
				t.Fatalf("FileSize failed: %v", err)
			}
			if size != 0 {
				t.Errorf("Expected size 0, got %d", size)
			}

			// Creation must not touch the object store.
			if td.objects.Len() != 0 {
				t.Errorf("Expected no remote objects, got %d", td.objects.Len())
			}
		})
	}
}

func TestDisk_WriteAndRead(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			writeString(t, td.disk, "/data.bin", "hello ", vdisk.WriteModeRewrite)
			writeString(t, td.disk, "/data.bin", "world", vdisk.WriteModeAppend)

			if got := readString(t, td.disk, "/data.bin"); got != "hello world" {
				t.Errorf("Expected %q, got %q", "hello world", got)
			}

			size, err := td.disk.FileSize(ctx, "/data.bin")
			if err != nil {
				t.Fatalf("FileSize failed: %v", err)
			}
			if size != uint64(len("hello world")) {
				t.Errorf("Expected size %d, got %d", len("hello world"), size)
			}

			// Two writers, two remote objects, reassembled by position.
			if td.objects.Len() != 2 {
				t.Errorf("Expected 2 remote objects, got %d", td.objects.Len())
			}
		})
	}
}

func TestDisk_Rewrite(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			td := factory(t)

			writeString(t, td.disk, "/data.bin", "old content", vdisk.WriteModeRewrite)
			writeString(t, td.disk, "/data.bin", "new", vdisk.WriteModeRewrite)

			if got := readString(t, td.disk, "/data.bin"); got != "new" {
				t.Errorf("Expected %q, got %q", "new", got)
			}
		})
	}
}

func TestDisk_MoveFile(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			writeString(t, td.disk, "/src.bin", "payload", vdisk.WriteModeRewrite)

			if err := td.disk.MoveFile(ctx, "/src.bin", "/dst.bin"); err != nil {
				t.Fatalf("MoveFile failed: %v", err)
			}

			if exists, _ := td.disk.Exists(ctx, "/src.bin"); exists {
				t.Error("Expected source to be gone")
			}
			if got := readString(t, td.disk, "/dst.bin"); got != "payload" {
				t.Errorf("Expected %q, got %q", "payload", got)
			}
		})
	}
}

func TestDisk_MoveFile_DestinationExists(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			writeString(t, td.disk, "/src.bin", "source", vdisk.WriteModeRewrite)
			writeString(t, td.disk, "/dst.bin", "destination", vdisk.WriteModeRewrite)

			if err := td.disk.MoveFile(ctx, "/src.bin", "/dst.bin"); !errors.Is(err, data.ErrExist) {
				t.Fatalf("Expected ErrExist, got %v", err)
			}

			// Neither record may have changed.
			if got := readString(t, td.disk, "/src.bin"); got != "source" {
				t.Errorf("Expected source untouched, got %q", got)
			}
			if got := readString(t, td.disk, "/dst.bin"); got != "destination" {
				t.Errorf("Expected destination untouched, got %q", got)
			}
		})
	}
}

func TestDisk_ReplaceFile(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			writeString(t, td.disk, "/src.bin", "fresh", vdisk.WriteModeRewrite)
			writeString(t, td.disk, "/dst.bin", "stale", vdisk.WriteModeRewrite)

			if err := td.disk.ReplaceFile(ctx, "/src.bin", "/dst.bin"); err != nil {
				t.Fatalf("ReplaceFile failed: %v", err)
			}

			if got := readString(t, td.disk, "/dst.bin"); got != "fresh" {
				t.Errorf("Expected %q, got %q", "fresh", got)
			}
			if exists, _ := td.disk.Exists(ctx, "/src.bin"); exists {
				t.Error("Expected source to be gone")
			}
			if exists, _ := td.disk.Exists(ctx, "/dst.bin.old"); exists {
				t.Error("Expected no stranded .old entry")
			}

			// The stale content's object must have been deleted remotely.
			if deleted := td.objects.Deleted(); len(deleted) != 1 {
				t.Errorf("Expected 1 remote delete, got %d", len(deleted))
			}
		})
	}
}

func TestDisk_ReplaceFile_MissingDestination(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			writeString(t, td.disk, "/src.bin", "fresh", vdisk.WriteModeRewrite)

			if err := td.disk.ReplaceFile(ctx, "/src.bin", "/dst.bin"); err != nil {
				t.Fatalf("ReplaceFile failed: %v", err)
			}
			if got := readString(t, td.disk, "/dst.bin"); got != "fresh" {
				t.Errorf("Expected %q, got %q", "fresh", got)
			}
		})
	}
}

// TestDisk_HardLinkSharing runs the full sharing protocol: linking bumps the
// shared ref count, removing one path decrements it without touching remote
// objects, and only removing the last path triggers remote deletion.
func TestDisk_HardLinkSharing(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			if err := td.disk.CreateFile(ctx, "/a"); err != nil {
				t.Fatalf("CreateFile failed: %v", err)
			}
			writeString(t, td.disk, "/a", "shared content", vdisk.WriteModeAppend)

			if err := td.disk.CreateHardLink(ctx, "/a", "/b"); err != nil {
				t.Fatalf("CreateHardLink failed: %v", err)
			}

			// Both paths see the same content.
			if got := readString(t, td.disk, "/b"); got != "shared content" {
				t.Errorf("Expected link to share content, got %q", got)
			}

			// A mutation through one path is visible through the other.
			if err := td.disk.SetReadOnly(ctx, "/b"); err != nil {
				t.Fatalf("SetReadOnly failed: %v", err)
			}
			if _, err := td.disk.WriteFile(ctx, "/a", vdisk.WriteModeAppend); !errors.Is(err, data.ErrReadOnly) {
				t.Errorf("Expected ErrReadOnly through the other path, got %v", err)
			}

			// Removing one path leaves the remote objects alone.
			if err := td.disk.RemoveFile(ctx, "/b"); err != nil {
				t.Fatalf("RemoveFile /b failed: %v", err)
			}
			if deleted := td.objects.Deleted(); len(deleted) != 0 {
				t.Fatalf("Expected no remote deletes yet, got %v", deleted)
			}
			if got := readString(t, td.disk, "/a"); got != "shared content" {
				t.Errorf("Expected survivor intact, got %q", got)
			}

			// Removing the last path deletes exactly one object per key.
			if err := td.disk.RemoveFile(ctx, "/a"); err != nil {
				t.Fatalf("RemoveFile /a failed: %v", err)
			}
			if deleted := td.objects.Deleted(); len(deleted) != 1 {
				t.Errorf("Expected exactly 1 remote delete, got %v", deleted)
			}
			if td.objects.Len() != 0 {
				t.Errorf("Expected object store empty, got %d objects", td.objects.Len())
			}
		})
	}
}

func TestDisk_RemoveSharedFile_KeepRemote(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			writeString(t, td.disk, "/keep.bin", "persist me", vdisk.WriteModeRewrite)

			if err := td.disk.RemoveSharedFile(ctx, "/keep.bin", true); err != nil {
				t.Fatalf("RemoveSharedFile failed: %v", err)
			}

			if exists, _ := td.disk.Exists(ctx, "/keep.bin"); exists {
				t.Error("Expected local entry to be gone")
			}
			if len(td.objects.Deleted()) != 0 {
				t.Error("Expected no remote deletes with keepRemote set")
			}
			if td.objects.Len() != 1 {
				t.Errorf("Expected remote object to survive, store has %d", td.objects.Len())
			}
		})
	}
}

func TestDisk_RemoveFile_OnDirectory(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			if err := td.disk.CreateDirectory(ctx, "/dir"); err != nil {
				t.Fatalf("CreateDirectory failed: %v", err)
			}

			if err := td.disk.RemoveFile(ctx, "/dir"); !errors.Is(err, data.ErrIsDirectory) {
				t.Errorf("Expected ErrIsDirectory, got %v", err)
			}
		})
	}
}

func TestDisk_RemoveFile_Missing(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			err := td.disk.RemoveFile(ctx, "/no-such-file")
			if !errors.Is(err, data.ErrNotExist) {
				t.Errorf("Expected ErrNotExist, got %v", err)
			}
			if errors.Is(err, data.ErrIsDirectory) {
				t.Error("Expected missing path not to be reported as a directory")
			}
		})
	}
}

func TestDisk_RemoveFileIfExists(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			if err := td.disk.RemoveFileIfExists(ctx, "/missing.bin"); err != nil {
				t.Errorf("Expected nil for missing path, got %v", err)
			}

			writeString(t, td.disk, "/present.bin", "x", vdisk.WriteModeRewrite)
			if err := td.disk.RemoveFileIfExists(ctx, "/present.bin"); err != nil {
				t.Errorf("RemoveFileIfExists failed: %v", err)
			}
			if exists, _ := td.disk.Exists(ctx, "/present.bin"); exists {
				t.Error("Expected file to be gone")
			}
		})
	}
}

// TestDisk_RemoveCorruptMetadata verifies the forced-unlink recovery: a
// record that fails to parse is logged and unlinked instead of blocking
// removal forever.
func TestDisk_RemoveCorruptMetadata(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			if err := td.meta.WriteFile(ctx, "/bad.bin", []byte("not a metadata file"), false); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}

			if _, err := td.disk.FileSize(ctx, "/bad.bin"); !errors.Is(err, data.ErrFormat) {
				t.Fatalf("Expected ErrFormat from FileSize, got %v", err)
			}

			if err := td.disk.RemoveFile(ctx, "/bad.bin"); err != nil {
				t.Fatalf("Expected forced unlink to succeed, got %v", err)
			}
			if exists, _ := td.disk.Exists(ctx, "/bad.bin"); exists {
				t.Error("Expected corrupt entry to be gone")
			}
		})
	}
}

func TestDisk_RemoveRecursive(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			if err := td.disk.CreateDirectories(ctx, "/tree/sub"); err != nil {
				t.Fatalf("CreateDirectories failed: %v", err)
			}
			writeString(t, td.disk, "/tree/a.bin", "a", vdisk.WriteModeRewrite)
			writeString(t, td.disk, "/tree/sub/b.bin", "b", vdisk.WriteModeRewrite)

			if err := td.disk.RemoveRecursive(ctx, "/tree"); err != nil {
				t.Fatalf("RemoveRecursive failed: %v", err)
			}

			if exists, _ := td.disk.Exists(ctx, "/tree"); exists {
				t.Error("Expected tree to be gone")
			}
			if len(td.objects.Deleted()) != 2 {
				t.Errorf("Expected 2 remote deletes, got %v", td.objects.Deleted())
			}
		})
	}
}

func TestDisk_ClearDirectory(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			if err := td.disk.CreateDirectories(ctx, "/dir/sub"); err != nil {
				t.Fatalf("CreateDirectories failed: %v", err)
			}
			writeString(t, td.disk, "/dir/a.bin", "a", vdisk.WriteModeRewrite)
			writeString(t, td.disk, "/dir/b.bin", "b", vdisk.WriteModeRewrite)

			if err := td.disk.ClearDirectory(ctx, "/dir"); err != nil {
				t.Fatalf("ClearDirectory failed: %v", err)
			}

			names, err := td.disk.ListFiles(ctx, "/dir")
			if err != nil {
				t.Fatalf("ListFiles failed: %v", err)
			}
			if len(names) != 1 || names[0] != "sub" {
				t.Errorf("Expected only subdirectory to survive, got %v", names)
			}
		})
	}
}

func TestDisk_IterateDirectory(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			if err := td.disk.CreateDirectory(ctx, "/dir"); err != nil {
				t.Fatalf("CreateDirectory failed: %v", err)
			}
			for _, file := range []string{"a.bin", "b.bin", "c.bin"} {
				writeString(t, td.disk, "/dir/"+file, "x", vdisk.WriteModeRewrite)
			}

			seen := map[string]string{}
			it, err := td.disk.IterateDirectory(ctx, "/dir")
			if err != nil {
				t.Fatalf("IterateDirectory failed: %v", err)
			}
			for ; it.Valid(); it.Next() {
				seen[it.Name()] = it.Path()
			}

			if len(seen) != 3 {
				t.Fatalf("Expected 3 entries, got %v", seen)
			}
			if seen["a.bin"] != "/dir/a.bin" {
				t.Errorf("Expected entry path /dir/a.bin, got %q", seen["a.bin"])
			}

			// A fresh call starts a new traversal.
			it, err = td.disk.IterateDirectory(ctx, "/dir")
			if err != nil {
				t.Fatalf("IterateDirectory failed: %v", err)
			}
			if !it.Valid() {
				t.Error("Expected fresh iterator to be valid")
			}
		})
	}
}

func TestDisk_SetReadOnly_SurvivesReload(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			writeString(t, td.disk, "/frozen.bin", "content", vdisk.WriteModeRewrite)
			if err := td.disk.SetReadOnly(ctx, "/frozen.bin"); err != nil {
				t.Fatalf("SetReadOnly failed: %v", err)
			}

			if _, err := td.disk.WriteFile(ctx, "/frozen.bin", vdisk.WriteModeAppend); !errors.Is(err, data.ErrReadOnly) {
				t.Errorf("Expected ErrReadOnly, got %v", err)
			}

			// Reading stays allowed.
			if got := readString(t, td.disk, "/frozen.bin"); got != "content" {
				t.Errorf("Expected %q, got %q", "content", got)
			}
		})
	}
}

func TestDisk_LastModified(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			writeString(t, td.disk, "/stamp.bin", "x", vdisk.WriteModeRewrite)

			want := time.Now().Add(-time.Hour).Truncate(time.Second)
			if err := td.disk.SetLastModified(ctx, "/stamp.bin", want); err != nil {
				t.Fatalf("SetLastModified failed: %v", err)
			}

			got, err := td.disk.LastModified(ctx, "/stamp.bin")
			if err != nil {
				t.Fatalf("LastModified failed: %v", err)
			}
			if !got.Truncate(time.Second).Equal(want) {
				t.Errorf("Expected %v, got %v", want, got)
			}
		})
	}
}

func TestDisk_Reservations(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			td := factory(t, vdisk.WithAvailableSpace(100))

			res := td.disk.Reserve(60)
			if res == nil {
				t.Fatal("Expected reservation of 60/100 to succeed")
			}

			if second := td.disk.Reserve(50); second != nil {
				second.Release()
				t.Error("Expected reservation beyond capacity to fail")
			}

			res.Release()

			// Capacity is available again once the handle is released.
			res = td.disk.Reserve(100)
			if res == nil {
				t.Fatal("Expected full reservation after release")
			}
			res.Release()
		})
	}
}

// TestDisk_RemoveRecursive_CyclicSymlink plants a self-referential symlink
// in a local metadata tree. The traversal has to terminate through the
// recursion guard instead of looping forever.
func TestDisk_RemoveRecursive_CyclicSymlink(t *testing.T) {
	ctx := context.Background()

	root := t.TempDir()
	td := newTestDisk(t, local.NewLocalFS(root))

	if err := td.disk.CreateDirectory(ctx, "/loop"); err != nil {
		t.Fatalf("CreateDirectory failed: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "loop"), filepath.Join(root, "loop", "self")); err != nil {
		t.Skipf("Symlinks unsupported: %v", err)
	}

	if err := td.disk.RemoveRecursive(ctx, "/loop"); !errors.Is(err, data.ErrTooDeep) {
		t.Errorf("Expected ErrTooDeep, got %v", err)
	}
}

// TestDisk_EndToEnd is the full lifecycle: create, append, share, and tear
// down a file across two hard-linked paths.
func TestDisk_EndToEnd(t *testing.T) {
	for name, factory := range getTestDiskFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td := factory(t)

			if err := td.disk.CreateFile(ctx, "/a"); err != nil {
				t.Fatalf("CreateFile failed: %v", err)
			}

			payload := make([]byte, 100)
			w, err := td.disk.WriteFile(ctx, "/a", vdisk.WriteModeAppend)
			if err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			if _, err := w.Write(payload); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			if size, _ := td.disk.FileSize(ctx, "/a"); size != 100 {
				t.Fatalf("Expected size 100, got %d", size)
			}

			if err := td.disk.CreateHardLink(ctx, "/a", "/b"); err != nil {
				t.Fatalf("CreateHardLink failed: %v", err)
			}

			if err := td.disk.RemoveFile(ctx, "/b"); err != nil {
				t.Fatalf("RemoveFile /b failed: %v", err)
			}
			if exists, _ := td.disk.Exists(ctx, "/b"); exists {
				t.Error("Expected /b to be gone")
			}
			if exists, _ := td.disk.Exists(ctx, "/a"); !exists {
				t.Error("Expected /a to survive")
			}
			if len(td.objects.Deleted()) != 0 {
				t.Errorf("Expected no remote deletes yet, got %v", td.objects.Deleted())
			}

			if err := td.disk.RemoveFile(ctx, "/a"); err != nil {
				t.Fatalf("RemoveFile /a failed: %v", err)
			}
			if deleted := td.objects.Deleted(); len(deleted) != 1 {
				t.Errorf("Expected exactly 1 remote delete, got %v", deleted)
			}
		})
	}
}
