package index

import (
	"fmt"
	"path/filepath"
	"testing"

	"dpdb/internal/digest"
	"dpdb/internal/sector"
	"dpdb/internal/storage"
)

func newTestIndex(t *testing.T) (*Index, int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx.dpdb")
	// A tiny fanout and bucket size so a handful of keys is enough to
	// force real bucket splits in these tests.
	st, err := storage.Open(path, storage.Config{ByteSize: sector.Medium, DigestSize: 16, MaxBuckets: 2, FanoutByte: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ix := New(st, digest.MD5{}, nil)
	root, err := ix.NewRoot()
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	return ix, root
}

func TestGetOrCreateThenLookup(t *testing.T) {
	ix, root := newTestIndex(t)

	off1, created, err := ix.GetOrCreate(root, "alpha")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatal("expected created=true for a new key")
	}

	off2, created, err := ix.GetOrCreate(root, "alpha")
	if err != nil {
		t.Fatalf("GetOrCreate (repeat): %v", err)
	}
	if created {
		t.Error("expected created=false on repeat insert")
	}
	if off1 != off2 {
		t.Errorf("repeat GetOrCreate returned a different offset: %d vs %d", off1, off2)
	}

	found, ok, err := ix.Lookup(root, "alpha")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || found != off1 {
		t.Errorf("Lookup = (%d, %v), want (%d, true)", found, ok, off1)
	}

	_, ok, err = ix.Lookup(root, "missing")
	if err != nil {
		t.Fatalf("Lookup missing: %v", err)
	}
	if ok {
		t.Error("expected Lookup miss for a key never inserted")
	}
}

func TestManyKeysForceSplitsAndStayFindable(t *testing.T) {
	ix, root := newTestIndex(t)

	n := 64
	offsets := make(map[string]int64, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%03d", i)
		off, created, err := ix.GetOrCreate(root, key)
		if err != nil {
			t.Fatalf("GetOrCreate(%s): %v", key, err)
		}
		if !created {
			t.Fatalf("GetOrCreate(%s): expected created=true", key)
		}
		offsets[key] = off
	}

	for key, want := range offsets {
		got, ok, err := ix.Lookup(root, key)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", key, err)
		}
		if !ok || got != want {
			t.Errorf("Lookup(%s) = (%d, %v), want (%d, true)", key, got, ok, want)
		}
	}
}

func TestRemoveEntry(t *testing.T) {
	ix, root := newTestIndex(t)

	off, _, err := ix.GetOrCreate(root, "gone")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	removed, found, err := ix.RemoveEntry(root, "gone")
	if err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}
	if !found || removed != off {
		t.Errorf("RemoveEntry = (%d, %v), want (%d, true)", removed, found, off)
	}

	_, ok, err := ix.Lookup(root, "gone")
	if err != nil {
		t.Fatalf("Lookup after remove: %v", err)
	}
	if ok {
		t.Error("expected Lookup miss after RemoveEntry")
	}

	// The freed slot is reusable by a later insert.
	if _, created, err := ix.GetOrCreate(root, "gone-again"); err != nil || !created {
		t.Fatalf("GetOrCreate after remove: created=%v err=%v", created, err)
	}
}

func TestIteratorVisitsEveryLiveEntry(t *testing.T) {
	ix, root := newTestIndex(t)

	want := map[int64]bool{}
	for i := 0; i < 40; i++ {
		off, _, err := ix.GetOrCreate(root, fmt.Sprintf("it-%02d", i))
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		want[off] = true
	}

	it := ix.NewIterator(root)
	got := map[int64]bool{}
	for {
		off, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got[off] = true
	}

	if len(got) != len(want) {
		t.Fatalf("iterator visited %d entries, want %d", len(got), len(want))
	}
	for off := range want {
		if !got[off] {
			t.Errorf("iterator missed offset %d", off)
		}
	}
}

func TestIteratorResumeFromCursor(t *testing.T) {
	ix, root := newTestIndex(t)
	for i := 0; i < 20; i++ {
		if _, _, err := ix.GetOrCreate(root, fmt.Sprintf("r-%02d", i)); err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
	}

	it := ix.NewIterator(root)
	first, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("Next: off=%d ok=%v err=%v", first, ok, err)
	}
	cursor := it.Save()

	resumed := ix.Resume(cursor)
	second, ok, err := resumed.Next()
	if err != nil || !ok {
		t.Fatalf("resumed Next: off=%d ok=%v err=%v", second, ok, err)
	}

	continued, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("continued Next: off=%d ok=%v err=%v", continued, ok, err)
	}
	if second != continued {
		t.Errorf("resumed iterator diverged from the original: %d vs %d", second, continued)
	}
}
