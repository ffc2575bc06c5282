package keylocator

import (
	"path/filepath"
	"testing"

	"dpdb/internal/sector"
	"dpdb/internal/storage"
)

func newTestKL(t *testing.T) (*KeyLocator, int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kl.dpdb")
	st, err := storage.Open(path, storage.Config{ByteSize: sector.Medium, DigestSize: 16, MaxBuckets: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	off, err := st.RequestSpace(sector.ClassKeyLocator)
	if err != nil {
		t.Fatalf("RequestSpace: %v", err)
	}
	content, err := sector.EncodeKeyLocatorNode(st.Sizes(), sector.NewKeyLocatorNode(st.Sizes(), []byte("k")))
	if err != nil {
		t.Fatalf("EncodeKeyLocatorNode: %v", err)
	}
	frame, err := sector.EncodeFrame(st.Sizes(), sector.TypeKeyLocator, content)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if err := st.WriteAt(off, frame); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	return New(st, nil), off
}

func TestWriteHeadDirectThenReadFor(t *testing.T) {
	kl, off := newTestKL(t)

	if err := kl.WriteHeadDirect(off, 4096, false); err != nil {
		t.Fatalf("WriteHeadDirect: %v", err)
	}
	v, deleted, found, err := kl.ReadFor(off, 0)
	if err != nil {
		t.Fatalf("ReadFor: %v", err)
	}
	if !found || v != 4096 || deleted {
		t.Errorf("ReadFor(HEAD) = (%d, %v, %v), want (4096, false, true)", v, deleted, found)
	}
}

func TestTxnWriteIsolatedUntilCommit(t *testing.T) {
	kl, off := newTestKL(t)

	if err := kl.WriteHeadDirect(off, 100, false); err != nil {
		t.Fatalf("seed HEAD: %v", err)
	}

	const tid = 5
	if err := kl.WriteTxnSlot(off, tid, 200, false); err != nil {
		t.Fatalf("WriteTxnSlot: %v", err)
	}

	// The transaction sees its own write.
	v, _, _, err := kl.ReadFor(off, tid)
	if err != nil || v != 200 {
		t.Fatalf("ReadFor(tid) = %d, err=%v, want 200", v, err)
	}
	// Everyone outside the transaction still sees the old HEAD.
	v, _, _, err = kl.ReadFor(off, 0)
	if err != nil || v != 100 {
		t.Fatalf("ReadFor(HEAD) = %d, err=%v, want 100", v, err)
	}

	if err := kl.CommitToHead(off, tid, nil); err != nil {
		t.Fatalf("CommitToHead: %v", err)
	}
	v, _, _, err = kl.ReadFor(off, 0)
	if err != nil || v != 200 {
		t.Fatalf("ReadFor(HEAD) after commit = %d, err=%v, want 200", v, err)
	}
	// tid's slot was freed by the commit.
	slots, err := kl.Slots(off)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	inUse := 0
	for _, s := range slots {
		if s.InUse() {
			inUse++
		}
	}
	if inUse != 1 {
		t.Errorf("in-use slots after commit = %d, want 1 (HEAD only)", inUse)
	}
	vacant, err := kl.Vacant(off)
	if err != nil {
		t.Fatalf("Vacant: %v", err)
	}
	if vacant {
		t.Error("HEAD slot is in use, locator should not be vacant")
	}
}

func TestRollbackDiscardsTxnSlot(t *testing.T) {
	kl, off := newTestKL(t)
	if err := kl.WriteHeadDirect(off, 100, false); err != nil {
		t.Fatalf("seed HEAD: %v", err)
	}
	const tid = 7
	if err := kl.WriteTxnSlot(off, tid, 999, false); err != nil {
		t.Fatalf("WriteTxnSlot: %v", err)
	}
	if err := kl.Rollback(off, tid, nil); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	v, _, _, err := kl.ReadFor(off, 0)
	if err != nil || v != 100 {
		t.Fatalf("ReadFor(HEAD) after rollback = %d, err=%v, want 100", v, err)
	}
	v, _, found, err := kl.ReadFor(off, tid)
	if err != nil {
		t.Fatalf("ReadFor(tid) after rollback: %v", err)
	}
	// tid no longer has its own slot, so it falls back to HEAD.
	if !found || v != 100 {
		t.Errorf("ReadFor(tid) after rollback = (%d, %v), want fallback to HEAD (100, true)", v, found)
	}
}

func TestProtectSnapshotsHeadForOtherOpenTxns(t *testing.T) {
	kl, off := newTestKL(t)
	if err := kl.WriteHeadDirect(off, 111, false); err != nil {
		t.Fatalf("seed HEAD: %v", err)
	}

	// tid 9 is about to mutate HEAD; tid 3 is another open transaction
	// that hasn't touched this key yet and must keep seeing the old value.
	protected, err := kl.Protect(off, 9, []uint8{9, 3})
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if len(protected) != 1 || protected[0] != 3 {
		t.Fatalf("Protect returned %v, want [3]", protected)
	}

	if err := kl.WriteHeadDirect(off, 222, false); err != nil {
		t.Fatalf("mutate HEAD: %v", err)
	}

	v, _, _, err := kl.ReadFor(off, 3)
	if err != nil || v != 111 {
		t.Fatalf("ReadFor(tid 3) = %d, err=%v, want 111 (protected snapshot)", v, err)
	}
	v, _, _, err = kl.ReadFor(off, 0)
	if err != nil || v != 222 {
		t.Fatalf("ReadFor(HEAD) = %d, err=%v, want 222", v, err)
	}
}

func TestRollbackFreesValueUniqueToTheDiscardedSlot(t *testing.T) {
	kl, off := newTestKL(t)
	if err := kl.WriteHeadDirect(off, 100, false); err != nil {
		t.Fatalf("seed HEAD: %v", err)
	}
	const tid = 7
	if err := kl.WriteTxnSlot(off, tid, 999, false); err != nil {
		t.Fatalf("WriteTxnSlot: %v", err)
	}

	var freed []int64
	free := func(v int64) error { freed = append(freed, v); return nil }
	if err := kl.Rollback(off, tid, free); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(freed) != 1 || freed[0] != 999 {
		t.Errorf("freed = %v, want [999] (the tid's own uncommitted write)", freed)
	}
}

func TestRollbackDoesNotFreeValueStillHeldByHead(t *testing.T) {
	kl, off := newTestKL(t)
	if err := kl.WriteHeadDirect(off, 100, false); err != nil {
		t.Fatalf("seed HEAD: %v", err)
	}
	const tid = 7
	// A transactional delete writes HEAD's own current value into the
	// tid slot with deleted=true (map.Delete's pattern) rather than a
	// fresh value.
	if err := kl.WriteTxnSlot(off, tid, 100, true); err != nil {
		t.Fatalf("WriteTxnSlot: %v", err)
	}

	freeCalled := false
	free := func(int64) error { freeCalled = true; return nil }
	if err := kl.Rollback(off, tid, free); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if freeCalled {
		t.Error("Rollback freed a value HEAD's own slot still references")
	}
	v, _, _, err := kl.ReadFor(off, 0)
	if err != nil || v != 100 {
		t.Fatalf("ReadFor(HEAD) after rollback = %d, err=%v, want 100 (untouched)", v, err)
	}
}

func TestCommitToHeadFreesSupersededHeadValue(t *testing.T) {
	kl, off := newTestKL(t)
	if err := kl.WriteHeadDirect(off, 100, false); err != nil {
		t.Fatalf("seed HEAD: %v", err)
	}
	const tid = 5
	if err := kl.WriteTxnSlot(off, tid, 200, false); err != nil {
		t.Fatalf("WriteTxnSlot: %v", err)
	}

	var freed []int64
	free := func(v int64) error { freed = append(freed, v); return nil }
	if err := kl.CommitToHead(off, tid, free); err != nil {
		t.Fatalf("CommitToHead: %v", err)
	}
	if len(freed) != 1 || freed[0] != 100 {
		t.Errorf("freed = %v, want [100] (the HEAD value the commit replaced)", freed)
	}
}

func TestCommitToHeadDoesNotFreeValueStillProtectedForAnotherTxn(t *testing.T) {
	kl, off := newTestKL(t)
	if err := kl.WriteHeadDirect(off, 100, false); err != nil {
		t.Fatalf("seed HEAD: %v", err)
	}
	// tid 3 has a protective snapshot of the old HEAD value, as
	// internal/txn.ProtectAgainst would create before tid 5 writes.
	if err := kl.WriteTxnSlot(off, 3, 100, false); err != nil {
		t.Fatalf("protect tid 3: %v", err)
	}
	if err := kl.WriteTxnSlot(off, 5, 200, false); err != nil {
		t.Fatalf("WriteTxnSlot: %v", err)
	}

	freeCalled := false
	free := func(int64) error { freeCalled = true; return nil }
	if err := kl.CommitToHead(off, 5, free); err != nil {
		t.Fatalf("CommitToHead: %v", err)
	}
	if freeCalled {
		t.Error("CommitToHead freed a value tid 3's protective snapshot still references")
	}
}

func TestSlotTableFullReturnsError(t *testing.T) {
	kl, off := newTestKL(t) // MaxBuckets=4

	if err := kl.WriteHeadDirect(off, 1, false); err != nil {
		t.Fatalf("seed HEAD: %v", err)
	}
	for tid := uint8(1); tid <= 3; tid++ {
		if err := kl.WriteTxnSlot(off, tid, int64(tid)*10, false); err != nil {
			t.Fatalf("WriteTxnSlot(%d): %v", tid, err)
		}
	}
	if err := kl.WriteTxnSlot(off, 4, 999, false); err == nil {
		t.Fatal("expected slot table full error")
	}
}
