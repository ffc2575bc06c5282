package txn

import (
	"path/filepath"
	"testing"

	"dpdb/internal/keylocator"
	"dpdb/internal/sector"
	"dpdb/internal/storage"
)

func newTestRig(t *testing.T) (*keylocator.KeyLocator, int64, *Manager) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "txn.dpdb")
	st, err := storage.Open(path, storage.Config{ByteSize: sector.Medium, DigestSize: 16, MaxBuckets: 8})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	off, err := st.RequestSpace(sector.ClassKeyLocator)
	if err != nil {
		t.Fatalf("RequestSpace: %v", err)
	}
	content, _ := sector.EncodeKeyLocatorNode(st.Sizes(), sector.NewKeyLocatorNode(st.Sizes(), []byte("k")))
	frame, _ := sector.EncodeFrame(st.Sizes(), sector.TypeKeyLocator, content)
	if err := st.WriteAt(off, frame); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	kl := keylocator.New(st, nil)
	if err := kl.WriteHeadDirect(off, 100, false); err != nil {
		t.Fatalf("seed HEAD: %v", err)
	}
	return kl, off, NewManager(nil)
}

func TestBeginCommitMergesWriteOntoHead(t *testing.T) {
	kl, off, m := newTestRig(t)

	tx, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if tx.Tid == 0 {
		t.Fatal("tid 0 is reserved for HEAD")
	}

	if err := m.ProtectAgainst(kl, tx.Tid, off); err != nil {
		t.Fatalf("ProtectAgainst: %v", err)
	}
	if err := kl.WriteTxnSlot(off, tx.Tid, 200, false); err != nil {
		t.Fatalf("WriteTxnSlot: %v", err)
	}
	m.MarkWritten(tx.Tid, off)

	staleBefore := m.Staleness(tx.Tid)
	if err := m.Commit(kl, tx.Tid, nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if m.Staleness(tx.Tid) == staleBefore {
		t.Error("expected staleness counter to advance on commit")
	}
	if m.IsOpen(tx.Tid) {
		t.Error("tid should no longer be open after commit")
	}

	v, _, _, err := kl.ReadFor(off, 0)
	if err != nil || v != 200 {
		t.Fatalf("ReadFor(HEAD) after commit = %d, err=%v, want 200", v, err)
	}
}

func TestRollbackDiscardsWrite(t *testing.T) {
	kl, off, m := newTestRig(t)

	tx, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := kl.WriteTxnSlot(off, tx.Tid, 999, false); err != nil {
		t.Fatalf("WriteTxnSlot: %v", err)
	}
	m.MarkWritten(tx.Tid, off)

	if err := m.Rollback(kl, tx.Tid, nil); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	v, _, _, err := kl.ReadFor(off, 0)
	if err != nil || v != 100 {
		t.Fatalf("ReadFor(HEAD) after rollback = %d, err=%v, want 100 (unchanged)", v, err)
	}
}

func TestConcurrentTransactionIsolatedBySnapshot(t *testing.T) {
	kl, off, m := newTestRig(t)

	readerTx, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin reader: %v", err)
	}
	writerTx, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin writer: %v", err)
	}

	// Writer is about to mutate via its own slot; protect the reader first.
	if err := m.ProtectAgainst(kl, writerTx.Tid, off); err != nil {
		t.Fatalf("ProtectAgainst: %v", err)
	}
	if err := kl.WriteTxnSlot(off, writerTx.Tid, 300, false); err != nil {
		t.Fatalf("WriteTxnSlot: %v", err)
	}
	m.MarkWritten(writerTx.Tid, off)
	if err := m.Commit(kl, writerTx.Tid, nil); err != nil {
		t.Fatalf("Commit writer: %v", err)
	}

	// The reader, never having written, should still see the pre-commit
	// value through its protective snapshot.
	v, _, _, err := kl.ReadFor(off, readerTx.Tid)
	if err != nil {
		t.Fatalf("ReadFor(reader): %v", err)
	}
	if v != 100 {
		t.Errorf("reader saw %d, want 100 (isolated from writer's commit)", v)
	}

	if err := m.Rollback(kl, readerTx.Tid, nil); err != nil {
		t.Fatalf("Rollback reader: %v", err)
	}
	vacant, err := kl.Vacant(off)
	if err != nil {
		t.Fatalf("Vacant: %v", err)
	}
	if vacant {
		t.Error("HEAD slot (300) should still be in use")
	}
}

func TestBeginExhaustsIdSpace(t *testing.T) {
	_, _, m := newTestRig(t)
	for i := 0; i < 255; i++ {
		if _, err := m.Begin(); err != nil {
			t.Fatalf("Begin #%d: %v", i, err)
		}
	}
	if _, err := m.Begin(); err == nil {
		t.Fatal("expected ErrTooManyTransactions once all 255 ids are open")
	}
}
