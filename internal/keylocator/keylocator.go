// Package keylocator implements the per-key MVCC slot table of spec
// §4.4: a fixed array of (value_offset, tid, deleted) triples living
// inside each key's KeyLocator sector. Slot tid 0 is always HEAD, the
// committed value every reader outside a transaction sees.
//
// This package only knows about one KeyLocator sector at a time; it has
// no notion of "the current transaction" or which keys a transaction has
// touched — that bookkeeping belongs to internal/txn, which calls Protect
// before any HEAD-mutating write and Commit/Rollback at transaction end
// for every (tid, offset) pair it recorded.
//
// Grounded on storage_engine/access/heapfile_manager/heap_page.go's
// slot-directory operations (InsertRecord's reuse-a-tombstone scan,
// DeleteRecord's tombstone-in-place, UpdateRecord's overwrite-in-place):
// the same shape, specialized from variable-length records to the fixed
// three-field MVCC slot.
package keylocator

import (
	"go.uber.org/zap"

	"dpdb/internal/dpdberr"
	"dpdb/internal/sector"
	"dpdb/internal/storage"
)

const headTid uint8 = 0

// KeyLocator performs slot-table operations against KeyLocator sectors
// held in a Storage.
type KeyLocator struct {
	st  *storage.Storage
	log *zap.Logger
}

func New(st *storage.Storage, log *zap.Logger) *KeyLocator {
	if log == nil {
		log = zap.NewNop()
	}
	return &KeyLocator{st: st, log: log}
}

// ReadFor returns the value visible to tid: tid's own slot if it has one
// on this KeyLocator, otherwise HEAD. A transaction that has never
// touched this key (directly or via Protect) sees HEAD as of now, which
// is correct only because Protect is required to run before any HEAD
// mutation that would otherwise change what it sees (§4.4 "protection").
func (kl *KeyLocator) ReadFor(offset int64, tid uint8) (valueOff int64, deleted bool, found bool, err error) {
	n, err := kl.read(offset)
	if err != nil {
		return 0, false, false, err
	}
	if tid != headTid {
		if i := n.FindSlot(tid); i >= 0 {
			s := n.Slots[i]
			return s.ValueOff, s.Deleted != 0, true, nil
		}
	}
	i := n.Head()
	if i < 0 {
		return 0, false, false, nil
	}
	s := n.Slots[i]
	return s.ValueOff, s.Deleted != 0, true, nil
}

// Protect guarantees that every tid in openTids (other than the one about
// to mutate HEAD) has its own slot on this KeyLocator, snapshotting HEAD's
// current value into any slot that doesn't exist yet. It reports which
// tids it actually created a slot for, so internal/txn can remember to
// free that slot at the owning transaction's commit or rollback even if
// that transaction never itself writes this key.
func (kl *KeyLocator) Protect(offset int64, excludeTid uint8, openTids []uint8) (protected []uint8, err error) {
	if len(openTids) == 0 {
		return nil, nil
	}
	n, err := kl.read(offset)
	if err != nil {
		return nil, err
	}

	headIdx := n.Head()
	var headVal int64
	var headDeleted uint8
	if headIdx >= 0 {
		headVal = n.Slots[headIdx].ValueOff
		headDeleted = n.Slots[headIdx].Deleted
	}

	dirty := false
	for _, tid := range openTids {
		if tid == headTid || tid == excludeTid {
			continue
		}
		if n.FindSlot(tid) >= 0 {
			continue
		}
		free := n.FirstFreeSlot()
		if free < 0 {
			return protected, dpdberr.New(dpdberr.ErrSlotTableFull, "cannot protect tid %d: slot table full at offset %d", tid, offset)
		}
		n.Slots[free] = sector.Slot{ValueOff: headVal, Tid: tid, Deleted: headDeleted}
		dirty = true
		protected = append(protected, tid)
	}
	if dirty {
		if err := kl.write(offset, n); err != nil {
			return nil, err
		}
		kl.log.Debug("protected open transactions", zap.Int64("offset", offset), zap.Uint8s("tids", protected))
	}
	return protected, nil
}

// WriteTxnSlot sets tid's own slot to valueOff/deleted, allocating the
// slot if tid doesn't have one yet on this KeyLocator.
func (kl *KeyLocator) WriteTxnSlot(offset int64, tid uint8, valueOff int64, deleted bool) error {
	n, err := kl.read(offset)
	if err != nil {
		return err
	}
	i := n.FindSlot(tid)
	if i < 0 {
		i = n.FirstFreeSlot()
		if i < 0 {
			return dpdberr.New(dpdberr.ErrSlotTableFull, "cannot write tid %d: slot table full at offset %d", tid, offset)
		}
	}
	n.Slots[i] = sector.Slot{ValueOff: valueOff, Tid: tid, Deleted: deletedByte(deleted)}
	return kl.write(offset, n)
}

// WriteHeadDirect mutates HEAD outside of any transaction (auto-commit).
// Callers must Protect openTids against offset first, since this
// overwrites HEAD unconditionally.
func (kl *KeyLocator) WriteHeadDirect(offset int64, valueOff int64, deleted bool) error {
	n, err := kl.read(offset)
	if err != nil {
		return err
	}
	i := n.Head()
	if i < 0 {
		i = n.FirstFreeSlot()
		if i < 0 {
			return dpdberr.New(dpdberr.ErrSlotTableFull, "cannot write HEAD: slot table full at offset %d", offset)
		}
	}
	n.Slots[i] = sector.Slot{ValueOff: valueOff, Tid: headTid, Deleted: deletedByte(deleted)}
	return kl.write(offset, n)
}

// CommitToHead moves tid's slot onto HEAD and frees tid's slot. Only call
// this for a (tid, offset) pair the transaction actually wrote to — a
// merely-protected slot must go through Rollback's discard path instead,
// never CommitToHead, or it would stamp HEAD with a no-op snapshot and
// silently undo whatever another transaction committed in between.
//
// free is called with the HEAD value being replaced once the slot table
// no longer has any other slot referencing it — §4.5 "releasing any HEAD
// value sectors that are being replaced ... whose release does not
// destroy data needed by another live transaction." A nil free skips
// this (used by tests that don't care about space reclamation).
func (kl *KeyLocator) CommitToHead(offset int64, tid uint8, free func(valueOff int64) error) error {
	n, err := kl.read(offset)
	if err != nil {
		return err
	}
	i := n.FindSlot(tid)
	if i < 0 {
		return dpdberr.New(dpdberr.ErrNotInTransaction, "tid %d has no slot to commit at offset %d", tid, offset)
	}
	slot := n.Slots[i]
	headIdx := n.Head()
	var oldHeadValue int64
	if headIdx >= 0 {
		oldHeadValue = n.Slots[headIdx].ValueOff
	} else {
		headIdx = n.FirstFreeSlot()
		if headIdx < 0 {
			return dpdberr.New(dpdberr.ErrSlotTableFull, "cannot commit tid %d: slot table full at offset %d", tid, offset)
		}
	}
	n.Slots[headIdx] = sector.Slot{ValueOff: slot.ValueOff, Tid: headTid, Deleted: slot.Deleted}
	if headIdx != i {
		n.Slots[i] = sector.Slot{}
	}
	if err := kl.write(offset, n); err != nil {
		return err
	}
	return kl.releaseIfUnreferenced(offset, oldHeadValue, free)
}

// Rollback frees tid's slot, discarding whatever it held — a real write,
// a protective snapshot, or both (the last committer to touch the slot
// wins). HEAD is untouched.
//
// free is called with the discarded slot's value once no other slot
// (HEAD or another tid) still references it — §4.4 "release the value
// sector chain referenced from it." A slot written by a transactional
// delete holds the same offset HEAD still does, so it is never freed
// here; a nil free skips reclamation entirely.
func (kl *KeyLocator) Rollback(offset int64, tid uint8, free func(valueOff int64) error) error {
	n, err := kl.read(offset)
	if err != nil {
		return err
	}
	i := n.FindSlot(tid)
	if i < 0 {
		return nil // nothing to discard
	}
	valueOff := n.Slots[i].ValueOff
	n.Slots[i] = sector.Slot{}
	if err := kl.write(offset, n); err != nil {
		return err
	}
	return kl.releaseIfUnreferenced(offset, valueOff, free)
}

// releaseIfUnreferenced calls free(valueOff) iff valueOff is non-zero and
// no slot currently at offset still points at it. Must run after the
// slot table has already been rewritten to reflect the discard/overwrite
// being finalized, so CountReferences only sees survivors.
func (kl *KeyLocator) releaseIfUnreferenced(offset int64, valueOff int64, free func(int64) error) error {
	if valueOff == 0 || free == nil {
		return nil
	}
	refs, err := kl.CountReferences(offset, valueOff)
	if err != nil {
		return err
	}
	if refs > 0 {
		return nil
	}
	return free(valueOff)
}

// Vacant reports whether no slot (HEAD or transactional) is in use, which
// means the KeyLocator sector itself can be released and its index entry
// removed.
func (kl *KeyLocator) Vacant(offset int64) (bool, error) {
	n, err := kl.read(offset)
	if err != nil {
		return false, err
	}
	for _, s := range n.Slots {
		if s.InUse() {
			return false, nil
		}
	}
	return true, nil
}

// CountReferences reports how many of offset's slots (HEAD or
// transactional) still point at valueOff. The entity layer calls this
// right after overwriting a slot to decide whether the value chain the
// slot previously pointed at is now unreferenced and safe to free —
// every other transaction that might still need the old value already
// got its own protective snapshot slot holding the same valueOff before
// the overwrite happened, so a zero count here is conclusive.
func (kl *KeyLocator) CountReferences(offset int64, valueOff int64) (int, error) {
	if valueOff == 0 {
		return 0, nil
	}
	n, err := kl.read(offset)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, s := range n.Slots {
		if s.InUse() && s.ValueOff == valueOff {
			count++
		}
	}
	return count, nil
}

// PlainKey returns the plaintext key stored alongside this KeyLocator's
// slot table, written once at creation and never mutated afterward.
func (kl *KeyLocator) PlainKey(offset int64) ([]byte, error) {
	n, err := kl.read(offset)
	if err != nil {
		return nil, err
	}
	return n.PlainKey, nil
}

// Slots returns a copy of every slot in this KeyLocator, in-use or not.
// Used by the entity layer's recursive collection-delete, which must
// visit every value any slot might still reference before freeing the
// KeyLocator sector itself.
func (kl *KeyLocator) Slots(offset int64) ([]sector.Slot, error) {
	n, err := kl.read(offset)
	if err != nil {
		return nil, err
	}
	return append([]sector.Slot(nil), n.Slots...), nil
}

// Class returns the class tag blessed onto this key's value, if any
// (§4.6 "class tags / autobless" — a value's class travels with its
// KeyLocator sector, not with the Data sector it currently points at).
func (kl *KeyLocator) Class(offset int64) (name string, ok bool, err error) {
	n, err := kl.read(offset)
	if err != nil {
		return "", false, err
	}
	if !n.HasClass {
		return "", false, nil
	}
	return string(n.ClassName), true, nil
}

// SetClass blesses (or, with an empty name, un-blesses) this key's value.
func (kl *KeyLocator) SetClass(offset int64, name string) error {
	n, err := kl.read(offset)
	if err != nil {
		return err
	}
	n.HasClass = name != ""
	n.ClassName = []byte(name)
	return kl.write(offset, n)
}

func deletedByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func (kl *KeyLocator) read(offset int64) (*sector.KeyLocatorNode, error) {
	frameSize, err := kl.st.Sizes().FrameSize(sector.TypeKeyLocator)
	if err != nil {
		return nil, err
	}
	buf, err := kl.st.ReadAt(offset, frameSize)
	if err != nil {
		return nil, err
	}
	typ, content, err := sector.DecodeFrame(kl.st.Sizes(), buf)
	if err != nil {
		return nil, err
	}
	if typ != sector.TypeKeyLocator {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "expected KeyLocator sector at %d, found %v", offset, typ)
	}
	return sector.DecodeKeyLocatorNode(kl.st.Sizes(), content)
}

func (kl *KeyLocator) write(offset int64, n *sector.KeyLocatorNode) error {
	content, err := sector.EncodeKeyLocatorNode(kl.st.Sizes(), n)
	if err != nil {
		return err
	}
	frame, err := sector.EncodeFrame(kl.st.Sizes(), sector.TypeKeyLocator, content)
	if err != nil {
		return err
	}
	return kl.st.WriteAt(offset, frame)
}
