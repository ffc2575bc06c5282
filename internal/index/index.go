// Package index implements the hashed index cascade of spec §4.3: a trie
// of Index sectors over a fixed-width key digest, bottoming out in
// BucketList sectors that each hold a small table of (digest, KeyLocator
// offset) pairs. When a BucketList fills up it splits into a fresh Index
// sector with its own BucketList children, one level deeper into the
// digest.
//
// Grounded on storage_engine/access/indexfile_manager/bplustree's
// find/insert/split shape (descend node-by-node, split the node that
// overflowed, write the new child pointer into the parent) but over a
// hash trie rather than an ordered B+Tree: there is no key ordering to
// maintain, so a split redistributes by next-level digest bits instead of
// a median key, and there is no sibling-merge on delete (a tombstoned
// bucket entry is simply left empty for a later insert to reuse).
package index

import (
	"math/bits"

	"go.uber.org/zap"

	"dpdb/internal/dpdberr"
	"dpdb/internal/digest"
	"dpdb/internal/sector"
	"dpdb/internal/storage"
)

// Index walks and mutates the hash trie cascade rooted at a collection's
// root Index sector offset (spec invariant 7: bucket splits replace the
// sectors beneath that root but never the root itself; the only thing
// that gives a collection a new root is entity.Map.Clear, which builds a
// fresh one and frees the old tree).
type Index struct {
	st  *storage.Storage
	df  digest.Func
	log *zap.Logger
}

func New(st *storage.Storage, df digest.Func, log *zap.Logger) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	return &Index{st: st, df: df, log: log}
}

// NewRoot allocates and writes a fresh, empty root Index sector, returning
// its offset. Called once when a Map or Sequence collection is created.
func (ix *Index) NewRoot() (int64, error) {
	off, err := ix.st.RequestSpace(sector.ClassIndexSector)
	if err != nil {
		return 0, err
	}
	if err := ix.writeIndexNode(off, sector.NewIndexNode(ix.st.Sizes())); err != nil {
		return 0, err
	}
	return off, nil
}

// Lookup returns the KeyLocator sector offset for key, if present.
func (ix *Index) Lookup(rootOffset int64, key interface{}) (int64, bool, error) {
	d := ix.df.Digest(digest.KeyBytes(key))
	return ix.lookup(rootOffset, d, 0)
}

func (ix *Index) lookup(nodeOffset int64, d []byte, level int) (int64, bool, error) {
	node, err := ix.readIndexNode(nodeOffset)
	if err != nil {
		return 0, false, err
	}
	ci, err := childIndex(d, level, len(node.Children))
	if err != nil {
		return 0, false, err
	}
	child := node.Children[ci]
	if child == 0 {
		return 0, false, nil
	}

	typ, err := ix.peekType(child)
	if err != nil {
		return 0, false, err
	}
	switch typ {
	case sector.TypeIndex:
		return ix.lookup(child, d, level+1)
	case sector.TypeBucketList:
		bl, err := ix.readBucketListNode(child)
		if err != nil {
			return 0, false, err
		}
		if i := bl.FindEntry(d); i >= 0 {
			return bl.Entries[i].KeyLoc, true, nil
		}
		return 0, false, nil
	default:
		return 0, false, dpdberr.New(dpdberr.ErrCorrupt, "index child at %d has unexpected type %v", child, typ)
	}
}

// GetOrCreate returns the KeyLocator offset for key, allocating and
// wiring in a fresh one (with a slot table but no slots filled yet) if
// key is not already present. created reports which happened.
func (ix *Index) GetOrCreate(rootOffset int64, key interface{}) (klOffset int64, created bool, err error) {
	d := ix.df.Digest(digest.KeyBytes(key))
	plainKey := digest.KeyBytes(key)
	makeNew := func() (int64, error) {
		off, err := ix.st.RequestSpace(sector.ClassKeyLocator)
		if err != nil {
			return 0, err
		}
		if err := ix.writeKeyLocatorNode(off, sector.NewKeyLocatorNode(ix.st.Sizes(), plainKey)); err != nil {
			return 0, err
		}
		return off, nil
	}
	return ix.place(rootOffset, 0, d, makeNew)
}

// place is the shared descend/insert/split engine. makeNew is called at
// most once, exactly when a brand-new entry needs to be created (as
// opposed to relocating an existing one during a split) — relocation
// callers pass a makeNew that just returns the already-allocated offset.
func (ix *Index) place(nodeOffset int64, level int, d []byte, makeNew func() (int64, error)) (int64, bool, error) {
	node, err := ix.readIndexNode(nodeOffset)
	if err != nil {
		return 0, false, err
	}
	ci, err := childIndex(d, level, len(node.Children))
	if err != nil {
		return 0, false, err
	}
	child := node.Children[ci]

	if child == 0 {
		klOff, err := makeNew()
		if err != nil {
			return 0, false, err
		}
		blOff, err := ix.newBucketListWith(d, klOff)
		if err != nil {
			return 0, false, err
		}
		node.Children[ci] = blOff
		if err := ix.writeIndexNode(nodeOffset, node); err != nil {
			return 0, false, err
		}
		return klOff, true, nil
	}

	typ, err := ix.peekType(child)
	if err != nil {
		return 0, false, err
	}
	switch typ {
	case sector.TypeIndex:
		return ix.place(child, level+1, d, makeNew)

	case sector.TypeBucketList:
		bl, err := ix.readBucketListNode(child)
		if err != nil {
			return 0, false, err
		}
		if i := bl.FindEntry(d); i >= 0 {
			return bl.Entries[i].KeyLoc, false, nil
		}
		if slot := bl.FirstFreeSlot(); slot >= 0 {
			klOff, err := makeNew()
			if err != nil {
				return 0, false, err
			}
			bl.Entries[slot] = sector.BucketListEntry{Digest: append([]byte(nil), d...), KeyLoc: klOff}
			if err := ix.writeBucketListNode(child, bl); err != nil {
				return 0, false, err
			}
			return klOff, true, nil
		}

		// Bucket is full: split it into a fresh Index node one level
		// deeper, redistribute its live entries by the next level's
		// digest bits, then retry the insert against the new subtree.
		newIndexOff, err := ix.NewRoot()
		if err != nil {
			return 0, false, err
		}
		for _, e := range bl.Entries {
			if e.KeyLoc == 0 {
				continue
			}
			entryKL := e.KeyLoc
			if _, _, err := ix.place(newIndexOff, level+1, e.Digest, func() (int64, error) { return entryKL, nil }); err != nil {
				return 0, false, err
			}
		}
		if err := ix.st.ReleaseSpace(child, sector.ClassBucketList); err != nil {
			return 0, false, err
		}
		node.Children[ci] = newIndexOff
		if err := ix.writeIndexNode(nodeOffset, node); err != nil {
			return 0, false, err
		}
		ix.log.Debug("bucket split", zap.Int64("old_bucket", child), zap.Int64("new_index", newIndexOff), zap.Int("level", level))
		return ix.place(newIndexOff, level+1, d, makeNew)

	default:
		return 0, false, dpdberr.New(dpdberr.ErrCorrupt, "index child at %d has unexpected type %v", child, typ)
	}
}

// RemoveEntry tombstones key's bucket entry, freeing the slot for reuse.
// It does not free the KeyLocator sector itself; callers that have
// confirmed every MVCC slot is empty own that decision (spec §4.4).
func (ix *Index) RemoveEntry(rootOffset int64, key interface{}) (klOffset int64, found bool, err error) {
	d := ix.df.Digest(digest.KeyBytes(key))
	return ix.removeEntry(rootOffset, d, 0)
}

func (ix *Index) removeEntry(nodeOffset int64, d []byte, level int) (int64, bool, error) {
	node, err := ix.readIndexNode(nodeOffset)
	if err != nil {
		return 0, false, err
	}
	ci, err := childIndex(d, level, len(node.Children))
	if err != nil {
		return 0, false, err
	}
	child := node.Children[ci]
	if child == 0 {
		return 0, false, nil
	}
	typ, err := ix.peekType(child)
	if err != nil {
		return 0, false, err
	}
	switch typ {
	case sector.TypeIndex:
		return ix.removeEntry(child, d, level+1)
	case sector.TypeBucketList:
		bl, err := ix.readBucketListNode(child)
		if err != nil {
			return 0, false, err
		}
		i := bl.FindEntry(d)
		if i < 0 {
			return 0, false, nil
		}
		klOff := bl.Entries[i].KeyLoc
		bl.Entries[i] = sector.BucketListEntry{Digest: make([]byte, ix.st.Sizes().DigestSize), KeyLoc: 0}
		if err := ix.writeBucketListNode(child, bl); err != nil {
			return 0, false, err
		}
		return klOff, true, nil
	default:
		return 0, false, dpdberr.New(dpdberr.ErrCorrupt, "index child at %d has unexpected type %v", child, typ)
	}
}

// FreeSubtree releases every Index and BucketList sector reachable from
// rootOffset, including rootOffset itself, calling onEntry for every live
// KeyLocator offset it encounters along the way before that bucket's
// sector is released. It does not release rootOffset's caller-visible
// Data(Hash|Array) wrapper sector — that's the caller's own allocation.
func (ix *Index) FreeSubtree(rootOffset int64, onEntry func(klOffset int64) error) error {
	typ, err := ix.peekType(rootOffset)
	if err != nil {
		return err
	}
	switch typ {
	case sector.TypeIndex:
		node, err := ix.readIndexNode(rootOffset)
		if err != nil {
			return err
		}
		for _, child := range node.Children {
			if child == 0 {
				continue
			}
			if err := ix.FreeSubtree(child, onEntry); err != nil {
				return err
			}
		}
		return ix.st.ReleaseSpace(rootOffset, sector.ClassIndexSector)

	case sector.TypeBucketList:
		bl, err := ix.readBucketListNode(rootOffset)
		if err != nil {
			return err
		}
		for _, e := range bl.Entries {
			if e.KeyLoc == 0 {
				continue
			}
			if err := onEntry(e.KeyLoc); err != nil {
				return err
			}
		}
		return ix.st.ReleaseSpace(rootOffset, sector.ClassBucketList)

	default:
		return dpdberr.New(dpdberr.ErrCorrupt, "cannot free subtree rooted at unexpected sector type %v", typ)
	}
}

func (ix *Index) newBucketListWith(d []byte, klOffset int64) (int64, error) {
	off, err := ix.st.RequestSpace(sector.ClassBucketList)
	if err != nil {
		return 0, err
	}
	bl := sector.NewBucketListNode(ix.st.Sizes())
	bl.Entries[0] = sector.BucketListEntry{Digest: append([]byte(nil), d...), KeyLoc: klOffset}
	if err := ix.writeBucketListNode(off, bl); err != nil {
		return 0, err
	}
	return off, nil
}

func (ix *Index) peekType(offset int64) (sector.Type, error) {
	buf, err := ix.st.ReadAt(offset, 1)
	if err != nil {
		return 0, err
	}
	return sector.Type(buf[0]), nil
}

func (ix *Index) readIndexNode(offset int64) (*sector.IndexNode, error) {
	frameSize, err := ix.st.Sizes().FrameSize(sector.TypeIndex)
	if err != nil {
		return nil, err
	}
	buf, err := ix.st.ReadAt(offset, frameSize)
	if err != nil {
		return nil, err
	}
	typ, content, err := sector.DecodeFrame(ix.st.Sizes(), buf)
	if err != nil {
		return nil, err
	}
	if typ != sector.TypeIndex {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "expected Index sector at %d, found %v", offset, typ)
	}
	return sector.DecodeIndexNode(ix.st.Sizes(), content)
}

func (ix *Index) writeIndexNode(offset int64, n *sector.IndexNode) error {
	content, err := sector.EncodeIndexNode(ix.st.Sizes(), n)
	if err != nil {
		return err
	}
	frame, err := sector.EncodeFrame(ix.st.Sizes(), sector.TypeIndex, content)
	if err != nil {
		return err
	}
	return ix.st.WriteAt(offset, frame)
}

func (ix *Index) readBucketListNode(offset int64) (*sector.BucketListNode, error) {
	frameSize, err := ix.st.Sizes().FrameSize(sector.TypeBucketList)
	if err != nil {
		return nil, err
	}
	buf, err := ix.st.ReadAt(offset, frameSize)
	if err != nil {
		return nil, err
	}
	typ, content, err := sector.DecodeFrame(ix.st.Sizes(), buf)
	if err != nil {
		return nil, err
	}
	if typ != sector.TypeBucketList {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "expected BucketList sector at %d, found %v", offset, typ)
	}
	return sector.DecodeBucketListNode(ix.st.Sizes(), content)
}

func (ix *Index) writeBucketListNode(offset int64, n *sector.BucketListNode) error {
	content, err := sector.EncodeBucketListNode(ix.st.Sizes(), n)
	if err != nil {
		return err
	}
	frame, err := sector.EncodeFrame(ix.st.Sizes(), sector.TypeBucketList, content)
	if err != nil {
		return err
	}
	return ix.st.WriteAt(offset, frame)
}

func (ix *Index) writeKeyLocatorNode(offset int64, n *sector.KeyLocatorNode) error {
	content, err := sector.EncodeKeyLocatorNode(ix.st.Sizes(), n)
	if err != nil {
		return err
	}
	frame, err := sector.EncodeFrame(ix.st.Sizes(), sector.TypeKeyLocator, content)
	if err != nil {
		return err
	}
	return ix.st.WriteAt(offset, frame)
}

// childIndex extracts the fanout-sized slice of bits at level from d,
// reading the digest as a big-endian bit string (§4.3: one index level
// consumes log2(fanout) bits, 8 bits — one whole byte — at the default
// fanout of 256).
func childIndex(d []byte, level, fanout int) (int, error) {
	bitsPerLevel := bits.Len(uint(fanout - 1))
	bitOffset := level * bitsPerLevel
	if bitOffset+bitsPerLevel > len(d)*8 {
		return 0, dpdberr.New(dpdberr.ErrIndexOverflow, "digest exhausted at index level %d", level)
	}
	val := 0
	for i := 0; i < bitsPerLevel; i++ {
		bitPos := bitOffset + i
		byteIdx := bitPos / 8
		bitIdx := 7 - (bitPos % 8)
		bit := (d[byteIdx] >> bitIdx) & 1
		val = (val << 1) | int(bit)
	}
	return val, nil
}
