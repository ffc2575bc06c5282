package index

import "dpdb/internal/sector"

// frame is one level of an in-progress depth-first walk: the sector being
// visited and the next child/entry index inside it still to process.
type frame struct {
	offset int64
	typ    sector.Type
	idx    int
}

// Iterator performs a resumable depth-first walk of every live
// (digest, KeyLocator offset) pair under a root Index sector (spec §4.3
// "depth-first resumable iteration"). Resumability comes for free from
// the explicit stack: Save snapshots it into a Cursor and Resume picks
// the walk back up from there.
type Iterator struct {
	ix    *Index
	stack []frame
}

// Cursor is an opaque, in-memory snapshot of an Iterator's position. It
// has no encoded form, so it does not outlive the process that took it.
type Cursor struct {
	frames []frame
}

// NewIterator starts a fresh walk from a collection's root Index offset.
func (ix *Index) NewIterator(rootOffset int64) *Iterator {
	return &Iterator{ix: ix, stack: []frame{{offset: rootOffset, typ: sector.TypeIndex, idx: 0}}}
}

// Resume rebuilds an Iterator from a Cursor obtained via Save.
func (ix *Index) Resume(c Cursor) *Iterator {
	return &Iterator{ix: ix, stack: append([]frame(nil), c.frames...)}
}

// Save snapshots the iterator's current position.
func (it *Iterator) Save() Cursor {
	return Cursor{frames: append([]frame(nil), it.stack...)}
}

// Next returns the offset of the next live KeyLocator sector in
// depth-first order, or ok=false once the walk is exhausted.
func (it *Iterator) Next() (klOffset int64, ok bool, err error) {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]

		switch top.typ {
		case sector.TypeIndex:
			node, err := it.ix.readIndexNode(top.offset)
			if err != nil {
				return 0, false, err
			}
			if top.idx >= len(node.Children) {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}
			child := node.Children[top.idx]
			top.idx++
			if child == 0 {
				continue
			}
			childType, err := it.ix.peekType(child)
			if err != nil {
				return 0, false, err
			}
			it.stack = append(it.stack, frame{offset: child, typ: childType, idx: 0})

		case sector.TypeBucketList:
			bl, err := it.ix.readBucketListNode(top.offset)
			if err != nil {
				return 0, false, err
			}
			if top.idx >= len(bl.Entries) {
				it.stack = it.stack[:len(it.stack)-1]
				continue
			}
			e := bl.Entries[top.idx]
			top.idx++
			if e.KeyLoc == 0 {
				continue
			}
			return e.KeyLoc, true, nil
		}
	}
	return 0, false, nil
}
