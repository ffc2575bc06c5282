package sector

import (
	"bytes"

	"dpdb/internal/dpdberr"
)

// BucketListEntry is one (digest, KeyLocator-offset) pair. A zero offset
// is a tombstone (§4.3 "deletion ... leaves a tombstone slot") that may be
// reused by a later insert.
type BucketListEntry struct {
	Digest []byte
	KeyLoc int64
}

type BucketListNode struct {
	Entries []BucketListEntry
}

func NewBucketListNode(s Sizes) *BucketListNode {
	entries := make([]BucketListEntry, s.MaxBuckets)
	for i := range entries {
		entries[i].Digest = make([]byte, s.DigestSize)
	}
	return &BucketListNode{Entries: entries}
}

func EncodeBucketListNode(s Sizes, n *BucketListNode) ([]byte, error) {
	if len(n.Entries) != s.MaxBuckets {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "bucket list has %d entries, want %d", len(n.Entries), s.MaxBuckets)
	}
	entrySize := s.DigestSize + int(s.ByteSize)
	buf := make([]byte, s.BucketListContentSize())
	for i, e := range n.Entries {
		start := i * entrySize
		if e.KeyLoc != 0 && len(e.Digest) != s.DigestSize {
			return nil, dpdberr.New(dpdberr.ErrCorrupt, "entry %d digest is %d bytes, want %d", i, len(e.Digest), s.DigestSize)
		}
		copy(buf[start:start+s.DigestSize], e.Digest)
		PutOffset(buf[start+s.DigestSize:start+entrySize], s.ByteSize, e.KeyLoc)
	}
	return buf, nil
}

func DecodeBucketListNode(s Sizes, content []byte) (*BucketListNode, error) {
	if len(content) != s.BucketListContentSize() {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "bucket list content is %d bytes, want %d", len(content), s.BucketListContentSize())
	}
	entrySize := s.DigestSize + int(s.ByteSize)
	n := &BucketListNode{Entries: make([]BucketListEntry, s.MaxBuckets)}
	for i := range n.Entries {
		start := i * entrySize
		digest := make([]byte, s.DigestSize)
		copy(digest, content[start:start+s.DigestSize])
		n.Entries[i] = BucketListEntry{
			Digest: digest,
			KeyLoc: GetOffset(content[start+s.DigestSize:start+entrySize], s.ByteSize),
		}
	}
	return n, nil
}

// FindEntry returns the index of the live entry matching digest, or -1.
func (n *BucketListNode) FindEntry(digest []byte) int {
	for i, e := range n.Entries {
		if e.KeyLoc != 0 && bytes.Equal(e.Digest, digest) {
			return i
		}
	}
	return -1
}

// FirstFreeSlot returns the index of a tombstoned (or never-used) entry,
// or -1 if the bucket list is full (§4.3: overflow triggers a split).
func (n *BucketListNode) FirstFreeSlot() int {
	for i, e := range n.Entries {
		if e.KeyLoc == 0 {
			return i
		}
	}
	return -1
}

// Live reports whether the list has at least one occupied entry.
func (n *BucketListNode) Live() bool {
	for _, e := range n.Entries {
		if e.KeyLoc != 0 {
			return true
		}
	}
	return false
}
