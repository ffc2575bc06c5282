package sector

import "dpdb/internal/dpdberr"

// Slot is one MVCC entry inside a KeyLocator: (value_offset, tid,
// deleted) per §4.4. tid 0 is HEAD.
type Slot struct {
	ValueOff int64
	Tid      uint8
	Deleted  uint8
}

func (s Slot) InUse() bool {
	return s.ValueOff != 0 || s.Tid != 0 || s.Deleted != 0
}

// KeyLocatorNode is the decoded content of a KeyLocator sector: its MVCC
// slot table plus the plaintext key and optional class tag trailer
// (§6.1).
type KeyLocatorNode struct {
	Slots     []Slot
	PlainKey  []byte
	HasClass  bool
	ClassName []byte
}

func NewKeyLocatorNode(s Sizes, plainKey []byte) *KeyLocatorNode {
	return &KeyLocatorNode{
		Slots:    make([]Slot, s.MaxBuckets),
		PlainKey: plainKey,
	}
}

const (
	klSlotWidth = 2 // tid(1) + deleted(1), offset field is ByteSize-wide on top
)

func EncodeKeyLocatorNode(s Sizes, n *KeyLocatorNode) ([]byte, error) {
	if len(n.Slots) != s.MaxBuckets {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "key locator has %d slots, want %d", len(n.Slots), s.MaxBuckets)
	}
	if len(n.PlainKey) > MaxKeyLen {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "plain key is %d bytes, max %d", len(n.PlainKey), MaxKeyLen)
	}
	if len(n.ClassName) > MaxClassLen {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "class name is %d bytes, max %d", len(n.ClassName), MaxClassLen)
	}

	slotEntrySize := int(s.ByteSize) + klSlotWidth
	buf := make([]byte, s.KeyLocatorContentSize())

	for i, slot := range n.Slots {
		start := i * slotEntrySize
		PutOffset(buf[start:start+int(s.ByteSize)], s.ByteSize, slot.ValueOff)
		buf[start+int(s.ByteSize)] = slot.Tid
		buf[start+int(s.ByteSize)+1] = slot.Deleted
	}
	off := s.MaxBuckets * slotEntrySize

	buf[off] = byte(len(n.PlainKey))
	off++
	copy(buf[off:off+MaxKeyLen], n.PlainKey)
	off += MaxKeyLen

	if n.HasClass {
		buf[off] = 1
	}
	off++
	PutOffset(buf[off:off+int(s.ByteSize)], s.ByteSize, int64(len(n.ClassName)))
	off += int(s.ByteSize)
	copy(buf[off:off+MaxClassLen], n.ClassName)

	return buf, nil
}

func DecodeKeyLocatorNode(s Sizes, content []byte) (*KeyLocatorNode, error) {
	if len(content) != s.KeyLocatorContentSize() {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "key locator content is %d bytes, want %d", len(content), s.KeyLocatorContentSize())
	}
	slotEntrySize := int(s.ByteSize) + klSlotWidth
	n := &KeyLocatorNode{Slots: make([]Slot, s.MaxBuckets)}

	for i := range n.Slots {
		start := i * slotEntrySize
		n.Slots[i] = Slot{
			ValueOff: GetOffset(content[start:start+int(s.ByteSize)], s.ByteSize),
			Tid:      content[start+int(s.ByteSize)],
			Deleted:  content[start+int(s.ByteSize)+1],
		}
	}

	off := s.MaxBuckets * slotEntrySize
	keyLen := int(content[off])
	off++
	if keyLen > MaxKeyLen {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "plain key length %d exceeds max %d", keyLen, MaxKeyLen)
	}
	n.PlainKey = append([]byte(nil), content[off:off+keyLen]...)
	off += MaxKeyLen

	n.HasClass = content[off] != 0
	off++
	classLen := int(GetOffset(content[off:off+int(s.ByteSize)], s.ByteSize))
	off += int(s.ByteSize)
	if classLen > MaxClassLen {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "class name length %d exceeds max %d", classLen, MaxClassLen)
	}
	n.ClassName = append([]byte(nil), content[off:off+classLen]...)

	return n, nil
}

// FindSlot returns the index of the slot for tid, or -1.
func (n *KeyLocatorNode) FindSlot(tid uint8) int {
	for i, sl := range n.Slots {
		if sl.InUse() && sl.Tid == tid {
			return i
		}
	}
	return -1
}

// Head returns the HEAD slot index (tid 0), or -1 if none exists yet.
func (n *KeyLocatorNode) Head() int {
	return n.FindSlot(0)
}

// FirstFreeSlot returns a slot index not currently in use by any tid, or
// -1 if the table is full (§4.4 "slot table full").
func (n *KeyLocatorNode) FirstFreeSlot() int {
	for i, sl := range n.Slots {
		if !sl.InUse() {
			return i
		}
	}
	return -1
}
