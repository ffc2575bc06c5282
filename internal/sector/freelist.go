package sector

import "dpdb/internal/dpdberr"

// FreelistNode is the content written over a released sector's frame: it
// no longer carries the type of data it used to hold, only its size
// class and its position in that class's singly linked freelist (§3's
// Freelist row: class, next, prev). prev is carried for bit-exactness
// with the spec's field list but is not consulted: the allocator only
// ever pushes and pops at the head, so it never needs to unlink from the
// middle of the list.
type FreelistNode struct {
	Class ClassIndex
	Next  int64
	Prev  int64
}

// EncodeFreelistNode renders a FreelistNode into a buffer sized to the
// content size of the class being freed (the frame it's overwriting).
func EncodeFreelistNode(bs ByteSize, contentSize int, n *FreelistNode) ([]byte, error) {
	need := 1 + 2*int(bs)
	if contentSize < need {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "freed frame too small for freelist node: %d < %d", contentSize, need)
	}
	buf := make([]byte, contentSize)
	buf[0] = byte(n.Class)
	PutOffset(buf[1:1+int(bs)], bs, n.Next)
	PutOffset(buf[1+int(bs):1+2*int(bs)], bs, n.Prev)
	return buf, nil
}

// DecodeFreelistNode reads a FreelistNode back out of a sector's content
// bytes (of whatever class it used to belong to).
func DecodeFreelistNode(bs ByteSize, content []byte) (*FreelistNode, error) {
	need := 1 + 2*int(bs)
	if len(content) < need {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "short freelist node: %d bytes, need %d", len(content), need)
	}
	return &FreelistNode{
		Class: ClassIndex(content[0]),
		Next:  GetOffset(content[1:1+int(bs)], bs),
		Prev:  GetOffset(content[1+int(bs):1+2*int(bs)], bs),
	}, nil
}
