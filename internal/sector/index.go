package sector

import "dpdb/internal/dpdberr"

// Index content is simply Fanout child offsets, one per possible digest
// byte value at this depth (§3, §4.3). A zero offset means "empty".
type IndexNode struct {
	Children []int64
}

func NewIndexNode(s Sizes) *IndexNode {
	return &IndexNode{Children: make([]int64, s.Fanout)}
}

func EncodeIndexNode(s Sizes, n *IndexNode) ([]byte, error) {
	if len(n.Children) != s.Fanout {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "index node has %d children, want %d", len(n.Children), s.Fanout)
	}
	buf := make([]byte, s.IndexContentSize())
	for i, off := range n.Children {
		start := i * int(s.ByteSize)
		PutOffset(buf[start:start+int(s.ByteSize)], s.ByteSize, off)
	}
	return buf, nil
}

func DecodeIndexNode(s Sizes, content []byte) (*IndexNode, error) {
	if len(content) != s.IndexContentSize() {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "index content is %d bytes, want %d", len(content), s.IndexContentSize())
	}
	n := &IndexNode{Children: make([]int64, s.Fanout)}
	for i := range n.Children {
		start := i * int(s.ByteSize)
		n.Children[i] = GetOffset(content[start:start+int(s.ByteSize)], s.ByteSize)
	}
	return n, nil
}
