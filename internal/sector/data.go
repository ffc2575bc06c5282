package sector

import "dpdb/internal/dpdberr"

// DataNode is the decoded content of a Data sector: payload_type,
// chain_off (reused as the child root Index offset for Map/Sequence
// payloads, per §3's Data row), chunk_len, and up to DataChunkMax bytes
// of chunk (§6.1).
type DataNode struct {
	Payload  PayloadType
	ChainOff int64 // next chunk for Scalar; root Index offset for Hash/Array; unused for Null
	Chunk    []byte
}

func EncodeDataNode(s Sizes, n *DataNode) ([]byte, error) {
	if len(n.Chunk) > DataChunkMax {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "data chunk is %d bytes, max %d", len(n.Chunk), DataChunkMax)
	}
	buf := make([]byte, s.DataContentSize())
	off := 0
	buf[off] = byte(n.Payload)
	off++
	PutOffset(buf[off:off+int(s.ByteSize)], s.ByteSize, n.ChainOff)
	off += int(s.ByteSize)
	buf[off] = byte(len(n.Chunk))
	off++
	copy(buf[off:off+DataChunkMax], n.Chunk)
	return buf, nil
}

func DecodeDataNode(s Sizes, content []byte) (*DataNode, error) {
	if len(content) != s.DataContentSize() {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "data content is %d bytes, want %d", len(content), s.DataContentSize())
	}
	off := 0
	payload := PayloadType(content[off])
	off++
	chainOff := GetOffset(content[off:off+int(s.ByteSize)], s.ByteSize)
	off += int(s.ByteSize)
	chunkLen := int(content[off])
	off++
	if chunkLen > DataChunkMax {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "chunk length %d exceeds max %d", chunkLen, DataChunkMax)
	}
	chunk := append([]byte(nil), content[off:off+chunkLen]...)
	return &DataNode{Payload: payload, ChainOff: chainOff, Chunk: chunk}, nil
}
