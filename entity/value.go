package entity

import (
	"math"

	"dpdb/internal/dpdberr"
	"dpdb/internal/sector"
	"dpdb/internal/storage"
)

// Scalar values are tagged with a one-byte type before being chunked
// across a Data sector chain, so a read back knows whether to hand the
// application a string, an int64, a float64, or a bool (§4.6 "a scalar is
// a byte string or a number").
const (
	tagBytes  byte = 0
	tagInt64  byte = 1
	tagFloat  byte = 2
	tagBool   byte = 3
	tagString byte = 4
)

func encodeScalar(v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return append([]byte{tagBytes}, x...), nil
	case string:
		return append([]byte{tagString}, []byte(x)...), nil
	case int:
		return encodeInt64(int64(x)), nil
	case int64:
		return encodeInt64(x), nil
	case float64:
		buf := make([]byte, 9)
		buf[0] = tagFloat
		putUint64(buf[1:], math.Float64bits(x))
		return buf, nil
	case bool:
		b := byte(0)
		if x {
			b = 1
		}
		return []byte{tagBool, b}, nil
	default:
		return nil, dpdberr.New(dpdberr.ErrUnsupportedType, "unsupported scalar type %T", v)
	}
}

func encodeInt64(x int64) []byte {
	buf := make([]byte, 9)
	buf[0] = tagInt64
	putUint64(buf[1:], uint64(x))
	return buf
}

func decodeScalar(buf []byte) (interface{}, error) {
	if len(buf) == 0 {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "empty scalar encoding")
	}
	switch buf[0] {
	case tagBytes:
		return append([]byte(nil), buf[1:]...), nil
	case tagString:
		return string(buf[1:]), nil
	case tagInt64:
		return int64(getUint64(buf[1:])), nil
	case tagFloat:
		return math.Float64frombits(getUint64(buf[1:])), nil
	case tagBool:
		return buf[1] != 0, nil
	default:
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "unknown scalar type tag %d", buf[0])
	}
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getUint64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

// writeScalarChain allocates a fresh chain of Data(Scalar) sectors
// holding v's encoded bytes, returning the offset of the first sector.
func writeScalarChain(st *storage.Storage, v interface{}) (int64, error) {
	encoded, err := encodeScalar(v)
	if err != nil {
		return 0, err
	}
	var chunks [][]byte
	for i := 0; i < len(encoded); i += sector.DataChunkMax {
		end := i + sector.DataChunkMax
		if end > len(encoded) {
			end = len(encoded)
		}
		chunks = append(chunks, encoded[i:end])
	}
	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}

	offsets := make([]int64, len(chunks))
	for i := range chunks {
		off, err := st.RequestSpace(sector.ClassData)
		if err != nil {
			return 0, err
		}
		offsets[i] = off
	}
	for i := len(chunks) - 1; i >= 0; i-- {
		var next int64
		if i+1 < len(chunks) {
			next = offsets[i+1]
		}
		if err := writeDataNode(st, offsets[i], &sector.DataNode{Payload: sector.PayloadScalar, ChainOff: next, Chunk: chunks[i]}); err != nil {
			return 0, err
		}
	}
	return offsets[0], nil
}

// readScalarChain reassembles a scalar value starting at offset.
func readScalarChain(st *storage.Storage, offset int64) (interface{}, error) {
	var encoded []byte
	for offset != 0 {
		n, err := readDataNode(st, offset)
		if err != nil {
			return nil, err
		}
		if n.Payload != sector.PayloadScalar {
			return nil, typeMismatch(sector.PayloadScalar, n.Payload)
		}
		encoded = append(encoded, n.Chunk...)
		offset = n.ChainOff
	}
	return decodeScalar(encoded)
}

// freeScalarChain releases every Data sector in a scalar chain.
func freeScalarChain(st *storage.Storage, offset int64) error {
	for offset != 0 {
		n, err := readDataNode(st, offset)
		if err != nil {
			return err
		}
		next := n.ChainOff
		if err := st.ReleaseSpace(offset, sector.ClassData); err != nil {
			return err
		}
		offset = next
	}
	return nil
}

// readValue decodes whatever is at offset into the application-facing
// representation: a Go scalar, a *Map, a *Sequence, or nil.
func readValue(deps *Deps, offset int64) (interface{}, error) {
	n, err := readDataNode(deps.Storage, offset)
	if err != nil {
		return nil, err
	}
	switch n.Payload {
	case sector.PayloadNull:
		return nil, nil
	case sector.PayloadScalar:
		return readScalarChain(deps.Storage, offset)
	case sector.PayloadHash:
		c, err := openCollection(deps, offset, sector.PayloadHash)
		if err != nil {
			return nil, err
		}
		return &Map{collection: c}, nil
	case sector.PayloadArray:
		c, err := openCollection(deps, offset, sector.PayloadArray)
		if err != nil {
			return nil, err
		}
		return &Sequence{collection: c}, nil
	default:
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "unknown payload type %v at %d", n.Payload, offset)
	}
}

// writeValue materializes v as a freshly allocated value, returning the
// Data sector offset the caller should point a KeyLocator slot at. A
// *Map or *Sequence passed in (from PutMap/PutSequence's own collection)
// is wired in by reference to its existing Data sector, not copied.
func writeValue(deps *Deps, v interface{}) (int64, error) {
	switch x := v.(type) {
	case nil:
		off, err := deps.Storage.RequestSpace(sector.ClassData)
		if err != nil {
			return 0, err
		}
		if err := writeDataNode(deps.Storage, off, &sector.DataNode{Payload: sector.PayloadNull}); err != nil {
			return 0, err
		}
		return off, nil
	case *Map:
		return x.dataOffset, nil
	case *Sequence:
		return x.dataOffset, nil
	default:
		return writeScalarChain(deps.Storage, v)
	}
}

// ReleaseValue recursively releases whatever offset points at: a scalar
// chain, a whole nested collection subtree, or nothing for Null. Exposed
// for the root package's transaction Commit/Rollback, which must release
// a HEAD or tid value chain once internal/keylocator's slot-scan finds it
// unreferenced (§4.5) — internal/txn and internal/keylocator know how to
// count references but not how to free a nested collection's own trie,
// so they call back into this instead of duplicating it.
func ReleaseValue(deps *Deps, offset int64) error {
	return freeValue(deps, offset)
}

// freeValue recursively releases whatever offset points at: a scalar
// chain, a whole nested collection subtree (every Index/BucketList/
// KeyLocator/Data sector it owns), or nothing for Null.
func freeValue(deps *Deps, offset int64) error {
	n, err := readDataNode(deps.Storage, offset)
	if err != nil {
		return err
	}
	switch n.Payload {
	case sector.PayloadNull:
		return deps.Storage.ReleaseSpace(offset, sector.ClassData)
	case sector.PayloadScalar:
		return freeScalarChain(deps.Storage, offset)
	case sector.PayloadHash, sector.PayloadArray:
		if err := deps.Index.FreeSubtree(n.ChainOff, func(klOffset int64) error {
			return freeKeyAndValues(deps, klOffset)
		}); err != nil {
			return err
		}
		return deps.Storage.ReleaseSpace(offset, sector.ClassData)
	default:
		return dpdberr.New(dpdberr.ErrCorrupt, "unknown payload type %v at %d", n.Payload, offset)
	}
}

// freeKeyAndValues frees every value any slot of klOffset still
// references, then the KeyLocator sector itself. Used only while tearing
// down a whole collection, where no other transaction can still be
// relying on MVCC isolation for these keys.
func freeKeyAndValues(deps *Deps, klOffset int64) error {
	slots, err := deps.KL.Slots(klOffset)
	if err != nil {
		return err
	}
	seen := make(map[int64]bool)
	for _, s := range slots {
		if !s.InUse() || s.ValueOff == 0 || seen[s.ValueOff] {
			continue
		}
		seen[s.ValueOff] = true
		if err := freeValue(deps, s.ValueOff); err != nil {
			return err
		}
	}
	return deps.Storage.ReleaseSpace(klOffset, sector.ClassKeyLocator)
}
