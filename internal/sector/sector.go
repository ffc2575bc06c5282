// Package sector encodes and decodes the typed, length-prefixed records
// ("sectors") the storage engine carves out of a file: Header, Index,
// BucketList, KeyLocator, Data, and Freelist.
//
// Layout conventions here follow the offset-constant-table style of
// DaemonDB's storage_engine/access/heapfile_manager/heap_page.go: every
// field gets a named byte offset and a comment giving its width, and every
// multi-byte field is little-endian. Unlike a heap page, a sector's size is
// never read off the page itself in the general case — it is derived
// purely from Header fields (byte size, digest size, max buckets, index
// fanout), per spec invariant 3 ("every sector is length-addressable from
// its start using only Header-derived constants").
package sector

import "dpdb/internal/dpdberr"

// Type is the 1-byte sector type signature.
type Type byte

const (
	TypeIndex Type = iota + 1
	TypeBucketList
	TypeKeyLocator
	TypeData
	TypeFreelist
)

func (t Type) String() string {
	switch t {
	case TypeIndex:
		return "Index"
	case TypeBucketList:
		return "BucketList"
	case TypeKeyLocator:
		return "KeyLocator"
	case TypeData:
		return "Data"
	case TypeFreelist:
		return "Freelist"
	default:
		return "Unknown"
	}
}

// PayloadType is the Data sector's content discriminator (§3: Null,
// Scalar, Map, Sequence).
type PayloadType byte

const (
	PayloadNull PayloadType = iota
	PayloadScalar
	PayloadHash
	PayloadArray
)

func (p PayloadType) String() string {
	switch p {
	case PayloadNull:
		return "Null"
	case PayloadScalar:
		return "Scalar"
	case PayloadHash:
		return "Hash"
	case PayloadArray:
		return "Array"
	default:
		return "Unknown"
	}
}

// ByteSize is the header's byte-size enum: the width, in bytes, of every
// "long" (offset) field in the file.
type ByteSize byte

const (
	Small  ByteSize = 2
	Medium ByteSize = 4
	Large  ByteSize = 8
)

func (b ByteSize) Valid() bool {
	return b == Small || b == Medium || b == Large
}

// Fixed per-sector constants, chosen once and documented here:
// they bound the variable-length trailers (plain key, class tag, scalar
// chunk) so that every sector of a given class has exactly one size,
// satisfying §3 invariant "the engine only creates sectors of four sizes".
const (
	MaxKeyLen      = 255 // plain_key_len is a single byte (§6.1)
	MaxClassLen    = 64  // class tag byte-string cap
	DataChunkMax   = 255 // chunk_len is a single byte (§6.1)
	NumSizeClasses = 4   // Index, BucketList, KeyLocator, Data
)

// ClassIndex identifies one of the four exact sector size classes a
// Header's freelist heads are keyed by.
type ClassIndex int

const (
	ClassIndexSector ClassIndex = iota
	ClassBucketList
	ClassKeyLocator
	ClassData
)

// ClassForType maps a sector Type to its freelist class index. Freelist
// sectors are reused Index/BucketList/KeyLocator/Data frames and so are
// never looked up by their own type.
func ClassForType(t Type) (ClassIndex, error) {
	switch t {
	case TypeIndex:
		return ClassIndexSector, nil
	case TypeBucketList:
		return ClassBucketList, nil
	case TypeKeyLocator:
		return ClassKeyLocator, nil
	case TypeData:
		return ClassData, nil
	default:
		return 0, dpdberr.New(dpdberr.ErrCorrupt, "type %v has no freelist class", t)
	}
}

// TypeForClass is the inverse of ClassForType.
func TypeForClass(c ClassIndex) (Type, error) {
	switch c {
	case ClassIndexSector:
		return TypeIndex, nil
	case ClassBucketList:
		return TypeBucketList, nil
	case ClassKeyLocator:
		return TypeKeyLocator, nil
	case ClassData:
		return TypeData, nil
	default:
		return 0, dpdberr.New(dpdberr.ErrCorrupt, "class %d has no sector type", c)
	}
}

func putUint(buf []byte, bs ByteSize, v uint64) {
	for i := ByteSize(0); i < bs; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func getUint(buf []byte, bs ByteSize) uint64 {
	var v uint64
	for i := ByteSize(0); i < bs; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

// PutOffset writes a file offset as a bs-wide little-endian integer.
func PutOffset(buf []byte, bs ByteSize, off int64) {
	putUint(buf, bs, uint64(off))
}

// GetOffset reads a bs-wide little-endian offset.
func GetOffset(buf []byte, bs ByteSize) int64 {
	return int64(getUint(buf, bs))
}
