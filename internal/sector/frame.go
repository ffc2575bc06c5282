package sector

import "dpdb/internal/dpdberr"

// Sizes bundles the Header-derived exact content sizes for the four
// sector classes plus Freelist, computed once per open file and passed
// down to every encode/decode call so no sector read ever needs to touch
// bytes outside what these constants say to read (invariant 3).
type Sizes struct {
	ByteSize   ByteSize
	DigestSize int
	MaxBuckets int
	Fanout     int
}

func (s Sizes) IndexContentSize() int {
	return s.Fanout * int(s.ByteSize)
}

func (s Sizes) BucketListContentSize() int {
	return s.MaxBuckets * (s.DigestSize + int(s.ByteSize))
}

func (s Sizes) KeyLocatorContentSize() int {
	slots := s.MaxBuckets * (int(s.ByteSize) + 2)
	trailer := 1 + MaxKeyLen + 1 + int(s.ByteSize) + MaxClassLen
	return slots + trailer
}

func (s Sizes) DataContentSize() int {
	return 1 + int(s.ByteSize) + 1 + DataChunkMax
}

// ContentSize returns the exact content size for a sector Type.
func (s Sizes) ContentSize(t Type) (int, error) {
	switch t {
	case TypeIndex:
		return s.IndexContentSize(), nil
	case TypeBucketList:
		return s.BucketListContentSize(), nil
	case TypeKeyLocator:
		return s.KeyLocatorContentSize(), nil
	case TypeData:
		return s.DataContentSize(), nil
	default:
		return 0, dpdberr.New(dpdberr.ErrCorrupt, "no content size for type %v", t)
	}
}

// FrameSize returns the total on-disk size (type byte + size field +
// content) for a sector of the given type.
func (s Sizes) FrameSize(t Type) (int, error) {
	cs, err := s.ContentSize(t)
	if err != nil {
		return 0, err
	}
	return 1 + int(s.ByteSize) + cs, nil
}

// ClassFrameSize returns FrameSize for one of the four allocator size
// classes, used by internal/storage which only knows about classes, not
// sector Types, when answering request_space.
func (s Sizes) ClassFrameSize(c ClassIndex) (int, error) {
	switch c {
	case ClassIndexSector:
		return s.FrameSize(TypeIndex)
	case ClassBucketList:
		return s.FrameSize(TypeBucketList)
	case ClassKeyLocator:
		return s.FrameSize(TypeKeyLocator)
	case ClassData:
		return s.FrameSize(TypeData)
	default:
		return 0, dpdberr.New(dpdberr.ErrCorrupt, "invalid class index %d", c)
	}
}

// EncodeFrame renders a type byte, size field, and content into one
// contiguous buffer ready to be written at a sector's offset.
func EncodeFrame(s Sizes, t Type, content []byte) ([]byte, error) {
	want, err := s.ContentSize(t)
	if err != nil {
		return nil, err
	}
	if len(content) != want {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "%v content must be exactly %d bytes, got %d", t, want, len(content))
	}
	buf := make([]byte, 1+int(s.ByteSize)+want)
	buf[0] = byte(t)
	PutOffset(buf[1:1+int(s.ByteSize)], s.ByteSize, int64(want))
	copy(buf[1+int(s.ByteSize):], content)
	return buf, nil
}

// DecodeFrame splits a raw frame buffer into its type and content,
// validating that the recorded size field matches the type's expected
// exact content size (a mismatch is corruption: §7 Corrupt).
func DecodeFrame(s Sizes, buf []byte) (Type, []byte, error) {
	if len(buf) < 1+int(s.ByteSize) {
		return 0, nil, dpdberr.New(dpdberr.ErrCorrupt, "short sector frame: %d bytes", len(buf))
	}
	t := Type(buf[0])
	size := GetOffset(buf[1:1+int(s.ByteSize)], s.ByteSize)

	if t == TypeFreelist {
		// Freelist content size depends on which class was freed, not on
		// t itself; caller (internal/storage) decodes the Freelist body
		// directly with DecodeFreelist using the class it already knows.
		rest := buf[1+int(s.ByteSize):]
		return t, rest, nil
	}

	want, err := s.ContentSize(t)
	if err != nil {
		return 0, nil, dpdberr.New(dpdberr.ErrCorrupt, "unknown sector type byte %d", buf[0])
	}
	if int64(want) != size {
		return 0, nil, dpdberr.New(dpdberr.ErrCorrupt, "%v declares size %d, expected %d", t, size, want)
	}
	content := buf[1+int(s.ByteSize):]
	if len(content) < want {
		return 0, nil, dpdberr.New(dpdberr.ErrCorrupt, "short %v content: need %d, have %d", t, want, len(content))
	}
	return t, content[:want], nil
}
