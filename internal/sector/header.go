package sector

import "dpdb/internal/dpdberr"

// Magic is the fixed 4-byte identifier every dpdb file must begin with
// (at FileOffset). §6.1.
var Magic = [4]byte{'D', 'P', 'D', 'B'}

const FormatVersion = 1

// Fixed header field offsets, relative to FileOffset. Everything after
// offset headOffFreelistHeads has width ByteSize and repeats once per
// size class (§6.1's "file-wide freelist heads per sector class").
const (
	headOffMagic        = 0 // [4]byte
	headOffVersion       = 4 // uint8
	headOffByteSize      = 5 // uint8 (2, 4, or 8)
	headOffDigestSize    = 6 // uint8
	headOffMaxBuckets    = 7 // uint8
	headOffFanout        = 8 // uint8; 0 means 256 (see Header.Fanout)
	headOffFreelistHeads = 9
)

// Header is the file-wide identity and sizing record (§3's Header row).
// It lives at a fixed offset (normally 0) and is not length-prefixed the
// way the other sector types are: its size is derived entirely from its
// own ByteSize field, read before anything else.
type Header struct {
	Version      uint8
	ByteSize     ByteSize
	DigestSize   uint8
	MaxBuckets   uint8
	FanoutByte   uint8 // 0 means 256; otherwise the literal fanout
	FreelistHead [NumSizeClasses]int64
}

// Fanout returns the index-cascade branching factor, resolving the
// 0-means-256 encoding of FanoutByte.
func (h *Header) Fanout() int {
	if h.FanoutByte == 0 {
		return 256
	}
	return int(h.FanoutByte)
}

// HeaderSize returns the fixed on-disk size of the header for this ByteSize.
func (bs ByteSize) HeaderSize() int {
	return headOffFreelistHeads + NumSizeClasses*int(bs)
}

// EncodeHeader renders h as HeaderSize(h.ByteSize) bytes.
func EncodeHeader(h *Header) ([]byte, error) {
	if !h.ByteSize.Valid() {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "invalid byte size %d", h.ByteSize)
	}
	buf := make([]byte, h.ByteSize.HeaderSize())
	copy(buf[headOffMagic:], Magic[:])
	buf[headOffVersion] = h.Version
	buf[headOffByteSize] = byte(h.ByteSize)
	buf[headOffDigestSize] = h.DigestSize
	buf[headOffMaxBuckets] = h.MaxBuckets
	buf[headOffFanout] = h.FanoutByte
	for i := 0; i < NumSizeClasses; i++ {
		off := headOffFreelistHeads + i*int(h.ByteSize)
		PutOffset(buf[off:off+int(h.ByteSize)], h.ByteSize, h.FreelistHead[i])
	}
	return buf, nil
}

// DecodeHeaderByteSize peeks only the byte-size field, needed before the
// caller knows how many bytes to read for the rest of the header.
func DecodeHeaderByteSize(buf []byte) (ByteSize, error) {
	if len(buf) <= headOffByteSize {
		return 0, dpdberr.New(dpdberr.ErrNotADB, "short read for header byte-size field")
	}
	bs := ByteSize(buf[headOffByteSize])
	if !bs.Valid() {
		return 0, dpdberr.New(dpdberr.ErrNotADB, "invalid byte-size enum %d", buf[headOffByteSize])
	}
	return bs, nil
}

// DecodeHeader parses a full header. buf must be at least
// bs.HeaderSize() bytes, where bs was obtained via DecodeHeaderByteSize.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < 4 {
		return nil, dpdberr.New(dpdberr.ErrNotADB, "short read for magic")
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return nil, dpdberr.New(dpdberr.ErrNotADB, "bad magic %q", buf[:4])
	}
	bs, err := DecodeHeaderByteSize(buf)
	if err != nil {
		return nil, err
	}
	want := bs.HeaderSize()
	if len(buf) < want {
		return nil, dpdberr.New(dpdberr.ErrNotADB, "short header: need %d bytes, have %d", want, len(buf))
	}
	h := &Header{
		Version:    buf[headOffVersion],
		ByteSize:   bs,
		DigestSize: buf[headOffDigestSize],
		MaxBuckets: buf[headOffMaxBuckets],
		FanoutByte: buf[headOffFanout],
	}
	for i := 0; i < NumSizeClasses; i++ {
		off := headOffFreelistHeads + i*int(bs)
		h.FreelistHead[i] = GetOffset(buf[off:off+int(bs)], bs)
	}
	return h, nil
}
