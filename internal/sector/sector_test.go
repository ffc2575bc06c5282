package sector

import (
	"bytes"
	"testing"
)

func testSizes() Sizes {
	return Sizes{ByteSize: Medium, DigestSize: 16, MaxBuckets: 8, Fanout: 256}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		Version:    FormatVersion,
		ByteSize:   Large,
		DigestSize: 16,
		MaxBuckets: 16,
		FanoutByte: 0, // means 256
	}
	h.FreelistHead[ClassData] = 12345

	buf, err := EncodeHeader(h)
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	if len(buf) != Large.HeaderSize() {
		t.Fatalf("header size = %d, want %d", len(buf), Large.HeaderSize())
	}

	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got.Fanout() != 256 {
		t.Errorf("Fanout() = %d, want 256", got.Fanout())
	}
	if got.FreelistHead[ClassData] != 12345 {
		t.Errorf("FreelistHead[Data] = %d, want 12345", got.FreelistHead[ClassData])
	}
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	buf := make([]byte, Medium.HeaderSize())
	copy(buf, "XXXX")
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestIndexNodeRoundTrip(t *testing.T) {
	s := testSizes()
	n := NewIndexNode(s)
	n.Children[5] = 4096
	n.Children[255] = 8192

	buf, err := EncodeIndexNode(s, n)
	if err != nil {
		t.Fatalf("EncodeIndexNode: %v", err)
	}
	if len(buf) != s.IndexContentSize() {
		t.Fatalf("len = %d, want %d", len(buf), s.IndexContentSize())
	}

	got, err := DecodeIndexNode(s, buf)
	if err != nil {
		t.Fatalf("DecodeIndexNode: %v", err)
	}
	if got.Children[5] != 4096 || got.Children[255] != 8192 {
		t.Errorf("children mismatch: %v", got.Children)
	}
}

func TestBucketListFindAndFree(t *testing.T) {
	s := testSizes()
	n := NewBucketListNode(s)
	digest := bytes.Repeat([]byte{0x7}, s.DigestSize)
	n.Entries[2] = BucketListEntry{Digest: append([]byte(nil), digest...), KeyLoc: 512}

	if idx := n.FindEntry(digest); idx != 2 {
		t.Errorf("FindEntry = %d, want 2", idx)
	}
	if free := n.FirstFreeSlot(); free != 0 {
		t.Errorf("FirstFreeSlot = %d, want 0", free)
	}

	buf, err := EncodeBucketListNode(s, n)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	roundTripped, err := DecodeBucketListNode(s, buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if idx := roundTripped.FindEntry(digest); idx != 2 {
		t.Errorf("round-tripped FindEntry = %d, want 2", idx)
	}
}

func TestKeyLocatorRoundTrip(t *testing.T) {
	s := testSizes()
	n := NewKeyLocatorNode(s, []byte("hello"))
	n.Slots[0] = Slot{ValueOff: 999, Tid: 0, Deleted: 0}
	n.Slots[1] = Slot{ValueOff: 111, Tid: 3, Deleted: 1}
	n.HasClass = true
	n.ClassName = []byte("MyClass")

	buf, err := EncodeKeyLocatorNode(s, n)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(buf) != s.KeyLocatorContentSize() {
		t.Fatalf("len = %d, want %d", len(buf), s.KeyLocatorContentSize())
	}

	got, err := DecodeKeyLocatorNode(s, buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got.PlainKey) != "hello" {
		t.Errorf("PlainKey = %q, want hello", got.PlainKey)
	}
	if !got.HasClass || string(got.ClassName) != "MyClass" {
		t.Errorf("class tag mismatch: %v %q", got.HasClass, got.ClassName)
	}
	if idx := got.FindSlot(3); idx != 1 {
		t.Errorf("FindSlot(3) = %d, want 1", idx)
	}
	if idx := got.Head(); idx != 0 {
		t.Errorf("Head() = %d, want 0", idx)
	}
}

func TestDataNodeChunking(t *testing.T) {
	s := testSizes()
	n := &DataNode{Payload: PayloadScalar, ChainOff: 2048, Chunk: []byte("chunk-bytes")}
	buf, err := EncodeDataNode(s, n)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeDataNode(s, buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Payload != PayloadScalar || got.ChainOff != 2048 || string(got.Chunk) != "chunk-bytes" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	s := testSizes()
	content, err := EncodeIndexNode(s, NewIndexNode(s))
	if err != nil {
		t.Fatalf("EncodeIndexNode: %v", err)
	}
	frame, err := EncodeFrame(s, TypeIndex, content)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	gotType, gotContent, err := DecodeFrame(s, frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if gotType != TypeIndex {
		t.Errorf("type = %v, want Index", gotType)
	}
	if !bytes.Equal(gotContent, content) {
		t.Errorf("content mismatch")
	}
}

func TestFreelistNodeRoundTrip(t *testing.T) {
	s := testSizes()
	n := &FreelistNode{Class: ClassBucketList, Next: 4096, Prev: 2048}
	buf, err := EncodeFreelistNode(s.ByteSize, s.BucketListContentSize(), n)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeFreelistNode(s.ByteSize, buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Class != ClassBucketList || got.Next != 4096 || got.Prev != 2048 {
		t.Errorf("mismatch: %+v", got)
	}
}
