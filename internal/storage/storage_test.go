package storage

import (
	"path/filepath"
	"testing"

	"dpdb/internal/sector"
)

func TestOpenCreatesHeaderAndBaseLocator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.dpdb")
	s, err := Open(path, Config{ByteSize: sector.Medium, DigestSize: 16, MaxBuckets: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if s.Header().Fanout() != 256 {
		t.Errorf("Fanout = %d, want 256 (default)", s.Header().Fanout())
	}

	frameSize, err := s.Sizes().FrameSize(sector.TypeKeyLocator)
	if err != nil {
		t.Fatalf("FrameSize: %v", err)
	}
	buf, err := s.ReadAt(s.BaseKeyLocatorOffset(), frameSize)
	if err != nil {
		t.Fatalf("ReadAt base locator: %v", err)
	}
	if sector.Type(buf[0]) != sector.TypeKeyLocator {
		t.Errorf("base locator type = %v, want KeyLocator", sector.Type(buf[0]))
	}
}

func TestReopenPreservesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.dpdb")
	s1, err := Open(path, Config{ByteSize: sector.Large, DigestSize: 16, MaxBuckets: 8})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s1.Close()

	s2, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if s2.Header().ByteSize != sector.Large {
		t.Errorf("ByteSize = %v, want Large", s2.Header().ByteSize)
	}
	if s2.Header().MaxBuckets != 8 {
		t.Errorf("MaxBuckets = %d, want 8", s2.Header().MaxBuckets)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notadb.dpdb")
	if err := writeGarbage(path); err != nil {
		t.Fatalf("writeGarbage: %v", err)
	}
	if _, err := Open(path, Config{}); err == nil {
		t.Fatal("expected NotADB error")
	}
}

func TestRequestReleaseSpaceReusesFreelist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alloc.dpdb")
	s, err := Open(path, Config{ByteSize: sector.Medium, DigestSize: 16, MaxBuckets: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	off1, err := s.RequestSpace(sector.ClassData)
	if err != nil {
		t.Fatalf("RequestSpace: %v", err)
	}
	frameSize, _ := s.Sizes().ClassFrameSize(sector.ClassData)
	content, _ := sector.EncodeDataNode(s.Sizes(), &sector.DataNode{Payload: sector.PayloadScalar})
	frame, _ := sector.EncodeFrame(s.Sizes(), sector.TypeData, content)
	if err := s.WriteAt(off1, frame); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	if err := s.ReleaseSpace(off1, sector.ClassData); err != nil {
		t.Fatalf("ReleaseSpace: %v", err)
	}

	off2, err := s.RequestSpace(sector.ClassData)
	if err != nil {
		t.Fatalf("RequestSpace after release: %v", err)
	}
	if off2 != off1 {
		t.Errorf("expected freelist reuse: off1=%d off2=%d", off1, off2)
	}

	buf, err := s.ReadAt(off2, frameSize)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if sector.Type(buf[0]) != sector.TypeFreelist {
		t.Fatalf("expected raw freed bytes to still read as Freelist before overwrite, got %v", sector.Type(buf[0]))
	}
}

func TestLockReentrancy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.dpdb")
	s, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.LockShared(); err != nil {
		t.Fatalf("LockShared: %v", err)
	}
	if err := s.LockShared(); err != nil {
		t.Fatalf("nested LockShared: %v", err)
	}
	if err := s.LockExclusive(); err != nil {
		t.Fatalf("upgrade to LockExclusive: %v", err)
	}
	if err := s.Unlock(); err != nil {
		t.Fatalf("unlock 1: %v", err)
	}
	if err := s.Unlock(); err != nil {
		t.Fatalf("unlock 2: %v", err)
	}
	if err := s.Unlock(); err != nil {
		t.Fatalf("unlock 3: %v", err)
	}
	if got := effective(s.stack); got != LockNone {
		t.Errorf("effective lock after full unwind = %v, want None", got)
	}
}

func writeGarbage(path string) error {
	s, err := Open(path, Config{})
	if err != nil {
		return err
	}
	defer s.Close()
	return s.WriteAt(0, []byte("XXXXXXXXXXXXXXXX"))
}
