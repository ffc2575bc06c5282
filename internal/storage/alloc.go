package storage

import (
	"go.uber.org/zap"

	"dpdb/internal/dpdberr"
	"dpdb/internal/sector"
)

// RequestSpace returns an offset whose frame is exclusively owned by the
// caller for a sector of the given size class: either popped off that
// class's freelist, or appended at end-of-file (§4.1). It does not write
// anything; the caller must write the sector's content before the offset
// becomes reachable from anywhere else (§3 Lifecycle).
func (s *Storage) RequestSpace(class sector.ClassIndex) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frameSize, err := s.sizes.ClassFrameSize(class)
	if err != nil {
		return 0, err
	}

	head := s.header.FreelistHead[class]
	if head != 0 {
		return s.popFreelistLocked(class, head, frameSize)
	}

	offset := s.endOffset
	s.endOffset += int64(frameSize)
	s.log.Debug("allocated sector at end of file", zap.Int64("offset", offset), zap.Int("class", int(class)))
	return offset, nil
}

func (s *Storage) popFreelistLocked(class sector.ClassIndex, head int64, frameSize int) (int64, error) {
	buf, err := s.readAtNoLock(head, frameSize)
	if err != nil {
		return 0, err
	}
	if sector.Type(buf[0]) != sector.TypeFreelist {
		return 0, dpdberr.New(dpdberr.ErrCorrupt, "freelist head at %d is not a Freelist sector (type %d)", head, buf[0])
	}
	node, err := sector.DecodeFreelistNode(s.sizes.ByteSize, buf[1+int(s.sizes.ByteSize):])
	if err != nil {
		return 0, err
	}
	s.header.FreelistHead[class] = node.Next
	if err := s.persistHeaderLocked(); err != nil {
		return 0, err
	}
	s.log.Debug("reused freelist sector", zap.Int64("offset", head), zap.Int("class", int(class)))
	return head, nil
}

// ReleaseSpace marks offset (a sector of the given class) free, pushing
// it onto that class's freelist head, and invalidates it in any fronting
// cache (§3: "Freed sectors are linked into a size-class freelist and may
// never be read as live data until re-allocated").
func (s *Storage) ReleaseSpace(offset int64, class sector.ClassIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	typ, err := sector.TypeForClass(class)
	if err != nil {
		return err
	}
	contentSize, err := s.sizes.ContentSize(typ)
	if err != nil {
		return err
	}
	frameSize, err := s.sizes.ClassFrameSize(class)
	if err != nil {
		return err
	}

	node := &sector.FreelistNode{Class: class, Next: s.header.FreelistHead[class]}
	content, err := sector.EncodeFreelistNode(s.sizes.ByteSize, contentSize, node)
	if err != nil {
		return err
	}
	frame := make([]byte, frameSize)
	frame[0] = byte(sector.TypeFreelist)
	sector.PutOffset(frame[1:1+int(s.sizes.ByteSize)], s.sizes.ByteSize, int64(contentSize))
	copy(frame[1+int(s.sizes.ByteSize):], content)

	if err := s.writeAtNoLock(offset, frame); err != nil {
		return err
	}
	s.header.FreelistHead[class] = offset
	if err := s.persistHeaderLocked(); err != nil {
		return err
	}

	if s.onRelease != nil {
		s.onRelease(offset)
	}
	s.log.Debug("released sector", zap.Int64("offset", offset), zap.Int("class", int(class)))
	return nil
}

func (s *Storage) persistHeaderLocked() error {
	buf, err := sector.EncodeHeader(s.header)
	if err != nil {
		return err
	}
	return s.writeAtNoLock(s.fileOffset, buf)
}

// readAtNoLock/writeAtNoLock are used by the allocator, which already
// holds s.mu; ReadAt/WriteAt take it themselves and would deadlock here.
func (s *Storage) readAtNoLock(offset int64, length int) ([]byte, error) {
	if err := s.reopenIfRenamed(); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := s.file.ReadAt(buf, offset)
	if err != nil && n < length {
		return nil, dpdberr.Wrapf(dpdberr.ErrIO, err, "read %d bytes at %d", length, offset)
	}
	return buf, nil
}

func (s *Storage) writeAtNoLock(offset int64, data []byte) error {
	if s.readOnly {
		return dpdberr.New(dpdberr.ErrReadonly, "write to read-only storage")
	}
	if err := s.reopenIfRenamed(); err != nil {
		return err
	}
	if _, err := s.file.WriteAt(data, offset); err != nil {
		return dpdberr.Wrapf(dpdberr.ErrIO, err, "write %d bytes at %d", len(data), offset)
	}
	if s.autoflush {
		return s.syncNoLock()
	}
	return nil
}
