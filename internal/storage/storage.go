// Package storage owns the file handle, the whole-file advisory lock, and
// the size-class freelist allocator described in spec §4.1. It is the
// bottom layer of the engine: internal/sector encodes bytes, internal/storage
// puts them at offsets and gets them back.
//
// Grounded on storage_engine/disk_manager/main.go's FileDescriptor
// lifecycle (open-or-create, Sync, CloseFile), generalized from fixed 4 KB
// pages to the four exact sector size classes internal/sector defines, and
// extended with the whole-file unix.Flock locking and inode-change
// detection the teacher's single-process design never needed.
package storage

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"dpdb/internal/dpdberr"
	"dpdb/internal/sector"
)

// Config are the parameters fixed at file creation time (§6.3). Opening
// an existing file ignores everything here except FileOffset, ReadOnly,
// Autoflush and Logger: the on-disk Header is authoritative for byte size, digest
// size, max buckets, and fanout (§1 Non-goals: "hot-changing the header
// parameters of an existing file").
type Config struct {
	FileOffset int64
	ByteSize   sector.ByteSize
	DigestSize uint8
	MaxBuckets uint8
	FanoutByte uint8
	ReadOnly   bool
	Autoflush  bool
	Logger     *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.ByteSize == 0 {
		c.ByteSize = sector.Medium
	}
	if c.DigestSize == 0 {
		c.DigestSize = 16
	}
	if c.MaxBuckets == 0 {
		c.MaxBuckets = 16
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Storage is one process's handle onto a dpdb file: the OS file
// descriptor, the reentrant advisory lock, the cached Header, and the
// end-of-file cursor the allocator appends new sectors at.
type Storage struct {
	path       string
	file       *os.File
	fileOffset int64
	readOnly   bool
	autoflush  bool
	log        *zap.Logger

	mu        sync.Mutex // guards header, endOffset
	header    *sector.Header
	sizes     sector.Sizes
	endOffset int64

	inoMu sync.Mutex // guards file, ino — separate from mu, reopen can be triggered while mu is held
	ino   uint64

	lockMu sync.Mutex
	stack  []LockKind

	onRelease func(offset int64) // cache invalidation hook, see internal/cache

	cacheGet func(offset int64) ([]byte, bool) // read-through hook, see internal/cache
	cachePut func(offset int64, data []byte)   // populate-on-write/miss hook, see internal/cache
}

// BaseKeyLocatorOffset returns the fixed, well-known offset of the root
// collection's base KeyLocator sector (spec invariant 7).
func (s *Storage) BaseKeyLocatorOffset() int64 {
	return s.fileOffset + int64(s.header.ByteSize.HeaderSize())
}

func (s *Storage) Sizes() sector.Sizes   { return s.sizes }
func (s *Storage) Header() *sector.Header { return s.header }
func (s *Storage) ReadOnly() bool        { return s.readOnly }
func (s *Storage) Path() string          { return s.path }
func (s *Storage) Logger() *zap.Logger   { return s.log }

// SetReleaseHook registers a callback invoked whenever ReleaseSpace frees
// a sector, so a fronting cache can evict the now-stale entry (spec §3:
// "Concurrent readers of a freed sector see a freshness counter mismatch
// ... and treat the handle as stale" — this hook covers cache
// invalidation only; internal/txn keeps per-tid staleness counters, and
// entity handles do not consult them).
func (s *Storage) SetReleaseHook(fn func(offset int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRelease = fn
}

// SetCacheHooks wires a fronting cache's Get/Put into ReadAt and WriteAt:
// ReadAt consults get before touching the file and serves a hit directly;
// WriteAt and a ReadAt miss both call put to keep the cache warm with
// whatever bytes are now live at offset.
func (s *Storage) SetCacheHooks(get func(offset int64) ([]byte, bool), put func(offset int64, data []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheGet = get
	s.cachePut = put
}

// Open opens or creates path as a dpdb file. On creation it writes a
// fresh Header and an empty base KeyLocator immediately after it.
func Open(path string, cfg Config) (*Storage, error) {
	cfg = cfg.withDefaults()
	if !cfg.ByteSize.Valid() {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "invalid byte size %d", cfg.ByteSize)
	}

	flags := os.O_RDWR | os.O_CREATE
	if cfg.ReadOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, dpdberr.Wrapf(dpdberr.ErrIO, err, "open %s", path)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dpdberr.Wrapf(dpdberr.ErrIO, err, "stat %s", path)
	}

	s := &Storage{
		path:       path,
		file:       f,
		fileOffset: cfg.FileOffset,
		readOnly:   cfg.ReadOnly,
		autoflush:  cfg.Autoflush,
		log:        cfg.Logger,
		ino:        inodeOf(st),
	}

	if st.Size() <= cfg.FileOffset {
		if cfg.ReadOnly {
			f.Close()
			return nil, dpdberr.New(dpdberr.ErrReadonly, "cannot create %s read-only", path)
		}
		if err := s.initFresh(cfg); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := s.loadExisting(); err != nil {
			f.Close()
			return nil, err
		}
	}

	s.log.Info("storage opened", zap.String("path", path), zap.Int64("fileOffset", s.fileOffset), zap.Bool("readOnly", s.readOnly))
	return s, nil
}

func (s *Storage) initFresh(cfg Config) error {
	h := &sector.Header{
		Version:    sector.FormatVersion,
		ByteSize:   cfg.ByteSize,
		DigestSize: cfg.DigestSize,
		MaxBuckets: cfg.MaxBuckets,
		FanoutByte: cfg.FanoutByte,
	}
	s.header = h
	s.sizes = sizesFromHeader(h)

	buf, err := sector.EncodeHeader(h)
	if err != nil {
		return err
	}
	if _, err := s.file.WriteAt(buf, s.fileOffset); err != nil {
		return dpdberr.Wrap(dpdberr.ErrIO, err)
	}

	base := s.BaseKeyLocatorOffset()
	kl := sector.NewKeyLocatorNode(s.sizes, nil)
	content, err := sector.EncodeKeyLocatorNode(s.sizes, kl)
	if err != nil {
		return err
	}
	frame, err := sector.EncodeFrame(s.sizes, sector.TypeKeyLocator, content)
	if err != nil {
		return err
	}
	if _, err := s.file.WriteAt(frame, base); err != nil {
		return dpdberr.Wrap(dpdberr.ErrIO, err)
	}

	s.endOffset = base + int64(len(frame))
	if s.autoflush {
		return s.syncNoLock()
	}
	return nil
}

func (s *Storage) loadExisting() error {
	// Read enough to see the byte-size enum, then re-read the exact
	// header width once known.
	peek := make([]byte, 16)
	if _, err := s.file.ReadAt(peek, s.fileOffset); err != nil {
		return dpdberr.Wrapf(dpdberr.ErrIO, err, "read header")
	}
	bs, err := sector.DecodeHeaderByteSize(peek)
	if err != nil {
		return err
	}
	buf := make([]byte, bs.HeaderSize())
	if _, err := s.file.ReadAt(buf, s.fileOffset); err != nil {
		return dpdberr.Wrapf(dpdberr.ErrIO, err, "read header")
	}
	h, err := sector.DecodeHeader(buf)
	if err != nil {
		return err
	}
	s.header = h
	s.sizes = sizesFromHeader(h)

	st, err := s.file.Stat()
	if err != nil {
		return dpdberr.Wrap(dpdberr.ErrIO, err)
	}
	base := s.BaseKeyLocatorOffset()
	klFrame, err := s.sizes.FrameSize(sector.TypeKeyLocator)
	if err != nil {
		return err
	}
	end := base + int64(klFrame)
	if st.Size() > end {
		end = st.Size()
	}
	s.endOffset = end
	return nil
}

func sizesFromHeader(h *sector.Header) sector.Sizes {
	return sector.Sizes{
		ByteSize:   h.ByteSize,
		DigestSize: int(h.DigestSize),
		MaxBuckets: int(h.MaxBuckets),
		Fanout:     h.Fanout(),
	}
}

// reopenIfRenamed detects the inode-change case described in §4.1
// ("defensive against external rename/replace") and transparently
// reopens the file, preserving the caller's view of the header.
func (s *Storage) reopenIfRenamed() error {
	s.inoMu.Lock()
	defer s.inoMu.Unlock()

	st, err := os.Stat(s.path)
	if err != nil {
		return dpdberr.Wrap(dpdberr.ErrIO, err)
	}
	if inodeOf(st) == s.ino {
		return nil
	}
	s.log.Warn("inode changed, reopening", zap.String("path", s.path))
	flags := os.O_RDWR
	if s.readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(s.path, flags, 0644)
	if err != nil {
		return dpdberr.Wrapf(dpdberr.ErrIO, err, "reopen %s", s.path)
	}
	old := s.file
	s.file = f
	s.ino = inodeOf(st)
	old.Close()
	return nil
}

// ReadAt reads length bytes at offset, serving a fronting cache's hit
// without touching the file and populating it on a miss. Callers are
// responsible for holding the appropriate lock (§5: locking is the
// caller's discipline, not baked into every byte access).
func (s *Storage) ReadAt(offset int64, length int) ([]byte, error) {
	if err := s.reopenIfRenamed(); err != nil {
		return nil, err
	}
	if s.cacheGet != nil {
		if cached, ok := s.cacheGet(offset); ok && len(cached) == length {
			return append([]byte(nil), cached...), nil
		}
	}
	buf := make([]byte, length)
	n, err := s.file.ReadAt(buf, offset)
	if err != nil && n < length {
		return nil, dpdberr.Wrapf(dpdberr.ErrIO, err, "read %d bytes at %d", length, offset)
	}
	if s.cachePut != nil {
		s.cachePut(offset, buf)
	}
	return buf, nil
}

// WriteAt writes data at offset, flushing immediately if autoflush is set
// (§5: "all mutations seek-then-write under the exclusive lock and, if
// the file was opened with autoflush, are flushed before release").
func (s *Storage) WriteAt(offset int64, data []byte) error {
	if s.readOnly {
		return dpdberr.New(dpdberr.ErrReadonly, "write to read-only storage")
	}
	if err := s.reopenIfRenamed(); err != nil {
		return err
	}
	if _, err := s.file.WriteAt(data, offset); err != nil {
		return dpdberr.Wrapf(dpdberr.ErrIO, err, "write %d bytes at %d", len(data), offset)
	}
	if s.cachePut != nil {
		s.cachePut(offset, data)
	}
	if s.autoflush {
		return s.syncNoLock()
	}
	return nil
}

func (s *Storage) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncNoLock()
}

func (s *Storage) syncNoLock() error {
	if err := s.file.Sync(); err != nil {
		return dpdberr.Wrap(dpdberr.ErrIO, err)
	}
	return nil
}

func (s *Storage) Close() error {
	if err := s.file.Sync(); err != nil {
		s.log.Warn("sync on close failed", zap.Error(err))
	}
	if err := s.file.Close(); err != nil {
		return dpdberr.Wrap(dpdberr.ErrIO, err)
	}
	return nil
}

func inodeOf(st os.FileInfo) uint64 {
	if sys, ok := st.Sys().(*unix.Stat_t); ok {
		return sys.Ino
	}
	return 0
}
