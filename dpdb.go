// Package dpdb is the top-level entry point: Open a file, get back a DB
// exposing the root Map or Sequence and transaction control, wiring
// internal/storage, internal/cache, internal/index, internal/keylocator,
// internal/txn and internal/digest together the way
// storage_engine/main.go's NewVM wires the teacher's B+Tree, buffer pool
// and heap file manager into one entry point.
package dpdb

import (
	"go.uber.org/zap"

	"dpdb/entity"
	"dpdb/internal/audit"
	"dpdb/internal/cache"
	"dpdb/internal/digest"
	"dpdb/internal/dpdberr"
	"dpdb/internal/index"
	"dpdb/internal/keylocator"
	"dpdb/internal/sector"
	"dpdb/internal/storage"
	"dpdb/internal/txn"
)

// RootType selects what kind of collection lives at the root of a
// freshly created file (§6.3 "root collection type is fixed at creation
// time").
type RootType int

const (
	RootMap RootType = iota
	RootSequence
)

// config accumulates the functional options passed to Open.
type config struct {
	byteSize    sector.ByteSize
	digestName  string
	digestSize  uint8
	maxBuckets  uint8
	fanoutByte  uint8
	readOnly    bool
	autoflush   bool
	rootType    RootType
	cacheSize   int64
	auditPath   string
	logger      *zap.Logger
	filters     []entity.Filter
}

// Option configures Open. WithByteSize, WithMaxBuckets, WithFanoutByte,
// the digest width implied by WithDigest, and WithRootType only take
// effect when a file is being created; opening an existing file defers
// to the on-disk Header and root for those. WithReadOnly, WithAutoflush,
// WithCacheSize, WithAuditLog, WithLogger and WithFilters apply on every
// Open. The digest function itself is not recorded in the Header: it is
// chosen by WithDigest on each Open (MD5 when absent), so a file created
// with WithDigest("xxhash") is reopened with the same option.
type Option func(*config)

func WithByteSize(bs sector.ByteSize) Option { return func(c *config) { c.byteSize = bs } }
func WithDigest(name string) Option          { return func(c *config) { c.digestName = name } }
func WithMaxBuckets(n uint8) Option          { return func(c *config) { c.maxBuckets = n } }
func WithFanoutByte(n uint8) Option          { return func(c *config) { c.fanoutByte = n } }
func WithReadOnly() Option                   { return func(c *config) { c.readOnly = true } }
func WithAutoflush() Option                  { return func(c *config) { c.autoflush = true } }
func WithRootType(rt RootType) Option        { return func(c *config) { c.rootType = rt } }
func WithCacheSize(maxCostBytes int64) Option {
	return func(c *config) { c.cacheSize = maxCostBytes }
}
func WithAuditLog(path string) Option { return func(c *config) { c.auditPath = path } }
func WithLogger(log *zap.Logger) Option { return func(c *config) { c.logger = log } }
func WithFilters(fs ...entity.Filter) Option {
	return func(c *config) { c.filters = append(c.filters, fs...) }
}

func defaultConfig() config {
	return config{
		byteSize:   sector.Medium,
		digestSize: 16,
		maxBuckets: 16,
		cacheSize:  16 << 20, // 16 MiB
		logger:     zap.NewNop(),
	}
}

// DB is one open dpdb file. It owns the storage handle and every
// internal layer built on top of it, and exposes the root collection
// plus transaction control (§4.5, §5).
type DB struct {
	st    *storage.Storage
	cache *cache.SectorCache
	ix    *index.Index
	kl    *keylocator.KeyLocator
	txns  *txn.Manager
	audit *audit.Log
	deps  *entity.Deps

	rootType RootType
	filters  []entity.Filter
	log      *zap.Logger
}

// Open opens or creates path as a dpdb file (§1, §6.3).
func Open(path string, opts ...Option) (*DB, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	df, ok := digest.ByName(cfg.digestName)
	if !ok {
		return nil, dpdberr.New(dpdberr.ErrCorrupt, "unknown digest %q", cfg.digestName)
	}
	digestSize := cfg.digestSize
	if cfg.digestName != "" {
		digestSize = uint8(df.Size())
	}

	st, err := storage.Open(path, storage.Config{
		ByteSize:   cfg.byteSize,
		DigestSize: digestSize,
		MaxBuckets: cfg.maxBuckets,
		FanoutByte: cfg.fanoutByte,
		ReadOnly:   cfg.readOnly,
		Autoflush:  cfg.autoflush,
		Logger:     cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	sc, err := cache.New(st, 1e6, cfg.cacheSize, cfg.logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	ix := index.New(st, df, cfg.logger)
	kl := keylocator.New(st, cfg.logger)
	txns := txn.NewManager(cfg.logger)

	var al *audit.Log
	if cfg.auditPath != "" {
		al, err = audit.Open(cfg.auditPath, cfg.logger)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	deps := &entity.Deps{Storage: st, Index: ix, KL: kl, Txn: txns, Digest: df, Log: cfg.logger, Audit: al}

	db := &DB{
		st: st, cache: sc, ix: ix, kl: kl, txns: txns, audit: al, deps: deps,
		rootType: cfg.rootType, filters: cfg.filters, log: cfg.logger,
	}

	if err := db.ensureRoot(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ensureRoot reads the base KeyLocator's HEAD slot (spec invariant 7) to
// find the root collection's Data sector offset, creating one of
// db.rootType if the file is fresh.
func (db *DB) ensureRoot() error {
	base := db.st.BaseKeyLocatorOffset()
	off, deleted, found, err := db.kl.ReadFor(base, 0)
	if err != nil {
		return err
	}
	if found && !deleted && off != 0 {
		return nil
	}

	var dataOff int64
	switch db.rootType {
	case RootSequence:
		seq, err := entity.NewRootSequence(db.deps)
		if err != nil {
			return err
		}
		dataOff = seq.DataOffset()
	default:
		m, err := entity.NewRootMap(db.deps)
		if err != nil {
			return err
		}
		dataOff = m.DataOffset()
	}
	return db.kl.WriteHeadDirect(base, dataOff, false)
}

// Root returns the root collection as a Map. Panics-free: returns an
// error if the file's root was created (or is currently) a Sequence.
func (db *DB) Root() (*entity.Map, error) {
	off, err := db.rootDataOffset()
	if err != nil {
		return nil, err
	}
	m, err := entity.OpenRootMap(db.deps, off)
	if err != nil {
		return nil, err
	}
	return m.WithFilters(db.filters...), nil
}

// RootSequence returns the root collection as a Sequence.
func (db *DB) RootSequence() (*entity.Sequence, error) {
	off, err := db.rootDataOffset()
	if err != nil {
		return nil, err
	}
	s, err := entity.OpenRootSequence(db.deps, off)
	if err != nil {
		return nil, err
	}
	return s.WithFilters(db.filters...), nil
}

// releaseValue frees a value chain internal/txn's Commit/Rollback found
// unreferenced after clearing or overwriting a slot (§4.4, §4.5). It is
// entity's ReleaseValue, not internal/keylocator's own concern: freeing a
// nested Map/Sequence means walking its trie, which only the entity layer
// knows how to do.
func (db *DB) releaseValue(offset int64) error {
	return entity.ReleaseValue(db.deps, offset)
}

func (db *DB) rootDataOffset() (int64, error) {
	base := db.st.BaseKeyLocatorOffset()
	off, deleted, found, err := db.kl.ReadFor(base, 0)
	if err != nil {
		return 0, err
	}
	if !found || deleted {
		return 0, dpdberr.New(dpdberr.ErrCorrupt, "root collection missing at base key locator")
	}
	return off, nil
}

// Begin starts a new transaction, returning an entity.Tx to pass to
// every Map/Sequence call that should run inside it (§4.5).
func (db *DB) Begin() (entity.Tx, error) {
	t, err := db.txns.Begin()
	if err != nil {
		return entity.Tx{}, err
	}
	if db.audit != nil {
		if err := db.audit.Begin(t.Tid); err != nil {
			db.log.Warn("audit begin failed", zap.Error(err))
		}
	}
	return entity.InTx(t.Tid), nil
}

// Commit merges tx's writes onto HEAD and retires it.
func (db *DB) Commit(tx entity.Tx) error {
	tid := tx.Tid()
	if err := db.txns.Commit(db.kl, tid, db.releaseValue); err != nil {
		return err
	}
	if db.audit != nil {
		if err := db.audit.Commit(tid); err != nil {
			db.log.Warn("audit commit failed", zap.Error(err))
		}
	}
	return nil
}

// Rollback discards every write tx made and retires it.
func (db *DB) Rollback(tx entity.Tx) error {
	tid := tx.Tid()
	if err := db.txns.Rollback(db.kl, tid, db.releaseValue); err != nil {
		return err
	}
	if db.audit != nil {
		if err := db.audit.Rollback(tid); err != nil {
			db.log.Warn("audit rollback failed", zap.Error(err))
		}
	}
	return nil
}

// LockShared and LockExclusive take dpdb's whole-file advisory lock
// (§5), reentrant within this DB instance.
func (db *DB) LockShared() error    { return db.st.LockShared() }
func (db *DB) LockExclusive() error { return db.st.LockExclusive() }
func (db *DB) Unlock() error        { return db.st.Unlock() }

// Sync flushes any buffered writes to disk.
func (db *DB) Sync() error { return db.st.Sync() }

// Close releases the sector cache, the audit log (if any) and the
// underlying file handle.
func (db *DB) Close() error {
	db.cache.Close()
	if db.audit != nil {
		if err := db.audit.Close(); err != nil {
			db.log.Warn("audit close failed", zap.Error(err))
		}
	}
	return db.st.Close()
}

// Path returns the file this DB was opened against.
func (db *DB) Path() string { return db.st.Path() }
