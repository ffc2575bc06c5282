// Package entity is the public Map/Sequence surface of spec §4.6: the
// collection API application code actually calls, layered on top of
// internal/index's trie, internal/keylocator's MVCC slots, and
// internal/txn's transaction bookkeeping.
//
// Grounded on storage_engine/access/heapfile_manager/row_ops_external.go
// (the public CRUD surface wrapping heapfile's internal slot operations)
// and query_executor's auto_commit.go / auto_transaction.go pattern of
// an explicit lock window bracketing either a single auto-committed
// operation or a whole user transaction.
package entity

import (
	"go.uber.org/zap"

	"dpdb/internal/audit"
	"dpdb/internal/digest"
	"dpdb/internal/index"
	"dpdb/internal/keylocator"
	"dpdb/internal/sector"
	"dpdb/internal/storage"
	"dpdb/internal/txn"
)

// Tx names which transaction's view an entity operation runs under.
// The zero value is AutoCommit: the operation reads/writes HEAD directly,
// with no further persistence required. Entity operations take no file
// lock of their own; a caller sharing the file across processes brackets
// them with the root package's LockShared/LockExclusive and Unlock.
type Tx struct {
	tid uint8
}

// AutoCommit is the zero Tx: operate directly on HEAD, outside any
// transaction.
func AutoCommit() Tx { return Tx{} }

// InTx wraps a transaction id obtained from dpdb.DB.Begin for use in entity
// calls. Internal to the dpdb module — application code never constructs
// a Tx by hand, it gets one back from the root package's Begin.
func InTx(tid uint8) Tx { return Tx{tid: tid} }

func (t Tx) tidOrHead() uint8 { return t.tid }

// Tid returns the underlying transaction id, 0 for AutoCommit. Exposed
// for the root package, which needs it to drive internal/txn directly.
func (t Tx) Tid() uint8 { return t.tid }

// Deps bundles the internal layers a Collection needs. One Deps is
// shared by every Map/Sequence opened against the same dpdb.DB.
type Deps struct {
	Storage *storage.Storage
	Index   *index.Index
	KL      *keylocator.KeyLocator
	Txn     *txn.Manager
	Digest  digest.Func
	Log     *zap.Logger

	// Audit, if non-nil, receives one record per mutating Map/Sequence
	// call (§6.3's optional textual replay log). Left nil, every audit
	// call below is a no-op.
	Audit *audit.Log
}

func (d *Deps) auditPut(tid uint8, key string, value interface{}) {
	if d.Audit == nil {
		return
	}
	if err := d.Audit.Put(tid, key, value); err != nil {
		d.logger().Warn("audit put failed", zap.Error(err))
	}
}

func (d *Deps) auditDelete(tid uint8, key string) {
	if d.Audit == nil {
		return
	}
	if err := d.Audit.Delete(tid, key); err != nil {
		d.logger().Warn("audit delete failed", zap.Error(err))
	}
}

func (d *Deps) auditClear(tid uint8) {
	if d.Audit == nil {
		return
	}
	if err := d.Audit.Clear(tid); err != nil {
		d.logger().Warn("audit clear failed", zap.Error(err))
	}
}

func (d *Deps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// collection is the shared state of a Map or Sequence: the Data sector
// that represents this collection as a value (payload Hash or Array,
// chain_off repurposed as this collection's own trie root — spec
// invariant 7 applied uniformly to root and nested collections alike)
// plus the filter hooks threaded through from the view it was opened
// from, if any. Class tags live in the KeyLocator of the key that points
// at a collection (see Map.Class), not here.
type collection struct {
	deps       *Deps
	dataOffset int64 // this collection's own Data(Hash|Array) sector
	rootIndex  int64 // this collection's trie root Index offset
	filters    []Filter
}

func openCollection(deps *Deps, dataOffset int64, want sector.PayloadType) (*collection, error) {
	n, err := readDataNode(deps.Storage, dataOffset)
	if err != nil {
		return nil, err
	}
	if n.Payload != want {
		return nil, typeMismatch(want, n.Payload)
	}
	return &collection{deps: deps, dataOffset: dataOffset, rootIndex: n.ChainOff}, nil
}

// newCollection allocates a brand-new, empty Data(payload) sector with
// its own fresh trie root, used both for the root collection at file
// creation and for any PutMap/PutSequence nested creation.
func newCollection(deps *Deps, payload sector.PayloadType) (*collection, error) {
	rootOff, err := deps.Index.NewRoot()
	if err != nil {
		return nil, err
	}
	dataOff, err := deps.Storage.RequestSpace(sector.ClassData)
	if err != nil {
		return nil, err
	}
	if err := writeDataNode(deps.Storage, dataOff, &sector.DataNode{Payload: payload, ChainOff: rootOff}); err != nil {
		return nil, err
	}
	return &collection{deps: deps, dataOffset: dataOff, rootIndex: rootOff}, nil
}

// DataOffset returns the offset of this collection's own Data(Hash|Array)
// sector, the value a KeyLocator slot should point at to reference it.
func (c *collection) DataOffset() int64 { return c.dataOffset }

// WithFilters returns a shallow copy of the collection view with extra
// filter hooks appended, applied on top of any already present (§4.6
// "filter hooks").
func (c *collection) withFilters(fs ...Filter) *collection {
	cp := *c
	cp.filters = append(append([]Filter(nil), c.filters...), fs...)
	return &cp
}

func readDataNode(st *storage.Storage, offset int64) (*sector.DataNode, error) {
	frameSize, err := st.Sizes().FrameSize(sector.TypeData)
	if err != nil {
		return nil, err
	}
	buf, err := st.ReadAt(offset, frameSize)
	if err != nil {
		return nil, err
	}
	typ, content, err := sector.DecodeFrame(st.Sizes(), buf)
	if err != nil {
		return nil, err
	}
	if typ != sector.TypeData {
		return nil, typeMismatchf("expected Data sector at %d, found %v", offset, typ)
	}
	return sector.DecodeDataNode(st.Sizes(), content)
}

func writeDataNode(st *storage.Storage, offset int64, n *sector.DataNode) error {
	content, err := sector.EncodeDataNode(st.Sizes(), n)
	if err != nil {
		return err
	}
	frame, err := sector.EncodeFrame(st.Sizes(), sector.TypeData, content)
	if err != nil {
		return err
	}
	return st.WriteAt(offset, frame)
}
