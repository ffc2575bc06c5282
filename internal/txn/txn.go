// Package txn implements the ACI (no D) transaction protocol of spec
// §4.5 over the 1-byte transaction-id space: begin/commit/rollback, the
// set of KeyLocator offsets each open transaction has written or merely
// been protection-snapshotted into, and per-tid staleness counters
// (Staleness) that advance on every commit or rollback. The entity layer
// does not read these counters.
//
// Grounded on storage_engine/transaction_manager/main.go's
// activeTxns-map-plus-mutex shape and Begin/Commit/Abort state machine,
// narrowed from the teacher's unbounded atomic uint64 id space to the
// spec's 1-255 id space (0 is reserved for HEAD) and extended with the
// modified/touched bookkeeping internal/keylocator's protection protocol
// needs — the teacher has no MVCC and so no equivalent of either.
package txn

import (
	"sync"

	"go.uber.org/zap"

	"dpdb/internal/dpdberr"
	"dpdb/internal/keylocator"
)

// State is a transaction's lifecycle stage.
type State uint8

const (
	Active State = iota
	Committed
	RolledBack
)

// Transaction is a single open ACI transaction.
type Transaction struct {
	Tid   uint8
	State State
}

// Manager allocates transaction ids and tracks, per open id, which
// KeyLocator offsets it has written (modified) versus merely had a
// protective HEAD snapshot taken at (touched). Manager is in-memory only
// — transactions do not survive a process restart (§1 Non-goals:
// durability is out of scope).
type Manager struct {
	mu sync.Mutex

	nextTid uint8
	open    map[uint8]*Transaction
	written map[uint8]map[int64]struct{}
	touched map[uint8]map[int64]struct{}
	stale   map[uint8]uint64

	log *zap.Logger
}

func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		nextTid: 1,
		open:    make(map[uint8]*Transaction),
		written: make(map[uint8]map[int64]struct{}),
		touched: make(map[uint8]map[int64]struct{}),
		stale:   make(map[uint8]uint64),
		log:     log,
	}
}

// Begin allocates a fresh, non-zero transaction id and marks it active.
// The id space wraps at 255; ErrTooManyTransactions is returned only when
// every one of the 255 ids is simultaneously open.
func (m *Manager) Begin() (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.nextTid
	for {
		tid := m.nextTid
		m.nextTid++
		if m.nextTid == 0 {
			m.nextTid = 1
		}
		if _, busy := m.open[tid]; !busy {
			t := &Transaction{Tid: tid, State: Active}
			m.open[tid] = t
			m.written[tid] = make(map[int64]struct{})
			m.touched[tid] = make(map[int64]struct{})
			m.log.Debug("transaction begin", zap.Uint8("tid", tid))
			return t, nil
		}
		if m.nextTid == start {
			return nil, dpdberr.New(dpdberr.ErrTooManyTransactions, "all 255 transaction ids are in use")
		}
	}
}

// OpenTids returns a snapshot of every currently open transaction id,
// used to drive internal/keylocator's Protect call.
func (m *Manager) OpenTids() []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	tids := make([]uint8, 0, len(m.open))
	for tid := range m.open {
		tids = append(tids, tid)
	}
	return tids
}

// IsOpen reports whether tid currently names an active transaction.
func (m *Manager) IsOpen(tid uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.open[tid]
	return ok && t.State == Active
}

// Staleness returns tid's current generation counter. A caller that
// cached a value alongside this counter must re-verify the two still
// match before trusting the cached value — a mismatch means tid has
// since committed or rolled back (§9).
func (m *Manager) Staleness(tid uint8) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale[tid]
}

// MarkWritten records that tid intentionally wrote offset; it will be
// merged onto HEAD at commit. Also counts as touched for cleanup.
func (m *Manager) MarkWritten(tid uint8, offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.written[tid] == nil {
		m.written[tid] = make(map[int64]struct{})
	}
	m.written[tid][offset] = struct{}{}
	if m.touched[tid] == nil {
		m.touched[tid] = make(map[int64]struct{})
	}
	m.touched[tid][offset] = struct{}{}
}

// MarkTouched records that tid has a slot at offset purely from
// protection (it never wrote there itself), so Rollback/Commit's cleanup
// pass still finds and frees it.
func (m *Manager) MarkTouched(tid uint8, offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touched[tid] == nil {
		m.touched[tid] = make(map[int64]struct{})
	}
	m.touched[tid][offset] = struct{}{}
}

// ProtectAgainst runs internal/keylocator's protection step for every
// other open transaction before actingTid (0 for an auto-commit write)
// mutates offset's HEAD slot, and records which transactions it
// protected so their cleanup is not forgotten later.
func (m *Manager) ProtectAgainst(kl *keylocator.KeyLocator, actingTid uint8, offset int64) error {
	open := m.OpenTids()
	protected, err := kl.Protect(offset, actingTid, open)
	if err != nil {
		return err
	}
	for _, tid := range protected {
		m.MarkTouched(tid, offset)
	}
	return nil
}

// Commit merges every offset tid wrote onto HEAD, discards tid's
// merely-protective slots, and retires tid. free releases a value chain
// (HEAD's previous value on a merge, or a discarded protective snapshot)
// once internal/keylocator finds it unreferenced; see KeyLocator.CommitToHead
// and KeyLocator.Rollback.
func (m *Manager) Commit(kl *keylocator.KeyLocator, tid uint8, free func(valueOff int64) error) error {
	m.mu.Lock()
	t, ok := m.open[tid]
	if !ok {
		m.mu.Unlock()
		return dpdberr.New(dpdberr.ErrNotInTransaction, "tid %d is not open", tid)
	}
	written := m.written[tid]
	touched := m.touched[tid]
	m.mu.Unlock()

	for offset := range written {
		if err := kl.CommitToHead(offset, tid, free); err != nil {
			return err
		}
	}
	for offset := range touched {
		if _, wasWritten := written[offset]; wasWritten {
			continue
		}
		if err := kl.Rollback(offset, tid, free); err != nil {
			return err
		}
	}

	m.mu.Lock()
	t.State = Committed
	delete(m.open, tid)
	delete(m.written, tid)
	delete(m.touched, tid)
	m.stale[tid]++
	m.mu.Unlock()

	m.log.Debug("transaction commit", zap.Uint8("tid", tid), zap.Int("keys_written", len(written)))
	return nil
}

// Rollback discards every offset tid touched (written or merely
// protected) and retires tid. HEAD is untouched. free releases each
// discarded slot's value chain once nothing else still references it;
// see KeyLocator.Rollback.
func (m *Manager) Rollback(kl *keylocator.KeyLocator, tid uint8, free func(valueOff int64) error) error {
	m.mu.Lock()
	t, ok := m.open[tid]
	if !ok {
		m.mu.Unlock()
		return dpdberr.New(dpdberr.ErrNotInTransaction, "tid %d is not open", tid)
	}
	touched := m.touched[tid]
	m.mu.Unlock()

	for offset := range touched {
		if err := kl.Rollback(offset, tid, free); err != nil {
			return err
		}
	}

	m.mu.Lock()
	t.State = RolledBack
	delete(m.open, tid)
	delete(m.written, tid)
	delete(m.touched, tid)
	m.stale[tid]++
	m.mu.Unlock()

	m.log.Debug("transaction rollback", zap.Uint8("tid", tid), zap.Int("keys_discarded", len(touched)))
	return nil
}
