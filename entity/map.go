package entity

import (
	"dpdb/internal/index"
	"dpdb/internal/sector"
)

// Map is a key/value collection keyed by byte-string keys (§4.6).
type Map struct {
	*collection
}

// NewRootMap creates the file's root Map collection, called once when a
// fresh file is initialized with a Hash root type.
func NewRootMap(deps *Deps) (*Map, error) {
	c, err := newCollection(deps, sector.PayloadHash)
	if err != nil {
		return nil, err
	}
	return &Map{collection: c}, nil
}

// OpenRootMap wraps an existing Data(Hash) sector as the root Map.
func OpenRootMap(deps *Deps, dataOffset int64) (*Map, error) {
	c, err := openCollection(deps, dataOffset, sector.PayloadHash)
	if err != nil {
		return nil, err
	}
	return &Map{collection: c}, nil
}

// WithFilters returns a view of m with additional Filters applied.
func (m *Map) WithFilters(fs ...Filter) *Map {
	return &Map{collection: m.withFilters(fs...)}
}

// Get returns key's value as seen by tx, applying any OnGet filters to
// scalar values (a nested Map or Sequence is returned unfiltered).
func (m *Map) Get(tx Tx, key string) (interface{}, bool, error) {
	klOffset, ok, err := m.deps.Index.Lookup(m.rootIndex, key)
	if err != nil || !ok {
		return nil, false, err
	}
	valueOff, deleted, found, err := m.deps.KL.ReadFor(klOffset, tx.tidOrHead())
	if err != nil || !found || deleted {
		return nil, false, err
	}
	v, err := readValue(m.deps, valueOff)
	if err != nil {
		return nil, false, err
	}
	switch v.(type) {
	case *Map, *Sequence:
	default:
		v, err = applyOnGet(m.filters, v)
		if err != nil {
			return nil, false, err
		}
	}
	return v, true, nil
}

// Exists reports whether key has a non-deleted value visible to tx.
func (m *Map) Exists(tx Tx, key string) (bool, error) {
	_, ok, err := m.Get(tx, key)
	return ok, err
}

// Put sets key's value, visible to tx immediately and to everyone else
// once tx (if any) commits.
func (m *Map) Put(tx Tx, key string, value interface{}) error {
	klOffset, _, err := m.deps.Index.GetOrCreate(m.rootIndex, key)
	if err != nil {
		return err
	}
	if err := m.writeSlot(tx, klOffset, value); err != nil {
		return err
	}
	m.deps.auditPut(tx.tidOrHead(), key, value)
	return nil
}

// PutMap creates (or replaces) key's value with a fresh nested Map and
// returns it, so the caller can immediately populate it.
func (m *Map) PutMap(tx Tx, key string) (*Map, error) {
	klOffset, _, err := m.deps.Index.GetOrCreate(m.rootIndex, key)
	if err != nil {
		return nil, err
	}
	nested, err := newCollection(m.deps, sector.PayloadHash)
	if err != nil {
		return nil, err
	}
	if err := m.writeSlot(tx, klOffset, &Map{collection: nested}); err != nil {
		return nil, err
	}
	return &Map{collection: nested}, nil
}

// PutSequence creates (or replaces) key's value with a fresh nested
// Sequence and returns it.
func (m *Map) PutSequence(tx Tx, key string) (*Sequence, error) {
	klOffset, _, err := m.deps.Index.GetOrCreate(m.rootIndex, key)
	if err != nil {
		return nil, err
	}
	nested, err := newCollection(m.deps, sector.PayloadArray)
	if err != nil {
		return nil, err
	}
	if err := m.writeSlot(tx, klOffset, &Sequence{collection: nested}); err != nil {
		return nil, err
	}
	return &Sequence{collection: nested}, nil
}

// Delete tombstones key's value visible to tx (§4.4: the KeyLocator
// sector and index entry are only reclaimed once every slot is empty).
func (m *Map) Delete(tx Tx, key string) error {
	klOffset, ok, err := m.deps.Index.Lookup(m.rootIndex, key)
	if err != nil || !ok {
		return err
	}
	tid := tx.tidOrHead()
	oldOff, _, found, err := m.deps.KL.ReadFor(klOffset, tid)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if err := m.deps.Txn.ProtectAgainst(m.deps.KL, tid, klOffset); err != nil {
		return err
	}
	if tid == 0 {
		err = m.deps.KL.WriteHeadDirect(klOffset, oldOff, true)
	} else {
		err = m.deps.KL.WriteTxnSlot(klOffset, tid, oldOff, true)
		m.deps.Txn.MarkWritten(tid, klOffset)
	}
	if err != nil {
		return err
	}

	if err := m.reclaimIfVacant(klOffset, key); err != nil {
		return err
	}
	m.deps.auditDelete(tid, key)
	return nil
}

// FirstKey returns the first key in this map's (hash-order, not
// insertion-order) iteration, or ok=false if the map is empty.
func (m *Map) FirstKey(tx Tx) (key string, ok bool, err error) {
	it := m.deps.Index.NewIterator(m.rootIndex)
	return m.nextVisibleKey(tx, it)
}

// NextKey returns the key immediately following key in iteration order.
func (m *Map) NextKey(tx Tx, key string) (next string, ok bool, err error) {
	target, found, err := m.deps.Index.Lookup(m.rootIndex, key)
	if err != nil || !found {
		return "", false, err
	}
	it := m.deps.Index.NewIterator(m.rootIndex)
	for {
		off, ok, err := it.Next()
		if err != nil || !ok {
			return "", false, err
		}
		if off == target {
			break
		}
	}
	return m.nextVisibleKey(tx, it)
}

func (m *Map) nextVisibleKey(tx Tx, it *index.Iterator) (string, bool, error) {
	for {
		off, ok, err := it.Next()
		if err != nil || !ok {
			return "", false, err
		}
		_, deleted, found, err := m.deps.KL.ReadFor(off, tx.tidOrHead())
		if err != nil {
			return "", false, err
		}
		if !found || deleted {
			continue
		}
		plain, err := m.deps.KL.PlainKey(off)
		if err != nil {
			return "", false, err
		}
		return string(plain), true, nil
	}
}

// Clear removes every key from the map (§4.6). Only valid outside a
// transaction: a transactional bulk-clear would need to protect every
// single key against every other open transaction, which defeats the
// purpose of lazy protection, so Clear requires AutoCommit.
func (m *Map) Clear(tx Tx) error {
	if tx.tidOrHead() != 0 {
		return typeMismatchf("Clear is only supported outside a transaction")
	}
	old := m.rootIndex
	fresh, err := m.deps.Index.NewRoot()
	if err != nil {
		return err
	}
	if err := writeDataNode(m.deps.Storage, m.dataOffset, &sector.DataNode{Payload: sector.PayloadHash, ChainOff: fresh}); err != nil {
		return err
	}
	m.rootIndex = fresh
	if err := m.deps.Index.FreeSubtree(old, func(klOffset int64) error {
		return freeKeyAndValues(m.deps, klOffset)
	}); err != nil {
		return err
	}
	m.deps.auditClear(tx.tidOrHead())
	return nil
}

// Class returns the class tag blessed onto key's value, if any.
func (m *Map) Class(key string) (string, bool, error) {
	klOffset, ok, err := m.deps.Index.Lookup(m.rootIndex, key)
	if err != nil || !ok {
		return "", false, err
	}
	return m.deps.KL.Class(klOffset)
}

// SetClass blesses key's value into className (§4.6 "autobless").
func (m *Map) SetClass(key string, className string) error {
	klOffset, ok, err := m.deps.Index.Lookup(m.rootIndex, key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return m.deps.KL.SetClass(klOffset, className)
}

// writeSlot applies filters, writes v behind klOffset for tx, and frees
// the value that slot previously pointed at if nothing else references
// it anymore.
func (m *Map) writeSlot(tx Tx, klOffset int64, value interface{}) error {
	tid := tx.tidOrHead()
	oldOff, _, _, err := m.deps.KL.ReadFor(klOffset, tid)
	if err != nil {
		return err
	}

	filtered := value
	switch value.(type) {
	case *Map, *Sequence:
	default:
		filtered, err = applyOnPut(m.filters, value)
		if err != nil {
			return err
		}
	}
	newOff, err := writeValue(m.deps, filtered)
	if err != nil {
		return err
	}

	if err := m.deps.Txn.ProtectAgainst(m.deps.KL, tid, klOffset); err != nil {
		return err
	}
	if tid == 0 {
		err = m.deps.KL.WriteHeadDirect(klOffset, newOff, false)
	} else {
		err = m.deps.KL.WriteTxnSlot(klOffset, tid, newOff, false)
		m.deps.Txn.MarkWritten(tid, klOffset)
	}
	if err != nil {
		return err
	}

	if oldOff != 0 && oldOff != newOff {
		refs, err := m.deps.KL.CountReferences(klOffset, oldOff)
		if err != nil {
			return err
		}
		if refs == 0 {
			if err := freeValue(m.deps, oldOff); err != nil {
				return err
			}
		}
	}
	return nil
}

// reclaimIfVacant removes key's index entry and frees its KeyLocator
// sector once every MVCC slot on it is empty.
func (m *Map) reclaimIfVacant(klOffset int64, key string) error {
	vacant, err := m.deps.KL.Vacant(klOffset)
	if err != nil || !vacant {
		return err
	}
	if _, _, err := m.deps.Index.RemoveEntry(m.rootIndex, key); err != nil {
		return err
	}
	return m.deps.Storage.ReleaseSpace(klOffset, sector.ClassKeyLocator)
}
