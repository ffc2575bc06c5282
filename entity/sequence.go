package entity

import (
	"dpdb/internal/dpdberr"
	"dpdb/internal/sector"
)

// lengthKey is reserved and can never collide with a real element index,
// which is always a non-negative integer (§4.6 "a transactional length
// pseudo-key").
const lengthKey = "length"

// Sequence is an ordered, 0-indexed collection (§4.6), implemented on the
// same index/keylocator machinery as Map: element i lives under integer
// key i, and a length pseudo-key tracks the count transactionally so
// Length() is itself isolated the same way any other value is.
type Sequence struct {
	*collection
}

// NewRootSequence creates the file's root Sequence collection.
func NewRootSequence(deps *Deps) (*Sequence, error) {
	c, err := newCollection(deps, sector.PayloadArray)
	if err != nil {
		return nil, err
	}
	return &Sequence{collection: c}, nil
}

// OpenRootSequence wraps an existing Data(Array) sector as the root
// Sequence.
func OpenRootSequence(deps *Deps, dataOffset int64) (*Sequence, error) {
	c, err := openCollection(deps, dataOffset, sector.PayloadArray)
	if err != nil {
		return nil, err
	}
	return &Sequence{collection: c}, nil
}

func (s *Sequence) WithFilters(fs ...Filter) *Sequence {
	return &Sequence{collection: s.withFilters(fs...)}
}

func (s *Sequence) asMap() *Map { return &Map{collection: s.collection} }

// Length returns the number of elements, 0 for a freshly created
// sequence that has never had the length key written.
func (s *Sequence) Length(tx Tx) (int64, error) {
	v, ok, err := s.asMap().Get(tx, lengthKey)
	if err != nil || !ok {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, dpdberr.New(dpdberr.ErrCorrupt, "length pseudo-key holds non-integer value %v", v)
	}
	return n, nil
}

func (s *Sequence) setLength(tx Tx, n int64) error {
	return s.asMap().Put(tx, lengthKey, n)
}

// Get returns element i, or ok=false if i is out of bounds. A negative i
// resolves against the current length (-1 is the last element), under
// the same Length read used for the bounds check.
func (s *Sequence) Get(tx Tx, i int64) (interface{}, bool, error) {
	n, err := s.Length(tx)
	if err != nil {
		return nil, false, err
	}
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, false, nil
	}
	return s.asMap().Get(tx, indexKeyString(i))
}

// Put overwrites element i in place. i must already be within bounds;
// use Push/Unshift/Splice to grow the sequence. A negative i resolves
// against the current length (-1 is the last element), under the same
// Length read used for the bounds check.
func (s *Sequence) Put(tx Tx, i int64, value interface{}) error {
	n, err := s.Length(tx)
	if err != nil {
		return err
	}
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return dpdberr.New(dpdberr.ErrOutOfBounds, "index %d out of bounds (length %d)", i, n)
	}
	return s.asMap().Put(tx, indexKeyString(i), value)
}

// Push appends value and returns the new length.
func (s *Sequence) Push(tx Tx, value interface{}) (int64, error) {
	n, err := s.Length(tx)
	if err != nil {
		return 0, err
	}
	if err := s.asMap().Put(tx, indexKeyString(n), value); err != nil {
		return 0, err
	}
	if err := s.setLength(tx, n+1); err != nil {
		return 0, err
	}
	return n + 1, nil
}

// PushMap appends a fresh nested Map and returns it for the caller to
// populate, mirroring Map.PutMap.
func (s *Sequence) PushMap(tx Tx) (*Map, error) {
	nested, err := newCollection(s.deps, sector.PayloadHash)
	if err != nil {
		return nil, err
	}
	if _, err := s.Push(tx, &Map{collection: nested}); err != nil {
		return nil, err
	}
	return &Map{collection: nested}, nil
}

// PushSequence appends a fresh nested Sequence and returns it.
func (s *Sequence) PushSequence(tx Tx) (*Sequence, error) {
	nested, err := newCollection(s.deps, sector.PayloadArray)
	if err != nil {
		return nil, err
	}
	if _, err := s.Push(tx, &Sequence{collection: nested}); err != nil {
		return nil, err
	}
	return &Sequence{collection: nested}, nil
}

// Pop removes and returns the last element.
func (s *Sequence) Pop(tx Tx) (interface{}, bool, error) {
	n, err := s.Length(tx)
	if err != nil || n == 0 {
		return nil, false, err
	}
	v, _, err := s.asMap().Get(tx, indexKeyString(n-1))
	if err != nil {
		return nil, false, err
	}
	if err := s.asMap().Delete(tx, indexKeyString(n-1)); err != nil {
		return nil, false, err
	}
	if err := s.setLength(tx, n-1); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Shift removes and returns the first element, renumbering every
// remaining element down by one. O(length): there is no index
// indirection layer to make this O(1), matching the cost a hash-keyed
// sequence pays for true removal-from-front.
func (s *Sequence) Shift(tx Tx) (interface{}, bool, error) {
	n, err := s.Length(tx)
	if err != nil || n == 0 {
		return nil, false, err
	}
	v, _, err := s.asMap().Get(tx, indexKeyString(0))
	if err != nil {
		return nil, false, err
	}
	if err := s.shiftDown(tx, 1, n); err != nil {
		return nil, false, err
	}
	if err := s.asMap().Delete(tx, indexKeyString(n-1)); err != nil {
		return nil, false, err
	}
	if err := s.setLength(tx, n-1); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Unshift inserts value at the front, renumbering every existing element
// up by one.
func (s *Sequence) Unshift(tx Tx, value interface{}) (int64, error) {
	n, err := s.Length(tx)
	if err != nil {
		return 0, err
	}
	if err := s.shiftUp(tx, 0, n); err != nil {
		return 0, err
	}
	if err := s.asMap().Put(tx, indexKeyString(0), value); err != nil {
		return 0, err
	}
	if err := s.setLength(tx, n+1); err != nil {
		return 0, err
	}
	return n + 1, nil
}

// Splice removes deleteCount elements starting at start and inserts
// insert in their place, returning the removed elements (§4.6). start
// must lie in [0, Length]; a negative start is an OutOfBounds error, not
// an offset from the end. A negative deleteCount, or one that runs past
// the end, removes every element from start to the end.
func (s *Sequence) Splice(tx Tx, start, deleteCount int64, insert ...interface{}) ([]interface{}, error) {
	n, err := s.Length(tx)
	if err != nil {
		return nil, err
	}
	if start < 0 || start > n {
		return nil, dpdberr.New(dpdberr.ErrOutOfBounds, "splice start %d out of bounds (length %d)", start, n)
	}
	if deleteCount < 0 || start+deleteCount > n {
		deleteCount = n - start
	}

	removed := make([]interface{}, deleteCount)
	for i := int64(0); i < deleteCount; i++ {
		v, _, err := s.asMap().Get(tx, indexKeyString(start+i))
		if err != nil {
			return nil, err
		}
		removed[i] = v
	}

	delta := int64(len(insert)) - deleteCount
	switch {
	case delta > 0:
		// Growing: shift the tail up first to make room.
		if err := s.shiftRange(tx, start+deleteCount, n, delta); err != nil {
			return nil, err
		}
	case delta < 0:
		// Shrinking: shift the tail down, then trim the freed end.
		if err := s.shiftRange(tx, start+deleteCount, n, delta); err != nil {
			return nil, err
		}
		for i := n + delta; i < n; i++ {
			if err := s.asMap().Delete(tx, indexKeyString(i)); err != nil {
				return nil, err
			}
		}
	}

	for i, v := range insert {
		if err := s.asMap().Put(tx, indexKeyString(start+int64(i)), v); err != nil {
			return nil, err
		}
	}

	if err := s.setLength(tx, n+delta); err != nil {
		return nil, err
	}
	return removed, nil
}

// shiftRange moves every element in [from, to) by delta positions
// (positive moves toward the end, negative toward the start), choosing a
// safe traversal direction so no element is overwritten before it's read.
func (s *Sequence) shiftRange(tx Tx, from, to, delta int64) error {
	if delta == 0 {
		return nil
	}
	if delta > 0 {
		for i := to - 1; i >= from; i-- {
			v, _, err := s.asMap().Get(tx, indexKeyString(i))
			if err != nil {
				return err
			}
			if err := s.asMap().Put(tx, indexKeyString(i+delta), v); err != nil {
				return err
			}
		}
		return nil
	}
	for i := from; i < to; i++ {
		v, _, err := s.asMap().Get(tx, indexKeyString(i))
		if err != nil {
			return err
		}
		if err := s.asMap().Put(tx, indexKeyString(i+delta), v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequence) shiftDown(tx Tx, from, to int64) error {
	return s.shiftRange(tx, from, to, -1)
}

func (s *Sequence) shiftUp(tx Tx, from, to int64) error {
	return s.shiftRange(tx, from, to, 1)
}

func indexKeyString(i int64) string {
	return formatInt64(i)
}

func formatInt64(i int64) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
