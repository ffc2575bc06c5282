package storage

import (
	"golang.org/x/sys/unix"

	"dpdb/internal/dpdberr"
)

// LockKind is the strength of an advisory lock request (§4.1, §5).
type LockKind int

const (
	LockNone LockKind = iota
	LockShared
	LockExclusive
)

// LockShared and LockExclusive nest by reference count within this
// Storage instance: an acquisition touches the OS lock via unix.Flock
// only when it changes the effective strength of the stack (none to
// shared, or shared to exclusive), and an Unlock only when popping it
// weakens or releases that strength (§5 "Locking is reentrant per
// instance via reference counting").
func (s *Storage) LockShared() error  { return s.lock(LockShared) }
func (s *Storage) LockExclusive() error { return s.lock(LockExclusive) }

func (s *Storage) lock(k LockKind) error {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	before := effective(s.stack)
	s.stack = append(s.stack, k)
	after := effective(s.stack)

	if after == before {
		return nil
	}
	if err := s.osFlock(after); err != nil {
		s.stack = s.stack[:len(s.stack)-1]
		return err
	}
	return nil
}

// Unlock releases the most recently acquired lock in this instance's
// nesting stack. It is the caller's responsibility to pair every
// LockShared/LockExclusive with exactly one Unlock, in last-acquired,
// first-released order.
func (s *Storage) Unlock() error {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	if len(s.stack) == 0 {
		return dpdberr.New(dpdberr.ErrIO, "unlock called with no lock held")
	}
	before := effective(s.stack)
	s.stack = s.stack[:len(s.stack)-1]
	after := effective(s.stack)

	if after == before {
		return nil
	}
	return s.osFlock(after)
}

func effective(stack []LockKind) LockKind {
	hasExclusive := false
	hasShared := false
	for _, k := range stack {
		switch k {
		case LockExclusive:
			hasExclusive = true
		case LockShared:
			hasShared = true
		}
	}
	switch {
	case hasExclusive:
		return LockExclusive
	case hasShared:
		return LockShared
	default:
		return LockNone
	}
}

func (s *Storage) osFlock(k LockKind) error {
	fd := int(s.file.Fd())
	var op int
	switch k {
	case LockShared:
		op = unix.LOCK_SH
	case LockExclusive:
		op = unix.LOCK_EX
	case LockNone:
		op = unix.LOCK_UN
	}
	if err := unix.Flock(fd, op); err != nil {
		return dpdberr.Wrapf(dpdberr.ErrIO, err, "flock")
	}
	return nil
}
