// Package dpdberr defines the closed set of error kinds the engine
// signals, built on github.com/cockroachdb/errors so every wrap site
// keeps errors.Is/errors.As working across internal package boundaries.
package dpdberr

import "github.com/cockroachdb/errors"

// Prefix is prepended to every sentinel's message and to every message
// built by New and Wrapf, mirroring the "DBM::Deep: " convention of the
// system this engine's design is based on. Wrap keeps the wrapped error's
// own message unchanged.
const Prefix = "dpdb: "

// Sentinel error kinds. Exactly one of these is the root cause of any
// fallible engine operation; callers match with errors.Is.
var (
	ErrIO                   = errors.New(Prefix + "I/O failure")
	ErrNotADB               = errors.New(Prefix + "not a dpdb file")
	ErrTypeMismatch         = errors.New(Prefix + "collection type mismatch")
	ErrCorrupt              = errors.New(Prefix + "corrupt sector")
	ErrReadonly             = errors.New(Prefix + "file opened read-only")
	ErrUnsupportedType      = errors.New(Prefix + "unsupported value type")
	ErrTooManyTransactions  = errors.New(Prefix + "transaction id space exhausted")
	ErrAlreadyInTransaction = errors.New(Prefix + "already in a transaction")
	ErrNotInTransaction     = errors.New(Prefix + "not in a transaction")
	ErrOutOfBounds          = errors.New(Prefix + "index out of bounds")
	ErrSlotTableFull        = errors.New(Prefix + "key locator slot table full")
	ErrDeleted              = errors.New(Prefix + "key has been deleted")
	ErrIndexOverflow        = errors.New(Prefix + "secondary index overflow")
)

// Wrap marks err as belonging to kind (one of the sentinels above) while
// preserving err's own message and stack for logging, so errors.Is(result,
// kind) succeeds without discarding the original cause.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, kind)
}

// Wrapf is Wrap plus a formatted annotation, for the common case of
// attaching the offset/key/tid involved.
func Wrapf(kind error, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, Prefix+format, args...), kind)
}

// New creates a fresh error of the given kind with a formatted message,
// for call sites that detect the failure themselves rather than wrapping
// an underlying error (e.g. a corruption check against decoded bytes).
func New(kind error, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(Prefix+format, args...), kind)
}
