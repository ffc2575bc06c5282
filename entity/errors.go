package entity

import (
	"github.com/cockroachdb/errors"

	"dpdb/internal/dpdberr"
	"dpdb/internal/sector"
)

// ErrTypeMismatch is returned (wrapped) whenever a collection is opened
// against a Data sector holding the wrong payload kind — e.g. calling
// OpenRootSequence on an offset that actually holds a Map. Callers
// outside this module match it with errors.Is, the same sentinel
// internal/dpdberr uses everywhere else.
var ErrTypeMismatch = dpdberr.ErrTypeMismatch

// IsTypeMismatch is a convenience wrapper around errors.Is(err,
// ErrTypeMismatch).
func IsTypeMismatch(err error) bool { return errors.Is(err, ErrTypeMismatch) }

func typeMismatch(want, got sector.PayloadType) error {
	return dpdberr.New(dpdberr.ErrTypeMismatch, "expected %v, found %v", want, got)
}

func typeMismatchf(format string, args ...interface{}) error {
	return dpdberr.New(dpdberr.ErrTypeMismatch, format, args...)
}
