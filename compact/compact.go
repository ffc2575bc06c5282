// Package compact implements the full-file compaction utility described
// as an external collaborator in spec §1: walk the live key set of every
// collection depth-first, write each live value into a freshly allocated
// file at a caller-chosen destination; the source file is left as it
// is and nothing is renamed over it. The teacher has no equivalent (it never
// reclaims space), so this is built directly against the public dpdb and
// entity surface rather than grounded on any one teacher file — §1
// explicitly frames compaction as living outside THE CORE package
// boundary, and this package imports nothing under internal/*.
package compact

import (
	"fmt"
	"os"

	"dpdb"
	"dpdb/entity"
)

// File compacts src into a brand-new file at dst, preserving every live
// key/value but discarding tombstones, freelist slack, and any bytes
// orphaned by prior overwrites or deletes — the only way to reclaim disk
// space this engine ever offers (§1: "no online reclamation").
//
// dst must not already exist in any meaningful sense: File opens it
// fresh and fails loudly if it already holds data, to avoid silently
// merging two databases together.
func File(srcPath, dstPath string, opts ...dpdb.Option) error {
	if fi, err := os.Stat(dstPath); err == nil && fi.Size() > 0 {
		return fmt.Errorf("compact: destination %s already holds data", dstPath)
	}

	src, err := dpdb.Open(srcPath, dpdb.WithReadOnly())
	if err != nil {
		return fmt.Errorf("compact: open source: %w", err)
	}
	defer src.Close()

	if err := src.LockShared(); err != nil {
		return fmt.Errorf("compact: lock source: %w", err)
	}
	defer src.Unlock()

	srcRoot, err := src.Root()
	isSeq := false
	if err != nil {
		if !entity.IsTypeMismatch(err) {
			return fmt.Errorf("compact: open source root: %w", err)
		}
		isSeq = true
	}

	rootOpts := append([]dpdb.Option{}, opts...)
	if isSeq {
		rootOpts = append(rootOpts, dpdb.WithRootType(dpdb.RootSequence))
	} else {
		rootOpts = append(rootOpts, dpdb.WithRootType(dpdb.RootMap))
	}

	dst, err := dpdb.Open(dstPath, rootOpts...)
	if err != nil {
		return fmt.Errorf("compact: open destination: %w", err)
	}
	defer dst.Close()

	if err := dst.LockExclusive(); err != nil {
		return fmt.Errorf("compact: lock destination: %w", err)
	}
	defer dst.Unlock()

	if isSeq {
		srcSeq, err := src.RootSequence()
		if err != nil {
			return fmt.Errorf("compact: open source root sequence: %w", err)
		}
		dstSeq, err := dst.RootSequence()
		if err != nil {
			return fmt.Errorf("compact: open destination root sequence: %w", err)
		}
		return copySequence(srcSeq, dstSeq)
	}

	dstRoot, err := dst.Root()
	if err != nil {
		return fmt.Errorf("compact: open destination root: %w", err)
	}
	return copyMap(srcRoot, dstRoot)
}

func copyMap(src, dst *entity.Map) error {
	tx := entity.AutoCommit()
	key, ok, err := src.FirstKey(tx)
	if err != nil {
		return err
	}
	for ok {
		v, _, err := src.Get(tx, key)
		if err != nil {
			return err
		}
		if err := copyValueInto(dst, key, v); err != nil {
			return err
		}
		if className, has, err := src.Class(key); err != nil {
			return err
		} else if has {
			if err := dst.SetClass(key, className); err != nil {
				return err
			}
		}
		key, ok, err = src.NextKey(tx, key)
		if err != nil {
			return err
		}
	}
	return nil
}

func copyValueInto(dst *entity.Map, key string, v interface{}) error {
	tx := entity.AutoCommit()
	switch x := v.(type) {
	case *entity.Map:
		nested, err := dst.PutMap(tx, key)
		if err != nil {
			return err
		}
		return copyMap(x, nested)
	case *entity.Sequence:
		nested, err := dst.PutSequence(tx, key)
		if err != nil {
			return err
		}
		return copySequence(x, nested)
	default:
		return dst.Put(tx, key, v)
	}
}

func copySequence(src, dst *entity.Sequence) error {
	tx := entity.AutoCommit()
	n, err := src.Length(tx)
	if err != nil {
		return err
	}
	for i := int64(0); i < n; i++ {
		v, _, err := src.Get(tx, i)
		if err != nil {
			return err
		}
		switch x := v.(type) {
		case *entity.Map:
			nested, err := dst.PushMap(tx)
			if err != nil {
				return err
			}
			if err := copyMap(x, nested); err != nil {
				return err
			}
		case *entity.Sequence:
			nested, err := dst.PushSequence(tx)
			if err != nil {
				return err
			}
			if err := copySequence(x, nested); err != nil {
				return err
			}
		default:
			if _, err := dst.Push(tx, v); err != nil {
				return err
			}
		}
	}
	return nil
}
