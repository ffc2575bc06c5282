// Package digest implements the pluggable fixed-width key digest of
// spec §4.2. The engine assumes the digest is injective over the set of
// live keys and never tolerates a collision.
package digest

import (
	"crypto/md5"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Func digests an arbitrary byte string into a fixed-width value.
type Func interface {
	Digest(key []byte) []byte
	Size() int
	Name() string
}

// MD5 is the spec's documented default: a 128-bit digest, matching the
// Header's default digest_size of 16.
type MD5 struct{}

func (MD5) Digest(key []byte) []byte {
	sum := md5.Sum(key)
	return sum[:]
}
func (MD5) Size() int     { return 16 }
func (MD5) Name() string  { return "md5" }

// XXHash64 is the faster, narrower alternative digest (§6.3 "digest
// (function + hash_size)" is a closed-set-of-one-plus-alternatives
// choice at file creation time): an 8-byte digest backed by
// github.com/cespare/xxhash/v2.
type XXHash64 struct{}

func (XXHash64) Digest(key []byte) []byte {
	sum := xxhash.Sum64(key)
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(sum >> (8 * i))
	}
	return buf
}
func (XXHash64) Size() int    { return 8 }
func (XXHash64) Name() string { return "xxhash64" }

// ByName resolves one of the two built-in digest functions by the
// dpdb.Config "digest" option name, defaulting to MD5 when name is empty.
func ByName(name string) (Func, bool) {
	switch name {
	case "", "md5":
		return MD5{}, true
	case "xxhash64", "xxhash":
		return XXHash64{}, true
	default:
		return nil, false
	}
}

// KeyBytes converts a map/sequence key (§3: "a byte string or a
// non-negative integer, encoded as its decimal textual form") into the
// byte string that gets digested.
func KeyBytes(key interface{}) []byte {
	switch k := key.(type) {
	case []byte:
		return k
	case string:
		return []byte(k)
	case int:
		return []byte(strconv.Itoa(k))
	case int64:
		return []byte(strconv.FormatInt(k, 10))
	default:
		return []byte(fmt.Sprintf("%v", k))
	}
}
