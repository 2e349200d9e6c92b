// Package hash provides the opaque content fingerprint used throughout
// hashwatch to detect whether a file's content has actually changed between
// two observations.
package hash

import (
	"github.com/eknkc/basex"
)

// Hash is an opaque content fingerprint. Its only meaningful operation is
// equality: two Hash values are equal if and only if the content (or, for
// the reserved Directory value, the "this path names a directory" fact) that
// produced them is identical. Hash is comparable by value and safe to share
// across goroutines.
type Hash string

// Directory is the reserved Hash value used in place of a content hash for
// paths that are directories. It is chosen so that it can never collide with
// the output of any Hasher implementation in this package: every real
// hasher here produces fixed-length binary digests (16 bytes for Murmur3-128,
// 8 bytes for the mtime hasher), while Directory is a short ASCII sentinel.
var Directory = Hash("\x00hashwatch:dir\x00")

// Equal reports whether two hashes are equal. It is equivalent to ==, but
// spelled out because Hash equality is a first-class concept throughout the
// dedup engine (see the package-level doc and §4.1 of the design).
func Equal(a, b Hash) bool {
	return a == b
}

// IsDirectory reports whether h is the reserved directory sentinel.
func IsDirectory(h Hash) bool {
	return h == Directory
}

// basexEncoding is a base62 alphabet encoder/decoder used only to render
// hashes compactly in log output; it has no bearing on hash semantics.
var basexEncoding = basex.NewEncoding("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")

// String renders h as a short, stable base62 string suitable for inclusion in
// log lines. It is not used for equality testing; use Equal or == for that.
func (h Hash) String() string {
	if h == Directory {
		return "<dir>"
	}
	if h == "" {
		return "<none>"
	}
	encoded, err := basexEncoding.Encode([]byte(h))
	if err != nil {
		// basex only fails on encoder misconfiguration, never on input, so
		// this is unreachable with the fixed alphabet above.
		return "<unprintable>"
	}
	return encoded
}
