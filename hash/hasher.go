package hash

import (
	"encoding/binary"
	"io"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"

	"github.com/hashwatch/hashwatch/internal/must"
)

// Hasher computes a content fingerprint for the file or directory at path.
// It returns (Hash, true) on success. It returns (zero Hash, false) only
// when the file cannot be read — deleted mid-hash, locked, or denied by
// permissions — never on any other kind of failure; implementations must
// swallow all I/O errors into that boolean rather than returning an error,
// since §4.1 treats "can't hash it" as a first-class, expected outcome that
// the pipeline reacts to rather than an exceptional one.
//
// A Hasher must return (Directory, true) for directories without attempting
// to read their contents.
type Hasher interface {
	Hash(path string, info os.FileInfo) (Hash, bool)
}

// HasherFunc adapts a function to the Hasher interface.
type HasherFunc func(path string, info os.FileInfo) (Hash, bool)

// Hash implements Hasher.Hash.
func (f HasherFunc) Hash(path string, info os.FileInfo) (Hash, bool) {
	return f(path, info)
}

// MurmurHasher is the default Hasher. It hashes directories to the Directory
// sentinel and files by streaming their bytes through Murmur3-128. Per §4.1,
// this is a change-detector, not a cryptographic digest: collisions are
// acceptable at cryptographic-hash-breaking probabilities, not zero.
type MurmurHasher struct{}

// Hash implements Hasher.Hash.
func (MurmurHasher) Hash(path string, info os.FileInfo) (Hash, bool) {
	if info.IsDir() {
		return Directory, true
	}

	file, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer must.Close(file)

	hasher := murmur3.New128()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", false
	}

	h1, h2 := hasher.Sum128()
	var digest [16]byte
	binary.BigEndian.PutUint64(digest[:8], h1)
	binary.BigEndian.PutUint64(digest[8:], h2)
	return Hash(digest[:]), true
}

// ModTimeHasher is an alternate Hasher that encodes a file's modification
// time instead of reading its content. Per §4.1 it is valid only on
// platforms/filesystems that expose at least millisecond resolution for
// modification times; on coarser filesystems (e.g. those with one-second
// resolution) it can miss rapid successive modifications and should not be
// used.
type ModTimeHasher struct{}

// Hash implements Hasher.Hash.
func (ModTimeHasher) Hash(path string, info os.FileInfo) (Hash, bool) {
	if info.IsDir() {
		return Directory, true
	}
	if info == nil {
		return "", false
	}

	var digest [8]byte
	binary.BigEndian.PutUint64(digest[:], uint64(info.ModTime().UnixNano()))
	return Hash(digest[:]), true
}

// CounterHasher is the fallback used when hashing is disabled entirely
// (builder option file_hashing=false / file_hasher=nil). Per §4.4, every
// "new" observation must be treated as changed when there is no real content
// fingerprint available, which this implements with an ever-incrementing
// counter: each call returns a fresh, never-repeated Hash, so the dedup rule
// in §4.1 ("new_hash != stored_hash") is always satisfied. When hashing is
// disabled, the default macOS backend selection (platform_select.go) pairs
// this hasher with file-level FSEvents, since otherwise a
// directory-granularity tick would look like a spurious modification of the
// directory itself on every callback.
type CounterHasher struct {
	counter uint64
}

// Hash implements Hasher.Hash. It never fails.
func (c *CounterHasher) Hash(path string, info os.FileInfo) (Hash, bool) {
	if info != nil && info.IsDir() {
		return Directory, true
	}
	n := atomic.AddUint64(&c.counter, 1)
	var digest [8]byte
	binary.BigEndian.PutUint64(digest[:], n)
	return Hash(digest[:]), true
}

// NewCounterHasher constructs a ready-to-use CounterHasher.
func NewCounterHasher() *CounterHasher {
	return &CounterHasher{}
}

// ErrCannotHash is returned by helpers that need to distinguish "file
// disappeared mid-hash" from other invariant violations; Hasher
// implementations themselves never return it (they signal failure via the
// boolean), but callers that need an error value for logging can use it.
var ErrCannotHash = errors.New("unable to compute content hash")
