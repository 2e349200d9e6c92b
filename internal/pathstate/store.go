// Package pathstate implements the Path State Store (§4.3, §3): an ordered
// mapping from absolute path to content Hash, a set of known directories,
// and the registration-key bookkeeping the registration manager and event
// pipeline share. It is owned exclusively by the event pipeline's goroutine;
// see internal/pipeline for the concurrency contract described in §5.
package pathstate

import (
	"os"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/hashwatch/hashwatch/hash"
)

// degree is the branching factor used for the underlying B-tree. It has no
// semantic significance; it only affects constant factors.
const degree = 32

// pathHashItem is a btree.Item ordering entries lexicographically by path.
type pathHashItem struct {
	path string
	hash hash.Hash
}

// Less implements btree.Item.
func (i pathHashItem) Less(than btree.Item) bool {
	return i.path < than.(pathHashItem).path
}

// PathHash is a single (path, hash) pair, returned from Subtree queries.
type PathHash struct {
	Path string
	Hash hash.Hash
}

// Store is the ordered path -> Hash map plus the known-directories set.
// Every method takes the Store's lock. Per §5 it is "mutated only by the
// Pipeline thread and read-only externally"; its reads (Get, Subtree, Len,
// IsKnownDirectory) may be called from any goroutine, and the read-only view
// in readonly.go exposes them to external callers such as a custom Visitor.
type Store struct {
	mu   sync.RWMutex
	tree *btree.BTree
	dirs map[string]struct{}
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		tree: btree.New(degree),
		dirs: make(map[string]struct{}),
	}
}

// Put records the hash for path, overwriting any previous value. If h is the
// Directory sentinel, path is also added to the known-directories set,
// maintaining the invariant from §3 that "every directory in the map also
// [is] in the directory set."
func (s *Store) Put(path string, h hash.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(pathHashItem{path: path, hash: h})
	if hash.IsDirectory(h) {
		s.dirs[path] = struct{}{}
	}
}

// Get returns the hash stored for path, if any.
func (s *Store) Get(path string) (hash.Hash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.tree.Get(pathHashItem{path: path})
	if item == nil {
		return "", false
	}
	return item.(pathHashItem).hash, true
}

// Remove deletes path from both the hash map and the known-directories set.
func (s *Store) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Delete(pathHashItem{path: path})
	delete(s.dirs, path)
}

// Len returns the number of entries currently tracked. Per §4.4 step 4, the
// macOS backend treats Len()==0 (after having been non-empty) as "the watch
// root itself was deleted."
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// maxChar stands in for MAX_CHAR: Subtree is realized as a range query
// bounded by [prefix, prefix+separator+maxChar). A single 0xFF byte sorts
// after every byte that can appear in UTF-8 encoded text, so that upper
// bound is greater than every valid UTF-8 path that has prefix+separator as
// a literal prefix.
const maxChar = "\xff"

// Subtree returns, in ascending path order, every (path, hash) pair whose
// path equals prefix or has prefix+separator as a literal prefix.
func (s *Store) Subtree(prefix string) []PathHash {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []PathHash
	lower := pathHashItem{path: prefix}
	upper := pathHashItem{path: prefix + string(os.PathSeparator) + maxChar}
	s.tree.AscendRange(lower, upper, func(item btree.Item) bool {
		entry := item.(pathHashItem)
		if entry.path == prefix || strings.HasPrefix(entry.path, prefix+string(os.PathSeparator)) {
			results = append(results, PathHash{Path: entry.path, Hash: entry.hash})
		}
		return true
	})
	return results
}

// AddDirectory marks path as a known directory without requiring a Hash.
// The pipeline uses it for every directory it seeds or sees created,
// whether or not hashing is enabled.
func (s *Store) AddDirectory(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[path] = struct{}{}
}

// RemoveDirectory removes path from the known-directories set only,
// without touching the hash map.
func (s *Store) RemoveDirectory(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirs, path)
}

// IsKnownDirectory reports whether path is recorded as a directory.
func (s *Store) IsKnownDirectory(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dirs[path]
	return ok
}
