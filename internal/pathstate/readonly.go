package pathstate

import (
	"github.com/pkg/errors"

	"github.com/hashwatch/hashwatch/hash"
)

// ErrUnsupportedOperation is returned by the read-only PathHashes view's
// mutating methods. Per §4.3, "the exposed view to the client
// (path_hashes()) is read-only; mutation through it fails with
// UnsupportedOperation."
var ErrUnsupportedOperation = errors.New("unsupported operation: path hash view is read-only")

// PathHashes is the read-only view of a Store's path -> hash map, intended
// for external (client) consumption. It shares the underlying Store, so its
// reads always reflect the latest state the pipeline goroutine has
// committed; it exposes no way to mutate that state.
type PathHashes struct {
	store *Store
}

// ReadOnlyView returns the read-only view of s.
func (s *Store) ReadOnlyView() PathHashes {
	return PathHashes{store: s}
}

// Get returns the hash stored for path, if any.
func (v PathHashes) Get(path string) (hash.Hash, bool) {
	return v.store.Get(path)
}

// Subtree returns the entries under prefix; see Store.Subtree.
func (v PathHashes) Subtree(prefix string) []PathHash {
	return v.store.Subtree(prefix)
}

// Len returns the number of tracked entries.
func (v PathHashes) Len() int {
	return v.store.Len()
}

// Put always fails: the view is read-only.
func (v PathHashes) Put(path string, h hash.Hash) error {
	return ErrUnsupportedOperation
}

// Remove always fails: the view is read-only.
func (v PathHashes) Remove(path string) error {
	return ErrUnsupportedOperation
}
