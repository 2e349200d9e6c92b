// Package platform defines the abstract Platform Watcher contract (§4.4):
// "register a directory; deliver raw events keyed by a watch handle." Each
// operating system backend (internal/platform/fsevents for macOS,
// internal/platform/kernel for everything else) implements Watcher.
package platform

import (
	"github.com/pkg/errors"

	"github.com/hashwatch/hashwatch/hash"
	"github.com/hashwatch/hashwatch/internal/pathstate"
)

// ErrUnsupported is returned by Register when the backend cannot honor the
// requested recursive mode. Per §4.5, this is the signal the Recursive
// Registration Manager uses to cache native_recursive=false and fall back to
// per-directory registration.
var ErrUnsupported = errors.New("native recursive registration not supported")

// EventKind enumerates the kinds of raw events a backend can deliver.
type EventKind int

const (
	// Create indicates a path came into existence.
	Create EventKind = iota
	// Modify indicates a path's content changed.
	Modify
	// Delete indicates a path ceased to exist.
	Delete
	// Overflow indicates the backend's internal queue exceeded capacity and
	// discarded events; Count records how many.
	Overflow
	// Invalidated indicates the registration key itself is no longer valid
	// (its watched directory was deleted, moved or replaced). The macOS
	// backend emits it when it cancels a root; the kernel backend emits it,
	// after a DELETE, when a registered directory itself is removed or
	// renamed.
	Invalidated
)

// String renders an EventKind for logging.
func (k EventKind) String() string {
	switch k {
	case Create:
		return "CREATE"
	case Modify:
		return "MODIFY"
	case Delete:
		return "DELETE"
	case Overflow:
		return "OVERFLOW"
	case Invalidated:
		return "INVALIDATED"
	default:
		return "UNKNOWN"
	}
}

// Event is a single raw event delivered by a backend. Name is the full
// absolute path of the affected entry (empty if Kind is Overflow or
// Invalidated). IsDirectoryHint reports whether the backend already knows
// this path is a directory (macOS does, via its own diffing; kernel-based
// backends often don't, and leave this false, relying on the Event
// Pipeline's own known-directories lookup per §4.6).
type Event struct {
	Key             RegistrationKey
	Kind            EventKind
	Name            string
	IsDirectoryHint bool
	Hash            hash.Hash // set only by backends that compute it themselves (macOS)
	Count           int       // meaningful only for Overflow
}

// RegistrationKey is re-exported from pathstate so that backends and the
// pipeline share a single opaque-handle type.
type RegistrationKey = pathstate.RegistrationKey

// Watcher is the abstract Platform Watcher contract.
type Watcher interface {
	// Register begins watching directory for changes. If recursive is true,
	// the caller is asking for native recursive registration (the whole
	// subtree under directory, with no further per-directory registration
	// required); a backend that cannot provide this returns ErrUnsupported,
	// and the caller is expected to retry with recursive=false and register
	// subdirectories itself as they are discovered (§4.5).
	Register(directory string, recursive bool) (RegistrationKey, error)

	// Unregister cancels watching for key. It is idempotent: unregistering an
	// already-invalid key is not an error.
	Unregister(key RegistrationKey) error

	// Events returns the channel on which raw events are delivered. The
	// channel is closed once Close has fully torn down the backend.
	Events() <-chan Event

	// Close releases all resources held by the backend, unregistering every
	// outstanding key. It is idempotent.
	Close() error
}
