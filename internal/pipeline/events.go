// Package pipeline implements the Event Pipeline (§4.6): the single-loop
// consumer that drains raw platform.Event values, applies hash-based
// deduplication, re-walks newly created directories to synthesize events
// for races, and emits DirectoryChangeEvent to the listener.
//
// There is no direct analog of this exact loop in the pruned teacher tree
// (mutagen's synchronization loop in pkg/synchronization/controller.go
// solves a different problem); its shape — poll with no timeout, dispatch,
// catch-and-report exceptions, never propagate out of the loop — follows
// the same "single goroutine owns all shared mutable state" discipline the
// teacher uses throughout pkg/filesystem/watching, applied fresh to §4.6's
// algorithm.
package pipeline

import (
	"github.com/hashwatch/hashwatch/hash"
	"github.com/hashwatch/hashwatch/logging"
)

// EventKind enumerates the externally visible kinds of DirectoryChangeEvent,
// per §6's "DirectoryChangeEvent (externally visible shape)".
type EventKind int

const (
	// Create indicates a path came into existence.
	Create EventKind = iota
	// Modify indicates a path's content changed.
	Modify
	// Delete indicates a path ceased to exist.
	Delete
	// Overflow indicates events were discarded; Count records how many.
	Overflow
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
	default:
		return "UNKNOWN"
	}
}

// DirectoryChangeEvent is the externally visible event shape from §6:
// {kind, is_directory, path, hash?, count, root}.
type DirectoryChangeEvent struct {
	Kind        EventKind
	IsDirectory bool
	Path        string
	// Hash is nil for OVERFLOW, for every event when hashing is disabled,
	// and for a CREATE whose path exists but could not be hashed.
	Hash  *hash.Hash
	Count int
	Root  string
}

// Listener is the client-facing capability set from §6: three callbacks
// plus a poll-before-blocking predicate, modeled "by value" per the §9
// design note rather than as an object with mutable identity.
type Listener interface {
	// OnEvent is invoked for every DirectoryChangeEvent, on the event-loop
	// goroutine. A returned error is caught by the pipeline and forwarded to
	// OnException; it never aborts the loop.
	OnEvent(event DirectoryChangeEvent) error

	// OnException is informational; the default NoopListener logs and
	// continues.
	OnException(cause error)

	// OnIdle is invoked at most once per idle period, i.e. once every time
	// the loop finds nothing ready and is about to block.
	OnIdle(count int)

	// IsWatching is polled before each blocking wait; once it returns false
	// the loop exits cleanly.
	IsWatching() bool
}

// NoopListener is the zero-effort Listener: it accepts every event, logs
// exceptions to logging.RootLogger, never stops. Builder callers that never configure a listener get
// this by default per §6 ("listener... default: no-op").
type NoopListener struct{}

// OnEvent implements Listener.
func (NoopListener) OnEvent(DirectoryChangeEvent) error { return nil }

// OnException implements Listener.
func (NoopListener) OnException(cause error) { logging.RootLogger.Warn(cause) }

// OnIdle implements Listener.
func (NoopListener) OnIdle(int) {}

// IsWatching implements Listener.
func (NoopListener) IsWatching() bool { return true }
