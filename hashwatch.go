// Package hashwatch provides recursive, cross-platform directory-change
// notification over a set of root paths. A caller registers one or more
// root directories with a Watcher and receives a stream of
// CREATE / MODIFY / DELETE / OVERFLOW events for every file and
// subdirectory below each root, until the Watcher is closed or the
// supplied Listener signals it should stop.
//
// The package is deliberately thin: it wires together the recursive
// registration manager (internal/registry), the platform-specific watch
// backends (internal/platform/fsevents on macOS, internal/platform/kernel
// elsewhere), and the hash-deduplicating event pipeline
// (internal/pipeline) behind a single Builder/Watcher API, following the
// teacher's preference for a small public surface backed by an
// unexported implementation tree (compare mutagen's pkg/synchronization
// wrapping pkg/filesystem/watching).
package hashwatch

import (
	"github.com/hashwatch/hashwatch/hash"
	"github.com/hashwatch/hashwatch/internal/pathstate"
	"github.com/hashwatch/hashwatch/internal/pipeline"
	"github.com/hashwatch/hashwatch/internal/platform"
	"github.com/hashwatch/hashwatch/internal/treewalk"
)

// EventKind enumerates the externally visible kinds of DirectoryChangeEvent
// (§6): CREATE, MODIFY, DELETE, and OVERFLOW.
type EventKind = pipeline.EventKind

// The four EventKind values, re-exported for callers that don't want to
// import internal/pipeline.
const (
	Create   = pipeline.Create
	Modify   = pipeline.Modify
	Delete   = pipeline.Delete
	Overflow = pipeline.Overflow
)

// DirectoryChangeEvent is the externally visible event shape from §6:
// {kind, is_directory, path, hash?, count, root}.
type DirectoryChangeEvent = pipeline.DirectoryChangeEvent

// Listener is the client-facing capability set from §6: on_event,
// on_exception, on_idle, and is_watching, modeled as an interface rather
// than an object with mutable identity per the §9 design note.
type Listener = pipeline.Listener

// NoopListener is the zero-effort Listener used when a Builder is never
// given one: it accepts every event, logs exceptions as warnings, and never
// asks the loop to stop.
type NoopListener = pipeline.NoopListener

// Hash is the opaque content fingerprint described in §4.1.
type Hash = hash.Hash

// Hasher computes a Hash for a path; see hash.Hasher for the full
// contract and hash.MurmurHasher / hash.ModTimeHasher / hash.CounterHasher
// for the built-in implementations.
type Hasher = hash.Hasher

// TreeVisitor is the pluggable recursive walker contract from §4.2.
type TreeVisitor = treewalk.Visitor

// WatchService is the abstract Platform Watcher contract from §4.4: it is
// exposed publicly only so that WithWatchService can accept a caller's own
// backend (e.g. in tests); ordinary callers never need to implement it
// themselves.
type WatchService = platform.Watcher

// PathHashes is the read-only view of the watcher's internal path-to-hash
// map (§4.3's "exposed view to the client"). Mutating methods always fail
// with ErrUnsupportedOperation.
type PathHashes = pathstate.PathHashes

// ErrUnsupportedOperation is returned by PathHashes' mutating methods.
var ErrUnsupportedOperation = pathstate.ErrUnsupportedOperation
