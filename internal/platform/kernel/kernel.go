// Package kernel implements the Platform Watcher contract (internal/platform
// .Watcher) for every operating system other than macOS, by wrapping
// github.com/fsnotify/fsnotify — the thin native binding to inotify,
// ReadDirectoryChangesW, or kqueue, per spec §1's framing that "the platform
// call... [is] a thin system wrapper."
//
// fsnotify's stable, documented Add/Remove API watches a single directory
// non-recursively; this backend therefore always reports ErrUnsupported for
// a recursive registration request (Windows's native recursive
// ReadDirectoryChangesW flag is not exercised through fsnotify here). The Recursive Registration Manager (internal/registry) is what
// turns this into full recursive coverage, by walking the tree and
// registering every directory individually — exactly the §6 "On Linux, only
// the root is registered natively; subdirectories are registered as they are
// observed" behavior, applied uniformly to every platform this package
// serves.
package kernel

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hashwatch/hashwatch/internal/platform"
	"github.com/hashwatch/hashwatch/logging"
)

// Backend implements platform.Watcher on top of a single fsnotify.Watcher,
// fanning its single flat event stream out across however many directories
// have been registered by directory-to-key lookups.
type Backend struct {
	logger *logging.Logger

	watcher *fsnotify.Watcher

	mu        sync.Mutex
	keysByDir map[string]platform.RegistrationKey
	dirsByKey map[platform.RegistrationKey]string
	closed    bool

	events chan platform.Event
	done   chan struct{}
}

// New constructs a kernel-backed Watcher.
func New(logger *logging.Logger) (*Backend, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create native watcher")
	}

	b := &Backend{
		logger:    logger,
		watcher:   fsw,
		keysByDir: make(map[string]platform.RegistrationKey),
		dirsByKey: make(map[platform.RegistrationKey]string),
		events:    make(chan platform.Event, 1024),
		done:      make(chan struct{}),
	}

	go b.forward()

	return b, nil
}

// Register implements platform.Watcher.Register.
func (b *Backend) Register(directory string, recursive bool) (platform.RegistrationKey, error) {
	if recursive {
		return "", platform.ErrUnsupported
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", errors.New("backend is closed")
	}

	if existing, ok := b.keysByDir[directory]; ok {
		return existing, nil
	}

	if err := b.watcher.Add(directory); err != nil {
		return "", errors.Wrapf(err, "unable to watch %s", directory)
	}

	key := platform.RegistrationKey(uuid.NewString())
	b.keysByDir[directory] = key
	b.dirsByKey[key] = directory
	return key, nil
}

// Unregister implements platform.Watcher.Unregister.
func (b *Backend) Unregister(key platform.RegistrationKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	directory, ok := b.dirsByKey[key]
	if !ok {
		return nil
	}
	delete(b.dirsByKey, key)
	delete(b.keysByDir, directory)

	if b.closed {
		return nil
	}
	if err := b.watcher.Remove(directory); err != nil {
		// The directory may already be gone, which is the common case (we're
		// usually unregistering in response to a delete); that's not an
		// error worth propagating.
		b.logger.Debugf("unable to remove watch for %s: %v", directory, err)
	}
	return nil
}

// Events implements platform.Watcher.Events.
func (b *Backend) Events() <-chan platform.Event {
	return b.events
}

// Close implements platform.Watcher.Close.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.watcher.Close()
	<-b.done
	close(b.events)
	return err
}

// forward translates fsnotify's flat Name+Op event stream into
// platform.Event values keyed by registration, implementing the raw-event
// half of the contract; hash-based dedup and CREATE/MODIFY/DELETE semantics
// are applied later by internal/pipeline, per §4.6.
func (b *Backend) forward() {
	defer close(b.done)
	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			b.dispatch(ev)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn(errors.Wrap(err, "native watcher reported an error"))
		}
	}
}

func (b *Backend) dispatch(ev fsnotify.Event) {
	// inotify (and fsnotify's translation of it) reports the removal of the
	// watched directory itself as an event whose Name is the watched
	// directory's own path, not a child of it — the usual
	// parent-of-ev.Name lookup below would miss this entirely, since the
	// registered directory IS ev.Name here. Check for that self-event first.
	if b.dispatchSelfEvent(ev) {
		return
	}

	directory, _ := splitRegisteredDirectory(ev.Name)

	b.mu.Lock()
	key, ok := b.keysByDir[directory]
	b.mu.Unlock()
	if !ok {
		// The event names a path under a directory we have no registration
		// for (commonly: the directory itself was just removed and we raced
		// the kernel's own teardown). Drop it; there is no registration key
		// to attribute it to.
		return
	}

	kind, isDir := classify(ev.Op)

	out := platform.Event{
		Key:             key,
		Kind:            kind,
		Name:            ev.Name,
		IsDirectoryHint: isDir,
	}

	b.send(out)
}

// dispatchSelfEvent handles an event for a registered directory itself
// being removed or renamed out from under its own watch (inotify's
// IN_DELETE_SELF/IN_MOVE_SELF, which the kernel also retires the watch
// descriptor for once delivered). It emits the DELETE the Event Pipeline
// needs to clean up everything it tracked under that directory, followed by
// an Invalidated marker so the registration bookkeeping — and, if this was
// a root registration, recovery per §9's Open Question resolution — is
// driven the same way a platform-detected key cancellation is on macOS. It
// reports whether ev was in fact a self-event (and has therefore already
// been handled), so the caller skips the ordinary parent-relative lookup.
func (b *Backend) dispatchSelfEvent(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	b.mu.Lock()
	key, ok := b.keysByDir[ev.Name]
	if ok {
		delete(b.keysByDir, ev.Name)
		delete(b.dirsByKey, key)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}

	b.send(platform.Event{Key: key, Kind: platform.Delete, Name: ev.Name, IsDirectoryHint: true})
	b.send(platform.Event{Key: key, Kind: platform.Invalidated})
	return true
}

// send performs the non-blocking bounded send described in §4.8: on a full
// queue, the event is dropped in favor of a synthesized overflow marker
// rather than blocking the forwarding goroutine.
func (b *Backend) send(ev platform.Event) {
	select {
	case b.events <- ev:
	default:
		select {
		case b.events <- platform.Event{Key: ev.Key, Kind: platform.Overflow, Count: 1}:
		default:
		}
	}
}

// classify maps an fsnotify.Op bitmask onto the CREATE/MODIFY/DELETE
// vocabulary. fsnotify reports Rename as a remove-equivalent for the old
// name (the kernel delivers a separate Create for the new name), matching
// the teacher's own inotify handling (IN_MOVED_FROM/IN_MOVED_TO treated
// analogously to delete/create in pkg/filesystem/watch_native_non_recursive_
// inotify.go's flag set).
func classify(op fsnotify.Op) (platform.EventKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return platform.Create, false
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return platform.Delete, false
	default:
		return platform.Modify, false
	}
}

// splitRegisteredDirectory splits an fsnotify event's path into the
// registered directory and the remaining path. Since this backend only ever
// registers single, non-recursive directories, the registered directory is
// always the event path's immediate parent.
func splitRegisteredDirectory(path string) (directory, name string) {
	idx := lastPathSeparator(path)
	if idx < 0 {
		return path, ""
	}
	return path[:idx], path[idx+1:]
}

func lastPathSeparator(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return i
		}
	}
	return -1
}
