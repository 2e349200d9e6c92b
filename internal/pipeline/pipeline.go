package pipeline

import (
	"os"

	"github.com/pkg/errors"

	"github.com/hashwatch/hashwatch/hash"
	"github.com/hashwatch/hashwatch/internal/pathstate"
	"github.com/hashwatch/hashwatch/internal/platform"
	"github.com/hashwatch/hashwatch/internal/registry"
	"github.com/hashwatch/hashwatch/internal/treewalk"
	"github.com/hashwatch/hashwatch/logging"
)

// ErrInvariantViolation is raised internally (and routed to
// Listener.OnException) when the pipeline observes state that should be
// impossible under its own invariants — e.g. an event for an unknown
// registration key. Per §7, this is an IllegalState, not a fatal error: the
// loop catches it and continues.
var ErrInvariantViolation = errors.New("pipeline invariant violated")

// Pipeline is the Event Pipeline (§4.6). It owns the Path State Store used
// for kernel-backed (non-self-hashing) registrations, the registration
// bookkeeping, and drives the Recursive Registration Manager.
type Pipeline struct {
	watcher  platform.Watcher
	registry *registry.Manager
	regs     *pathstate.Registrations
	store    *pathstate.Store
	hasher   hash.Hasher // nil disables hashing (see buildDirectoryChangeEvent)
	visitor  treewalk.Visitor
	logger   *logging.Logger

	eventCount int
}

// New constructs a Pipeline. hasher may be nil to disable hashing per §6's
// file_hasher=null option; visitor overrides the recursive re-walk used for
// the CREATE race-synthesis step.
func New(watcher platform.Watcher, hasher hash.Hasher, visitor treewalk.Visitor, logger *logging.Logger) *Pipeline {
	regs := pathstate.NewRegistrations()
	return &Pipeline{
		watcher:  watcher,
		registry: registry.New(watcher, regs, logger),
		regs:     regs,
		store:    pathstate.New(),
		hasher:   hasher,
		visitor:  visitor,
		logger:   logger,
	}
}

// RegisterRoot registers userRoot for watching. Per §4.6's "Contract on
// startup: register all paths, then enter the loop," every root a caller
// wants watched must be registered before Run is called.
func (p *Pipeline) RegisterRoot(userRoot string) error {
	if err := p.registry.RegisterRoot(userRoot); err != nil {
		return err
	}
	if !p.registry.NativeRecursive() {
		// Seed the store's known-directories set and hashes for the
		// fallback path too, mirroring the macOS backend's own step 1, so
		// that the unified create-notification path's "was it already in
		// the store" check behaves correctly from the first real event.
		p.seed(userRoot)
	}
	return nil
}

func (p *Pipeline) seed(root string) {
	_ = p.visitor.Walk(root,
		func(path string, info os.FileInfo) {
			p.store.AddDirectory(path)
			if h, ok := hashIfPossible(p.hasher, path, info); ok {
				p.store.Put(path, h)
			}
		},
		func(path string, info os.FileInfo) {
			if h, ok := hashIfPossible(p.hasher, path, info); ok {
				p.store.Put(path, h)
			}
		},
	)
}

// Run implements §4.6's loop body. It blocks until listener.IsWatching()
// returns false or every registration has been invalidated.
func (p *Pipeline) Run(listener Listener) {
	if listener == nil {
		listener = NoopListener{}
	}

	for listener.IsWatching() {
		select {
		case ev, ok := <-p.watcher.Events():
			if !ok {
				return
			}
			p.dispatch(ev, listener)
		default:
			listener.OnIdle(p.eventCount)
			ev, ok := <-p.watcher.Events()
			if !ok {
				return
			}
			p.dispatch(ev, listener)
		}

		if p.registry.Done() {
			return
		}
	}
}

func (p *Pipeline) dispatch(ev platform.Event, listener Listener) {
	defer func() {
		if r := recover(); r != nil {
			listener.OnException(errors.Errorf("recovered from panic in event loop: %v", r))
		}
	}()

	if ev.Kind == platform.Invalidated {
		directory, userRoot, wasRoot := p.regs.Lookup(ev.Key)
		p.registry.Invalidate(ev.Key)
		if wasRoot && directory == userRoot {
			p.recoverRoot(userRoot, listener)
		}
		return
	}

	if ev.Kind == platform.Overflow {
		p.emit(listener, DirectoryChangeEvent{Kind: Overflow, Count: ev.Count})
		return
	}

	directory, userRoot, ok := p.regs.Lookup(ev.Key)
	if !ok {
		listener.OnException(errors.Wrapf(ErrInvariantViolation, "event for unknown registration key"))
		return
	}

	childPath := ev.Name
	if childPath == "" {
		childPath = directory
	}

	switch ev.Kind {
	case platform.Create:
		p.handleCreate(ev, childPath, userRoot, listener)
	case platform.Modify:
		p.handleModify(ev, childPath, userRoot, listener)
	case platform.Delete:
		p.handleDelete(ev, childPath, userRoot, listener)
	}
}

// recoverRoot implements the §9 Open Question resolution (see SPEC_FULL.md
// SUPPLEMENTED FEATURES): when a root registration is invalidated, check
// whether the root's on-disk identity has actually changed (a root that
// cannot be probed, e.g. because it is gone, counts as changed) and, if so,
// immediately attempt to
// re-register it so the watch is torn down and re-established against the
// new directory rather than leaving the root permanently unwatched. This is
// the generic, backend-agnostic half of that resolution: the macOS backend
// additionally detects the same condition earlier, inline, from its own
// FSEvents RootChanged callback (internal/platform/fsevents), before the
// invalidation even reaches here.
func (p *Pipeline) recoverRoot(userRoot string, listener Listener) {
	if !p.registry.CheckRootIdentity(userRoot) {
		// The recorded identity still matches what's on disk; the
		// invalidation was something else (e.g. a permissions change), not a
		// replace, so there is nothing to re-establish.
		return
	}
	if err := p.registry.RegisterRoot(userRoot); err != nil {
		// Most commonly: userRoot doesn't exist right now (the delete half of
		// a delete-then-recreate hasn't finished). Not fatal — if userRoot
		// reappears later with no registration watching its parent, recovery
		// genuinely has nothing left to hook into, which is the residual
		// "behavior undefined" edge this resolution accepts (see DESIGN.md).
		listener.OnException(errors.Wrapf(err, "unable to re-establish watch root %s after identity change", userRoot))
		return
	}
	p.seed(userRoot)
}

// selfHashed reports whether the backend already computed and deduplicated
// this event itself (the macOS backend), in which case the pipeline must
// not re-hash or re-check the store — it would either duplicate work the
// backend already did correctly or, worse, disagree with a store it does
// not share with that backend.
func selfHashed(ev platform.Event) bool {
	return ev.Hash != ""
}

func (p *Pipeline) handleCreate(ev platform.Event, childPath, userRoot string, listener Listener) {
	if selfHashed(ev) {
		h := ev.Hash
		p.emit(listener, DirectoryChangeEvent{
			Kind: Create, IsDirectory: ev.IsDirectoryHint, Path: childPath, Hash: &h, Root: userRoot,
		})
		return
	}

	isDir := ev.IsDirectoryHint || p.store.IsKnownDirectory(childPath) || isDirectoryOnDisk(childPath)
	if isDir {
		if !p.registry.NativeRecursive() {
			if err := p.registry.RegisterDirectory(childPath, userRoot); err != nil {
				listener.OnException(errors.Wrap(err, "unable to register newly created directory"))
			}
			// Re-walk to synthesize CREATE events for anything that landed
			// in the directory before the registration took effect (§4.6
			// CREATE handling, "re-walk it to synthesize CREATE events for
			// files that may have been created before registration").
			p.synthesizeCreatesFor(childPath, userRoot, listener)
		}
		p.store.AddDirectory(childPath)
	}

	p.unifiedCreate(childPath, userRoot, isDir, listener)
}

// synthesizeCreatesFor re-walks a newly registered directory and runs the
// unified create-notification path for every entry found, covering the
// race between "directory created" and "registration took effect."
func (p *Pipeline) synthesizeCreatesFor(directory, userRoot string, listener Listener) {
	_ = p.visitor.Walk(directory,
		func(path string, info os.FileInfo) {
			if path == directory {
				return
			}
			p.store.AddDirectory(path)
			p.unifiedCreate(path, userRoot, true, listener)
		},
		func(path string, info os.FileInfo) {
			p.unifiedCreate(path, userRoot, false, listener)
		},
	)
}

// unifiedCreate implements §4.6's "Unified create-notification path."
func (p *Pipeline) unifiedCreate(path, userRoot string, isDir bool, listener Listener) {
	if p.hasher == nil {
		p.emit(listener, DirectoryChangeEvent{Kind: Create, IsDirectory: isDir, Path: path, Root: userRoot})
		return
	}

	info, statErr := osLstat(path)
	newHash, ok := hashIfPossible(p.hasher, path, info)

	if ok {
		if _, known := p.store.Get(path); !known {
			p.store.Put(path, newHash)
			h := newHash
			p.emit(listener, DirectoryChangeEvent{Kind: Create, IsDirectory: isDir, Path: path, Hash: &h, Root: userRoot})
		}
		// else: already seen; drop (suppresses the create-then-modify burst).
		return
	}

	if statErr != nil {
		// Hash failed and the path does not exist: race with delete, drop.
		return
	}
	// Hash failed but the path still exists (locked file, e.g.): must not
	// lose the create.
	p.emit(listener, DirectoryChangeEvent{Kind: Create, IsDirectory: isDir, Path: path, Root: userRoot})
}

func (p *Pipeline) handleModify(ev platform.Event, childPath, userRoot string, listener Listener) {
	if selfHashed(ev) {
		h := ev.Hash
		p.emit(listener, DirectoryChangeEvent{Kind: Modify, IsDirectory: ev.IsDirectoryHint, Path: childPath, Hash: &h, Root: userRoot})
		return
	}

	isDir := ev.IsDirectoryHint || p.store.IsKnownDirectory(childPath)

	if p.hasher == nil {
		p.emit(listener, DirectoryChangeEvent{Kind: Modify, IsDirectory: isDir, Path: childPath, Root: userRoot})
		return
	}

	info, _ := osLstat(childPath)
	newHash, ok := hashIfPossible(p.hasher, childPath, info)
	if !ok {
		return
	}
	stored, known := p.store.Get(childPath)
	if known && newHash == stored {
		return
	}
	p.store.Put(childPath, newHash)
	h := newHash
	p.emit(listener, DirectoryChangeEvent{Kind: Modify, IsDirectory: isDir, Path: childPath, Hash: &h, Root: userRoot})
}

func (p *Pipeline) handleDelete(ev platform.Event, childPath, userRoot string, listener Listener) {
	if selfHashed(ev) {
		h := ev.Hash
		p.emit(listener, DirectoryChangeEvent{Kind: Delete, IsDirectory: ev.IsDirectoryHint, Path: childPath, Hash: &h, Root: userRoot})
		return
	}

	if p.hasher == nil {
		isDir := p.store.IsKnownDirectory(childPath)
		p.store.RemoveDirectory(childPath)
		p.emit(listener, DirectoryChangeEvent{Kind: Delete, IsDirectory: isDir, Path: childPath, Root: userRoot})
		return
	}

	// Store.Subtree returns entries in ascending path order, which puts
	// childPath itself (a prefix of everything beneath it) first. Walk it
	// back to front instead, so every descendant's DELETE is emitted before
	// the enclosing directory's own — per P3 and §8 scenario 3, not just
	// "in order by path" as §4.6 literally puts it.
	entries := p.store.Subtree(childPath)
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		isDir := hash.IsDirectory(entry.Hash)
		p.store.Remove(entry.Path)
		h := entry.Hash
		p.emit(listener, DirectoryChangeEvent{Kind: Delete, IsDirectory: isDir, Path: entry.Path, Hash: &h, Root: userRoot})
	}
}

func (p *Pipeline) emit(listener Listener, event DirectoryChangeEvent) {
	p.eventCount++
	if err := listener.OnEvent(event); err != nil {
		listener.OnException(errors.Wrap(err, "listener returned an error"))
	}
}

// Close releases the underlying platform watcher.
func (p *Pipeline) Close() error {
	return p.watcher.Close()
}

// PathHashes returns the read-only view of this pipeline's Path State
// Store, per §4.3's "exposed view to the client". It reflects kernel
// -backed registrations only: the macOS backend keeps its own per-root
// store internally and does not feed it back here, since every event it
// produces already carries its own computed Hash (see selfHashed).
func (p *Pipeline) PathHashes() pathstate.PathHashes {
	return p.store.ReadOnlyView()
}

func hashIfPossible(hasher hash.Hasher, path string, info os.FileInfo) (hash.Hash, bool) {
	if hasher == nil || info == nil {
		return "", false
	}
	return hasher.Hash(path, info)
}

func isDirectoryOnDisk(path string) bool {
	info, err := osLstat(path)
	return err == nil && info != nil && info.IsDir()
}

func osLstat(path string) (os.FileInfo, error) {
	return os.Lstat(path)
}
