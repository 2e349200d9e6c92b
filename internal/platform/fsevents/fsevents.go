// +build darwin,cgo

// Package fsevents implements the Platform Watcher contract for macOS (§4.4,
// "the hard one"): a reconstruction of per-file CREATE/MODIFY/DELETE events
// from FSEvents' directory-granularity notifications, by diffing on-disk
// state against a cached content-hash map on every callback.
//
// This is grounded on the teacher's WatchRecursive
// (pkg/filesystem/watching/watch_recursive_darwin_cgo.go): the symlink
// resolution, prefix-trimming, and MustScanSubDirs/Mount/Unmount handling
// below are adapted directly from it. The diffing engine itself — steps 2
// through 4 — has no analog in the pruned teacher tree (mutagen's own
// diffing lives in its sync/transition machinery, out of scope here) and is
// built fresh from §4.4's algorithm, using the same Path State Store
// (internal/pathstate) the rest of this module shares.
package fsevents

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mutagen-io/fsevents"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"

	"github.com/hashwatch/hashwatch/hash"
	"github.com/hashwatch/hashwatch/internal/pathstate"
	"github.com/hashwatch/hashwatch/internal/platform"
	"github.com/hashwatch/hashwatch/internal/rootid"
	"github.com/hashwatch/hashwatch/internal/treewalk"
	"github.com/hashwatch/hashwatch/logging"
)

const (
	// defaultLatency is the FSEvents coalescing window, per §4.4
	// "Configuration: latency seconds (default 0.5)".
	defaultLatency = 500 * time.Millisecond

	// defaultQueueSize is the default size of the outbound event queue that
	// all roots of a Backend share.
	defaultQueueSize = 1024

	// rawChannelCapacity sizes the raw FSEvents callback channel, following
	// the teacher's fseventsChannelCapacity constant.
	rawChannelCapacity = 50
)

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithHasher overrides the default MurmurHasher. Passing a CounterHasher (or
// any hasher that never reports "unchanged") forces every tick to look like
// a modification, which is why file-level events should also be requested
// in that case (see WithFileLevelEvents).
func WithHasher(h hash.Hasher) Option {
	return func(b *Backend) { b.hasher = h }
}

// WithLatency overrides the default FSEvents coalescing latency.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithQueueSize overrides the default size of the outbound event queue
// shared by all roots.
func WithQueueSize(n int) Option {
	return func(b *Backend) { b.queueSize = n }
}

// WithFileLevelEvents requests file-granularity FSEvents notifications
// (kFSEventStreamCreateFlagFileEvents) instead of directory-granularity
// ones. §4.4 requires this when hashing is disabled, since otherwise a bare
// directory-granularity tick looks like a spurious modification of the
// directory on every callback.
func WithFileLevelEvents(enabled bool) Option {
	return func(b *Backend) { b.fileLevelEvents = enabled }
}

// Backend implements platform.Watcher on top of FSEvents.
type Backend struct {
	logger *logging.Logger

	hasher          hash.Hasher
	latency         time.Duration
	queueSize       int
	fileLevelEvents bool

	mu     sync.Mutex
	roots  map[platform.RegistrationKey]*watchedRoot
	events chan platform.Event
	closed bool
}

// New constructs an FSEvents-backed Watcher.
func New(logger *logging.Logger, options ...Option) *Backend {
	b := &Backend{
		logger:    logger,
		hasher:    hash.MurmurHasher{},
		latency:   defaultLatency,
		queueSize: defaultQueueSize,
		roots:     make(map[platform.RegistrationKey]*watchedRoot),
	}
	for _, opt := range options {
		opt(b)
	}
	b.events = make(chan platform.Event, b.queueSize)
	return b
}

// watchedRoot holds the per-root diffing state: the cached path/hash map, the
// real-path-to-user-path translation, and the underlying FSEvents stream.
type watchedRoot struct {
	key      platform.RegistrationKey
	userRoot string
	realRoot string
	// trimPrefix is realRoot with a trailing separator, used to turn an
	// absolute FSEvents path into one relative to realRoot.
	trimPrefix string
	// identity is realRoot's (device, inode) at registration time, checked
	// against FSEvents' RootChanged flag to detect the root having been
	// replaced with a new directory of the same name (§9 Open Question).
	identity rootid.Identity

	store *pathstate.Store
	raw   chan []fsevents.Event
	es    *fsevents.EventStream

	overflow int64 // atomic; events discarded since the last Overflow was emitted

	mu        sync.Mutex
	cancelled bool
}

// Register implements platform.Watcher.Register. FSEvents always watches an
// entire subtree once subscribed, so recursive is accepted regardless of its
// value — the macOS backend is, per §6, "used unconditionally because the
// generic polling-based backend is unusable."
func (b *Backend) Register(directory string, recursive bool) (platform.RegistrationKey, error) {
	if !filepath.IsAbs(directory) {
		return "", errors.New("watch target path must be absolute")
	}

	realRoot, err := filepath.EvalSymlinks(directory)
	if err != nil {
		return "", errors.Wrap(err, "unable to resolve symbolic links for watch target")
	}

	trimPrefix := realRoot
	if trimPrefix != string(os.PathSeparator) {
		trimPrefix += string(os.PathSeparator)
	}

	identity, err := rootid.Probe(realRoot)
	if err != nil {
		return "", errors.Wrap(err, "unable to probe watch root identity")
	}

	wr := &watchedRoot{
		userRoot:   directory,
		realRoot:   realRoot,
		trimPrefix: trimPrefix,
		identity:   identity,
		store:      pathstate.New(),
		raw:        make(chan []fsevents.Event, rawChannelCapacity),
	}

	if err := b.initialize(wr); err != nil {
		return "", errors.Wrap(err, "unable to perform initial hash scan")
	}

	flags := fsevents.NoDefer | fsevents.WatchRoot
	if b.fileLevelEvents {
		flags |= fsevents.FileEvents
	}
	wr.es = &fsevents.EventStream{
		Events:  wr.raw,
		Paths:   []string{realRoot},
		Latency: b.latency,
		Flags:   flags,
	}

	key := platform.RegistrationKey(uuid.NewString())
	wr.key = key

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", errors.New("backend is closed")
	}
	b.roots[key] = wr
	b.mu.Unlock()

	wr.es.Start()
	go b.run(wr)

	return key, nil
}

// initialize performs §4.4 step 1: walk the root and hash every entry.
func (b *Backend) initialize(wr *watchedRoot) error {
	return treewalk.Default.Walk(wr.realRoot, func(path string, info os.FileInfo) {
		wr.store.Put(b.userPath(wr, path), hash.Directory)
	}, func(path string, info os.FileInfo) {
		if h, ok := b.hasher.Hash(path, info); ok {
			wr.store.Put(b.userPath(wr, path), h)
		}
	})
}

// userPath converts an absolute real-disk path under wr.realRoot into its
// user-root-relative form (i.e. with wr.realRoot replaced by wr.userRoot),
// NFC-normalizing it first to resolve the Unicode decomposition
// inconsistency HFS+ introduces into paths FSEvents hands back.
func (b *Backend) userPath(wr *watchedRoot, realPath string) string {
	realPath = norm.NFC.String(realPath)
	if realPath == wr.realRoot {
		return wr.userRoot
	}
	if strings.HasPrefix(realPath, wr.trimPrefix) {
		return filepath.Join(wr.userRoot, realPath[len(wr.trimPrefix):])
	}
	// Divergence between our symlink resolution and FSEvents' own (the race
	// the teacher's comment describes); fall back to the real path itself
	// rather than drop the event.
	return realPath
}

// run is the per-root goroutine draining FSEvents callbacks and performing
// the diff described in §4.4 steps 2 through 4.
func (b *Backend) run(wr *watchedRoot) {
	for batch := range wr.raw {
		wr.mu.Lock()
		if wr.cancelled {
			wr.mu.Unlock()
			continue
		}
		b.processBatch(wr, batch)
		wr.mu.Unlock()
	}
}

func (b *Backend) processBatch(wr *watchedRoot, batch []fsevents.Event) {
	b.flushPendingOverflow(wr)

	// Deduplicate directories touched within this batch; re-diffing the same
	// directory twice in one callback is wasted work, not incorrect, but
	// there is no reason to pay for it.
	touched := make(map[string]struct{}, len(batch))
	for _, ev := range batch {
		if ev.Flags&fsevents.MustScanSubDirs != 0 {
			b.logger.Warn(errors.New("FSEvents coalesced events; re-scanning affected subtree"))
		}
		if ev.Flags&fsevents.RootChanged != 0 {
			// The watch root (or an ancestor) was renamed or recreated. Per
			// §9's resolution of the Open Question, probe the root's
			// (device, inode) identity: if it diverged from the one
			// recorded at Register time, the directory at this path is no
			// longer the one we were watching, and continuing to diff
			// against the cached store would silently attribute the new
			// directory's contents to the old one. Tear the root down
			// instead and let the caller re-register.
			if rootid.Changed(wr.realRoot, wr.identity) {
				b.logger.Warn(errors.Errorf("watch root %s was replaced; invalidating registration", wr.userRoot))
				b.cancelRoot(wr)
				return
			}
			b.logger.Debugf("FSEvents reported a root-changed flag for %s", ev.Path)
		}
		if ev.Flags&fsevents.Mount != 0 || ev.Flags&fsevents.Unmount != 0 {
			b.logger.Warn(errors.Errorf("volume mount state changed under watch root: %s", ev.Path))
			continue
		}
		touched[ev.Path] = struct{}{}
	}

	var creates, modifies, deletes []platform.Event
	for d := range touched {
		c, m, del := b.diff(wr, d)
		creates = append(creates, c...)
		modifies = append(modifies, m...)
		deletes = append(deletes, del...)
	}

	// §4.4 step 3: strict create, modify, delete order within one callback.
	for _, ev := range creates {
		b.emit(wr, ev)
	}
	for _, ev := range modifies {
		b.emit(wr, ev)
	}
	for _, ev := range deletes {
		b.emit(wr, ev)
	}

	if wr.store.Len() == 0 {
		b.cancelRoot(wr)
	}
}

// diff implements §4.4 steps 2b-2e for a single touched directory (or file,
// under file-level events) d, given as a real, absolute path.
func (b *Backend) diff(wr *watchedRoot, d string) (creates, modifies, deletes []platform.Event) {
	current := make(map[string]struct{})

	walkErr := treewalk.Default.Walk(d,
		func(path string, info os.FileInfo) {
			userPath := b.userPath(wr, path)
			current[userPath] = struct{}{}
			if _, known := wr.store.Get(userPath); !known {
				wr.store.Put(userPath, hash.Directory)
				creates = append(creates, platform.Event{Key: wr.key, Kind: platform.Create, Name: userPath, IsDirectoryHint: true, Hash: hash.Directory})
			}
		},
		func(path string, info os.FileInfo) {
			userPath := b.userPath(wr, path)
			current[userPath] = struct{}{}
			newHash, ok := b.hasher.Hash(path, info)
			if !ok {
				return
			}
			stored, known := wr.store.Get(userPath)
			if !known {
				wr.store.Put(userPath, newHash)
				creates = append(creates, platform.Event{Key: wr.key, Kind: platform.Create, Name: userPath, Hash: newHash})
			} else if newHash != stored {
				wr.store.Put(userPath, newHash)
				modifies = append(modifies, platform.Event{Key: wr.key, Kind: platform.Modify, Name: userPath, Hash: newHash})
			}
		},
	)

	userD := b.userPath(wr, d)
	if walkErr != nil {
		if !os.IsNotExist(errors.Cause(walkErr)) {
			b.logger.Warn(errors.Wrap(walkErr, "unable to re-scan directory after event"))
			return
		}
		// d no longer exists: every entry previously recorded under it is
		// gone, which the Subtree/deletion pass below handles uniformly
		// since current is empty.
	}

	// Subtree returns entries in ascending path order, i.e. userD itself
	// (a prefix of everything beneath it) first. Walk it back to front so a
	// removed subtree's descendants are each deleted before the enclosing
	// directory — required by P3/§8 scenario 3, which a single callback can
	// hit directly: a directory moved out from under the root arrives as one
	// touched path whose whole previously-recorded subtree is now gone.
	entries := wr.store.Subtree(userD)
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if _, stillPresent := current[entry.Path]; stillPresent {
			continue
		}
		wr.store.Remove(entry.Path)
		deletes = append(deletes, platform.Event{Key: wr.key, Kind: platform.Delete, Name: entry.Path, Hash: entry.Hash})
	}

	return creates, modifies, deletes
}

// emit performs the non-blocking bounded send described in §4.8: on a full
// queue, the event is dropped and accounted for in wr.overflow rather than
// blocking the diffing goroutine.
func (b *Backend) emit(wr *watchedRoot, ev platform.Event) {
	select {
	case b.events <- ev:
	default:
		atomic.AddInt64(&wr.overflow, 1)
	}
}

func (b *Backend) flushPendingOverflow(wr *watchedRoot) {
	n := atomic.LoadInt64(&wr.overflow)
	if n == 0 {
		return
	}
	select {
	case b.events <- platform.Event{Key: wr.key, Kind: platform.Overflow, Count: int(n)}:
		atomic.AddInt64(&wr.overflow, -n)
	default:
	}
}

// cancelRoot implements §4.4 step 4 and the "state machine for a watch key"
// paragraph: OPEN -> CANCELLED, idempotently, once the hash map becomes
// empty (the root itself was deleted).
func (b *Backend) cancelRoot(wr *watchedRoot) {
	if wr.cancelled {
		return
	}
	wr.cancelled = true
	wr.es.Stop()

	select {
	case b.events <- platform.Event{Key: wr.key, Kind: platform.Invalidated}:
	default:
		// The queue is full; the Event Pipeline will still eventually notice
		// the key is gone the next time it tries to use it (Unregister is
		// idempotent), so dropping this notification is not fatal.
	}
}

// Unregister implements platform.Watcher.Unregister.
func (b *Backend) Unregister(key platform.RegistrationKey) error {
	b.mu.Lock()
	wr, ok := b.roots[key]
	if ok {
		delete(b.roots, key)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()
	if !wr.cancelled {
		wr.cancelled = true
		wr.es.Stop()
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
	roots := make([]*watchedRoot, 0, len(b.roots))
	for _, wr := range b.roots {
		roots = append(roots, wr)
	}
	b.roots = make(map[platform.RegistrationKey]*watchedRoot)
	b.mu.Unlock()

	for _, wr := range roots {
		wr.mu.Lock()
		if !wr.cancelled {
			wr.cancelled = true
			wr.es.Stop()
		}
		wr.mu.Unlock()
	}
	close(b.events)
	return nil
}
