// Package registry implements the Recursive Registration Manager (§4.5):
// it registers a user root and every descendant directory necessary to
// receive events for the whole sub-tree, preferring the platform's native
// recursive mode when available and falling back to per-directory
// registration (walking the tree, then re-registering newly created
// directories as they appear) otherwise.
//
// This has no direct analog in the pruned teacher tree — mutagen's
// equivalent logic lives inside watch.go, which this module's _examples
// copy does not retain — so it is built fresh from §4.5's algorithm on top
// of the platform.Watcher contract and the pathstate.Registrations table
// the rest of this module already defines.
package registry

import (
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/hashwatch/hashwatch/internal/pathstate"
	"github.com/hashwatch/hashwatch/internal/platform"
	"github.com/hashwatch/hashwatch/internal/rootid"
	"github.com/hashwatch/hashwatch/internal/treewalk"
	"github.com/hashwatch/hashwatch/logging"
)

// Manager implements §4.5's registration algorithm on top of a single
// platform.Watcher. It caches the native-recursive feature probe once per
// Manager instance (one per watcher, one native backend instance), per the
// §9 "Feature probe for native recursion" design note.
type Manager struct {
	watcher platform.Watcher
	logger  *logging.Logger

	registrations *pathstate.Registrations

	probeOnce       sync.Once
	nativeRecursive bool

	identitiesMu sync.Mutex
	identities   map[string]rootid.Identity
}

// New constructs a Manager driving registrations through watcher.
func New(watcher platform.Watcher, registrations *pathstate.Registrations, logger *logging.Logger) *Manager {
	return &Manager{
		watcher:       watcher,
		logger:        logger,
		registrations: registrations,
		identities:    make(map[string]rootid.Identity),
	}
}

// RegisterRoot implements §4.5: registers userRoot (and, if the backend
// lacks native recursion, every descendant directory) so that events for
// the whole sub-tree are delivered.
func (m *Manager) RegisterRoot(userRoot string) error {
	var probeErr error
	probedNative := false
	m.probeOnce.Do(func() {
		key, err := m.watcher.Register(userRoot, true)
		if err == nil {
			m.nativeRecursive = true
			m.registrations.Add(key, userRoot, userRoot)
			probedNative = true
			return
		}
		if !errors.Is(err, platform.ErrUnsupported) {
			// The probe itself failed for an unrelated reason (permissions,
			// missing path); surface it as this call's error rather than
			// silently falling back, since a walk-based registration of
			// userRoot would fail for the same reason anyway.
			probeErr = err
			return
		}
		m.nativeRecursive = false
	})
	if probeErr != nil {
		return errors.Wrapf(probeErr, "unable to register root %s", userRoot)
	}

	m.recordIdentity(userRoot)

	if m.nativeRecursive {
		if probedNative {
			// The probe above already registered userRoot natively.
			return nil
		}
		return m.registerNative(userRoot)
	}
	return m.walkAndRegister(userRoot, userRoot)
}

// recordIdentity probes userRoot's current (device, inode) identity and
// stashes it, so a later CheckRootIdentity call can detect the §9 Open
// Question scenario: the root directory replaced with a new directory of
// the same name while watched. A probe failure is logged and otherwise
// ignored; no identity is then recorded for userRoot, so CheckRootIdentity
// reports false for it and it is never treated as replaced.
func (m *Manager) recordIdentity(userRoot string) {
	identity, err := rootid.Probe(userRoot)
	if err != nil {
		m.logger.Warn(errors.Wrapf(err, "unable to probe identity of root %s", userRoot))
		return
	}
	m.identitiesMu.Lock()
	defer m.identitiesMu.Unlock()
	m.identities[userRoot] = identity
}

// CheckRootIdentity reports whether userRoot's on-disk (device, inode)
// identity has diverged from the one recorded at registration time. The
// Event Pipeline calls this after a root registration is invalidated (see
// pipeline.recoverRoot) to decide whether that invalidation was a genuine
// root replacement worth immediately re-registering for, rather than
// continuing to assume a watch that no longer points at the right
// directory. If userRoot has no recorded identity (it was never registered
// through this Manager), CheckRootIdentity reports false.
func (m *Manager) CheckRootIdentity(userRoot string) bool {
	m.identitiesMu.Lock()
	previous, ok := m.identities[userRoot]
	m.identitiesMu.Unlock()
	if !ok {
		return false
	}
	return rootid.Changed(userRoot, previous)
}

// registerNative handles every RegisterRoot call after the first, once the
// backend is known to support native recursion.
func (m *Manager) registerNative(userRoot string) error {
	key, err := m.watcher.Register(userRoot, true)
	if err != nil {
		return errors.Wrapf(err, "unable to natively register root %s", userRoot)
	}
	m.registrations.Add(key, userRoot, userRoot)
	return nil
}

// walkAndRegister implements the non-recursive fallback: register every
// directory under directory individually, attributing each to userRoot.
func (m *Manager) walkAndRegister(userRoot, directory string) error {
	var firstErr error
	visitor := treewalk.Visitor{OnError: func(path string, err error) {
		m.logger.Warn(errors.Wrapf(err, "unable to register subtree at %s", path))
	}}
	walkErr := visitor.Walk(directory,
		func(path string, _ os.FileInfo) {
			if err := m.RegisterDirectory(path, userRoot); err != nil && firstErr == nil {
				firstErr = err
			}
		},
		nil,
	)
	if walkErr != nil {
		return errors.Wrap(walkErr, "unable to walk tree for registration")
	}
	return firstErr
}

// RegisterDirectory registers a single directory (non-recursively) under
// userRoot. Per §4.6's CREATE handling, this is also what the Event
// Pipeline calls when a new directory appears and native recursion is off.
func (m *Manager) RegisterDirectory(directory, userRoot string) error {
	key, err := m.watcher.Register(directory, false)
	if err != nil {
		return errors.Wrapf(err, "unable to register directory %s", directory)
	}
	m.registrations.Add(key, directory, userRoot)
	return nil
}

// NativeRecursive reports whether the backend confirmed native recursive
// support on its first probe. Valid only after at least one RegisterRoot
// call.
func (m *Manager) NativeRecursive() bool {
	return m.nativeRecursive
}

// Invalidate drops the bookkeeping for key, per §4.5 step 3: "when the
// platform reports a registration key as invalid... drop both mappings."
func (m *Manager) Invalidate(key platform.RegistrationKey) {
	m.registrations.Remove(key)
}

// Done reports whether every registration has been dropped, at which point
// §4.5 step 3 says "the watcher terminates its loop."
func (m *Manager) Done() bool {
	return m.registrations.Count() == 0
}
