// Package changeset implements the Change-Set Aggregator (§4.7): a
// pipeline.Listener that normalizes a raw DirectoryChangeEvent stream into
// per-root created/modified/deleted sets, with an idle-timer-driven flush.
//
// There is no direct teacher analog for this normalization state machine
// (mutagen folds filesystem state into full snapshots rather than
// per-path created/modified/deleted sets); the idle-flush timer is grounded
// on pkg/timeutil.StopAndDrainTimer's cancel-and-reschedule pattern
// (internal/timeutil, adapted from it), which is the same primitive the
// teacher uses for its own debounced rescans.
package changeset

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/hashwatch/hashwatch/hash"
	"github.com/hashwatch/hashwatch/internal/pipeline"
	"github.com/hashwatch/hashwatch/internal/timeutil"
	"github.com/hashwatch/hashwatch/logging"
)

// ErrOverflow is returned by Take when an OVERFLOW event has been observed
// since the last consumption; when the idle timer fires in that state, the
// error is logged and the flush callback is not invoked. Per §4.8,
// the aggregator "cannot normalize lost information" and treats overflow as
// fatal for the batch.
var ErrOverflow = errors.New("changeset: events were discarded upstream; batch is incomplete")

// entryState is a path's position in the per-path state machine from §4.7.
type entryState int

const (
	stateCreated entryState = iota
	stateModified
	stateDeleted
)

// Entry is a single normalized change, keyed by path in ChangeSet.
type Entry struct {
	IsDirectory bool
	Hash        *hash.Hash
}

// ChangeSet is the per-root, normalized (created, modified, deleted) triple
// from §3's Entities table.
type ChangeSet struct {
	Created  map[string]Entry
	Modified map[string]Entry
	Deleted  map[string]Entry
}

func newChangeSet() ChangeSet {
	return ChangeSet{
		Created:  make(map[string]Entry),
		Modified: make(map[string]Entry),
		Deleted:  make(map[string]Entry),
	}
}

// Empty reports whether the change set has no entries in any category.
func (c ChangeSet) Empty() bool {
	return len(c.Created) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// FlushFunc is invoked when the idle timer fires, with the ChangeSet
// accumulated for each root that has pending changes and the number of
// events observed since the last Take that did not return ErrOverflow.
type FlushFunc func(perRoot map[string]ChangeSet, totalEventCount int)

// Aggregator implements pipeline.Listener, folding events into per-root
// ChangeSets and optionally driving an idle-timeout flush.
type Aggregator struct {
	logger *logging.Logger
	onFlush FlushFunc

	mu        sync.Mutex
	state     map[string]map[string]entryState // root -> path -> state
	sets      map[string]ChangeSet             // root -> accumulated ChangeSet
	overflown bool
	eventCount int

	idleTimeout time.Duration
	timer       *time.Timer
	watching    bool
}

// New constructs an Aggregator. If idleTimeout is zero, no idle flush timer
// is scheduled and Take must be called explicitly by the client.
func New(idleTimeout time.Duration, onFlush FlushFunc, logger *logging.Logger) *Aggregator {
	return &Aggregator{
		logger:      logger,
		onFlush:     onFlush,
		state:       make(map[string]map[string]entryState),
		sets:        make(map[string]ChangeSet),
		idleTimeout: idleTimeout,
		watching:    true,
	}
}

// OnEvent implements pipeline.Listener, applying the §4.7 state transition
// table for CREATE/MODIFY/DELETE and passing OVERFLOW straight through to
// the overflow flag.
func (a *Aggregator) OnEvent(event pipeline.DirectoryChangeEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.eventCount++

	if event.Kind == pipeline.Overflow {
		a.overflown = true
		return nil
	}

	root := event.Root
	states, ok := a.state[root]
	if !ok {
		states = make(map[string]entryState)
		a.state[root] = states
		a.sets[root] = newChangeSet()
	}
	set := a.sets[root]

	current, present := states[event.Path]
	entry := Entry{IsDirectory: event.IsDirectory, Hash: event.Hash}

	switch event.Kind {
	case pipeline.Create:
		switch {
		case !present, current == stateDeleted:
			// (absent) -> created; deleted -> modified (re-created within
			// one window is a modification of the net-visible state).
			if present && current == stateDeleted {
				delete(set.Deleted, event.Path)
				set.Modified[event.Path] = entry
				states[event.Path] = stateModified
			} else {
				set.Created[event.Path] = entry
				states[event.Path] = stateCreated
			}
		case current == stateCreated:
			set.Created[event.Path] = entry // update hash
		case current == stateModified:
			set.Modified[event.Path] = entry // update hash
		}

	case pipeline.Modify:
		switch {
		case !present:
			set.Modified[event.Path] = entry
			states[event.Path] = stateModified
		case current == stateCreated:
			set.Created[event.Path] = entry // stays created, update hash
		case current == stateModified:
			set.Modified[event.Path] = entry
		case current == stateDeleted:
			// Illegal per §4.7's table; ignore.
		}

	case pipeline.Delete:
		switch {
		case !present:
			set.Deleted[event.Path] = entry
			states[event.Path] = stateDeleted
		case current == stateCreated:
			delete(set.Created, event.Path)
			delete(states, event.Path)
		case current == stateModified:
			delete(set.Modified, event.Path)
			set.Deleted[event.Path] = entry
			states[event.Path] = stateDeleted
		case current == stateDeleted:
			set.Deleted[event.Path] = entry
		}
	}

	a.sets[root] = set
	a.resetIdleTimer()
	return nil
}

// OnException implements pipeline.Listener; the default behavior is to log
// and continue, matching §6's "on_exception... default logs and continues."
func (a *Aggregator) OnException(cause error) {
	a.logger.Warn(errors.Wrap(cause, "change-set aggregator observed an exception"))
}

// OnIdle implements pipeline.Listener. §4.7's idle flush is driven by the
// timer scheduled in resetIdleTimer, not directly by this callback, but
// on_idle is still the signal that a timer should exist at all if one
// hasn't been started yet (e.g. the very first idle period with zero
// events).
func (a *Aggregator) OnIdle(count int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.idleTimeout > 0 && a.timer == nil {
		a.armIdleTimer()
	}
}

// IsWatching implements pipeline.Listener.
func (a *Aggregator) IsWatching() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.watching
}

// Stop marks the aggregator as no longer watching, so the owning Pipeline's
// loop exits on its next IsWatching() poll.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watching = false
	if a.timer != nil {
		timeutil.StopAndDrainTimer(a.timer)
	}
}

// resetIdleTimer implements the "cancel-and-reschedule atomically" pattern
// from §9: any event before the timer fires cancels and reschedules it, so
// only the last-scheduled firing ever runs.
func (a *Aggregator) resetIdleTimer() {
	if a.idleTimeout <= 0 {
		return
	}
	if a.timer == nil {
		a.armIdleTimer()
		return
	}
	timeutil.StopAndDrainTimer(a.timer)
	a.timer.Reset(a.idleTimeout)
}

func (a *Aggregator) armIdleTimer() {
	a.timer = time.AfterFunc(a.idleTimeout, a.fire)
}

func (a *Aggregator) fire() {
	perRoot, total, err := a.Take()
	if err != nil {
		a.logger.Warn(err)
		return
	}
	if a.onFlush == nil || (total == 0 && len(perRoot) == 0) {
		return
	}
	for root, set := range perRoot {
		a.logger.Debugf("flushing %s changes for root %s", summarize(set), root)
	}
	a.onFlush(perRoot, total)
}

// Take implements §4.7's "take() returns the accumulated map and resets the
// builder atomically." It returns ErrOverflow if an OVERFLOW event has been
// observed since the last Take, per §4.8, and then clears the overflow flag
// and discards the accumulated change sets: the caller must decide how to
// recover (typically: perform a full re-scan).
func (a *Aggregator) Take() (map[string]ChangeSet, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.overflown {
		a.overflown = false
		a.state = make(map[string]map[string]entryState)
		a.sets = make(map[string]ChangeSet)
		return nil, a.eventCount, ErrOverflow
	}

	result := make(map[string]ChangeSet, len(a.sets))
	for root, set := range a.sets {
		if set.Empty() {
			continue
		}
		result[root] = set
	}
	count := a.eventCount

	a.state = make(map[string]map[string]entryState)
	a.sets = make(map[string]ChangeSet)
	a.eventCount = 0

	return result, count, nil
}

// summarize renders a human-readable size of a change set, useful for debug
// logging large batches without dumping every path.
func summarize(set ChangeSet) string {
	return humanize.Comma(int64(len(set.Created) + len(set.Modified) + len(set.Deleted)))
}
