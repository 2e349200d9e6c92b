package hashwatch

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/hashwatch/hashwatch/internal/contextutil"
	"github.com/hashwatch/hashwatch/internal/pipeline"
)

// watcherState is the lifecycle of a Watcher: a fresh Watcher is idle until
// its first Watch/WatchAsync call, after which it is running until closed.
type watcherState int

const (
	stateIdle watcherState = iota
	stateRunning
	stateClosed
)

// Watcher is the client-facing handle onto a registered set of root
// directories. Construct one with New, then call Watch (blocking) or
// WatchAsync (non-blocking) exactly once.
type Watcher struct {
	pipeline *pipeline.Pipeline
	roots    []string
	listener Listener

	mu    sync.Mutex
	state watcherState
}

// New constructs a Watcher from the given options but does not begin
// watching; registration and the event loop only start once Watch or
// WatchAsync is called, so that startup failures can be reported to the
// caller per §7's "Startup failures... are returned to the caller on
// watch, or completed exceptionally on watch_async."
func New(options ...Option) (*Watcher, error) {
	cfg := newConfig(options)

	service, err := cfg.resolveWatchService()
	if err != nil {
		return nil, errors.Wrap(err, "unable to construct platform watch service")
	}

	p := pipeline.New(service, cfg.pipelineHasher(), cfg.visitor, cfg.logger)

	return &Watcher{
		pipeline: p,
		roots:    append([]string(nil), cfg.paths...),
		listener: cfg.listener,
	}, nil
}

// Watch registers every configured root and then blocks, driving the Event
// Pipeline's loop until the listener's IsWatching returns false or every
// registration is invalidated. It returns ErrIllegalState if the Watcher
// has already been closed (§7, §8 P7), and a separate "already running"
// error if Watch/WatchAsync has already been called.
func (w *Watcher) Watch() error {
	if err := w.begin(); err != nil {
		return err
	}
	return w.run()
}

// WatchAsync begins watching on a new goroutine and returns immediately
// with a handle whose Wait method blocks until the loop exits. ctx, if
// cancelled, stops the loop (in addition to the listener's own IsWatching
// predicate) on its next idle poll. Per §8 P7, calling WatchAsync on an
// already-closed Watcher does not fail: the returned handle's Wait returns
// nil immediately, since there is nothing left to do.
func (w *Watcher) WatchAsync(ctx context.Context) *AsyncHandle {
	handle := &AsyncHandle{done: make(chan struct{})}

	if err := w.begin(); err != nil {
		if errors.Is(err, ErrIllegalState) {
			close(handle.done)
			return handle
		}
		handle.err = err
		close(handle.done)
		return handle
	}

	if ctx != nil {
		w.listener = &contextListener{Listener: w.listener, ctx: ctx}
	}

	go func() {
		defer close(handle.done)
		handle.err = w.run()
	}()

	return handle
}

// begin validates and transitions the Watcher's state machine; it is
// shared by Watch and WatchAsync so that "already closed" and "already
// started" are detected identically by both entry points.
func (w *Watcher) begin() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == stateClosed {
		return ErrIllegalState
	}
	if w.state == stateRunning {
		return errors.New("hashwatch: watcher is already running")
	}
	w.state = stateRunning
	return nil
}

// run registers every configured root and then drives the pipeline loop
// to completion.
func (w *Watcher) run() error {
	for _, root := range w.roots {
		if err := w.pipeline.RegisterRoot(root); err != nil {
			return errors.Wrapf(err, "unable to register root %s", root)
		}
	}
	w.pipeline.Run(w.listener)
	return nil
}

// Close releases the underlying platform watcher and any goroutines it
// owns. It is safe to call from any thread and is idempotent (§5): a
// running Watch/WatchAsync loop observes its platform watcher's event
// channel close and exits on its next iteration.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.state == stateClosed {
		w.mu.Unlock()
		return nil
	}
	w.state = stateClosed
	w.mu.Unlock()
	return w.pipeline.Close()
}

// PathHashes returns the read-only view of the watcher's internal
// path-to-hash map (§4.3).
func (w *Watcher) PathHashes() PathHashes {
	return w.pipeline.PathHashes()
}

// AsyncHandle is the "completion handle" WatchAsync returns (§2's "watch
// (blocking) or watch_async (returns a completion handle)").
type AsyncHandle struct {
	done chan struct{}
	err  error
}

// Wait blocks until the asynchronous watch loop exits and returns whatever
// error it completed with (nil on a clean Close).
func (h *AsyncHandle) Wait() error {
	<-h.done
	return h.err
}

// Done returns a channel that is closed once the asynchronous watch loop
// has exited, for callers that want to select on completion alongside
// other events instead of blocking in Wait.
func (h *AsyncHandle) Done() <-chan struct{} {
	return h.done
}

// contextListener wraps a Listener so that IsWatching also honors a
// context.Context's cancellation, letting WatchAsync(ctx) callers stop the
// loop without needing their Listener implementation to know about ctx.
type contextListener struct {
	Listener
	ctx context.Context
}

// IsWatching implements Listener.IsWatching.
func (c *contextListener) IsWatching() bool {
	return !contextutil.IsCancelled(c.ctx) && c.Listener.IsWatching()
}
