package hashwatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashwatch/hashwatch/internal/platform"
)

// fakeService is a minimal WatchService whose Register always succeeds
// non-recursively, letting these tests drive Watcher.Watch/WatchAsync
// without a real kernel or FSEvents backend.
type fakeService struct {
	mu     sync.Mutex
	events chan platform.Event
	closed bool
}

func newFakeService() *fakeService {
	return &fakeService{events: make(chan platform.Event, 8)}
}

func (f *fakeService) Register(directory string, recursive bool) (platform.RegistrationKey, error) {
	if recursive {
		return "", platform.ErrUnsupported
	}
	return platform.RegistrationKey(directory), nil
}

func (f *fakeService) Unregister(platform.RegistrationKey) error { return nil }

func (f *fakeService) Events() <-chan platform.Event { return f.events }

func (f *fakeService) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.events)
	return nil
}

// collectingListener records every event delivered while watching.
type collectingListener struct {
	mu     sync.Mutex
	events []DirectoryChangeEvent
}

func (c *collectingListener) OnEvent(e DirectoryChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}
func (c *collectingListener) OnException(error) {}
func (c *collectingListener) OnIdle(int)        {}
func (c *collectingListener) IsWatching() bool  { return true }

func (c *collectingListener) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestWatchReturnsIllegalStateAfterClose(t *testing.T) {
	root := t.TempDir()
	w, err := New(WithPaths(root), WithWatchService(newFakeService()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Watch(); err != ErrIllegalState {
		t.Fatalf("Watch after Close: got %v, want ErrIllegalState", err)
	}
	// Close is idempotent.
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestWatchAsyncAfterCloseReturnsNormally(t *testing.T) {
	root := t.TempDir()
	w, err := New(WithPaths(root), WithWatchService(newFakeService()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	handle := w.WatchAsync(context.Background())
	if err := handle.Wait(); err != nil {
		t.Fatalf("Wait after Close: got %v, want nil", err)
	}
}

func TestWatchDeliversEventsAndExitsOnClose(t *testing.T) {
	root := t.TempDir()
	fw := newFakeService()
	listener := &collectingListener{}
	w, err := New(WithPaths(root), WithWatchService(fw), WithListener(listener), WithFileHashing(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Watch() }()

	fw.events <- platform.Event{Key: platform.RegistrationKey(root), Kind: platform.Create, Name: root + "/a.txt"}

	deadline := time.After(2 * time.Second)
	for listener.count() < 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for event delivery")
		case <-time.After(time.Millisecond):
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after Close")
	}
}

func TestWatchAsyncContextCancellationStopsLoop(t *testing.T) {
	root := t.TempDir()
	fw := newFakeService()
	w, err := New(WithPaths(root), WithWatchService(fw))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := w.WatchAsync(ctx)

	stop := make(chan struct{})
	go func() {
		// Per §5, cancellation is only observed between blocking reads of
		// the event channel, not while one is in flight; keep feeding the
		// loop until it notices ctx is done so this test isn't racing a
		// single in-flight read.
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case fw.events <- platform.Event{Key: platform.RegistrationKey(root), Kind: platform.Create, Name: root + "/a.txt"}:
				time.Sleep(time.Millisecond)
			}
			if i == 0 {
				cancel()
			}
		}
	}()
	defer close(stop)

	select {
	case err := <-waitChan(handle):
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WatchAsync did not exit after context cancellation")
	}
}

func waitChan(h *AsyncHandle) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- h.Wait() }()
	return ch
}
