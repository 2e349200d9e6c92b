package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/hashwatch/hashwatch/internal/pathstate"
	"github.com/hashwatch/hashwatch/internal/platform"
	"github.com/hashwatch/hashwatch/logging"
)

// fakeWatcher is a minimal platform.Watcher whose Register behavior is
// scripted per test, letting these tests exercise the probe-once and
// fallback logic without any real native backend.
type fakeWatcher struct {
	supportsRecursive bool
	registerCalls     []registerCall
	issuedKeys        []platform.RegistrationKey
	nextKey           int
}

type registerCall struct {
	directory string
	recursive bool
}

func (f *fakeWatcher) Register(directory string, recursive bool) (platform.RegistrationKey, error) {
	f.registerCalls = append(f.registerCalls, registerCall{directory, recursive})
	if recursive && !f.supportsRecursive {
		return "", platform.ErrUnsupported
	}
	f.nextKey++
	key := platform.RegistrationKey(filepath.Join("key", string(rune('a'+f.nextKey))))
	f.issuedKeys = append(f.issuedKeys, key)
	return key, nil
}

func (f *fakeWatcher) Unregister(platform.RegistrationKey) error { return nil }
func (f *fakeWatcher) Events() <-chan platform.Event             { return nil }
func (f *fakeWatcher) Close() error                              { return nil }

func TestRegisterRootNativeRecursiveUsesSingleRegistration(t *testing.T) {
	fw := &fakeWatcher{supportsRecursive: true}
	regs := pathstate.NewRegistrations()
	m := New(fw, regs, logging.RootLogger)

	if err := m.RegisterRoot("/root"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.NativeRecursive() {
		t.Fatal("expected native recursive to be detected")
	}
	if regs.Count() != 1 {
		t.Fatalf("expected exactly one registration, got %d", regs.Count())
	}
	if len(fw.registerCalls) != 1 {
		t.Fatalf("expected exactly one Register call, got %d", len(fw.registerCalls))
	}
}

func TestRegisterRootFallsBackToWalk(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub", "nested"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	fw := &fakeWatcher{supportsRecursive: false}
	regs := pathstate.NewRegistrations()
	m := New(fw, regs, logging.RootLogger)

	if err := m.RegisterRoot(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.NativeRecursive() {
		t.Fatal("expected native recursive to be false")
	}
	// Root + sub + sub/nested = 3 directories, each individually registered.
	if regs.Count() != 3 {
		t.Fatalf("expected 3 registrations (root, sub, nested), got %d", regs.Count())
	}
}

func TestInvalidateDropsRegistration(t *testing.T) {
	fw := &fakeWatcher{supportsRecursive: true}
	regs := pathstate.NewRegistrations()
	m := New(fw, regs, logging.RootLogger)

	if err := m.RegisterRoot("/root"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Done() {
		t.Fatal("expected at least one live registration")
	}

	m.Invalidate(fw.issuedKeys[0])
	if !m.Done() {
		t.Fatal("expected Done() once the only registration is invalidated")
	}
}

func TestProbeFailureForUnrelatedReasonPropagates(t *testing.T) {
	fw := &erroringWatcher{err: errors.New("permission denied")}
	regs := pathstate.NewRegistrations()
	m := New(fw, regs, logging.RootLogger)

	if err := m.RegisterRoot("/root"); err == nil {
		t.Fatal("expected an error to propagate")
	}
}

type erroringWatcher struct{ err error }

func (e *erroringWatcher) Register(string, bool) (platform.RegistrationKey, error) {
	return "", e.err
}
func (e *erroringWatcher) Unregister(platform.RegistrationKey) error { return nil }
func (e *erroringWatcher) Events() <-chan platform.Event            { return nil }
func (e *erroringWatcher) Close() error                             { return nil }
