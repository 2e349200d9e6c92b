// +build !darwin !cgo

package fsevents

import (
	"time"

	"github.com/pkg/errors"

	"github.com/hashwatch/hashwatch/hash"
	"github.com/hashwatch/hashwatch/internal/platform"
	"github.com/hashwatch/hashwatch/logging"
)

// errUnsupportedPlatform is returned by Backend's Register and Unregister on
// platforms without a native FSEvents implementation, mirroring the teacher's
// watch_recursive_unsupported.go pattern for the analogous situation.
var errUnsupportedPlatform = errors.New("fsevents backend is only available on macOS with cgo enabled")

// Option exists so that callers compiling for non-macOS targets still
// type-check against the same New signature.
type Option func(*Backend)

// WithHasher is a no-op placeholder on unsupported platforms.
func WithHasher(hash.Hasher) Option { return func(*Backend) {} }

// WithLatency is a no-op placeholder on unsupported platforms.
func WithLatency(time.Duration) Option { return func(*Backend) {} }

// WithQueueSize is a no-op placeholder on unsupported platforms.
func WithQueueSize(int) Option { return func(*Backend) {} }

// WithFileLevelEvents is a no-op placeholder on unsupported platforms.
func WithFileLevelEvents(bool) Option { return func(*Backend) {} }

// Backend is a stub satisfying platform.Watcher: Register and Unregister
// fail with errUnsupportedPlatform, Events returns an already-closed
// channel, and Close succeeds.
type Backend struct{}

// New returns a stub Backend that cannot register anything.
func New(*logging.Logger, ...Option) *Backend {
	return &Backend{}
}

// Register implements platform.Watcher.Register.
func (*Backend) Register(string, bool) (platform.RegistrationKey, error) {
	return "", errUnsupportedPlatform
}

// Unregister implements platform.Watcher.Unregister.
func (*Backend) Unregister(platform.RegistrationKey) error {
	return errUnsupportedPlatform
}

// Events implements platform.Watcher.Events.
func (*Backend) Events() <-chan platform.Event {
	ch := make(chan platform.Event)
	close(ch)
	return ch
}

// Close implements platform.Watcher.Close.
func (*Backend) Close() error {
	return nil
}
