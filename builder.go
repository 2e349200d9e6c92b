package hashwatch

import (
	"github.com/hashwatch/hashwatch/hash"
	"github.com/hashwatch/hashwatch/internal/treewalk"
	"github.com/hashwatch/hashwatch/logging"
)

// config holds the resolved state of every builder-configurable option from
// §6's table, before a Watcher is constructed from it.
type config struct {
	paths []string

	listener Listener

	hasher    hash.Hasher // nil disables hashing, per §6 "file_hasher... null ≡ disable"
	hasherSet bool

	watchService WatchService
	visitor      TreeVisitor
	logger       *logging.Logger
}

// Option configures a Builder. Options are applied in the order passed to
// New, so a later option overrides an earlier one for the same setting.
type Option func(*config)

// WithPaths adds root directories to watch. Roots passed across multiple
// WithPaths calls accumulate; §6's default is an empty set.
func WithPaths(paths ...string) Option {
	return func(c *config) { c.paths = append(c.paths, paths...) }
}

// WithListener installs the event sink. §6's default is a no-op listener
// that accepts every event and never asks the loop to stop.
func WithListener(listener Listener) Option {
	return func(c *config) { c.listener = listener }
}

// WithFileHashing toggles whether the default hasher (Murmur3-128) is used
// for deduplication. Passing false is equivalent to WithFileHasher(nil):
// every observation is treated as changed, and (on the macOS backend) file
// -level events are forced on since a directory-granularity tick would
// otherwise look like a spurious modification on every callback. §6
// default: true.
func WithFileHashing(enabled bool) Option {
	return func(c *config) {
		if !enabled {
			c.hasher = nil
			c.hasherSet = true
		} else if c.hasherSet && c.hasher == nil {
			// Re-enabling after a prior WithFileHashing(false)/WithFileHasher(nil):
			// fall back to the package default rather than leaving hashing
			// disabled, since the caller's intent was "hash by default."
			c.hasher = hash.MurmurHasher{}
		}
	}
}

// WithFileHasher installs a custom Hasher. Passing nil disables hashing,
// exactly as WithFileHashing(false) does. §6 default: Murmur3-128.
func WithFileHasher(hasher hash.Hasher) Option {
	return func(c *config) {
		c.hasher = hasher
		c.hasherSet = true
	}
}

// WithWatchService installs a custom Platform Watcher, overriding the
// automatic macOS-FSEvents-or-kernel selection in §6's "native per OS"
// default. Mainly useful for tests.
func WithWatchService(service WatchService) Option {
	return func(c *config) { c.watchService = service }
}

// WithFileTreeVisitor installs a custom recursive walker, used by the Event
// Pipeline to seed a root's state and for its create-race re-walk (§4.6).
// The non-native-recursive registration fallback (§4.5) does not use it; it
// walks with its own Visitor. §6 default: the package's own
// continue-on-error Visitor.
func WithFileTreeVisitor(visitor TreeVisitor) Option {
	return func(c *config) { c.visitor = visitor }
}

// WithLogger installs a log sink. §6 default: no-op (a nil *logging.Logger
// discards everything it is given).
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// newConfig applies defaults and then every option, in order.
func newConfig(options []Option) *config {
	c := &config{
		listener: NoopListener{},
		hasher:   hash.MurmurHasher{},
		visitor:  treewalk.Default,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// resolveWatchService returns the configured watch service, or the default
// per-OS backend if none was supplied. On macOS it wires the resolved
// hasher (or, if hashing is disabled, a CounterHasher with file-level
// events forced on) into the fsevents backend per §4.4's "If hashing is
// disabled, substitute an ever-incrementing counter" rule.
func (c *config) resolveWatchService() (WatchService, error) {
	if c.watchService != nil {
		return c.watchService, nil
	}
	return defaultWatchService(c.logger, c.hasher)
}

// pipelineHasher returns the Hasher the Event Pipeline itself should use
// for kernel-backed registrations. The macOS backend always does its own
// hashing internally (it emits a populated Hash on every raw event), so
// this value is irrelevant to it; see pipeline.selfHashed.
func (c *config) pipelineHasher() hash.Hasher {
	return c.hasher
}
