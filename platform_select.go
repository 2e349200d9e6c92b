package hashwatch

import (
	"runtime"

	"github.com/hashwatch/hashwatch/hash"
	"github.com/hashwatch/hashwatch/internal/platform/fsevents"
	"github.com/hashwatch/hashwatch/internal/platform/kernel"
	"github.com/hashwatch/hashwatch/logging"
)

// defaultWatchService selects the native backend per §6's "Platform
// -specific behavior": macOS always uses the FSEvents backend
// unconditionally (§6: "the generic polling-based backend is unusable");
// every other platform uses the fsnotify-backed kernel.Backend, which
// reports platform.ErrUnsupported for recursive registration so that
// internal/registry falls back to walking and per-directory registration
// (Linux's native behavior, and Windows too, since this module does not
// special-case fsnotify's Windows ReadDirectoryChangesW recursive support;
// see DESIGN.md).
func defaultWatchService(logger *logging.Logger, hasher hash.Hasher) (WatchService, error) {
	if runtime.GOOS == "darwin" {
		if hasher != nil {
			return fsevents.New(logger, fsevents.WithHasher(hasher)), nil
		}
		// §4.4: hashing disabled means every tick must look like a change,
		// which requires both the ever-incrementing counter hasher and
		// file-level events (otherwise a bare directory tick looks like a
		// spurious modification of the directory on every callback).
		return fsevents.New(logger,
			fsevents.WithHasher(hash.NewCounterHasher()),
			fsevents.WithFileLevelEvents(true),
		), nil
	}
	return kernel.New(logger)
}
