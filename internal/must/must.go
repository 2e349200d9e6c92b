// Package must provides small helpers for performing best-effort operations
// (typically resource cleanup) whose errors are worth logging but never
// worth propagating, adapted from the teacher's pkg/must.
package must

import (
	"io"

	"github.com/hashwatch/hashwatch/logging"
)

// Close closes c, logging (rather than returning) any failure against
// logging.RootLogger. It is used throughout the watcher for deferred
// cleanup of file descriptors opened transiently (e.g. to hash a file's
// contents), where a close failure cannot meaningfully be surfaced to a
// caller that has already received its result.
func Close(c io.Closer) {
	if err := c.Close(); err != nil {
		logging.RootLogger.Warn(err)
	}
}
