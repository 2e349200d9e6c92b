// Package contextutil provides small context.Context helpers shared by the
// public Watcher API, adapted from the teacher's pkg/contextutil.
package contextutil

import "context"

// IsCancelled reports whether ctx's Done channel is already closed.
func IsCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
