package hashwatch

import "github.com/pkg/errors"

// ErrIllegalState is returned by Watch when called on a Watcher that has
// already been closed, per §7's "Closed watcher reused: watch raises
// IllegalState."
var ErrIllegalState = errors.New("hashwatch: watcher is closed")
