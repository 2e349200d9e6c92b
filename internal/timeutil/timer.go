// Package timeutil provides small timer helpers shared by components that
// implement cancel-and-reschedule single-shot timers (the idle-flush timer
// in changeset is the only current user).
package timeutil

import "time"

// StopAndDrainTimer stops a timer and performs a non-blocking drain on its
// channel, so that a timer can be stopped and safely reused (via Reset)
// regardless of whether it had already fired.
func StopAndDrainTimer(timer *time.Timer) {
	timer.Stop()
	select {
	case <-timer.C:
	default:
	}
}
