// Package pool keeps reusable timers for the bus controller's reply window.
package pool

import (
	"sync"
	"time"
)

var timerPool = sync.Pool{
	New: func() any {
		t := time.NewTimer(time.Hour)
		stopTimer(t)

		return t
	},
}

// GetTimer returns a stopped-and-drained pooled timer re-armed for d.
//
// Return the timer with PutTimer once the reply window is over.
func GetTimer(d time.Duration) *time.Timer {
	t, _ := timerPool.Get().(*time.Timer)
	stopTimer(t)
	t.Reset(d)

	return t
}

// PutTimer returns t to the pool. t must not be used afterwards.
func PutTimer(t *time.Timer) {
	stopTimer(t)
	timerPool.Put(t)
}

// stopTimer stops t and discards a pending tick, so a later Reset never
// delivers a stale expiry.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
