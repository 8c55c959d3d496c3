// Package timedmutex provides a mutex that unlocks itself after a fixed
// duration if nobody calls UnlockIfLocked first. The handle dispatch loop
// uses one per handle to space out RECONNECTs: a Reconnect made while the
// window is still locked blocks until it ends, then posts its own
// RECONNECT, so reconnects run at least one window apart.
package timedmutex

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimedMutex is safe for concurrent use.
type TimedMutex struct {
	locker   sync.Mutex
	timer    *time.Timer
	duration time.Duration
	locked   atomic.Bool
}

// NewTimedMutex builds a TimedMutex that, once locked, automatically
// unlocks after duration unless UnlockIfLocked runs first.
func NewTimedMutex(duration time.Duration) *TimedMutex {
	return &TimedMutex{duration: duration}
}

// LockForDuration locks the mutex, arming the auto-unlock timer. Calling it
// again while the window is open blocks until that window's timer releases
// the lock, then starts a fresh window, so the mutex stays held across
// back-to-back calls.
func (t *TimedMutex) LockForDuration() {
	t.locker.Lock()
	t.locked.Store(true)
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.duration, func() {
		if t.locked.CompareAndSwap(true, false) {
			t.locker.Unlock()
		}
	})
}

// UnlockIfLocked releases the mutex early if it is still held by the
// corresponding LockForDuration call, returning whether it did so.
func (t *TimedMutex) UnlockIfLocked() bool {
	if t.locked.CompareAndSwap(true, false) {
		t.locker.Unlock()
		return true
	}
	return false
}
