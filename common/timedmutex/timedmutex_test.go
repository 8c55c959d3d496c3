package timedmutex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnlockAfterTimeout(t *testing.T) {
	t.Parallel()
	tm := NewTimedMutex(time.Nanosecond)
	tm.LockForDuration()
	time.Sleep(200 * time.Millisecond)
	assert.False(t, tm.UnlockIfLocked(), "timer should already have unlocked it")
}

func TestUnlockBeforeTimeout(t *testing.T) {
	t.Parallel()
	tm := NewTimedMutex(20 * time.Millisecond)
	tm.LockForDuration()
	assert.True(t, tm.UnlockIfLocked())
}

func TestMultipleUnlocks(t *testing.T) {
	t.Parallel()
	tm := NewTimedMutex(10 * time.Second)
	tm.LockForDuration()
	assert.True(t, tm.UnlockIfLocked())
	assert.False(t, tm.UnlockIfLocked())
	assert.False(t, tm.UnlockIfLocked())
}

func TestRelockExtendsWindow(t *testing.T) {
	t.Parallel()
	tm := NewTimedMutex(50 * time.Millisecond)
	tm.LockForDuration()
	time.Sleep(30 * time.Millisecond)
	tm.LockForDuration() // debounced RECONNECT: restart the window
	time.Sleep(30 * time.Millisecond)
	assert.True(t, tm.UnlockIfLocked(), "second window should still be open")
}
