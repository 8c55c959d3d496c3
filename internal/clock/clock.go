// Package clock provides Refresher, a periodic-tick subsystem. No other
// package in this module uses it: the discovery fetcher and collector and
// the handle's expiry sweep keep their own timing. It follows the manager idiom used
// throughout this codebase: an atomic started flag, nil-receiver-safe
// lifecycle methods, and sentinel errors callers can match with errors.Is.
package clock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNilSubsystem is returned by any method called through a nil
	// *Refresher.
	ErrNilSubsystem = errors.New("clock: refresher is nil")
	// ErrSubSystemAlreadyStarted is returned by Start once IsRunning.
	ErrSubSystemAlreadyStarted = errors.New("clock: refresher already started")
	// ErrSubSystemNotStarted is returned by Stop before Start.
	ErrSubSystemNotStarted = errors.New("clock: refresher not started")

	errNilTick = errors.New("clock: tick function is nil")
)

// Refresher runs tick on a fixed interval in its own goroutine until Stop is
// called. The zero value is not usable; construct with New.
type Refresher struct {
	interval time.Duration
	tick     func(now time.Time)

	started  int32
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New builds a Refresher that calls tick every interval once started. tick
// must be non-nil; interval must be positive.
func New(interval time.Duration, tick func(now time.Time)) (*Refresher, error) {
	if tick == nil {
		return nil, errNilTick
	}
	if interval <= 0 {
		return nil, errors.New("clock: interval must be positive")
	}
	return &Refresher{interval: interval, tick: tick}, nil
}

// IsRunning reports whether the Refresher is currently ticking. Safe to call
// on a nil receiver.
func (r *Refresher) IsRunning() bool {
	if r == nil {
		return false
	}
	return atomic.LoadInt32(&r.started) == 1
}

// Start launches the tick loop, firing tick immediately and then every
// interval thereafter.
func (r *Refresher) Start() error {
	if r == nil {
		return ErrNilSubsystem
	}
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return ErrSubSystemAlreadyStarted
	}
	r.shutdown = make(chan struct{})
	r.wg.Add(1)
	go r.run()
	return nil
}

// Stop halts the tick loop and blocks until the running goroutine exits.
func (r *Refresher) Stop() error {
	if r == nil {
		return ErrNilSubsystem
	}
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return ErrSubSystemNotStarted
	}
	close(r.shutdown)
	r.wg.Wait()
	return nil
}

func (r *Refresher) run() {
	defer r.wg.Done()
	r.tick(time.Now())
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-r.shutdown:
			return
		case now := <-t.C:
			r.tick(now)
		}
	}
}
