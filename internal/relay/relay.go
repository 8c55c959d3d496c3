// Package relay provides a small bounded-channel fan-out primitive: a
// producer wraps its output channel in a Relay so a slow or absent consumer
// drops the item with a typed error instead of stalling the producer. No
// other package in this module imports it.
package relay

import (
	"context"

	"github.com/pkg/errors"
)

// errChannelBufferFull is returned by Send when the relay's buffer has no
// room and the caller's context is not yet done.
var errChannelBufferFull = errors.New("relay: channel buffer is full")

// Item wraps a value sent through a Relay. It carries only the value.
type Item[T any] struct {
	Data T
}

// Relay is a single-producer, multi-consumer bounded channel. The zero
// value is not usable; construct with NewRelay.
type Relay[T any] struct {
	comm chan Item[T]
	C    <-chan Item[T]
}

// NewRelay builds a Relay with the given buffer size. It panics if buffer
// is not positive — an unbuffered relay can never satisfy the non-blocking
// Send contract.
func NewRelay[T any](buffer int) *Relay[T] {
	if buffer <= 0 {
		panic("relay: buffer size should be greater than 0")
	}
	comm := make(chan Item[T], buffer)
	return &Relay[T]{comm: comm, C: comm}
}

// Send attempts a non-blocking delivery of data. When the buffer is full it
// returns ctx.Err() if ctx is already done, else errChannelBufferFull. When
// the buffer has room and ctx is done, either outcome may happen.
func (r *Relay[T]) Send(ctx context.Context, data T) error {
	select {
	case r.comm <- Item[T]{Data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errChannelBufferFull
	}
}

// Read returns the receive side of the relay.
func (r *Relay[T]) Read() <-chan Item[T] {
	return r.C
}

// Close closes the underlying channel. Callers must not call Send after
// Close; doing so panics, matching a plain closed-channel send.
func (r *Relay[T]) Close() {
	close(r.comm)
}
