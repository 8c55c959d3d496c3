// Package cache implements the per-handle message cache: a FIFO "new"
// queue of pending-send messages plus a uuid-keyed "in_flight" index,
// exactly as described for the handle dispatch loop. It is the only thing
// that mutates a Cached entry's sent/sent_at header; the dispatch loop
// reads and writes through this type instead of touching message.Cached
// fields directly from multiple goroutines.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/thrasher-corp/lsd/message"
)

// ErrEmpty is returned by PeekNew/PopNew when the new queue has nothing
// pending.
var ErrEmpty = errors.New("cache: new queue is empty")

// ErrUUIDMismatch is returned by PromoteToInFlight when the uuid given does
// not match the head of the new queue.
var ErrUUIDMismatch = errors.New("cache: uuid does not match head of new queue")

// ErrNotInFlight is returned by Erase and DemoteToNew when the uuid is not
// present in the in-flight index.
var ErrNotInFlight = errors.New("cache: uuid not in flight")

// Cache is the per-handle message cache. All methods are safe for
// concurrent use; the handle dispatch loop is the only intended caller but
// submit paths may query Len for diagnostics.
type Cache struct {
	mu       sync.Mutex
	newQueue *list.List // of *message.Cached
	inFlight map[uuid.UUID]*message.Cached
}

// New builds an empty Cache.
func New() *Cache {
	return &Cache{
		newQueue: list.New(),
		inFlight: make(map[uuid.UUID]*message.Cached),
	}
}

// Enqueue appends m to the tail of the new queue.
func (c *Cache) Enqueue(m *message.Cached) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newQueue.PushBack(m)
}

// AppendQueue splices an ordered batch onto the tail of the new queue,
// preserving q's order. Used when a handle is created and inherits
// messages parked at the Service while it did not yet exist.
func (c *Cache) AppendQueue(q []*message.Cached) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range q {
		c.newQueue.PushBack(m)
	}
}

// PeekNew returns the head of the new queue without removing it.
func (c *Cache) PeekNew() (*message.Cached, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	front := c.newQueue.Front()
	if front == nil {
		return nil, ErrEmpty
	}
	return front.Value.(*message.Cached), nil
}

// PopNew removes and returns the head of the new queue.
func (c *Cache) PopNew() (*message.Cached, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	front := c.newQueue.Front()
	if front == nil {
		return nil, ErrEmpty
	}
	c.newQueue.Remove(front)
	return front.Value.(*message.Cached), nil
}

// PromoteToInFlight removes the head of the new queue — which must carry
// id — and inserts it into the in-flight index.
func (c *Cache) PromoteToInFlight(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	front := c.newQueue.Front()
	if front == nil {
		return ErrEmpty
	}
	m := front.Value.(*message.Cached)
	if m.ID != id {
		return ErrUUIDMismatch
	}
	c.newQueue.Remove(front)
	c.inFlight[id] = m
	return nil
}

// DemoteToNew moves id from in_flight back onto the head of the new queue,
// clearing its sent marker. Used when a send timed out and must be retried.
func (c *Cache) DemoteToNew(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.inFlight[id]
	if !ok {
		return ErrNotInFlight
	}
	delete(c.inFlight, id)
	m.ResetSent()
	c.newQueue.PushFront(m)
	return nil
}

// Erase deletes id from the in-flight index. It returns ErrNotInFlight if
// absent — callers on the terminal-acknowledgment path treat that as fatal
// per the message cache's no-silent-loss guarantee.
func (c *Cache) Erase(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inFlight[id]; !ok {
		return ErrNotInFlight
	}
	delete(c.inFlight, id)
	return nil
}

// MakeAllNew drains in_flight onto the new queue in arbitrary order, used
// when a handle is torn down and its unacknowledged messages must be
// re-parked rather than dropped.
func (c *Cache) MakeAllNew() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, m := range c.inFlight {
		m.ResetSent()
		c.newQueue.PushBack(m)
		delete(c.inFlight, id)
	}
}

// Drain removes and returns every message currently held, new and
// in-flight, in new-queue order followed by in-flight in arbitrary order.
// Used when a handle is permanently destroyed and its messages must be
// re-parked at the Service.
func (c *Cache) Drain() []*message.Cached {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*message.Cached, 0, c.newQueue.Len()+len(c.inFlight))
	for el := c.newQueue.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*message.Cached))
	}
	c.newQueue.Init()
	for id, m := range c.inFlight {
		out = append(out, m)
		delete(c.inFlight, id)
	}
	return out
}

// SweepExpired removes every message, new or in-flight, whose policy
// deadline has passed as of now, returning their uuids so the caller can
// surface deadline-expired responses.
func (c *Cache) SweepExpired(now time.Time) []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []uuid.UUID
	var next *list.Element
	for el := c.newQueue.Front(); el != nil; el = next {
		next = el.Next()
		m := el.Value.(*message.Cached)
		if m.Policy.Expired(now) {
			expired = append(expired, m.ID)
			c.newQueue.Remove(el)
		}
	}
	for id, m := range c.inFlight {
		if m.Policy.Expired(now) {
			expired = append(expired, id)
			delete(c.inFlight, id)
		}
	}
	return expired
}

// SweepTimedOut returns every in-flight message whose Policy.Timeout has
// elapsed since it was sent, without removing it. The caller decides, per
// message, whether to demote it back to the new queue (via DemoteToNew) or
// give up on it once its retry budget is spent; a zero Timeout means the
// message never times out independently of its deadline.
func (c *Cache) SweepTimedOut(now time.Time) []*message.Cached {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*message.Cached
	for _, m := range c.inFlight {
		if m.Policy.Timeout <= 0 || m.SentAt.IsZero() {
			continue
		}
		if now.Sub(m.SentAt) >= m.Policy.Timeout {
			out = append(out, m)
		}
	}
	return out
}

// NewLen returns the number of messages currently pending send.
func (c *Cache) NewLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newQueue.Len()
}

// InFlightLen returns the number of messages awaiting a peer reply.
func (c *Cache) InFlightLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}
