// Package message defines the addressed envelope that flows from the
// Client Façade down through a Service into a Handle's message cache, and
// the Response that flows back. Everything here is a value type; the
// mutable bookkeeping (sent flag, sent_at) lives on Cached, the only part
// of a Message the handle dispatch loop rewrites in place.
package message

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/thrasher-corp/lsd/internal/container"
)

// MaxPayloadSize is the largest payload a message may carry. A submit
// exceeding it fails with ErrDataTooBig before the message ever reaches a
// Service.
const MaxPayloadSize = container.MaxSize

// fixedOverhead approximates the bookkeeping cost of holding one cached
// message, folded into ContainerSize so capacity accounting reflects more
// than raw payload bytes.
const fixedOverhead = 64

// ErrDataTooBig is returned by New when payload exceeds MaxPayloadSize.
var ErrDataTooBig = errors.New("message: payload exceeds maximum size")

// Path addresses a message to a handle within a service.
type Path struct {
	Service string
	Handle  string
}

// String renders the path as "service/handle", used in log lines.
func (p Path) String() string {
	return p.Service + "/" + p.Handle
}

// Policy carries the per-message delivery options. Only Deadline and
// Timeout influence the dispatch algorithm; the remaining fields are
// propagated verbatim into the peer-facing envelope.
type Policy struct {
	Urgent            bool
	Mailboxed         bool
	SendToAllHosts    bool
	Timeout           time.Duration
	Deadline          time.Time
	MaxTimeoutRetries int
}

// Expired reports whether the policy's deadline has passed as of now. A
// zero Deadline never expires.
func (p Policy) Expired(now time.Time) bool {
	return !p.Deadline.IsZero() && now.After(p.Deadline)
}

// Message is the immutable payload a caller submits. ID is minted by New,
// never by the caller.
type Message struct {
	ID      uuid.UUID
	Path    Path
	Policy  Policy
	Payload container.Container
}

// New mints a Message with a fresh v4 uuid, rejecting payloads larger than
// MaxPayloadSize.
func New(path Path, policy Policy, payload []byte) (Message, error) {
	c, err := container.New(payload)
	if err != nil {
		return Message{}, errors.Wrap(ErrDataTooBig, err.Error())
	}
	id, err := uuid.NewV4()
	if err != nil {
		return Message{}, errors.Wrap(err, "message: generating uuid")
	}
	return Message{ID: id, Path: path, Policy: policy, Payload: c}, nil
}

// ContainerSize is the number of bytes this message accounts for against
// global cache capacity: payload + path + uuid + fixed overhead.
func (m Message) ContainerSize() int {
	return m.Payload.Len() + len(m.Path.Service) + len(m.Path.Handle) + len(m.ID.String()) + fixedOverhead
}

// Cached wraps a Message with the mutable header the message cache and
// handle dispatch loop rewrite in place: whether it has been handed to the
// transport, and when.
type Cached struct {
	Message
	Sent   bool
	SentAt time.Time

	// RetriesLeft counts down from Policy.MaxTimeoutRetries each time a
	// send times out and the message is requeued. It reaching zero means
	// the next timeout drops the message instead of retrying it again.
	RetriesLeft int
}

// NewCached wraps m as a freshly enqueued, unsent cache entry.
func NewCached(m Message) *Cached {
	return &Cached{Message: m, RetriesLeft: m.Policy.MaxTimeoutRetries}
}

// ExhaustRetry uses up one retry and returns true if RetriesLeft is
// positive; otherwise it returns false and leaves RetriesLeft unchanged.
func (c *Cached) ExhaustRetry() bool {
	if c.RetriesLeft <= 0 {
		return false
	}
	c.RetriesLeft--
	return true
}

// MarkSent records that the transport accepted the frame for this message.
func (c *Cached) MarkSent(at time.Time) {
	c.Sent = true
	c.SentAt = at
}

// ResetSent clears the sent marker, used when demoting an in-flight entry
// back onto the new queue.
func (c *Cached) ResetSent() {
	c.Sent = false
	c.SentAt = time.Time{}
}
