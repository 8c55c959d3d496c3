package message

import (
	"time"

	"github.com/gofrs/uuid"

	"github.com/thrasher-corp/lsd/internal/container"
)

// ResponseKind classifies a Response. Every uuid ever submitted sees
// exactly one terminal response (Choke, PeerError, or DeadlineExpired);
// Chunk may be delivered any number of times before the terminal one.
type ResponseKind int

const (
	// Chunk is a non-terminal partial payload; the in-flight entry survives it.
	Chunk ResponseKind = iota
	// Choke is the terminal success response.
	Choke
	// PeerError is a terminal response carrying a peer-reported error code.
	PeerError
	// DeadlineExpired is a terminal response synthesized locally when a
	// message's policy deadline passes before the peer ever replies.
	DeadlineExpired
)

func (k ResponseKind) String() string {
	switch k {
	case Chunk:
		return "chunk"
	case Choke:
		return "choke"
	case PeerError:
		return "peer-error"
	case DeadlineExpired:
		return "deadline-expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether this kind ends a uuid's lifecycle.
func (k ResponseKind) Terminal() bool {
	return k != Chunk
}

// Response is delivered to the user callback registered for a path. For
// Chunk and Choke, Payload carries the peer's bytes; for PeerError,
// ErrorCode/ErrorMessage carry the peer's reported failure; for
// DeadlineExpired both are empty.
type Response struct {
	ID           uuid.UUID
	Path         Path
	Kind         ResponseKind
	Payload      container.Container
	ErrorCode    int
	ErrorMessage string
	ReceivedAt   time.Time
}
