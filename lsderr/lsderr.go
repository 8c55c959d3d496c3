// Package lsderr defines the classified error kinds the Client Façade
// returns from a failed submit, kept separate from the message package so
// both it and the client package can depend on it without a cycle.
package lsderr

import "fmt"

// Kind classifies a submit failure. Kind is always loggable and never
// masks another kind: a caller can switch on it directly.
type Kind int

const (
	// Unknown is an unclassified failure.
	Unknown Kind = iota
	// MessageDataTooBig means the payload exceeds the 2 GiB ceiling.
	MessageDataTooBig
	// MessageCacheOverCapacity means the submit would push cache_bytes
	// past max_message_cache_size.
	MessageCacheOverCapacity
	// OverHDDCapacity means the persistent cache (when configured) is out
	// of disk room.
	OverHDDCapacity
	// UnknownService means the submit path names a service absent from
	// configuration.
	UnknownService
)

func (k Kind) String() string {
	switch k {
	case MessageDataTooBig:
		return "MESSAGE_DATA_TOO_BIG"
	case MessageCacheOverCapacity:
		return "MESSAGE_CACHE_OVER_CAPACITY"
	case OverHDDCapacity:
		return "OVER_HDD_CAPACITY"
	case UnknownService:
		return "UNKNOWN_SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified, user-facing submit failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds a classified Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Is supports errors.Is(err, lsderr.New(kind, "")) by comparing Kind only,
// so callers can match on classification without caring about the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
