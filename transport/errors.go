package transport

import "github.com/pkg/errors"

var (
	errInvalidBufferSize  = errors.New("transport: buffer size must be positive")
	errSignatureCollision = errors.New("transport: signature already registered")
	errInvalidFrameSet    = errors.New("transport: malformed packed frame set")

	// ErrNoConnectedPeers is returned by SendAny when the socket currently
	// has no connected peer to send to.
	ErrNoConnectedPeers = errors.New("transport: no connected peers")

	// ErrSignatureNotMatched is returned by RequireMatchWithData when no
	// waiter is registered for the given signature.
	ErrSignatureNotMatched = errors.New("transport: signature not matched")
	// ErrSignatureTimeout is returned by MatchReturnResponses when the
	// expected number of responses does not arrive before ResponseMaxLimit.
	ErrSignatureTimeout = errors.New("transport: timed out waiting for response")
)
