package transport

import "context"

// Conn is one established connection to a Peer. Frames follow the wire
// envelope convention: a send is an empty delimiter frame, a JSON metadata
// frame, and a payload frame; a receive is two (no payload, e.g. choke) or
// three frames in the same shape.
type Conn interface {
	WriteFrames(frames [][]byte) error
	ReadFrames() ([][]byte, error)
	Close() error
}

// Dialer is the pluggable collaborator that opens a Conn to a Peer. The
// default implementation is WSDialer; tests substitute an in-memory one.
type Dialer interface {
	Dial(ctx context.Context, peer Peer) (Conn, error)
}
