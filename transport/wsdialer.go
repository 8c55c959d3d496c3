package transport

import (
	"context"
	"encoding/binary"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// DefaultHandshakeTimeout bounds how long WSDialer waits for the websocket
// upgrade to complete.
const DefaultHandshakeTimeout = 10 * time.Second

// WSDialer is the default Dialer, opening one gorilla/websocket connection
// per Peer.
type WSDialer struct {
	// HandshakeTimeout overrides DefaultHandshakeTimeout when positive.
	HandshakeTimeout time.Duration
}

// Dial opens a websocket connection to peer and wraps it as a Conn.
func (d *WSDialer) Dial(ctx context.Context, peer Peer) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	dialer := &websocket.Dialer{HandshakeTimeout: timeout}
	u := url.URL{Scheme: "ws", Host: peer.String()}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: dial %s", peer)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

// WriteFrames packs frames (the empty-delimiter / metadata / optional
// payload set) into a single websocket binary message, each frame preceded
// by its length. Packing them atomically avoids interleaving one logical
// message's frames with another's on a connection shared by many in-flight
// sends.
func (c *wsConn) WriteFrames(frames [][]byte) error {
	var buf []byte
	var lenBuf [4]byte
	for _, f := range frames {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, f...)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return errors.Wrap(err, "transport: write frames")
	}
	return nil
}

// ReadFrames reads one packed websocket message and unpacks it back into
// the original frame set (two frames for a payload-less response such as
// choke, three for one carrying a payload).
func (c *wsConn) ReadFrames() ([][]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(err, "transport: read frames")
	}
	var frames [][]byte
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, errInvalidFrameSet
		}
		n := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < n {
			return nil, errInvalidFrameSet
		}
		frames = append(frames, data[:n])
		data = data[n:]
	}
	return frames, nil
}

// Close closes the underlying websocket connection.
func (c *wsConn) Close() error {
	return c.conn.Close()
}
