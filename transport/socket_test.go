package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrasher-corp/lsd/message"
)

// fakeConn is an in-memory Conn: WriteFrames appends to outbound, and
// ReadFrames drains a channel a test pushes onto directly.
type fakeConn struct {
	mu       sync.Mutex
	outbound [][][]byte
	in       chan [][]byte
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan [][]byte, 8)}
}

func (c *fakeConn) WriteFrames(frames [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outbound = append(c.outbound, frames)
	return nil
}

func (c *fakeConn) ReadFrames() ([][]byte, error) {
	frames, ok := <-c.in
	if !ok {
		return nil, errInvalidFrameSet
	}
	return frames, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

type fakeDialer struct {
	conns map[Peer]*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, peer Peer) (Conn, error) {
	c, ok := d.conns[peer]
	if !ok {
		return nil, errInvalidFrameSet
	}
	return c, nil
}

func TestSocketAddPeerIsIdempotent(t *testing.T) {
	t.Parallel()
	peer := Peer{IP: "127.0.0.1", Port: 9000}
	conn := newFakeConn()
	d := &fakeDialer{conns: map[Peer]*fakeConn{peer: conn}}
	s := NewSocket(d)
	defer s.Close()

	require.NoError(t, s.AddPeer(context.Background(), peer))
	require.NoError(t, s.AddPeer(context.Background(), peer))
	assert.Len(t, s.Peers(), 1)
}

func TestSocketSendEncodesMessage(t *testing.T) {
	t.Parallel()
	peer := Peer{IP: "127.0.0.1", Port: 9000}
	conn := newFakeConn()
	d := &fakeDialer{conns: map[Peer]*fakeConn{peer: conn}}
	s := NewSocket(d)
	defer s.Close()
	require.NoError(t, s.AddPeer(context.Background(), peer))

	msg, err := message.New(message.Path{Service: "svc", Handle: "h"}, message.Policy{}, []byte("hi"))
	require.NoError(t, err)

	require.NoError(t, s.Send(peer, msg))
	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.outbound, 1)
	assert.Len(t, conn.outbound[0], 3)
}

func TestSocketSendUnknownPeer(t *testing.T) {
	t.Parallel()
	s := NewSocket(&fakeDialer{conns: map[Peer]*fakeConn{}})
	defer s.Close()
	msg, err := message.New(message.Path{Service: "svc", Handle: "h"}, message.Policy{}, []byte("hi"))
	require.NoError(t, err)

	err = s.Send(Peer{IP: "1.1.1.1", Port: 1}, msg)
	assert.Error(t, err)
}

func TestSocketDecodesInboundResponses(t *testing.T) {
	t.Parallel()
	peer := Peer{IP: "127.0.0.1", Port: 9000}
	conn := newFakeConn()
	d := &fakeDialer{conns: map[Peer]*fakeConn{peer: conn}}
	s := NewSocket(d)
	defer s.Close()
	require.NoError(t, s.AddPeer(context.Background(), peer))

	id, err := uuid.NewV4()
	require.NoError(t, err)
	env := []byte(`{"uuid":"` + id.String() + `","completed":true,"code":0,"message":""}`)
	conn.in <- [][]byte{{}, env}

	select {
	case got := <-s.Inbound():
		assert.Equal(t, peer, got.Peer)
		assert.Equal(t, id, got.Response.ID)
		assert.Equal(t, message.Choke, got.Response.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound response")
	}
}

func TestSocketBroadcastWritesToEveryPeer(t *testing.T) {
	t.Parallel()
	p1 := Peer{IP: "127.0.0.1", Port: 1}
	p2 := Peer{IP: "127.0.0.1", Port: 2}
	c1, c2 := newFakeConn(), newFakeConn()
	d := &fakeDialer{conns: map[Peer]*fakeConn{p1: c1, p2: c2}}
	s := NewSocket(d)
	defer s.Close()
	require.NoError(t, s.AddPeer(context.Background(), p1))
	require.NoError(t, s.AddPeer(context.Background(), p2))

	msg, err := message.New(message.Path{Service: "svc", Handle: "h"}, message.Policy{SendToAllHosts: true}, []byte("hi"))
	require.NoError(t, err)

	require.NoError(t, s.Broadcast(msg))
	c1.mu.Lock()
	assert.Len(t, c1.outbound, 1)
	c1.mu.Unlock()
	c2.mu.Lock()
	assert.Len(t, c2.outbound, 1)
	c2.mu.Unlock()
}
