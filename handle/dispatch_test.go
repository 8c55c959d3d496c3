package handle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thrasher-corp/lsd/message"
	"github.com/thrasher-corp/lsd/transport"
)

type fakeConn struct {
	mu      sync.Mutex
	in      chan [][]byte
	written chan [][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan [][]byte, 8), written: make(chan [][]byte, 8)}
}

func (c *fakeConn) WriteFrames(frames [][]byte) error {
	c.written <- frames
	return nil
}

func (c *fakeConn) ReadFrames() ([][]byte, error) {
	frames, ok := <-c.in
	if !ok {
		return nil, transport.ErrSignatureTimeout
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
	conn *fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ transport.Peer) (transport.Conn, error) {
	return d.conn, nil
}

func TestDispatchNilReceiverSafety(t *testing.T) {
	t.Parallel()
	var d *Dispatch
	assert.ErrorIs(t, d.Start(), ErrNilDispatch)
	assert.ErrorIs(t, d.Connect(nil), ErrNilDispatch)
	assert.ErrorIs(t, d.Reconnect(nil), ErrNilDispatch)
	assert.ErrorIs(t, d.ConnectNewHosts(nil), ErrNilDispatch)
	assert.ErrorIs(t, d.Disconnect(), ErrNilDispatch)
	assert.ErrorIs(t, d.Stop(context.Background()), ErrNilDispatch)
	assert.False(t, d.IsConnected())
	assert.Nil(t, d.Cache())
	assert.Nil(t, d.Hosts())
}

func TestDispatchStartTwiceFails(t *testing.T) {
	t.Parallel()
	d := New(message.Path{Service: "svc", Handle: "h"}, &fakeDialer{conn: newFakeConn()}, nil)
	require.NoError(t, d.Start())
	defer d.Stop(context.Background())
	assert.ErrorIs(t, d.Start(), ErrAlreadyStarted)
}

func TestDispatchDeliversChoke(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	d := New(message.Path{Service: "svc", Handle: "h"}, &fakeDialer{conn: conn}, nil)
	d.pollTimeout = time.Millisecond

	var mu sync.Mutex
	var got message.Response
	done := make(chan struct{})
	d.callback = func(r message.Response) {
		mu.Lock()
		got = r
		mu.Unlock()
		close(done)
	}

	require.NoError(t, d.Start())
	defer func() { _ = d.Stop(context.Background()) }()
	require.NoError(t, d.Connect([]transport.Peer{{IP: "10.0.0.1", Port: 5001}}))

	msg, err := message.New(message.Path{Service: "svc", Handle: "h"}, message.Policy{}, []byte("hi"))
	require.NoError(t, err)
	d.Cache().Enqueue(message.NewCached(msg))

	select {
	case <-conn.written:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send")
	}

	respEnv := []byte(`{"uuid":"` + msg.ID.String() + `","completed":true,"code":0,"message":""}`)
	conn.in <- [][]byte{{}, respEnv}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, message.Choke, got.Kind)
	assert.Equal(t, d.Path, got.Path)
	assert.Equal(t, 0, d.Cache().InFlightLen())
}

func TestDispatchSweepDeliversDeadlineExpired(t *testing.T) {
	t.Parallel()
	d := New(message.Path{Service: "svc", Handle: "h"}, &fakeDialer{conn: newFakeConn()}, nil)
	d.pollTimeout = time.Millisecond
	d.sweepInterval = time.Millisecond

	done := make(chan struct{})
	var got message.Response
	var mu sync.Mutex
	d.callback = func(r message.Response) {
		mu.Lock()
		got = r
		mu.Unlock()
		close(done)
	}

	require.NoError(t, d.Start())
	defer func() { _ = d.Stop(context.Background()) }()

	msg, err := message.New(message.Path{Service: "svc", Handle: "h"}, message.Policy{Deadline: time.Now().Add(-time.Second)}, []byte("x"))
	require.NoError(t, err)
	d.Cache().Enqueue(message.NewCached(msg))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deadline-expired callback")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, message.DeadlineExpired, got.Kind)
	assert.Equal(t, msg.ID, got.ID)
}

func TestDispatchStopIsIdempotentWithContext(t *testing.T) {
	t.Parallel()
	d := New(message.Path{Service: "svc", Handle: "h"}, &fakeDialer{conn: newFakeConn()}, nil)
	require.NoError(t, d.Start())
	require.NoError(t, d.Stop(context.Background()))

	// a second Stop posts KILL on a task that already exited; post returns
	// ErrNotStarted once the control channel's reader is gone.
	err := d.Stop(context.Background())
	assert.Error(t, err)
}
