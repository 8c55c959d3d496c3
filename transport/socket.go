package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"github.com/thrasher-corp/lsd/internal/container"
	"github.com/thrasher-corp/lsd/log"
	"github.com/thrasher-corp/lsd/message"
)

// nopLogger is used when Socket.Logger is left nil.
var nopLogger = &log.SubLogger{}

// InboundBufferSize sizes Socket's Inbound channel. A handle dispatch loop
// is expected to drain it continuously; the buffer only absorbs bursts.
const InboundBufferSize = 256

// Decoded pairs a parsed Response with the Peer it arrived from, so a
// multi-peer handle can log or account for it per-host.
type Decoded struct {
	Peer     Peer
	Response message.Response
}

// Socket is the multi-peer request/reply wrapper a handle dispatch loop
// drives: outbound sends go to one peer or, when a message's policy asks
// for it, all currently connected peers; inbound frames from every peer
// are decoded and delivered on a single Inbound channel in arrival order
// with no ordering guarantee across peers.
type Socket struct {
	dialer Dialer
	Logger *log.SubLogger

	mu    sync.Mutex
	conns map[Peer]Conn

	inbound  chan Decoded
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewSocket builds a Socket that dials new peers through dialer.
func NewSocket(dialer Dialer) *Socket {
	return &Socket{
		dialer:   dialer,
		Logger:   nopLogger,
		conns:    make(map[Peer]Conn),
		inbound:  make(chan Decoded, InboundBufferSize),
		shutdown: make(chan struct{}),
	}
}

// Inbound is the stream of decoded responses from every connected peer.
func (s *Socket) Inbound() <-chan Decoded {
	return s.inbound
}

// AddPeer dials peer and starts reading its responses. Re-adding a peer
// that is already connected is a no-op.
func (s *Socket) AddPeer(ctx context.Context, peer Peer) error {
	s.mu.Lock()
	if _, ok := s.conns[peer]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx, peer)
	if err != nil {
		return errors.Wrapf(err, "transport: adding peer %s", peer)
	}

	s.mu.Lock()
	s.conns[peer] = conn
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(peer, conn)
	return nil
}

// RemovePeer closes and forgets peer's connection, if any.
func (s *Socket) RemovePeer(peer Peer) error {
	s.mu.Lock()
	conn, ok := s.conns[peer]
	if ok {
		delete(s.conns, peer)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.Close()
}

// Peers lists the currently connected peers.
func (s *Socket) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Peer, 0, len(s.conns))
	for p := range s.conns {
		out = append(out, p)
	}
	return out
}

// Send encodes m and writes it to peer.
func (s *Socket) Send(peer Peer, m message.Message) error {
	s.mu.Lock()
	conn, ok := s.conns[peer]
	s.mu.Unlock()
	if !ok {
		return errors.Errorf("transport: no connection to peer %s", peer)
	}
	frames, err := message.EncodeFrames(m)
	if err != nil {
		return err
	}
	return conn.WriteFrames(frames)
}

// SendAny writes m to one arbitrary connected peer. Handle dispatch uses
// this for ordinary (non-broadcast) sends: peer selection within a
// connected set is this socket's concern, not the caller's.
func (s *Socket) SendAny(m message.Message) error {
	s.mu.Lock()
	var peer Peer
	var conn Conn
	for p, c := range s.conns {
		peer, conn = p, c
		break
	}
	s.mu.Unlock()
	if conn == nil {
		return ErrNoConnectedPeers
	}
	frames, err := message.EncodeFrames(m)
	if err != nil {
		return err
	}
	if err := conn.WriteFrames(frames); err != nil {
		return errors.Wrapf(err, "transport: sending to %s", peer)
	}
	return nil
}

// Broadcast writes m to every currently connected peer, as required by
// Policy.SendToAllHosts. It returns the first write error encountered but
// still attempts every peer.
func (s *Socket) Broadcast(m message.Message) error {
	frames, err := message.EncodeFrames(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conns := make(map[Peer]Conn, len(s.conns))
	for p, c := range s.conns {
		conns[p] = c
	}
	s.mu.Unlock()

	var firstErr error
	for peer, conn := range conns {
		if werr := conn.WriteFrames(frames); werr != nil && firstErr == nil {
			firstErr = errors.Wrapf(werr, "transport: broadcast to %s", peer)
		}
	}
	return firstErr
}

// Close stops every read loop and closes every connection.
func (s *Socket) Close() error {
	close(s.shutdown)
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[Peer]Conn)
	s.mu.Unlock()

	var firstErr error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.wg.Wait()
	return firstErr
}

func (s *Socket) readLoop(peer Peer, conn Conn) {
	defer s.wg.Done()
	for {
		frames, err := conn.ReadFrames()
		if err != nil {
			select {
			case <-s.shutdown:
			default:
				s.Logger.Debugf("transport: read from %s ended: %v", peer, err)
			}
			return
		}
		resp, err := decodeResponse(frames)
		if err != nil {
			s.Logger.Warnf("transport: dropping malformed frame set from %s: %v", peer, err)
			continue
		}
		select {
		case s.inbound <- Decoded{Peer: peer, Response: resp}:
		case <-s.shutdown:
			return
		}
	}
}

func decodeResponse(frames [][]byte) (message.Response, error) {
	env, err := message.DecodeFrames(frames)
	if err != nil {
		return message.Response{}, err
	}
	id, err := uuid.FromString(env.UUID)
	if err != nil {
		return message.Response{}, errors.Wrap(err, "transport: parsing response uuid")
	}

	resp := message.Response{ID: id, ReceivedAt: time.Now(), ErrorCode: env.Code, ErrorMessage: env.Message}
	switch {
	case env.Code != 0:
		resp.Kind = message.PeerError
	case env.Completed:
		resp.Kind = message.Choke
	default:
		resp.Kind = message.Chunk
	}
	if env.Payload != nil {
		c, cerr := container.New(env.Payload)
		if cerr != nil {
			return message.Response{}, cerr
		}
		resp.Payload = c
	}
	return resp, nil
}
