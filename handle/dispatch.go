// Package handle runs the per-handle dispatch task: one goroutine owning a
// multi-peer transport socket, draining a message cache, applying
// deadlines, and demultiplexing responses by correlation id. It is steered
// from outside through a small control mailbox rather than by touching its
// state directly, matching the cooperative single-threaded state machine
// the spec describes.
package handle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thrasher-corp/lsd/cache"
	"github.com/thrasher-corp/lsd/common/timedmutex"
	"github.com/thrasher-corp/lsd/log"
	"github.com/thrasher-corp/lsd/message"
	"github.com/thrasher-corp/lsd/transport"
)

// Defaults for options the spec recognizes under lsd_config.
const (
	DefaultPollTimeout       = 2 * time.Millisecond
	DefaultSweepInterval     = time.Second
	DefaultReconnectDebounce = 250 * time.Millisecond
)

// nopLogger is used when a Dispatch is built without one.
var nopLogger = &log.SubLogger{}

// Dispatch is one handle's dispatch task. The zero value is not usable;
// build with New. All exported methods are safe to call on a nil
// *Dispatch: those that return an error return ErrNilDispatch, and Cache,
// IsConnected and Hosts return nil or false, matching the teacher's
// nil-receiver-safe subsystem idiom.
type Dispatch struct {
	Path   message.Path
	dialer transport.Dialer
	cache  *cache.Cache

	callback func(message.Response)

	mu       sync.Mutex
	hosts    map[transport.Peer]struct{}
	newHosts []transport.Peer
	socket   *transport.Socket

	control  chan controlMsg
	shutdown chan struct{}
	done     chan struct{}

	started   int32
	connected int32

	pollTimeout   time.Duration
	sweepInterval time.Duration
	reconnect     *timedmutex.TimedMutex

	Logger *log.SubLogger
}

// New builds a Dispatch for path. It does not start the background task;
// call Start then Connect.
func New(path message.Path, dialer transport.Dialer, callback func(message.Response)) *Dispatch {
	return &Dispatch{
		Path:          path,
		dialer:        dialer,
		cache:         cache.New(),
		callback:      callback,
		hosts:         make(map[transport.Peer]struct{}),
		pollTimeout:   DefaultPollTimeout,
		sweepInterval: DefaultSweepInterval,
		reconnect:     timedmutex.NewTimedMutex(DefaultReconnectDebounce),
		Logger:        nopLogger,
	}
}

// Cache exposes the handle's message cache so the owning Service can
// enqueue submissions and drain/append parked messages on handle
// creation/removal.
func (d *Dispatch) Cache() *cache.Cache {
	if d == nil {
		return nil
	}
	return d.cache
}

// IsConnected reports whether the dispatch task currently believes it has
// a live transport socket.
func (d *Dispatch) IsConnected() bool {
	if d == nil {
		return false
	}
	return atomic.LoadInt32(&d.connected) == 1
}

// Start launches the dispatch task's goroutine. It must be called exactly
// once before any control method.
func (d *Dispatch) Start() error {
	if d == nil {
		return ErrNilDispatch
	}
	if !atomic.CompareAndSwapInt32(&d.started, 0, 1) {
		return ErrAlreadyStarted
	}
	d.control = make(chan controlMsg, 8)
	d.shutdown = make(chan struct{})
	d.done = make(chan struct{})
	go d.run()
	return nil
}

func (d *Dispatch) post(msg controlMsg) error {
	if d == nil {
		return ErrNilDispatch
	}
	if atomic.LoadInt32(&d.started) == 0 {
		return ErrNotStarted
	}
	select {
	case <-d.done:
		return ErrNotStarted
	default:
	}
	select {
	case d.control <- msg:
		return nil
	case <-d.done:
		return ErrNotStarted
	}
}

// Connect replaces the handle's host set and posts CONNECT.
func (d *Dispatch) Connect(hosts []transport.Peer) error {
	if d == nil {
		return ErrNilDispatch
	}
	d.mu.Lock()
	d.setHosts(hosts)
	d.mu.Unlock()
	return d.post(controlMsg{code: controlConnect, hosts: hosts})
}

// Reconnect replaces the handle's host set and posts RECONNECT. In-flight
// messages are not automatically requeued; the deadline sweep catches them
// if the peer no longer answers.
func (d *Dispatch) Reconnect(hosts []transport.Peer) error {
	if d == nil {
		return ErrNilDispatch
	}
	// Space out reconnect storms: a call made inside the previous call's
	// window blocks until it ends. Every call still posts its own
	// RECONNECT, so each one tears the transport down once.
	d.reconnect.LockForDuration()
	d.mu.Lock()
	d.setHosts(hosts)
	d.mu.Unlock()
	return d.post(controlMsg{code: controlReconnect, hosts: hosts})
}

// ConnectNewHosts appends hosts to the staged new-hosts list and posts
// ADD_HOSTS.
func (d *Dispatch) ConnectNewHosts(hosts []transport.Peer) error {
	if d == nil {
		return ErrNilDispatch
	}
	d.mu.Lock()
	d.newHosts = append(d.newHosts, hosts...)
	for _, h := range hosts {
		d.hosts[h] = struct{}{}
	}
	d.mu.Unlock()
	return d.post(controlMsg{code: controlAddHosts})
}

// Disconnect posts DISCONNECT; the task stays alive with an empty socket.
func (d *Dispatch) Disconnect() error {
	if d == nil {
		return ErrNilDispatch
	}
	return d.post(controlMsg{code: controlDisconnect})
}

// Stop posts KILL and waits for the task to exit, or for ctx to expire. A
// canceled/expired ctx returns immediately without waiting for drain.
func (d *Dispatch) Stop(ctx context.Context) error {
	if d == nil {
		return ErrNilDispatch
	}
	if err := d.post(controlMsg{code: controlKill}); err != nil {
		return err
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatch) setHosts(hosts []transport.Peer) {
	d.hosts = make(map[transport.Peer]struct{}, len(hosts))
	for _, h := range hosts {
		d.hosts[h] = struct{}{}
	}
}

// Hosts returns the handle's current host set, for diagnostics and tests.
func (d *Dispatch) Hosts() []transport.Peer {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]transport.Peer, 0, len(d.hosts))
	for h := range d.hosts {
		out = append(out, h)
	}
	return out
}

func (d *Dispatch) takeNewHosts() []transport.Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.newHosts
	d.newHosts = nil
	return out
}

// run is the dispatch task's loop: one non-blocking poll of each of
// control, send, sweep, and response sources per pass, sleeping up to
// pollTimeout only when a pass did no work.
func (d *Dispatch) run() {
	defer close(d.done)
	lastSweep := time.Time{}

	for {
		select {
		case <-d.shutdown:
			d.teardown()
			return
		default:
		}

		var worked bool

		select {
		case ctl := <-d.control:
			if ctl.code == controlKill {
				d.teardown()
				return
			}
			d.applyControl(ctl)
			worked = true
		default:
		}

		if d.IsConnected() && d.cache.NewLen() > 0 {
			d.trySend()
			worked = true
		}

		if time.Since(lastSweep) >= d.sweepInterval {
			d.sweep()
			lastSweep = time.Now()
			worked = true
		}

		if d.pollInbound() {
			worked = true
		}

		if !worked {
			select {
			case <-time.After(d.pollTimeout):
			case <-d.shutdown:
				d.teardown()
				return
			}
		}
	}
}

func (d *Dispatch) applyControl(ctl controlMsg) {
	switch ctl.code {
	case controlConnect:
		d.doConnect(ctl.hosts)
	case controlReconnect:
		d.doReconnect(ctl.hosts)
	case controlDisconnect:
		d.doDisconnect()
	case controlAddHosts:
		d.doAddHosts()
	}
}

func (d *Dispatch) doConnect(hosts []transport.Peer) {
	if len(hosts) == 0 {
		d.Logger.Warnf("handle %s: connect posted with no hosts", d.Path)
		return
	}
	d.mu.Lock()
	sock := d.socket
	d.mu.Unlock()
	if sock == nil {
		sock = transport.NewSocket(d.dialer)
		sock.Logger = d.Logger
		d.mu.Lock()
		d.socket = sock
		d.mu.Unlock()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range hosts {
		if err := sock.AddPeer(ctx, h); err != nil {
			d.Logger.Warnf("handle %s: connecting to %s: %v", d.Path, h, err)
		}
	}
	atomic.StoreInt32(&d.connected, 1)
}

func (d *Dispatch) doReconnect(hosts []transport.Peer) {
	d.mu.Lock()
	old := d.socket
	d.socket = nil
	d.mu.Unlock()
	atomic.StoreInt32(&d.connected, 0)
	if old != nil {
		_ = old.Close()
	}
	d.doConnect(hosts)
}

func (d *Dispatch) doDisconnect() {
	d.mu.Lock()
	old := d.socket
	d.socket = nil
	d.mu.Unlock()
	atomic.StoreInt32(&d.connected, 0)
	if old != nil {
		_ = old.Close()
	}
}

func (d *Dispatch) doAddHosts() {
	staged := d.takeNewHosts()
	if len(staged) == 0 {
		return
	}
	d.mu.Lock()
	sock := d.socket
	d.mu.Unlock()
	if sock == nil {
		d.doConnect(staged)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range staged {
		if err := sock.AddPeer(ctx, h); err != nil {
			d.Logger.Warnf("handle %s: adding host %s: %v", d.Path, h, err)
		}
	}
	atomic.StoreInt32(&d.connected, 1)
}

func (d *Dispatch) trySend() {
	m, err := d.cache.PeekNew()
	if err != nil {
		return
	}
	d.mu.Lock()
	sock := d.socket
	d.mu.Unlock()
	if sock == nil {
		return
	}
	var sendErr error
	if m.Policy.SendToAllHosts {
		sendErr = sock.Broadcast(m.Message)
	} else {
		sendErr = sock.SendAny(m.Message)
	}
	if sendErr != nil {
		d.Logger.Debugf("handle %s: send failed, retrying next pass: %v", d.Path, sendErr)
		return
	}
	m.MarkSent(time.Now())
	if err := d.cache.PromoteToInFlight(m.ID); err != nil {
		d.Logger.Warnf("handle %s: promoting %s to in-flight: %v", d.Path, m.ID, err)
	}
}

func (d *Dispatch) sweep() {
	now := time.Now()
	expired := d.cache.SweepExpired(now)
	for _, id := range expired {
		d.deliver(message.Response{ID: id, Path: d.Path, Kind: message.DeadlineExpired, ReceivedAt: now})
	}
	d.sweepTimedOut(now)
}

// sweepTimedOut requeues in-flight messages whose Policy.Timeout elapsed
// without a response, distinct from the deadline sweep above: a timeout
// retries up to MaxTimeoutRetries before the message is finally dropped,
// where a deadline expiry is unconditional.
func (d *Dispatch) sweepTimedOut(now time.Time) {
	for _, m := range d.cache.SweepTimedOut(now) {
		if m.ExhaustRetry() {
			if err := d.cache.DemoteToNew(m.ID); err != nil {
				d.Logger.Warnf("handle %s: demoting timed-out %s: %v", d.Path, m.ID, err)
			}
			continue
		}
		if err := d.cache.Erase(m.ID); err != nil {
			d.Logger.Warnf("handle %s: erasing exhausted %s: %v", d.Path, m.ID, err)
			continue
		}
		d.deliver(message.Response{ID: m.ID, Path: d.Path, Kind: message.DeadlineExpired, ReceivedAt: now})
	}
}

func (d *Dispatch) pollInbound() bool {
	d.mu.Lock()
	sock := d.socket
	d.mu.Unlock()
	if sock == nil {
		return false
	}
	select {
	case decoded := <-sock.Inbound():
		d.handleResponse(decoded.Response)
		return true
	default:
		return false
	}
}

// handleResponse implements the spec's response handling table: a chunk is
// delivered without disturbing the in-flight entry, a terminal response
// (choke or peer-error) erases it first. A terminal response for a uuid
// not in flight is logged and dropped rather than delivered. A chunk is
// delivered without consulting the in-flight index, so a chunk for an
// unknown uuid is delivered too.
func (d *Dispatch) handleResponse(resp message.Response) {
	resp.Path = d.Path
	switch resp.Kind {
	case message.Chunk:
		d.deliver(resp)
	case message.PeerError, message.Choke:
		if err := d.cache.Erase(resp.ID); err != nil {
			d.Logger.Debugf("handle %s: response for unknown uuid %s: %v", d.Path, resp.ID, err)
			return
		}
		d.deliver(resp)
	}
}

func (d *Dispatch) deliver(resp message.Response) {
	if d.callback != nil {
		d.callback(resp)
	}
}

func (d *Dispatch) teardown() {
	d.mu.Lock()
	sock := d.socket
	d.socket = nil
	d.mu.Unlock()
	atomic.StoreInt32(&d.connected, 0)
	if sock != nil {
		_ = sock.Close()
	}
}
