// Package service owns one service's set of handles, reacts to membership
// refreshes from the heartbeats collector, routes submissions to the right
// handle (or parks them when the handle doesn't exist yet), and fans
// inbound responses out to whatever consumer drains them.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/thrasher-corp/lsd/handle"
	"github.com/thrasher-corp/lsd/log"
	"github.com/thrasher-corp/lsd/message"
	"github.com/thrasher-corp/lsd/transport"
)

// ResponseBufferSize sizes the Service's fan-in response channel. When a
// slow consumer lets it fill, the incoming response is dropped; a handle
// dispatch loop is never blocked.
const ResponseBufferSize = 512

// DefaultStopTimeout bounds how long Refresh waits for a removed handle's
// dispatch task to drain before moving on.
const DefaultStopTimeout = 5 * time.Second

// nopLogger is used when Service.Logger is left nil.
var nopLogger = &log.SubLogger{}

// Service is one named service's handle set. The zero value is not usable;
// build with New.
type Service struct {
	Name   string
	dialer transport.Dialer
	Logger *log.SubLogger

	mu        sync.Mutex
	hosts     map[transport.Peer]struct{}
	handles   map[string]*handle.Dispatch
	unhandled map[string][]*message.Cached

	responses chan message.Response
}

// New builds an empty Service with no hosts or handles.
func New(name string, dialer transport.Dialer) *Service {
	return &Service{
		Name:      name,
		dialer:    dialer,
		Logger:    nopLogger,
		hosts:     make(map[transport.Peer]struct{}),
		handles:   make(map[string]*handle.Dispatch),
		unhandled: make(map[string][]*message.Cached),
		responses: make(chan message.Response, ResponseBufferSize),
	}
}

// Responses is the fan-in stream of every handle's responses. A Client
// drains this and dispatches to user callbacks registered per (service,
// handle); responses for which nothing is registered are the consumer's to
// drop.
func (s *Service) Responses() <-chan message.Response {
	return s.responses
}

// HandleNames lists the handles currently known to this service, for
// diagnostics and tests.
func (s *Service) HandleNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.handles))
	for name := range s.handles {
		out = append(out, name)
	}
	return out
}

// Hosts lists the hosts currently believed reachable, for diagnostics.
func (s *Service) Hosts() []transport.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Peer, 0, len(s.hosts))
	for h := range s.hosts {
		out = append(out, h)
	}
	return out
}

// HandleCacheStat reports one handle's queue depths for the statistics
// endpoint.
type HandleCacheStat struct {
	NewLen      int
	InFlightLen int
}

// CacheStats returns a snapshot of every handle's cache depths, keyed by
// handle name.
func (s *Service) CacheStats() map[string]HandleCacheStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]HandleCacheStat, len(s.handles))
	for name, h := range s.handles {
		out[name] = HandleCacheStat{NewLen: h.Cache().NewLen(), InFlightLen: h.Cache().InFlightLen()}
	}
	return out
}

// Submit routes m to the named handle's cache if it exists, otherwise parks
// it in the unhandled queue for that handle name so it is replayed once the
// handle is created. The caller is responsible for global capacity
// accounting; Submit never rejects on capacity grounds.
func (s *Service) Submit(handleName string, m *message.Cached) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[handleName]; ok {
		h.Cache().Enqueue(m)
		return
	}
	s.unhandled[handleName] = append(s.unhandled[handleName], m)
}

// newHandle carries a freshly constructed handle and whatever was parked
// for its name through Refresh's unlocked creation phase.
type newHandle struct {
	name   string
	h      *handle.Dispatch
	staged []*message.Cached
}

// Refresh applies the heartbeats collector's latest (hosts, handles) view,
// implementing the membership diff/reconnect/re-park algorithm: hosts are
// diffed first and surviving handles are told to reconnect or pick up new
// hosts; then handles are diffed, removed handles drain their cache back
// into the parking lot before being torn down, and added handles are
// created, fed any messages parked for their name, and connected.
//
// The Service lock only ever guards map bookkeeping; Stop and Reconnect can
// each block for up to DefaultStopTimeout/the reconnect debounce window, so
// they run after the lock is released, or Submit would stall behind them.
func (s *Service) Refresh(ctx context.Context, hostsNow []transport.Peer, handlesNow []string) {
	s.mu.Lock()

	hostsAdded, hostsRemoved := diffHosts(s.hosts, hostsNow)
	s.hosts = make(map[transport.Peer]struct{}, len(hostsNow))
	for _, h := range hostsNow {
		s.hosts[h] = struct{}{}
	}

	handlesAdded, handlesRemoved := diffHandles(s.handles, handlesNow)

	toStop := make(map[string]*handle.Dispatch, len(handlesRemoved))
	for _, name := range handlesRemoved {
		h := s.handles[name]
		delete(s.handles, name)
		h.Cache().MakeAllNew()
		drained := h.Cache().Drain()
		if len(drained) > 0 {
			s.unhandled[name] = append(s.unhandled[name], drained...)
		}
		toStop[name] = h
	}

	peers := make([]transport.Peer, 0, len(s.hosts))
	for h := range s.hosts {
		peers = append(peers, h)
	}

	var surviving []*handle.Dispatch
	addHostsOnly := len(hostsRemoved) == 0 && len(hostsAdded) > 0
	if len(hostsRemoved) > 0 || len(hostsAdded) > 0 {
		surviving = make([]*handle.Dispatch, 0, len(s.handles))
		for _, h := range s.handles {
			surviving = append(surviving, h)
		}
	}

	toStart := make([]newHandle, 0, len(handlesAdded))
	for _, name := range handlesAdded {
		path := message.Path{Service: s.Name, Handle: name}
		h := handle.New(path, s.dialer, s.makeCallback(name))
		h.Logger = s.Logger
		staged := s.unhandled[name]
		delete(s.unhandled, name)
		toStart = append(toStart, newHandle{name: name, h: h, staged: staged})
	}

	s.mu.Unlock()

	for name, h := range toStop {
		stopCtx, cancel := context.WithTimeout(ctx, DefaultStopTimeout)
		if err := h.Stop(stopCtx); err != nil {
			s.Logger.Warnf("service %s: stopping removed handle %s: %v", s.Name, name, err)
		}
		cancel()
	}

	for _, h := range surviving {
		if addHostsOnly {
			if err := h.ConnectNewHosts(hostsAdded); err != nil {
				s.Logger.Warnf("service %s: adding hosts to handle: %v", s.Name, err)
			}
			continue
		}
		if err := h.Reconnect(peers); err != nil {
			s.Logger.Warnf("service %s: reconnecting handle: %v", s.Name, err)
		}
	}

	for _, nh := range toStart {
		if err := nh.h.Start(); err != nil {
			s.Logger.Warnf("service %s: starting handle %s: %v", s.Name, nh.name, err)
			if len(nh.staged) > 0 {
				s.mu.Lock()
				s.unhandled[nh.name] = append(nh.staged, s.unhandled[nh.name]...)
				s.mu.Unlock()
			}
			continue
		}
		if len(nh.staged) > 0 {
			nh.h.Cache().AppendQueue(nh.staged)
		}
		if err := nh.h.Connect(peers); err != nil {
			s.Logger.Warnf("service %s: connecting handle %s: %v", s.Name, nh.name, err)
		}
		s.mu.Lock()
		s.handles[nh.name] = nh.h
		s.mu.Unlock()
	}
}

func (s *Service) makeCallback(handleName string) func(message.Response) {
	return func(r message.Response) {
		select {
		case s.responses <- r:
		default:
			s.Logger.Warnf("service %s: response buffer full, dropping response for %s", s.Name, handleName)
		}
	}
}

func diffHosts(have map[transport.Peer]struct{}, now []transport.Peer) (added, removed []transport.Peer) {
	nowSet := make(map[transport.Peer]struct{}, len(now))
	for _, h := range now {
		nowSet[h] = struct{}{}
		if _, ok := have[h]; !ok {
			added = append(added, h)
		}
	}
	for h := range have {
		if _, ok := nowSet[h]; !ok {
			removed = append(removed, h)
		}
	}
	return added, removed
}

func diffHandles(have map[string]*handle.Dispatch, now []string) (added, removed []string) {
	nowSet := make(map[string]struct{}, len(now))
	for _, n := range now {
		nowSet[n] = struct{}{}
		if _, ok := have[n]; !ok {
			added = append(added, n)
		}
	}
	for n := range have {
		if _, ok := nowSet[n]; !ok {
			removed = append(removed, n)
		}
	}
	return added, removed
}

// Close stops every handle's dispatch task. Submissions after Close are
// parked but never delivered.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]*handle.Dispatch)
	s.mu.Unlock()

	var firstErr error
	for name, h := range handles {
		if err := h.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
			s.Logger.Warnf("service %s: stopping handle %s: %v", s.Name, name, err)
		}
	}
	return firstErr
}
