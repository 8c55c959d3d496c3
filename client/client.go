// Package client is the Client Façade: the only entry point the embedding
// application calls directly. It owns every configured Service, enforces
// the global message cache capacity, mints uuids for accepted submissions,
// and fans responses out to the callback registered per (service, handle).
package client

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"

	"github.com/thrasher-corp/lsd/dispatch"
	"github.com/thrasher-corp/lsd/log"
	"github.com/thrasher-corp/lsd/lsderr"
	"github.com/thrasher-corp/lsd/message"
	"github.com/thrasher-corp/lsd/service"
	"github.com/thrasher-corp/lsd/transport"
)

// DefaultMaxMessageCacheSize is 512 MiB, the spec's default
// max_message_cache_size before configuration overrides it.
const DefaultMaxMessageCacheSize = 512 * 1024 * 1024

// nopLogger is used when Client.Logger is left nil.
var nopLogger = &log.SubLogger{}

// Callback is invoked once per terminal response (Choke, PeerError, or
// DeadlineExpired) and any number of times per Chunk, for whichever
// (service, handle) it was registered under.
type Callback func(message.Response)

// Client is the façade applications hold. Build with New, register
// services with AddService, then Submit and RegisterCallback.
type Client struct {
	Logger *log.SubLogger

	maxCacheBytes int64

	mu         sync.Mutex
	services   map[string]*service.Service
	callbacks  map[message.Path]Callback
	cacheUsed  int64
	cacheSizes map[uuid.UUID]int64

	mux *dispatch.Mux

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Client with the given capacity ceiling in bytes. A
// non-positive maxCacheBytes falls back to DefaultMaxMessageCacheSize. The
// package-level dispatch worker pool backing SubmitAndWait is started on
// first use and shared by every Client in the process; a second Client
// finding it already running is expected, not an error.
func New(maxCacheBytes int64) *Client {
	if maxCacheBytes <= 0 {
		maxCacheBytes = DefaultMaxMessageCacheSize
	}
	// Ignore the error: it is unexported-typed "already running" when an
	// earlier Client in this process started the pool first.
	_ = dispatch.Start(0, 0)
	return &Client{
		Logger:        nopLogger,
		maxCacheBytes: maxCacheBytes,
		services:      make(map[string]*service.Service),
		callbacks:     make(map[message.Path]Callback),
		cacheSizes:    make(map[uuid.UUID]int64),
		mux:           dispatch.GetNewMux(dispatch.Default()),
		stop:          make(chan struct{}),
	}
}

// AddService registers a new Service under name and starts a background
// task that fans its responses out to registered callbacks. Calling
// AddService twice with the same name replaces the registered Service with
// the new one; the earlier Service is not closed. Configuration validation
// already rejects duplicate service names.
func (c *Client) AddService(name string, dialer transport.Dialer) *service.Service {
	s := service.New(name, dialer)
	s.Logger = c.Logger

	c.mu.Lock()
	c.services[name] = s
	c.mu.Unlock()

	c.wg.Add(1)
	go c.fanIn(s)
	return s
}

func (c *Client) fanIn(s *service.Service) {
	defer c.wg.Done()
	for {
		select {
		case r, ok := <-s.Responses():
			if !ok {
				return
			}
			c.dispatchResponse(r)
		case <-c.stop:
			return
		}
	}
}

func (c *Client) dispatchResponse(r message.Response) {
	// Best-effort: only a message.ID reserved via SubmitAndWait has a route,
	// so this is a no-op for every ordinary asynchronous submission.
	_ = c.mux.Publish(r, r.ID)

	c.mu.Lock()
	// A terminal response means the message is no longer held anywhere
	// (erased from the handle's cache), so capacity accounting must release
	// it in the same critical section that would otherwise still count it.
	if r.Kind.Terminal() {
		if size, ok := c.cacheSizes[r.ID]; ok {
			c.cacheUsed -= size
			delete(c.cacheSizes, r.ID)
		}
	}
	cb, ok := c.callbacks[r.Path]
	c.mu.Unlock()
	if !ok {
		return
	}
	cb(r)
}

// RegisterCallback registers cb for every response addressed to path,
// replacing whatever was registered before.
func (c *Client) RegisterCallback(path message.Path, cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[path] = cb
}

// UnregisterCallback removes whatever callback is registered for path.
func (c *Client) UnregisterCallback(path message.Path) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.callbacks, path)
}

// Submit mints and enqueues a message addressed to path, enforcing the
// Client's global capacity ceiling and that path.Service names a
// registered service. On success it returns the message's uuid.
func (c *Client) Submit(path message.Path, policy message.Policy, payload []byte) (uuid.UUID, error) {
	m, err := message.New(path, policy, payload)
	if err != nil {
		return uuid.UUID{}, lsderr.New(lsderr.MessageDataTooBig, err.Error())
	}
	if err := c.submitMessage(path, m); err != nil {
		return uuid.UUID{}, err
	}
	return m.ID, nil
}

// submitAndWaitHook, when non-nil, is called with a freshly reserved
// message id after SubmitAndWait registers it with the mux but before the
// message is submitted to the service. White-box tests use it to learn an
// id they could not otherwise observe from outside the method.
var submitAndWaitHook func(uuid.UUID)

// SubmitAndWait is a synchronous convenience wrapper over Submit: it blocks
// until the message's first terminal response (Choke, PeerError or
// DeadlineExpired) arrives, ctx is done, or the submission itself is
// rejected. It does not replace RegisterCallback's push model; the two
// consumption styles can be used side by side for different paths.
func (c *Client) SubmitAndWait(ctx context.Context, path message.Path, policy message.Policy, payload []byte) (message.Response, error) {
	m, err := message.New(path, policy, payload)
	if err != nil {
		return message.Response{}, lsderr.New(lsderr.MessageDataTooBig, err.Error())
	}

	if err := c.mux.Reserve(m.ID); err != nil {
		return message.Response{}, err
	}
	pipe, err := c.mux.Subscribe(m.ID)
	if err != nil {
		return message.Response{}, err
	}
	defer pipe.Release()

	if submitAndWaitHook != nil {
		submitAndWaitHook(m.ID)
	}

	if err := c.submitMessage(path, m); err != nil {
		return message.Response{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return message.Response{}, ctx.Err()
		case data := <-pipe.C:
			r, ok := data.(message.Response)
			if !ok {
				continue
			}
			if !r.Kind.Terminal() {
				continue
			}
			return r, nil
		}
	}
}

func (c *Client) submitMessage(path message.Path, m message.Message) error {
	size := int64(m.ContainerSize())

	c.mu.Lock()
	svc, ok := c.services[path.Service]
	if !ok {
		c.mu.Unlock()
		return lsderr.New(lsderr.UnknownService, path.Service)
	}
	if c.cacheUsed+size > c.maxCacheBytes {
		c.mu.Unlock()
		return lsderr.New(lsderr.MessageCacheOverCapacity, path.String())
	}
	c.cacheUsed += size
	c.cacheSizes[m.ID] = size
	c.mu.Unlock()

	svc.Submit(path.Handle, message.NewCached(m))
	return nil
}

// CacheUsed reports the Client's current capacity accounting, in bytes.
func (c *Client) CacheUsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cacheUsed
}

// ServiceNames lists every registered service, for the statistics endpoint's
// all_services action.
func (c *Client) ServiceNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.services))
	for name := range c.services {
		out = append(out, name)
	}
	return out
}

// ServiceCacheStats returns the named service's per-handle cache depths, or
// false if no such service is registered.
func (c *Client) ServiceCacheStats(name string) (map[string]service.HandleCacheStat, bool) {
	c.mu.Lock()
	svc, ok := c.services[name]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return svc.CacheStats(), true
}

// CacheStats returns every registered service's per-handle cache depths,
// keyed by service name then handle name.
func (c *Client) CacheStats() map[string]map[string]service.HandleCacheStat {
	c.mu.Lock()
	services := make(map[string]*service.Service, len(c.services))
	for name, s := range c.services {
		services[name] = s
	}
	c.mu.Unlock()

	out := make(map[string]map[string]service.HandleCacheStat, len(services))
	for name, s := range services {
		out[name] = s.CacheStats()
	}
	return out
}

// Close stops every registered service's handles and the fan-in tasks.
// Per the spec's cancellation policy, no task is detached: every
// background task is joined before Close returns.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	services := c.services
	c.services = make(map[string]*service.Service)
	c.mu.Unlock()

	close(c.stop)

	var firstErr error
	for name, s := range services {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
			c.Logger.Warnf("client: closing service %s: %v", name, err)
		}
	}
	c.wg.Wait()
	return firstErr
}
