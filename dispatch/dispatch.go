// Package dispatch is a uuid-routed publish/subscribe bus backed by a small
// worker pool. It is the substrate the Service package uses to fan a
// handle's response stream out to whatever is currently subscribed to that
// handle's uuid, and that the statistics endpoint uses to fan requests out
// to whichever goroutine owns the answer. Producers never block on a slow
// or absent subscriber: publish enqueues a job; workers deliver to routes
// with a non-blocking send, dropping on a full or unsubscribed channel.
package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/gofrs/uuid"
)

// DefaultMaxWorkers and DefaultJobsLimit apply when Start is called with a
// non-positive value for either argument.
const (
	DefaultMaxWorkers = 10
	DefaultJobsLimit  = 100
)

type job struct {
	id   uuid.UUID
	data interface{}
}

func getChan() interface{} { return make(chan interface{}, 1) }

// Dispatcher owns the route table and worker pool. The zero value is not
// usable; construct with newDispatcher. All exported control is through
// the package-level Start/Stop/IsRunning/DropWorker/SpawnWorker functions,
// which operate on a package-private singleton; tests exercise additional
// Dispatcher instances directly.
type Dispatcher struct {
	mu       sync.RWMutex
	routes   map[uuid.UUID][]chan interface{}
	jobs     chan job
	outbound sync.Pool

	running    int32
	count      int32
	maxWorkers int32
	jobLimit   int

	dropSignal chan struct{}
	shutdown   chan struct{}
	wg         sync.WaitGroup
}

func newDispatcher() *Dispatcher {
	d := &Dispatcher{}
	d.outbound.New = getChan
	return d
}

var globalDispatcher = newDispatcher()

// Start launches the package-level dispatcher singleton.
func Start(workers, jobsLimit int) error { return globalDispatcher.start(workers, jobsLimit) }

// Stop halts the package-level dispatcher singleton.
func Stop() error { return globalDispatcher.stop() }

// IsRunning reports whether the package-level dispatcher singleton is running.
func IsRunning() bool { return globalDispatcher.isRunning() }

// DropWorker removes one worker from the package-level dispatcher singleton.
func DropWorker() error { return globalDispatcher.dropWorker() }

// SpawnWorker adds one worker to the package-level dispatcher singleton.
func SpawnWorker() error { return globalDispatcher.spawnWorker() }

// Default returns the package-level dispatcher singleton, for building a
// Mux over it with GetNewMux. Callers that want an isolated dispatcher for
// testing construct one directly in white-box tests instead.
func Default() *Dispatcher { return globalDispatcher }

func (d *Dispatcher) isRunning() bool {
	if d == nil {
		return false
	}
	return atomic.LoadInt32(&d.running) == 1
}

func (d *Dispatcher) start(workers, jobsLimit int) error {
	if d == nil {
		return errDispatcherNotInitialized
	}
	if d.isRunning() {
		return errDispatcherAlreadyRunning
	}
	if atomic.LoadInt32(&d.count) != 0 {
		return errLeakedWorkers
	}
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	if jobsLimit <= 0 {
		jobsLimit = DefaultJobsLimit
	}

	d.mu.Lock()
	d.maxWorkers = int32(workers)
	d.jobLimit = jobsLimit
	d.jobs = make(chan job, jobsLimit)
	d.routes = make(map[uuid.UUID][]chan interface{})
	d.dropSignal = make(chan struct{}, workers)
	d.shutdown = make(chan struct{})
	d.mu.Unlock()

	atomic.StoreInt32(&d.running, 1)
	for i := 0; i < workers; i++ {
		atomic.AddInt32(&d.count, 1)
		d.wg.Add(1)
		go d.worker()
	}
	return nil
}

func (d *Dispatcher) stop() error {
	if d == nil {
		return errDispatcherNotInitialized
	}
	if !d.isRunning() {
		return ErrNotRunning
	}
	atomic.StoreInt32(&d.running, 0)
	close(d.shutdown)
	d.wg.Wait()

	d.mu.Lock()
	d.routes = nil
	d.jobs = nil
	d.mu.Unlock()
	atomic.StoreInt32(&d.count, 0)
	return nil
}

func (d *Dispatcher) spawnWorker() error {
	if d == nil {
		return errDispatcherNotInitialized
	}
	if !d.isRunning() {
		return ErrNotRunning
	}
	if atomic.LoadInt32(&d.count) >= atomic.LoadInt32(&d.maxWorkers) {
		return errWorkerCeilingReached
	}
	atomic.AddInt32(&d.count, 1)
	d.wg.Add(1)
	go d.worker()
	return nil
}

func (d *Dispatcher) dropWorker() error {
	if d == nil {
		return errDispatcherNotInitialized
	}
	if !d.isRunning() {
		return ErrNotRunning
	}
	if atomic.LoadInt32(&d.count) == 0 {
		return errNoWorkers
	}
	atomic.AddInt32(&d.count, -1)
	select {
	case d.dropSignal <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.shutdown:
			return
		case <-d.dropSignal:
			return
		case j, ok := <-d.jobs:
			if !ok {
				return
			}
			d.deliver(j)
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	d.mu.RLock()
	subs := d.routes[j.id]
	d.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- j.data:
		default:
		}
	}
}

func (d *Dispatcher) publish(id uuid.UUID, data interface{}) error {
	if d == nil {
		return errDispatcherNotInitialized
	}
	if !d.isRunning() {
		return nil
	}
	if id == uuid.Nil {
		return errIDNotSet
	}
	if data == nil {
		return errNoData
	}
	select {
	case d.jobs <- job{id: id, data: data}:
		return nil
	default:
		return errDispatcherJobsAtLimit
	}
}

func (d *Dispatcher) subscribe(id uuid.UUID) (chan interface{}, error) {
	if d == nil {
		return nil, errDispatcherNotInitialized
	}
	if id == uuid.Nil {
		return nil, errIDNotSet
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.routes == nil {
		return nil, errDispatcherNotInitialized
	}
	if _, ok := d.routes[id]; !ok {
		return nil, errDispatcherUUIDNotFoundInRouteList
	}
	chIface := d.outbound.Get()
	ch, ok := chIface.(chan interface{})
	if !ok {
		return nil, errTypeAssertionFailure
	}
	d.routes[id] = append(d.routes[id], ch)
	return ch, nil
}

func (d *Dispatcher) unsubscribe(id uuid.UUID, ch <-chan interface{}) error {
	if d == nil {
		return errDispatcherNotInitialized
	}
	if id == uuid.Nil {
		return errIDNotSet
	}
	if ch == nil {
		return errChannelIsNil
	}
	if !d.isRunning() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	subs, ok := d.routes[id]
	if !ok {
		return errDispatcherUUIDNotFoundInRouteList
	}
	for i, c := range subs {
		if c == ch {
			d.routes[id] = append(subs[:i], subs[i+1:]...)
			return nil
		}
	}
	return errChannelNotFoundInUUIDRef
}

// reserveID registers an already-known id (one minted outside the
// dispatcher, e.g. a message uuid) into the route table so it can later be
// subscribed to, without generating a new random one.
func (d *Dispatcher) reserveID(id uuid.UUID) error {
	if d == nil {
		return errDispatcherNotInitialized
	}
	if !d.isRunning() {
		return ErrNotRunning
	}
	if id == uuid.Nil {
		return errIDNotSet
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.routes == nil {
		return errDispatcherNotInitialized
	}
	if _, exists := d.routes[id]; exists {
		return errUUIDCollision
	}
	d.routes[id] = nil
	return nil
}

func (d *Dispatcher) getNewID(gen func() (uuid.UUID, error)) (uuid.UUID, error) {
	if d == nil {
		return uuid.Nil, errDispatcherNotInitialized
	}
	if !d.isRunning() {
		return uuid.Nil, ErrNotRunning
	}
	id, err := gen()
	if err != nil {
		return uuid.Nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.routes[id]; exists {
		return uuid.Nil, errUUIDCollision
	}
	d.routes[id] = nil
	return id, nil
}
