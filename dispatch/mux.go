package dispatch

import "github.com/gofrs/uuid"

// Pipe is a single subscription returned by Mux.Subscribe. Release must be
// called when the subscriber is done, or the route list leaks the channel
// for the lifetime of the dispatcher.
type Pipe struct {
	C   <-chan interface{}
	id  uuid.UUID
	mux *Mux
}

// Release unsubscribes the pipe from its mux.
func (p Pipe) Release() error {
	if p.mux == nil {
		return errMuxIsNil
	}
	return p.mux.Unsubscribe(p.id, p.C)
}

// Mux is the public handle onto a Dispatcher: it mints ids, subscribes and
// unsubscribes pipes, and publishes data to one or more ids.
type Mux struct {
	d *Dispatcher
}

// GetNewMux wraps d for external use.
func GetNewMux(d *Dispatcher) *Mux {
	return &Mux{d: d}
}

// Subscribe opens a Pipe bound to id.
func (m *Mux) Subscribe(id uuid.UUID) (Pipe, error) {
	if m == nil {
		return Pipe{}, errMuxIsNil
	}
	ch, err := m.d.subscribe(id)
	if err != nil {
		return Pipe{}, err
	}
	return Pipe{C: ch, id: id, mux: m}, nil
}

// Unsubscribe removes ch from id's route list.
func (m *Mux) Unsubscribe(id uuid.UUID, ch <-chan interface{}) error {
	if m == nil {
		return errMuxIsNil
	}
	return m.d.unsubscribe(id, ch)
}

// Publish enqueues data for delivery to every subscriber of each id in ids.
func (m *Mux) Publish(data interface{}, ids ...uuid.UUID) error {
	if m == nil {
		return errMuxIsNil
	}
	if data == nil {
		return errNoData
	}
	if len(ids) == 0 {
		return errNoIDs
	}
	for _, id := range ids {
		if err := m.d.publish(id, data); err != nil {
			return err
		}
	}
	return nil
}

// Reserve registers an id minted outside the dispatcher (e.g. a message
// uuid) so it can be Subscribed to, without generating a new one.
func (m *Mux) Reserve(id uuid.UUID) error {
	if m == nil {
		return errMuxIsNil
	}
	return m.d.reserveID(id)
}

// GetID mints and reserves a fresh routable id.
func (m *Mux) GetID() (uuid.UUID, error) {
	if m == nil {
		return uuid.Nil, errMuxIsNil
	}
	return m.d.getNewID(uuid.NewV4)
}
