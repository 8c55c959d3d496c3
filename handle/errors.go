package handle

import "github.com/pkg/errors"

var (
	// ErrNilDispatch is returned by every error-returning method when called
	// on a nil *Dispatch, matching the teacher's nil-receiver-safety idiom.
	ErrNilDispatch = errors.New("handle: dispatch is nil")
	// ErrAlreadyStarted is returned by Start on a Dispatch already running.
	ErrAlreadyStarted = errors.New("handle: dispatch already started")
	// ErrNotStarted is returned by control methods before Start has run.
	ErrNotStarted = errors.New("handle: dispatch not started")
)
