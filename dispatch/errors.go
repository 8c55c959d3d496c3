package dispatch

import "github.com/pkg/errors"

var (
	errDispatcherNotInitialized          = errors.New("dispatch: dispatcher not initialized")
	errDispatcherAlreadyRunning          = errors.New("dispatch: dispatcher already running")
	errLeakedWorkers                     = errors.New("dispatch: workers leaked from a previous run")
	errNoWorkers                         = errors.New("dispatch: no workers running")
	errWorkerCeilingReached              = errors.New("dispatch: worker ceiling reached")
	errIDNotSet                          = errors.New("dispatch: id not set")
	errChannelIsNil                      = errors.New("dispatch: channel is nil")
	errNoData                            = errors.New("dispatch: no data supplied")
	errNoIDs                             = errors.New("dispatch: no ids supplied")
	errDispatcherJobsAtLimit             = errors.New("dispatch: jobs channel at limit")
	errUUIDCollision                     = errors.New("dispatch: uuid collision")
	errDispatcherUUIDNotFoundInRouteList = errors.New("dispatch: uuid not found in route list")
	errTypeAssertionFailure              = errors.New("dispatch: type assertion failure")
	errChannelNotFoundInUUIDRef          = errors.New("dispatch: channel not found for uuid")
	errMuxIsNil                          = errors.New("dispatch: mux is nil")

	// ErrNotRunning is returned by lifecycle methods called while the
	// dispatcher is not running.
	ErrNotRunning = errors.New("dispatch: not running")
)
