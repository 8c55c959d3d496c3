package handle

import "github.com/thrasher-corp/lsd/transport"

// controlCode enumerates the full set of transitions a Dispatch task
// accepts through its control mailbox.
type controlCode int

const (
	controlConnect controlCode = iota
	controlReconnect
	controlDisconnect
	controlAddHosts
	controlKill
)

func (c controlCode) String() string {
	switch c {
	case controlConnect:
		return "CONNECT"
	case controlReconnect:
		return "RECONNECT"
	case controlDisconnect:
		return "DISCONNECT"
	case controlAddHosts:
		return "ADD_HOSTS"
	case controlKill:
		return "KILL"
	default:
		return "UNKNOWN"
	}
}

// controlMsg is one entry in a Dispatch's control mailbox.
type controlMsg struct {
	code  controlCode
	hosts []transport.Peer
}
