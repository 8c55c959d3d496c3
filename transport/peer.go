package transport

import (
	"net"
	"strconv"
)

// Peer identifies one wire endpoint a handle can dial, as discovered by the
// discovery package or supplied directly in configuration. Peer is used as
// a map key throughout transport and must stay comparable and free of any
// field (such as per-host weight) that varies without the endpoint itself
// changing.
type Peer struct {
	IP   string
	Port int
}

// String renders the peer as a host:port pair suitable for net.Dial.
func (p Peer) String() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}
