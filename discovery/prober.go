package discovery

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/thrasher-corp/lsd/transport"
)

// DefaultSocketPingTimeout bounds how long a single host probe waits for a
// reply before the host is dropped from this tick's result.
const DefaultSocketPingTimeout = time.Second

// ServiceConfig names the service a Collector discovers hosts and handles
// for, matching the `services[]` entries recognized under lsd_config.
type ServiceConfig struct {
	Name        string
	AppName     string
	Instance    string
	HostsURL    string
	ControlPort int
}

// HandleInfo is one handle a host advertised for a service, extracted from
// that host's metadata probe reply.
type HandleInfo struct {
	Name        string
	ServiceName string
	Port        int
}

type infoRequest struct {
	Version int    `json:"version"`
	Action  string `json:"action"`
}

type infoResponse struct {
	Apps map[string]appInfo `json:"apps"`
}

type appInfo struct {
	Running bool                `json:"running"`
	Tasks   map[string]taskInfo `json:"tasks"`
}

type taskInfo struct {
	Type     string `json:"type"`
	Endpoint string `json:"endpoint"`
	Route    string `json:"route"`
}

// Prober opens an ephemeral request/reply connection to a single host and
// asks for its metadata.
type Prober struct {
	Dialer  transport.Dialer
	Timeout time.Duration
}

// NewProber builds a Prober dialing through dialer with
// DefaultSocketPingTimeout.
func NewProber(dialer transport.Dialer) *Prober {
	return &Prober{Dialer: dialer, Timeout: DefaultSocketPingTimeout}
}

// Probe dials (ip, svc.ControlPort), sends the info request, and parses the
// reply for svc.AppName's liveness and handle set. A dial, send, or
// timed-out/malformed reply all surface as an error; the caller drops the
// host for this tick rather than retrying within it.
func (p *Prober) Probe(ctx context.Context, ip string, svc ServiceConfig) (live bool, handles []HandleInfo, err error) {
	peer := transport.Peer{IP: ip, Port: svc.ControlPort}

	dialCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	conn, err := p.Dialer.Dial(dialCtx, peer)
	if err != nil {
		return false, nil, errors.Wrapf(err, "discovery: dialing %s", peer)
	}
	defer conn.Close()

	body, err := json.Marshal(infoRequest{Version: 2, Action: "info"})
	if err != nil {
		return false, nil, errors.Wrap(err, "discovery: encoding info request")
	}
	if err := conn.WriteFrames([][]byte{body}); err != nil {
		return false, nil, errors.Wrapf(err, "discovery: probing %s", peer)
	}

	frames, err := readFramesWithTimeout(conn, p.Timeout)
	if err != nil {
		return false, nil, errors.Wrapf(err, "discovery: reading reply from %s", peer)
	}
	if len(frames) == 0 {
		return false, nil, errors.Errorf("discovery: empty reply from %s", peer)
	}

	var reply infoResponse
	if err := json.Unmarshal(frames[0], &reply); err != nil {
		return false, nil, errors.Wrapf(err, "discovery: parsing reply from %s", peer)
	}

	app, ok := reply.Apps[svc.AppName]
	if !ok {
		return false, nil, nil
	}
	return app.Running, extractHandles(svc, app), nil
}

func extractHandles(svc ServiceConfig, app appInfo) []HandleInfo {
	var handles []HandleInfo
	for name, task := range app.Tasks {
		if task.Type != "server+lsd" {
			continue
		}
		if instancePrefix(task.Route) != svc.Instance {
			continue
		}
		port := portFromEndpoint(task.Endpoint)
		if port == 0 {
			continue
		}
		handles = append(handles, HandleInfo{Name: name, ServiceName: svc.Name, Port: port})
	}
	return handles
}

func instancePrefix(route string) string {
	if i := strings.Index(route, "/"); i >= 0 {
		return route[:i]
	}
	return route
}

func portFromEndpoint(endpoint string) int {
	i := strings.LastIndex(endpoint, ":")
	if i < 0 || i == len(endpoint)-1 {
		return 0
	}
	port, err := strconv.Atoi(endpoint[i+1:])
	if err != nil || port <= 0 {
		return 0
	}
	return port
}

type readResult struct {
	frames [][]byte
	err    error
}

// readFramesWithTimeout bounds a Conn.ReadFrames call that has no deadline
// knob of its own. The read goroutine is abandoned (not canceled) on
// timeout; it exits whenever the peer eventually answers or the connection
// is closed by the caller's subsequent conn.Close().
func readFramesWithTimeout(conn transport.Conn, timeout time.Duration) ([][]byte, error) {
	ch := make(chan readResult, 1)
	go func() {
		frames, err := conn.ReadFrames()
		ch <- readResult{frames: frames, err: err}
	}()
	select {
	case r := <-ch:
		return r.frames, r.err
	case <-time.After(timeout):
		return nil, errors.New("discovery: timed out waiting for probe reply")
	}
}
