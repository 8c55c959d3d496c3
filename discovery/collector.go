package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thrasher-corp/lsd/log"
)

// DefaultProbeInterval is hosts_ping_timeout's default: how often every
// cached host is re-probed.
const DefaultProbeInterval = 5 * time.Second

// RefreshFunc is a Service's refresh handler: the union of live hosts and
// the union of valid handles, after the consistency gate has logged any
// discrepancy between hosts.
type RefreshFunc func(aliveHosts []string, handles []HandleInfo)

// Collector ties a Fetcher and a Prober together for one service,
// implementing spec §4.4's pipeline: fetch hosts, probe each on an
// interval, reconcile the per-host results into a single consistent view,
// and hand that view to Callback.
type Collector struct {
	Service  ServiceConfig
	Fetcher  *Fetcher
	Prober   *Prober
	Interval time.Duration
	Callback RefreshFunc
	Logger   *log.SubLogger
}

// NewCollector builds a Collector for svc, fetching from svc.HostsURL and
// probing through prober.Dialer.
func NewCollector(svc ServiceConfig, prober *Prober) *Collector {
	return &Collector{
		Service:  svc,
		Fetcher:  NewFetcher(svc.HostsURL, DefaultFetchInterval),
		Prober:   prober,
		Interval: DefaultProbeInterval,
		Logger:   nopLogger,
	}
}

// Run launches the fetcher and drives the probe loop until ctx is
// canceled. Both exit when ctx is done; Run blocks until then.
func (c *Collector) Run(ctx context.Context) {
	go c.Fetcher.Run(ctx)

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

type hostResult struct {
	host    string
	live    bool
	handles []HandleInfo
}

func (c *Collector) tick(ctx context.Context) {
	hosts := c.Fetcher.Hosts()
	if len(hosts) == 0 {
		return
	}

	results := make([]hostResult, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i, h := range hosts {
		i, h := i, h
		g.Go(func() error {
			live, handles, err := c.Prober.Probe(gctx, h, c.Service)
			if err != nil {
				c.Logger.Debugf("discovery: probing %s for %s: %v", h, c.Service.Name, err)
				return nil
			}
			mu.Lock()
			results[i] = hostResult{host: h, live: live, handles: handles}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	aliveHosts, handleSet := c.reconcile(results)
	if c.Callback != nil {
		c.Callback(aliveHosts, handleSet)
	}
}

// reconcile implements the consistency gate: only hosts that answered
// live contribute, the handle set reported by every surviving host must be
// identical (discrepancies are logged, never fatal), and the union of
// handles is always emitted so dispatch can proceed even on disagreement.
func (c *Collector) reconcile(results []hostResult) ([]string, []HandleInfo) {
	var aliveHosts []string
	perHost := make(map[string]map[string]HandleInfo)

	for _, r := range results {
		if r.host == "" || !r.live {
			continue
		}
		aliveHosts = append(aliveHosts, r.host)
		set := make(map[string]HandleInfo, len(r.handles))
		for _, h := range r.handles {
			set[h.Name] = h
		}
		perHost[r.host] = set
	}

	union := make(map[string]HandleInfo)
	for _, set := range perHost {
		for name, h := range set {
			union[name] = h
		}
	}

	for host, set := range perHost {
		for name := range union {
			if _, ok := set[name]; !ok {
				c.Logger.Warnf("discovery: service %s: host %s did not advertise handle %s advertised elsewhere", c.Service.Name, host, name)
			}
		}
	}

	handles := make([]HandleInfo, 0, len(union))
	for _, h := range union {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Name < handles[j].Name })
	sort.Strings(aliveHosts)
	return aliveHosts, handles
}
