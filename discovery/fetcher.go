package discovery

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/thrasher-corp/lsd/log"
)

// DefaultFetchInterval is how often a Fetcher re-GETs its service's
// hosts_url when the caller does not specify one.
const DefaultFetchInterval = 30 * time.Second

// nopLogger is used when Fetcher.Logger is left nil.
var nopLogger = &log.SubLogger{}

// Fetcher periodically GETs a service's hosts_url and atomically replaces
// its cached host list. The body is parsed leniently: one IPv4 literal per
// line, malformed lines skipped rather than failing the whole fetch.
type Fetcher struct {
	URL      string
	Interval time.Duration
	Client   *http.Client
	Logger   *log.SubLogger

	limiter *rate.Limiter

	mu      sync.Mutex
	hosts   []string
	weights map[string]int
}

// NewFetcher builds a Fetcher for url, polling at interval (or
// DefaultFetchInterval if non-positive). The limiter caps fetch attempts at
// one per interval even if the caller drives Run faster than that.
func NewFetcher(url string, interval time.Duration) *Fetcher {
	if interval <= 0 {
		interval = DefaultFetchInterval
	}
	return &Fetcher{
		URL:      url,
		Interval: interval,
		Client:   http.DefaultClient,
		Logger:   nopLogger,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Hosts returns the most recently fetched host list.
func (f *Fetcher) Hosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.hosts))
	copy(out, f.hosts)
	return out
}

// Weight returns the load-biasing weight parsed for host, or 1 if the
// hosts_url body didn't carry a ",weight" suffix for it. No other component
// reads it; peer selection stays the transport socket's concern.
func (f *Fetcher) Weight(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.weights[host]; ok {
		return w
	}
	return 1
}

// Run fetches once immediately, then again every Interval, until ctx is
// canceled. Fetch errors are logged and do not stop the loop; the next
// tick retries from scratch.
func (f *Fetcher) Run(ctx context.Context) {
	f.fetchOnce(ctx)
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.fetchOnce(ctx)
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context) {
	if err := f.limiter.Wait(ctx); err != nil {
		return
	}
	hosts, weights, err := f.fetch(ctx)
	if err != nil {
		f.Logger.Warnf("discovery: fetching %s: %v", f.URL, err)
		return
	}
	f.mu.Lock()
	f.hosts, f.weights = hosts, weights
	f.mu.Unlock()
}

func (f *Fetcher) fetch(ctx context.Context) ([]string, map[string]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "discovery: building request")
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "discovery: requesting hosts")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, errors.Errorf("discovery: hosts_url returned status %d", resp.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, nil, errors.Wrap(err, "discovery: reading hosts body")
	}
	hosts, weights := parseHostsBodyWeighted(buf.Bytes())
	return hosts, weights, nil
}

// parseHostsBody parses one IPv4 literal per line, skipping blank or
// malformed lines rather than failing the whole fetch on one bad entry.
func parseHostsBody(body []byte) []string {
	hosts, _ := parseHostsBodyWeighted(body)
	return hosts
}

// parseHostsBodyWeighted additionally accepts an optional ",weight" suffix
// per line (e.g. "10.0.0.1,3"), defaulting to weight 1 when absent or
// unparseable.
func parseHostsBodyWeighted(body []byte) ([]string, map[string]int) {
	var hosts []string
	weights := make(map[string]int)
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		host, weight := line, 1
		if idx := strings.IndexByte(line, ','); idx >= 0 {
			host = strings.TrimSpace(line[:idx])
			if w, err := strconv.Atoi(strings.TrimSpace(line[idx+1:])); err == nil && w > 0 {
				weight = w
			}
		}

		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			continue
		}
		hosts = append(hosts, ip.String())
		weights[ip.String()] = weight
	}
	return hosts, weights
}
