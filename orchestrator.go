package camprobe

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ProbeRunner is the multicast half of discovery. *Prober implements it.
type ProbeRunner interface {
	Probe(ctx context.Context, timeout time.Duration) ([]Endpoint, error)
}

// SweepRunner is the unicast sweep half of discovery. *Scanner implements it.
type SweepRunner interface {
	Scan(ctx context.Context, subnet string) ([]Endpoint, error)
}

// Discoverer runs the multicast probe and the network sweep side by side
// under one deadline and merges what they find.
type Discoverer struct {
	prober        ProbeRunner
	sweeper       SweepRunner
	client        *Client
	auth          *Auth
	enrich        bool
	enrichTimeout time.Duration
	networkCheck  func() error
	grace         time.Duration
	logger        zerolog.Logger
}

// DiscovererOption configures a Discoverer
type DiscovererOption func(*Discoverer)

// WithProbeRunner replaces the multicast prober. Nil disables it.
func WithProbeRunner(p ProbeRunner) DiscovererOption {
	return func(d *Discoverer) {
		d.prober = p
	}
}

// WithSweepRunner replaces the sweep scanner. Nil disables it.
func WithSweepRunner(s SweepRunner) DiscovererOption {
	return func(d *Discoverer) {
		d.sweeper = s
	}
}

// WithEnrichment queries every endpoint with a device service URL for its
// capabilities, device information and profiles once discovery is over.
// Enrichment has its own time budget on top of the discovery timeout.
func WithEnrichment(client *Client, auth *Auth, timeout time.Duration) DiscovererOption {
	return func(d *Discoverer) {
		d.client = client
		d.auth = auth
		d.enrich = client != nil
		d.enrichTimeout = timeout
	}
}

// WithNetworkCheck sets the connectivity check run before discovery. Nil
// skips the check.
func WithNetworkCheck(fn func() error) DiscovererOption {
	return func(d *Discoverer) {
		d.networkCheck = fn
	}
}

// WithGracePeriod sets how long past the deadline Discover waits for
// sub-tasks to unwind.
func WithGracePeriod(grace time.Duration) DiscovererOption {
	return func(d *Discoverer) {
		d.grace = grace
	}
}

// WithDiscovererLogger sets the logger
func WithDiscovererLogger(logger zerolog.Logger) DiscovererOption {
	return func(d *Discoverer) {
		d.logger = logger
	}
}

// NewDiscoverer creates a discoverer with a default prober and scanner
func NewDiscoverer(options ...DiscovererOption) *Discoverer {
	d := &Discoverer{
		prober:        NewProber(),
		sweeper:       NewScanner(),
		enrichTimeout: DefaultSOAPTimeout,
		networkCheck:  CheckNetwork,
		grace:         250 * time.Millisecond,
		logger:        zerolog.Nop(),
	}
	for _, option := range options {
		option(d)
	}
	return d
}

// CheckNetwork fails with ErrNetworkUnavailable when no non-loopback IPv4
// interface is up.
func CheckNetwork() error {
	if localIPv4() == nil {
		return errors.Trace(ErrNetworkUnavailable)
	}
	return nil
}

// Discover returns the cameras found on subnet within timeout, at most one
// per IP. A multicast result always wins over a sweep result for the same
// IP. Order is by IP but callers should not depend on it.
//
// Only an invalid subnet or an unavailable network is reported as an error.
// Timeouts and unresponsive hosts are normal: whatever was found is returned.
func (d *Discoverer) Discover(ctx context.Context, subnet string, timeout time.Duration) ([]Endpoint, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	if strings.TrimSpace(subnet) != "" {
		if _, err := ParseSubnet(subnet); err != nil {
			return nil, err
		}
	}
	if d.networkCheck != nil {
		if err := d.networkCheck(); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	set := newEndpointSet()
	done := make(chan string, 2)
	tasks := 0

	if d.prober != nil {
		tasks++
		go func() {
			defer func() { done <- "multicast" }()
			found, err := d.prober.Probe(dctx, timeout)
			if err != nil {
				d.logger.Warn().Err(err).Msg("multicast probe failed")
			}
			for _, ep := range found {
				ep.Source = SourceMulticast
				set.add(ep)
			}
		}()
	}
	if d.sweeper != nil {
		tasks++
		go func() {
			defer func() { done <- "sweep" }()
			found, err := d.sweeper.Scan(dctx, subnet)
			if err != nil {
				d.logger.Warn().Err(err).Msg("network sweep failed")
			}
			for _, ep := range found {
				ep.Source = SourceSweep
				set.add(ep)
			}
		}()
	}

	// A task that ignores cancellation is abandoned after the grace period;
	// its late results land in a set nobody reads.
	hardStop := time.NewTimer(timeout + d.grace)
	defer hardStop.Stop()
wait:
	for tasks > 0 {
		select {
		case <-done:
			tasks--
		case <-hardStop.C:
			d.logger.Warn().Int("pending", tasks).Msg("discovery task did not stop in time")
			break wait
		}
	}

	endpoints := set.list()
	if d.enrich && len(endpoints) > 0 && ctx.Err() == nil {
		endpoints = d.enrichAll(ctx, endpoints)
	}

	d.logger.Info().
		Int("found", len(endpoints)).
		Dur("elapsed", time.Since(start)).
		Msg("discovery finished")
	return endpoints, nil
}

func (d *Discoverer) enrichAll(ctx context.Context, endpoints []Endpoint) []Endpoint {
	ectx, cancel := context.WithTimeout(ctx, d.enrichTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ectx)
	g.SetLimit(8)
	for i := range endpoints {
		if endpoints[i].DeviceServiceURL == "" {
			continue
		}
		i := i
		g.Go(func() error {
			endpoints[i] = d.client.Enrich(gctx, endpoints[i], d.auth)
			return nil
		})
	}
	_ = g.Wait()
	return endpoints
}

// endpointSet is the one piece of state shared by the discovery tasks
type endpointSet struct {
	mu   sync.Mutex
	byIP map[string]Endpoint
}

func newEndpointSet() *endpointSet {
	return &endpointSet{byIP: make(map[string]Endpoint)}
}

// add applies the precedence rule: multicast replaces sweep, sweep never
// replaces anything, and repeated multicast answers merge their types.
func (s *endpointSet) add(ep Endpoint) {
	if ep.IP == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byIP[ep.IP]
	switch {
	case !ok:
		s.byIP[ep.IP] = ep
	case ep.Source != SourceMulticast:
	case existing.Source == SourceMulticast:
		existing.Types = mergeStrings(existing.Types, ep.Types)
		s.byIP[ep.IP] = existing
	default:
		s.byIP[ep.IP] = ep
	}
}

func (s *endpointSet) list() []Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoints := make([]Endpoint, 0, len(s.byIP))
	for _, ep := range s.byIP {
		endpoints = append(endpoints, ep)
	}
	sort.Slice(endpoints, func(i, j int) bool {
		return ipLess(endpoints[i].IP, endpoints[j].IP)
	})
	return endpoints
}
