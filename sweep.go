package camprobe

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Scanner sweeps a /24 for hosts answering RTSP OPTIONS on well-known camera
// ports. It is the fallback for networks that drop multicast.
type Scanner struct {
	rtspPorts    []int
	onvifPorts   []int
	paths        []string
	reachTimeout time.Duration
	probeTimeout time.Duration
	interval     time.Duration
	concurrency  int
	userAgent    string
	logger       zerolog.Logger
}

// ScannerOption configures a Scanner
type ScannerOption func(*Scanner)

// WithRTSPPorts sets the ports probed with OPTIONS
func WithRTSPPorts(ports ...int) ScannerOption {
	return func(s *Scanner) {
		s.rtspPorts = ports
	}
}

// WithONVIFPorts sets the HTTP ports recorded as a hint for ONVIF services
func WithONVIFPorts(ports ...int) ScannerOption {
	return func(s *Scanner) {
		s.onvifPorts = ports
	}
}

// WithSweepPaths sets the RTSP paths tried on every open port
func WithSweepPaths(paths ...string) ScannerOption {
	return func(s *Scanner) {
		s.paths = paths
	}
}

// WithReachTimeout sets the per-host reachability timeout
func WithReachTimeout(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		s.reachTimeout = d
	}
}

// WithProbeTimeout sets the timeout of one OPTIONS exchange
func WithProbeTimeout(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		s.probeTimeout = d
	}
}

// WithSweepInterval sets the delay between two hosts. Zero disables pacing.
func WithSweepInterval(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		s.interval = d
	}
}

// WithSweepConcurrency bounds the number of hosts probed at once
func WithSweepConcurrency(n int) ScannerOption {
	return func(s *Scanner) {
		s.concurrency = n
	}
}

// WithSweepUserAgent sets the User-Agent of OPTIONS requests
func WithSweepUserAgent(ua string) ScannerOption {
	return func(s *Scanner) {
		s.userAgent = ua
	}
}

// WithScannerLogger sets the logger
func WithScannerLogger(logger zerolog.Logger) ScannerOption {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// NewScanner creates a network sweep scanner
func NewScanner(options ...ScannerOption) *Scanner {
	s := &Scanner{
		rtspPorts:    DefaultRTSPPorts,
		onvifPorts:   DefaultONVIFPorts,
		paths:        DefaultSweepPaths,
		reachTimeout: DefaultReachTimeout,
		probeTimeout: time.Second,
		interval:     DefaultSweepInterval,
		concurrency:  DefaultSweepConcurrency,
		userAgent:    DefaultUserAgent,
		logger:       zerolog.Nop(),
	}
	for _, option := range options {
		option(s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	return s
}

// Scan probes hosts 1-254 of the /24 holding subnet. An empty subnet means
// the local network. The sweep has no deadline of its own: it stops when ctx
// is done and returns what it found so far. The only error is an invalid
// subnet, reported before any packet is sent.
func (s *Scanner) Scan(ctx context.Context, subnet string) ([]Endpoint, error) {
	base, err := s.resolveSubnet(subnet)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if s.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.interval), 1)
	}

	var (
		mu    sync.Mutex
		found []Endpoint
		g     errgroup.Group
	)
	g.SetLimit(s.concurrency)

	start := time.Now()
	for _, host := range HostRange(base) {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		} else if ctx.Err() != nil {
			break
		}

		host := host
		g.Go(func() error {
			if ep, ok := s.probeHost(ctx, host); ok {
				mu.Lock()
				found = append(found, ep)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(found, func(i, j int) bool {
		return ipLess(found[i].IP, found[j].IP)
	})

	s.logger.Info().
		Str("subnet", base.String()+"/24").
		Int("found", len(found)).
		Dur("elapsed", time.Since(start)).
		Bool("cancelled", ctx.Err() != nil).
		Msg("sweep finished")

	return found, nil
}

func (s *Scanner) resolveSubnet(subnet string) (net.IP, error) {
	if strings.TrimSpace(subnet) == "" {
		return LocalSubnet(), nil
	}
	return ParseSubnet(subnet)
}

// probeHost checks reachability, then tries every (port, path) pair on the
// open RTSP ports until one answers like a camera.
func (s *Scanner) probeHost(ctx context.Context, ip string) (Endpoint, bool) {
	reachable, open := s.reach(ctx, ip)
	if !reachable {
		return Endpoint{}, false
	}

	ep := Endpoint{IP: ip, Source: SourceSweep}
	for _, port := range s.onvifPorts {
		if open[port] {
			ep.ONVIFPort = port
			break
		}
	}

	for _, port := range s.rtspPorts {
		if !open[port] {
			continue
		}
		addr := net.JoinHostPort(ip, strconv.Itoa(port))
		for _, path := range s.paths {
			if ctx.Err() != nil {
				return Endpoint{}, false
			}
			rtspURL := fmt.Sprintf("rtsp://%s%s", addr, path)
			code, err := ProbeRTSP(ctx, addr, rtspURL, s.userAgent, s.probeTimeout)
			if err != nil || !isCameraStatus(code) {
				// not a camera at this combination
				continue
			}

			ep.Name = fmt.Sprintf("RTSP Camera (%s)", addr)
			ep.RTSPPort = port
			ep.RTSPPath = path
			s.logger.Debug().Str("ip", ip).Int("port", port).Str("path", path).Int("status", code).Msg("camera found")
			return ep, true
		}
	}
	return Endpoint{}, false
}

// reach dials every candidate port at once. A host is up when any port
// accepts or actively refuses the connection; silence on all of them means
// the host is down.
func (s *Scanner) reach(ctx context.Context, ip string) (bool, map[int]bool) {
	ports := append(append([]int(nil), s.rtspPorts...), s.onvifPorts...)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		open    = make(map[int]bool)
		refused bool
	)
	for _, port := range ports {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, s.reachTimeout)
			defer cancel()

			var d net.Dialer
			conn, err := d.DialContext(dctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				conn.Close()
				open[port] = true
				return
			}
			if stderrors.Is(err, syscall.ECONNREFUSED) {
				refused = true
			}
		}(port)
	}
	wg.Wait()

	return len(open) > 0 || refused, open
}

// ParseSubnet accepts "a.b.c.d/nn", "a.b.c.d" or "a.b.c" and returns the
// network address of the enclosing /24.
func ParseSubnet(subnet string) (net.IP, error) {
	subnet = strings.TrimSpace(subnet)

	var ip net.IP
	switch {
	case strings.Contains(subnet, "/"):
		parsed, _, err := net.ParseCIDR(subnet)
		if err != nil {
			return nil, errors.NotValidf("subnet %q", subnet)
		}
		ip = parsed
	case strings.Count(subnet, ".") == 2:
		ip = net.ParseIP(subnet + ".0")
	default:
		ip = net.ParseIP(subnet)
	}

	ip = ip.To4()
	if ip == nil {
		return nil, errors.NotValidf("subnet %q", subnet)
	}
	return ip.Mask(net.CIDRMask(24, 32)), nil
}

// LocalSubnet returns the /24 of the first usable IPv4 interface, preferring
// wireless interfaces, and falls back to a common home subnet.
func LocalSubnet() net.IP {
	if ip := localIPv4(); ip != nil {
		return ip.Mask(net.CIDRMask(24, 32))
	}
	ip, _ := ParseSubnet(DefaultFallbackSubnet)
	return ip
}

func localIPv4() net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var fallback net.IP
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil || ip.IsLinkLocalUnicast() {
				continue
			}
			if strings.HasPrefix(ifi.Name, "wl") {
				return ip
			}
			if fallback == nil {
				fallback = ip
			}
		}
	}
	return fallback
}

// HostRange lists hosts .1 to .254 of a /24 network address
func HostRange(base net.IP) []string {
	b := base.To4()
	if b == nil {
		return nil
	}
	hosts := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		hosts = append(hosts, net.IPv4(b[0], b[1], b[2], byte(i)).String())
	}
	return hosts
}

func ipLess(a, b string) bool {
	ia, ib := net.ParseIP(a).To4(), net.ParseIP(b).To4()
	if ia == nil || ib == nil {
		return a < b
	}
	for i := 0; i < 4; i++ {
		if ia[i] != ib[i] {
			return ia[i] < ib[i]
		}
	}
	return false
}
