package camprobe

import (
	"context"
	stderrors "errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

// Prober sends a WS-Discovery Probe to the multicast group and collects the
// ProbeMatch answers.
type Prober struct {
	groupAddr    string
	pollInterval time.Duration
	logger       zerolog.Logger
}

// ProberOption configures a Prober
type ProberOption func(*Prober)

// WithGroupAddr overrides the WS-Discovery group address
func WithGroupAddr(addr string) ProberOption {
	return func(p *Prober) {
		p.groupAddr = addr
	}
}

// WithPollInterval sets how long a single receive call may block
func WithPollInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		p.pollInterval = d
	}
}

// WithProberLogger sets the logger
func WithProberLogger(logger zerolog.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = logger
	}
}

// NewProber creates a WS-Discovery prober
func NewProber(options ...ProberOption) *Prober {
	p := &Prober{
		groupAddr:    DefaultMulticastAddr,
		pollInterval: 200 * time.Millisecond,
		logger:       zerolog.Nop(),
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Probe sends one Probe and listens until timeout elapses or ctx is done. The
// endpoints gathered so far are returned on cancellation; an error means the
// socket could not be opened or the probe could not be sent.
func (p *Prober) Probe(ctx context.Context, timeout time.Duration) ([]Endpoint, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}

	group, err := net.ResolveUDPAddr("udp4", p.groupAddr)
	if err != nil {
		return nil, errors.NotValidf("multicast address %q", p.groupAddr)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, errors.Annotate(err, "failed to create UDP connection")
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	joined := p.joinGroup(pc, group)
	defer func() {
		for _, ifi := range joined {
			_ = pc.LeaveGroup(ifi, group)
		}
	}()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// A pending read returns as soon as the caller gives up
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	messageID := newMessageID()
	if _, err := conn.WriteToUDP([]byte(probeMessage(messageID)), group); err != nil {
		return nil, errors.Annotate(err, "failed to send probe message")
	}
	p.logger.Debug().Str("group", group.String()).Str("message_id", messageID).Msg("probe sent")

	found := make(map[string]Endpoint)
	var order []string
	buffer := make([]byte, 65536)

	for ctx.Err() == nil && time.Now().Before(deadline) {
		readDeadline := time.Now().Add(p.pollInterval)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		if err := conn.SetReadDeadline(readDeadline); err != nil {
			break
		}

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if stderrors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if stderrors.Is(err, net.ErrClosed) {
				break
			}
			p.logger.Debug().Err(err).Msg("discarding unreadable datagram")
			continue
		}

		for _, ep := range parseProbeMatches(buffer[:n], from.IP.String()) {
			existing, ok := found[ep.IP]
			if !ok {
				order = append(order, ep.IP)
				found[ep.IP] = ep
				p.logger.Debug().Str("ip", ep.IP).Str("url", ep.DeviceServiceURL).Msg("probe match")
				continue
			}
			existing.Types = mergeStrings(existing.Types, ep.Types)
			found[ep.IP] = existing
		}
	}

	endpoints := make([]Endpoint, 0, len(order))
	for _, ip := range order {
		endpoints = append(endpoints, found[ip])
	}
	return endpoints, nil
}

// joinGroup joins the discovery group on every multicast-capable interface.
// Receiving unicast ProbeMatches does not depend on membership, so failures
// here are logged and ignored.
func (p *Prober) joinGroup(pc *ipv4.PacketConn, group *net.UDPAddr) []*net.Interface {
	if !group.IP.IsMulticast() {
		return nil
	}

	var joined []*net.Interface
	ifaces, err := net.Interfaces()
	if err != nil {
		p.logger.Debug().Err(err).Msg("cannot list interfaces")
	}
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		if err := pc.JoinGroup(ifi, group); err != nil {
			p.logger.Debug().Err(err).Str("iface", ifi.Name).Msg("join group failed")
			continue
		}
		joined = append(joined, ifi)
	}
	if len(joined) == 0 {
		if err := pc.JoinGroup(nil, group); err == nil {
			joined = append(joined, nil)
		}
	}
	return joined
}

// parseProbeMatches extracts endpoints from a ProbeMatches datagram. The IP
// always comes from the packet sender, never from the payload. Matches without
// XAddrs are dropped.
func parseProbeMatches(payload []byte, senderIP string) []Endpoint {
	var endpoints []Endpoint
	for _, match := range ParseXML(payload).FindAll("ProbeMatch") {
		xaddrs := strings.Fields(match.Text("XAddrs"))
		if len(xaddrs) == 0 {
			continue
		}

		name, location, hardware := parseScopes(match.Text("Scopes"))
		endpoints = append(endpoints, Endpoint{
			IP:               senderIP,
			DeviceServiceURL: pickXAddr(xaddrs, senderIP),
			Types:            strings.Fields(match.Text("Types")),
			Source:           SourceMulticast,
			Name:             name,
			Location:         location,
			Hardware:         hardware,
		})
	}
	return endpoints
}

// pickXAddr prefers the advertised address that points back at the sender
func pickXAddr(xaddrs []string, senderIP string) string {
	for _, x := range xaddrs {
		if u, err := url.Parse(x); err == nil && u.Hostname() == senderIP {
			return x
		}
	}
	return xaddrs[0]
}

func parseScopes(scopes string) (name, location, hardware string) {
	for _, scope := range strings.Fields(scopes) {
		switch {
		case strings.HasPrefix(scope, "onvif://www.onvif.org/name/"):
			name = scopeValue(scope, "onvif://www.onvif.org/name/")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/location/"):
			location = scopeValue(scope, "onvif://www.onvif.org/location/")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/hardware/"):
			hardware = scopeValue(scope, "onvif://www.onvif.org/hardware/")
		}
	}
	return
}

func scopeValue(scope, prefix string) string {
	v := strings.TrimPrefix(scope, prefix)
	if unescaped, err := url.PathUnescape(v); err == nil {
		v = unescaped
	}
	return strings.ReplaceAll(v, "_", " ")
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
