package camprobe

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// ConnState is the state of one RTSP connection
type ConnState int

const (
	StateNotStarted ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
	StateDisconnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// MediaInfo describes the tracks announced by a stream
type MediaInfo struct {
	HasAudio   bool
	AudioCodec string
}

// Link is an open RTSP control connection
type Link interface {
	// Ping checks that the server still answers requests
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens RTSP connections. The context carries the attempt deadline.
type Dialer interface {
	Dial(ctx context.Context, rtspURL string, auth *Auth) (Link, MediaInfo, error)
}

// Negotiator finds a working stream path on a device and watches the
// resulting connection.
type Negotiator struct {
	dialer        Dialer
	userAgent     string
	timeout       time.Duration
	checkInterval time.Duration
	onStateChange func(rtspURL string, from, to ConnState)
	logger        zerolog.Logger
}

// NegotiatorOption configures a Negotiator
type NegotiatorOption func(*Negotiator)

// WithDialer replaces the RTSP transport
func WithDialer(d Dialer) NegotiatorOption {
	return func(n *Negotiator) {
		n.dialer = d
	}
}

// WithConnectTimeout sets the default timeout of a single attempt
func WithConnectTimeout(d time.Duration) NegotiatorOption {
	return func(n *Negotiator) {
		n.timeout = d
	}
}

// WithCheckInterval sets how often stability monitoring checks liveness
func WithCheckInterval(d time.Duration) NegotiatorOption {
	return func(n *Negotiator) {
		n.checkInterval = d
	}
}

// WithStateHook registers a callback for connection state transitions
func WithStateHook(fn func(rtspURL string, from, to ConnState)) NegotiatorOption {
	return func(n *Negotiator) {
		n.onStateChange = fn
	}
}

// WithRTSPUserAgent sets the User-Agent of the default dialer
func WithRTSPUserAgent(ua string) NegotiatorOption {
	return func(n *Negotiator) {
		n.userAgent = ua
	}
}

// WithNegotiatorLogger sets the logger
func WithNegotiatorLogger(logger zerolog.Logger) NegotiatorOption {
	return func(n *Negotiator) {
		n.logger = logger
	}
}

// NewNegotiator creates an RTSP negotiator backed by gortsplib unless another
// dialer is supplied.
func NewNegotiator(options ...NegotiatorOption) *Negotiator {
	n := &Negotiator{
		userAgent:     DefaultUserAgent,
		timeout:       DefaultConnectTimeout,
		checkInterval: DefaultStabilityInterval,
		logger:        zerolog.Nop(),
	}
	for _, option := range options {
		option(n)
	}
	if n.dialer == nil {
		n.dialer = NewRTSPDialer(n.userAgent)
	}
	return n
}

var rtspURLPattern = regexp.MustCompile(`^rtsp://([0-9.]+):([0-9]{1,5})/(\S*)$`)

// IsValidRTSPURL reports whether s has the shape rtsp://<ipv4>:<port>/<path>
func IsValidRTSPURL(s string) bool {
	return ValidateRTSPURL(s) == nil
}

// ValidateRTSPURL explains why s is not an rtsp://<ipv4>:<port>/<path> URL
func ValidateRTSPURL(s string) error {
	m := rtspURLPattern.FindStringSubmatch(s)
	if m == nil {
		return errors.NotValidf("RTSP URL %q", s)
	}
	if ip := net.ParseIP(m[1]); ip == nil || ip.To4() == nil || strings.Count(m[1], ".") != 3 {
		return errors.NotValidf("host %q of RTSP URL", m[1])
	}
	if port, err := strconv.Atoi(m[2]); err != nil || port < 1 || port > 65535 {
		return errors.NotValidf("port %q of RTSP URL", m[2])
	}
	return nil
}

// StreamURL builds rtsp://ip:port/path
func StreamURL(ip string, port int, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("rtsp://%s%s", net.JoinHostPort(ip, strconv.Itoa(port)), path)
}

// Connect makes one connection attempt and closes it again. A zero timeout
// uses the negotiator default.
func (n *Negotiator) Connect(ctx context.Context, rtspURL string, auth *Auth, timeout time.Duration) ConnectionResult {
	link, result, _ := n.attempt(ctx, rtspURL, auth, timeout)
	if link != nil {
		_ = link.Close()
	}
	return result
}

// ConnectWithFallback tries each path of cfg in order and stops at the first
// that connects. Paths are never tried in parallel. Invalid input is rejected
// with a NotValid error before any connection is made; when every path fails
// the result carries the failure class of the last attempt and the error is a
// *ConnectError.
func (n *Negotiator) ConnectWithFallback(ctx context.Context, cfg ConnectionConfig) (StreamConnectionResult, error) {
	urls, paths, err := fallbackURLs(cfg)
	if err != nil {
		return StreamConnectionResult{ErrorMessage: FailureInvalidURL.Message()}, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = n.timeout
	}

	var (
		result   StreamConnectionResult
		lastKind = FailureTimeout
		lastErr  error
	)
	start := time.Now()
	for i, rtspURL := range urls {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		result.AttemptedPaths = append(result.AttemptedPaths, paths[i])

		link, attempt, err := n.attempt(ctx, rtspURL, cfg.Auth, timeout)
		if attempt.Success {
			_ = link.Close()
			result.Connected = true
			result.SuccessfulPath = paths[i]
			result.StreamURL = rtspURL
			result.HasAudioTrack = attempt.HasAudioTrack
			result.AudioCodec = attempt.AudioCodec
			result.ConnectionTimeMs = time.Since(start).Milliseconds()

			n.logger.Info().Str("url", rtspURL).Int64("elapsed_ms", result.ConnectionTimeMs).Msg("stream path negotiated")
			return result, nil
		}
		lastKind, lastErr = attempt.Failure, err
	}

	result.ConnectionTimeMs = time.Since(start).Milliseconds()
	cerr := &ConnectError{Kind: lastKind, Paths: result.AttemptedPaths, Cause: lastErr}
	result.ErrorMessage = cerr.Error()
	n.logger.Warn().Str("ip", cfg.IP).Strs("paths", result.AttemptedPaths).Str("failure", string(lastKind)).Msg("no stream path connected")
	return result, cerr
}

func fallbackURLs(cfg ConnectionConfig) ([]string, []string, error) {
	ip := net.ParseIP(cfg.IP)
	if ip == nil || ip.To4() == nil {
		return nil, nil, errors.NotValidf("IP address %q", cfg.IP)
	}
	port := cfg.RTSPPort
	if port == 0 {
		port = DefaultRTSPPort
	}
	if port < 1 || port > 65535 {
		return nil, nil, errors.NotValidf("RTSP port %d", cfg.RTSPPort)
	}

	paths := cfg.Paths
	if len(paths) == 0 {
		paths = DefaultFallbackPaths
	}

	urls := make([]string, 0, len(paths))
	for _, path := range paths {
		u := StreamURL(cfg.IP, port, path)
		if err := ValidateRTSPURL(u); err != nil {
			return nil, nil, errors.Annotatef(err, "path %q", path)
		}
		urls = append(urls, u)
	}
	return urls, paths, nil
}

// attempt runs NotStarted -> Connecting -> Connected|Failed for one URL. The
// returned link is non-nil only on success and belongs to the caller.
func (n *Negotiator) attempt(ctx context.Context, rtspURL string, auth *Auth, timeout time.Duration) (Link, ConnectionResult, error) {
	if err := ValidateRTSPURL(rtspURL); err != nil {
		return nil, ConnectionResult{Failure: FailureInvalidURL, ErrorMessage: FailureInvalidURL.Message()}, err
	}
	if timeout <= 0 {
		timeout = n.timeout
	}

	n.transition(rtspURL, StateNotStarted, StateConnecting)
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	link, media, err := n.dialer.Dial(actx, rtspURL, auth)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		kind := classifyRTSPError(err)
		if kind == FailureUnknown && actx.Err() != nil {
			kind = FailureTimeout
		}
		n.transition(rtspURL, StateConnecting, StateFailed)
		n.logger.Debug().Err(err).Str("url", rtspURL).Str("failure", string(kind)).Msg("RTSP attempt failed")
		return nil, ConnectionResult{
			Failure:          kind,
			ErrorMessage:     kind.Message(),
			ConnectionTimeMs: elapsed,
		}, err
	}

	n.transition(rtspURL, StateConnecting, StateConnected)
	return link, ConnectionResult{
		Success:          true,
		HasAudioTrack:    media.HasAudio,
		AudioCodec:       media.AudioCodec,
		ConnectionTimeMs: elapsed,
	}, nil
}

func (n *Negotiator) transition(rtspURL string, from, to ConnState) {
	if n.onStateChange != nil {
		n.onStateChange(rtspURL, from, to)
	}
}

// Session is an open stream connection kept for stability monitoring
type Session struct {
	n     *Negotiator
	url   string
	auth  *Auth
	media MediaInfo

	mu    sync.Mutex
	link  Link
	state ConnState
}

// Open connects to rtspURL and keeps the connection for monitoring. The
// caller must Close the session.
func (n *Negotiator) Open(ctx context.Context, rtspURL string, auth *Auth) (*Session, error) {
	link, result, err := n.attempt(ctx, rtspURL, auth, n.timeout)
	if err != nil {
		return nil, errors.Annotatef(err, "open %s: %s", rtspURL, result.Failure.Message())
	}
	return &Session{
		n:     n,
		url:   rtspURL,
		auth:  auth,
		media: MediaInfo{HasAudio: result.HasAudioTrack, AudioCodec: result.AudioCodec},
		link:  link,
		state: StateConnected,
	}, nil
}

// URL returns the stream URL of the session
func (s *Session) URL() string { return s.url }

// Media returns the tracks announced when the session was opened
func (s *Session) Media() MediaInfo { return s.media }

// State returns the current connection state
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close releases the connection
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return nil
	}
	err := s.link.Close()
	s.link = nil
	s.state = StateDisconnected
	return err
}

func (s *Session) setState(to ConnState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from != to {
		s.n.transition(s.url, from, to)
	}
}
