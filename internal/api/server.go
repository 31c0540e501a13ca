// Package api exposes discovery, device queries, stream negotiation and PTZ
// control over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/use-go/camprobe"
)

// Discoverer finds cameras. *camprobe.Discoverer implements it.
type Discoverer interface {
	Discover(ctx context.Context, subnet string, timeout time.Duration) ([]camprobe.Endpoint, error)
}

// Negotiator finds a working stream path. *camprobe.Negotiator implements it.
type Negotiator interface {
	ConnectWithFallback(ctx context.Context, cfg camprobe.ConnectionConfig) (camprobe.StreamConnectionResult, error)
}

// Server holds the HTTP handlers
type Server struct {
	cfg        camprobe.Config
	discoverer Discoverer
	client     *camprobe.Client
	negotiator Negotiator
	metrics    *Metrics
	logger     zerolog.Logger
}

// NewServer wires the handlers to their backends
func NewServer(cfg camprobe.Config, d Discoverer, client *camprobe.Client, n Negotiator, logger zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		discoverer: d,
		client:     client,
		negotiator: n,
		metrics:    NewMetrics(),
		logger:     logger,
	}
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api")
	api.GET("/discover", s.discover)
	api.POST("/devices/info", s.deviceInfo)
	api.POST("/devices/profiles", s.deviceProfiles)
	api.POST("/stream/negotiate", s.negotiate)
	api.POST("/ptz/move", s.ptzMove)
	api.POST("/ptz/stop", s.ptzStop)
	return r
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// abort maps error classes onto HTTP statuses
func (s *Server) abort(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, errors.NotValid):
		status = http.StatusBadRequest
	case errors.Is(err, errors.Unauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, camprobe.ErrNetworkUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, errors.Timeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func (s *Server) discover(c *gin.Context) {
	subnet := c.DefaultQuery("subnet", s.cfg.Subnet)
	timeout := s.cfg.DiscoveryTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.abort(c, errors.NotValidf("timeout %q", raw))
			return
		}
		timeout = d
	}

	start := time.Now()
	endpoints, err := s.discoverer.Discover(c.Request.Context(), subnet, timeout)
	s.metrics.discoverDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.abort(c, err)
		return
	}
	s.metrics.discovered.Set(float64(len(endpoints)))

	c.JSON(http.StatusOK, gin.H{"count": len(endpoints), "endpoints": endpoints})
}

type deviceRequest struct {
	DeviceServiceURL string `json:"deviceServiceUrl" binding:"required"`
	MediaServiceURL  string `json:"mediaServiceUrl"`
	PTZServiceURL    string `json:"ptzServiceUrl"`
	ProfileToken     string `json:"profileToken"`
	Username         string `json:"username"`
	Password         string `json:"password"`
}

func (r deviceRequest) endpoint() (camprobe.Endpoint, error) {
	ep, err := camprobe.NewEndpoint(r.DeviceServiceURL)
	if err != nil {
		return camprobe.Endpoint{}, err
	}
	ep.Capabilities.MediaServiceURL = r.MediaServiceURL
	ep.Capabilities.PTZServiceURL = r.PTZServiceURL
	ep.ProfileToken = r.ProfileToken
	return ep, nil
}

func (r deviceRequest) auth() *camprobe.Auth {
	if r.Username == "" {
		return nil
	}
	return &camprobe.Auth{Username: r.Username, Password: r.Password}
}

func (s *Server) bindDevice(c *gin.Context, req any, dr *deviceRequest) (camprobe.Endpoint, bool) {
	if err := c.ShouldBindJSON(req); err != nil {
		s.abort(c, errors.NewNotValid(err, "request body"))
		return camprobe.Endpoint{}, false
	}
	ep, err := dr.endpoint()
	if err != nil {
		s.abort(c, err)
		return camprobe.Endpoint{}, false
	}
	return ep, true
}

func (s *Server) deviceInfo(c *gin.Context) {
	var req deviceRequest
	ep, ok := s.bindDevice(c, &req, &req)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	caps, err := s.client.GetCapabilities(ctx, ep, req.auth())
	if err != nil {
		s.abort(c, err)
		return
	}
	ep.Capabilities = caps

	info, err := s.client.GetDeviceInformation(ctx, ep, req.auth())
	if err != nil {
		s.abort(c, err)
		return
	}
	if hostname, err := s.client.GetHostname(ctx, ep, req.auth()); err == nil {
		info.Hostname = hostname
	}
	ep.Info = info

	c.JSON(http.StatusOK, ep)
}

type profileView struct {
	camprobe.MediaProfile
	StreamURI string `json:"streamUri,omitempty"`
}

func (s *Server) deviceProfiles(c *gin.Context) {
	var req deviceRequest
	ep, ok := s.bindDevice(c, &req, &req)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	profiles, err := s.client.GetProfiles(ctx, ep, req.auth())
	if err != nil {
		s.abort(c, err)
		return
	}

	views := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		uri, _ := s.client.GetStreamURI(ctx, ep, p.Token, req.auth())
		views = append(views, profileView{MediaProfile: p, StreamURI: uri})
	}
	c.JSON(http.StatusOK, gin.H{"profiles": views})
}

type negotiateRequest struct {
	IP        string   `json:"ip" binding:"required"`
	RTSPPort  int      `json:"rtspPort"`
	Paths     []string `json:"paths"`
	TimeoutMs int64    `json:"timeoutMs"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
}

func (s *Server) negotiate(c *gin.Context) {
	var req negotiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, errors.NewNotValid(err, "request body"))
		return
	}

	cfg := camprobe.ConnectionConfig{
		IP:       req.IP,
		RTSPPort: req.RTSPPort,
		Paths:    req.Paths,
		Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
	}
	if cfg.RTSPPort == 0 {
		cfg.RTSPPort = s.cfg.RTSPPort
	}
	if len(cfg.Paths) == 0 {
		cfg.Paths = s.cfg.RTSPPaths
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = s.cfg.ConnectTimeout
	}
	if req.Username != "" {
		cfg.Auth = &camprobe.Auth{Username: req.Username, Password: req.Password}
	} else {
		cfg.Auth = s.cfg.Auth()
	}

	result, err := s.negotiator.ConnectWithFallback(c.Request.Context(), cfg)
	var connectErr *camprobe.ConnectError
	switch {
	case err == nil:
		s.metrics.negotiations.WithLabelValues("connected").Inc()
		c.JSON(http.StatusOK, result)
	case errors.As(err, &connectErr):
		s.metrics.negotiations.WithLabelValues("failed").Inc()
		c.JSON(http.StatusBadGateway, result)
	default:
		s.metrics.negotiations.WithLabelValues("invalid").Inc()
		s.abort(c, err)
	}
}

type ptzMoveRequest struct {
	deviceRequest
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

func (s *Server) ptzMove(c *gin.Context) {
	var req ptzMoveRequest
	ep, ok := s.bindDevice(c, &req, &req.deviceRequest)
	if !ok {
		return
	}
	for name, v := range map[string]float64{"x": req.X, "y": req.Y, "zoom": req.Zoom} {
		if v < -1 || v > 1 {
			s.abort(c, errors.NotValidf("%s velocity %v", name, v))
			return
		}
	}

	v := camprobe.Velocity{PanX: req.X, TiltY: req.Y, Zoom: req.Zoom}
	err := s.client.PTZContinuousMove(c.Request.Context(), ep, v, req.auth())
	s.metrics.ptzCommands.WithLabelValues("move", resultLabel(err)).Inc()
	if err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ptzStop(c *gin.Context) {
	var req deviceRequest
	ep, ok := s.bindDevice(c, &req, &req)
	if !ok {
		return
	}

	err := s.client.PTZStop(c.Request.Context(), ep, req.auth())
	s.metrics.ptzCommands.WithLabelValues("stop", resultLabel(err)).Inc()
	if err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
