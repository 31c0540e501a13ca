// Package camprobe locates IP cameras on a local network and negotiates a usable
// ONVIF control endpoint and RTSP stream path for each of them.
package camprobe

import (
	"time"
)

// Source records which discovery strategy produced an endpoint
type Source string

const (
	SourceMulticast Source = "multicast"
	SourceSweep     Source = "sweep"
)

// Endpoint is a camera found on the network. Discovery keeps at most one per IP.
type Endpoint struct {
	IP               string   `json:"ip"`
	DeviceServiceURL string   `json:"deviceServiceUrl,omitempty"`
	Types            []string `json:"types,omitempty"`
	Source           Source   `json:"source"`

	// From WS-Discovery scopes, or a placeholder for sweep results
	Name     string `json:"name,omitempty"`
	Hardware string `json:"hardware,omitempty"`
	Location string `json:"location,omitempty"`

	// From the network sweep
	RTSPPort  int    `json:"rtspPort,omitempty"`
	RTSPPath  string `json:"rtspPath,omitempty"`
	ONVIFPort int    `json:"onvifPort,omitempty"`

	// Attached by enrichment
	Capabilities Capabilities   `json:"capabilities"`
	Info         DeviceInfo     `json:"info"`
	Profiles     []MediaProfile `json:"profiles,omitempty"`

	// ProfileToken selects the media profile used for PTZ and stream requests.
	// Empty means the device's first profile.
	ProfileToken string `json:"profileToken,omitempty"`
}

// Capabilities is the subset of GetCapabilities this package understands
type Capabilities struct {
	DeviceServiceURL  string `json:"deviceServiceUrl,omitempty"`
	MediaServiceURL   string `json:"mediaServiceUrl,omitempty"`
	PTZServiceURL     string `json:"ptzServiceUrl,omitempty"`
	ImagingServiceURL string `json:"imagingServiceUrl,omitempty"`
	HasPTZ            bool   `json:"hasPtz"`
	HasImaging        bool   `json:"hasImaging"`
	HasAudio          bool   `json:"hasAudio"`
	HasAnalytics      bool   `json:"hasAnalytics"`
	HasEvents         bool   `json:"hasEvents"`
}

// DeviceInfo mirrors GetDeviceInformation. Missing values are empty strings.
type DeviceInfo struct {
	Manufacturer    string `json:"manufacturer,omitempty"`
	Model           string `json:"model,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
	SerialNumber    string `json:"serialNumber,omitempty"`
	HardwareID      string `json:"hardwareId,omitempty"`
	Hostname        string `json:"hostname,omitempty"`
}

// MediaProfile is a tokenized media configuration on the device
type MediaProfile struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

// Auth holds credentials. A nil *Auth means anonymous requests.
type Auth struct {
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
}

// Velocity is a PTZ continuous-move speed vector, each axis in [-1, 1]
type Velocity struct {
	PanX  float64 `json:"x"`
	TiltY float64 `json:"y"`
	Zoom  float64 `json:"zoom"`
}

// ConnectionResult is the outcome of a single RTSP connect attempt
type ConnectionResult struct {
	Success          bool        `json:"success"`
	ErrorMessage     string      `json:"errorMessage,omitempty"`
	Failure          FailureKind `json:"failure,omitempty"`
	HasAudioTrack    bool        `json:"hasAudioTrack"`
	AudioCodec       string      `json:"audioCodec,omitempty"`
	ConnectionTimeMs int64       `json:"connectionTimeMs"`
}

// StreamConnectionResult is the outcome of negotiating across a path list.
// SuccessfulPath is empty iff Connected is false.
type StreamConnectionResult struct {
	Connected        bool     `json:"connected"`
	SuccessfulPath   string   `json:"successfulPath,omitempty"`
	StreamURL        string   `json:"streamUrl,omitempty"`
	AttemptedPaths   []string `json:"attemptedPaths"`
	HasAudioTrack    bool     `json:"hasAudioTrack"`
	AudioCodec       string   `json:"audioCodec,omitempty"`
	ConnectionTimeMs int64    `json:"connectionTimeMs"`
	ErrorMessage     string   `json:"errorMessage,omitempty"`
}

// ConnectionConfig describes one fallback negotiation
type ConnectionConfig struct {
	IP       string        `json:"ip"`
	RTSPPort int           `json:"rtspPort"`
	Paths    []string      `json:"paths"`
	Timeout  time.Duration `json:"timeout"`
	Auth     *Auth         `json:"auth,omitempty"`
}

// StabilityReport summarizes a stability monitoring window
type StabilityReport struct {
	WasStable              bool    `json:"wasStable"`
	UptimePercentage       float64 `json:"uptimePercentage"`
	DisconnectionCount     int     `json:"disconnectionCount"`
	AverageReconnectTimeMs int64   `json:"averageReconnectTimeMs"`
	ObservedMs             int64   `json:"observedMs"`
}

// IsProductionStable reports whether the window met the 98% uptime bar
func (r StabilityReport) IsProductionStable() bool {
	return r.WasStable && r.UptimePercentage >= ProductionUptimePercent
}

// Config gathers the settings callers supply to discovery and negotiation
type Config struct {
	Subnet            string        `mapstructure:"subnet"`
	DiscoveryTimeout  time.Duration `mapstructure:"discovery_timeout"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	RTSPPaths         []string      `mapstructure:"rtsp_paths"`
	RTSPPort          int           `mapstructure:"rtsp_port"`
	SweepPorts        []int         `mapstructure:"sweep_ports"`
	SweepPaths        []string      `mapstructure:"sweep_paths"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	SweepConcurrency  int           `mapstructure:"sweep_concurrency"`
	ReachTimeout      time.Duration `mapstructure:"reach_timeout"`
	SOAPTimeout       time.Duration `mapstructure:"soap_timeout"`
	Enrich            bool          `mapstructure:"enrich"`
	InsecureTLS       bool          `mapstructure:"insecure_tls"`
	UserAgent         string        `mapstructure:"user_agent"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	StabilityInterval time.Duration `mapstructure:"stability_interval"`
}

// Auth returns the configured credentials, or nil when no username is set
func (c Config) Auth() *Auth {
	if c.Username == "" {
		return nil
	}
	return &Auth{Username: c.Username, Password: c.Password}
}

// DefaultConfig returns the settings used when the caller supplies none
func DefaultConfig() Config {
	return Config{
		DiscoveryTimeout:  DefaultDiscoveryTimeout,
		ConnectTimeout:    DefaultConnectTimeout,
		RTSPPaths:         append([]string(nil), DefaultFallbackPaths...),
		RTSPPort:          DefaultRTSPPort,
		SweepPorts:        append([]int(nil), DefaultRTSPPorts...),
		SweepPaths:        append([]string(nil), DefaultSweepPaths...),
		SweepInterval:     DefaultSweepInterval,
		SweepConcurrency:  DefaultSweepConcurrency,
		ReachTimeout:      DefaultReachTimeout,
		SOAPTimeout:       DefaultSOAPTimeout,
		UserAgent:         DefaultUserAgent,
		StabilityInterval: DefaultStabilityInterval,
	}
}

// Default configuration
const (
	DefaultMulticastAddr     = "239.255.255.250:3702"
	DefaultDiscoveryTimeout  = 5 * time.Second
	DefaultConnectTimeout    = 5 * time.Second
	DefaultSOAPTimeout       = 10 * time.Second
	DefaultReachTimeout      = 500 * time.Millisecond
	DefaultSweepInterval     = 25 * time.Millisecond
	DefaultSweepConcurrency  = 16
	DefaultStabilityInterval = time.Second
	DefaultRTSPPort          = 554
	DefaultUserAgent         = "camprobe/1.0"
	DefaultFallbackSubnet    = "192.168.1.0"

	ProductionUptimePercent = 98.0
)

// Well-known camera ports and paths
var (
	DefaultRTSPPorts     = []int{554, 8554, 10554}
	DefaultONVIFPorts    = []int{80, 5000}
	DefaultFallbackPaths = []string{"/onvif1", "/onvif2"}
	DefaultSweepPaths    = []string{
		"/onvif1",
		"/live/ch00_0",
		"/stream1",
		"/h264",
		"/live",
		"/",
	}
)
