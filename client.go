package camprobe

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// Client issues ONVIF SOAP operations against discovered devices
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	insecure   bool
	userAgent  string
	logger     zerolog.Logger

	// default profile token per media service URL
	tokens sync.Map
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithInsecureTLS skips certificate verification for https device URLs
func WithInsecureTLS(insecure bool) ClientOption {
	return func(c *Client) {
		c.insecure = insecure
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent sets the User-Agent sent with every request
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithClientLogger sets the logger
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new ONVIF client
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		timeout:   DefaultSOAPTimeout,
		userAgent: DefaultUserAgent,
		logger:    zerolog.Nop(),
	}
	for _, option := range options {
		option(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
		if c.insecure {
			c.httpClient.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			}
		}
	}
	return c
}

// DisplayName returns the best available name for the endpoint
func (ep Endpoint) DisplayName() string {
	// Priority: Manufacturer + Model > Hostname > Discovery Name > Hardware > IP
	if ep.Info.Manufacturer != "" && ep.Info.Model != "" {
		return fmt.Sprintf("%s %s", ep.Info.Manufacturer, ep.Info.Model)
	}

	if ep.Info.Hostname != "" {
		return ep.Info.Hostname
	}

	if ep.Name != "" {
		return ep.Name
	}

	if ep.Hardware != "" {
		return ep.Hardware
	}

	return ep.IP
}

// NewEndpoint builds an endpoint for a device service URL typed in by a user
func NewEndpoint(deviceServiceURL string) (Endpoint, error) {
	u, err := url.Parse(deviceServiceURL)
	if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Endpoint{}, errors.NotValidf("device service URL %q", deviceServiceURL)
	}
	return Endpoint{
		IP:               u.Hostname(),
		DeviceServiceURL: deviceServiceURL,
	}, nil
}

// DeviceServiceURLFor returns the conventional device service URL for an IP
func DeviceServiceURLFor(ip string, port int) string {
	if port == 0 || port == 80 {
		return fmt.Sprintf("http://%s/onvif/device_service", ip)
	}
	return fmt.Sprintf("http://%s/onvif/device_service", net.JoinHostPort(ip, fmt.Sprint(port)))
}

// deviceURL returns the device service URL, failing on endpoints found only by the sweep
func deviceURL(ep Endpoint) (string, error) {
	address := firstAddress(ep.DeviceServiceURL)
	if address == "" {
		return "", errors.NotValidf("endpoint %s has no device service URL", ep.IP)
	}
	return address, nil
}

// mediaURL prefers the media service advertised by GetCapabilities
func mediaURL(ep Endpoint) (string, error) {
	if ep.Capabilities.MediaServiceURL != "" {
		return ep.Capabilities.MediaServiceURL, nil
	}
	return deviceURL(ep)
}

// ptzURL prefers the PTZ service advertised by GetCapabilities
func ptzURL(ep Endpoint) (string, error) {
	if ep.Capabilities.PTZServiceURL != "" {
		return ep.Capabilities.PTZServiceURL, nil
	}
	return deviceURL(ep)
}

// firstAddress extracts the first address if multiple are provided
func firstAddress(address string) string {
	addresses := strings.Fields(address)
	if len(addresses) > 0 {
		return addresses[0]
	}
	return ""
}
