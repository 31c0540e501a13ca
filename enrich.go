package camprobe

import (
	"context"
)

// Enrich attaches capabilities, device information and profiles to an
// endpoint. Every failure is swallowed: a device that refuses a query simply
// ends up without that data.
func (c *Client) Enrich(ctx context.Context, ep Endpoint, auth *Auth) Endpoint {
	if ep.DeviceServiceURL == "" {
		return ep
	}

	if caps, err := c.GetCapabilities(ctx, ep, auth); err == nil {
		ep.Capabilities = caps
	}

	if info, err := c.GetDeviceInformation(ctx, ep, auth); err == nil {
		hostname := ep.Info.Hostname
		ep.Info = info
		ep.Info.Hostname = hostname
	}

	if hostname, err := c.GetHostname(ctx, ep, auth); err == nil && hostname != "" {
		ep.Info.Hostname = hostname
	}

	if profiles, err := c.GetProfiles(ctx, ep, auth); err == nil {
		ep.Profiles = profiles
	}

	c.logger.Debug().
		Str("ip", ep.IP).
		Str("name", ep.DisplayName()).
		Bool("ptz", ep.Capabilities.HasPTZ).
		Int("profiles", len(ep.Profiles)).
		Msg("endpoint enriched")

	return ep
}
