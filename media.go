package camprobe

import (
	"context"

	"github.com/juju/errors"
)

// GetProfiles fetches the device's media profiles in device order. The first
// profile is the default one.
func (c *Client) GetProfiles(ctx context.Context, ep Endpoint, auth *Auth) ([]MediaProfile, error) {
	address, err := mediaURL(ep)
	if err != nil {
		return nil, err
	}

	resp, err := c.sendSOAPRequest(ctx, address, actionGetProfiles, getProfilesBody, auth)
	if err != nil {
		c.logger.Debug().Err(err).Str("ip", ep.IP).Msg("GetProfiles failed")
		return nil, errors.Annotate(err, "get profiles")
	}
	if err := parseSOAPFault(resp); err != nil {
		return nil, errors.Annotate(err, "get profiles")
	}

	return ParseProfiles(resp), nil
}

// ParseProfiles reads a GetProfilesResponse. Profiles without a token are skipped.
func ParseProfiles(resp []byte) []MediaProfile {
	var profiles []MediaProfile
	for _, p := range ParseXML(resp).Find("GetProfilesResponse").FindAll("Profiles") {
		token := p.Attr("token")
		if token == "" {
			continue
		}
		profiles = append(profiles, MediaProfile{
			Token: token,
			Name:  p.Text("Name"),
		})
	}
	return profiles
}

// GetStreamURI retrieves the RTSP stream URI for a profile token. An empty
// token selects the endpoint's profile, or the device's first profile.
func (c *Client) GetStreamURI(ctx context.Context, ep Endpoint, profileToken string, auth *Auth) (string, error) {
	address, err := mediaURL(ep)
	if err != nil {
		return "", err
	}

	if profileToken == "" {
		if profileToken, err = c.profileToken(ctx, ep, auth); err != nil {
			return "", err
		}
	}

	resp, err := c.sendSOAPRequest(ctx, address, actionGetStreamURI, getStreamURIBody(profileToken), auth)
	if err != nil {
		c.logger.Debug().Err(err).Str("ip", ep.IP).Msg("GetStreamUri failed")
		return "", errors.Annotate(err, "get stream URI")
	}
	if err := parseSOAPFault(resp); err != nil {
		return "", errors.Annotate(err, "get stream URI")
	}

	return ParseStreamURI(resp), nil
}

// ParseStreamURI reads a GetStreamUriResponse
func ParseStreamURI(resp []byte) string {
	return ParseXML(resp).Find("MediaUri").Text("Uri")
}

// profileToken returns the endpoint's selected profile, or the first one the
// device reports. A token fetched from the device is remembered for the
// lifetime of the client, so a move followed by a stop asks only once.
func (c *Client) profileToken(ctx context.Context, ep Endpoint, auth *Auth) (string, error) {
	if ep.ProfileToken != "" {
		return ep.ProfileToken, nil
	}
	if len(ep.Profiles) > 0 {
		return ep.Profiles[0].Token, nil
	}

	address, err := mediaURL(ep)
	if err != nil {
		return "", err
	}
	if token, ok := c.tokens.Load(address); ok {
		return token.(string), nil
	}

	profiles, err := c.GetProfiles(ctx, ep, auth)
	if err != nil {
		return "", err
	}
	if len(profiles) == 0 {
		return "", errors.Trace(ErrNoProfiles)
	}
	c.tokens.Store(address, profiles[0].Token)
	return profiles[0].Token, nil
}
