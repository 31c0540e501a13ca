package camprobe

import (
	"context"

	"github.com/juju/errors"
)

// PTZContinuousMove starts moving the camera at the given velocity until
// PTZStop is called. Failures are returned to the caller.
//
// The profile is ep.ProfileToken, else the first of ep.Profiles, else the
// device's first profile fetched with GetProfiles. Set ProfileToken or Enrich
// the endpoint first to keep the exchange to the PTZ commands alone.
func (c *Client) PTZContinuousMove(ctx context.Context, ep Endpoint, v Velocity, auth *Auth) error {
	address, err := ptzURL(ep)
	if err != nil {
		return err
	}

	token, err := c.profileToken(ctx, ep, auth)
	if err != nil {
		return errors.Annotate(err, "continuous move")
	}

	return c.ptzCommand(ctx, ep, address, actionContinuousMove, continuousMoveBody(token, v), auth)
}

// PTZStop halts pan, tilt and zoom movement
func (c *Client) PTZStop(ctx context.Context, ep Endpoint, auth *Auth) error {
	address, err := ptzURL(ep)
	if err != nil {
		return err
	}

	token, err := c.profileToken(ctx, ep, auth)
	if err != nil {
		return errors.Annotate(err, "stop")
	}

	return c.ptzCommand(ctx, ep, address, actionStop, stopBody(token), auth)
}

func (c *Client) ptzCommand(ctx context.Context, ep Endpoint, address, action, body string, auth *Auth) error {
	resp, err := c.sendSOAPRequest(ctx, address, action, body, auth)
	if err != nil {
		c.logger.Warn().Err(err).Str("ip", ep.IP).Str("action", action).Msg("PTZ command failed")
		return errors.Annotate(err, "PTZ command")
	}
	if err := parseSOAPFault(resp); err != nil {
		return errors.Annotate(err, "PTZ command")
	}
	c.logger.Debug().Str("ip", ep.IP).Str("action", action).Msg("PTZ command accepted")
	return nil
}
