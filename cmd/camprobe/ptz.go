package main

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/use-go/camprobe"
)

var (
	ptzProfile  string
	ptzVelocity camprobe.Velocity
	ptzFor      time.Duration
)

var ptzCmd = &cobra.Command{
	Use:   "ptz",
	Short: "Drive pan, tilt and zoom",
}

var ptzMoveCmd = &cobra.Command{
	Use:   "move <device-service-url>",
	Short: "Start a continuous move, optionally stopping after --for",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for name, v := range map[string]float64{"x": ptzVelocity.PanX, "y": ptzVelocity.TiltY, "zoom": ptzVelocity.Zoom} {
			if v < -1 || v > 1 {
				return errors.NotValidf("%s velocity %v", name, v)
			}
		}

		client, ep, err := ptzTarget(cmd, args[0])
		if err != nil {
			return err
		}
		if err := client.PTZContinuousMove(cmd.Context(), ep, ptzVelocity, cfg.Auth()); err != nil {
			return err
		}
		logger.Info().Str("ip", ep.IP).Float64("x", ptzVelocity.PanX).Float64("y", ptzVelocity.TiltY).Float64("zoom", ptzVelocity.Zoom).Msg("moving")

		if ptzFor <= 0 {
			return nil
		}
		select {
		case <-time.After(ptzFor):
		case <-cmd.Context().Done():
		}
		// an interrupted move still has to be stopped
		return client.PTZStop(context.WithoutCancel(cmd.Context()), ep, cfg.Auth())
	},
}

var ptzStopCmd = &cobra.Command{
	Use:   "stop <device-service-url>",
	Short: "Stop all PTZ movement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ep, err := ptzTarget(cmd, args[0])
		if err != nil {
			return err
		}
		return client.PTZStop(cmd.Context(), ep, cfg.Auth())
	},
}

// ptzTarget resolves the PTZ service through GetCapabilities when the device
// answers it, and falls back to the device service URL otherwise.
func ptzTarget(cmd *cobra.Command, deviceURL string) (*camprobe.Client, camprobe.Endpoint, error) {
	ep, err := camprobe.NewEndpoint(deviceURL)
	if err != nil {
		return nil, camprobe.Endpoint{}, err
	}
	ep.ProfileToken = ptzProfile

	client := newClient()
	if caps, err := client.GetCapabilities(cmd.Context(), ep, cfg.Auth()); err == nil {
		ep.Capabilities = caps
	}
	return client, ep, nil
}

func init() {
	ptzCmd.PersistentFlags().StringVar(&ptzProfile, "profile", "", "Media profile token (default: first profile)")

	ptzMoveCmd.Flags().Float64Var(&ptzVelocity.PanX, "x", 0, "Pan speed in [-1, 1]")
	ptzMoveCmd.Flags().Float64Var(&ptzVelocity.TiltY, "y", 0, "Tilt speed in [-1, 1]")
	ptzMoveCmd.Flags().Float64Var(&ptzVelocity.Zoom, "zoom", 0, "Zoom speed in [-1, 1]")
	ptzMoveCmd.Flags().DurationVar(&ptzFor, "for", 0, "Stop after this long (0 keeps moving)")

	ptzCmd.AddCommand(ptzMoveCmd, ptzStopCmd)
	rootCmd.AddCommand(ptzCmd)
}
