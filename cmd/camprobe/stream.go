package main

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/use-go/camprobe"
)

var streamCmd = &cobra.Command{
	Use:   "stream <ip>",
	Short: "Find a working RTSP path on a camera",
	Long: `Tries the configured RTSP paths in order against rtsp://<ip>:<port><path>
and reports the first one that connects.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newNegotiator().ConnectWithFallback(cmd.Context(), camprobe.ConnectionConfig{
			IP:       args[0],
			RTSPPort: cfg.RTSPPort,
			Paths:    cfg.RTSPPaths,
			Timeout:  cfg.ConnectTimeout,
			Auth:     cfg.Auth(),
		})

		var connectErr *camprobe.ConnectError
		if err != nil && !errors.As(err, &connectErr) {
			return err
		}

		if jsonOutput {
			if perr := printJSON(result); perr != nil {
				return perr
			}
			return err
		}
		if err != nil {
			return err
		}

		fmt.Printf("Stream:   %s\n", result.StreamURL)
		fmt.Printf("Path:     %s (tried %d)\n", result.SuccessfulPath, len(result.AttemptedPaths))
		fmt.Printf("Time:     %d ms\n", result.ConnectionTimeMs)
		if result.HasAudioTrack {
			fmt.Printf("Audio:    %s\n", orDash(result.AudioCodec))
		} else {
			fmt.Println("Audio:    none")
		}
		return nil
	},
}

var monitorDuration time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor <rtsp-url>",
	Short: "Watch an RTSP connection and report its stability",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := newNegotiator().Open(cmd.Context(), args[0], cfg.Auth())
		if err != nil {
			return err
		}
		defer session.Close()

		logger.Info().Str("url", session.URL()).Dur("duration", monitorDuration).Msg("monitoring stream")
		report := session.MonitorStability(cmd.Context(), monitorDuration)

		if jsonOutput {
			return printJSON(report)
		}
		fmt.Printf("Uptime:          %.2f%%\n", report.UptimePercentage)
		fmt.Printf("Disconnections:  %d\n", report.DisconnectionCount)
		fmt.Printf("Avg reconnect:   %d ms\n", report.AverageReconnectTimeMs)
		fmt.Printf("Observed:        %s\n", time.Duration(report.ObservedMs)*time.Millisecond)
		fmt.Printf("Production-ready: %s\n", yesNo(report.IsProductionStable()))
		return nil
	},
}

func init() {
	streamCmd.Flags().Int("rtsp-port", 0, "RTSP port (default 554)")
	streamCmd.Flags().StringSlice("paths", nil, "Ordered RTSP paths to try (default /onvif1,/onvif2)")
	streamCmd.Flags().Duration("connect-timeout", 0, "Timeout per path (default 5s)")

	monitorCmd.Flags().DurationVar(&monitorDuration, "duration", time.Minute, "How long to watch the stream")
	monitorCmd.Flags().Duration("interval", 0, "Liveness check interval (default 1s)")
	monitorCmd.Flags().Duration("connect-timeout", 0, "Timeout of connects and checks (default 5s)")

	rootCmd.AddCommand(streamCmd, monitorCmd)
}
