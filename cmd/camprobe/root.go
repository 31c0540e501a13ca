package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/use-go/camprobe"
	"github.com/use-go/camprobe/internal/config"
)

var (
	cfgFile    string
	jsonOutput bool
	debug      bool

	cfg    camprobe.Config
	logger = zerolog.Nop()
)

// flagKeys maps command-line flags onto configuration keys
var flagKeys = map[string]string{
	"subnet":          "subnet",
	"timeout":         "discovery_timeout",
	"connect-timeout": "connect_timeout",
	"enrich":          "enrich",
	"username":        "username",
	"password":        "password",
	"insecure":        "insecure_tls",
	"rtsp-port":       "rtsp_port",
	"paths":           "rtsp_paths",
	"interval":        "stability_interval",
}

var rootCmd = &cobra.Command{
	Use:   "camprobe",
	Short: "Find IP cameras and negotiate their ONVIF and RTSP endpoints",
	Long: `camprobe discovers cameras with WS-Discovery and a network sweep,
queries them over ONVIF, negotiates a working RTSP path and drives PTZ.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(debug)

		v, err := config.New(cfgFile)
		if err != nil {
			return err
		}
		for name, key := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return err
				}
			}
		}

		cfg, err = config.Load(v)
		return err
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.camprobe.yaml)")
	flags.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.String("username", "", "Device username")
	flags.String("password", "", "Device password")
	flags.Bool("insecure", false, "Skip TLS verification for https device URLs")
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func newClient() *camprobe.Client {
	return camprobe.NewClient(
		camprobe.WithTimeout(cfg.SOAPTimeout),
		camprobe.WithInsecureTLS(cfg.InsecureTLS),
		camprobe.WithUserAgent(cfg.UserAgent),
		camprobe.WithClientLogger(logger),
	)
}

func newDiscoverer(client *camprobe.Client) *camprobe.Discoverer {
	scanner := camprobe.NewScanner(
		camprobe.WithRTSPPorts(cfg.SweepPorts...),
		camprobe.WithSweepPaths(cfg.SweepPaths...),
		camprobe.WithReachTimeout(cfg.ReachTimeout),
		camprobe.WithSweepInterval(cfg.SweepInterval),
		camprobe.WithSweepConcurrency(cfg.SweepConcurrency),
		camprobe.WithSweepUserAgent(cfg.UserAgent),
		camprobe.WithScannerLogger(logger),
	)

	options := []camprobe.DiscovererOption{
		camprobe.WithProbeRunner(camprobe.NewProber(camprobe.WithProberLogger(logger))),
		camprobe.WithSweepRunner(scanner),
		camprobe.WithDiscovererLogger(logger),
	}
	if cfg.Enrich {
		options = append(options, camprobe.WithEnrichment(client, cfg.Auth(), cfg.SOAPTimeout))
	}
	return camprobe.NewDiscoverer(options...)
}

func newNegotiator() *camprobe.Negotiator {
	return camprobe.NewNegotiator(
		camprobe.WithConnectTimeout(cfg.ConnectTimeout),
		camprobe.WithCheckInterval(cfg.StabilityInterval),
		camprobe.WithRTSPUserAgent(cfg.UserAgent),
		camprobe.WithNegotiatorLogger(logger),
		camprobe.WithStateHook(func(rtspURL string, from, to camprobe.ConnState) {
			logger.Debug().Str("url", rtspURL).Stringer("from", from).Stringer("to", to).Msg("connection state")
		}),
	)
}
