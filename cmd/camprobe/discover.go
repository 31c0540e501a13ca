package main

import (
	"os"

	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find cameras with WS-Discovery and a network sweep",
	Long: `Runs a WS-Discovery probe and a sweep of the /24 subnet side by side.
Cameras answering both are reported once, with the ONVIF details.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		endpoints, err := newDiscoverer(client).Discover(cmd.Context(), cfg.Subnet, cfg.DiscoveryTimeout)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(endpoints)
		}
		printEndpoints(os.Stdout, endpoints)
		return nil
	},
}

func init() {
	discoverCmd.Flags().String("subnet", "", "Subnet to sweep, e.g. 192.168.1.0/24 (default: local network)")
	discoverCmd.Flags().Duration("timeout", 0, "Discovery deadline (default 5s)")
	discoverCmd.Flags().Bool("enrich", false, "Query discovered ONVIF devices for details")
	rootCmd.AddCommand(discoverCmd)
}
