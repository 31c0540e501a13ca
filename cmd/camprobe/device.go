package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/use-go/camprobe"
)

var infoCmd = &cobra.Command{
	Use:   "info <device-service-url>",
	Short: "Show capabilities and device information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := camprobe.NewEndpoint(args[0])
		if err != nil {
			return err
		}

		client := newClient()
		auth := cfg.Auth()
		// fail early on a wrong URL or wrong credentials
		if _, err := client.GetCapabilities(cmd.Context(), ep, auth); err != nil {
			return err
		}
		ep = client.Enrich(cmd.Context(), ep, auth)

		if jsonOutput {
			return printJSON(ep)
		}
		printEndpointDetail(os.Stdout, ep)
		return nil
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles <device-service-url>",
	Short: "List media profiles and their stream URIs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := camprobe.NewEndpoint(args[0])
		if err != nil {
			return err
		}

		client := newClient()
		auth := cfg.Auth()
		if caps, err := client.GetCapabilities(cmd.Context(), ep, auth); err == nil {
			ep.Capabilities = caps
		}
		profiles, err := client.GetProfiles(cmd.Context(), ep, auth)
		if err != nil {
			return err
		}

		type row struct {
			camprobe.MediaProfile
			StreamURI string `json:"streamUri,omitempty"`
		}
		rows := make([]row, 0, len(profiles))
		for _, p := range profiles {
			uri, err := client.GetStreamURI(cmd.Context(), ep, p.Token, auth)
			if err != nil {
				logger.Debug().Err(err).Str("profile", p.Token).Msg("no stream URI")
			}
			rows = append(rows, row{MediaProfile: p, StreamURI: uri})
		}

		if jsonOutput {
			return printJSON(rows)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "TOKEN\tNAME\tSTREAM URI")
		fmt.Fprintln(tw, "-----\t----\t----------")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Token, orDash(r.Name), orDash(r.StreamURI))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(infoCmd, profilesCmd)
}
