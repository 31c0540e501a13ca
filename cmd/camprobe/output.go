package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/use-go/camprobe"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEndpoints(w io.Writer, endpoints []camprobe.Endpoint) {
	if len(endpoints) == 0 {
		fmt.Fprintln(w, "No devices found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "IP\tSOURCE\tNAME\tDEVICE SERVICE\tRTSP")
	fmt.Fprintln(tw, "--\t------\t----\t--------------\t----")
	for _, ep := range endpoints {
		rtsp := "-"
		if ep.RTSPPort != 0 {
			rtsp = camprobe.StreamURL(ep.IP, ep.RTSPPort, ep.RTSPPath)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ep.IP, ep.Source, ep.DisplayName(), orDash(ep.DeviceServiceURL), rtsp)
	}
	tw.Flush()
}

func printEndpointDetail(w io.Writer, ep camprobe.Endpoint) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Name", ep.DisplayName()},
		{"Manufacturer", ep.Info.Manufacturer},
		{"Model", ep.Info.Model},
		{"Firmware", ep.Info.FirmwareVersion},
		{"Serial", ep.Info.SerialNumber},
		{"Hardware ID", ep.Info.HardwareID},
		{"Hostname", ep.Info.Hostname},
		{"Media service", ep.Capabilities.MediaServiceURL},
		{"PTZ service", ep.Capabilities.PTZServiceURL},
		{"PTZ", yesNo(ep.Capabilities.HasPTZ)},
		{"Imaging", yesNo(ep.Capabilities.HasImaging)},
		{"Audio", yesNo(ep.Capabilities.HasAudio)},
		{"Events", yesNo(ep.Capabilities.HasEvents)},
		{"Analytics", yesNo(ep.Capabilities.HasAnalytics)},
		{"Profiles", strconv.Itoa(len(ep.Profiles))},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s:\t%s\n", row[0], orDash(row[1]))
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
