package camprobe

import (
	"context"
	"strconv"

	"github.com/juju/errors"
)

// GetCapabilities fetches the device's service URLs and feature flags. A
// transport failure returns the zero value with the error; an unreadable
// response returns the zero value and no error.
func (c *Client) GetCapabilities(ctx context.Context, ep Endpoint, auth *Auth) (Capabilities, error) {
	address, err := deviceURL(ep)
	if err != nil {
		return Capabilities{}, err
	}

	resp, err := c.sendSOAPRequest(ctx, address, actionGetCapabilities, getCapabilitiesBody, auth)
	if err != nil {
		c.logger.Debug().Err(err).Str("ip", ep.IP).Msg("GetCapabilities failed")
		return Capabilities{}, errors.Annotate(err, "get capabilities")
	}
	if err := parseSOAPFault(resp); err != nil {
		return Capabilities{}, errors.Annotate(err, "get capabilities")
	}

	return ParseCapabilities(resp), nil
}

// ParseCapabilities reads a GetCapabilitiesResponse. Anything missing or
// unparsable reads as absent.
func ParseCapabilities(resp []byte) Capabilities {
	caps := ParseXML(resp).Find("Capabilities")
	if caps == nil {
		return Capabilities{}
	}

	var out Capabilities
	out.DeviceServiceURL = caps.Find("Device").Text("XAddr")

	media := caps.Find("Media")
	out.MediaServiceURL = media.Text("XAddr")

	out.PTZServiceURL = caps.Find("PTZ").Text("XAddr")
	out.HasPTZ = out.PTZServiceURL != ""

	out.ImagingServiceURL = caps.Find("Imaging").Text("XAddr")
	out.HasImaging = out.ImagingServiceURL != ""

	out.HasAnalytics = caps.Find("Analytics").Text("XAddr") != ""
	out.HasEvents = caps.Find("Events").Text("XAddr") != ""

	// Audio shows up either as DeviceIO/AudioSources or as an attribute some
	// firmwares put on StreamingCapabilities.
	if n, err := strconv.Atoi(caps.Find("DeviceIO").Text("AudioSources")); err == nil && n > 0 {
		out.HasAudio = true
	}
	if n, err := strconv.Atoi(media.Find("StreamingCapabilities").Attr("AudioSources")); err == nil && n > 0 {
		out.HasAudio = true
	}

	return out
}

// GetDeviceInformation fetches manufacturer, model and firmware details
func (c *Client) GetDeviceInformation(ctx context.Context, ep Endpoint, auth *Auth) (DeviceInfo, error) {
	address, err := deviceURL(ep)
	if err != nil {
		return DeviceInfo{}, err
	}

	resp, err := c.sendSOAPRequest(ctx, address, actionGetDeviceInformation, getDeviceInformationBody, auth)
	if err != nil {
		c.logger.Debug().Err(err).Str("ip", ep.IP).Msg("GetDeviceInformation failed")
		return DeviceInfo{}, errors.Annotate(err, "get device information")
	}
	if err := parseSOAPFault(resp); err != nil {
		return DeviceInfo{}, errors.Annotate(err, "get device information")
	}

	return ParseDeviceInfo(resp), nil
}

// ParseDeviceInfo reads a GetDeviceInformationResponse
func ParseDeviceInfo(resp []byte) DeviceInfo {
	info := ParseXML(resp).Find("GetDeviceInformationResponse")
	return DeviceInfo{
		Manufacturer:    info.Text("Manufacturer"),
		Model:           info.Text("Model"),
		FirmwareVersion: info.Text("FirmwareVersion"),
		SerialNumber:    info.Text("SerialNumber"),
		HardwareID:      info.Text("HardwareId"),
	}
}

// GetHostname fetches the device hostname
func (c *Client) GetHostname(ctx context.Context, ep Endpoint, auth *Auth) (string, error) {
	address, err := deviceURL(ep)
	if err != nil {
		return "", err
	}

	resp, err := c.sendSOAPRequest(ctx, address, actionGetHostname, getHostnameBody, auth)
	if err != nil {
		return "", errors.Annotate(err, "get hostname")
	}
	if err := parseSOAPFault(resp); err != nil {
		return "", errors.Annotate(err, "get hostname")
	}

	return ParseHostname(resp), nil
}

// ParseHostname reads a GetHostnameResponse
func ParseHostname(resp []byte) string {
	return ParseXML(resp).Find("HostnameInformation").Text("Name")
}
