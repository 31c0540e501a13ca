package camprobe

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/elgs/gostrgen"
	"github.com/gofrs/uuid"
	"github.com/juju/errors"
)

// ONVIF SOAP actions
const (
	actionGetCapabilities      = "http://www.onvif.org/ver10/device/wsdl/GetCapabilities"
	actionGetDeviceInformation = "http://www.onvif.org/ver10/device/wsdl/GetDeviceInformation"
	actionGetHostname          = "http://www.onvif.org/ver10/device/wsdl/GetHostname"
	actionGetProfiles          = "http://www.onvif.org/ver10/media/wsdl/GetProfiles"
	actionGetStreamURI         = "http://www.onvif.org/ver10/media/wsdl/GetStreamUri"
	actionContinuousMove       = "http://www.onvif.org/ver20/ptz/wsdl/ContinuousMove"
	actionStop                 = "http://www.onvif.org/ver20/ptz/wsdl/Stop"

	probeAction = "http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe"

	soapContentType = "application/soap+xml; charset=utf-8"
)

const probeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"
            xmlns:wsa="http://schemas.xmlsoap.org/ws/2004/08/addressing"
            xmlns:wsd="http://schemas.xmlsoap.org/ws/2005/04/discovery"
            xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
	<s:Header>
		<wsa:Action s:mustUnderstand="1">%s</wsa:Action>
		<wsa:MessageID>%s</wsa:MessageID>
		<wsa:ReplyTo><wsa:Address>http://schemas.xmlsoap.org/ws/2004/08/addressing/role/anonymous</wsa:Address></wsa:ReplyTo>
		<wsa:To s:mustUnderstand="1">urn:schemas-xmlsoap-org:ws:2005:04:discovery</wsa:To>
	</s:Header>
	<s:Body>
		<wsd:Probe>
			<wsd:Types>dn:NetworkVideoTransmitter</wsd:Types>
		</wsd:Probe>
	</s:Body>
</s:Envelope>`

// newMessageID returns a fresh WS-Addressing message id
func newMessageID() string {
	id, err := uuid.NewV4()
	if err != nil {
		// the random source failing is not worth aborting a probe over
		return fmt.Sprintf("uuid:%d", time.Now().UnixNano())
	}
	return "uuid:" + id.String()
}

// probeMessage builds a WS-Discovery Probe for NetworkVideoTransmitter devices
func probeMessage(messageID string) string {
	return fmt.Sprintf(probeTemplate, probeAction, messageID)
}

const getCapabilitiesBody = `<tds:GetCapabilities><tds:Category>All</tds:Category></tds:GetCapabilities>`

const getDeviceInformationBody = `<tds:GetDeviceInformation/>`

const getHostnameBody = `<tds:GetHostname/>`

const getProfilesBody = `<trt:GetProfiles/>`

func getStreamURIBody(profileToken string) string {
	return fmt.Sprintf(`<trt:GetStreamUri>
		<trt:StreamSetup>
			<tt:Stream>RTP-Unicast</tt:Stream>
			<tt:Transport>
				<tt:Protocol>RTSP</tt:Protocol>
			</tt:Transport>
		</trt:StreamSetup>
		<trt:ProfileToken>%s</trt:ProfileToken>
	</trt:GetStreamUri>`, escapeXML(profileToken))
}

func continuousMoveBody(profileToken string, v Velocity) string {
	return fmt.Sprintf(`<tptz:ContinuousMove>
		<tptz:ProfileToken>%s</tptz:ProfileToken>
		<tptz:Velocity>
			<tt:PanTilt x="%s" y="%s"/>
			<tt:Zoom x="%s"/>
		</tptz:Velocity>
	</tptz:ContinuousMove>`, escapeXML(profileToken),
		formatSpeed(v.PanX), formatSpeed(v.TiltY), formatSpeed(v.Zoom))
}

func stopBody(profileToken string) string {
	return fmt.Sprintf(`<tptz:Stop>
		<tptz:ProfileToken>%s</tptz:ProfileToken>
		<tptz:PanTilt>true</tptz:PanTilt>
		<tptz:Zoom>true</tptz:Zoom>
	</tptz:Stop>`, escapeXML(profileToken))
}

// formatSpeed clamps a speed to [-1, 1] and renders it without exponent
func formatSpeed(f float64) string {
	switch {
	case f > 1:
		f = 1
	case f < -1:
		f = -1
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// buildEnvelope wraps an operation body in a SOAP 1.2 envelope
func buildEnvelope(header, body string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"
            xmlns:tds="http://www.onvif.org/ver10/device/wsdl"
            xmlns:trt="http://www.onvif.org/ver10/media/wsdl"
            xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl"
            xmlns:tt="http://www.onvif.org/ver10/schema">
	<s:Header>%s</s:Header>
	<s:Body>%s</s:Body>
</s:Envelope>`, header, body)
}

// passwordDigest creates the WS-Security UsernameToken digest
func passwordDigest(password string, now time.Time) (digest, nonceB64, created string) {
	created = now.UTC().Format("2006-01-02T15:04:05.000Z")
	nonce, err := gostrgen.RandGen(16, gostrgen.Lower|gostrgen.Upper|gostrgen.Digit, "", "")
	if err != nil {
		nonce = strconv.FormatInt(now.UnixNano(), 10)
	}
	nonceB64 = base64.StdEncoding.EncodeToString([]byte(nonce))

	h := sha1.New()
	h.Write([]byte(nonce))
	h.Write([]byte(created))
	h.Write([]byte(password))
	digest = base64.StdEncoding.EncodeToString(h.Sum(nil))
	return digest, nonceB64, created
}

// securityHeader returns the WS-Security header for auth, or "" when anonymous
func securityHeader(auth *Auth) string {
	if auth == nil || auth.Username == "" {
		return ""
	}
	digest, nonce, created := passwordDigest(auth.Password, time.Now())
	return fmt.Sprintf(`
		<Security s:mustUnderstand="1" xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
			<UsernameToken>
				<Username>%s</Username>
				<Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</Password>
				<Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</Nonce>
				<Created xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</Created>
			</UsernameToken>
		</Security>`, escapeXML(auth.Username), digest, nonce, created)
}

// sendSOAPRequest posts an operation body to a service URL and returns the raw
// response. HTTP 401/403 are reported as errors.Unauthorized.
func (c *Client) sendSOAPRequest(ctx context.Context, endpoint, action, body string, auth *Auth) ([]byte, error) {
	envelope := buildEnvelope(securityHeader(auth), body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(envelope))
	if err != nil {
		return nil, errors.NotValidf("service URL %q", endpoint)
	}

	req.Header.Set("Content-Type", soapContentType)
	req.Header.Set("SOAPAction", action)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if auth != nil {
		req.SetBasicAuth(auth.Username, auth.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Annotatef(err, "POST %s", endpoint)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Annotatef(err, "reading response from %s", endpoint)
	}

	// Some cameras return error codes with an empty body instead of a SOAP fault
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return respBody, errors.Unauthorizedf("%s returned HTTP %d", endpoint, resp.StatusCode)
	case resp.StatusCode >= 400:
		if fault := parseSOAPFault(respBody); fault != nil {
			return respBody, fault
		}
		return respBody, errors.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	return respBody, nil
}
