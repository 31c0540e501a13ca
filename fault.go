package camprobe

import (
	"strings"

	"github.com/juju/errors"
)

// escapeXML escapes special XML characters in a string
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// parseSOAPFault returns a descriptive error when resp carries a SOAP fault,
// whatever prefix the device chose (s:Fault, SOAP-ENV:Fault, env:Fault ...).
// Responses that are not XML are not faults.
func parseSOAPFault(resp []byte) error {
	fault := ParseXML(resp).Find("Fault")
	if fault == nil {
		return nil
	}

	// SOAP 1.2: Code/Subcode/Value carries ter:NotAuthorized and friends
	var codes []string
	for _, v := range fault.FindAll("Value") {
		codes = append(codes, v.Value())
	}
	code := strings.Join(codes, " ")

	reason := fault.Find("Reason").Text("Text")
	if reason == "" {
		// SOAP 1.1
		reason = fault.Text("faultstring")
	}
	if code == "" {
		code = fault.Text("faultcode")
	}

	if strings.Contains(code, "NotAuthorized") || strings.Contains(reason, "NotAuthorized") {
		return errors.Unauthorizedf("device rejected credentials")
	}
	if reason != "" {
		return errors.Annotate(ErrSOAPFault, reason)
	}
	if code != "" {
		return errors.Annotate(ErrSOAPFault, code)
	}
	return errors.Trace(ErrSOAPFault)
}
