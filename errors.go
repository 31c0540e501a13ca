package camprobe

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/liberrors"
	"github.com/juju/errors"
)

const (
	// ErrNetworkUnavailable is returned by discovery when no usable interface is up
	ErrNetworkUnavailable = errors.ConstError("network unavailable")
	// ErrNoProfiles is returned when a device exposes no media profile
	ErrNoProfiles = errors.ConstError("device has no media profiles")
	// ErrSOAPFault marks a SOAP fault answer from a device
	ErrSOAPFault = errors.ConstError("SOAP fault")
)

// FailureKind classifies why an RTSP attempt failed
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureTimeout      FailureKind = "timeout"
	FailureRefused      FailureKind = "refused"
	FailureMalformed    FailureKind = "malformed"
	FailureUnauthorized FailureKind = "unauthorized"
	FailureInvalidURL   FailureKind = "invalid_url"
	FailureNotFound     FailureKind = "not_found"
	FailureRejected     FailureKind = "rejected"
	FailureUnknown      FailureKind = "unknown"
)

// Message returns a user-facing description of the failure class
func (k FailureKind) Message() string {
	switch k {
	case FailureNone:
		return ""
	case FailureTimeout:
		return "connection timed out"
	case FailureRefused:
		return "connection refused"
	case FailureMalformed:
		return "malformed RTSP response"
	case FailureUnauthorized:
		return "authentication required or credentials rejected"
	case FailureInvalidURL:
		return "invalid RTSP URL"
	case FailureNotFound:
		return "stream path not found"
	case FailureRejected:
		return "stream request rejected by the server"
	default:
		return "connection failed"
	}
}

// ConnectError is the aggregated failure of a fallback negotiation
type ConnectError struct {
	Kind  FailureKind
	Paths []string
	Cause error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to any stream path (%s): %s",
		strings.Join(e.Paths, ", "), e.Kind.Message())
}

func (e *ConnectError) Unwrap() error { return e.Cause }

// classifyRTSPError maps transport and protocol errors onto a FailureKind
func classifyRTSPError(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, errors.NotValid) {
		return FailureInvalidURL
	}
	if errors.Is(err, errors.Unauthorized) {
		return FailureUnauthorized
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.Timeout) {
		return FailureTimeout
	}
	var badStatus liberrors.ErrClientBadStatusCode
	if stderrors.As(err, &badStatus) {
		switch badStatus.Code {
		case base.StatusUnauthorized, base.StatusForbidden:
			return FailureUnauthorized
		case base.StatusNotFound:
			return FailureNotFound
		}
		return FailureRejected
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return FailureRefused
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, errMalformedRTSP) {
		return FailureMalformed
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "refused"):
		return FailureRefused
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return FailureTimeout
	case strings.Contains(msg, "unable to parse"), strings.Contains(msg, "invalid"),
		strings.Contains(msg, "malformed"), strings.Contains(msg, "eof"):
		return FailureMalformed
	}
	return FailureUnknown
}

const errMalformedRTSP = errors.ConstError("malformed RTSP response")
