package camprobe

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

// ProbeRTSP sends a bare OPTIONS request over TCP and returns the status code
// of the reply. Anything that is not an RTSP/1.0 status line is reported as a
// malformed response.
func ProbeRTSP(ctx context.Context, addr, rtspURL, userAgent string, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, err
	}
	// cancellation unblocks a pending read or write
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	request := fmt.Sprintf("OPTIONS %s RTSP/1.0\r\nCSeq: 1\r\nUser-Agent: %s\r\n\r\n", rtspURL, userAgent)
	if _, err := conn.Write([]byte(request)); err != nil {
		return 0, err
	}

	statusLine, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && statusLine == "" {
		return 0, err
	}
	return parseRTSPStatus(statusLine)
}

// parseRTSPStatus reads "RTSP/1.0 200 OK" style status lines
func parseRTSPStatus(line string) (int, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "RTSP/1.0") {
		return 0, errors.Annotatef(errMalformedRTSP, "status line %q", line)
	}
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return 0, errors.Annotatef(errMalformedRTSP, "status line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errors.Annotatef(errMalformedRTSP, "status code %q", parts[1])
	}
	return code, nil
}

// isCameraStatus reports whether an OPTIONS status means an RTSP server lives
// at that address: 200 OK, 401 Unauthorized or 404 Not Found.
func isCameraStatus(code int) bool {
	return code == 200 || code == 401 || code == 404
}
