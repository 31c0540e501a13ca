package camprobe

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRTSPServer answers OPTIONS requests with reply(requestURL). An empty
// reply closes the connection without answering.
type fakeRTSPServer struct {
	ln    net.Listener
	mu    sync.Mutex
	lines []string
}

func newFakeRTSPServer(t *testing.T, reply func(requestURL string) string) *fakeRTSPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeRTSPServer{ln: ln}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err != nil {
					return
				}
				s.mu.Lock()
				s.lines = append(s.lines, strings.TrimSpace(line))
				s.mu.Unlock()

				fields := strings.Fields(line)
				if len(fields) < 2 {
					return
				}
				if resp := reply(fields[1]); resp != "" {
					_, _ = conn.Write([]byte(resp))
				}
			}(conn)
		}
	}()
	return s
}

func (s *fakeRTSPServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeRTSPServer) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func rtspStatus(line string) func(string) string {
	return func(string) string {
		return line + "\r\nCSeq: 1\r\n\r\n"
	}
}

func TestParseSubnet(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "192.168.1.0/24", want: "192.168.1.0"},
		{in: "10.1.2.3/16", want: "10.1.2.0"},
		{in: "192.168.1.77", want: "192.168.1.0"},
		{in: " 192.168.5 ", want: "192.168.5.0"},
		{in: "192.168.1.300", wantErr: true},
		{in: "camera.local", wantErr: true},
		{in: "fe80::1", wantErr: true},
		{in: "192.168.1.0/33", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ip, err := ParseSubnet(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.NotValid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ip.String())
		})
	}
}

func TestHostRange(t *testing.T) {
	base, err := ParseSubnet("192.168.1.0/24")
	require.NoError(t, err)

	hosts := HostRange(base)
	require.Len(t, hosts, 254)
	assert.Equal(t, "192.168.1.1", hosts[0])
	assert.Equal(t, "192.168.1.254", hosts[253])
	assert.Nil(t, HostRange(nil))
}

func TestIPLess(t *testing.T) {
	assert.True(t, ipLess("192.168.1.9", "192.168.1.10"))
	assert.False(t, ipLess("192.168.1.10", "192.168.1.9"))
	assert.False(t, ipLess("10.0.0.1", "10.0.0.1"))
}

func TestParseRTSPStatus(t *testing.T) {
	code, err := parseRTSPStatus("RTSP/1.0 401 Unauthorized\r\n")
	require.NoError(t, err)
	assert.Equal(t, 401, code)

	for _, line := range []string{"HTTP/1.1 200 OK", "RTSP/1.0", "RTSP/1.0 abc", ""} {
		_, err := parseRTSPStatus(line)
		assert.True(t, errors.Is(err, errMalformedRTSP), line)
	}
}

func TestIsCameraStatus(t *testing.T) {
	for _, code := range []int{200, 401, 404} {
		assert.True(t, isCameraStatus(code), code)
	}
	for _, code := range []int{0, 400, 403, 454, 500} {
		assert.False(t, isCameraStatus(code), code)
	}
}

func TestProbeRTSP(t *testing.T) {
	srv := newFakeRTSPServer(t, rtspStatus("RTSP/1.0 401 Unauthorized"))
	addr := srv.ln.Addr().String()

	code, err := ProbeRTSP(context.Background(), addr, "rtsp://"+addr+"/live", "tester/1.0", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 401, code)

	require.Len(t, srv.requests(), 1)
	assert.Equal(t, "OPTIONS rtsp://"+addr+"/live RTSP/1.0", srv.requests()[0])
}

func TestProbeRTSPNotRTSP(t *testing.T) {
	srv := newFakeRTSPServer(t, rtspStatus("HTTP/1.1 400 Bad Request"))
	addr := srv.ln.Addr().String()

	_, err := ProbeRTSP(context.Background(), addr, "rtsp://"+addr+"/", "tester/1.0", time.Second)
	assert.True(t, errors.Is(err, errMalformedRTSP))
}

func TestProbeRTSPSilentServer(t *testing.T) {
	srv := newFakeRTSPServer(t, func(string) string { return "" })
	addr := srv.ln.Addr().String()

	_, err := ProbeRTSP(context.Background(), addr, "rtsp://"+addr+"/", "tester/1.0", time.Second)
	assert.Error(t, err)
}

func TestScanFindsCamera(t *testing.T) {
	srv := newFakeRTSPServer(t, func(u string) string {
		if strings.HasSuffix(u, "/live") {
			return "RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n"
		}
		return "RTSP/1.0 400 Bad Request\r\nCSeq: 1\r\n\r\n"
	})

	s := NewScanner(
		WithRTSPPorts(srv.port()),
		WithONVIFPorts(),
		WithSweepPaths("/onvif1", "/live", "/stream1"),
		WithSweepInterval(0),
		WithReachTimeout(200*time.Millisecond),
		WithProbeTimeout(time.Second),
	)
	eps, err := s.Scan(context.Background(), "127.0.0.0/24")
	require.NoError(t, err)
	require.Len(t, eps, 1)

	ep := eps[0]
	assert.Equal(t, "127.0.0.1", ep.IP)
	assert.Equal(t, SourceSweep, ep.Source)
	assert.Equal(t, srv.port(), ep.RTSPPort)
	assert.Equal(t, "/live", ep.RTSPPath)
	assert.Contains(t, ep.Name, "RTSP Camera (127.0.0.1:")
	assert.Empty(t, ep.DeviceServiceURL)

	var probed []string
	for _, line := range srv.requests() {
		if strings.HasPrefix(line, "OPTIONS") {
			probed = append(probed, line)
		}
	}
	assert.Len(t, probed, 2, "stops at the first path answering like a camera")
}

func TestScanRecordsONVIFPort(t *testing.T) {
	rtsp := newFakeRTSPServer(t, rtspStatus("RTSP/1.0 404 Not Found"))
	onvif := newFakeRTSPServer(t, func(string) string { return "" })

	s := NewScanner(
		WithRTSPPorts(rtsp.port()),
		WithONVIFPorts(onvif.port()),
		WithSweepPaths("/"),
		WithSweepInterval(0),
		WithReachTimeout(200*time.Millisecond),
	)
	eps, err := s.Scan(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, onvif.port(), eps[0].ONVIFPort)
}

func TestScanInvalidSubnet(t *testing.T) {
	eps, err := NewScanner().Scan(context.Background(), "not-a-subnet")
	assert.Nil(t, eps)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestScanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eps, err := NewScanner(WithSweepInterval(0)).Scan(ctx, "192.0.2.0/24")
	require.NoError(t, err)
	assert.Empty(t, eps)
}

// newSilentListener accepts connections and never answers them
func newSilentListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	return ln
}

func TestOptionsRequestStopsOnCancel(t *testing.T) {
	ln := newSilentListener(t)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := ProbeRTSP(ctx, addr, "rtsp://"+addr+"/", "tester/1.0", 3*time.Second)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestScanStopsOnCancelMidRequest(t *testing.T) {
	ln := newSilentListener(t)

	s := NewScanner(
		WithRTSPPorts(ln.Addr().(*net.TCPAddr).Port),
		WithONVIFPorts(),
		WithSweepPaths("/"),
		WithSweepInterval(0),
		WithReachTimeout(200*time.Millisecond),
		WithProbeTimeout(3*time.Second),
	)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	eps, err := s.Scan(ctx, "127.0.0.1")
	require.NoError(t, err)
	assert.Empty(t, eps)
	assert.Less(t, time.Since(start), 2*time.Second)
}
