package camprobe

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const audioSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=Stream\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"t=0 0\r\n" +
	"m=audio 0 RTP/AVP 8\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=control:trackID=0\r\n"

// fakeCamera is a minimal RTSP server answering OPTIONS and DESCRIBE on a
// persistent connection. DESCRIBE of any path other than /live is a 404.
type fakeCamera struct {
	ln      net.Listener
	mu      sync.Mutex
	methods map[string]int
}

func newFakeCamera(t *testing.T) *fakeCamera {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c := &fakeCamera{ln: ln, methods: make(map[string]int)}

	var (
		connMu sync.Mutex
		conns  []net.Conn
	)
	t.Cleanup(func() {
		ln.Close()
		connMu.Lock()
		defer connMu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			connMu.Lock()
			conns = append(conns, conn)
			connMu.Unlock()
			go c.serve(conn)
		}
	}()
	return c
}

func (c *fakeCamera) serve(conn net.Conn) {
	defer conn.Close()
	r := textproto.NewReader(bufio.NewReader(conn))
	for {
		line, err := r.ReadLine()
		if err != nil {
			return
		}
		if line == "" {
			continue
		}
		header, err := r.ReadMIMEHeader()
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return
		}
		method, target := fields[0], fields[1]
		cseq := header.Get("Cseq")

		c.mu.Lock()
		c.methods[method]++
		c.mu.Unlock()

		var resp string
		switch {
		case method == "OPTIONS":
			resp = fmt.Sprintf("RTSP/1.0 200 OK\r\nCSeq: %s\r\nPublic: OPTIONS, DESCRIBE, SETUP, PLAY, TEARDOWN\r\n\r\n", cseq)
		case method == "DESCRIBE" && strings.HasSuffix(target, "/live"):
			resp = fmt.Sprintf("RTSP/1.0 200 OK\r\nCSeq: %s\r\nContent-Type: application/sdp\r\nContent-Base: %s/\r\nContent-Length: %d\r\n\r\n%s",
				cseq, target, len(audioSDP), audioSDP)
		case method == "DESCRIBE":
			resp = fmt.Sprintf("RTSP/1.0 404 Not Found\r\nCSeq: %s\r\n\r\n", cseq)
		default:
			resp = fmt.Sprintf("RTSP/1.0 501 Not Implemented\r\nCSeq: %s\r\n\r\n", cseq)
		}
		if _, err := conn.Write([]byte(resp)); err != nil {
			return
		}
	}
}

func (c *fakeCamera) url(path string) string {
	return StreamURL("127.0.0.1", c.ln.Addr().(*net.TCPAddr).Port, path)
}

func (c *fakeCamera) count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.methods[method]
}

func TestRTSPDialerDescribesAudio(t *testing.T) {
	cam := newFakeCamera(t)
	n := NewNegotiator(WithConnectTimeout(2 * time.Second))

	result := n.Connect(context.Background(), cam.url("/live"), nil, 0)
	require.True(t, result.Success, result.ErrorMessage)
	assert.True(t, result.HasAudioTrack)
	assert.Equal(t, "G711", result.AudioCodec)
	assert.Equal(t, 1, cam.count("DESCRIBE"))
}

func TestRTSPDialerPathNotFound(t *testing.T) {
	cam := newFakeCamera(t)
	n := NewNegotiator(WithConnectTimeout(2 * time.Second))

	result, err := n.ConnectWithFallback(context.Background(), ConnectionConfig{
		IP:       "127.0.0.1",
		RTSPPort: cam.ln.Addr().(*net.TCPAddr).Port,
		Paths:    []string{"/missing", "/live"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/live", result.SuccessfulPath)
	assert.Equal(t, []string{"/missing", "/live"}, result.AttemptedPaths)

	single := n.Connect(context.Background(), cam.url("/missing"), nil, 0)
	assert.False(t, single.Success)
	assert.Equal(t, FailureNotFound, single.Failure)
}

func TestRTSPLinkPingsWithOptions(t *testing.T) {
	cam := newFakeCamera(t)
	n := NewNegotiator(
		WithConnectTimeout(2*time.Second),
		WithCheckInterval(50*time.Millisecond),
	)

	s, err := n.Open(context.Background(), cam.url("/live"), nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, MediaInfo{HasAudio: true, AudioCodec: "G711"}, s.Media())

	before := cam.count("OPTIONS")
	report := s.MonitorStability(context.Background(), 300*time.Millisecond)

	assert.True(t, report.WasStable)
	assert.Zero(t, report.DisconnectionCount)
	assert.InDelta(t, 100, report.UptimePercentage, 0.001)
	assert.Greater(t, cam.count("OPTIONS"), before)
	assert.Equal(t, 1, cam.count("DESCRIBE"), "liveness checks do not reconnect")
}
