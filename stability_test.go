package camprobe

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSession(t *testing.T, d Dialer, rec *stateRecorder) *Session {
	t.Helper()
	options := []NegotiatorOption{
		WithDialer(d),
		WithCheckInterval(10 * time.Millisecond),
		WithConnectTimeout(50 * time.Millisecond),
	}
	if rec != nil {
		options = append(options, WithStateHook(rec.hook))
	}
	s, err := NewNegotiator(options...).Open(context.Background(), "rtsp://192.168.1.100:554/live", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMonitorStabilityHealthy(t *testing.T) {
	link := &fakeLink{}
	s := openTestSession(t, dialerFunc(func(context.Context, string, *Auth) (Link, MediaInfo, error) {
		return link, MediaInfo{}, nil
	}), nil)

	report := s.MonitorStability(context.Background(), 120*time.Millisecond)
	assert.True(t, report.WasStable)
	assert.InDelta(t, 100, report.UptimePercentage, 0.001)
	assert.Zero(t, report.DisconnectionCount)
	assert.Zero(t, report.AverageReconnectTimeMs)
	assert.InDelta(t, 120, report.ObservedMs, 40)
	assert.True(t, report.IsProductionStable())
	assert.Equal(t, StateConnected, s.State())
}

func TestMonitorStabilityReconnects(t *testing.T) {
	var pings atomic.Int32
	flaky := &fakeLink{ping: func() error {
		if pings.Add(1) == 3 {
			return refused
		}
		return nil
	}}
	var dials atomic.Int32
	rec := &stateRecorder{}
	s := openTestSession(t, dialerFunc(func(context.Context, string, *Auth) (Link, MediaInfo, error) {
		if dials.Add(1) == 1 {
			return flaky, MediaInfo{}, nil
		}
		return &fakeLink{}, MediaInfo{}, nil
	}), rec)

	report := s.MonitorStability(context.Background(), 150*time.Millisecond)
	assert.True(t, report.WasStable)
	assert.Equal(t, 1, report.DisconnectionCount)
	assert.LessOrEqual(t, report.UptimePercentage, 100.0)
	assert.Greater(t, report.UptimePercentage, 50.0)
	assert.GreaterOrEqual(t, report.AverageReconnectTimeMs, int64(0))
	assert.EqualValues(t, 2, dials.Load())
	assert.EqualValues(t, 1, flaky.closed.Load(), "the dead link is released")

	assert.Subset(t, rec.states(), []ConnState{StateDisconnected, StateReconnecting, StateConnected})
}

func TestMonitorStabilityNeverRecovers(t *testing.T) {
	var dials atomic.Int32
	s := openTestSession(t, dialerFunc(func(context.Context, string, *Auth) (Link, MediaInfo, error) {
		if dials.Add(1) == 1 {
			return &fakeLink{ping: func() error { return refused }}, MediaInfo{}, nil
		}
		return nil, MediaInfo{}, refused
	}), nil)

	report := s.MonitorStability(context.Background(), 100*time.Millisecond)
	assert.False(t, report.WasStable)
	assert.Equal(t, 1, report.DisconnectionCount)
	assert.Less(t, report.UptimePercentage, 50.0)
	assert.Zero(t, report.AverageReconnectTimeMs)
	assert.False(t, report.IsProductionStable())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Greater(t, dials.Load(), int32(2))
}

func TestMonitorStabilityCancelled(t *testing.T) {
	s := openTestSession(t, dialerFunc(func(context.Context, string, *Auth) (Link, MediaInfo, error) {
		return &fakeLink{}, MediaInfo{}, nil
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	report := s.MonitorStability(ctx, 10*time.Second)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, report.WasStable)
	assert.Less(t, report.ObservedMs, int64(1000))
}

func TestIsProductionStable(t *testing.T) {
	assert.True(t, StabilityReport{WasStable: true, UptimePercentage: 98}.IsProductionStable())
	assert.False(t, StabilityReport{WasStable: true, UptimePercentage: 97.9}.IsProductionStable())
	assert.False(t, StabilityReport{WasStable: false, UptimePercentage: 100}.IsProductionStable())
}
