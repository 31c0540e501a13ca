package camprobe

import (
	"context"
	"time"
)

// MonitorStability watches the session for d, checking liveness every check
// interval and reconnecting whenever a check fails. It never fails: a session
// that cannot be revived simply reports low uptime. WasStable means the
// session was connected when the window closed.
func (s *Session) MonitorStability(ctx context.Context, d time.Duration) StabilityReport {
	start := time.Now()
	end := start.Add(d)

	interval := s.n.checkInterval
	if interval <= 0 {
		interval = DefaultStabilityInterval
	}

	s.mu.Lock()
	connected := s.link != nil
	s.mu.Unlock()

	var (
		downtime       time.Duration
		downSince      time.Time
		disconnects    int
		reconnects     int
		reconnectTotal time.Duration
	)
	if !connected {
		downSince = start
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

loop:
	for d > 0 {
		select {
		case <-ctx.Done():
			break loop
		case <-timer.C:
			break loop
		case <-ticker.C:
		}

		if connected {
			if err := s.ping(ctx, end); err != nil {
				disconnects++
				connected = false
				downSince = time.Now()
				s.drop()
				s.n.logger.Warn().Err(err).Str("url", s.url).Int("disconnects", disconnects).Msg("stream disconnected")
			}
		}

		if !connected && ctx.Err() == nil {
			if s.reconnect(ctx, end) {
				connected = true
				outage := time.Since(downSince)
				downtime += outage
				reconnects++
				reconnectTotal += outage
				s.n.logger.Info().Str("url", s.url).Dur("outage", outage).Msg("stream reconnected")
			}
		}
	}

	stop := time.Now()
	if stop.After(end) {
		stop = end
	}
	if !connected {
		downtime += stop.Sub(downSince)
	}

	observed := stop.Sub(start)
	report := StabilityReport{
		WasStable:          connected,
		DisconnectionCount: disconnects,
		ObservedMs:         observed.Milliseconds(),
	}
	switch {
	case observed > 0:
		report.UptimePercentage = 100 * float64(observed-downtime) / float64(observed)
		if report.UptimePercentage < 0 {
			report.UptimePercentage = 0
		}
	case connected:
		report.UptimePercentage = 100
	}
	if reconnects > 0 {
		report.AverageReconnectTimeMs = (reconnectTotal / time.Duration(reconnects)).Milliseconds()
	}

	s.n.logger.Info().
		Str("url", s.url).
		Float64("uptime", report.UptimePercentage).
		Int("disconnects", disconnects).
		Int64("avg_reconnect_ms", report.AverageReconnectTimeMs).
		Msg("stability window closed")
	return report
}

// checkTimeout bounds one liveness check by the connect timeout and the end
// of the monitoring window.
func (s *Session) checkTimeout(end time.Time) time.Duration {
	timeout := s.n.timeout
	if remaining := time.Until(end); remaining < timeout {
		timeout = remaining
	}
	if timeout < 10*time.Millisecond {
		timeout = 10 * time.Millisecond
	}
	return timeout
}

func (s *Session) ping(ctx context.Context, end time.Time) error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil {
		return context.Canceled
	}

	pctx, cancel := context.WithTimeout(ctx, s.checkTimeout(end))
	defer cancel()
	return link.Ping(pctx)
}

func (s *Session) drop() {
	s.mu.Lock()
	if s.link != nil {
		_ = s.link.Close()
		s.link = nil
	}
	s.mu.Unlock()
	s.setState(StateDisconnected)
}

func (s *Session) reconnect(ctx context.Context, end time.Time) bool {
	s.setState(StateReconnecting)

	dctx, cancel := context.WithTimeout(ctx, s.checkTimeout(end))
	defer cancel()
	link, _, err := s.n.dialer.Dial(dctx, s.url, s.auth)
	if err != nil {
		s.setState(StateDisconnected)
		return false
	}

	s.mu.Lock()
	s.link = link
	s.mu.Unlock()
	s.setState(StateConnected)
	return true
}
