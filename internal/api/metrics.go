package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exported on /metrics
type Metrics struct {
	registry         *prometheus.Registry
	discovered       prometheus.Gauge
	discoverDuration prometheus.Histogram
	negotiations     *prometheus.CounterVec
	ptzCommands      *prometheus.CounterVec
}

// NewMetrics registers the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		discovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camprobe_discovered_endpoints",
			Help: "Endpoints returned by the last discovery.",
		}),
		discoverDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "camprobe_discover_duration_seconds",
			Help:    "Wall-clock time of discovery runs.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		}),
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camprobe_negotiations_total",
			Help: "RTSP fallback negotiations by result.",
		}, []string{"result"}),
		ptzCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camprobe_ptz_commands_total",
			Help: "PTZ commands by command and result.",
		}, []string{"command", "result"}),
	}
	m.registry.MustRegister(
		m.discovered,
		m.discoverDuration,
		m.negotiations,
		m.ptzCommands,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
