package camera

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons reported by tudocam_payloads_dropped_total
const (
	DropMailboxFull = "mailbox_full"
	DropSuppressed  = "suppressed"
	DropStale       = "stale"
	DropDecodeError = "decode_error"
)

// Metrics holds the engine collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	decodes        *prometheus.CounterVec
	decodeDuration *prometheus.HistogramVec
	renders        *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	cacheHits      *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	connected      *prometheus.GaugeVec
	battery        *prometheus.GaugeVec
	commands       *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tudocam_decodes_total",
			Help: "Map payload decodes by vacuum and result (ok/error).",
		}, []string{"vacuum", "format", "result"}),
		decodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tudocam_decode_duration_seconds",
			Help:    "Time spent decompressing and parsing a map payload.",
			Buckets: prometheus.DefBuckets,
		}, []string{"format"}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tudocam_renders_total",
			Help: "Rasterizer runs by vacuum and result (ok/error).",
		}, []string{"vacuum", "result"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tudocam_render_duration_seconds",
			Help:    "Time spent rasterizing a snapshot.",
			Buckets: prometheus.DefBuckets,
		}, []string{"vacuum"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tudocam_frame_cache_hits_total",
			Help: "Snapshots that reused the previously rendered frame.",
		}, []string{"vacuum"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tudocam_payloads_dropped_total",
			Help: "Image payloads that never reached the rasterizer, by reason.",
		}, []string{"vacuum", "reason"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tudocam_vacuum_connected",
			Help: "Vacuum connectivity (1=ready, 0=otherwise).",
		}, []string{"vacuum"}),
		battery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tudocam_vacuum_battery_percent",
			Help: "Last reported battery level.",
		}, []string{"vacuum"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tudocam_commands_published_total",
			Help: "Outbound commands by name and result.",
		}, []string{"vacuum", "command", "result"}),
	}
	m.registry.MustRegister(
		m.decodes, m.decodeDuration, m.renders, m.renderDuration,
		m.cacheHits, m.dropped, m.connected, m.battery, m.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) observeDecode(vacuum string, format Format, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.decodes.WithLabelValues(vacuum, string(format), result(err)).Inc()
	m.decodeDuration.WithLabelValues(string(format)).Observe(d.Seconds())
}

func (m *Metrics) observeRender(vacuum string, d time.Duration, rendered bool, err error) {
	if m == nil {
		return
	}
	if err == nil && !rendered {
		m.cacheHits.WithLabelValues(vacuum).Inc()
		return
	}
	m.renders.WithLabelValues(vacuum, result(err)).Inc()
	if err == nil {
		m.renderDuration.WithLabelValues(vacuum).Observe(d.Seconds())
	}
}

func (m *Metrics) dropPayload(vacuum, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(vacuum, reason).Inc()
}

func (m *Metrics) setConnected(vacuum string, ready bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ready {
		v = 1
	}
	m.connected.WithLabelValues(vacuum).Set(v)
}

func (m *Metrics) setBattery(vacuum string, level int) {
	if m == nil {
		return
	}
	m.battery.WithLabelValues(vacuum).Set(float64(level))
}

func (m *Metrics) commandPublished(vacuum, command string, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(vacuum, command, result(err)).Inc()
}
