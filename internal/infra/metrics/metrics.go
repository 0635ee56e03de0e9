// Package metrics exposes Prometheus metrics for resolution, playback and
// the synchronization link.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guildplay"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	resolves        *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	playbackEvents  *prometheus.CounterVec
	syncMessages    *prometheus.CounterVec
	sessions        prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolves_total",
			Help:      "Track reference resolutions by catalog and outcome kind.",
		}, []string{"catalog", "kind"}),
		resolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving a track reference.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"catalog"}),
		playbackEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_events_total",
			Help:      "Playback events by type.",
		}, []string{"type"}),
		syncMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_messages_total",
			Help:      "Inbound synchronization messages by type and result.",
		}, []string{"type", "result"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live playback sessions.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.resolves,
		m.resolveDuration,
		m.playbackEvents,
		m.syncMessages,
		m.sessions,
	)
	return m
}

// ObserveResolve records one resolution.
func (m *Metrics) ObserveResolve(catalogName, kind string, elapsed time.Duration) {
	m.resolves.WithLabelValues(catalogName, kind).Inc()
	m.resolveDuration.WithLabelValues(catalogName).Observe(elapsed.Seconds())
}

// ObservePlaybackEvent counts a playback event.
func (m *Metrics) ObservePlaybackEvent(eventType string) {
	m.playbackEvents.WithLabelValues(eventType).Inc()
}

// ObserveSyncMessage counts an inbound synchronization message.
func (m *Metrics) ObserveSyncMessage(msgType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.syncMessages.WithLabelValues(msgType, result).Inc()
}

// SetSessions sets the live session gauge.
func (m *Metrics) SetSessions(n int) {
	m.sessions.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
