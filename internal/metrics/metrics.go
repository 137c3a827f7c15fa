// Package metrics exposes Prometheus metrics for the bridge. All methods are
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zapbot/internal/domain"
)

const namespace = "zapbot"

// Metrics groups the bridge's counters, gauges and histograms.
type Metrics struct {
	inboundTotal    *prometheus.CounterVec
	backendCalls    *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	outboundTotal   *prometheus.CounterVec
	connectionState *prometheus.GaugeVec
	reconnects      *prometheus.CounterVec
	credentialSaves *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the bridge metrics on reg. A nil reg uses a fresh registry
// so repeated construction in tests never collides.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "inbound_total",
			Help:      "Inbound transport events by outcome",
		}, []string{"outcome"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Agent backend calls by endpoint and status",
		}, []string{"endpoint", "status"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "latency_seconds",
			Help:      "Agent backend call latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "outbound_total",
			Help:      "Outbound transport operations by kind and status",
		}, []string{"kind", "status"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Scheduled reconnects by close reason",
		}, []string{"reason"}),
		credentialSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "credential_saves_total",
			Help:      "Credential store saves by status",
		}, []string{"status"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.inboundTotal,
		m.backendCalls,
		m.backendLatency,
		m.outboundTotal,
		m.connectionState,
		m.reconnects,
		m.credentialSaves,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveInbound(outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBackendCall(endpoint string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.backendCalls.WithLabelValues(endpoint, status(ok)).Inc()
	m.backendLatency.WithLabelValues(endpoint).Observe(seconds)
}

func (m *Metrics) ObserveOutbound(kind string, ok bool) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(kind, status(ok)).Inc()
}

// SetConnectionState flips the state gauge so exactly one state reads 1.
func (m *Metrics) SetConnectionState(state domain.ConnectionState) {
	if m == nil {
		return
	}
	for s := domain.StateDisconnected; s <= domain.StateClosing; s++ {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) ObserveReconnect(reason string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveCredentialSave(ok bool) {
	if m == nil {
		return
	}
	m.credentialSaves.WithLabelValues(status(ok)).Inc()
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
