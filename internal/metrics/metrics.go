package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livesync"

// Call outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeRemote       = "remote"
	OutcomeTimeout      = "timeout"
	OutcomeNotConnected = "not_connected"
	OutcomeCanceled     = "canceled"
	OutcomeClosed       = "closed"
)

// Metrics holds the client layer collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections prometheus.Gauge
	reconnects  prometheus.Counter
	calls       *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	flushes     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Transport connections currently open.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Dial attempts made after a transport drop or failed connect.",
		}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Correlated calls by outcome.",
		}, []string{"outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_dropped_total",
			Help:      "Inbound broadcasts rejected before reaching state.",
		}, []string{"event", "reason"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Batched UI updates delivered.",
		}, []string{"feature"}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.reconnects, m.calls, m.dropped, m.flushes)
	}
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) ReconnectAttempt() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) CallDone(outcome string) {
	if m != nil {
		m.calls.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) BroadcastDropped(event, reason string) {
	if m != nil {
		m.dropped.WithLabelValues(event, reason).Inc()
	}
}

func (m *Metrics) BatchFlushed(feature string) {
	if m != nil {
		m.flushes.WithLabelValues(feature).Inc()
	}
}

// NewServer serves /metrics for gatherer on addr.
func NewServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
