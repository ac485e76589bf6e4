// Package metrics exposes Prometheus counters and gauges for the signaling
// and voice subsystems.
//
// All Record* methods are safe on a nil *Collector so components can run
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Envelope routing outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeMiss      = "miss"
	OutcomeDropped   = "dropped"
	OutcomeMalformed = "malformed"
)

// Collector holds the process metrics.
type Collector struct {
	connections       *prometheus.GaugeVec
	envelopes         *prometheus.CounterVec
	carrierRequests   *prometheus.CounterVec
	statusCallbacks   *prometheus.CounterVec
	credentialsMinted prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewCollector registers all metrics on reg. A nil reg uses a fresh
// registry, which keeps tests from colliding on the default one.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signaling_connections",
			Help: "Live signaling connections by role",
		}, []string{"role"}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_envelopes_total",
			Help: "Envelopes handled by the router, by type and outcome",
		}, []string{"type", "outcome"}),
		carrierRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_carrier_requests_total",
			Help: "Outbound carrier requests by operation and outcome",
		}, []string{"operation", "outcome"}),
		statusCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_status_callbacks_total",
			Help: "Carrier status callbacks received, by status",
		}, []string{"status"}),
		credentialsMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_credentials_minted_total",
			Help: "Browser calling credentials issued",
		}),
		gatherer: reg,
	}
	reg.MustRegister(c.connections, c.envelopes, c.carrierRequests, c.statusCallbacks, c.credentialsMinted)
	return c
}

func (c *Collector) ConnectionOpened(role string) {
	if c == nil {
		return
	}
	c.connections.WithLabelValues(role).Inc()
}

func (c *Collector) ConnectionClosed(role string) {
	if c == nil {
		return
	}
	c.connections.WithLabelValues(role).Dec()
}

func (c *Collector) RecordEnvelope(envType, outcome string) {
	if c == nil {
		return
	}
	c.envelopes.WithLabelValues(envType, outcome).Inc()
}

func (c *Collector) RecordCarrierRequest(operation, outcome string) {
	if c == nil {
		return
	}
	c.carrierRequests.WithLabelValues(operation, outcome).Inc()
}

// RecordStatusCallback counts a callback. Unrecognized statuses are folded
// into "unknown" to keep label cardinality bounded.
func (c *Collector) RecordStatusCallback(status string, known bool) {
	if c == nil {
		return
	}
	if !known {
		status = "unknown"
	}
	c.statusCallbacks.WithLabelValues(status).Inc()
}

func (c *Collector) RecordCredentialMinted() {
	if c == nil {
		return
	}
	c.credentialsMinted.Inc()
}

// Handler serves the metrics in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
