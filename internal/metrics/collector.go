package rpmametrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "rpma"
	subsystem = "core"
)

// Label names for rpma metrics.
const (
	labelPeer      = "peer"
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelOpStatus  = "status"
)

// -------------------------------------------------------------------------
// Collector — Prometheus rpma Metrics
// -------------------------------------------------------------------------

// Collector holds all rpma Prometheus metrics.
//
// Metrics are designed for production RDMA fabric monitoring:
//   - Region and connection gauges track currently live resources per Peer.
//   - Connection transition counters record FSM changes for alerting.
//   - Read and completion counters track the one-sided read data path.
type Collector struct {
	// Regions tracks the number of currently registered memory regions per
	// Peer. Incremented on RegisterRegion, decremented on Deregister.
	Regions *prometheus.GaugeVec

	// Connections tracks the number of currently established connections
	// per Peer. Incremented when a Connection is created, decremented when
	// it reaches Closed or Lost.
	Connections *prometheus.GaugeVec

	// ConnectionTransitions counts Connection lifecycle transitions. Each
	// counter is labeled with the old and new state for precise alerting
	// (e.g. Established->Lost).
	ConnectionTransitions *prometheus.CounterVec

	// ReadsPosted counts PostRead calls per Peer.
	ReadsPosted *prometheus.CounterVec

	// Completions counts NextCompletion results per Peer, labeled by
	// CompletionStatus.
	Completions *prometheus.CounterVec
}

// NewCollector creates a Collector with all rpma metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
//
// All metrics are created with the "rpma_core_" prefix (namespace_subsystem)
// to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Regions,
		c.Connections,
		c.ConnectionTransitions,
		c.ReadsPosted,
		c.Completions,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	peerLabels := []string{labelPeer}
	transitionLabels := []string{labelPeer, labelFromState, labelToState}
	completionLabels := []string{labelPeer, labelOpStatus}

	return &Collector{
		Regions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "regions",
			Help:      "Number of currently registered memory regions.",
		}, peerLabels),

		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections",
			Help:      "Number of currently established connections.",
		}, peerLabels),

		ConnectionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_transitions_total",
			Help:      "Total connection lifecycle transitions.",
		}, transitionLabels),

		ReadsPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reads_posted_total",
			Help:      "Total one-sided RDMA reads posted.",
		}, peerLabels),

		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "completions_total",
			Help:      "Total completions observed, labeled by status.",
		}, completionLabels),
	}
}

// -------------------------------------------------------------------------
// Region Lifecycle
// -------------------------------------------------------------------------

// RegisterRegion increments the live regions gauge for the given peer.
// Called when RegisterRegion succeeds.
func (c *Collector) RegisterRegion(peer string) {
	c.Regions.WithLabelValues(peer).Inc()
}

// DeregisterRegion decrements the live regions gauge for the given peer.
// Called when Deregister succeeds.
func (c *Collector) DeregisterRegion(peer string) {
	c.Regions.WithLabelValues(peer).Dec()
}

// -------------------------------------------------------------------------
// Connection Lifecycle
// -------------------------------------------------------------------------

// RegisterConnection increments the live connections gauge for the given
// peer. Called when a Connection is created (Connect/Accept succeeds).
func (c *Collector) RegisterConnection(peer string) {
	c.Connections.WithLabelValues(peer).Inc()
}

// UnregisterConnection decrements the live connections gauge for the given
// peer. Called when a Connection reaches Closed or Lost.
func (c *Collector) UnregisterConnection(peer string) {
	c.Connections.WithLabelValues(peer).Dec()
}

// RecordConnectionTransition increments the transition counter with the old
// and new state labels. Used for alerting on unexpected Lost transitions.
func (c *Collector) RecordConnectionTransition(peer, from, to string) {
	c.ConnectionTransitions.WithLabelValues(peer, from, to).Inc()
}

// -------------------------------------------------------------------------
// Data Path
// -------------------------------------------------------------------------

// IncReadsPosted increments the posted-reads counter for the given peer.
// Called on each successful PostRead.
func (c *Collector) IncReadsPosted(peer string) {
	c.ReadsPosted.WithLabelValues(peer).Inc()
}

// IncCompletion increments the completions counter for the given peer and
// status. Called on each NextCompletion result.
func (c *Collector) IncCompletion(peer, status string) {
	c.Completions.WithLabelValues(peer, status).Inc()
}
