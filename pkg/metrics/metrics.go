package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Delivery metrics
	EventsSubmitted *prometheus.CounterVec
	Pushes          *prometheus.CounterVec
	OpenChannels    prometheus.Gauge

	// Relay metrics
	RelayPublished *prometheus.CounterVec
	RelayReceived  prometheus.Counter

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
	DatabaseLatency    *prometheus.HistogramVec
}

// New creates all application metrics and registers them on reg. Tests pass a
// fresh prometheus.NewRegistry() so repeated construction does not collide.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_submitted_total",
			Help:      "Total number of submitted notification events",
		}, []string{"type", "status"}),
		Pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Live push attempts by result",
		}, []string{"result"}),
		OpenChannels: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_channels",
			Help:      "Current number of registered live channels",
		}),
		RelayPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_published_total",
			Help:      "Relay envelopes published to peer instances",
		}, []string{"status"}),
		RelayReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_received_total",
			Help:      "Relay envelopes received from peer instances",
		}),
		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
	}
}

// Noop returns metrics registered on a private registry.
func Noop() *Metrics {
	return New("test", prometheus.NewRegistry())
}

// ObserveDB records one database operation outcome.
func (m *Metrics) ObserveDB(op string, err error, seconds float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DatabaseOperations.WithLabelValues(op, status).Inc()
	m.DatabaseLatency.WithLabelValues(op).Observe(seconds)
}
