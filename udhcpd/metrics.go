package udhcpd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the server counters. They are registered on the registry
// passed to NewMetrics.
type Metrics struct {
	Received     *prometheus.CounterVec
	Sent         *prometheus.CounterVec
	Dropped      prometheus.Counter
	ActiveLeases prometheus.Gauge
	LeaseWrites  prometheus.Counter
}

// NewMetrics creates the server metrics on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	namespace := "udhcpd"

	return &Metrics{
		Received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_total",
			Help:      "Messages received by dhcp message type",
		}, []string{"type"}),
		Sent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_total",
			Help:      "Messages sent by dhcp message type",
		}, []string{"type"}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Invalid or ignored packets",
		}),
		ActiveLeases: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_leases",
			Help:      "Leases not yet expired",
		}),
		LeaseWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease_file",
			Name:      "writes_total",
			Help:      "Lease file writes",
		}),
	}
}
