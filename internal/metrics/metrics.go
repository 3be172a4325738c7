// Package metrics holds the Prometheus collectors of the fan-out core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat"

type Collectors struct {
	ActiveConnections prometheus.Gauge
	Frames            *prometheus.CounterVec
	Deliveries        prometheus.Counter
	Evictions         prometheus.Counter
	Persisted         prometheus.Counter
	PersistFailures   *prometheus.CounterVec
	PersistLatency    prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests so repeated construction does not collide.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connections currently admitted to the registry.",
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Inbound frames by classified kind.",
		}, []string{"kind"}),
		Deliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_deliveries_total",
			Help:      "Frames handed to a peer during fan-out.",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_evictions_total",
			Help:      "Peers removed because a fan-out send failed.",
		}),
		Persisted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Chat messages stored with a sequence number.",
		}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_persist_failures_total",
			Help:      "Chat messages that were not stored, by error code.",
		}, []string{"reason"}),
		PersistLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_persist_seconds",
			Help:      "Time spent assigning a sequence and storing a message.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
