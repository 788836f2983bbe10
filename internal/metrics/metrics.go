package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by the event pipeline and the
// cache layer. A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsPublished *prometheus.CounterVec
	EventsConsumed  *prometheus.CounterVec
	CacheRequests   *prometheus.CounterVec
	CascadeItems    *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postmesh",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of published events by routing key and status.",
		}, []string{"routing_key", "status"}), // status: ok, error
		EventsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postmesh",
			Subsystem: "events",
			Name:      "consumed_total",
			Help:      "Total number of handled deliveries by routing key and outcome.",
		}, []string{"routing_key", "outcome"}), // outcome: acked, failed, poison
		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postmesh",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Total number of read-through cache lookups by cache and result.",
		}, []string{"cache", "result"}), // result: hit, miss, error
		CascadeItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "postmesh",
			Subsystem: "media",
			Name:      "cascade_items_total",
			Help:      "Total number of media items processed by post deletion cascades.",
		}, []string{"outcome"}), // outcome: deleted, skipped, failed
	}
}

func (m *Metrics) Published(routingKey, status string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(routingKey, status).Inc()
}

func (m *Metrics) Consumed(routingKey, outcome string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(routingKey, outcome).Inc()
}

func (m *Metrics) Cache(cache, result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) Cascade(outcome string) {
	if m == nil {
		return
	}
	m.CascadeItems.WithLabelValues(outcome).Inc()
}
