// Package metrics provides Prometheus metrics for the auction server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Bid pipeline
	BidsAccepted    prometheus.Counter
	BidsRejected    *prometheus.CounterVec
	BidsQueued      prometheus.Counter
	ConsumerRetries prometheus.Counter
	DeadLettered    prometheus.Counter

	// Lifecycle
	AuctionsClosed prometheus.Counter

	// Gateway
	ActiveConnections prometheus.Gauge
	Broadcasts        prometheus.Counter

	// Ingress guard
	GuardRejected *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "auction"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		BidsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_accepted_total",
			Help:      "Total number of committed bids",
		}),
		BidsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_rejected_total",
			Help:      "Total number of rejected bids",
		}, []string{"reason"}),
		BidsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_queued_total",
			Help:      "Total number of bids enqueued onto the broker",
		}),
		ConsumerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_retries_total",
			Help:      "Total number of bid messages requeued with a bumped retry count",
		}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Total number of bid messages routed to the dead-letter queue",
		}),

		AuctionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auctions_closed_total",
			Help:      "Total number of auctions moved to completed",
		}),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "Number of websocket connections currently open",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_broadcasts_total",
			Help:      "Total number of events fanned out to auction rooms",
		}),

		GuardRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejected_total",
			Help:      "Total number of operations refused by the ingress guard",
		}, []string{"by"}),
	}

	m.registry.MustRegister(
		m.BidsAccepted, m.BidsRejected, m.BidsQueued,
		m.ConsumerRetries, m.DeadLettered,
		m.AuctionsClosed,
		m.ActiveConnections, m.Broadcasts,
		m.GuardRejected,
	)

	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
