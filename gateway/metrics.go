package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Joseamica/avoqado-server-sub005/metric"
)

// Metrics tracks gateway activity. A nil registry yields nil metrics and
// all recording sites check for nil.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	authFailures      *prometheus.CounterVec
	eventsReceived    *prometheus.CounterVec
	rateLimited       prometheus.Counter
}

func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "avoqado",
			Subsystem: "gateway",
			Name:      "connections_active",
			Help:      "Live WebSocket connections, authenticated or not",
		}),

		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avoqado",
			Subsystem: "gateway",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start",
		}),

		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avoqado",
			Subsystem: "gateway",
			Name:      "auth_failures_total",
			Help:      "Connections rejected during authentication, by error code",
		}, []string{"code"}),

		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avoqado",
			Subsystem: "gateway",
			Name:      "events_received_total",
			Help:      "Inbound events decoded, by event type",
		}, []string{"type"}),

		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avoqado",
			Subsystem: "gateway",
			Name:      "rate_limited_total",
			Help:      "Connection attempts rejected by the rate limiter",
		}),
	}

	registry.MustRegister("gateway", map[string]prometheus.Collector{
		"connections_active":    m.connectionsActive,
		"connections_total":     m.connectionsTotal,
		"auth_failures_total":   m.authFailures,
		"events_received_total": m.eventsReceived,
		"rate_limited_total":    m.rateLimited,
	})
	return m
}
