// Package dispatch fans event payloads out to the subset of live
// sessions matching a target selector. Delivery is fire-and-forget over
// a transport-agnostic Sender; an optional NATS relay extends fan-out
// across server instances without changing the broadcast contract.
package dispatch

import (
	"encoding/json"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Joseamica/avoqado-server-sub005/message"
	"github.com/Joseamica/avoqado-server-sub005/metric"
	"github.com/Joseamica/avoqado-server-sub005/session"
)

// Sender delivers an encoded envelope to one connection. The gateway
// implements this; the engine never touches the transport directly.
type Sender interface {
	Send(connID string, data []byte) error
}

// SelectorKind addresses one of the four group indices.
type SelectorKind string

// Selector kinds
const (
	SelectVenue SelectorKind = "venue"
	SelectTable SelectorKind = "table"
	SelectRole  SelectorKind = "role"
	SelectUser  SelectorKind = "user"
)

// Selector identifies the subset of sessions a broadcast targets.
type Selector struct {
	Kind    SelectorKind `json:"kind"`
	VenueID string       `json:"venueId,omitempty"`
	TableID string       `json:"tableId,omitempty"`
	Role    string       `json:"role,omitempty"`
	UserID  string       `json:"userId,omitempty"`
}

// Options filter the resolved session set before delivery.
type Options struct {
	// ExcludeConn drops one connection id, typically the event's
	// sender, to avoid echoing an event back at its origin.
	ExcludeConn string `json:"excludeConn,omitempty"`
	// IncludeRoles, when non-empty, keeps only sessions holding one of
	// these roles.
	IncludeRoles []string `json:"includeRoles,omitempty"`
	// ExcludeRoles drops sessions holding any of these roles.
	ExcludeRoles []string `json:"excludeRoles,omitempty"`
}

// Metrics holds Prometheus metrics for the dispatch engine.
type Metrics struct {
	broadcastsTotal *prometheus.CounterVec
	deliveriesTotal *prometheus.CounterVec
	deliveryErrors  *prometheus.CounterVec
	relayPublished  prometheus.Counter
	relayApplied    prometheus.Counter
}

func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		broadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avoqado",
			Subsystem: "dispatch",
			Name:      "broadcasts_total",
			Help:      "Total broadcast calls by selector kind",
		}, []string{"selector"}),

		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avoqado",
			Subsystem: "dispatch",
			Name:      "deliveries_total",
			Help:      "Total per-session deliveries attempted",
		}, []string{"event"}),

		deliveryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avoqado",
			Subsystem: "dispatch",
			Name:      "delivery_errors_total",
			Help:      "Deliveries that failed for a single recipient",
		}, []string{"event"}),

		relayPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avoqado",
			Subsystem: "dispatch",
			Name:      "relay_published_total",
			Help:      "Broadcast envelopes published to the relay backend",
		}),

		relayApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avoqado",
			Subsystem: "dispatch",
			Name:      "relay_applied_total",
			Help:      "Relay envelopes received from other instances and applied locally",
		}),
	}

	registry.MustRegister("dispatch", map[string]prometheus.Collector{
		"broadcasts_total":      m.broadcastsTotal,
		"deliveries_total":      m.deliveriesTotal,
		"delivery_errors_total": m.deliveryErrors,
		"relay_published_total": m.relayPublished,
		"relay_applied_total":   m.relayApplied,
	})
	return m
}

// Engine resolves selectors against the session registry and delivers
// payloads. Constructor-injected; no process-wide instance.
type Engine struct {
	sessions *session.Registry
	sender   Sender
	relay    *Relay
	logger   *slog.Logger
	metrics  *Metrics
}

// NewEngine creates a dispatch engine. relay may be nil for
// single-instance deployments.
func NewEngine(sessions *session.Registry, sender Sender, logger *slog.Logger, registry *metric.Registry) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sessions: sessions,
		sender:   sender,
		logger:   logger,
		metrics:  newMetrics(registry),
	}
}

// SetRelay attaches a relay backend and starts applying envelopes
// published by other instances.
func (e *Engine) SetRelay(relay *Relay) error {
	e.relay = relay
	if relay == nil {
		return nil
	}
	return relay.subscribe(e)
}

// BroadcastToVenue fans an event out to every session in a venue.
func (e *Engine) BroadcastToVenue(venueID, eventType string, payload json.RawMessage, opts Options) {
	e.Broadcast(Selector{Kind: SelectVenue, VenueID: venueID}, eventType, payload, opts)
}

// BroadcastToTable fans an event out to sessions joined to a table.
func (e *Engine) BroadcastToTable(venueID, tableID, eventType string, payload json.RawMessage, opts Options) {
	e.Broadcast(Selector{Kind: SelectTable, VenueID: venueID, TableID: tableID}, eventType, payload, opts)
}

// BroadcastToRole fans an event out to sessions holding a role. venueID
// may be empty to address the role across all venues.
func (e *Engine) BroadcastToRole(role, eventType string, payload json.RawMessage, venueID string, opts Options) {
	e.Broadcast(Selector{Kind: SelectRole, Role: role, VenueID: venueID}, eventType, payload, opts)
}

// BroadcastToUser fans an event out to every connection a user holds.
func (e *Engine) BroadcastToUser(userID, eventType string, payload json.RawMessage, opts Options) {
	e.Broadcast(Selector{Kind: SelectUser, UserID: userID}, eventType, payload, opts)
}

// Broadcast resolves the selector to a session snapshot, applies the
// option filters, enriches the envelope, and delivers to each remaining
// session independently. Returns once delivery has been attempted to
// the resolved set; no acknowledgement is awaited.
func (e *Engine) Broadcast(sel Selector, eventType string, payload json.RawMessage, opts Options) {
	env := &message.Envelope{Type: eventType, Payload: payload}
	env.Enrich(sel.VenueID)

	e.deliverLocal(sel, env, opts)

	if e.relay != nil {
		if err := e.relay.publish(sel, env, opts); err != nil {
			e.logger.Warn("relay publish failed; broadcast stayed local",
				"event", eventType, "error", err)
		} else if e.metrics != nil {
			e.metrics.relayPublished.Inc()
		}
	}
}

// deliverLocal performs the in-memory half of a broadcast.
func (e *Engine) deliverLocal(sel Selector, env *message.Envelope, opts Options) {
	if e.metrics != nil {
		e.metrics.broadcastsTotal.WithLabelValues(string(sel.Kind)).Inc()
	}

	targets := e.resolve(sel)
	if len(targets) == 0 {
		return
	}

	data, err := env.Encode()
	if err != nil {
		e.logger.Error("broadcast envelope failed to encode",
			"event", env.Type, "error", err)
		return
	}

	for _, s := range targets {
		if !included(s, opts) {
			continue
		}
		if e.metrics != nil {
			e.metrics.deliveriesTotal.WithLabelValues(env.Type).Inc()
		}
		if err := e.sender.Send(s.ConnID, data); err != nil {
			// Isolated per recipient: one failed delivery never fails
			// the broadcast.
			if e.metrics != nil {
				e.metrics.deliveryErrors.WithLabelValues(env.Type).Inc()
			}
			e.logger.Debug("delivery failed",
				"connId", s.ConnID, "event", env.Type, "error", err)
			continue
		}
		s.Touch()
	}
}

// resolve snapshots the sessions a selector addresses.
func (e *Engine) resolve(sel Selector) []*session.Session {
	switch sel.Kind {
	case SelectVenue:
		return e.sessions.SessionsForVenue(sel.VenueID)
	case SelectTable:
		return e.sessions.SessionsForTable(sel.VenueID, sel.TableID)
	case SelectRole:
		matched := e.sessions.SessionsForRole(sel.Role)
		if sel.VenueID == "" {
			return matched
		}
		scoped := matched[:0:0]
		for _, s := range matched {
			if s.Identity.VenueID == sel.VenueID {
				scoped = append(scoped, s)
			}
		}
		return scoped
	case SelectUser:
		return e.sessions.SessionsForUser(sel.UserID)
	default:
		e.logger.Warn("broadcast with unknown selector kind", "kind", sel.Kind)
		return nil
	}
}

func included(s *session.Session, opts Options) bool {
	if opts.ExcludeConn != "" && s.ConnID == opts.ExcludeConn {
		return false
	}
	if len(opts.IncludeRoles) > 0 && !containsRole(opts.IncludeRoles, s.Identity.Role) {
		return false
	}
	if containsRole(opts.ExcludeRoles, s.Identity.Role) {
		return false
	}
	return true
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
