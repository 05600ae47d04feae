// Package bridge converts outbound device commands into correlated,
// awaitable futures. Each command holds exactly one pending entry keyed
// by correlation id; the entry resolves from an asynchronously received
// device reply or from its timeout, exactly once, never both.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Joseamica/avoqado-server-sub005/device"
	"github.com/Joseamica/avoqado-server-sub005/errors"
	"github.com/Joseamica/avoqado-server-sub005/message"
	"github.com/Joseamica/avoqado-server-sub005/metric"
)

// DefaultTimeout bounds how long a command may stay pending. Terminals
// may be powered off or mid-reconnect, so timing out is a normal
// outcome the caller must branch on, not an error.
const DefaultTimeout = 60 * time.Second

// Status is the terminal state of a command.
type Status string

// Command terminal states
const (
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed_out"
)

// Result is the resolution of one command: the device's reply payload,
// or a timeout marker.
type Result struct {
	Status  Status
	Payload json.RawMessage
}

// Future is the caller's handle on an in-flight command. Resolved
// exactly once.
type Future struct {
	CorrelationID string
	ch            chan Result
}

// Wait blocks until the command resolves or ctx is done. Cancelling ctx
// abandons the wait but not the command: it may still complete or time
// out normally.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, errors.Wrap(ctx.Err(), errors.CodeInternal, "bridge", "Wait", "await command result")
	case res := <-f.ch:
		return res, nil
	}
}

// Sender delivers an encoded envelope to one connection id. The gateway
// implements this.
type Sender interface {
	Send(connID string, data []byte) error
}

// pendingRequest is the bookkeeping entry for one outstanding command.
type pendingRequest struct {
	correlationID string
	deviceID      string
	venueID       string
	createdAt     time.Time
	timer         *time.Timer
	future        *Future
}

// Metrics holds Prometheus metrics for the command bridge.
type Metrics struct {
	commandsSent     prometheus.Counter
	commandsResolved *prometheus.CounterVec
	repliesUnmatched prometheus.Counter
	pendingGauge     prometheus.Gauge
	commandDuration  prometheus.Histogram
}

func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avoqado",
			Subsystem: "bridge",
			Name:      "commands_sent_total",
			Help:      "Total device commands dispatched",
		}),

		commandsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avoqado",
			Subsystem: "bridge",
			Name:      "commands_resolved_total",
			Help:      "Commands resolved, by terminal status",
		}, []string{"status"}),

		repliesUnmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avoqado",
			Subsystem: "bridge",
			Name:      "replies_unmatched_total",
			Help:      "Replies bearing an unknown or already-resolved correlation id",
		}),

		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "avoqado",
			Subsystem: "bridge",
			Name:      "pending_requests",
			Help:      "Commands currently awaiting a reply",
		}),

		commandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "avoqado",
			Subsystem: "bridge",
			Name:      "command_duration_seconds",
			Help:      "Send-to-resolution round-trip duration",
			Buckets:   []float64{0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 15.0, 30.0, 60.0},
		}),
	}

	registry.MustRegister("bridge", map[string]prometheus.Collector{
		"commands_sent_total":     m.commandsSent,
		"commands_resolved_total": m.commandsResolved,
		"replies_unmatched_total": m.repliesUnmatched,
		"pending_requests":        m.pendingGauge,
		"command_duration":        m.commandDuration,
	})
	return m
}

// Bridge tracks pending device commands. A single mutex over the
// pending table is the only mutual-exclusion point, which is what makes
// resolve-or-timeout exactly-once.
type Bridge struct {
	devices *device.Registry
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// New creates a command bridge. timeout <= 0 selects DefaultTimeout.
func New(devices *device.Registry, sender Sender, timeout time.Duration, logger *slog.Logger, registry *metric.Registry) *Bridge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		devices: devices,
		sender:  sender,
		timeout: timeout,
		logger:  logger,
		metrics: newMetrics(registry),
		pending: make(map[string]*pendingRequest),
	}
}

// Send dispatches a command to a device and returns a future for its
// result. An unknown or offline device fails synchronously with
// DeviceUnavailable before any timeout is armed.
func (b *Bridge) Send(rawDeviceID string, payload json.RawMessage) (*Future, error) {
	connID := b.devices.ConnID(rawDeviceID)
	if connID == "" {
		return nil, errors.ErrDeviceUnavailable
	}

	entry := b.devices.Entry(rawDeviceID)

	correlationID := uuid.NewString()
	env := &message.Envelope{
		Type:          message.TypeCommand,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UnixMilli(),
		VenueID:       entry.VenueID,
		Payload:       payload,
	}
	data, err := env.Encode()
	if err != nil {
		return nil, err
	}

	future := &Future{
		CorrelationID: correlationID,
		ch:            make(chan Result, 1),
	}
	req := &pendingRequest{
		correlationID: correlationID,
		deviceID:      entry.ID,
		venueID:       entry.VenueID,
		createdAt:     time.Now(),
		future:        future,
	}

	b.mu.Lock()
	b.pending[correlationID] = req
	req.timer = time.AfterFunc(b.timeout, func() { b.expire(correlationID) })
	if b.metrics != nil {
		b.metrics.pendingGauge.Set(float64(len(b.pending)))
	}
	b.mu.Unlock()

	if err := b.sender.Send(connID, data); err != nil {
		// Command never reached the wire: tear the entry down and fail
		// synchronously rather than letting the caller wait out a
		// timeout that can only fire.
		b.mu.Lock()
		if cur, ok := b.pending[correlationID]; ok && cur == req {
			delete(b.pending, correlationID)
			req.timer.Stop()
			if b.metrics != nil {
				b.metrics.pendingGauge.Set(float64(len(b.pending)))
			}
		}
		b.mu.Unlock()
		return nil, errors.Wrap(err, errors.CodeDeviceUnavailable, "bridge", "Send", "deliver command to device")
	}

	if b.metrics != nil {
		b.metrics.commandsSent.Inc()
	}
	b.logger.Debug("command dispatched",
		"deviceId", entry.ID, "correlationId", correlationID)
	return future, nil
}

// HandleReply resolves the pending request for a correlation id with
// the device's result. Returns false when no entry exists — the
// expected outcome for a late or duplicate reply under retries — and
// never mutates any other entry.
func (b *Bridge) HandleReply(correlationID string, payload json.RawMessage) bool {
	b.mu.Lock()
	req, ok := b.pending[correlationID]
	if ok {
		delete(b.pending, correlationID)
		req.timer.Stop()
		if b.metrics != nil {
			b.metrics.pendingGauge.Set(float64(len(b.pending)))
		}
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("reply for unknown or resolved correlation id",
			"correlationId", correlationID)
		if b.metrics != nil {
			b.metrics.repliesUnmatched.Inc()
		}
		return false
	}

	req.future.ch <- Result{Status: StatusCompleted, Payload: payload}
	b.devices.Touch(req.deviceID)
	if b.metrics != nil {
		b.metrics.commandsResolved.WithLabelValues(string(StatusCompleted)).Inc()
		b.metrics.commandDuration.Observe(time.Since(req.createdAt).Seconds())
	}
	return true
}

// expire resolves a pending request with the timed-out result. A reply
// racing the timer loses cleanly: whichever removes the entry first
// resolves the future.
func (b *Bridge) expire(correlationID string) {
	b.mu.Lock()
	req, ok := b.pending[correlationID]
	if ok {
		delete(b.pending, correlationID)
		if b.metrics != nil {
			b.metrics.pendingGauge.Set(float64(len(b.pending)))
		}
	}
	b.mu.Unlock()

	if !ok {
		return
	}

	req.future.ch <- Result{Status: StatusTimedOut}
	if b.metrics != nil {
		b.metrics.commandsResolved.WithLabelValues(string(StatusTimedOut)).Inc()
	}
	b.logger.Warn("command timed out",
		"deviceId", req.deviceID, "correlationId", correlationID)
}

// PendingCount reports how many commands are awaiting a reply.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
