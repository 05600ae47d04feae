package dispatch

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Joseamica/avoqado-server-sub005/errors"
	"github.com/Joseamica/avoqado-server-sub005/message"
	"github.com/Joseamica/avoqado-server-sub005/natsclient"
)

// relaySubject carries broadcast envelopes between server instances.
const relaySubject = "avoqado.broadcast"

// relayEnvelope is the cross-instance wire form of one broadcast.
// Origin lets receivers skip envelopes they published themselves.
type relayEnvelope struct {
	Origin   string            `json:"origin"`
	Selector Selector          `json:"selector"`
	Options  Options           `json:"options"`
	Envelope *message.Envelope `json:"envelope"`
}

// Relay extends broadcast fan-out across server instances over NATS.
// Single-instance deployments run without one; broadcasts then stay
// in-memory.
type Relay struct {
	client     *natsclient.Client
	instanceID string
	logger     *slog.Logger
}

// NewRelay creates a relay on an established NATS client.
func NewRelay(client *natsclient.Client, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		client:     client,
		instanceID: uuid.NewString(),
		logger:     logger,
	}
}

// InstanceID identifies this server instance on the relay.
func (r *Relay) InstanceID() string { return r.instanceID }

// publish sends a broadcast to the other instances. Best-effort: a
// down broker degrades the system to in-memory fan-out.
func (r *Relay) publish(sel Selector, env *message.Envelope, opts Options) error {
	data, err := json.Marshal(relayEnvelope{
		Origin:   r.instanceID,
		Selector: sel,
		Options:  opts,
		Envelope: env,
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "relay", "publish", "marshal relay envelope")
	}
	return r.client.Publish(relaySubject, data)
}

// subscribe starts applying envelopes from other instances to the local
// session population.
func (r *Relay) subscribe(engine *Engine) error {
	return r.client.Subscribe(relaySubject, func(data []byte) {
		r.apply(engine, data)
	})
}

// apply hands one relay frame to the local engine. Envelopes this
// instance published itself are skipped; every instance on the subject
// receives its own publishes back.
func (r *Relay) apply(engine *Engine, data []byte) {
	var re relayEnvelope
	if err := json.Unmarshal(data, &re); err != nil {
		r.logger.Warn("relay envelope failed to decode", "error", err)
		return
	}
	if re.Origin == r.instanceID {
		return
	}
	if re.Envelope == nil {
		return
	}
	engine.deliverLocal(re.Selector, re.Envelope, re.Options)
	if engine.metrics != nil {
		engine.metrics.relayApplied.Inc()
	}
}
