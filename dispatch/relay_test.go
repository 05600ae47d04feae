package dispatch

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joseamica/avoqado-server-sub005/message"
)

func setupRelay(t *testing.T) (*Relay, *Engine, *fakeSender) {
	t.Helper()
	engine, sessions, sender := setupEngine(t)
	admit(t, sessions, "c1", "u1", "v1", "WAITER")
	relay := &Relay{
		instanceID: "instance-a",
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return relay, engine, sender
}

func relayFrame(t *testing.T, origin string) []byte {
	t.Helper()
	data, err := json.Marshal(relayEnvelope{
		Origin:   origin,
		Selector: Selector{Kind: SelectVenue, VenueID: "v1"},
		Envelope: &message.Envelope{
			Type:          "order_updated",
			CorrelationID: "corr-1",
			Timestamp:     1700000000000,
			VenueID:       "v1",
			Payload:       json.RawMessage(`{"orderId":"o1"}`),
		},
	})
	require.NoError(t, err)
	return data
}

func TestRelaySkipsSelfOriginEnvelopes(t *testing.T) {
	relay, engine, sender := setupRelay(t)

	relay.apply(engine, relayFrame(t, relay.instanceID))

	assert.Empty(t, sender.deliveries("c1"))
}

func TestRelayAppliesForeignOriginEnvelopes(t *testing.T) {
	relay, engine, sender := setupRelay(t)

	relay.apply(engine, relayFrame(t, "instance-b"))

	got := sender.deliveries("c1")
	require.Len(t, got, 1)
	assert.Equal(t, "order_updated", got[0].Type)
	assert.Equal(t, "corr-1", got[0].CorrelationID)
}

func TestRelayIgnoresGarbageAndEmptyFrames(t *testing.T) {
	relay, engine, sender := setupRelay(t)

	relay.apply(engine, []byte("{not json"))

	empty, err := json.Marshal(relayEnvelope{Origin: "instance-b"})
	require.NoError(t, err)
	relay.apply(engine, empty)

	assert.Empty(t, sender.deliveries("c1"))
}
