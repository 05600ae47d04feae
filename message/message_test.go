package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/Joseamica/avoqado-server-sub005/errors"
)

func TestDecode_TypedEvents(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind string
	}{
		{"authenticate", `{"type":"authenticate","payload":{"token":"abc"}}`, TypeAuthenticate},
		{"join_table", `{"type":"join_table","payload":{"venueId":"v1","tableId":"t1"}}`, TypeJoinTable},
		{"leave_table", `{"type":"leave_table","payload":{"tableId":"t1"}}`, TypeLeaveTable},
		{"heartbeat", `{"type":"heartbeat","payload":{"deviceId":"AVQD-123"}}`, TypeHeartbeat},
		{"device_log", `{"type":"device_log","payload":{"deviceId":"AVQD-123","message":"boot"}}`, TypeDeviceLog},
		{"command_ack", `{"type":"command_ack","correlationId":"c-1"}`, TypeCommandAck},
		{"command_started", `{"type":"command_started","correlationId":"c-1"}`, TypeCommandStarted},
		{"command_result", `{"type":"command_result","correlationId":"c-1","payload":{"status":"ok"}}`, TypeCommandResult},
		{"payment_result", `{"type":"payment_result","correlationId":"c-1","payload":{"status":"approved","amountCents":4200}}`, TypePaymentResult},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			env, event, err := Decode([]byte(test.raw))
			require.NoError(t, err)
			assert.Equal(t, test.kind, env.Type)
			assert.Equal(t, test.kind, event.Kind())
		})
	}
}

func TestDecode_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"missing type", `{"payload":{}}`},
		{"unknown type", `{"type":"teleport"}`},
		{"authenticate without token", `{"type":"authenticate","payload":{}}`},
		{"join_table without tableId", `{"type":"join_table","payload":{"venueId":"v1"}}`},
		{"heartbeat without deviceId", `{"type":"heartbeat","payload":{}}`},
		{"command_result without status", `{"type":"command_result","payload":{}}`},
		{"malformed payload", `{"type":"heartbeat","payload":"not-an-object"}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := Decode([]byte(test.raw))
			require.Error(t, err)
			assert.Equal(t, rterrors.CodeValidation, rterrors.CodeOf(err))
		})
	}
}

func TestEnrich(t *testing.T) {
	env := &Envelope{Type: "order_updated"}
	env.Enrich("v1")

	assert.NotEmpty(t, env.CorrelationID)
	assert.NotZero(t, env.Timestamp)
	assert.Equal(t, "v1", env.VenueID)
}

func TestEnrich_DoesNotOverwrite(t *testing.T) {
	env := &Envelope{
		Type:          "order_updated",
		CorrelationID: "caller-supplied",
		Timestamp:     42,
		VenueID:       "v9",
	}
	env.Enrich("v1")

	assert.Equal(t, "caller-supplied", env.CorrelationID)
	assert.Equal(t, int64(42), env.Timestamp)
	assert.Equal(t, "v9", env.VenueID)
}

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(TypeCommand, json.RawMessage(`{"action":"print"}`))
	assert.Equal(t, TypeCommand, env.Type)
	assert.NotEmpty(t, env.CorrelationID)
	assert.NotZero(t, env.Timestamp)

	data, err := env.Encode()
	require.NoError(t, err)

	round, event, err := Decode(data)
	require.Error(t, err, "command is not an inbound type")
	assert.Nil(t, round)
	assert.Nil(t, event)
}

func TestFail_CarriesTaxonomy(t *testing.T) {
	reply := Fail(rterrors.Validation("tableId"))
	assert.False(t, reply.Success)
	assert.Equal(t, rterrors.CodeValidation, reply.Error)
	assert.Equal(t, 400, reply.StatusCode)

	ok := OK()
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Error)
}
