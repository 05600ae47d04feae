// Package message defines the wire protocol of the realtime core: the
// envelope shared by both directions and the closed set of inbound event
// kinds. Payloads are decoded and validated exactly once at the gateway
// boundary; downstream components consume the typed variant, never a
// loosely-typed map.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Joseamica/avoqado-server-sub005/errors"
)

// Envelope wraps every message crossing the WebSocket, inbound and
// outbound. CorrelationID ties a command to its eventual reply and is
// generated server-side when absent.
type Envelope struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Timestamp     int64           `json:"timestamp,omitempty"` // unix milliseconds
	VenueID       string          `json:"venueId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Inbound event kinds accepted by the gateway.
const (
	TypeAuthenticate   = "authenticate"
	TypeJoinTable      = "join_table"
	TypeLeaveTable     = "leave_table"
	TypeHeartbeat      = "heartbeat"
	TypeDeviceLog      = "device_log"
	TypeCommandAck     = "command_ack"
	TypeCommandStarted = "command_started"
	TypeCommandResult  = "command_result"
	TypePaymentResult  = "payment_result"
	TypePing           = "ping"
)

// Outbound event kinds emitted by the server.
const (
	TypeError   = "error"
	TypeReply   = "reply"
	TypeCommand = "command"
	TypePong    = "pong"
)

// Event is one decoded, validated inbound event.
type Event interface {
	Kind() string
	Validate() error
}

// Authenticate completes deferred authentication on an admitted-but-
// unauthenticated connection.
type Authenticate struct {
	Token string `json:"token"`
}

func (e *Authenticate) Kind() string { return TypeAuthenticate }

func (e *Authenticate) Validate() error {
	if e.Token == "" {
		return errors.Validation("token")
	}
	return nil
}

// JoinTable subscribes the connection to a table room.
type JoinTable struct {
	VenueID string `json:"venueId"`
	TableID string `json:"tableId"`
}

func (e *JoinTable) Kind() string { return TypeJoinTable }

func (e *JoinTable) Validate() error {
	if e.TableID == "" {
		return errors.Validation("tableId")
	}
	return nil
}

// LeaveTable unsubscribes the connection from a table room.
type LeaveTable struct {
	VenueID string `json:"venueId"`
	TableID string `json:"tableId"`
}

func (e *LeaveTable) Kind() string { return TypeLeaveTable }

func (e *LeaveTable) Validate() error {
	if e.TableID == "" {
		return errors.Validation("tableId")
	}
	return nil
}

// Heartbeat is a periodic health report from a terminal. It carries the
// raw device identifier, normalized and registered on receipt.
type Heartbeat struct {
	DeviceID    string `json:"deviceId"`
	VenueID     string `json:"venueId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (e *Heartbeat) Kind() string { return TypeHeartbeat }

func (e *Heartbeat) Validate() error {
	if e.DeviceID == "" {
		return errors.Validation("deviceId")
	}
	return nil
}

// DeviceLog is a log line forwarded by a terminal.
type DeviceLog struct {
	DeviceID string `json:"deviceId"`
	Level    string `json:"level,omitempty"`
	Message  string `json:"message"`
}

func (e *DeviceLog) Kind() string { return TypeDeviceLog }

func (e *DeviceLog) Validate() error {
	if e.Message == "" {
		return errors.Validation("message")
	}
	return nil
}

// CommandAck acknowledges receipt of a command by the device.
type CommandAck struct{}

func (e *CommandAck) Kind() string { return TypeCommandAck }

func (e *CommandAck) Validate() error { return nil }

// CommandStarted reports that the device began executing a command.
type CommandStarted struct{}

func (e *CommandStarted) Kind() string { return TypeCommandStarted }

func (e *CommandStarted) Validate() error { return nil }

// CommandResult carries the final outcome of a command. The envelope's
// correlation id resolves the pending request.
type CommandResult struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (e *CommandResult) Kind() string { return TypeCommandResult }

func (e *CommandResult) Validate() error {
	if e.Status == "" {
		return errors.Validation("status")
	}
	return nil
}

// PaymentResult carries the outcome of a payment initiated on a
// terminal, correlated like a command result.
type PaymentResult struct {
	Status      string          `json:"status"`
	AmountCents int64           `json:"amountCents,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

func (e *PaymentResult) Kind() string { return TypePaymentResult }

func (e *PaymentResult) Validate() error {
	if e.Status == "" {
		return errors.Validation("status")
	}
	return nil
}

// Ping is a client liveness probe answered with a pong.
type Ping struct{}

func (e *Ping) Kind() string { return TypePing }

func (e *Ping) Validate() error { return nil }

// Decode parses raw WebSocket bytes into the envelope and its typed
// event. Unknown types and invalid payloads fail with a validation
// error; the connection stays alive.
func Decode(data []byte) (*Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeValidation, "message", "Decode", "unmarshal envelope")
	}
	if env.Type == "" {
		return nil, nil, errors.Validation("type")
	}

	var event Event
	switch env.Type {
	case TypeAuthenticate:
		event = &Authenticate{}
	case TypeJoinTable:
		event = &JoinTable{}
	case TypeLeaveTable:
		event = &LeaveTable{}
	case TypeHeartbeat:
		event = &Heartbeat{}
	case TypeDeviceLog:
		event = &DeviceLog{}
	case TypeCommandAck:
		event = &CommandAck{}
	case TypeCommandStarted:
		event = &CommandStarted{}
	case TypeCommandResult:
		event = &CommandResult{}
	case TypePaymentResult:
		event = &PaymentResult{}
	case TypePing:
		event = &Ping{}
	default:
		return nil, nil, errors.New(errors.CodeValidation, "unknown event type %q", env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, event); err != nil {
			return nil, nil, errors.Wrap(err, errors.CodeValidation, "message", "Decode", "unmarshal payload")
		}
	}
	if err := event.Validate(); err != nil {
		return nil, nil, err
	}
	return &env, event, nil
}

// Reply is the structured per-operation response sent on the event's
// own reply channel.
type Reply struct {
	Success    bool        `json:"success"`
	Error      errors.Code `json:"error,omitempty"`
	StatusCode int         `json:"statusCode,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// OK is the successful operation reply.
func OK() Reply {
	return Reply{Success: true}
}

// Fail builds the structured failure reply for a classified error.
func Fail(err error) Reply {
	code := errors.CodeOf(err)
	return Reply{
		Success:    false,
		Error:      code,
		StatusCode: code.StatusCode(),
		Message:    err.Error(),
	}
}

// NewEnvelope builds an outbound envelope with a fresh correlation id
// and timestamp.
func NewEnvelope(eventType string, payload json.RawMessage) *Envelope {
	return &Envelope{
		Type:          eventType,
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now().UnixMilli(),
		Payload:       payload,
	}
}

// Enrich fills correlation id and timestamp if absent, and the venue id
// when the caller implies one and the envelope carries none. Existing
// values are never overwritten.
func (e *Envelope) Enrich(venueID string) {
	if e.CorrelationID == "" {
		e.CorrelationID = uuid.NewString()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.VenueID == "" && venueID != "" {
		e.VenueID = venueID
	}
}

// Encode marshals the envelope for transmission.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "message", "Encode", "marshal envelope")
	}
	return data, nil
}
