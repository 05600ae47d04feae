package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{ConnectionStatus(99), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.status.String())
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("nats://localhost:4222")
	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
}

func TestNewClient_Options(t *testing.T) {
	c := NewClient("nats://localhost:4222",
		WithName("test-instance"),
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithConnectTimeout(time.Second),
	)
	assert.Equal(t, "test-instance", c.clientName)
	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
}

func TestPublishSubscribe_NotConnected(t *testing.T) {
	c := NewClient("nats://localhost:4222")

	assert.ErrorIs(t, c.Publish("subject", []byte("x")), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe("subject", func([]byte) {}), ErrNotConnected)
}

func TestConnect_CancelledContext(t *testing.T) {
	// Unroutable TEST-NET address keeps the dial pending until ctx wins.
	c := NewClient("nats://192.0.2.1:4222", WithConnectTimeout(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Connect(ctx)
	assert.Error(t, err)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())

	// The abandoned dial goroutine settles without attaching a
	// connection to the client.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, c.IsHealthy())
}

func TestClose_Idempotent(t *testing.T) {
	c := NewClient("nats://localhost:4222")
	c.Close()
	c.Close()
	assert.Equal(t, StatusDisconnected, c.Status())
}
