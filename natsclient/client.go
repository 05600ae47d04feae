// Package natsclient wraps a NATS connection for the dispatch engine's
// optional multi-instance relay. The realtime core degrades to
// in-memory-only fan-out when no NATS URL is configured or the broker is
// unreachable, so every operation here is best-effort.
package natsclient

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Joseamica/avoqado-server-sub005/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned for publish/subscribe against a client
// with no live broker connection.
var ErrNotConnected = stderrors.New("not connected to NATS")

// Client manages a NATS connection with automatic reconnection.
type Client struct {
	url    string
	status atomic.Value // stores ConnectionStatus

	mu   sync.RWMutex
	conn *nats.Conn
	subs []*nats.Subscription

	// Connection options
	clientName    string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration

	closed atomic.Bool
}

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client)

// WithName sets the client name advertised to the broker.
func WithName(name string) ClientOption {
	return func(c *Client) { c.clientName = name }
}

// WithMaxReconnects sets the maximum number of reconnection attempts (-1 for infinite)
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) { c.maxReconnects = n }
}

// WithReconnectWait sets the wait time between reconnection attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) { c.reconnectWait = d }
}

// WithConnectTimeout sets the initial connection timeout
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a client for the given broker URL. No connection is
// attempted until Connect.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:           url,
		clientName:    "avoqado-realtime",
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
	}
	c.status.Store(StatusDisconnected)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the configured broker URL.
func (c *Client) URL() string { return c.url }

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return c.status.Load().(ConnectionStatus)
}

// IsHealthy reports whether the broker connection is live.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Connect establishes the broker connection, respecting ctx for the
// initial dial.
func (c *Client) Connect(ctx context.Context) error {
	c.status.Store(StatusConnecting)

	options := []nats.Option{
		nats.Name(c.clientName),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, _ error) {
			c.status.Store(StatusReconnecting)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.status.Store(StatusConnected)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.status.Store(StatusDisconnected)
		}),
	}

	type dialResult struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan dialResult)
	go func() {
		conn, err := nats.Connect(c.url, options...)
		select {
		case resultCh <- dialResult{conn, err}:
		case <-ctx.Done():
			// Nobody is waiting for this dial anymore; a connection
			// that still came up must not outlive the attempt.
			if conn != nil {
				conn.Close()
			}
		}
	}()

	select {
	case <-ctx.Done():
		c.status.Store(StatusDisconnected)
		return errors.Wrap(ctx.Err(), errors.CodeInternal, "natsclient", "Connect", "dial broker")
	case res := <-resultCh:
		if res.err != nil {
			c.status.Store(StatusDisconnected)
			return errors.Wrap(res.err, errors.CodeInternal, "natsclient", "Connect", "dial broker")
		}
		c.mu.Lock()
		c.conn = res.conn
		c.mu.Unlock()
		c.status.Store(StatusConnected)
		return nil
	}
}

// Publish sends data on a subject. Fire-and-forget.
func (c *Client) Publish(subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "natsclient", "Publish", "publish to "+subject)
	}
	return nil
}

// Subscribe registers a handler for a subject. Subscriptions are tracked
// and drained on Close.
func (c *Client) Subscribe(subject string, handler func(data []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "natsclient", "Subscribe", "subscribe to "+subject)
	}
	c.subs = append(c.subs, sub)
	return nil
}

// Close drains subscriptions and closes the connection. Safe to call
// more than once.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.status.Store(StatusDisconnected)
}
