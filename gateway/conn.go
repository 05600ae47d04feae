package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Joseamica/avoqado-server-sub005/errors"
	"github.com/Joseamica/avoqado-server-sub005/message"
	"github.com/Joseamica/avoqado-server-sub005/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// conn is one live WebSocket connection. Session is nil until the
// connection authenticates; the auth timer is armed only while session
// is nil and is stopped exactly once, either by authentication or by
// teardown.
type conn struct {
	id string
	g  *Gateway
	ws *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	sess      *session.Session
	authTimer *time.Timer
	timedOut  bool
	closed    bool

	done chan struct{}
}

func newConn(g *Gateway, ws *websocket.Conn) *conn {
	return &conn{
		id:   uuid.NewString(),
		g:    g,
		ws:   ws,
		done: make(chan struct{}),
	}
}

// bindSession records the admitted session and disarms the auth timer.
// Returns false when the auth timeout already fired or the connection
// closed; the timedOut flag and the session pointer share c.mu, so the
// timer and a racing authenticate resolve to exactly one winner.
func (c *conn) bindSession(s *session.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timedOut || c.closed {
		return false
	}
	c.sess = s
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	return true
}

func (c *conn) getSession() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// armAuthTimeout starts the countdown for an unauthenticated
// connection. The callback re-checks state under the mutex so it is a
// no-op if authentication or teardown won the race.
func (c *conn) armAuthTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.sess != nil {
		return
	}
	c.authTimer = time.AfterFunc(d, func() {
		c.mu.Lock()
		if c.closed || c.sess != nil {
			c.mu.Unlock()
			return
		}
		c.timedOut = true
		c.mu.Unlock()
		c.g.logger.Info("authentication timeout", "connId", c.id)
		if c.g.metrics != nil {
			c.g.metrics.authFailures.WithLabelValues(string(errors.CodeAuthTimeout)).Inc()
		}
		c.sendError("", errors.ErrAuthTimeout)
		c.g.dropConn(c)
	})
}

// close shuts the underlying socket. Idempotent.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	close(c.done)
	c.mu.Unlock()

	_ = c.ws.Close()
}

// write sends one frame, serialized per connection.
func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "gateway", "write", "websocket write failed")
	}
	if s := c.getSession(); s != nil {
		s.Touch()
	}
	return nil
}

// sendEnvelope encodes and writes one outbound envelope, logging rather
// than propagating failures. A write failure here will surface on the
// read side as a closed connection.
func (c *conn) sendEnvelope(env *message.Envelope) {
	data, err := env.Encode()
	if err != nil {
		c.g.logger.Error("encode outbound envelope", "connId", c.id, "type", env.Type, "error", err)
		return
	}
	if err := c.write(data); err != nil {
		c.g.logger.Debug("outbound write failed", "connId", c.id, "type", env.Type, "error", err)
	}
}

// sendError emits a typed error event carrying the error's code and
// HTTP-equivalent status.
func (c *conn) sendError(correlationID string, err error) {
	reply := message.Fail(err)
	payload, merr := json.Marshal(reply)
	if merr != nil {
		c.g.logger.Error("marshal error reply", "connId", c.id, "error", merr)
		return
	}
	env := message.NewEnvelope(message.TypeError, payload)
	env.CorrelationID = correlationID
	c.sendEnvelope(env)
}

// sendReply answers an inbound event, echoing its correlation id.
func (c *conn) sendReply(correlationID string, reply message.Reply) {
	payload, err := json.Marshal(reply)
	if err != nil {
		c.g.logger.Error("marshal reply", "connId", c.id, "error", err)
		return
	}
	env := message.NewEnvelope(message.TypeReply, payload)
	env.CorrelationID = correlationID
	c.sendEnvelope(env)
}

// readLoop consumes inbound frames until the connection drops. Teardown
// runs exactly once from here regardless of who closed first.
func (c *conn) readLoop() {
	defer c.g.dropConn(c)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if s := c.getSession(); s != nil {
			s.Touch()
		}
		return nil
	})

	go c.pingLoop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.g.logger.Debug("connection read error", "connId", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		env, ev, derr := message.Decode(data)
		if derr != nil {
			correlationID := ""
			if env != nil {
				correlationID = env.CorrelationID
			}
			c.sendError(correlationID, derr)
			continue
		}

		if c.g.metrics != nil {
			c.g.metrics.eventsReceived.WithLabelValues(env.Type).Inc()
		}
		if s := c.getSession(); s != nil {
			s.Touch()
		}

		if terminal := c.handleEvent(env, ev); terminal {
			return
		}
	}
}

// pingLoop keeps the connection alive with control-frame pings until
// teardown.
func (c *conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleEvent dispatches one decoded inbound event. Returns true when
// the connection must close.
func (c *conn) handleEvent(env *message.Envelope, ev message.Event) bool {
	switch e := ev.(type) {
	case *message.Authenticate:
		return c.handleAuthenticate(env, e)

	case *message.JoinTable:
		c.handleJoinTable(env, e)

	case *message.LeaveTable:
		c.handleLeaveTable(env, e)

	case *message.Heartbeat:
		c.handleHeartbeat(e)

	case *message.DeviceLog:
		c.handleDeviceLog(e)

	case *message.CommandAck:
		c.g.logger.Debug("command acknowledged", "connId", c.id, "correlationId", env.CorrelationID)

	case *message.CommandStarted:
		c.g.logger.Debug("command started", "connId", c.id, "correlationId", env.CorrelationID)

	case *message.CommandResult, *message.PaymentResult:
		c.handleCommandReply(env)

	case *message.Ping:
		env2 := message.NewEnvelope(message.TypePong, nil)
		env2.CorrelationID = env.CorrelationID
		c.sendEnvelope(env2)

	default:
		c.sendError(env.CorrelationID, errors.Validation("type"))
	}
	return false
}

// handleAuthenticate completes deferred authentication. Failures are
// terminal: the typed error goes out, then the connection closes.
func (c *conn) handleAuthenticate(env *message.Envelope, e *message.Authenticate) bool {
	if c.getSession() != nil {
		// Already authenticated; treat as a no-op ack.
		c.sendReply(env.CorrelationID, message.OK())
		return false
	}

	id, err := c.g.verifier.Verify(e.Token)
	if err != nil {
		if c.g.metrics != nil {
			c.g.metrics.authFailures.WithLabelValues(string(errors.CodeOf(err))).Inc()
		}
		c.g.logger.Info("authentication failed", "connId", c.id, "reason", errors.CodeOf(err))
		c.sendError(env.CorrelationID, err)
		return true
	}

	s := session.New(c.id, id)
	if rerr := c.g.sessions.Register(s); rerr != nil {
		c.sendError(env.CorrelationID, rerr)
		return true
	}
	if !c.bindSession(s) {
		// The auth timeout won the race; the timer callback owns the
		// teardown and the client never sees a success reply.
		c.g.sessions.Unregister(c.id)
		return true
	}
	c.g.logger.Info("connection authenticated",
		"connId", c.id, "userId", id.UserID, "venueId", id.VenueID, "role", id.Role)
	c.sendReply(env.CorrelationID, message.OK())
	return false
}

// handleJoinTable subscribes the session to a table room. The venue
// defaults to the session's own; joining a room in a different venue is
// forbidden.
func (c *conn) handleJoinTable(env *message.Envelope, e *message.JoinTable) {
	s := c.getSession()
	if s == nil {
		c.sendError(env.CorrelationID, errors.New(errors.CodeForbidden, "authentication required"))
		return
	}

	venueID := e.VenueID
	if venueID == "" {
		venueID = s.Identity.VenueID
	}
	if s.Identity.VenueID != "" && venueID != s.Identity.VenueID {
		c.sendError(env.CorrelationID, errors.New(errors.CodeForbidden, "table is in another venue"))
		return
	}

	if err := c.g.sessions.JoinTable(c.id, venueID, e.TableID); err != nil {
		c.sendError(env.CorrelationID, err)
		return
	}
	c.g.logger.Debug("joined table", "connId", c.id, "venueId", venueID, "tableId", e.TableID)
	c.sendReply(env.CorrelationID, message.OK())
}

func (c *conn) handleLeaveTable(env *message.Envelope, e *message.LeaveTable) {
	s := c.getSession()
	if s == nil {
		c.sendError(env.CorrelationID, errors.New(errors.CodeForbidden, "authentication required"))
		return
	}

	venueID := e.VenueID
	if venueID == "" {
		venueID = s.Identity.VenueID
	}
	c.g.sessions.LeaveTable(c.id, venueID, e.TableID)
	c.sendReply(env.CorrelationID, message.OK())
}

// handleHeartbeat registers or refreshes the terminal behind this
// connection. Heartbeats are fire-and-forget; no reply goes out.
func (c *conn) handleHeartbeat(e *message.Heartbeat) {
	venueID := e.VenueID
	if s := c.getSession(); s != nil && venueID == "" {
		venueID = s.Identity.VenueID
	}
	c.g.devices.Register(e.DeviceID, c.id, venueID, e.DisplayName)
}

// handleDeviceLog forwards a terminal log line into the server log.
func (c *conn) handleDeviceLog(e *message.DeviceLog) {
	level := slog.LevelInfo
	switch e.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	c.g.logger.Log(context.Background(), level, "device log",
		"connId", c.id, "deviceId", e.DeviceID, "message", e.Message)
}

// handleCommandReply routes a command or payment result to the bridge.
// Unknown and duplicate correlation ids are logged no-ops.
func (c *conn) handleCommandReply(env *message.Envelope) {
	if c.g.bridge == nil {
		c.g.logger.Warn("command reply with no bridge attached", "connId", c.id)
		return
	}
	if !c.g.bridge.HandleReply(env.CorrelationID, env.Payload) {
		c.g.logger.Debug("unmatched command reply",
			"connId", c.id, "correlationId", env.CorrelationID, "type", env.Type)
	}
}
