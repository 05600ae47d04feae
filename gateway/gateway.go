// Package gateway accepts inbound WebSocket connections for the
// realtime core. The middleware chain runs rate limiting before
// authentication; a connection is admitted to the session registry only
// after its token verifies. Unauthenticated connections (when auth is
// optional) live under an authentication timeout that fires at most
// once and never after auth completes or the socket drops.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"

	"github.com/Joseamica/avoqado-server-sub005/bridge"
	"github.com/Joseamica/avoqado-server-sub005/config"
	"github.com/Joseamica/avoqado-server-sub005/device"
	"github.com/Joseamica/avoqado-server-sub005/errors"
	"github.com/Joseamica/avoqado-server-sub005/identity"
	"github.com/Joseamica/avoqado-server-sub005/message"
	"github.com/Joseamica/avoqado-server-sub005/metric"
	"github.com/Joseamica/avoqado-server-sub005/session"
)

// Gateway owns the WebSocket endpoint and the live connection table.
// It implements the Sender contract consumed by the dispatch engine and
// the command bridge.
type Gateway struct {
	cfg      config.Config
	verifier *identity.Verifier
	sessions *session.Registry
	devices  *device.Registry
	bridge   *bridge.Bridge
	logger   *slog.Logger
	metrics  *Metrics

	upgrader websocket.Upgrader

	connsMu sync.RWMutex
	conns   map[string]*conn

	// Lifecycle management
	server      *http.Server
	started     atomic.Bool
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup
}

// New creates a gateway. The bridge may be attached later via SetBridge
// to break the construction cycle (the bridge needs the gateway as its
// sender).
func New(
	cfg config.Config,
	verifier *identity.Verifier,
	sessions *session.Registry,
	devices *device.Registry,
	logger *slog.Logger,
	registry *metric.Registry,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		cfg:      cfg,
		verifier: verifier,
		sessions: sessions,
		devices:  devices,
		logger:   logger,
		metrics:  newMetrics(registry),
		conns:    make(map[string]*conn),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// SetBridge attaches the command bridge whose replies arrive through
// this gateway's event stream.
func (g *Gateway) SetBridge(b *bridge.Bridge) {
	g.bridge = b
}

// checkOrigin applies the CORS allow-list to the WebSocket handshake.
// Requests without an Origin header (native terminal clients) pass.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// rateLimitKey keys the connection rate limit by authenticated user id
// when the presented token verifies, else by source address. Runs
// before authentication proper; a forged token simply degrades to the
// address key.
func (g *Gateway) rateLimitKey(r *http.Request) (string, error) {
	if token := identity.TokenFromRequest(r, ""); token != "" {
		if id, err := g.verifier.Verify(token); err == nil {
			return "user:" + id.UserID, nil
		}
	}
	return httprate.KeyByRealIP(r)
}

// Router builds the HTTP surface: the WebSocket endpoint behind the
// rate limiter, the stats query, and liveness.
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   g.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	limiter := httprate.Limit(
		g.cfg.RateLimitMax,
		g.cfg.RateLimitWindow.Std(),
		httprate.WithKeyFuncs(g.rateLimitKey),
		httprate.WithLimitHandler(g.handleRateLimited),
	)

	r.With(limiter).Get(g.cfg.WSPath, g.handleWS)
	r.Get("/stats", g.handleStats)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return r
}

// handleRateLimited writes the typed rate-limit rejection.
func (g *Gateway) handleRateLimited(w http.ResponseWriter, _ *http.Request) {
	if g.metrics != nil {
		g.metrics.rateLimited.Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(message.Fail(errors.ErrRateLimited))
}

// handleStats serves the live connection counts.
func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.sessions.Stats())
}

// handleWS upgrades the connection and runs authentication. The rate
// limiter already ran as middleware; auth failures past this point
// produce a typed error event before the forced disconnect.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	token := identity.TokenFromRequest(r, "")

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("upgrade failed", "remoteAddr", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(g, ws)
	g.connsMu.Lock()
	g.conns[c.id] = c
	g.connsMu.Unlock()

	if g.metrics != nil {
		g.metrics.connectionsTotal.Inc()
		g.metrics.connectionsActive.Inc()
	}

	switch {
	case token != "":
		id, verr := g.verifier.Verify(token)
		if verr != nil {
			g.rejectConn(c, verr)
			return
		}
		if !g.admit(c, id) {
			return
		}
	case g.cfg.AuthRequired:
		g.rejectConn(c, errors.ErrNoToken)
		return
	default:
		c.armAuthTimeout(g.cfg.AuthTimeout.Std())
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		c.readLoop()
	}()
}

// admit binds an identity to the connection and registers the session.
func (g *Gateway) admit(c *conn, id identity.Identity) bool {
	s := session.New(c.id, id)
	if err := g.sessions.Register(s); err != nil {
		g.rejectConn(c, err)
		return false
	}
	if !c.bindSession(s) {
		g.sessions.Unregister(c.id)
		g.dropConn(c)
		return false
	}
	g.logger.Info("connection admitted",
		"connId", c.id, "userId", id.UserID, "venueId", id.VenueID, "role", id.Role)
	return true
}

// rejectConn emits the typed error event and tears the connection down.
func (g *Gateway) rejectConn(c *conn, err error) {
	if g.metrics != nil {
		g.metrics.authFailures.WithLabelValues(string(errors.CodeOf(err))).Inc()
	}
	g.logger.Info("connection rejected",
		"connId", c.id, "reason", errors.CodeOf(err))
	c.sendError("", err)
	g.dropConn(c)
}

// dropConn tears a connection down: session registry first, then the
// device registry, so a device's connection id never outlives its
// session.
func (g *Gateway) dropConn(c *conn) {
	g.connsMu.Lock()
	_, present := g.conns[c.id]
	delete(g.conns, c.id)
	g.connsMu.Unlock()

	c.close()

	g.sessions.Unregister(c.id)
	g.devices.UnregisterByConnection(c.id)

	if present && g.metrics != nil {
		g.metrics.connectionsActive.Dec()
	}
}

// Send delivers an encoded envelope to one connection. This is the
// transport primitive behind the dispatch engine and command bridge.
func (g *Gateway) Send(connID string, data []byte) error {
	g.connsMu.RLock()
	c, ok := g.conns[connID]
	g.connsMu.RUnlock()
	if !ok {
		return errors.New(errors.CodeInternal, "no live connection %s", connID)
	}
	return c.write(data)
}

// Start begins serving the realtime HTTP endpoint.
func (g *Gateway) Start(ctx context.Context) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if g.started.Load() {
		return errors.New(errors.CodeInternal, "gateway already started")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "gateway", "Start", "context already cancelled")
	}

	g.server = &http.Server{
		Addr:              g.cfg.ListenAddr,
		Handler:           g.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("realtime server exited", "error", err)
		}
	}()

	g.started.Store(true)
	g.logger.Info("gateway listening",
		"addr", g.cfg.ListenAddr, "wsPath", g.cfg.WSPath, "authRequired", g.cfg.AuthRequired)
	return nil
}

// Stop closes the listener and every live connection, waiting up to
// timeout for goroutines to drain.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()

	if !g.started.Load() {
		return nil
	}
	g.started.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if g.server != nil {
		_ = g.server.Shutdown(ctx)
	}

	g.connsMu.Lock()
	live := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		live = append(live, c)
	}
	g.connsMu.Unlock()
	for _, c := range live {
		g.dropConn(c)
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New(errors.CodeInternal, "shutdown timeout after %v", timeout)
	}
}

// ConnectionCount reports the number of live transport connections,
// authenticated or not.
func (g *Gateway) ConnectionCount() int {
	g.connsMu.RLock()
	defer g.connsMu.RUnlock()
	return len(g.conns)
}
