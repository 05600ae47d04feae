// Package device maps normalized physical-terminal identifiers to their
// currently-active connections. A device may be known with no live
// connection (registered via a heartbeat before the WebSocket handshake,
// or after its socket dropped), so entries outlive connections.
package device

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// vendor prefix stripped during normalization, e.g. "AVQD-123" -> "123"
const vendorPrefix = "AVQD-"

// Normalize maps every surface spelling of a device identifier to its
// canonical form: trimmed, vendor prefix stripped, uppercased. Applied
// identically on every read and write path.
func Normalize(rawID string) string {
	id := strings.ToUpper(strings.TrimSpace(rawID))
	id = strings.TrimPrefix(id, vendorPrefix)
	return id
}

// Entry describes one known device. ConnID is empty when the device is
// known but offline.
type Entry struct {
	ID           string
	ConnID       string
	VenueID      string
	DisplayName  string
	RegisteredAt time.Time
	LastSeen     time.Time
}

// Registry indexes devices by normalized id and keeps a reverse map from
// connection id to device id so disconnects can be resolved without a
// scan. At most one live connection per device; the most recent
// registration wins.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
	byConn  map[string]string
}

// NewRegistry creates an empty device registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		entries: make(map[string]*Entry),
		byConn:  make(map[string]string),
	}
}

// Register installs or refreshes a device entry. When connID differs
// from the entry's current live connection, the old reverse mapping is
// evicted first so a stale socket from before a reconnect can never be
// mistaken for the current device. An empty connID (e.g. registration
// via an out-of-band heartbeat) keeps whatever live connection the entry
// already had.
func (r *Registry) Register(rawID, connID, venueID, displayName string) *Entry {
	id := Normalize(rawID)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		e = &Entry{ID: id, VenueID: venueID, RegisteredAt: now}
		r.entries[id] = e
	}
	e.LastSeen = now
	if displayName != "" {
		e.DisplayName = displayName
	}
	if venueID != "" && venueID != e.VenueID {
		// Venue re-homing is accepted: terminals get physically moved.
		// Logged so suspicious churn is visible in ops.
		r.logger.Warn("device re-homed to a different venue",
			"deviceId", id, "oldVenueId", e.VenueID, "newVenueId", venueID)
		e.VenueID = venueID
	}

	if connID != "" && connID != e.ConnID {
		if e.ConnID != "" {
			delete(r.byConn, e.ConnID)
		}
		e.ConnID = connID
		r.byConn[connID] = id
	}

	out := *e
	return &out
}

// UnregisterByConnection clears the live connection id of the device
// owning connID. Device metadata survives so the entry can be queried as
// known-but-offline. A connection that owns no device, or that was
// already superseded by a re-registration, is a no-op.
func (r *Registry) UnregisterByConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	if e, ok := r.entries[id]; ok && e.ConnID == connID {
		e.ConnID = ""
	}
}

// IsOnline reports whether the device has a live connection.
func (r *Registry) IsOnline(rawID string) bool {
	return r.ConnID(rawID) != ""
}

// ConnID returns the live connection id for a device, or empty.
func (r *Registry) ConnID(rawID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[Normalize(rawID)]; ok {
		return e.ConnID
	}
	return ""
}

// Entry returns a copy of the device entry, or nil if unknown.
func (r *Registry) Entry(rawID string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[Normalize(rawID)]; ok {
		out := *e
		return &out
	}
	return nil
}

// Touch refreshes last-seen for a device, if known.
func (r *Registry) Touch(rawID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[Normalize(rawID)]; ok {
		e.LastSeen = time.Now()
	}
}
