// Package session maintains the live, in-memory index of admitted
// WebSocket connections and their group memberships (venue, table, role,
// user). All reads return snapshots so broadcast iteration never races
// with concurrent registration or teardown.
package session

import (
	"sync"
	"time"

	"github.com/Joseamica/avoqado-server-sub005/identity"
)

// Session is the server-side record of one authenticated, live
// connection. Identity is immutable after admission; only the
// last-activity timestamp mutates during the session's lifetime.
type Session struct {
	ConnID      string
	Identity    identity.Identity
	ConnectedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
}

// New creates a session for an admitted connection.
func New(connID string, id identity.Identity) *Session {
	now := time.Now()
	return &Session{
		ConnID:       connID,
		Identity:     id,
		ConnectedAt:  now,
		lastActivity: now,
	}
}

// Touch refreshes the last-activity timestamp. Called on any inbound or
// outbound traffic for the connection.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent traffic.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
