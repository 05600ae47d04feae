package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Joseamica/avoqado-server-sub005/errors"
)

// tableKey addresses a table bucket within a venue. Table membership is
// ephemeral and explicitly joined/left by the client, independent of
// session lifetime.
type tableKey struct {
	VenueID string
	TableID string
}

// idleThreshold marks a session idle for stats purposes when no traffic
// has arrived within it.
const idleThreshold = 5 * time.Minute

// Stats summarizes the live connection population.
type Stats struct {
	TotalConnections int            `json:"totalConnections"`
	IdleConnections  int            `json:"idleConnections"`
	ByVenue          map[string]int `json:"byVenue"`
	ByRole           map[string]int `json:"byRole"`
}

// Registry is the live session table plus four group indices. It is
// constructor-injected into the gateway, dispatch engine, and command
// bridge; there is no process-wide instance.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	byVenue  map[string]map[string]struct{}
	byTable  map[tableKey]map[string]struct{}
	byRole   map[string]map[string]struct{}
	byUser   map[string]map[string]struct{}
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		sessions: make(map[string]*Session),
		byVenue:  make(map[string]map[string]struct{}),
		byTable:  make(map[tableKey]map[string]struct{}),
		byRole:   make(map[string]map[string]struct{}),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// Register inserts the session into the live table and the venue, role,
// and user indices. A session without an identity is rejected: the
// gateway must never hand over an unauthenticated connection.
func (r *Registry) Register(s *Session) error {
	if s == nil || s.Identity.UserID == "" {
		r.logger.Error("session registered without identity; gateway admitted an unauthenticated connection")
		return errors.New(errors.CodeInternal, "session has no identity")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ConnID] = s
	addMember(r.byVenue, s.Identity.VenueID, s.ConnID)
	addMember(r.byRole, s.Identity.Role, s.ConnID)
	addMember(r.byUser, s.Identity.UserID, s.ConnID)

	r.logger.Debug("session registered",
		"connId", s.ConnID,
		"userId", s.Identity.UserID,
		"venueId", s.Identity.VenueID,
		"role", s.Identity.Role,
	)
	return nil
}

// Unregister removes the connection from the live table and every index
// it could belong to, including all table buckets. Table membership is
// not tracked per-session, so this scans the table index. Safe to call
// twice: a disconnect racing with an explicit leave is a no-op the
// second time.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if ok {
		delete(r.sessions, connID)
		dropMember(r.byVenue, s.Identity.VenueID, connID)
		dropMember(r.byRole, s.Identity.Role, connID)
		dropMember(r.byUser, s.Identity.UserID, connID)
	}

	// Full cleanup pass over table buckets, even if the session was
	// already gone. Deleting the last member deletes the bucket.
	for key, members := range r.byTable {
		if _, in := members[connID]; in {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.byTable, key)
			}
		}
	}
}

// JoinTable adds the connection to a table bucket. Only the table index
// mutates; venue/role/user membership is untouched.
func (r *Registry) JoinTable(connID, venueID, tableID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[connID]; !ok {
		return errors.New(errors.CodeValidation, "unknown connection %s", connID)
	}

	key := tableKey{VenueID: venueID, TableID: tableID}
	if r.byTable[key] == nil {
		r.byTable[key] = make(map[string]struct{})
	}
	r.byTable[key][connID] = struct{}{}
	return nil
}

// LeaveTable removes the connection from a table bucket. Leaving a table
// the connection never joined is a no-op.
func (r *Registry) LeaveTable(connID, venueID, tableID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tableKey{VenueID: venueID, TableID: tableID}
	if members, ok := r.byTable[key]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.byTable, key)
		}
	}
}

// Get returns the session for a connection id, or nil.
func (r *Registry) Get(connID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[connID]
}

// SessionsForVenue returns a snapshot of sessions in a venue.
func (r *Registry) SessionsForVenue(venueID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(r.byVenue[venueID])
}

// SessionsForTable returns a snapshot of sessions joined to a table.
func (r *Registry) SessionsForTable(venueID, tableID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(r.byTable[tableKey{VenueID: venueID, TableID: tableID}])
}

// SessionsForRole returns a snapshot of sessions holding a role.
func (r *Registry) SessionsForRole(role string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(r.byRole[role])
}

// SessionsForUser returns a snapshot of sessions for a user id. A user
// may hold several concurrent connections (e.g. phone and dashboard).
func (r *Registry) SessionsForUser(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(r.byUser[userID])
}

// Stats returns total, idle, per-venue, and per-role connection counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalConnections: len(r.sessions),
		ByVenue:          make(map[string]int, len(r.byVenue)),
		ByRole:           make(map[string]int, len(r.byRole)),
	}
	for _, s := range r.sessions {
		if time.Since(s.LastActivity()) > idleThreshold {
			stats.IdleConnections++
		}
	}
	for venueID, members := range r.byVenue {
		stats.ByVenue[venueID] = len(members)
	}
	for role, members := range r.byRole {
		stats.ByRole[role] = len(members)
	}
	return stats
}

// snapshot materializes the sessions behind a member set. Caller holds
// at least a read lock.
func (r *Registry) snapshot(members map[string]struct{}) []*Session {
	if len(members) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(members))
	for connID := range members {
		if s, ok := r.sessions[connID]; ok {
			out = append(out, s)
		}
	}
	return out
}

func addMember(index map[string]map[string]struct{}, key, connID string) {
	if key == "" {
		return
	}
	if index[key] == nil {
		index[key] = make(map[string]struct{})
	}
	index[key][connID] = struct{}{}
}

func dropMember(index map[string]map[string]struct{}, key, connID string) {
	if members, ok := index[key]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(index, key)
		}
	}
}
