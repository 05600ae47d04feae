package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joseamica/avoqado-server-sub005/identity"
)

func testIdentity(user, venue, role string) identity.Identity {
	return identity.Identity{UserID: user, OrgID: "org-1", VenueID: venue, Role: role}
}

func TestRegister_RejectsMissingIdentity(t *testing.T) {
	r := NewRegistry(nil)

	err := r.Register(New("c1", identity.Identity{}))
	assert.Error(t, err)
	assert.Nil(t, r.Get("c1"))

	err = r.Register(nil)
	assert.Error(t, err)
}

func TestRegisterUnregister_NoLeakage(t *testing.T) {
	r := NewRegistry(nil)

	s := New("c1", testIdentity("u1", "v1", "WAITER"))
	require.NoError(t, r.Register(s))
	require.NoError(t, r.JoinTable("c1", "v1", "t1"))
	require.NoError(t, r.JoinTable("c1", "v1", "t2"))

	r.Unregister("c1")

	assert.Nil(t, r.Get("c1"))
	assert.Empty(t, r.SessionsForVenue("v1"))
	assert.Empty(t, r.SessionsForRole("WAITER"))
	assert.Empty(t, r.SessionsForUser("u1"))
	assert.Empty(t, r.SessionsForTable("v1", "t1"))
	assert.Empty(t, r.SessionsForTable("v1", "t2"))

	// Internal buckets must be gone, not just empty.
	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Empty(t, r.byVenue)
	assert.Empty(t, r.byTable)
	assert.Empty(t, r.byRole)
	assert.Empty(t, r.byUser)
}

func TestUnregister_Idempotent(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(New("c1", testIdentity("u1", "v1", "WAITER"))))

	r.Unregister("c1")
	r.Unregister("c1") // disconnect racing with explicit leave
	assert.Nil(t, r.Get("c1"))
}

func TestIndices_IndependentMembership(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(New("c1", testIdentity("u1", "v1", "WAITER"))))
	require.NoError(t, r.Register(New("c2", testIdentity("u2", "v1", "MANAGER"))))
	require.NoError(t, r.Register(New("c3", testIdentity("u1", "v2", "WAITER"))))

	assert.Len(t, r.SessionsForVenue("v1"), 2)
	assert.Len(t, r.SessionsForVenue("v2"), 1)
	assert.Len(t, r.SessionsForRole("WAITER"), 2)
	assert.Len(t, r.SessionsForRole("MANAGER"), 1)
	assert.Len(t, r.SessionsForUser("u1"), 2)
}

func TestJoinLeaveTable(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(New("c1", testIdentity("u1", "v1", "WAITER"))))

	assert.Error(t, r.JoinTable("ghost", "v1", "t1"), "unknown connection rejected")

	require.NoError(t, r.JoinTable("c1", "v1", "t1"))
	assert.Len(t, r.SessionsForTable("v1", "t1"), 1)

	// Leaving does not touch other indices.
	r.LeaveTable("c1", "v1", "t1")
	assert.Empty(t, r.SessionsForTable("v1", "t1"))
	assert.Len(t, r.SessionsForVenue("v1"), 1)

	// Leaving a never-joined table is a no-op.
	r.LeaveTable("c1", "v1", "t9")
}

func TestSnapshotIsolation(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(New("c1", testIdentity("u1", "v1", "WAITER"))))

	snap := r.SessionsForVenue("v1")
	require.Len(t, snap, 1)

	r.Unregister("c1")

	// The snapshot taken before teardown still holds the session.
	assert.Len(t, snap, 1)
	assert.Empty(t, r.SessionsForVenue("v1"))
}

func TestStats(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(New("c1", testIdentity("u1", "v1", "WAITER"))))
	require.NoError(t, r.Register(New("c2", testIdentity("u2", "v1", "WAITER"))))
	require.NoError(t, r.Register(New("c3", testIdentity("u3", "v2", "MANAGER"))))

	stats := r.Stats()
	assert.Equal(t, 3, stats.TotalConnections)
	assert.Equal(t, 2, stats.ByVenue["v1"])
	assert.Equal(t, 1, stats.ByVenue["v2"])
	assert.Equal(t, 2, stats.ByRole["WAITER"])
	assert.Equal(t, 1, stats.ByRole["MANAGER"])

	r.Unregister("c1")
	r.Unregister("c2")
	stats = r.Stats()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.NotContains(t, stats.ByVenue, "v1")
}

func TestStats_IdleConnections(t *testing.T) {
	r := NewRegistry(nil)

	fresh := New("c1", testIdentity("u1", "v1", "WAITER"))
	stale := New("c2", testIdentity("u2", "v1", "WAITER"))
	require.NoError(t, r.Register(fresh))
	require.NoError(t, r.Register(stale))

	stale.mu.Lock()
	stale.lastActivity = time.Now().Add(-idleThreshold - time.Minute)
	stale.mu.Unlock()

	assert.Equal(t, 1, r.Stats().IdleConnections)

	// Any traffic revives the session.
	stale.Touch()
	assert.Equal(t, 0, r.Stats().IdleConnections)
}

func TestConcurrentChurn(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", n)
			s := New(connID, testIdentity(fmt.Sprintf("u%d", n), "v1", "WAITER"))
			_ = r.Register(s)
			_ = r.JoinTable(connID, "v1", "t1")
			_ = r.SessionsForVenue("v1")
			_ = r.SessionsForTable("v1", "t1")
			r.Unregister(connID)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Stats().TotalConnections)
	assert.Empty(t, r.SessionsForTable("v1", "t1"))
}
