package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"AVQD-123", "123"},
		{"avqd-123", "123"},
		{"  Avqd-123  ", "123"},
		{"123", "123"},
		{"terminal-7", "TERMINAL-7"},
		{"", ""},
	}

	for _, test := range tests {
		t.Run(test.raw, func(t *testing.T) {
			assert.Equal(t, test.expected, Normalize(test.raw))
		})
	}
}

func TestRegister_SurfaceSpellings(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("AVQD-123", "conn-1", "v1", "Terminal 1")

	// Every spelling resolves to the same entry.
	assert.Equal(t, "conn-1", r.ConnID("avqd-123"))
	assert.Equal(t, "conn-1", r.ConnID("123"))
	assert.Equal(t, "conn-1", r.ConnID(" AVQD-123 "))
	assert.True(t, r.IsOnline("avqd-123"))
}

func TestRegister_ReconnectEvictsStaleReverseMapping(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("AVQD-123", "conn-old", "v1", "")
	r.Register("avqd-123", "conn-new", "v1", "")

	assert.Equal(t, "conn-new", r.ConnID("AVQD-123"))

	// The stale socket no longer owns the device.
	r.UnregisterByConnection("conn-old")
	assert.Equal(t, "conn-new", r.ConnID("AVQD-123"), "unregistering the old connection must not remove the new mapping")
}

func TestRegister_NilConnectionKeepsExistingLive(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("AVQD-123", "conn-1", "v1", "")

	// Heartbeat registration without a connection keeps the live socket.
	r.Register("AVQD-123", "", "v1", "")
	assert.Equal(t, "conn-1", r.ConnID("AVQD-123"))
}

func TestRegister_KnownButOffline(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("AVQD-123", "", "v1", "Bar terminal")

	assert.False(t, r.IsOnline("AVQD-123"))
	e := r.Entry("avqd-123")
	require.NotNil(t, e)
	assert.Equal(t, "123", e.ID)
	assert.Equal(t, "v1", e.VenueID)
	assert.Equal(t, "Bar terminal", e.DisplayName)
	assert.Empty(t, e.ConnID)
}

func TestUnregisterByConnection_MetadataSurvives(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("AVQD-123", "conn-1", "v1", "Bar terminal")
	r.UnregisterByConnection("conn-1")

	assert.False(t, r.IsOnline("AVQD-123"))
	e := r.Entry("AVQD-123")
	require.NotNil(t, e)
	assert.Equal(t, "v1", e.VenueID)
	assert.Equal(t, "Bar terminal", e.DisplayName)

	// Unknown connection is a no-op.
	r.UnregisterByConnection("never-seen")
}

func TestRegister_VenueRehoming(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("AVQD-123", "conn-1", "v1", "")
	r.Register("AVQD-123", "conn-1", "v2", "")

	e := r.Entry("AVQD-123")
	require.NotNil(t, e)
	assert.Equal(t, "v2", e.VenueID, "re-homing is accepted")
}

func TestEntry_Unknown(t *testing.T) {
	r := NewRegistry(nil)
	assert.Nil(t, r.Entry("AVQD-999"))
	assert.Empty(t, r.ConnID("AVQD-999"))
	assert.False(t, r.IsOnline("AVQD-999"))
}

func TestEntry_ReturnsCopy(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("AVQD-123", "conn-1", "v1", "")

	e := r.Entry("AVQD-123")
	e.ConnID = "tampered"
	assert.Equal(t, "conn-1", r.ConnID("AVQD-123"))
}
