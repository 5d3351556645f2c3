package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduperBeginEnd(t *testing.T) {
	d := NewDeduper(0)

	require.True(t, d.Begin("c1", "create_room"))
	assert.False(t, d.Begin("c1", "create_room"), "second begin before end must be rejected")

	// Other connections and other operations are independent.
	assert.True(t, d.Begin("c2", "create_room"))
	assert.True(t, d.Begin("c1", "join_room"))

	d.End("c1", "create_room")
	assert.True(t, d.Begin("c1", "create_room"), "token reusable after end")
}

func TestDeduperEndUnknownIsNoop(t *testing.T) {
	d := NewDeduper(0)
	d.End("c1", "never_begun")
	assert.True(t, d.Begin("c1", "never_begun"))
}

func TestDeduperWatchdogReleases(t *testing.T) {
	d := NewDeduper(20 * time.Millisecond)

	require.True(t, d.Begin("c1", "player_ready"))
	require.False(t, d.Begin("c1", "player_ready"))

	require.Eventually(t, func() bool { return d.Begin("c1", "player_ready") },
		time.Second, 5*time.Millisecond, "watchdog should release the stuck token")
}

func TestDeduperCleanup(t *testing.T) {
	d := NewDeduper(0)
	d.Begin("c1", "create_room")
	d.Begin("c1", "join_room")
	d.Begin("c2", "join_room")

	d.Cleanup("c1")

	assert.True(t, d.Begin("c1", "create_room"))
	assert.True(t, d.Begin("c1", "join_room"))
	assert.False(t, d.Begin("c2", "join_room"), "other connections keep their tokens")
}

func TestSessionsBindAndRebind(t *testing.T) {
	s := NewSessions()

	s.Bind("c1", "u1")
	userID, ok := s.UserOf("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", userID)

	// Same user from a new connection: both resolve.
	s.Bind("c2", "u1")
	assert.ElementsMatch(t, []string{"c1", "c2"}, s.ConnsOf("u1"))

	// A connection switching users unlinks the old identity.
	s.Bind("c1", "u2")
	assert.ElementsMatch(t, []string{"c2"}, s.ConnsOf("u1"))
	assert.ElementsMatch(t, []string{"c1"}, s.ConnsOf("u2"))
}

func TestSessionsDrop(t *testing.T) {
	s := NewSessions()
	s.Bind("c1", "u1")
	s.Bind("c2", "u1")

	s.Drop("c1")
	_, ok := s.UserOf("c1")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"c2"}, s.ConnsOf("u1"))

	// Dropping an unknown connection is harmless.
	s.Drop("ghost")
}
