package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return New(Limits{DefaultCap: 2, MaxGroupsPerClient: 3})
}

func TestCreateJoinLeaveRoundTrip(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()

	id, err := r.CreateGroup("A", now)
	require.NoError(t, err)
	assert.Len(t, id, 8)

	err = r.Join("B", id, now)
	require.NoError(t, err)

	gid, count, err := r.Who("B")
	require.NoError(t, err)
	assert.Equal(t, id, gid)
	assert.Equal(t, 1, count)

	err = r.Leave("B", id, now)
	require.NoError(t, err)

	_, _, err = r.Who("B")
	assert.ErrorIs(t, err, ErrNotInGroup)
}

func TestJoinIdempotent(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()

	id, err := r.CreateGroup("A", now)
	require.NoError(t, err)

	require.NoError(t, r.Join("B", id, now))
	require.NoError(t, r.Join("B", id, now))

	members, ok := r.MembersOf(id)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"B"}, members)

	_, count, err := r.Who("B")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGroupCapEnforced(t *testing.T) {
	r := newTestRegistry() // DefaultCap: 2
	now := time.Now()

	id, err := r.CreateGroup("A", now)
	require.NoError(t, err)

	require.NoError(t, r.Join("A", id, now))
	require.NoError(t, r.Join("B", id, now))

	err = r.Join("C", id, now)
	assert.ErrorIs(t, err, ErrGroupFull)
}

func TestOwnerLimitEnforced(t *testing.T) {
	r := newTestRegistry() // MaxGroupsPerClient: 3
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, err := r.CreateGroup("A", now)
		require.NoError(t, err)
	}

	_, err := r.CreateGroup("A", now)
	assert.ErrorIs(t, err, ErrOwnerLimit)
}

func TestJoinNoSuchGroup(t *testing.T) {
	r := newTestRegistry()
	err := r.Join("A", "NOSUCHID", time.Now())
	assert.ErrorIs(t, err, ErrNoSuchGroup)
}

func TestLeaveNotInGroup(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()

	id, err := r.CreateGroup("A", now)
	require.NoError(t, err)

	err = r.Leave("B", id, now)
	assert.ErrorIs(t, err, ErrNotInGroup)

	err = r.Leave("B", "NOSUCHID", now)
	assert.ErrorIs(t, err, ErrNotInGroup)
}

func TestWhoMultiMembershipTieBreak(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()

	idX, err := r.CreateGroup("owner", now)
	require.NoError(t, err)
	idY, err := r.CreateGroup("owner", now)
	require.NoError(t, err)

	require.NoError(t, r.Join("A", idX, now))
	require.NoError(t, r.Join("A", idY, now.Add(time.Second)))

	gid, _, err := r.Who("A")
	require.NoError(t, err)
	assert.Equal(t, idY, gid, "most recently joined group should win")
}

func TestOwnershipSurvivesMembershipLeave(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()

	id, err := r.CreateGroup("owner", now)
	require.NoError(t, err)

	require.NoError(t, r.Join("owner", id, now))
	require.NoError(t, r.Leave("owner", id, now))

	// owner never joined another group and left this one, but the group still
	// counts against the ownership cap until it is swept away.
	for i := 0; i < 2; i++ {
		_, err := r.CreateGroup("owner", now)
		require.NoError(t, err)
	}
	_, err = r.CreateGroup("owner", now)
	assert.ErrorIs(t, err, ErrOwnerLimit)
}

func TestSweepEvictsInactiveClients(t *testing.T) {
	r := newTestRegistry()
	start := time.Now()

	id, err := r.CreateGroup("A", start)
	require.NoError(t, err)
	require.NoError(t, r.Join("A", id, start))
	require.NoError(t, r.Join("B", id, start))

	heartbeat := 60 * time.Second
	later := start.Add(3*heartbeat + time.Second)

	result := r.Sweep(later, heartbeat, 5*time.Second)
	assert.ElementsMatch(t, []string{"A", "B"}, result.EvictedClients)

	_, _, err = r.Who("A")
	assert.ErrorIs(t, err, ErrNotInGroup)
}

func TestSweepReapsExpiredEmptyGroup(t *testing.T) {
	r := newTestRegistry()
	start := time.Now()

	id, err := r.CreateGroup("A", start)
	require.NoError(t, err)
	require.NoError(t, r.Join("B", id, start))
	require.NoError(t, r.Leave("B", id, start))

	emptyTTL := 5 * time.Second
	heartbeat := 60 * time.Second

	// Not yet expired.
	result := r.Sweep(start.Add(1*time.Second), heartbeat, emptyTTL)
	assert.Empty(t, result.ReapedGroups)

	// Past the TTL.
	result = r.Sweep(start.Add(emptyTTL+time.Second), heartbeat, emptyTTL)
	assert.Contains(t, result.ReapedGroups, id)

	_, ok := r.GroupSnapshotByID(id)
	assert.False(t, ok)
}

func TestSweepReapsOrphanedEmptyGroupImmediately(t *testing.T) {
	r := newTestRegistry()
	start := time.Now()

	id, err := r.CreateGroup("owner", start)
	require.NoError(t, err)

	heartbeat := 60 * time.Second
	inactivityThreshold := 3 * heartbeat

	// Owner never joins; owner goes inactive and is evicted. The group it owns is
	// empty and its owner is now unknown, so it is reaped immediately regardless
	// of the empty TTL.
	later := start.Add(inactivityThreshold + time.Second)
	result := r.Sweep(later, heartbeat, 10*time.Hour)

	assert.Contains(t, result.EvictedClients, "owner")
	assert.Contains(t, result.ReapedGroups, id)
}

func TestSweepIdempotent(t *testing.T) {
	r := newTestRegistry()
	start := time.Now()

	_, err := r.CreateGroup("A", start)
	require.NoError(t, err)

	heartbeat := 60 * time.Second
	later := start.Add(3*heartbeat + time.Second)

	first := r.Sweep(later, heartbeat, 5*time.Second)
	second := r.Sweep(later.Add(time.Second), heartbeat, 5*time.Second)

	assert.NotEmpty(t, first.ReapedGroups)
	assert.Empty(t, second.EvictedClients)
	assert.Empty(t, second.ReapedGroups)
}

func TestGroupIDsAreWellFormedAndUnique(t *testing.T) {
	r := newTestRegistry()
	r.limits.MaxGroupsPerClient = 1000
	now := time.Now()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id, err := r.CreateGroup("A", now)
		require.NoError(t, err)
		assert.Regexp(t, `^[A-NP-Z1-9]{8}$`, id)
		assert.False(t, seen[id], "duplicate group id generated")
		seen[id] = true
	}
}
