package reaction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mizuir0/live-reaction-system/internal/reaction"
)

func sampleAt(userID string, ms int64) reaction.Sample {
	return reaction.NewSample(userID, ms, nil, nil, nil, "")
}

func TestWindowStore_AppendEvictsOldest(t *testing.T) {
	store := reaction.NewWindowStore()

	for _, ms := range []int64{1000, 2000, 3000, 4000} {
		store.Append("u-1", sampleAt("u-1", ms))
	}

	win := store.Window("u-1")
	require.Len(t, win, reaction.WindowSize)
	assert.Equal(t, int64(2000), win[0].ReceivedAtMS)
	assert.Equal(t, int64(3000), win[1].ReceivedAtMS)
	assert.Equal(t, int64(4000), win[2].ReceivedAtMS)
}

func TestWindowStore_ActivityBoundary(t *testing.T) {
	store := reaction.NewWindowStore()
	store.Append("u-1", sampleAt("u-1", 1000))

	// Exactly at the 3000 ms boundary the user is active; one ms later not.
	active := store.SnapshotActive(4000)
	assert.Contains(t, active, "u-1")

	active = store.SnapshotActive(4001)
	assert.NotContains(t, active, "u-1")
}

func TestWindowStore_SnapshotExcludesEmptyAndStale(t *testing.T) {
	store := reaction.NewWindowStore()
	store.Append("fresh", sampleAt("fresh", 9000))
	store.Append("stale", sampleAt("stale", 1000))

	active := store.SnapshotActive(10000)
	require.Len(t, active, 1)
	assert.Contains(t, active, "fresh")
}

func TestWindowStore_SnapshotIsStable(t *testing.T) {
	store := reaction.NewWindowStore()
	store.Append("u-1", sampleAt("u-1", 1000))

	active := store.SnapshotActive(1500)
	require.Len(t, active["u-1"], 1)

	// Appends after the snapshot must not leak into it.
	store.Append("u-1", sampleAt("u-1", 2000))
	store.Append("u-1", sampleAt("u-1", 3000))
	store.Append("u-1", sampleAt("u-1", 4000))

	assert.Len(t, active["u-1"], 1)
	assert.Equal(t, int64(1000), active["u-1"][0].ReceivedAtMS)
}

func TestWindowStore_EnsureUserOnce(t *testing.T) {
	store := reaction.NewWindowStore()

	assert.True(t, store.EnsureUser("u-1", "control2"))
	assert.False(t, store.EnsureUser("u-1", "control2"))
	assert.False(t, store.EnsureUser("u-1", "experiment")) // group fixed at first sight
}

func TestWindowStore_ActiveSummaries(t *testing.T) {
	store := reaction.NewWindowStore()
	store.Append("u-1", sampleAt("u-1", 1000))
	store.Append("u-1", sampleAt("u-1", 2000))
	store.Append("stale", sampleAt("stale", 100))

	summaries := store.ActiveSummaries(4000)
	require.Len(t, summaries, 1)
	assert.Equal(t, "u-1", summaries[0].UserID)
	assert.Equal(t, 2, summaries[0].SampleCount)
	assert.Equal(t, int64(2000), summaries[0].LastArrivalMS)
}

func TestNewSample_FiltersUnknownAndDefaults(t *testing.T) {
	states := map[string]bool{
		reaction.StateSmiling: true,
		"isDancing":           true, // unknown, dropped
	}
	events := map[string]int{
		reaction.EventClap: 2,
		reaction.EventNod:  -3, // negative counts floored at 0
		"backflip":         9,  // unknown, dropped
	}

	s := reaction.NewSample("u-1", 1234, states, events, nil, "sess")

	assert.Equal(t, "u-1", s.UserID)
	assert.Equal(t, int64(1234), s.ReceivedAtMS)
	assert.Equal(t, "sess", s.SessionID)

	require.Len(t, s.States, len(reaction.StateNames))
	assert.True(t, s.States[reaction.StateSmiling])
	assert.False(t, s.States[reaction.StateSurprised])
	assert.NotContains(t, s.States, "isDancing")

	require.Len(t, s.Events, len(reaction.EventNames))
	assert.Equal(t, 2, s.Events[reaction.EventClap])
	assert.Equal(t, 0, s.Events[reaction.EventNod])
	assert.Equal(t, 0, s.Events[reaction.EventShakeHead])
	assert.NotContains(t, s.Events, "backflip")
}
