package server

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mizuir0/live-reaction-system/internal/reaction"
)

type fakePersistence struct {
	mu        sync.Mutex
	users     map[string]string
	reactions []reaction.Sample
	effects   []reaction.Effect
	sessions  map[string][2]int64 // id → started, completed
	videos    map[string]string
	err       error
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		users:    make(map[string]string),
		sessions: make(map[string][2]int64),
		videos:   make(map[string]string),
	}
}

func (f *fakePersistence) EnsureUser(userID, group string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		f.users[userID] = group
	}
	return f.err
}

func (f *fakePersistence) LogReaction(sample reaction.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, sample)
	return f.err
}

func (f *fakePersistence) LogEffect(effect reaction.Effect) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.effects = append(f.effects, effect)
	return f.err
}

func (f *fakePersistence) CreateSession(sessionID, userID, videoID string, startedAtMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID] = [2]int64{startedAtMS, 0}
	f.videos[sessionID] = videoID
	return f.err
}

func (f *fakePersistence) CompleteSession(sessionID string, completedAtMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.sessions[sessionID]
	row[1] = completedAtMS
	f.sessions[sessionID] = row
	return f.err
}

// newTestServer assembles a server around fakes with a frozen clock.
func newTestServer(db Persistence) *Server {
	return &Server{
		logger:  zerolog.Nop(),
		windows: reaction.NewWindowStore(),
		hub:     NewHub(zerolog.Nop()),
		db:      db,
		nowMS:   func() int64 { return 5000 },
	}
}

func frameJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDemux_UntaggedReactionSample(t *testing.T) {
	db := newFakePersistence()
	s := newTestServer(db)
	c := newTestClient(t, "u-1", false, 4)

	s.handleClientFrame(c, []byte(`{
		"userId":"u-1","timestamp":1700000000000,
		"states":{"isSmiling":true,"isUnknown":true},
		"events":{"clap":2,"mystery":9},
		"videoTime":12.5,"sessionId":"u-1_1700000000000"
	}`))

	win := s.windows.Window("u-1")
	require.Len(t, win, 1)
	// Stamped with the server clock, not the client's timestamp.
	assert.Equal(t, int64(5000), win[0].ReceivedAtMS)
	assert.True(t, win[0].States[reaction.StateSmiling])
	assert.Equal(t, 2, win[0].Events[reaction.EventClap])
	assert.NotContains(t, win[0].States, "isUnknown")

	require.Len(t, db.reactions, 1)
	assert.Equal(t, "u-1_1700000000000", db.reactions[0].SessionID)
	require.NotNil(t, db.reactions[0].VideoTime)
	assert.Equal(t, 12.5, *db.reactions[0].VideoTime)
}

func TestDemux_ExplicitReactionType(t *testing.T) {
	db := newFakePersistence()
	s := newTestServer(db)
	c := newTestClient(t, "u-1", false, 4)

	s.handleClientFrame(c, []byte(`{"type":"reaction","states":{"isHandUp":true}}`))

	require.Len(t, s.windows.Window("u-1"), 1)
	require.Len(t, db.reactions, 1)
}

func TestDemux_UntypedWithoutStatesIgnored(t *testing.T) {
	db := newFakePersistence()
	s := newTestServer(db)
	c := newTestClient(t, "u-1", false, 4)

	s.handleClientFrame(c, []byte(`{"hello":"world"}`))

	assert.Empty(t, s.windows.Window("u-1"))
	assert.Empty(t, db.reactions)
}

func TestDemux_MalformedJSONIgnored(t *testing.T) {
	s := newTestServer(newFakePersistence())
	c := newTestClient(t, "u-1", false, 4)

	assert.NotPanics(t, func() {
		s.handleClientFrame(c, []byte(`{"type":"video_play",`))
	})
}

func TestDemux_UnknownTypeIgnored(t *testing.T) {
	db := newFakePersistence()
	s := newTestServer(db)
	c := newTestClient(t, "u-1", false, 4)

	s.handleClientFrame(c, []byte(`{"type":"teleport"}`))

	assert.Empty(t, db.reactions)
	assert.Empty(t, db.effects)
}

func TestDemux_PersistenceFailureDoesNotDropSample(t *testing.T) {
	db := newFakePersistence()
	db.err = errors.New("disk full")
	s := newTestServer(db)
	c := newTestClient(t, "u-1", false, 4)

	s.handleClientFrame(c, []byte(`{"states":{"isSmiling":true},"events":{}}`))

	// The window still holds the sample; persistence is best-effort.
	assert.Len(t, s.windows.Window("u-1"), 1)
}

func TestTransport_HostRelayedExceptSelf(t *testing.T) {
	s := newTestServer(newFakePersistence())
	host := newTestClient(t, "host", true, 4)
	p1 := newTestClient(t, "u-2", false, 4)
	p2 := newTestClient(t, "u-3", false, 4)
	s.hub.Register(host)
	s.hub.Register(p1)
	s.hub.Register(p2)

	s.handleClientFrame(host, []byte(`{"type":"video_play","currentTime":10.0}`))

	for _, p := range []*Client{p1, p2} {
		var out transportFrame
		require.NoError(t, json.Unmarshal(recvFrame(t, p), &out))
		assert.Equal(t, "video_play", out.Type)
		require.NotNil(t, out.CurrentTime)
		assert.Equal(t, 10.0, *out.CurrentTime)
		assert.Equal(t, int64(5000), out.Timestamp)
	}
	assertNoFrame(t, host)
}

func TestTransport_NonHostIgnored(t *testing.T) {
	s := newTestServer(newFakePersistence())
	host := newTestClient(t, "host", true, 4)
	viewer := newTestClient(t, "u-2", false, 4)
	s.hub.Register(host)
	s.hub.Register(viewer)

	for _, typ := range []string{"video_play", "video_pause", "video_seek"} {
		s.handleClientFrame(viewer, frameJSON(t, map[string]any{"type": typ, "currentTime": 1.0}))
	}

	assertNoFrame(t, host)
	assertNoFrame(t, viewer)
}

func TestTimeSync_RequestForwardedToHostOnly(t *testing.T) {
	s := newTestServer(newFakePersistence())
	host := newTestClient(t, "u-1", true, 4)
	requester := newTestClient(t, "u-2", false, 4)
	bystander := newTestClient(t, "u-3", false, 4)
	s.hub.Register(host)
	s.hub.Register(requester)
	s.hub.Register(bystander)

	s.handleClientFrame(requester, []byte(`{"type":"time_sync_request"}`))

	var req timeSyncRequestFrame
	require.NoError(t, json.Unmarshal(recvFrame(t, host), &req))
	assert.Equal(t, "time_sync_request", req.Type)
	assert.Equal(t, "u-2", req.RequesterID)
	assertNoFrame(t, requester)
	assertNoFrame(t, bystander)
}

func TestTimeSync_RequestWithoutHostDroppedSilently(t *testing.T) {
	s := newTestServer(newFakePersistence())
	requester := newTestClient(t, "u-2", false, 4)
	s.hub.Register(requester)

	assert.NotPanics(t, func() {
		s.handleClientFrame(requester, []byte(`{"type":"time_sync_request"}`))
	})
	assertNoFrame(t, requester)
}

func TestTimeSync_ResponseUnicastToRequester(t *testing.T) {
	s := newTestServer(newFakePersistence())
	host := newTestClient(t, "u-1", true, 4)
	requester := newTestClient(t, "u-2", false, 4)
	bystander := newTestClient(t, "u-3", false, 4)
	s.hub.Register(host)
	s.hub.Register(requester)
	s.hub.Register(bystander)

	s.handleClientFrame(host, []byte(`{"type":"time_sync_response","requesterId":"u-2","currentTime":42.0}`))

	var resp timeSyncResponseFrame
	require.NoError(t, json.Unmarshal(recvFrame(t, requester), &resp))
	assert.Equal(t, "time_sync_response", resp.Type)
	require.NotNil(t, resp.CurrentTime)
	assert.Equal(t, 42.0, *resp.CurrentTime)
	assertNoFrame(t, bystander)
	assertNoFrame(t, host)
}

func TestTimeSync_ResponseFromNonHostIgnored(t *testing.T) {
	s := newTestServer(newFakePersistence())
	viewer := newTestClient(t, "u-2", false, 4)
	target := newTestClient(t, "u-3", false, 4)
	s.hub.Register(viewer)
	s.hub.Register(target)

	s.handleClientFrame(viewer, []byte(`{"type":"time_sync_response","requesterId":"u-3","currentTime":42.0}`))

	assertNoFrame(t, target)
}

func TestVideoSelected_BroadcastFromHost(t *testing.T) {
	s := newTestServer(newFakePersistence())
	host := newTestClient(t, "u-1", true, 4)
	viewer := newTestClient(t, "u-2", false, 4)
	s.hub.Register(host)
	s.hub.Register(viewer)

	s.handleClientFrame(host, []byte(`{"type":"video_url_selected","videoId":"XYZ"}`))

	var sel videoSelectedFrame
	require.NoError(t, json.Unmarshal(recvFrame(t, viewer), &sel))
	assert.Equal(t, "video_url_selected", sel.Type)
	assert.Equal(t, "XYZ", sel.VideoID)

	s.handleClientFrame(viewer, []byte(`{"type":"video_url_selected","videoId":"ABC"}`))
	assertNoFrame(t, host)
}

func TestSession_CreateAndComplete(t *testing.T) {
	db := newFakePersistence()
	s := newTestServer(db)
	c := newTestClient(t, "u-1", false, 4)

	s.handleClientFrame(c, []byte(`{"type":"session_create","sessionId":"s-1","videoId":"XYZ"}`))
	s.handleClientFrame(c, []byte(`{"type":"session_completed","sessionId":"s-1"}`))

	assert.Equal(t, "XYZ", db.videos["s-1"])
	assert.Equal(t, [2]int64{5000, 5000}, db.sessions["s-1"])
}

func TestManualEffect_DebugGroupOnly(t *testing.T) {
	db := newFakePersistence()
	s := newTestServer(db)
	debug := newTestClient(t, "u-dbg", false, 4)
	debug.group = GroupDebug
	viewer := newTestClient(t, "u-2", false, 4)
	s.hub.Register(debug)
	s.hub.Register(viewer)

	s.handleClientFrame(debug, []byte(`{"type":"manual_effect","effectType":"sparkle","intensity":1.5,"durationMs":2000,"videoTime":10.0}`))

	require.Len(t, db.effects, 1)
	assert.Equal(t, reaction.EffectSparkle, db.effects[0].Type)
	assert.Equal(t, 1.0, db.effects[0].Intensity) // clamped
	assert.Equal(t, 2000, db.effects[0].DurationMS)

	var frame reaction.EffectFrame
	require.NoError(t, json.Unmarshal(recvFrame(t, viewer), &frame))
	assert.Equal(t, "effect", frame.Type)
	assert.Equal(t, reaction.EffectSparkle, frame.EffectType)
	assert.Nil(t, frame.Debug)
}

func TestManualEffect_RejectedForOtherGroups(t *testing.T) {
	db := newFakePersistence()
	s := newTestServer(db)
	viewer := newTestClient(t, "u-2", false, 4)
	viewer.group = GroupControl2
	other := newTestClient(t, "u-3", false, 4)
	s.hub.Register(viewer)
	s.hub.Register(other)

	s.handleClientFrame(viewer, []byte(`{"type":"manual_effect","effectType":"sparkle","intensity":1.0}`))

	assert.Empty(t, db.effects)
	assertNoFrame(t, other)
}

func TestManualEffect_DefaultDuration(t *testing.T) {
	db := newFakePersistence()
	s := newTestServer(db)
	debug := newTestClient(t, "u-dbg", false, 4)
	debug.group = GroupDebug
	s.hub.Register(debug)

	s.handleClientFrame(debug, []byte(`{"type":"manual_effect","effectType":"wave","intensity":0.5}`))

	require.Len(t, db.effects, 1)
	assert.Equal(t, reaction.EffectDurationMS, db.effects[0].DurationMS)
}
