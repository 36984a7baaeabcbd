package gateway

import (
	"testing"
)

// setupHost returns an active session for the given user id that is playing
// a track, plus the gateway it lives on.
func setupHost(t *testing.T, g *Gateway, dir *fakeDirectory, userID string) *Session {
	t.Helper()
	dir.add(testUser(userID))
	host := createTestSession(g)
	activateSession(g, host, "token-"+userID)
	g.dispatch(host, mustMarshal(Frame{Type: FramePlayer, Track: testTrack("t-" + userID)}))
	drainSentFrames(host)
	return host
}

func TestListenAlongCreatesMutualEdges(t *testing.T) {
	dir := newFakeDirectory()
	g := createTestGateway(dir, nil)
	host := setupHost(t, g, dir, "h1")

	dir.add(testUser("f1"))
	follower := createTestSession(g)
	activateSession(g, follower, "token-f1")
	drainSentFrames(follower)

	g.dispatch(follower, mustMarshal(Frame{Type: FrameListen, Target: "h1"}))

	g.mu.RLock()
	if follower.listeningWith != host.id {
		t.Errorf("follower.listeningWith = %q, want %q", follower.listeningWith, host.id)
	}
	if _, ok := host.listeningAlong[follower.id]; !ok {
		t.Error("host.listeningAlong does not contain the follower")
	}
	g.mu.RUnlock()

	frame, ok := readSentFrame(follower)
	if !ok || frame["type"] != string(FrameSync) {
		t.Fatalf("expected immediate sync frame, got %v", frame)
	}
	if frame["seek"] != true {
		t.Error("initial sync must force a seek")
	}
	track, _ := frame["track"].(map[string]interface{})
	if track == nil || track["id"] != "t-h1" {
		t.Errorf("sync frame carries wrong track: %v", frame["track"])
	}
}

func TestSwitchingHostsLeavesSingleEdge(t *testing.T) {
	dir := newFakeDirectory()
	g := createTestGateway(dir, nil)
	first := setupHost(t, g, dir, "h1")
	second := setupHost(t, g, dir, "h2")

	dir.add(testUser("f1"))
	follower := createTestSession(g)
	activateSession(g, follower, "token-f1")

	g.dispatch(follower, mustMarshal(Frame{Type: FrameListen, Target: "h1"}))
	g.dispatch(follower, mustMarshal(Frame{Type: FrameListen, Target: "h2"}))

	g.mu.RLock()
	defer g.mu.RUnlock()
	if follower.listeningWith != second.id {
		t.Errorf("follower should follow the second host, got %q", follower.listeningWith)
	}
	if _, ok := first.listeningAlong[follower.id]; ok {
		t.Error("old host still holds an edge to the follower")
	}
	if _, ok := second.listeningAlong[follower.id]; !ok {
		t.Error("new host is missing the follower edge")
	}
}

func TestHostDisconnectTearsDownGroup(t *testing.T) {
	dir := newFakeDirectory()
	g := createTestGateway(dir, nil)
	host := setupHost(t, g, dir, "h1")

	followers := make([]*Session, 2)
	for i, id := range []string{"f1", "f2"} {
		dir.add(testUser(id))
		f := createTestSession(g)
		activateSession(g, f, "token-"+id)
		g.dispatch(f, mustMarshal(Frame{Type: FrameListen, Target: "h1"}))
		drainSentFrames(f)
		followers[i] = f
	}

	g.unregister(host)

	for _, f := range followers {
		sent := drainSentFrames(f)
		if len(sent) != 1 {
			t.Fatalf("expected exactly one stop frame, got %d", len(sent))
		}
		stop := sent[0]
		if stop["type"] != string(FrameSync) {
			t.Errorf("expected sync frame, got %v", stop["type"])
		}
		if stop["track"] != nil {
			t.Errorf("stop frame track = %v, want null", stop["track"])
		}
		if stop["progress"] != float64(-1) {
			t.Errorf("stop frame progress = %v, want -1", stop["progress"])
		}
		if stop["paused"] != true {
			t.Errorf("stop frame paused = %v, want true", stop["paused"])
		}

		g.mu.RLock()
		if f.listeningWith != "" {
			t.Errorf("follower %s retains a host reference", f.id)
		}
		g.mu.RUnlock()
	}

	if len(host.listeningAlong) != 0 {
		t.Error("host follower set should be cleared")
	}
}

func TestFollowerDisconnectClearsReverseEdge(t *testing.T) {
	dir := newFakeDirectory()
	g := createTestGateway(dir, nil)
	host := setupHost(t, g, dir, "h1")

	dir.add(testUser("f1"))
	follower := createTestSession(g)
	activateSession(g, follower, "token-f1")
	g.dispatch(follower, mustMarshal(Frame{Type: FrameListen, Target: "h1"}))

	g.unregister(follower)

	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := host.listeningAlong[follower.id]; ok {
		t.Error("host still references the disconnected follower")
	}
}

func TestStopListeningVoluntarilySendsNoStopFrame(t *testing.T) {
	dir := newFakeDirectory()
	g := createTestGateway(dir, nil)
	host := setupHost(t, g, dir, "h1")

	dir.add(testUser("f1"))
	follower := createTestSession(g)
	activateSession(g, follower, "token-f1")
	g.dispatch(follower, mustMarshal(Frame{Type: FrameListen, Target: "h1"}))
	drainSentFrames(follower)

	g.dispatch(follower, mustMarshal(Frame{Type: FrameListen}))

	if sent := drainSentFrames(follower); len(sent) != 0 {
		t.Errorf("voluntary stop should not push frames, got %v", sent)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if follower.listeningWith != "" {
		t.Error("follower should have no host after stopping")
	}
	if _, ok := host.listeningAlong[follower.id]; ok {
		t.Error("host should have dropped the follower edge")
	}
}

func TestHostPlaybackChangeSyncsFollowers(t *testing.T) {
	dir := newFakeDirectory()
	g := createTestGateway(dir, nil)
	host := setupHost(t, g, dir, "h1")

	dir.add(testUser("f1"))
	follower := createTestSession(g)
	activateSession(g, follower, "token-f1")
	g.dispatch(follower, mustMarshal(Frame{Type: FrameListen, Target: "h1"}))
	drainSentFrames(follower)

	g.dispatch(host, mustMarshal(Frame{Type: FramePlayer, Track: testTrack("next")}))

	frame, ok := readSentFrame(follower)
	if !ok || frame["type"] != string(FrameSync) {
		t.Fatalf("expected sync frame after host track change, got %v", frame)
	}
	track, _ := frame["track"].(map[string]interface{})
	if track == nil || track["id"] != "next" {
		t.Errorf("sync frame carries wrong track: %v", frame["track"])
	}
	if frame["seek"] != true {
		t.Error("host-change sync must force a seek")
	}
}

func TestSyncWithNoHostIsSilentNoop(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("f1"))
	g := createTestGateway(dir, nil)
	follower := createTestSession(g)
	activateSession(g, follower, "token-f1")
	drainSentFrames(follower)

	g.syncWith(follower, true)

	if sent := drainSentFrames(follower); len(sent) != 0 {
		t.Errorf("expected no frames, got %v", sent)
	}
}

func TestListenTargetWithoutPlayableSessionIsNoop(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("h1"))
	dir.add(testUser("f1"))
	g := createTestGateway(dir, nil)

	// Host is online but idle (no track).
	host := createTestSession(g)
	activateSession(g, host, "token-h1")

	follower := createTestSession(g)
	activateSession(g, follower, "token-f1")
	drainSentFrames(follower)

	g.dispatch(follower, mustMarshal(Frame{Type: FrameListen, Target: "h1"}))

	if sent := drainSentFrames(follower); len(sent) != 0 {
		t.Errorf("expected no frames for idle target, got %v", sent)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if follower.listeningWith != "" {
		t.Error("follower should not be attached to an idle host")
	}
}
