package gateway

import (
	"testing"

	"tunesync-service/internal/models"
)

func TestHandshakeResolvesUser(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)
	s := createTestSession(g)

	g.dispatch(s, mustMarshal(Frame{Type: FrameInitialize, Token: "token-u1"}))

	if !waitFor(func() bool { return s.State() == StateActive }) {
		t.Fatal("session never became active")
	}
	if s.UserID() != "u1" {
		t.Errorf("expected userID u1, got %q", s.UserID())
	}
	if !g.IsUserOnline("u1") {
		t.Error("expected user index entry after handshake")
	}
}

func TestHandshakeUnknownTokenDisconnects(t *testing.T) {
	g := createTestGateway(newFakeDirectory(), nil)
	s := createTestSession(g)

	g.dispatch(s, mustMarshal(Frame{Type: FrameInitialize, Token: "bogus"}))

	if !waitFor(func() bool { return s.State() == StateClosed }) {
		t.Fatal("session was not closed")
	}
	sent := drainSentFrames(s)
	if len(sent) != 1 || sent[0]["type"] != string(FrameErrInvalidToken) {
		t.Fatalf("expected a single %s error, got %v", FrameErrInvalidToken, sent)
	}
}

func TestHandshakeDirectoryOutageLeavesSessionRetryable(t *testing.T) {
	dir := newFakeDirectory()
	dir.failAll = true
	g := createTestGateway(dir, nil)
	s := createTestSession(g)

	g.dispatch(s, mustMarshal(Frame{Type: FrameInitialize, Token: "token-u1"}))

	if !waitFor(func() bool { return s.State() == StatePending }) {
		t.Fatal("session should fall back to pending on directory outage")
	}
	if sent := drainSentFrames(s); len(sent) != 0 {
		t.Errorf("expected no error frame on collaborator failure, got %v", sent)
	}

	// The directory recovers and the retried handshake succeeds.
	dir.mu.Lock()
	dir.failAll = false
	dir.mu.Unlock()
	dir.add(testUser("u1"))

	g.dispatch(s, mustMarshal(Frame{Type: FrameInitialize, Token: "token-u1"}))
	if !waitFor(func() bool { return s.State() == StateActive }) {
		t.Fatal("retried handshake did not activate the session")
	}
}

func TestHandshakeSettingsOverridePersisted(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)
	s := createTestSession(g)

	visibility := models.VisibilityNobody
	mode := models.PresenceModeSimple
	g.dispatch(s, mustMarshal(Frame{
		Type:       FrameInitialize,
		Token:      "token-u1",
		Visibility: &visibility,
		Presence:   &mode,
	}))

	if !waitFor(func() bool { return s.State() == StateActive }) {
		t.Fatal("session never became active")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visibility != models.VisibilityNobody || s.mode != models.PresenceModeSimple {
		t.Errorf("handshake settings not applied: %s/%s", s.visibility, s.mode)
	}
}

func TestBotSlotIsSingleOccupancy(t *testing.T) {
	g := createTestGateway(newFakeDirectory(), nil)

	first := createTestSession(g)
	activateSession(g, first, "bot-secret")
	if !first.IsBot() || first.State() != StateActive {
		t.Fatal("first session should hold the bot slot")
	}

	second := createTestSession(g)
	activateSession(g, second, "bot-secret")
	if second.State() != StateClosed {
		t.Fatal("second bot claim should be rejected")
	}
	sent := drainSentFrames(second)
	if len(sent) != 1 || sent[0]["type"] != string(FrameErrInvalidToken) {
		t.Fatalf("expected a single %s error, got %v", FrameErrInvalidToken, sent)
	}

	// The slot stays occupied even after the bot session goes away.
	g.unregister(first)
	third := createTestSession(g)
	activateSession(g, third, "bot-secret")
	if third.State() != StateClosed {
		t.Error("bot slot should remain claimed after the bot disconnects")
	}
}

func TestBroadcastWithoutSessionsIsNoop(t *testing.T) {
	g := createTestGateway(newFakeDirectory(), nil)

	// Must not panic or send anything.
	g.Broadcast("nobody", newRecentsFrame(nil))
}

func TestBroadcastReachesEveryDevice(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)

	first := createTestSession(g)
	second := createTestSession(g)
	activateSession(g, first, "token-u1")
	activateSession(g, second, "token-u1")
	drainSentFrames(first)
	drainSentFrames(second)

	g.Broadcast("u1", newRecentsFrame(models.TrackList{*testTrack("1")}))

	for _, s := range []*Session{first, second} {
		frame, ok := readSentFrame(s)
		if !ok || frame["type"] != string(FrameRecents) {
			t.Fatalf("expected recents frame on session %s, got %v", s.id, frame)
		}
	}
}

func TestUserIndexTracksActiveSessions(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)

	first := createTestSession(g)
	second := createTestSession(g)
	activateSession(g, first, "token-u1")
	activateSession(g, second, "token-u1")

	if !g.IsUserOnline("u1") {
		t.Fatal("expected user online with two sessions")
	}

	g.unregister(first)
	if !g.IsUserOnline("u1") {
		t.Error("user should stay online while one session remains")
	}

	g.unregister(second)
	if g.IsUserOnline("u1") {
		t.Error("user index entry should be gone after the last disconnect")
	}
}

func TestRecentTrackPersistedAndBroadcast(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)
	s := createTestSession(g)
	activateSession(g, s, "token-u1")
	drainSentFrames(s)

	g.recordRecentTrack(s, *testTrack("1"))

	frame, ok := readSentFrame(s)
	if !ok || frame["type"] != string(FrameRecents) {
		t.Fatalf("expected recents broadcast, got %v", frame)
	}

	dir.mu.Lock()
	defer dir.mu.Unlock()
	if dir.updates != 1 {
		t.Errorf("expected one directory update, got %d", dir.updates)
	}
	if len(dir.byID["u1"].RecentTracks) != 1 || dir.byID["u1"].RecentTracks[0].ID != "1" {
		t.Errorf("recent tracks not persisted: %v", dir.byID["u1"].RecentTracks)
	}
}

func TestRecentTrackListDedupesAndCaps(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)
	s := createTestSession(g)
	activateSession(g, s, "token-u1")
	drainSentFrames(s)

	for i := 0; i < 15; i++ {
		g.recordRecentTrack(s, *testTrack(string(rune('a' + i))))
	}
	g.recordRecentTrack(s, *testTrack("a"))

	s.mu.Lock()
	recents := s.user.RecentTracks
	s.mu.Unlock()

	if len(recents) > maxRecentTracks {
		t.Errorf("recent list exceeded cap: %d", len(recents))
	}
	if recents[0].ID != "a" {
		t.Errorf("expected replayed track first, got %q", recents[0].ID)
	}
	seen := make(map[string]bool)
	for _, track := range recents {
		if seen[track.ID] {
			t.Errorf("duplicate track %q in recent list", track.ID)
		}
		seen[track.ID] = true
	}
}
