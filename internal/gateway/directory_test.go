package gateway

import (
	"testing"

	"tunesync-service/internal/models"
)

func TestOnlineEntryExistsIffUserActive(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)

	if len(g.OnlineUsers()) != 0 {
		t.Fatal("online directory should start empty")
	}

	first := createTestSession(g)
	second := createTestSession(g)
	activateSession(g, first, "token-u1")
	activateSession(g, second, "token-u1")

	users := g.OnlineUsers()
	if len(users) != 1 || users[0].UserID != "u1" {
		t.Fatalf("expected a single online entry for u1, got %v", users)
	}

	g.unregister(first)
	if len(g.OnlineUsers()) != 1 {
		t.Error("entry must survive while one session remains")
	}

	g.unregister(second)
	if len(g.OnlineUsers()) != 0 {
		t.Error("entry must be deleted with the last session")
	}
}

func TestOnlineEntryUpdatedInPlace(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)
	s := createTestSession(g)
	activateSession(g, s, "token-u1")

	before := g.OnlineUsers()[0]

	g.dispatch(s, mustMarshal(Frame{Type: FramePlayer, Track: testTrack("one")}))

	after := g.OnlineUsers()[0]
	if before != after {
		t.Error("online entry must be updated in place, not recreated")
	}
	if after.Track == nil || after.Track.ID != "one" {
		t.Errorf("online entry does not reflect the new track: %v", after.Track)
	}
}

func TestRecentSnapshotOnLastDisconnectWithTrack(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)
	s := createTestSession(g)
	activateSession(g, s, "token-u1")
	g.dispatch(s, mustMarshal(Frame{Type: FramePlayer, Track: testTrack("one")}))

	g.unregister(s)

	recents := g.RecentUsers()
	if len(recents) != 1 {
		t.Fatalf("expected one recent entry, got %d", len(recents))
	}
	entry := recents[0]
	if entry.UserID != "u1" || entry.LastTrack == nil || entry.LastTrack.ID != "one" {
		t.Errorf("unexpected recent entry: %+v", entry)
	}
	if entry.LastSeen.IsZero() {
		t.Error("lastSeen must be set")
	}
}

func TestNoRecentSnapshotWithoutTrack(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)
	s := createTestSession(g)
	activateSession(g, s, "token-u1")

	g.unregister(s)

	if len(g.RecentUsers()) != 0 {
		t.Error("idle disconnect must not create a recent entry")
	}
}

func TestReconnectRemovesRecentEntry(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)

	s := createTestSession(g)
	activateSession(g, s, "token-u1")
	g.dispatch(s, mustMarshal(Frame{Type: FramePlayer, Track: testTrack("one")}))
	g.unregister(s)

	if len(g.RecentUsers()) != 1 {
		t.Fatal("expected a recent entry before reconnect")
	}

	again := createTestSession(g)
	activateSession(g, again, "token-u1")

	if len(g.RecentUsers()) != 0 {
		t.Error("online and recent must be mutually exclusive per user")
	}
	if !g.IsUserOnline("u1") {
		t.Error("user should be online after reconnect")
	}
}

func TestRecentSnapshotNotOverwritten(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)

	s := createTestSession(g)
	activateSession(g, s, "token-u1")
	g.dispatch(s, mustMarshal(Frame{Type: FramePlayer, Track: testTrack("one")}))
	g.unregister(s)

	first := g.RecentUsers()[0]

	// A second disconnect for the same user while a stale entry exists must
	// keep the original snapshot.
	g.mu.Lock()
	g.recent["u1"].LastTrack = testTrack("one")
	g.mu.Unlock()

	other := createTestSession(g)
	other.mu.Lock()
	other.userID = "u1"
	other.user = testUser("u1")
	other.track = testTrack("two")
	other.state = StateActive
	other.mu.Unlock()
	g.mu.Lock()
	g.userSessions["u1"] = map[string]*Session{other.id: other}
	g.mu.Unlock()
	g.unregister(other)

	if got := g.RecentUsers()[0]; got.LastTrack.ID != first.LastTrack.ID {
		t.Errorf("existing recent entry was overwritten: %v", got.LastTrack)
	}
}

func TestHiddenUsersExcludedFromOnlineSnapshot(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(testUser("u1"))
	g := createTestGateway(dir, nil)
	s := createTestSession(g)

	visibility := models.VisibilityNobody
	s.setState(StateAuthenticating)
	g.authenticate(s, "token-u1", &visibility, nil)

	if len(g.OnlineUsers()) != 0 {
		t.Error("users with visibility nobody must not appear in the snapshot")
	}
	if !g.IsUserOnline("u1") {
		t.Error("hidden users are still indexed as online")
	}
}
