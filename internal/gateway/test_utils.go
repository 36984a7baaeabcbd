package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tunesync-service/internal/models"
	"tunesync-service/internal/presence"
)

// mockConn implements the conn interface for testing.
type mockConn struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosedConn
	}
	m.messages = append(m.messages, data)
	return nil
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil, errClosedConn
	}
	return 1, nil, errClosedConn
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) SetReadLimit(int64)                {}
func (m *mockConn) SetReadDeadline(time.Time) error   { return nil }
func (m *mockConn) SetWriteDeadline(time.Time) error  { return nil }
func (m *mockConn) SetPongHandler(func(string) error) {}

var errClosedConn = fmt.Errorf("connection closed")

// fakeDirectory is an in-memory UserDirectory.
type fakeDirectory struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	byToken map[string]*models.User
	updates int
	failAll bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byID:    make(map[string]*models.User),
		byToken: make(map[string]*models.User),
	}
}

func (d *fakeDirectory) add(user *models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[user.ID] = user
	d.byToken[user.Token] = user
}

func (d *fakeDirectory) FindByID(_ context.Context, id string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return nil, fmt.Errorf("directory unavailable")
	}
	user, ok := d.byID[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return user, nil
}

func (d *fakeDirectory) FindByToken(_ context.Context, token string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return nil, fmt.Errorf("directory unavailable")
	}
	user, ok := d.byToken[token]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return user, nil
}

func (d *fakeDirectory) Save(_ context.Context, user *models.User) error {
	d.add(user)
	return nil
}

func (d *fakeDirectory) Update(_ context.Context, user *models.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return fmt.Errorf("directory unavailable")
	}
	d.byID[user.ID] = user
	d.updates++
	return nil
}

// recordingPublisher captures presence pushes for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	pushes []recordedPush
}

type recordedPush struct {
	userID  string
	payload *presence.Payload
}

func (p *recordingPublisher) Publish(_ context.Context, userID string, payload *presence.Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, recordedPush{userID: userID, payload: payload})
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

func (p *recordingPublisher) last() recordedPush {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pushes[len(p.pushes)-1]
}

// Helper constructors for tests.

func createTestGateway(dir UserDirectory, pub presence.Publisher) *Gateway {
	return NewGateway(dir, pub, nil, Config{BotToken: "bot-secret"})
}

func createTestSession(g *Gateway) *Session {
	s := newSession(&mockConn{})
	g.register(s)
	return s
}

func testUser(id string) *models.User {
	return &models.User{
		ID:         id,
		Username:   "user-" + id,
		Token:      "token-" + id,
		Visibility: models.VisibilityEveryone,
		Presence:   models.PresenceModeFull,
	}
}

// activateSession resolves the handshake synchronously against the directory.
func activateSession(g *Gateway, s *Session, token string) {
	s.setState(StateAuthenticating)
	g.authenticate(s, token, nil, nil)
}

func testTrack(id string) *models.Track {
	return &models.Track{
		ID:       id,
		Title:    "Track " + id,
		Artist:   "Artist",
		Duration: 180000,
		URL:      "https://music.example/" + id,
	}
}

// readSentFrame pops the next queued frame, decoded into a generic map.
func readSentFrame(s *Session) (map[string]interface{}, bool) {
	select {
	case data, ok := <-s.send:
		if !ok {
			return nil, false
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, false
		}
		return frame, true
	case <-time.After(time.Second):
		return nil, false
	}
}

// drainSentFrames collects everything queued so far without blocking.
func drainSentFrames(s *Session) []map[string]interface{} {
	var frames []map[string]interface{}
	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return frames
			}
			var frame map[string]interface{}
			if err := json.Unmarshal(data, &frame); err == nil {
				frames = append(frames, frame)
			}
		default:
			return frames
		}
	}
}

// waitFor polls the condition until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
