package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tunesync-service/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxFrameSize = 4096
)

var ErrSessionClosed = errors.New("session closed")

// SessionState is the lifecycle state of one connection.
type SessionState int32

const (
	StatePending SessionState = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// conn is the subset of *websocket.Conn the session uses. Tests substitute
// a mock implementation.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Session is the server-side state for one live connection. The connection
// handle is owned exclusively by the session; everything else in the gateway
// reaches the peer through SendFrame.
type Session struct {
	id   string
	conn conn
	send chan []byte

	mu    sync.Mutex
	state SessionState

	// Set once at handshake resolution, immutable afterwards.
	userID string
	isBot  bool
	user   *models.User

	// Playback state.
	track      *models.Track
	startedAt  time.Time
	paused     bool
	progress   float64 // seconds
	progressAt time.Time
	volume     float64

	// Social settings.
	visibility models.BroadcastVisibility
	mode       models.PresenceMode

	// Listen-along relations, stored as session ids and resolved through
	// the gateway registry. Guarded by the gateway mutex, not s.mu.
	listeningWith  string
	listeningAlong map[string]struct{}

	lastPresencePush time.Time
	presenceSet      bool
	lastPing         time.Time
	latency          time.Duration

	closed     int32
	sendClosed int32
}

func newSession(c conn) *Session {
	return &Session{
		id:             uuid.New().String(),
		conn:           c,
		send:           make(chan []byte, 64),
		state:          StatePending,
		volume:         1,
		visibility:     models.VisibilityEveryone,
		mode:           models.PresenceModeNone,
		listeningAlong: make(map[string]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) IsBot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isBot
}

// currentProgress extrapolates the playback position from the last reported
// progress. Callers must hold s.mu.
func (s *Session) currentProgress() float64 {
	if s.track == nil {
		return 0
	}
	if s.paused {
		return s.progress
	}
	return s.progress + time.Since(s.progressAt).Seconds()
}

// playbackSnapshot returns the state a sync frame carries.
func (s *Session) playbackSnapshot() (*models.Track, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track, s.currentProgress(), s.paused
}

func (s *Session) isClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

// markClosed flips the closed flag once; the first caller wins.
func (s *Session) markClosed() bool {
	return atomic.CompareAndSwapInt32(&s.closed, 0, 1)
}

// closeSendChannel safely closes the send channel so the write pump drains
// what is queued and shuts the connection down.
func (s *Session) closeSendChannel() {
	if atomic.CompareAndSwapInt32(&s.sendClosed, 0, 1) {
		close(s.send)
	}
}

// SendFrame serializes a frame and queues it for delivery. A full buffer
// drops the session rather than blocking the caller.
func (s *Session) SendFrame(frame interface{}) error {
	if s.isClosed() || atomic.LoadInt32(&s.sendClosed) == 1 {
		return ErrSessionClosed
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case s.send <- data:
		return nil
	default:
		slog.Warn("Send buffer full, dropping session", "sessionID", s.id, "userID", s.UserID())
		s.closeSendChannel()
		return ErrSessionClosed
	}
}

func (s *Session) sendError(kind FrameType, message string) {
	if err := s.SendFrame(newErrorFrame(kind, message)); err != nil {
		slog.Debug("Failed to queue error frame", "sessionID", s.id, "kind", kind, "error", err)
	}
}

func (s *Session) readPump(g *Gateway) {
	defer func() {
		g.unregister(s)
		if err := s.conn.Close(); err != nil {
			slog.Debug("Error closing connection", "sessionID", s.id, "error", err)
		}
	}()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		if s.isClosed() {
			return websocket.ErrCloseSent
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "sessionID", s.id, "userID", s.UserID(), "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "sessionID", s.id, "userID", s.UserID(), "error", err)
			}
			return
		}

		g.dispatch(s, data)
		if s.isClosed() {
			return
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("Error writing frame", "sessionID", s.id, "error", err)
				return
			}

		case <-ticker.C:
			if s.isClosed() {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping", "sessionID", s.id, "error", err)
				return
			}
			// Application-level ping carries a timestamp the client echoes
			// back in a latency frame.
			if err := s.SendFrame(newPingFrame()); err != nil {
				return
			}
		}
	}
}
