// Package gateway implements the real-time core of the service: per-connection
// session state machines, the shared registries tracking who is online, the
// listen-along relay and the debounced presence synchronizer.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tunesync-service/internal/events"
	"tunesync-service/internal/models"
	"tunesync-service/internal/presence"
)

// UserDirectory is the narrow slice of the persistence layer the gateway
// consumes. Lookups by token happen during handshake resolution, updates when
// the recently-played list or a user record changes.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByToken(ctx context.Context, token string) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
}

// Config carries the gateway tunables.
type Config struct {
	// BotToken gates the single privileged bot session.
	BotToken string
	// PresenceInterval is the minimum time between presence pushes per
	// session. Defaults to 4 seconds.
	PresenceInterval time.Duration
	// CompactPresence switches the simple presence payload to the short
	// status format.
	CompactPresence bool
}

func (c *Config) defaults() {
	if c.PresenceInterval <= 0 {
		c.PresenceInterval = 4 * time.Second
	}
}

// Gateway owns all shared connection state. One instance exists per running
// server; every registry it holds is guarded by its mutex.
type Gateway struct {
	mu sync.RWMutex

	// sessions is the connection registry, keyed by session id.
	sessions map[string]*Session

	// userSessions indexes the active sessions of each authenticated user.
	// An entry exists iff the user has at least one active session.
	userSessions map[string]map[string]*Session

	online map[string]*OnlineUser
	recent map[string]*RecentUser

	// botClaimed is set when a session claims the bot identity. The slot is
	// never released, even if that session disconnects uncleanly.
	botClaimed bool

	users     UserDirectory
	publisher presence.Publisher
	events    events.Logger
	cfg       Config
}

func NewGateway(users UserDirectory, publisher presence.Publisher, eventLog events.Logger, cfg Config) *Gateway {
	cfg.defaults()
	if publisher == nil {
		publisher = presence.NopPublisher{}
	}
	if eventLog == nil {
		eventLog = events.NopLogger{}
	}
	return &Gateway{
		sessions:     make(map[string]*Session),
		userSessions: make(map[string]map[string]*Session),
		online:       make(map[string]*OnlineUser),
		recent:       make(map[string]*RecentUser),
		users:        users,
		publisher:    publisher,
		events:       eventLog,
		cfg:          cfg,
	}
}

// HandleConnection adopts an upgraded websocket connection: it allocates the
// session, sends the init frame and starts the pumps. Returns once the
// session is registered; the pumps run on their own goroutines.
func (g *Gateway) HandleConnection(c *websocket.Conn) *Session {
	s := newSession(c)
	g.register(s)

	if err := s.SendFrame(newInitFrame(s.id)); err != nil {
		slog.Error("Failed to queue init frame", "sessionID", s.id, "error", err)
	}

	go s.writePump()
	go s.readPump(g)

	return s
}

func (g *Gateway) register(s *Session) {
	g.mu.Lock()
	g.sessions[s.id] = s
	g.mu.Unlock()

	slog.Info("Session connected", "sessionID", s.id)
	g.events.Log(events.Event{Type: events.TypeSessionOpen, SessionID: s.id})
}

// unregister removes every trace of the session from the shared registries in
// one critical section, so concurrent broadcasts and syncs never observe a
// half-torn-down session.
func (g *Gateway) unregister(s *Session) {
	if !s.markClosed() {
		return
	}
	s.setState(StateClosed)

	g.mu.Lock()
	delete(g.sessions, s.id)

	// Tear down listen-along edges in both directions.
	g.detachFromHostLocked(s, false)
	for followerID := range s.listeningAlong {
		follower, ok := g.sessions[followerID]
		if !ok {
			continue
		}
		follower.listeningWith = ""
		follower.SendFrame(newStopSyncFrame())
	}
	s.listeningAlong = make(map[string]struct{})

	s.mu.Lock()
	userID := s.userID
	track := s.track
	user := s.user
	presenceSet := s.presenceSet
	s.mu.Unlock()

	lastSession := false
	if userID != "" {
		if set, ok := g.userSessions[userID]; ok {
			delete(set, s.id)
			if len(set) == 0 {
				delete(g.userSessions, userID)
				lastSession = true
			}
		}
		if lastSession {
			delete(g.online, userID)
			if _, exists := g.recent[userID]; !exists && track != nil && user != nil {
				g.recent[userID] = &RecentUser{
					UserID:        userID,
					Username:      user.Username,
					Discriminator: user.Discriminator,
					Avatar:        user.Avatar,
					LastSeen:      time.Now(),
					LastTrack:     track,
				}
			}
		}
	}
	g.mu.Unlock()

	s.closeSendChannel()

	if lastSession && presenceSet {
		go func() {
			if err := g.publisher.Publish(context.Background(), userID, nil); err != nil {
				slog.Error("Failed to clear presence on disconnect", "userID", userID, "error", err)
			}
		}()
	}

	slog.Info("Session disconnected", "sessionID", s.id, "userID", userID)
	g.events.Log(events.Event{Type: events.TypeSessionClose, SessionID: s.id, UserID: userID})
}

// authenticate resolves a handshake token. It runs on its own goroutine so
// the connection's read loop is never blocked on the directory.
func (g *Gateway) authenticate(s *Session, token string, visibility *models.BroadcastVisibility, mode *models.PresenceMode) {
	if s.isClosed() {
		return
	}

	if g.cfg.BotToken != "" && token == g.cfg.BotToken {
		g.claimBot(s)
		return
	}

	user, err := g.users.FindByToken(context.Background(), token)
	if errors.Is(err, models.ErrUserNotFound) {
		s.sendError(FrameErrInvalidToken, "unknown token")
		g.unregister(s)
		return
	}
	if err != nil {
		// Directory outage: log and leave the session unauthenticated so the
		// client can retry the handshake.
		slog.Error("Directory lookup failed", "sessionID", s.id, "error", err)
		s.setState(StatePending)
		return
	}

	g.mu.Lock()
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		g.mu.Unlock()
		return
	}
	s.userID = user.ID
	s.user = user
	s.visibility = user.Visibility
	s.mode = user.Presence
	if visibility != nil {
		s.visibility = *visibility
	}
	if mode != nil {
		s.mode = *mode
	}
	s.state = StateActive
	sessionMode := s.mode
	s.mu.Unlock()

	if g.userSessions[user.ID] == nil {
		g.userSessions[user.ID] = make(map[string]*Session)
	}
	g.userSessions[user.ID][s.id] = s

	// Online and recent are mutually exclusive per user.
	delete(g.recent, user.ID)
	g.refreshOnlineLocked(s)
	g.mu.Unlock()

	slog.Info("Session authenticated", "sessionID", s.id, "userID", user.ID)
	g.events.Log(events.Event{Type: events.TypeSessionAuth, SessionID: s.id, UserID: user.ID})

	// Restore or clear externally visible presence for users who had it
	// enabled before reconnecting.
	if sessionMode != models.PresenceModeNone {
		g.syncPresence(s)
	}
}

// claimBot grants the privileged bot identity to the first session presenting
// the bot secret. The slot is process-wide and single-occupancy.
func (g *Gateway) claimBot(s *Session) {
	g.mu.Lock()
	if g.botClaimed {
		g.mu.Unlock()
		s.sendError(FrameErrInvalidToken, "bot already connected")
		g.unregister(s)
		return
	}
	g.botClaimed = true
	g.mu.Unlock()

	s.mu.Lock()
	s.isBot = true
	s.state = StateActive
	s.mu.Unlock()

	slog.Info("Bot session claimed", "sessionID", s.id)
	g.events.Log(events.Event{Type: events.TypeSessionAuth, SessionID: s.id, Detail: "bot"})
}

// Broadcast pushes a frame to every active session of the given user. A user
// with no sessions is a no-op.
func (g *Gateway) Broadcast(userID string, frame interface{}) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, s := range g.userSessions[userID] {
		if err := s.SendFrame(frame); err != nil {
			slog.Debug("Broadcast send failed", "sessionID", s.id, "userID", userID, "error", err)
		}
	}
}

// SessionCount reports the number of live connections.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// ApplySettings updates the social settings on every live session of a user
// (after the REST API persisted them) and re-evaluates presence.
func (g *Gateway) ApplySettings(userID string, visibility *models.BroadcastVisibility, mode *models.PresenceMode) {
	g.mu.RLock()
	sessions := make([]*Session, 0, len(g.userSessions[userID]))
	for _, s := range g.userSessions[userID] {
		sessions = append(sessions, s)
	}
	g.mu.RUnlock()

	for _, s := range sessions {
		s.mu.Lock()
		if visibility != nil {
			s.visibility = *visibility
		}
		if mode != nil {
			s.mode = *mode
		}
		s.mu.Unlock()
		g.syncPresence(s)
	}
}

// Shutdown tears down every live session. Called once during server
// shutdown, after the HTTP listener stopped accepting upgrades.
func (g *Gateway) Shutdown() {
	g.mu.RLock()
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.RUnlock()

	for _, s := range sessions {
		g.unregister(s)
	}
	slog.Info("Gateway stopped", "sessions", len(sessions))
}

// lookupSession resolves a session id through the registry.
func (g *Gateway) lookupSessionLocked(id string) *Session {
	if id == "" {
		return nil
	}
	return g.sessions[id]
}
