package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"tunesync-service/internal/events"
	"tunesync-service/internal/models"
)

// dispatch routes one decoded inbound frame to its handler. The handshake
// precondition is enforced here: until the session is active, the only frame
// processed is the handshake itself. Protocol violations are terminal for the
// connection; exactly one error frame is sent before it is closed.
func (g *Gateway) dispatch(s *Session, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		g.terminate(s, FrameErrInvalidJSON, "frame is not valid JSON")
		return
	}

	if !frame.Type.IsInbound() {
		g.terminate(s, FrameErrUnknownMessage, "unrecognized frame type")
		return
	}

	frame.stamp()

	if frame.Type == FrameInitialize {
		g.handleInitialize(s, &frame)
		return
	}

	if s.State() != StateActive {
		g.terminate(s, FrameErrNotInitialized, "handshake required before other frames")
		return
	}

	if frame.Type.BotOnly() && !s.IsBot() {
		g.terminate(s, FrameErrUnknownMessage, "unrecognized frame type")
		return
	}

	switch frame.Type {
	case FrameLatency:
		g.handleLatency(s, &frame)
	case FrameSeek:
		g.handleSeek(s, &frame)
	case FrameVolume:
		g.handleVolume(s, &frame)
	case FrameListen:
		g.handleListen(s, &frame)
	case FramePlayer:
		g.handlePlayer(s, &frame)
	case FrameLoadUsers:
		g.handleLoadUsers(s)
	case FrameUserUpdate:
		g.handleUserUpdate(s, &frame)
	}
}

// terminate sends exactly one explanatory error frame and closes the
// connection. There is no retry at this layer.
func (g *Gateway) terminate(s *Session, kind FrameType, message string) {
	s.sendError(kind, message)
	g.events.Log(events.Event{
		Type:      events.TypeProtocolErr,
		SessionID: s.id,
		UserID:    s.UserID(),
		Detail:    string(kind),
	})
	g.unregister(s)
}

// handleInitialize starts asynchronous handshake resolution. Handshake frames
// on an already active or resolving session are ignored.
func (g *Gateway) handleInitialize(s *Session, frame *Frame) {
	s.mu.Lock()
	if s.state != StatePending {
		s.mu.Unlock()
		return
	}
	s.state = StateAuthenticating
	s.mu.Unlock()

	go g.authenticate(s, frame.Token, frame.Visibility, frame.Presence)
}

func (g *Gateway) handleLatency(s *Session, frame *Frame) {
	now := time.Now()
	s.mu.Lock()
	s.lastPing = now
	if frame.Timestamp > 0 {
		s.latency = time.Duration(now.UnixMilli()-frame.Timestamp) * time.Millisecond
	}
	latency := s.latency
	s.mu.Unlock()

	slog.Debug("Latency sample", "sessionID", s.id, "latency", latency)
}

// handlePlayer applies a full playback-state report from the client and
// relays the change to followers, the online directory and presence.
func (g *Gateway) handlePlayer(s *Session, frame *Frame) {
	now := time.Now()

	s.mu.Lock()
	trackChanged := !sameTrack(s.track, frame.Track)
	pausedChanged := frame.Paused != nil && *frame.Paused != s.paused

	s.track = frame.Track
	if trackChanged && s.track != nil {
		s.startedAt = now
		s.progress = 0
		s.progressAt = now
	}
	if frame.Progress != nil {
		s.progress = *frame.Progress
		s.progressAt = now
	}
	if frame.Paused != nil {
		s.paused = *frame.Paused
	}
	if frame.Volume != nil {
		s.volume = *frame.Volume
	}
	newTrack := s.track
	s.mu.Unlock()

	if trackChanged || pausedChanged {
		g.updateListeners(s)
	}
	g.refreshOnline(s)
	g.syncPresence(s)

	if trackChanged && newTrack != nil {
		go g.recordRecentTrack(s, *newTrack)
	}
}

func (g *Gateway) handleSeek(s *Session, frame *Frame) {
	if frame.Progress == nil {
		return
	}
	now := time.Now()

	s.mu.Lock()
	if s.track == nil {
		s.mu.Unlock()
		return
	}
	s.progress = *frame.Progress
	s.progressAt = now
	// Shift the elapsed-time window so presence timestamps stay truthful.
	s.startedAt = now.Add(-time.Duration(*frame.Progress * float64(time.Second)))
	s.mu.Unlock()

	g.updateListeners(s)
	g.refreshOnline(s)
	g.syncPresence(s)
}

func (g *Gateway) handleVolume(s *Session, frame *Frame) {
	if frame.Volume == nil {
		return
	}
	s.mu.Lock()
	s.volume = *frame.Volume
	s.mu.Unlock()
}

// handleListen starts or stops following another user's playback. A target
// with no listenable session is a silent no-op.
func (g *Gateway) handleListen(s *Session, frame *Frame) {
	if frame.Target == "" {
		g.stopListeningAlong(s, false)
		return
	}

	g.mu.RLock()
	var host *Session
	for _, candidate := range g.userSessions[frame.Target] {
		candidate.mu.Lock()
		listenable := candidate.track != nil && candidate.visibility != models.VisibilityNobody
		candidate.mu.Unlock()
		if listenable {
			host = candidate
			break
		}
	}
	g.mu.RUnlock()

	if host == nil {
		return
	}
	g.listenAlong(s, host)
}

func (g *Gateway) handleLoadUsers(s *Session) {
	if err := s.SendFrame(newUsersFrame(g.OnlineUsers())); err != nil {
		slog.Debug("Failed to send users frame", "sessionID", s.id, "error", err)
	}
}

// handleUserUpdate lets the bot push refreshed display fields for a user.
// The directory write happens off the read loop.
func (g *Gateway) handleUserUpdate(s *Session, frame *Frame) {
	if frame.User == nil || frame.User.ID == "" {
		return
	}
	go g.applyUserUpdate(*frame.User)
}

func (g *Gateway) applyUserUpdate(patch UserPatch) {
	ctx := context.Background()

	user, err := g.users.FindByID(ctx, patch.ID)
	if err != nil {
		slog.Error("User update lookup failed", "userID", patch.ID, "error", err)
		return
	}
	if patch.Username != "" {
		user.Username = patch.Username
	}
	if patch.Discriminator != "" {
		user.Discriminator = patch.Discriminator
	}
	if patch.Avatar != "" {
		user.Avatar = patch.Avatar
	}
	if patch.Status != "" {
		user.Status = patch.Status
	}
	if err := g.users.Update(ctx, user); err != nil {
		slog.Error("User update write failed", "userID", patch.ID, "error", err)
		return
	}

	g.mu.Lock()
	for _, live := range g.userSessions[user.ID] {
		live.mu.Lock()
		live.user = user
		live.mu.Unlock()
	}
	if entry, ok := g.online[user.ID]; ok {
		entry.Username = user.Username
		entry.Discriminator = user.Discriminator
		entry.Avatar = user.Avatar
		entry.Status = user.Status
	}
	g.mu.Unlock()
}

// recordRecentTrack appends a track to the user's persisted recently-played
// list and broadcasts the refreshed list to all of the user's sessions, so
// simultaneous devices stay consistent.
func (g *Gateway) recordRecentTrack(s *Session, track models.Track) {
	s.mu.Lock()
	user := s.user
	if user == nil {
		s.mu.Unlock()
		return
	}
	recents := make(models.TrackList, 0, len(user.RecentTracks)+1)
	recents = append(recents, track)
	for _, t := range user.RecentTracks {
		if t.ID == track.ID {
			continue
		}
		recents = append(recents, t)
		if len(recents) == maxRecentTracks {
			break
		}
	}
	user.RecentTracks = recents
	userID := s.userID
	s.mu.Unlock()

	if err := g.users.Update(context.Background(), user); err != nil {
		slog.Error("Failed to persist recent tracks", "userID", userID, "error", err)
		return
	}
	g.Broadcast(userID, newRecentsFrame(recents))
}

const maxRecentTracks = 10

func sameTrack(a, b *models.Track) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}
