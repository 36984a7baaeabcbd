package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tunesync-service/internal/models"
	"tunesync-service/internal/presence"
)

// syncPresence recomputes the externally visible presence of a session's user
// and delegates the push or clear to the publisher. It is event-triggered:
// callers invoke it on playback-relevant events, and the attempt is silently
// dropped while the debounce interval since the last push has not elapsed.
// Nothing is queued; the next event after the interval carries the update.
func (g *Gateway) syncPresence(s *Session) {
	s.mu.Lock()

	if s.userID == "" || s.isBot {
		s.mu.Unlock()
		return
	}

	now := time.Now()
	if now.Sub(s.lastPresencePush) < g.cfg.PresenceInterval {
		s.mu.Unlock()
		return
	}

	var payload *presence.Payload
	switch {
	case s.mode == models.PresenceModeNone:
		if !s.presenceSet {
			s.mu.Unlock()
			return
		}
	case s.track == nil:
		if !s.presenceSet {
			s.mu.Unlock()
			return
		}
	default:
		payload = g.buildPayloadLocked(s)
	}

	s.lastPresencePush = now
	s.presenceSet = payload != nil
	userID := s.userID
	s.mu.Unlock()

	go func() {
		if err := g.publisher.Publish(context.Background(), userID, payload); err != nil {
			slog.Error("Presence publish failed", "userID", userID, "error", err)
		}
	}()
}

// buildPayloadLocked renders the presence payload for the session's current
// track. Callers must hold s.mu and have checked that a track is set.
func (g *Gateway) buildPayloadLocked(s *Session) *presence.Payload {
	start := s.startedAt.UnixMilli()
	end := start + s.track.Duration

	if s.mode == models.PresenceModeSimple {
		details := fmt.Sprintf("Listening to %s", s.track.Title)
		if g.cfg.CompactPresence {
			details = fmt.Sprintf("♪ %s", s.track.Title)
		}
		return &presence.Payload{
			Details: details,
			Start:   start,
			End:     end,
		}
	}

	payload := &presence.Payload{
		Details: s.track.Title,
		State:   fmt.Sprintf("by %s", s.track.Artist),
		Icon:    s.track.Icon,
		Start:   start,
		End:     end,
	}
	if s.track.URL != "" {
		payload.Links = []presence.Link{{Label: "Listen Along", URL: s.track.URL}}
	}
	return payload
}
