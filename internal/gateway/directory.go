package gateway

import (
	"sort"
	"time"

	"tunesync-service/internal/models"
)

// OnlineUser is the social-discovery projection of one online user. Entries
// are created lazily, updated in place so held references stay fresh, and
// deleted when the user's last session closes.
type OnlineUser struct {
	UserID        string                     `json:"userId"`
	Username      string                     `json:"username"`
	Discriminator string                     `json:"discriminator"`
	Avatar        string                     `json:"avatar,omitempty"`
	Status        string                     `json:"status,omitempty"`
	Visibility    models.BroadcastVisibility `json:"visibility"`
	Track         *models.Track              `json:"track"`
	Progress      float64                    `json:"progress"`
}

// RecentUser is the last-seen snapshot of a user who was playing something
// when they fully disconnected. It exists only while the user is offline.
type RecentUser struct {
	UserID        string        `json:"userId"`
	Username      string        `json:"username"`
	Discriminator string        `json:"discriminator"`
	Avatar        string        `json:"avatar,omitempty"`
	LastSeen      time.Time     `json:"lastSeen"`
	LastTrack     *models.Track `json:"lastTrack"`
}

// refreshOnlineLocked creates or updates the online entry for the session's
// user from the session's current state. Callers must hold g.mu.
func (g *Gateway) refreshOnlineLocked(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userID == "" || s.user == nil {
		return
	}

	entry, ok := g.online[s.userID]
	if !ok {
		entry = &OnlineUser{UserID: s.userID}
		g.online[s.userID] = entry
	}
	entry.Username = s.user.Username
	entry.Discriminator = s.user.Discriminator
	entry.Avatar = s.user.Avatar
	entry.Status = s.user.Status
	entry.Visibility = s.visibility
	entry.Track = s.track
	entry.Progress = s.currentProgress()
}

// refreshOnline is the unlocked entry point used by frame handlers.
func (g *Gateway) refreshOnline(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshOnlineLocked(s)
}

// OnlineUsers returns a stable snapshot of the online directory. Entries
// hidden by their owner's visibility setting are excluded.
func (g *Gateway) OnlineUsers() []*OnlineUser {
	g.mu.RLock()
	defer g.mu.RUnlock()

	users := make([]*OnlineUser, 0, len(g.online))
	for _, entry := range g.online {
		if entry.Visibility == models.VisibilityNobody {
			continue
		}
		users = append(users, entry)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// RecentUsers returns a snapshot of the recent directory, most recent first.
func (g *Gateway) RecentUsers() []*RecentUser {
	g.mu.RLock()
	defer g.mu.RUnlock()

	users := make([]*RecentUser, 0, len(g.recent))
	for _, entry := range g.recent {
		users = append(users, entry)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].LastSeen.After(users[j].LastSeen) })
	return users
}

// IsUserOnline reports whether the user has at least one active session.
func (g *Gateway) IsUserOnline(userID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.userSessions[userID]) > 0
}
