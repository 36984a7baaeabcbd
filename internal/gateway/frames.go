package gateway

import (
	"time"

	"tunesync-service/internal/models"
)

// FrameType identifies one logical message on the wire.
type FrameType string

// Client -> server frame types.
const (
	FrameInitialize FrameType = "initialize"
	FrameLatency    FrameType = "latency"
	FrameSeek       FrameType = "seek"
	FrameVolume     FrameType = "volume"
	FrameListen     FrameType = "listen"
	FramePlayer     FrameType = "player"

	// Privileged, accepted only from the bot session.
	FrameLoadUsers  FrameType = "load-users"
	FrameUserUpdate FrameType = "user-update"
)

// Server -> client frame types.
const (
	FrameInit    FrameType = "init"
	FramePing    FrameType = "ping"
	FrameSync    FrameType = "sync"
	FrameRecents FrameType = "recents"
	FrameUsers   FrameType = "users"

	FrameErrInvalidJSON    FrameType = "invalid-json"
	FrameErrNotInitialized FrameType = "not-initialized"
	FrameErrInvalidToken   FrameType = "invalid-token"
	FrameErrUnknownMessage FrameType = "unknown-message"
)

// IsInbound reports whether the type is one a client may send.
func (t FrameType) IsInbound() bool {
	switch t {
	case FrameInitialize, FrameLatency, FrameSeek, FrameVolume,
		FrameListen, FramePlayer, FrameLoadUsers, FrameUserUpdate:
		return true
	default:
		return false
	}
}

// BotOnly reports whether the type is restricted to the bot session.
func (t FrameType) BotOnly() bool {
	return t == FrameLoadUsers || t == FrameUserUpdate
}

// UserPatch is the record update the bot pushes with user-update frames.
type UserPatch struct {
	ID            string `json:"id"`
	Username      string `json:"username,omitempty"`
	Discriminator string `json:"discriminator,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Status        string `json:"status,omitempty"`
}

// Frame is the decoded form of one inbound message. Optional fields are
// pointers so handlers can tell "absent" from zero values.
type Frame struct {
	Type      FrameType `json:"type"`
	Timestamp int64     `json:"timestamp,omitempty"`

	// initialize
	Token      string                      `json:"token,omitempty"`
	Visibility *models.BroadcastVisibility `json:"visibility,omitempty"`
	Presence   *models.PresenceMode        `json:"presence,omitempty"`

	// player / seek / volume
	Track    *models.Track `json:"track,omitempty"`
	Progress *float64      `json:"progress,omitempty"`
	Paused   *bool         `json:"paused,omitempty"`
	Volume   *float64      `json:"volume,omitempty"`

	// listen; the user id to follow, empty to stop
	Target string `json:"target,omitempty"`

	// user-update
	User *UserPatch `json:"user,omitempty"`
}

// stamp fills in the server-side timestamp when the sender omitted it.
func (f *Frame) stamp() {
	if f.Timestamp == 0 {
		f.Timestamp = nowMillis()
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

/** -------------------- outbound frames -------------------- */

type initFrame struct {
	Type      FrameType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	SessionID string    `json:"sessionId"`
}

func newInitFrame(sessionID string) initFrame {
	return initFrame{Type: FrameInit, Timestamp: nowMillis(), SessionID: sessionID}
}

type pingFrame struct {
	Type      FrameType `json:"type"`
	Timestamp int64     `json:"timestamp"`
}

func newPingFrame() pingFrame {
	return pingFrame{Type: FramePing, Timestamp: nowMillis()}
}

// syncFrame mirrors a host's playback to a follower. Track, progress and
// paused are always present so a null track is an explicit stop signal.
type syncFrame struct {
	Type      FrameType     `json:"type"`
	Timestamp int64         `json:"timestamp"`
	Track     *models.Track `json:"track"`
	Progress  float64       `json:"progress"`
	Paused    bool          `json:"paused"`
	Seek      bool          `json:"seek"`
}

func newSyncFrame(track *models.Track, progress float64, paused, seek bool) syncFrame {
	return syncFrame{
		Type:      FrameSync,
		Timestamp: nowMillis(),
		Track:     track,
		Progress:  progress,
		Paused:    paused,
		Seek:      seek,
	}
}

// newStopSyncFrame is pushed to followers when their host goes away so the
// client stops playback deterministically.
func newStopSyncFrame() syncFrame {
	return newSyncFrame(nil, -1, true, true)
}

type recentsFrame struct {
	Type      FrameType        `json:"type"`
	Timestamp int64            `json:"timestamp"`
	Tracks    models.TrackList `json:"tracks"`
}

func newRecentsFrame(tracks models.TrackList) recentsFrame {
	if tracks == nil {
		tracks = models.TrackList{}
	}
	return recentsFrame{Type: FrameRecents, Timestamp: nowMillis(), Tracks: tracks}
}

type usersFrame struct {
	Type      FrameType     `json:"type"`
	Timestamp int64         `json:"timestamp"`
	Users     []*OnlineUser `json:"users"`
}

func newUsersFrame(users []*OnlineUser) usersFrame {
	if users == nil {
		users = []*OnlineUser{}
	}
	return usersFrame{Type: FrameUsers, Timestamp: nowMillis(), Users: users}
}

type errorFrame struct {
	Type      FrameType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

func newErrorFrame(kind FrameType, message string) errorFrame {
	return errorFrame{Type: kind, Timestamp: nowMillis(), Message: message}
}
