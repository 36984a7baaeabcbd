package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUserNotFound is returned by directory lookups when no record matches
// the given id or token.
var ErrUserNotFound = errors.New("user not found")

// BroadcastVisibility controls who may see a user in the online directory
// and listen along to their playback.
type BroadcastVisibility string

const (
	VisibilityNobody   BroadcastVisibility = "nobody"
	VisibilityFriends  BroadcastVisibility = "friends"
	VisibilityEveryone BroadcastVisibility = "everyone"
)

// PresenceMode selects how much of the playback state is published to the
// external presence service.
type PresenceMode string

const (
	PresenceModeNone   PresenceMode = "none"
	PresenceModeSimple PresenceMode = "simple"
	PresenceModeFull   PresenceMode = "full"
)

/** --------------------ENTITIES-------------------- */

// User represents the persisted user record.
type User struct {
	ID            string `gorm:"primaryKey" json:"id"`
	Username      string `gorm:"not null" json:"username"`
	Discriminator string `json:"discriminator"`
	// Avatar is optional and stores a profile picture URL.
	Avatar string `json:"avatar,omitempty"`
	// Token is the opaque credential presented during the gateway handshake.
	// It is never returned in API responses.
	Token string `gorm:"uniqueIndex;not null" json:"-"`
	// Status is the free-form social status shown in the online directory.
	Status string `json:"status,omitempty"`

	Visibility BroadcastVisibility `gorm:"default:everyone" json:"visibility"`
	Presence   PresenceMode        `gorm:"default:none" json:"presence"`

	RecentTracks TrackList `gorm:"type:jsonb" json:"recentTracks"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TrackList stores a user's recently-played tracks as a JSON column.
type TrackList []Track

func (l TrackList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *TrackList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for TrackList: %T", value)
	}
	return json.Unmarshal(data, l)
}

/** -------------------- DTOs -------------------- */

// UserResponse is the profile shape returned by the REST API.
type UserResponse struct {
	ID            string              `json:"id"`
	Username      string              `json:"username"`
	Discriminator string              `json:"discriminator"`
	Avatar        string              `json:"avatar,omitempty"`
	Status        string              `json:"status,omitempty"`
	Visibility    BroadcastVisibility `json:"visibility"`
	Presence      PresenceMode        `json:"presence"`
	RecentTracks  TrackList           `json:"recentTracks"`
	CreatedAt     time.Time           `json:"created_at"`
}

// ToResponse strips credentials from the record.
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:            u.ID,
		Username:      u.Username,
		Discriminator: u.Discriminator,
		Avatar:        u.Avatar,
		Status:        u.Status,
		Visibility:    u.Visibility,
		Presence:      u.Presence,
		RecentTracks:  u.RecentTracks,
		CreatedAt:     u.CreatedAt,
	}
}

// UpdateSettingsRequest updates the social settings of a user.
type UpdateSettingsRequest struct {
	Visibility *BroadcastVisibility `json:"visibility,omitempty"`
	Presence   *PresenceMode        `json:"presence,omitempty"`
	Status     *string              `json:"status,omitempty"`
}
