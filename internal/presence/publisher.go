// Package presence publishes "now playing" payloads for the out-of-process
// presence bot to consume.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const onlineUsersKey = "online_users"

// Payload is the externally visible "now playing" state for one user.
type Payload struct {
	Details string `json:"details"`
	State   string `json:"state,omitempty"`
	Icon    string `json:"icon,omitempty"`
	// Elapsed-time window, epoch milliseconds.
	Start int64  `json:"start,omitempty"`
	End   int64  `json:"end,omitempty"`
	Links []Link `json:"links,omitempty"`
}

// Link is an action link attached to a rich presence payload.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Publisher pushes or clears the presence payload for a user id. A nil
// payload clears any previously published state.
type Publisher interface {
	Publish(ctx context.Context, userID string, payload *Payload) error
}

type envelope struct {
	UserID    string   `json:"userId"`
	Payload   *Payload `json:"payload"`
	Timestamp int64    `json:"timestamp"`
}

// RedisPublisher publishes presence envelopes on a per-user Redis channel and
// mirrors the set of users with active presence in the online_users set so
// other services can inspect it.
type RedisPublisher struct {
	client        *redis.Client
	channelPrefix string
}

func NewRedisPublisher(client *redis.Client, channelPrefix string) *RedisPublisher {
	if channelPrefix == "" {
		channelPrefix = "presence"
	}
	return &RedisPublisher{client: client, channelPrefix: channelPrefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID string, payload *Payload) error {
	data, err := json.Marshal(envelope{
		UserID:    userID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal presence envelope: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, fmt.Sprintf("%s:%s", p.channelPrefix, userID), data)
	if payload == nil {
		pipe.SRem(ctx, onlineUsersKey, userID)
	} else {
		pipe.SAdd(ctx, onlineUsersKey, userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to publish presence", "userID", userID, "error", err)
		return err
	}

	slog.Debug("Published presence", "userID", userID, "cleared", payload == nil)
	return nil
}

// NopPublisher discards all payloads. Used when no presence transport is
// configured and in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, *Payload) error { return nil }
