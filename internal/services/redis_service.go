package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisService wraps the shared Redis client for rate limiting and
// presence bookkeeping queries.
type RedisService struct {
	client *redis.Client
}

func NewRedisService(client *redis.Client) *RedisService {
	return &RedisService{client: client}
}

// CheckRateLimit increments the counter for key and reports whether the
// caller is still under the limit for the current window.
func (s *RedisService) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr failed: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire failed: %w", err)
		}
	}
	return count <= int64(limit), nil
}

// OnlineUserIDs returns the set of users the presence publisher currently
// marks as online.
func (s *RedisService) OnlineUserIDs(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, "online_users").Result()
}
