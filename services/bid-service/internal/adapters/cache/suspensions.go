package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SuspensionKeyPrefix namespaces suspension keys in Redis.
const SuspensionKeyPrefix = "auction:suspension:"

// RedisSuspensions is a suspension registry shared by every bid-service
// node. A key exists while the ban is in force and expires with it.
type RedisSuspensions struct {
	client *redis.Client
}

func NewRedisSuspensions(client *redis.Client) *RedisSuspensions {
	return &RedisSuspensions{client: client}
}

func suspensionKey(userID uuid.UUID) string {
	return SuspensionKeyPrefix + userID.String()
}

// Suspend bans userID until the given time. A time in the past lifts the ban.
func (s *RedisSuspensions) Suspend(ctx context.Context, userID uuid.UUID, until time.Time) error {
	key := suspensionKey(userID)
	if !until.After(time.Now()) {
		return s.Reinstate(ctx, userID)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, until.UTC().Format(time.RFC3339), 0)
		pipe.ExpireAt(ctx, key, until)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store suspension: %w", err)
	}
	return nil
}

func (s *RedisSuspensions) Reinstate(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Del(ctx, suspensionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to remove suspension: %w", err)
	}
	return nil
}

func (s *RedisSuspensions) IsSuspended(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := s.client.Exists(ctx, suspensionKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check suspension: %w", err)
	}
	return n > 0, nil
}
