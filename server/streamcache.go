package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// streamCacheTTL matches the window a client can be disconnected and
// still rejoin a stream already in progress via sync.
const streamCacheTTL = 600 * time.Second

// StreamCache mirrors a stream's accumulated text into Redis as it
// grows, so SyncRecovery can hand a reconnecting client the partial
// reply of a stream still running, without having to reach into the
// orchestrator's in-memory state.
type StreamCache struct {
	rdb *redis.Client
}

func NewStreamCache(rdb *redis.Client) *StreamCache {
	return &StreamCache{rdb: rdb}
}

func streamCacheKey(messageID string) string {
	return fmt.Sprintf("stream:%s", messageID)
}

func (c *StreamCache) Set(ctx context.Context, messageID, accumulated string) error {
	return c.rdb.Set(ctx, streamCacheKey(messageID), accumulated, streamCacheTTL).Err()
}

func (c *StreamCache) Get(ctx context.Context, messageID string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, streamCacheKey(messageID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *StreamCache) Clear(ctx context.Context, messageID string) error {
	return c.rdb.Del(ctx, streamCacheKey(messageID)).Err()
}
