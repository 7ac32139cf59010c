package server

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sendMessageLimit  = 10
	sendMessageWindow = time.Minute

	rateLimitKeyPrefix = "rate:send_message:"
)

// RateLimiter enforces the per-user send_message budget. Redis is the
// primary counter so the limit holds across hub restarts; when Redis is
// unreachable the limiter falls back to a process-local fixed window
// rather than letting an outage turn the limit off.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration

	mu    sync.Mutex
	local map[string]*localWindow
}

type localWindow struct {
	count    int64
	resetsAt time.Time
}

func NewRateLimiter(rdb *redis.Client, limit int64, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = sendMessageLimit
	}
	if window <= 0 {
		window = sendMessageWindow
	}
	return &RateLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		local:  make(map[string]*localWindow),
	}
}

// Allow records one send and reports whether it fit in the window.
func (l *RateLimiter) Allow(ctx context.Context, userID string) bool {
	if l.rdb != nil {
		key := rateLimitKeyPrefix + userID
		count, err := l.rdb.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				_ = l.rdb.Expire(ctx, key, l.window).Err()
			}
			return count <= l.limit
		}
	}
	return l.allowLocal(userID)
}

func (l *RateLimiter) allowLocal(userID string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.local[userID]
	if !ok || now.After(w.resetsAt) {
		l.local[userID] = &localWindow{count: 1, resetsAt: now.Add(l.window)}
		return true
	}
	w.count++
	return w.count <= l.limit
}
