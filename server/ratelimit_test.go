package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// With no Redis client the limiter runs on its in-process fallback
// window; the budget semantics must match either way.
func TestRateLimiter_LocalFallback(t *testing.T) {
	l := NewRateLimiter(nil, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(ctx, "u1"), "send %d should fit the window", i+1)
	}
	assert.False(t, l.Allow(ctx, "u1"))

	// Another user has their own budget.
	assert.True(t, l.Allow(ctx, "u2"))
}

func TestRateLimiter_WindowResets(t *testing.T) {
	l := NewRateLimiter(nil, 1, 20*time.Millisecond)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "u1"))
	assert.False(t, l.Allow(ctx, "u1"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, l.Allow(ctx, "u1"))
}

func TestRateLimiter_Defaults(t *testing.T) {
	l := NewRateLimiter(nil, 0, 0)
	assert.Equal(t, int64(sendMessageLimit), l.limit)
	assert.Equal(t, sendMessageWindow, l.window)
}
