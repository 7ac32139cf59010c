package server

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arinova/hubd/metrics"
	"github.com/arinova/hubd/protocol"
)

const (
	pendingEventsKeyPrefix = "pending_ws_events:"
	pendingEventsMax       = 1000
	pendingEventsTTL       = 24 * time.Hour
)

func pendingEventsKey(userID string) string {
	return pendingEventsKeyPrefix + userID
}

// PendingEventQueue holds WS frames a user missed while disconnected,
// in a Redis sorted set scored by arrival time, so SyncRecovery can
// replay them in order on reconnect. Used as the fallback when
// ConnRegistry.SendToUser finds no live connection.
type PendingEventQueue struct {
	rdb *redis.Client
}

func NewPendingEventQueue(rdb *redis.Client) *PendingEventQueue {
	return &PendingEventQueue{rdb: rdb}
}

// Push appends env to userID's queue, trims it to the most recent
// pendingEventsMax entries, and refreshes the TTL.
func (q *PendingEventQueue) Push(ctx context.Context, userID string, env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	key := pendingEventsKey(userID)
	score := float64(time.Now().UnixMilli())

	if err := q.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: data}).Err(); err != nil {
		return err
	}
	metrics.PendingEventsQueued.Inc()

	count, err := q.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if count > pendingEventsMax {
		if err := q.rdb.ZRemRangeByRank(ctx, key, 0, count-pendingEventsMax-1).Err(); err != nil {
			return err
		}
	}

	return q.rdb.Expire(ctx, key, pendingEventsTTL).Err()
}

// Drain returns every pending frame for userID, oldest first, as raw
// encoded bytes ready to write to a freshly reconnected socket.
func (q *PendingEventQueue) Drain(ctx context.Context, userID string) ([][]byte, error) {
	items, err := q.rdb.ZRange(ctx, pendingEventsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(items))
	for _, item := range items {
		out = append(out, []byte(item))
	}
	return out, nil
}

// Clear drops a user's entire pending queue, once its contents have
// been delivered.
func (q *PendingEventQueue) Clear(ctx context.Context, userID string) error {
	return q.rdb.Del(ctx, pendingEventsKey(userID)).Err()
}
