package server

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/arinova/hubd/protocol"
	"github.com/arinova/hubd/services"
)

// memberCacheTTL bounds how stale a conversation's member list can be
// before Broadcaster re-reads it from the store.
const memberCacheTTL = 60 * time.Second

type memberCacheEntry struct {
	userIDs   []string
	expiresAt time.Time
}

// MemberCache holds each conversation's candidate broadcast set
// (owner plus members) for memberCacheTTL, so a hot conversation
// doesn't re-query membership on every chunk.
type MemberCache struct {
	conversations *services.ConversationService

	mu      sync.Mutex
	entries map[string]memberCacheEntry
}

func NewMemberCache(conversations *services.ConversationService) *MemberCache {
	return &MemberCache{
		conversations: conversations,
		entries:       make(map[string]memberCacheEntry),
	}
}

func (c *MemberCache) Get(ctx context.Context, conversationID string) ([]string, error) {
	c.mu.Lock()
	entry, ok := c.entries[conversationID]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.userIDs, nil
	}

	userIDs, err := c.conversations.ListUserMembers(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[conversationID] = memberCacheEntry{userIDs: userIDs, expiresAt: time.Now().Add(memberCacheTTL)}
	c.mu.Unlock()
	return userIDs, nil
}

// Invalidate drops a conversation's cached member list, for callers
// that just added or removed a member and can't wait out the TTL.
func (c *MemberCache) Invalidate(conversationID string) {
	c.mu.Lock()
	delete(c.entries, conversationID)
	c.mu.Unlock()
}

// Broadcaster is the blocking-aware, offline-queueing fan-out that
// sits in front of ConnRegistry.BroadcastToConversation: it resolves a
// conversation's member set, drops recipients blocked relative to the
// sender, and falls back to the PendingEventQueue for anyone with no
// live connection to deliver to.
type Broadcaster struct {
	members       *MemberCache
	conversations *services.ConversationService
	conns         *ConnRegistry
	pending       *PendingEventQueue
}

func NewBroadcaster(members *MemberCache, conversations *services.ConversationService, conns *ConnRegistry, pending *PendingEventQueue) *Broadcaster {
	return &Broadcaster{
		members:       members,
		conversations: conversations,
		conns:         conns,
		pending:       pending,
	}
}

// Send delivers env to every member of conversationID except whoever
// has a blocking relationship with senderUserID in either direction.
// A member with no live connection gets the frame queued for replay on
// their next sync. senderUserID may be empty (e.g. an agent-originated
// event), in which case no one is filtered out on blocking grounds.
func (b *Broadcaster) Send(ctx context.Context, conversationID, senderUserID string, env *protocol.Envelope) {
	// Piggyback the current trace context so a client-visible frame can
	// be correlated back to the server span that produced it.
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		env.TraceID = sc.TraceID().String()
		env.SpanID = sc.SpanID().String()
		env.TraceFlags = byte(sc.TraceFlags())
	}

	userIDs, err := b.members.Get(ctx, conversationID)
	if err != nil {
		// Fall back to whoever's already subscribed rather than dropping
		// the event outright.
		b.conns.BroadcastToConversation(conversationID, env)
		return
	}

	for _, userID := range userIDs {
		if senderUserID != "" && userID != senderUserID {
			blocked, err := b.blockingEitherWay(ctx, senderUserID, userID)
			if err == nil && blocked {
				continue
			}
		}
		if b.conns.SendToUser(userID, env) {
			continue
		}
		_ = b.pending.Push(ctx, userID, env)
	}
}

func (b *Broadcaster) blockingEitherWay(ctx context.Context, a, b2 string) (bool, error) {
	blockedByA, err := b.conversations.IsBlocked(ctx, a, b2)
	if err != nil {
		return false, err
	}
	if blockedByA {
		return true, nil
	}
	return b.conversations.IsBlocked(ctx, b2, a)
}
