package server

import (
	"context"
	"log/slog"

	"github.com/arinova/hubd/domain"
	"github.com/arinova/hubd/protocol"
	"github.com/arinova/hubd/services"
)

// recoveryGapLimit caps how many missed messages are gap-filled per
// conversation on reconnect.
const recoveryGapLimit = 100

// SyncRecovery is the Sync/Recovery component: on reconnect it
// summarizes unread state per conversation, gap-fills missed messages
// (repairing or revealing any row still marked streaming), replays
// queued offline events, and re-emits catch-up frames for any stream
// still active.
type SyncRecovery struct {
	conversations *services.ConversationService
	messages      *services.MessageService
	cache         *StreamCache
	streams       *StreamRegistry
	pending       *PendingEventQueue
	conns         *ConnRegistry
	log           *slog.Logger
}

func NewSyncRecovery(
	conversations *services.ConversationService,
	messages *services.MessageService,
	cache *StreamCache,
	streams *StreamRegistry,
	pending *PendingEventQueue,
	conns *ConnRegistry,
	log *slog.Logger,
) *SyncRecovery {
	return &SyncRecovery{
		conversations: conversations,
		messages:      messages,
		cache:         cache,
		streams:       streams,
		pending:       pending,
		conns:         conns,
		log:           log,
	}
}

// Handle builds the sync_response for userID, then separately pushes
// queued offline events straight to the reconnecting connection and
// live-stream catch-up frames to every connection of userID.
func (sr *SyncRecovery) Handle(ctx context.Context, c *conn, userID string, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	convs, err := sr.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := &protocol.SyncResponse{}
	for _, cv := range convs {
		maxSeq, err := sr.messages.MaxSeq(ctx, cv.ID)
		if err != nil {
			sr.log.Warn("sync: max seq failed", "conversation_id", cv.ID, "err", err)
			continue
		}
		rp, err := sr.conversations.ReadPositionFull(ctx, cv.ID, userID)
		if err != nil {
			sr.log.Warn("sync: read position failed", "conversation_id", cv.ID, "err", err)
			continue
		}
		unread := maxSeq - rp.LastSeenSeq
		if unread < 0 {
			unread = 0
		}
		resp.Conversations = append(resp.Conversations, protocol.ConversationSummary{
			ConversationID: cv.ID,
			LastMessageSeq: maxSeq,
			UnreadCount:    unread,
		})

		lastSeenSeq, known := req.LastSeenSeq[cv.ID]
		if !known {
			continue
		}
		msgs, err := sr.messages.Since(ctx, cv.ID, lastSeenSeq, recoveryGapLimit)
		if err != nil {
			sr.log.Warn("sync: gap fill failed", "conversation_id", cv.ID, "err", err)
			continue
		}
		for _, m := range msgs {
			if m.Status == domain.MessageStatusStreaming {
				sr.repairOrReveal(ctx, cv.ID, m)
			}
			resp.MissedMessages = append(resp.MissedMessages, toMessageNew(m))
		}
	}

	sr.drainPending(ctx, c, userID)

	for _, cv := range convs {
		sr.emitActiveStreamCatchup(ctx, cv.ID, userID)
	}

	return resp, nil
}

// repairOrReveal handles a gap-filled row still marked streaming: if
// no in-memory stream owns it, the process that was running it is
// gone and the row is a crash artifact to repair in place; otherwise
// its content is swapped for the live StreamCache value so the client
// sees in-flight progress rather than a stale placeholder.
func (sr *SyncRecovery) repairOrReveal(ctx context.Context, conversationID string, m *domain.Message) {
	agentID := ""
	if m.SenderAgentID != nil {
		agentID = *m.SenderAgentID
	}
	key := streamKey(conversationID, agentID)
	if !sr.streams.HasActiveStream(key) {
		status := domain.MessageStatusCompleted
		content := m.Content
		if content == "" {
			status = domain.MessageStatusError
			content = "Stream interrupted by server restart"
		}
		if err := sr.messages.UpdateContent(ctx, m.ID, content, status); err != nil {
			sr.log.Warn("sync: repair streaming row failed", "message_id", m.ID, "err", err)
		}
		m.Content = content
		m.Status = status
		return
	}
	if cached, ok, err := sr.cache.Get(ctx, m.ID); err == nil && ok {
		m.Content = cached
	}
}

func (sr *SyncRecovery) drainPending(ctx context.Context, c *conn, userID string) {
	frames, err := sr.pending.Drain(ctx, userID)
	if err != nil {
		sr.log.Warn("sync: drain pending failed", "user_id", userID, "err", err)
		return
	}
	for _, f := range frames {
		c.send(f)
	}
	if len(frames) > 0 {
		if err := sr.pending.Clear(ctx, userID); err != nil {
			sr.log.Warn("sync: clear pending failed", "user_id", userID, "err", err)
		}
	}
}

// emitActiveStreamCatchup re-sends a stream_start plus a one-shot
// stream_chunk of the cached accumulated content for any agent still
// streaming into conversationID, so a reconnecting client's UI can
// pick the stream back up mid-flight.
func (sr *SyncRecovery) emitActiveStreamCatchup(ctx context.Context, conversationID, userID string) {
	agents, err := sr.conversations.AgentMembers(ctx, conversationID)
	if err != nil {
		return
	}
	for _, a := range agents {
		messageID, ok := sr.streams.ActiveMessageID(streamKey(conversationID, a.AgentID))
		if !ok {
			continue
		}
		var seq int64
		if m, err := sr.messages.Get(ctx, messageID); err == nil {
			seq = m.Seq
		}
		sr.conns.SendToUser(userID, protocol.NewEnvelope(protocol.TypeStreamStart, &protocol.StreamStart{
			MessageID: messageID, ConversationID: conversationID, Seq: seq, AgentID: a.AgentID,
		}))
		if content, ok, err := sr.cache.Get(ctx, messageID); err == nil && ok && content != "" {
			sr.conns.SendToUser(userID, protocol.NewEnvelope(protocol.TypeStreamChunk, &protocol.StreamChunk{
				MessageID: messageID, ConversationID: conversationID, Seq: seq, Delta: content,
			}))
		}
	}
}
