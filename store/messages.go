package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arinova/hubd/domain"
)

// CreateMessage inserts a message with an auto-assigned, per-conversation
// monotonic seq. ON CONFLICT lets the caller pre-allocate an ID (e.g. for
// a streaming assistant reply whose row is created before its content is
// known) and later update it in place via UpdateMessage.
func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	if msg.Status == "" {
		msg.Status = domain.MessageStatusPending
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_user_id, sender_agent_id, seq, role, content, status, mentions, created_at)
		VALUES ($1, $2, $3, $4,
			COALESCE((SELECT MAX(seq) + 1 FROM messages WHERE conversation_id = $5), 1),
			$6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			status = EXCLUDED.status
		RETURNING seq`

	err := s.conn(ctx).QueryRow(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderUserID, msg.SenderAgentID, msg.ConversationID,
		msg.Role, msg.Content, msg.Status, msg.Mentions, msg.CreatedAt,
	).Scan(&msg.Seq)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_user_id, sender_agent_id, seq, role, content, status, mentions, trace_id, created_at
		FROM messages
		WHERE id = $1 AND deleted_at IS NULL`

	msg := &domain.Message{}
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderUserID, &msg.SenderAgentID, &msg.Seq,
		&msg.Role, &msg.Content, &msg.Status, &msg.Mentions, &msg.TraceID, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// UpdateMessage updates content and status, used by the stream
// orchestrator at finalization (in-flight chunks go to the stream
// cache, not through here).
func (s *Store) UpdateMessage(ctx context.Context, msg *domain.Message) error {
	query := `UPDATE messages SET content = $2, status = $3 WHERE id = $1 AND deleted_at IS NULL`
	_, err := s.conn(ctx).Exec(ctx, query, msg.ID, msg.Content, msg.Status)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (s *Store) UpdateMessageStatus(ctx context.Context, id, status string) error {
	query := `UPDATE messages SET status = $2 WHERE id = $1 AND deleted_at IS NULL`
	_, err := s.conn(ctx).Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}

// ListMessagesSince returns messages with seq strictly greater than
// afterSeq, ascending, capped at limit; the gap-fill query Sync uses
// for conversations the client already has partial history for.
func (s *Store) ListMessagesSince(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_user_id, sender_agent_id, seq, role, content, status, mentions, trace_id, created_at
		FROM messages
		WHERE conversation_id = $1 AND seq > $2 AND deleted_at IS NULL
		ORDER BY seq ASC
		LIMIT $3`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages since: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListRecentMessages returns the most recent `limit` messages in a
// conversation that are not still streaming, ascending by seq; used to
// build an agent task's history window.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_user_id, sender_agent_id, seq, role, content, status, mentions, trace_id, created_at
		FROM (
			SELECT id, conversation_id, sender_user_id, sender_agent_id, seq, role, content, status, mentions, trace_id, created_at
			FROM messages
			WHERE conversation_id = $1 AND deleted_at IS NULL AND status <> 'streaming'
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MaxSeq returns the highest seq in a conversation, or 0 if empty.
func (s *Store) MaxSeq(ctx context.Context, conversationID string) (int64, error) {
	query := `SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = $1 AND deleted_at IS NULL`
	var seq int64
	if err := s.conn(ctx).QueryRow(ctx, query, conversationID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

func scanMessages(rows pgx.Rows) ([]*domain.Message, error) {
	var msgs []*domain.Message
	for rows.Next() {
		msg := &domain.Message{}
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderUserID, &msg.SenderAgentID, &msg.Seq,
			&msg.Role, &msg.Content, &msg.Status, &msg.Mentions, &msg.TraceID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// RepairStreamingOnBoot discharges the single-active-stream invariant
// at cold start: every row still marked streaming from a previous
// process lifetime is a crash artifact, since no in-memory
// StreamRegistry survives a restart to claim it. Rows with content
// already accumulated are marked completed; empty ones get an error
// message. Returns the number of rows repaired.
func (s *Store) RepairStreamingOnBoot(ctx context.Context) (int64, error) {
	query := `
		UPDATE messages SET
			status = CASE WHEN content <> '' THEN 'completed' ELSE 'error' END,
			content = CASE WHEN content <> '' THEN content ELSE 'Stream interrupted by server restart' END
		WHERE status = 'streaming'`
	tag, err := s.conn(ctx).Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("repair streaming on boot: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) UpdateMessageTraceID(ctx context.Context, messageID, traceID string) error {
	query := `UPDATE messages SET trace_id = $2 WHERE id = $1 AND deleted_at IS NULL`
	_, err := s.conn(ctx).Exec(ctx, query, messageID, traceID)
	if err != nil {
		return fmt.Errorf("update message trace_id: %w", err)
	}
	return nil
}

// ListAttachmentsForMessage returns attachments for a message, used to
// populate an agent task's attachment refs from the most recent user
// message.
func (s *Store) ListAttachmentsForMessage(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	query := `SELECT id, message_id, file_name, file_type, file_size, storage_path FROM attachments WHERE message_id = $1`
	rows, err := s.conn(ctx).Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Attachment
	for rows.Next() {
		a := &domain.Attachment{}
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.FileType, &a.FileSize, &a.StoragePath); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
