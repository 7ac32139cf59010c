package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arinova/hubd/domain"
)

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (id, owner_user_id, title, kind, status, mention_only, tip_message_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.conn(ctx).Exec(ctx, query,
		conv.ID, conv.OwnerUserID, conv.Title, conv.Kind, conv.Status, conv.MentionOnly,
		conv.TipMessageID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `
		SELECT id, owner_user_id, title, kind, status, mention_only, tip_message_id, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND deleted_at IS NULL`

	conv := &domain.Conversation{}
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(
		&conv.ID, &conv.OwnerUserID, &conv.Title, &conv.Kind, &conv.Status, &conv.MentionOnly,
		&conv.TipMessageID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// UpdateConversationTip updates the tip message ID after a new message
// is appended.
func (s *Store) UpdateConversationTip(ctx context.Context, convID, messageID string) error {
	query := `UPDATE conversations SET tip_message_id = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`
	_, err := s.conn(ctx).Exec(ctx, query, convID, messageID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update conversation tip: %w", err)
	}
	return nil
}

// ListConversationsForUser returns every conversation a user owns or is
// a member of, most recently updated first; the union that Sync uses
// to enumerate what to summarize.
func (s *Store) ListConversationsForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	query := `
		SELECT DISTINCT c.id, c.owner_user_id, c.title, c.kind, c.status, c.mention_only, c.tip_message_id, c.created_at, c.updated_at
		FROM conversations c
		LEFT JOIN conversation_user_members m ON m.conversation_id = c.id
		WHERE (c.owner_user_id = $1 OR m.user_id = $1) AND c.deleted_at IS NULL
		ORDER BY c.updated_at DESC`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations for user: %w", err)
	}
	defer rows.Close()

	var convs []*domain.Conversation
	for rows.Next() {
		conv := &domain.Conversation{}
		if err := rows.Scan(
			&conv.ID, &conv.OwnerUserID, &conv.Title, &conv.Kind, &conv.Status, &conv.MentionOnly,
			&conv.TipMessageID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// AddUserMember inserts (or no-ops on conflict) a human membership row.
func (s *Store) AddUserMember(ctx context.Context, m *domain.ConversationUserMember) error {
	query := `
		INSERT INTO conversation_user_members (conversation_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, user_id) DO NOTHING`
	_, err := s.conn(ctx).Exec(ctx, query, m.ConversationID, m.UserID, m.Role, m.JoinedAt)
	if err != nil {
		return fmt.Errorf("add user member: %w", err)
	}
	return nil
}

// IsUserMember reports whether userID owns or belongs to conversationID.
func (s *Store) IsUserMember(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversations WHERE id = $1 AND owner_user_id = $2 AND deleted_at IS NULL
			UNION
			SELECT 1 FROM conversation_user_members WHERE conversation_id = $1 AND user_id = $2
		)`
	var ok bool
	if err := s.conn(ctx).QueryRow(ctx, query, conversationID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check user membership: %w", err)
	}
	return ok, nil
}

// AddAgentMember attaches an agent to a conversation with its listen
// mode and allowlist.
func (s *Store) AddAgentMember(ctx context.Context, m *domain.ConversationMember) error {
	query := `
		INSERT INTO conversation_members (conversation_id, agent_id, listen_mode, allowed_user_ids, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id, agent_id) DO UPDATE SET
			listen_mode = EXCLUDED.listen_mode,
			allowed_user_ids = EXCLUDED.allowed_user_ids`
	_, err := s.conn(ctx).Exec(ctx, query, m.ConversationID, m.AgentID, m.ListenMode, m.AllowedUserIDs, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("add agent member: %w", err)
	}
	return nil
}

// ListAgentMembers returns every agent membership for a conversation -
// the set FilterAgentsForDispatch consumes.
func (s *Store) ListAgentMembers(ctx context.Context, conversationID string) ([]*domain.ConversationMember, error) {
	query := `
		SELECT conversation_id, agent_id, listen_mode, allowed_user_ids, created_at
		FROM conversation_members
		WHERE conversation_id = $1`
	rows, err := s.conn(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list agent members: %w", err)
	}
	defer rows.Close()

	var members []*domain.ConversationMember
	for rows.Next() {
		m := &domain.ConversationMember{}
		if err := rows.Scan(&m.ConversationID, &m.AgentID, &m.ListenMode, &m.AllowedUserIDs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetReadPosition returns a user's last-seen seq for a conversation,
// or zero if they've never marked anything read.
func (s *Store) GetReadPosition(ctx context.Context, conversationID, userID string) (int64, error) {
	query := `SELECT last_seen_seq FROM read_positions WHERE conversation_id = $1 AND user_id = $2`
	var seq int64
	err := s.conn(ctx).QueryRow(ctx, query, conversationID, userID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get read position: %w", err)
	}
	return seq, nil
}

// GetReadPositionFull returns a user's full read-position row,
// including the mute flag that gates push-notification suppression,
// defaulting to an unread, unmuted position if none exists yet.
func (s *Store) GetReadPositionFull(ctx context.Context, conversationID, userID string) (*domain.ReadPosition, error) {
	query := `SELECT last_seen_seq, muted, updated_at FROM read_positions WHERE conversation_id = $1 AND user_id = $2`
	rp := &domain.ReadPosition{ConversationID: conversationID, UserID: userID}
	err := s.conn(ctx).QueryRow(ctx, query, conversationID, userID).Scan(&rp.LastSeenSeq, &rp.Muted, &rp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get read position: %w", err)
	}
	return rp, nil
}

// SetMuted upserts a conversation's mute flag for a user, without
// disturbing their read position.
func (s *Store) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	query := `
		INSERT INTO read_positions (conversation_id, user_id, last_seen_seq, muted, updated_at)
		VALUES ($1, $2, 0, $3, $4)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			muted = EXCLUDED.muted,
			updated_at = EXCLUDED.updated_at`
	_, err := s.conn(ctx).Exec(ctx, query, conversationID, userID, muted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set muted: %w", err)
	}
	return nil
}

// ListUserMembers returns every user_id with a stake in a conversation
// (owner plus every explicit member); the candidate broadcast set
// before the blocking filter is applied.
func (s *Store) ListUserMembers(ctx context.Context, conversationID string) ([]string, error) {
	query := `
		SELECT user_id FROM (
			SELECT owner_user_id AS user_id FROM conversations WHERE id = $1 AND deleted_at IS NULL
			UNION
			SELECT user_id FROM conversation_user_members WHERE conversation_id = $1
		) members`
	rows, err := s.conn(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list user members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRead upserts a read position, never letting it move backwards -
// a stale ack arriving after a newer one must not regress the marker.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID string, seq int64) error {
	query := `
		INSERT INTO read_positions (conversation_id, user_id, last_seen_seq, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			last_seen_seq = GREATEST(read_positions.last_seen_seq, EXCLUDED.last_seen_seq),
			updated_at = EXCLUDED.updated_at`
	_, err := s.conn(ctx).Exec(ctx, query, conversationID, userID, seq, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// IsBlocked reports whether blockerUserID has blocked blockedUserID.
func (s *Store) IsBlocked(ctx context.Context, blockerUserID, blockedUserID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM blockings WHERE blocker_user_id = $1 AND blocked_user_id = $2)`
	var ok bool
	if err := s.conn(ctx).QueryRow(ctx, query, blockerUserID, blockedUserID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check blocking: %w", err)
	}
	return ok, nil
}
