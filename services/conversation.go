// Package services sits between the server layer and the store,
// providing the business-logic operations the server components call.
package services

import (
	"context"
	"time"

	"github.com/arinova/hubd/domain"
	"github.com/arinova/hubd/internal/id"
	"github.com/arinova/hubd/store"
)

// ConversationService handles conversation creation, membership, read
// positions, and blocking checks.
type ConversationService struct {
	store *store.Store
}

func NewConversationService(s *store.Store) *ConversationService {
	return &ConversationService{store: s}
}

func (svc *ConversationService) Create(ctx context.Context, ownerUserID, title, kind string, mentionOnly bool) (*domain.Conversation, error) {
	conv := &domain.Conversation{
		ID:          id.NewConversation(),
		OwnerUserID: ownerUserID,
		Title:       title,
		Kind:        kind,
		Status:      domain.ConversationStatusActive,
		MentionOnly: mentionOnly,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := svc.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	if err := svc.store.AddUserMember(ctx, &domain.ConversationUserMember{
		ConversationID: conv.ID,
		UserID:         ownerUserID,
		Role:           domain.MemberRoleOwner,
		JoinedAt:       conv.CreatedAt,
	}); err != nil {
		return nil, err
	}
	return conv, nil
}

func (svc *ConversationService) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	return svc.store.GetConversation(ctx, id)
}

func (svc *ConversationService) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	return svc.store.ListConversationsForUser(ctx, userID)
}

func (svc *ConversationService) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	return svc.store.IsUserMember(ctx, conversationID, userID)
}

func (svc *ConversationService) AddAgentMember(ctx context.Context, conversationID, agentID, listenMode string, allowedUserIDs []string) error {
	return svc.store.AddAgentMember(ctx, &domain.ConversationMember{
		ConversationID: conversationID,
		AgentID:        agentID,
		ListenMode:     listenMode,
		AllowedUserIDs: allowedUserIDs,
		CreatedAt:      time.Now().UTC(),
	})
}

func (svc *ConversationService) AgentMembers(ctx context.Context, conversationID string) ([]*domain.ConversationMember, error) {
	return svc.store.ListAgentMembers(ctx, conversationID)
}

func (svc *ConversationService) MarkRead(ctx context.Context, conversationID, userID string, seq int64) error {
	return svc.store.MarkRead(ctx, conversationID, userID, seq)
}

func (svc *ConversationService) ReadPosition(ctx context.Context, conversationID, userID string) (int64, error) {
	return svc.store.GetReadPosition(ctx, conversationID, userID)
}

// ReadPositionFull returns the full read-position row, including the
// mute flag; SyncRecovery reads it for the last-seen seq.
func (svc *ConversationService) ReadPositionFull(ctx context.Context, conversationID, userID string) (*domain.ReadPosition, error) {
	return svc.store.GetReadPositionFull(ctx, conversationID, userID)
}

// SetMuted flips a user's notification-suppression flag for a
// conversation without touching their read position.
func (svc *ConversationService) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	return svc.store.SetMuted(ctx, conversationID, userID, muted)
}

// ListUserMembers returns the candidate broadcast set for a
// conversation, before the blocking filter narrows it.
func (svc *ConversationService) ListUserMembers(ctx context.Context, conversationID string) ([]string, error) {
	return svc.store.ListUserMembers(ctx, conversationID)
}

func (svc *ConversationService) IsBlocked(ctx context.Context, blockerUserID, blockedUserID string) (bool, error) {
	return svc.store.IsBlocked(ctx, blockerUserID, blockedUserID)
}
