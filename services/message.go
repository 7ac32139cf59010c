package services

import (
	"context"
	"time"

	"github.com/arinova/hubd/domain"
	"github.com/arinova/hubd/internal/id"
	"github.com/arinova/hubd/store"
)

// MessageService handles message persistence for both user-authored
// and agent-authored messages.
type MessageService struct {
	store *store.Store
}

func NewMessageService(s *store.Store) *MessageService {
	return &MessageService{store: s}
}

// CreateUserMessage persists a human-authored message and advances the
// conversation tip.
func (svc *MessageService) CreateUserMessage(ctx context.Context, conversationID, userID, content string, mentions []string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:             id.NewMessage(),
		ConversationID: conversationID,
		SenderUserID:   &userID,
		Role:           domain.RoleUser,
		Content:        content,
		Mentions:       mentions,
		Status:         domain.MessageStatusCompleted,
		CreatedAt:      time.Now().UTC(),
	}
	if err := svc.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := svc.store.UpdateConversationTip(ctx, conversationID, msg.ID); err != nil {
		return nil, err
	}
	return msg, nil
}

// AllocateAgentMessage creates the placeholder row for a streaming
// agent reply; status streaming, empty content; which the stream
// orchestrator fills in when the stream finalizes.
func (svc *MessageService) AllocateAgentMessage(ctx context.Context, conversationID, agentID string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:             id.NewMessage(),
		ConversationID: conversationID,
		SenderAgentID:  &agentID,
		Role:           domain.RoleAgent,
		Status:         domain.MessageStatusStreaming,
		CreatedAt:      time.Now().UTC(),
	}
	if err := svc.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (svc *MessageService) UpdateContent(ctx context.Context, messageID, content, status string) error {
	return svc.store.UpdateMessage(ctx, &domain.Message{ID: messageID, Content: content, Status: status})
}

func (svc *MessageService) SetStatus(ctx context.Context, messageID, status string) error {
	return svc.store.UpdateMessageStatus(ctx, messageID, status)
}

func (svc *MessageService) FinalizeTip(ctx context.Context, conversationID, messageID string) error {
	return svc.store.UpdateConversationTip(ctx, conversationID, messageID)
}

func (svc *MessageService) RecentHistory(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	return svc.store.ListRecentMessages(ctx, conversationID, limit)
}

func (svc *MessageService) Since(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*domain.Message, error) {
	return svc.store.ListMessagesSince(ctx, conversationID, afterSeq, limit)
}

func (svc *MessageService) MaxSeq(ctx context.Context, conversationID string) (int64, error) {
	return svc.store.MaxSeq(ctx, conversationID)
}

func (svc *MessageService) Get(ctx context.Context, messageID string) (*domain.Message, error) {
	return svc.store.GetMessage(ctx, messageID)
}

func (svc *MessageService) AttachmentsFor(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	return svc.store.ListAttachmentsForMessage(ctx, messageID)
}

// RepairStreamingOnBoot marks every streaming row as a crash artifact;
// called once at process start, before any connection is accepted.
func (svc *MessageService) RepairStreamingOnBoot(ctx context.Context) (int64, error) {
	return svc.store.RepairStreamingOnBoot(ctx)
}
