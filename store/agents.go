package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arinova/hubd/domain"
)

// GetAgent resolves an agent_id to its directory row: name,
// owner, and system prompt.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	query := `SELECT id, name, owner_user_id, secret_token, system_prompt, created_at FROM agents WHERE id = $1`
	a := &domain.Agent{}
	err := s.conn(ctx).QueryRow(ctx, query, agentID).Scan(&a.ID, &a.Name, &a.OwnerUserID, &a.SecretToken, &a.SystemPrompt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAgentNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// GetAgentByToken resolves the bot_token an agent connection presents
// during the auth handshake to its agent_id.
func (s *Store) GetAgentByToken(ctx context.Context, secretToken string) (*domain.Agent, error) {
	query := `SELECT id, name, owner_user_id, secret_token, system_prompt, created_at FROM agents WHERE secret_token = $1`
	a := &domain.Agent{}
	err := s.conn(ctx).QueryRow(ctx, query, secretToken).Scan(&a.ID, &a.Name, &a.OwnerUserID, &a.SecretToken, &a.SystemPrompt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAgentNotFound
		}
		return nil, fmt.Errorf("get agent by token: %w", err)
	}
	return a, nil
}
