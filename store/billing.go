package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arinova/hubd/domain"
)

func (s *Store) GetListing(ctx context.Context, listingID string) (*domain.AgentListing, error) {
	query := `
		SELECT id, creator_user_id, agent_id, price_per_message, free_trial_messages, total_messages, total_revenue, created_at
		FROM agent_listings WHERE id = $1`
	l := &domain.AgentListing{}
	err := s.conn(ctx).QueryRow(ctx, query, listingID).Scan(
		&l.ID, &l.CreatorUserID, &l.AgentID, &l.PricePerMessage, &l.FreeTrialMessages, &l.TotalMessages, &l.TotalRevenue, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrListingNotFound
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

// GetOrCreateMarketplaceConversation returns the buyer's message-count
// tracker for a listing, creating a zeroed row on first contact.
func (s *Store) GetOrCreateMarketplaceConversation(ctx context.Context, conversationID, userID, listingID string) (*domain.MarketplaceConversation, error) {
	query := `
		INSERT INTO marketplace_conversations (conversation_id, user_id, listing_id, message_count)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (conversation_id) DO UPDATE SET conversation_id = EXCLUDED.conversation_id
		RETURNING conversation_id, user_id, listing_id, message_count`
	mc := &domain.MarketplaceConversation{}
	err := s.conn(ctx).QueryRow(ctx, query, conversationID, userID, listingID).Scan(
		&mc.ConversationID, &mc.UserID, &mc.ListingID, &mc.MessageCount)
	if err != nil {
		return nil, fmt.Errorf("get or create marketplace conversation: %w", err)
	}
	return mc, nil
}

func (s *Store) GetCoinBalance(ctx context.Context, userID string) (int64, error) {
	query := `SELECT balance FROM coin_balances WHERE user_id = $1`
	var balance int64
	err := s.conn(ctx).QueryRow(ctx, query, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get coin balance: %w", err)
	}
	return balance, nil
}

// DeductBalance atomically decrements a payer's balance, returning
// domain.ErrInsufficientBalance if the conditional update affects no
// rows. Must be called inside a transaction started by DeductCoins.
func (s *Store) DeductBalance(ctx context.Context, userID string, price int64) error {
	query := `
		UPDATE coin_balances SET balance = balance - $2, updated_at = $3
		WHERE user_id = $1 AND balance >= $2`
	tag, err := s.conn(ctx).Exec(ctx, query, userID, price, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deduct balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

// CreditBalance upserts a creator's earning, initializing the balance
// row on first payout.
func (s *Store) CreditBalance(ctx context.Context, userID string, amount int64) error {
	query := `
		INSERT INTO coin_balances (user_id, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			balance = coin_balances.balance + EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at`
	_, err := s.conn(ctx).Exec(ctx, query, userID, amount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

func (s *Store) InsertCoinTransaction(ctx context.Context, txn *domain.CoinTransaction) error {
	query := `
		INSERT INTO coin_transactions (id, user_id, kind, amount, related_listing_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.conn(ctx).Exec(ctx, query, txn.ID, txn.UserID, txn.Kind, txn.Amount, txn.RelatedListingID, txn.Description, txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert coin transaction: %w", err)
	}
	return nil
}

// RecordMarketplaceMessage increments the listing's lifetime counters
// and the buyer's per-listing message count. Called once per metered
// message, after billing succeeds (or for free/free-trial messages,
// which still count toward the trial allotment).
func (s *Store) RecordMarketplaceMessage(ctx context.Context, listingID, conversationID string, revenue int64) error {
	if _, err := s.conn(ctx).Exec(ctx,
		`UPDATE agent_listings SET total_messages = total_messages + 1, total_revenue = total_revenue + $2 WHERE id = $1`,
		listingID, revenue); err != nil {
		return fmt.Errorf("record listing message: %w", err)
	}
	if _, err := s.conn(ctx).Exec(ctx,
		`UPDATE marketplace_conversations SET message_count = message_count + 1 WHERE conversation_id = $1`,
		conversationID); err != nil {
		return fmt.Errorf("record buyer message count: %w", err)
	}
	return nil
}
