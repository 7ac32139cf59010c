package server

import (
	"context"
	"fmt"
	"time"

	"github.com/arinova/hubd/domain"
	"github.com/arinova/hubd/internal/id"
	"github.com/arinova/hubd/store"
)

// BillingEngine implements the metered marketplace charge: a free
// listing or a buyer still inside their free trial costs nothing; past
// that, a message costs exactly the listing's price_per_message, taken
// from the buyer's coin balance and split 70/30 to the creator.
type BillingEngine struct {
	store *store.Store
	// creatorShareNum/Den make the 70% split configurable without
	// touching the deduction transaction.
	creatorShareNum, creatorShareDen int64
}

func NewBillingEngine(s *store.Store, creatorShareNum, creatorShareDen int64) *BillingEngine {
	if creatorShareDen == 0 {
		creatorShareNum, creatorShareDen = 7, 10
	}
	return &BillingEngine{store: s, creatorShareNum: creatorShareNum, creatorShareDen: creatorShareDen}
}

// BillingDecision is the outcome of CheckBilling: whether the message
// is free (and why), and the price to charge otherwise.
type BillingDecision struct {
	Free        bool
	FreeReason  string // "free_listing", "free_trial"
	Price       int64
	ListingID   string
}

// CheckBilling decides whether a buyer's next message in a marketplace
// conversation is free, and if not, whether they can afford it -
// without moving any money. Call DeductCoins only after the message
// has actually been produced, inside the same logical operation.
func (b *BillingEngine) CheckBilling(ctx context.Context, conversationID, userID, listingID string) (*BillingDecision, error) {
	ctx, span := tracer.Start(ctx, "billing.check")
	defer span.End()

	listing, err := b.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.PricePerMessage <= 0 {
		return &BillingDecision{Free: true, FreeReason: "free_listing", ListingID: listingID}, nil
	}

	mc, err := b.store.GetOrCreateMarketplaceConversation(ctx, conversationID, userID, listingID)
	if err != nil {
		return nil, err
	}
	if mc.MessageCount < listing.FreeTrialMessages {
		return &BillingDecision{Free: true, FreeReason: "free_trial", ListingID: listingID}, nil
	}

	balance, err := b.store.GetCoinBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance < listing.PricePerMessage {
		return nil, domain.ErrInsufficientBalance
	}

	return &BillingDecision{Free: false, Price: listing.PricePerMessage, ListingID: listingID}, nil
}

// DeductCoins atomically moves `price` coins from the buyer to the
// creator's balance, recording both legs as coin transactions, in a
// single database transaction. The conditional balance decrement
// (`WHERE balance >= price`) is what makes two concurrent deductions
// against the same balance impossible to both succeed past a balance
// that only covers one of them.
func (b *BillingEngine) DeductCoins(ctx context.Context, userID, creatorUserID, listingID string, price int64) error {
	if price <= 0 {
		return domain.ErrPriceNotPositive
	}

	ctx, span := tracer.Start(ctx, "billing.deduct")
	defer span.End()

	err := b.store.WithTx(ctx, func(ctx context.Context) error {
		if err := b.store.DeductBalance(ctx, userID, price); err != nil {
			return err
		}
		if err := b.store.InsertCoinTransaction(ctx, &domain.CoinTransaction{
			ID:               id.NewTransaction(),
			UserID:           userID,
			Kind:             domain.CoinTxnPurchase,
			Amount:           -price,
			RelatedListingID: &listingID,
			Description:      "marketplace message charge",
			CreatedAt:        time.Now().UTC(),
		}); err != nil {
			return err
		}

		creatorShare := price * b.creatorShareNum / b.creatorShareDen
		if err := b.store.CreditBalance(ctx, creatorUserID, creatorShare); err != nil {
			return err
		}
		return b.store.InsertCoinTransaction(ctx, &domain.CoinTransaction{
			ID:               id.NewTransaction(),
			UserID:           creatorUserID,
			Kind:             domain.CoinTxnEarning,
			Amount:           creatorShare,
			RelatedListingID: &listingID,
			Description:      "marketplace creator earning",
			CreatedAt:        time.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
	}
	return nil
}

// RecordMessage increments the listing's lifetime counters and the
// buyer's per-listing message count. Called for every metered message,
// free or paid; a free-trial message still consumes one of the
// trial's allotted messages.
func (b *BillingEngine) RecordMessage(ctx context.Context, listingID, conversationID string, revenue int64) error {
	return b.store.RecordMarketplaceMessage(ctx, listingID, conversationID, revenue)
}
