package server

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arinova/hubd/domain"
	"github.com/arinova/hubd/store"
)

func newBillingMock(t *testing.T) (*BillingEngine, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewBillingEngine(store.New(nil), 7, 10), mock
}

func expectListing(mock pgxmock.PgxPoolIface, price int64, trial int) {
	mock.ExpectQuery("SELECT id, creator_user_id, agent_id, price_per_message").
		WithArgs("lst_1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "creator_user_id", "agent_id", "price_per_message",
			"free_trial_messages", "total_messages", "total_revenue", "created_at",
		}).AddRow("lst_1", "creator", "agt_1", price, trial, int64(0), int64(0), time.Now()))
}

func expectMessageCount(mock pgxmock.PgxPoolIface, count int) {
	mock.ExpectQuery("INSERT INTO marketplace_conversations").
		WithArgs("conv_1", "buyer", "lst_1").
		WillReturnRows(pgxmock.NewRows([]string{"conversation_id", "user_id", "listing_id", "message_count"}).
			AddRow("conv_1", "buyer", "lst_1", count))
}

func TestCheckBilling_FreeListing(t *testing.T) {
	engine, mock := newBillingMock(t)
	expectListing(mock, 0, 0)

	ctx := store.WithQuerier(t.Context(), mock)
	d, err := engine.CheckBilling(ctx, "conv_1", "buyer", "lst_1")
	require.NoError(t, err)
	assert.True(t, d.Free)
	assert.Equal(t, "free_listing", d.FreeReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckBilling_FreeTrial(t *testing.T) {
	engine, mock := newBillingMock(t)
	expectListing(mock, 10, 2)
	expectMessageCount(mock, 1) // second message, still inside the 2-message trial

	ctx := store.WithQuerier(t.Context(), mock)
	d, err := engine.CheckBilling(ctx, "conv_1", "buyer", "lst_1")
	require.NoError(t, err)
	assert.True(t, d.Free)
	assert.Equal(t, "free_trial", d.FreeReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckBilling_PayableAfterTrial(t *testing.T) {
	engine, mock := newBillingMock(t)
	expectListing(mock, 10, 2)
	expectMessageCount(mock, 2) // trial spent
	mock.ExpectQuery("SELECT balance FROM coin_balances").
		WithArgs("buyer").
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(25)))

	ctx := store.WithQuerier(t.Context(), mock)
	d, err := engine.CheckBilling(ctx, "conv_1", "buyer", "lst_1")
	require.NoError(t, err)
	assert.False(t, d.Free)
	assert.Equal(t, int64(10), d.Price)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The check rejects without moving any money: no UPDATE is expected.
func TestCheckBilling_InsufficientBalance(t *testing.T) {
	engine, mock := newBillingMock(t)
	expectListing(mock, 10, 2)
	expectMessageCount(mock, 5)
	mock.ExpectQuery("SELECT balance FROM coin_balances").
		WithArgs("buyer").
		WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(5)))

	ctx := store.WithQuerier(t.Context(), mock)
	_, err := engine.CheckBilling(ctx, "conv_1", "buyer", "lst_1")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A user with no balance row has balance zero, not an error.
func TestCheckBilling_NoBalanceRow(t *testing.T) {
	engine, mock := newBillingMock(t)
	expectListing(mock, 10, 0)
	expectMessageCount(mock, 0)
	mock.ExpectQuery("SELECT balance FROM coin_balances").
		WithArgs("buyer").
		WillReturnRows(pgxmock.NewRows([]string{"balance"}))

	ctx := store.WithQuerier(t.Context(), mock)
	_, err := engine.CheckBilling(ctx, "conv_1", "buyer", "lst_1")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Conservation: one successful deduction moves exactly -price from the
// buyer, +floor(price*7/10) to the creator, and writes one transaction
// row per leg.
func TestDeductCoins_Conservation(t *testing.T) {
	engine, mock := newBillingMock(t)

	mock.ExpectExec("UPDATE coin_balances").
		WithArgs("buyer", int64(10), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO coin_transactions").
		WithArgs(pgxmock.AnyArg(), "buyer", domain.CoinTxnPurchase, int64(-10), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO coin_balances").
		WithArgs("creator", int64(7), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO coin_transactions").
		WithArgs(pgxmock.AnyArg(), "creator", domain.CoinTxnEarning, int64(7), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := store.WithQuerier(t.Context(), mock)
	err := engine.DeductCoins(ctx, "buyer", "creator", "lst_1", 10)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The conditional decrement failing (balance raced below price) aborts
// the whole deduction; no creator leg runs.
func TestDeductCoins_InsufficientAborts(t *testing.T) {
	engine, mock := newBillingMock(t)

	mock.ExpectExec("UPDATE coin_balances").
		WithArgs("buyer", int64(10), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := store.WithQuerier(t.Context(), mock)
	err := engine.DeductCoins(ctx, "buyer", "creator", "lst_1", 10)
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeductCoins_RejectsNonPositivePrice(t *testing.T) {
	engine, _ := newBillingMock(t)
	err := engine.DeductCoins(t.Context(), "buyer", "creator", "lst_1", 0)
	assert.ErrorIs(t, err, domain.ErrPriceNotPositive)
}

func TestCreatorShare(t *testing.T) {
	assert.Equal(t, int64(7), domain.CreatorShare(10))
	assert.Equal(t, int64(6), domain.CreatorShare(9)) // floor, remainder kept by the platform
	assert.Equal(t, int64(0), domain.CreatorShare(1))
	assert.Equal(t, int64(70), domain.CreatorShare(100))
}
