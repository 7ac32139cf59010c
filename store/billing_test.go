package store

import (
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/arinova/hubd/domain"
)

func TestStore_DeductBalance_Insufficient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)
	// The conditional WHERE balance >= price matched nothing.
	mock.ExpectExec("UPDATE coin_balances").
		WithArgs("u1", int64(10), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = s.DeductBalance(setupMockContext(mock), "u1", 10)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_DeductBalance_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)
	mock.ExpectExec("UPDATE coin_balances").
		WithArgs("u1", int64(10), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := s.DeductBalance(setupMockContext(mock), "u1", 10); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStore_RecordMarketplaceMessage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)
	mock.ExpectExec("UPDATE agent_listings").
		WithArgs("lst_1", int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE marketplace_conversations").
		WithArgs("conv_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := s.RecordMarketplaceMessage(setupMockContext(mock), "lst_1", "conv_1", 10); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_GetListing_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	s := New(nil)
	mock.ExpectQuery("SELECT id, creator_user_id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = s.GetListing(setupMockContext(mock), "missing")
	if !errors.Is(err, domain.ErrListingNotFound) {
		t.Errorf("expected ErrListingNotFound, got %v", err)
	}
}
