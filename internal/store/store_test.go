package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestIncrementDiscountUseGuard(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE discount_codes SET times_used").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := st.IncrementDiscountUse(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A concurrent checkout exhausted the code: zero rows affected
	mock.ExpectExec("UPDATE discount_codes SET times_used").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err = st.IncrementDiscountUse(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCartItemOwnership(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM cart_items").
		WithArgs(int64(5), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := st.DeleteCartItem(context.Background(), 5, 9)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkGiftCardRedeemedPredicate(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE gift_cards").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := st.BeginTxx(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	// Card was already redeemed: predicate matches nothing
	redeemed, err := st.MarkGiftCardRedeemedTx(context.Background(), tx, 1, 2)
	require.NoError(t, err)
	assert.False(t, redeemed)
}

func TestDueInstallmentsSelection(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM installments").
		WithArgs("PENDING", sqlmock.AnyArg(), "FAILED", 3).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "plan_id", "installment_number", "amount", "due_date",
			"status", "paid_at", "retry_count", "stripe_payment_intent_id",
			"stripe_invoice_id", "created_at",
		}).
			AddRow(1, 1, 2, 3333, now.Add(-time.Hour), "PENDING", nil, 0, nil, nil, now).
			AddRow(2, 1, 3, 3333, now.Add(-48*time.Hour), "FAILED", nil, 1, nil, nil, now))

	due, err := st.DueInstallments(context.Background(), now, 3)
	require.NoError(t, err)
	assert.Len(t, due, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreIntegration(t *testing.T) {
	t.Skip("Requires a live database")
}
