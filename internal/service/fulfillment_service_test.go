package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"studio-commerce/internal/gateway"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFulfillmentHarness(t *testing.T) (*FulfillmentService, sqlmock.Sqlmock, *gateway.SimulatedGateway) {
	t.Helper()
	st, mock := newTestStore(t)
	gw := gateway.NewSimulatedGateway()
	svc := NewFulfillmentService(st, gw, NewCreditService(st), nil, nil)
	return svc, mock, gw
}

func TestCompleteOrderAlreadyProcessed(t *testing.T) {
	svc, mock, _ := newFulfillmentHarness(t)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM orders").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow(1, 7, "COMPLETED", 10000, nil, 0, 0, 10000, nil, "pi_1", now, now))
	mock.ExpectRollback()

	// A duplicate webhook or double confirmation must be a no-op, not
	// a second fulfillment.
	completed, err := svc.CompleteOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, completed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteOrderOversellRejectsWholeOrder(t *testing.T) {
	svc, mock, gw := newFulfillmentHarness(t)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM orders").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow(1, 7, "PENDING", 10000, 5, 1000, 2000, 7000, nil, "pi_1", now, now))
	mock.ExpectQuery("SELECT \\* FROM order_items").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(orderItemColumns).
			AddRow(11, 1, 3, 2, 5000, 10000, "PENDING"))
	mock.ExpectQuery("SELECT \\* FROM products").
		WillReturnRows(sqlmock.NewRows(productColumns).
			AddRow(3, "Ballet I", 5000, true, "course", 9, now))

	// Two seats requested, one left.
	mock.ExpectQuery("SELECT capacity FROM courses").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"capacity"}).AddRow(10))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(9))
	mock.ExpectRollback()

	// Rejection fails the order and gives everything back: applied
	// credit through the ledger, the claimed discount use, and the
	// collected payment through the gateway.
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("FAILED", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET credit_balance").
		WithArgs(int64(2000), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO credit_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, now))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE discount_codes SET times_used = GREATEST").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	completed, err := svc.CompleteOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, completed)
	require.Len(t, gw.Refunds, 1)
	assert.Equal(t, "pi_1", gw.Refunds[0].PaymentIntentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateGiftCardCode(t *testing.T) {
	code, err := GenerateGiftCardCode()
	require.NoError(t, err)

	assert.Len(t, code, 16)
	for _, ch := range code {
		assert.True(t, strings.ContainsRune(giftCardCodeCharset, ch),
			"unexpected character %q in gift card code", ch)
	}
}

func TestGenerateGiftCardCodeVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		code, err := GenerateGiftCardCode()
		require.NoError(t, err)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}
