package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"studio-commerce/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewStoreWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

var discountCodeColumns = []string{
	"id", "code", "type", "value", "min_order_amount", "max_uses",
	"max_uses_per_user", "expires_at", "active", "times_used", "created_at",
}

func TestApplyDiscountCodeNotFound(t *testing.T) {
	st, mock := newTestStore(t)
	svc := NewPricingService(st)

	mock.ExpectQuery("SELECT \\* FROM discount_codes").
		WithArgs("NOPE").
		WillReturnError(sql.ErrNoRows)

	_, err := svc.ApplyDiscountCode(context.Background(), "NOPE", 1, 10000, []int64{1})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDiscountCodeInactive(t *testing.T) {
	st, mock := newTestStore(t)
	svc := NewPricingService(st)

	rows := sqlmock.NewRows(discountCodeColumns).
		AddRow(1, "OLD10", "PERCENTAGE", 10, nil, nil, nil, nil, false, 0, time.Now())
	mock.ExpectQuery("SELECT \\* FROM discount_codes").
		WithArgs("OLD10").
		WillReturnRows(rows)

	_, err := svc.ApplyDiscountCode(context.Background(), "OLD10", 1, 10000, []int64{1})
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "invalid or has expired")
}

func TestApplyDiscountCodeBelowMinimum(t *testing.T) {
	st, mock := newTestStore(t)
	svc := NewPricingService(st)

	rows := sqlmock.NewRows(discountCodeColumns).
		AddRow(1, "BIG20", "PERCENTAGE", 20, 5000, nil, nil, nil, true, 0, time.Now())
	mock.ExpectQuery("SELECT \\* FROM discount_codes").
		WithArgs("BIG20").
		WillReturnRows(rows)

	_, err := svc.ApplyDiscountCode(context.Background(), "BIG20", 1, 2500, []int64{1})
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "$50.00")
}

func TestApplyDiscountCodeProductScope(t *testing.T) {
	st, mock := newTestStore(t)
	svc := NewPricingService(st)

	rows := sqlmock.NewRows(discountCodeColumns).
		AddRow(1, "COURSE5", "FIXED_AMOUNT", 500, nil, nil, nil, nil, true, 0, time.Now())
	mock.ExpectQuery("SELECT \\* FROM discount_codes").
		WithArgs("COURSE5").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT product_id FROM discount_code_products").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"product_id"}).AddRow(42).AddRow(43))

	_, err := svc.ApplyDiscountCode(context.Background(), "COURSE5", 1, 10000, []int64{7, 8})
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "does not apply")
}

func TestApplyDiscountCodeAccepted(t *testing.T) {
	st, mock := newTestStore(t)
	svc := NewPricingService(st)

	rows := sqlmock.NewRows(discountCodeColumns).
		AddRow(1, "WELCOME10", "PERCENTAGE", 10, nil, nil, nil, nil, true, 3, time.Now())
	mock.ExpectQuery("SELECT \\* FROM discount_codes").
		WithArgs("WELCOME10").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT product_id FROM discount_code_products").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"product_id"}))

	dc, err := svc.ApplyDiscountCode(context.Background(), "WELCOME10", 1, 10000, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), dc.CalculateDiscount(10000))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIntersects(t *testing.T) {
	assert.True(t, intersects([]int64{1, 2, 3}, []int64{3, 4}))
	assert.False(t, intersects([]int64{1, 2}, []int64{3, 4}))
	assert.False(t, intersects(nil, []int64{1}))
	assert.False(t, intersects([]int64{1}, nil))
}
