package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"studio-commerce/config"
	"studio-commerce/internal/gateway"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderColumns = []string{
	"id", "user_id", "status", "subtotal", "discount_code_id",
	"discount_amount", "credit_applied", "total", "stripe_session_id",
	"stripe_payment_intent_id", "created_at", "updated_at",
}

var orderItemColumns = []string{
	"id", "order_id", "product_id", "quantity", "unit_price",
	"total_price", "fulfillment_status",
}

var productColumns = []string{
	"id", "name", "price", "active", "productable_type", "productable_id", "created_at",
}

var userColumns = []string{
	"id", "name", "email", "credit_balance", "stripe_customer_id", "created_at",
}

var planTemplateColumns = []string{
	"id", "name", "product_type", "min_price", "max_price",
	"number_of_installments", "frequency", "active", "created_at",
}

func newCheckoutHarness(t *testing.T) (*CheckoutService, sqlmock.Sqlmock, *gateway.SimulatedGateway) {
	t.Helper()
	st, mock := newTestStore(t)
	gw := gateway.NewSimulatedGateway()

	credit := NewCreditService(st)
	fulfillment := NewFulfillmentService(st, gw, credit, nil, nil)
	billing := NewBillingService(st, gw, nil, 3)
	checkout := NewCheckoutService(st, gw, NewPricingService(st), credit,
		fulfillment, billing, NewCartService(st, nil), config.StripeConfig{Currency: "usd"})
	return checkout, mock, gw
}

func TestClampCredit(t *testing.T) {
	tests := []struct {
		name      string
		requested int64
		remaining int64
		balance   int64
		want      int64
	}{
		{"zero requested applies full balance", 0, 10000, 3000, 3000},
		{"requested below balance and remaining", 2000, 10000, 3000, 2000},
		{"requested above balance", 5000, 10000, 3000, 3000},
		{"requested above remaining", 5000, 2500, 10000, 2500},
		{"balance covers whole order", 0, 2500, 10000, 2500},
		{"no balance", 0, 10000, 0, 0},
		{"negative requested treated as apply all", -1, 10000, 3000, 3000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampCredit(tt.requested, tt.remaining, tt.balance))
		})
	}
}

func TestConfirmRejectsForeignOrder(t *testing.T) {
	svc, mock, _ := newCheckoutHarness(t)

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM orders").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow(1, 9, "PENDING", 10000, nil, 0, 0, 10000, nil, "pi_1", now, now))

	_, err := svc.ConfirmCheckoutPayment(context.Background(), 7, 1)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmRejectsAmountMismatch(t *testing.T) {
	svc, mock, gw := newCheckoutHarness(t)

	// Intent was opened for less than the order total.
	pi, err := gw.CreatePaymentIntent(context.Background(), "cus_1", 5000,
		map[string]string{"order_id": "1"}, false)
	require.NoError(t, err)
	gw.MarkIntentSucceeded(pi.ID, "pm_1")

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM orders").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow(1, 7, "PENDING", 10000, nil, 0, 0, 10000, nil, pi.ID, now, now))

	_, err = svc.ConfirmCheckoutPayment(context.Background(), 7, 1)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "does not match")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmCreatesPlanFromIntentMetadata(t *testing.T) {
	svc, mock, gw := newCheckoutHarness(t)

	// The plan parameters live on the intent created at checkout time;
	// the confirm call carries only the order id.
	pi, err := gw.CreatePaymentIntent(context.Background(), "cus_1", 3334,
		map[string]string{"order_id": "1", "plan_template_id": "2", "plan_method": "AUTO_CHARGE"}, true)
	require.NoError(t, err)
	gw.MarkIntentSucceeded(pi.ID, "pm_9")

	now := time.Now()
	orderRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(orderColumns).
			AddRow(1, 7, "PENDING", 10000, nil, 0, 0, 10000, nil, pi.ID, now, now)
	}

	mock.ExpectQuery("SELECT \\* FROM orders").
		WithArgs(int64(1)).
		WillReturnRows(orderRow())
	mock.ExpectQuery("SELECT \\* FROM payment_plan_templates").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(planTemplateColumns).
			AddRow(2, "3 payments", nil, 0, 100000, 3, "MONTHLY", true, now))

	// Completion under the order row lock.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM orders").
		WithArgs(int64(1)).
		WillReturnRows(orderRow())
	mock.ExpectQuery("SELECT \\* FROM order_items").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(orderItemColumns).
			AddRow(11, 1, 3, 1, 10000, 10000, "PENDING"))
	mock.ExpectQuery("SELECT \\* FROM products").
		WillReturnRows(sqlmock.NewRows(productColumns).
			AddRow(3, "Recital package", 10000, true, nil, nil, now))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("COMPLETED", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM cart_items").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Plan rows written after the purchase stands.
	mock.ExpectQuery("INSERT INTO payment_plans").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(10, now))
	for n := 1; n <= 3; n++ {
		mock.ExpectQuery("INSERT INTO installments").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(n, now))
	}

	completed, err := svc.ConfirmCheckoutPayment(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.True(t, completed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePaymentIntentReleasesDiscountOnPersistFailure(t *testing.T) {
	svc, mock, _ := newCheckoutHarness(t)

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM cart_items").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "product_id", "quantity", "created_at", "updated_at",
		}).AddRow(1, 7, 3, 1, now, now))
	mock.ExpectQuery("SELECT \\* FROM products").
		WillReturnRows(sqlmock.NewRows(productColumns).
			AddRow(3, "Recital package", 10000, true, nil, nil, now))
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(1, now, now))
	mock.ExpectQuery("INSERT INTO order_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	mock.ExpectQuery("SELECT \\* FROM discount_codes").
		WithArgs("WELCOME10").
		WillReturnRows(sqlmock.NewRows(discountCodeColumns).
			AddRow(5, "WELCOME10", "PERCENTAGE", 10, nil, nil, nil, nil, true, 0, now))
	mock.ExpectQuery("SELECT product_id FROM discount_code_products").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"product_id"}))
	mock.ExpectExec("UPDATE discount_codes SET times_used = times_used \\+ 1").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET discount_code_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT \\* FROM users").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(7, "Dana", "dana@example.com", 0, nil, now))
	mock.ExpectExec("UPDATE users SET stripe_customer_id").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Persisting the intent id fails after the gateway call; the
	// claimed discount use must be released.
	mock.ExpectExec("UPDATE orders SET stripe_payment_intent_id").
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectExec("UPDATE discount_codes SET times_used = GREATEST").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := svc.CreateCheckoutPaymentIntent(context.Background(), 7,
		&CheckoutIntentRequest{DiscountCode: "WELCOME10"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
