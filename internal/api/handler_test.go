package api

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"studio-commerce/config"
	"studio-commerce/internal/gateway"
	"studio-commerce/internal/service"
	"studio-commerce/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, *gateway.SimulatedGateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.NewStoreWithDB(sqlx.NewDb(db, "sqlmock"))
	gw := gateway.NewSimulatedGateway()

	creditSvc := service.NewCreditService(st)
	pricingSvc := service.NewPricingService(st)
	cartSvc := service.NewCartService(st, nil)
	billingSvc := service.NewBillingService(st, gw, nil, 3)
	fulfillmentSvc := service.NewFulfillmentService(st, gw, creditSvc, nil, nil)
	checkoutSvc := service.NewCheckoutService(st, gw, pricingSvc, creditSvc,
		fulfillmentSvc, billingSvc, cartSvc, config.StripeConfig{Currency: "usd"})

	router := gin.New()
	handler := NewHandler(st, gw, cartSvc, checkoutSvc, fulfillmentSvc, creditSvc, billingSvc)
	handler.SetupRoutes(router)
	return router, mock, gw
}

func TestCartRequiresUserHeader(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetCartEmpty(t *testing.T) {
	router, mock, _ := setupTestRouter(t)

	mock.ExpectQuery("SELECT \\* FROM cart_items").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "product_id", "quantity", "created_at", "updated_at",
		}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("X-User-ID", "7")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"subtotal":0`)
}

func TestWebhookBadSignature(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe",
		strings.NewReader(`{"type":"checkout.session.completed"}`))
	req.Header.Set("Stripe-Signature", "forged")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookUnhandledEventAcked(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe",
		strings.NewReader(`{"type":"customer.updated"}`))
	req.Header.Set("Stripe-Signature", "valid")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"handled":false`)
}

func TestWebhookSessionCompletedMissingOrder(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe",
		strings.NewReader(`{"type":"checkout.session.completed","session_id":"cs_1"}`))
	req.Header.Set("Stripe-Signature", "valid")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookIntentFailedNoMatch(t *testing.T) {
	router, mock, _ := setupTestRouter(t)

	mock.ExpectQuery("SELECT \\* FROM orders").
		WithArgs("pi_unknown", "PENDING").
		WillReturnError(sql.ErrNoRows)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe",
		strings.NewReader(`{"type":"payment_intent.payment_failed","payment_intent_id":"pi_unknown"}`))
	req.Header.Set("Stripe-Signature", "valid")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"handled":false`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookIntentFailedMarksOrder(t *testing.T) {
	router, mock, _ := setupTestRouter(t)

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM orders").
		WithArgs("pi_123", "PENDING").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "status", "subtotal", "discount_code_id",
			"discount_amount", "credit_applied", "total", "stripe_session_id",
			"stripe_payment_intent_id", "created_at", "updated_at",
		}).AddRow(42, 7, "PENDING", 10000, nil, 0, 0, 10000, nil, "pi_123", now, now))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("FAILED", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe",
		strings.NewReader(`{"type":"payment_intent.payment_failed","payment_intent_id":"pi_123"}`))
	req.Header.Set("Stripe-Signature", "valid")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"FAILED"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookIntentFailedReturnsFunds(t *testing.T) {
	router, mock, _ := setupTestRouter(t)

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM orders").
		WithArgs("pi_456", "PENDING").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "status", "subtotal", "discount_code_id",
			"discount_amount", "credit_applied", "total", "stripe_session_id",
			"stripe_payment_intent_id", "created_at", "updated_at",
		}).AddRow(42, 7, "PENDING", 10000, 5, 1000, 3000, 6000, nil, "pi_456", now, now))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("FAILED", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Applied credit goes back through the ledger and the claimed
	// discount use is released.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET credit_balance").
		WithArgs(int64(3000), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO credit_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, now))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE discount_codes SET times_used = GREATEST").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe",
		strings.NewReader(`{"type":"payment_intent.payment_failed","payment_intent_id":"pi_456"}`))
	req.Header.Set("Stripe-Signature", "valid")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"FAILED"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCartItemRejectsBadBody(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items",
		strings.NewReader(`{"quantity":`))
	req.Header.Set("X-User-ID", "7")
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
