package service

import (
	"context"
	"testing"
	"time"

	"studio-commerce/internal/broker"
	"studio-commerce/internal/gateway"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var installmentColumns = []string{
	"id", "plan_id", "installment_number", "amount", "due_date", "status",
	"paid_at", "retry_count", "stripe_payment_intent_id", "stripe_invoice_id",
	"created_at",
}

var paymentPlanColumns = []string{
	"id", "order_id", "template_id", "method", "total_amount",
	"number_of_installments", "frequency", "stripe_customer_id",
	"stripe_payment_method_id", "created_at",
}

func TestProcessInstallmentsAutoChargeSuccess(t *testing.T) {
	st, mock := newTestStore(t)
	gw := gateway.NewSimulatedGateway()
	svc := NewBillingService(st, gw, broker.NewEventPublisher(nil), 3)

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM installments").
		WillReturnRows(sqlmock.NewRows(installmentColumns).
			AddRow(10, 1, 2, 3333, now.Add(-time.Hour), "PENDING", nil, 0, nil, nil, now))
	mock.ExpectQuery("SELECT \\* FROM payment_plans").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(paymentPlanColumns).
			AddRow(1, 5, 2, "AUTO_CHARGE", 10000, 3, "MONTHLY", "cus_123", "pm_456", now))
	mock.ExpectExec("UPDATE installments").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.ProcessInstallments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessInstallmentsChargeDeclined(t *testing.T) {
	st, mock := newTestStore(t)
	gw := gateway.NewSimulatedGateway()
	gw.ChargeStatus = gateway.IntentStatusRequiresPaymentMethod
	svc := NewBillingService(st, gw, broker.NewEventPublisher(nil), 3)

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM installments").
		WillReturnRows(sqlmock.NewRows(installmentColumns).
			AddRow(10, 1, 2, 3333, now.Add(-time.Hour), "PENDING", nil, 0, nil, nil, now))
	mock.ExpectQuery("SELECT \\* FROM payment_plans").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(paymentPlanColumns).
			AddRow(1, 5, 2, "AUTO_CHARGE", 10000, 3, "MONTHLY", "cus_123", "pm_456", now))

	// Declined charge advances the retry machine
	mock.ExpectQuery("UPDATE installments").
		WillReturnRows(sqlmock.NewRows(installmentColumns).
			AddRow(10, 1, 2, 3333, now.Add(-time.Hour), "FAILED", nil, 1, nil, nil, now))

	result, err := svc.ProcessInstallments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessInstallmentsThirdFailureGoesOverdue(t *testing.T) {
	st, mock := newTestStore(t)
	gw := gateway.NewSimulatedGateway()
	gw.FailCalls = true
	svc := NewBillingService(st, gw, broker.NewEventPublisher(nil), 3)

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM installments").
		WillReturnRows(sqlmock.NewRows(installmentColumns).
			AddRow(10, 1, 2, 3333, now.Add(-72*time.Hour), "FAILED", nil, 2, nil, nil, now))
	mock.ExpectQuery("SELECT \\* FROM payment_plans").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(paymentPlanColumns).
			AddRow(1, 5, 2, "AUTO_CHARGE", 10000, 3, "MONTHLY", "cus_123", "pm_456", now))
	mock.ExpectQuery("UPDATE installments").
		WillReturnRows(sqlmock.NewRows(installmentColumns).
			AddRow(10, 1, 2, 3333, now.Add(-72*time.Hour), "OVERDUE", nil, 3, nil, nil, now))

	// Overdue publishes an event, which loads the plan again
	mock.ExpectQuery("SELECT \\* FROM payment_plans").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(paymentPlanColumns).
			AddRow(1, 5, 2, "AUTO_CHARGE", 10000, 3, "MONTHLY", "cus_123", "pm_456", now))

	result, err := svc.ProcessInstallments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessInstallmentsManualInvoice(t *testing.T) {
	st, mock := newTestStore(t)
	gw := gateway.NewSimulatedGateway()
	svc := NewBillingService(st, gw, broker.NewEventPublisher(nil), 3)

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM installments").
		WillReturnRows(sqlmock.NewRows(installmentColumns).
			AddRow(11, 2, 3, 5000, now.Add(-time.Hour), "PENDING", nil, 0, nil, nil, now))
	mock.ExpectQuery("SELECT \\* FROM payment_plans").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(paymentPlanColumns).
			AddRow(2, 6, 2, "MANUAL_INVOICE", 15000, 3, "MONTHLY", "cus_789", nil, now))
	mock.ExpectExec("UPDATE installments SET stripe_invoice_id").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.ProcessInstallments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	require.Len(t, gw.Invoices, 1)
	assert.Equal(t, "cus_789", gw.Invoices[0].CustomerID)
	assert.Equal(t, int64(5000), gw.Invoices[0].Amount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
