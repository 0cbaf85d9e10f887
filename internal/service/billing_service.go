package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studio-commerce/internal/broker"
	"studio-commerce/internal/gateway"
	"studio-commerce/internal/models"
	"studio-commerce/internal/store"
	"studio-commerce/internal/util"

	"go.uber.org/zap"
)

// BillingService creates payment plans and runs the daily installment
// sweep.
type BillingService struct {
	store      *store.Store
	gateway    gateway.PaymentGateway
	publisher  *broker.EventPublisher
	maxRetries int
	logger     *zap.Logger
}

// NewBillingService creates a new billing service
func NewBillingService(store *store.Store, gw gateway.PaymentGateway, publisher *broker.EventPublisher, maxRetries int) *BillingService {
	return &BillingService{
		store:      store,
		gateway:    gw,
		publisher:  publisher,
		maxRetries: maxRetries,
		logger:     util.GetLogger(),
	}
}

// SweepResult summarizes one installment sweep
type SweepResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// CreatePaymentPlan materializes a plan for a confirmed order. The
// first installment was already collected as the checkout charge, so
// it is created Paid; the rest are Pending on the template's cadence.
func (s *BillingService) CreatePaymentPlan(ctx context.Context, order *models.Order, template *models.PaymentPlanTemplate, method, stripeCustomerID, stripePaymentMethodID string) (*models.PaymentPlan, error) {
	if method != models.PlanMethodAutoCharge && method != models.PlanMethodManualInvoice {
		return nil, Invalidf("Unknown payment plan method")
	}
	if method == models.PlanMethodAutoCharge && stripePaymentMethodID == "" {
		return nil, Invalidf("Automatic charging requires a saved payment method")
	}

	plan := &models.PaymentPlan{
		OrderID:              order.ID,
		TemplateID:           template.ID,
		Method:               method,
		TotalAmount:          order.Total,
		NumberOfInstallments: template.NumberOfInstallments,
		Frequency:            template.Frequency,
	}
	if stripeCustomerID != "" {
		plan.StripeCustomerID = sql.NullString{String: stripeCustomerID, Valid: true}
	}
	if stripePaymentMethodID != "" {
		plan.StripePaymentMethodID = sql.NullString{String: stripePaymentMethodID, Valid: true}
	}

	if err := s.store.CreatePaymentPlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create payment plan: %w", err)
	}

	first, rest := template.InstallmentAmounts(order.Total)
	intervalDays := models.FrequencyIntervalDays(template.Frequency)
	now := time.Now()

	for number := 1; number <= template.NumberOfInstallments; number++ {
		inst := &models.Installment{
			PlanID:            plan.ID,
			InstallmentNumber: number,
			Amount:            rest,
			DueDate:           now.AddDate(0, 0, intervalDays*(number-1)),
			Status:            models.InstallmentStatusPending,
		}
		if number == 1 {
			inst.Amount = first
			inst.Status = models.InstallmentStatusPaid
			inst.PaidAt = sql.NullTime{Time: now, Valid: true}
			inst.StripePaymentIntentID = order.StripePaymentIntentID
		}
		if err := s.store.CreateInstallment(ctx, inst); err != nil {
			return nil, fmt.Errorf("failed to create installment %d: %w", number, err)
		}
	}

	s.logger.Info("Payment plan created",
		zap.Int64("plan_id", plan.ID),
		zap.Int64("order_id", order.ID),
		zap.String("method", method),
		zap.Int("installments", template.NumberOfInstallments))

	return plan, nil
}

// ProcessInstallments is the daily sweep: collect or invoice every
// pending-due or retryable-failed installment. Each installment is
// processed independently; one failure never aborts the rest.
func (s *BillingService) ProcessInstallments(ctx context.Context) (*SweepResult, error) {
	ctx, span := util.StartSpan(ctx, "BillingService.ProcessInstallments")
	defer span.End()

	due, err := s.store.DueInstallments(ctx, time.Now(), s.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to select due installments: %w", err)
	}

	result := &SweepResult{}
	for i := range due {
		inst := &due[i]
		result.Processed++

		ok := s.processOne(ctx, inst)
		if ok {
			result.Succeeded++
			util.InstallmentsProcessedTotal.WithLabelValues("succeeded").Inc()
		} else {
			result.Failed++
			util.InstallmentsProcessedTotal.WithLabelValues("failed").Inc()
		}
	}

	s.logger.Info("Installment sweep finished",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))

	return result, nil
}

// processOne collects a single installment by its plan's method
func (s *BillingService) processOne(ctx context.Context, inst *models.Installment) bool {
	plan, err := s.store.GetPaymentPlanByID(ctx, inst.PlanID)
	if err != nil || plan == nil {
		s.logger.Error("Failed to load plan for installment",
			zap.Int64("installment_id", inst.ID),
			zap.Int64("plan_id", inst.PlanID),
			zap.Error(err))
		s.markFailed(ctx, inst)
		return false
	}

	switch plan.Method {
	case models.PlanMethodAutoCharge:
		return s.autoCharge(ctx, plan, inst)
	case models.PlanMethodManualInvoice:
		return s.manualInvoice(ctx, plan, inst)
	default:
		s.logger.Error("Unknown plan method",
			zap.Int64("plan_id", plan.ID),
			zap.String("method", plan.Method))
		s.markFailed(ctx, inst)
		return false
	}
}

func (s *BillingService) autoCharge(ctx context.Context, plan *models.PaymentPlan, inst *models.Installment) bool {
	if !plan.StripeCustomerID.Valid || !plan.StripePaymentMethodID.Valid {
		s.logger.Warn("Installment has no stored payment method",
			zap.Int64("installment_id", inst.ID))
		s.markFailed(ctx, inst)
		return false
	}

	description := fmt.Sprintf("Installment %d of %d for order #%d",
		inst.InstallmentNumber, plan.NumberOfInstallments, plan.OrderID)
	metadata := map[string]string{
		"plan_id":        fmt.Sprintf("%d", plan.ID),
		"installment_id": fmt.Sprintf("%d", inst.ID),
	}

	intent, err := s.gateway.ChargePaymentMethod(ctx, plan.StripeCustomerID.String,
		plan.StripePaymentMethodID.String, inst.Amount, description, metadata)
	if err != nil {
		s.logger.Error("Installment charge failed",
			zap.Int64("installment_id", inst.ID),
			zap.Error(err))
		s.markFailed(ctx, inst)
		return false
	}
	if intent.Status != gateway.IntentStatusSucceeded {
		s.logger.Warn("Installment charge did not succeed",
			zap.Int64("installment_id", inst.ID),
			zap.String("status", intent.Status))
		s.markFailed(ctx, inst)
		return false
	}

	if err := s.store.MarkInstallmentPaid(ctx, inst.ID, intent.ID); err != nil {
		s.logger.Error("Failed to record paid installment",
			zap.Int64("installment_id", inst.ID),
			zap.Error(err))
		return false
	}

	s.logger.Info("Installment collected",
		zap.Int64("installment_id", inst.ID),
		zap.Int64("amount", inst.Amount))
	s.publisher.PublishInstallmentPaid(ctx, plan, inst)
	return true
}

// manualInvoice sends a gateway invoice. Counted as succeeded for this
// sweep even though payment arrives later via webhook.
func (s *BillingService) manualInvoice(ctx context.Context, plan *models.PaymentPlan, inst *models.Installment) bool {
	if !plan.StripeCustomerID.Valid {
		s.logger.Warn("Installment has no gateway customer for invoicing",
			zap.Int64("installment_id", inst.ID))
		s.markFailed(ctx, inst)
		return false
	}

	description := fmt.Sprintf("Installment %d of %d for order #%d",
		inst.InstallmentNumber, plan.NumberOfInstallments, plan.OrderID)
	metadata := map[string]string{
		"plan_id":        fmt.Sprintf("%d", plan.ID),
		"installment_id": fmt.Sprintf("%d", inst.ID),
	}

	invoiceID, err := s.gateway.CreateAndSendInvoice(ctx, plan.StripeCustomerID.String,
		inst.Amount, description, metadata)
	if err != nil {
		s.logger.Error("Installment invoicing failed",
			zap.Int64("installment_id", inst.ID),
			zap.Error(err))
		s.markFailed(ctx, inst)
		return false
	}

	if err := s.store.SetInstallmentInvoice(ctx, inst.ID, invoiceID); err != nil {
		s.logger.Error("Failed to record invoice id",
			zap.Int64("installment_id", inst.ID),
			zap.Error(err))
		return false
	}

	s.logger.Info("Installment invoiced",
		zap.Int64("installment_id", inst.ID),
		zap.String("invoice_id", invoiceID))
	return true
}

// markFailed advances the retry machine; an installment that exhausts
// its retries goes Overdue and leaves the automated sweep for good
func (s *BillingService) markFailed(ctx context.Context, inst *models.Installment) {
	updated, err := s.store.MarkInstallmentFailed(ctx, inst.ID, s.maxRetries)
	if err != nil {
		s.logger.Error("Failed to record installment failure",
			zap.Int64("installment_id", inst.ID),
			zap.Error(err))
		return
	}

	if updated.Status == models.InstallmentStatusOverdue {
		util.InstallmentsOverdueTotal.Inc()
		s.logger.Warn("Installment is overdue, automated retries stopped",
			zap.Int64("installment_id", updated.ID),
			zap.Int("retry_count", updated.RetryCount))

		if plan, err := s.store.GetPaymentPlanByID(ctx, updated.PlanID); err == nil && plan != nil {
			s.publisher.PublishInstallmentOverdue(ctx, plan, updated)
		}
	}
}

// PayInstallmentManually is the staff action for collecting an
// installment outside the sweep, including Overdue ones. With a stored
// payment method it charges immediately; otherwise a payment reference
// for funds collected out of band must be supplied.
func (s *BillingService) PayInstallmentManually(ctx context.Context, installmentID int64, paymentReference string) (*models.Installment, error) {
	inst, err := s.store.GetInstallmentByID(ctx, installmentID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("installment %d: %w", installmentID, ErrNotFound)
	}
	if inst.Status == models.InstallmentStatusPaid {
		return nil, Invalidf("This installment is already paid")
	}

	plan, err := s.store.GetPaymentPlanByID(ctx, inst.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("payment plan %d: %w", inst.PlanID, ErrNotFound)
	}

	reference := paymentReference
	if reference == "" {
		if !plan.StripeCustomerID.Valid || !plan.StripePaymentMethodID.Valid {
			return nil, Invalidf("No stored payment method; provide a payment reference for funds collected externally")
		}
		description := fmt.Sprintf("Manual collection of installment %d of %d for order #%d",
			inst.InstallmentNumber, plan.NumberOfInstallments, plan.OrderID)
		intent, err := s.gateway.ChargePaymentMethod(ctx, plan.StripeCustomerID.String,
			plan.StripePaymentMethodID.String, inst.Amount, description, nil)
		if err != nil {
			return nil, fmt.Errorf("manual charge failed: %w", err)
		}
		if intent.Status != gateway.IntentStatusSucceeded {
			return nil, Invalidf("Charge did not succeed (status %s)", intent.Status)
		}
		reference = intent.ID
	}

	if err := s.store.MarkInstallmentPaid(ctx, inst.ID, reference); err != nil {
		return nil, fmt.Errorf("failed to record paid installment: %w", err)
	}

	updated, err := s.store.GetInstallmentByID(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	s.publisher.PublishInstallmentPaid(ctx, plan, updated)
	return updated, nil
}
