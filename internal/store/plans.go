package store

import (
	"context"
	"database/sql"
	"time"

	"studio-commerce/internal/models"
)

// GetPlanTemplateByID retrieves a payment plan template
func (s *Store) GetPlanTemplateByID(ctx context.Context, id int64) (*models.PaymentPlanTemplate, error) {
	var tmpl models.PaymentPlanTemplate
	err := s.db.GetContext(ctx, &tmpl, "SELECT * FROM payment_plan_templates WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// GetActivePlanTemplates retrieves all active templates
func (s *Store) GetActivePlanTemplates(ctx context.Context) ([]models.PaymentPlanTemplate, error) {
	var tmpls []models.PaymentPlanTemplate
	err := s.db.SelectContext(ctx, &tmpls,
		"SELECT * FROM payment_plan_templates WHERE active = true ORDER BY id")
	return tmpls, err
}

// CreatePaymentPlan creates a payment plan
func (s *Store) CreatePaymentPlan(ctx context.Context, plan *models.PaymentPlan) error {
	query := `
		INSERT INTO payment_plans (order_id, template_id, method, total_amount, number_of_installments, frequency, stripe_customer_id, stripe_payment_method_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, plan, query,
		plan.OrderID, plan.TemplateID, plan.Method, plan.TotalAmount,
		plan.NumberOfInstallments, plan.Frequency, plan.StripeCustomerID, plan.StripePaymentMethodID)
}

// GetPaymentPlanByID retrieves a payment plan
func (s *Store) GetPaymentPlanByID(ctx context.Context, id int64) (*models.PaymentPlan, error) {
	var plan models.PaymentPlan
	err := s.db.GetContext(ctx, &plan, "SELECT * FROM payment_plans WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// CreateInstallment creates an installment row
func (s *Store) CreateInstallment(ctx context.Context, inst *models.Installment) error {
	query := `
		INSERT INTO installments (plan_id, installment_number, amount, due_date, status, paid_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, inst, query,
		inst.PlanID, inst.InstallmentNumber, inst.Amount, inst.DueDate,
		inst.Status, inst.PaidAt, inst.RetryCount)
}

// GetInstallmentByID retrieves an installment
func (s *Store) GetInstallmentByID(ctx context.Context, id int64) (*models.Installment, error) {
	var inst models.Installment
	err := s.db.GetContext(ctx, &inst, "SELECT * FROM installments WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// DueInstallments selects the daily sweep set: pending installments
// that have come due plus failed ones still under the retry limit.
// Overdue installments are never selected.
func (s *Store) DueInstallments(ctx context.Context, asOf time.Time, maxRetries int) ([]models.Installment, error) {
	var insts []models.Installment
	err := s.db.SelectContext(ctx, &insts,
		`SELECT * FROM installments
		 WHERE (status = $1 AND due_date <= $2)
		    OR (status = $3 AND retry_count < $4)
		 ORDER BY due_date, id`,
		models.InstallmentStatusPending, asOf, models.InstallmentStatusFailed, maxRetries)
	return insts, err
}

// MarkInstallmentPaid records a successful collection
func (s *Store) MarkInstallmentPaid(ctx context.Context, instID int64, intentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE installments
		 SET status = $1, paid_at = NOW(), stripe_payment_intent_id = $2
		 WHERE id = $3`,
		models.InstallmentStatusPaid, intentID, instID)
	return err
}

// MarkInstallmentFailed advances the retry machine atomically: the
// retry count increments in place and the status flips to OVERDUE once
// it reaches the limit.
func (s *Store) MarkInstallmentFailed(ctx context.Context, instID int64, maxRetries int) (*models.Installment, error) {
	var inst models.Installment
	query := `
		UPDATE installments
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $1 THEN $2 ELSE $3 END
		WHERE id = $4
		RETURNING *`

	err := s.db.GetContext(ctx, &inst, query,
		maxRetries, models.InstallmentStatusOverdue, models.InstallmentStatusFailed, instID)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// SetInstallmentInvoice persists the gateway invoice id
func (s *Store) SetInstallmentInvoice(ctx context.Context, instID int64, invoiceID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE installments SET stripe_invoice_id = $1 WHERE id = $2",
		invoiceID, instID)
	return err
}
