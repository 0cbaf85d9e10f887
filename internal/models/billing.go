package models

import (
	"database/sql"
	"time"
)

// Discount code types.
const (
	DiscountTypePercentage  = "PERCENTAGE"
	DiscountTypeFixedAmount = "FIXED_AMOUNT"
)

// DiscountCode is a redeemable checkout code. TimesUsed is bumped with
// a guarded atomic increment, never read-modify-write.
type DiscountCode struct {
	ID             int64         `db:"id" json:"id"`
	Code           string        `db:"code" json:"code"`
	Type           string        `db:"type" json:"type"`
	Value          int64         `db:"value" json:"value"`
	MinOrderAmount sql.NullInt64 `db:"min_order_amount" json:"min_order_amount,omitempty"`
	MaxUses        sql.NullInt64 `db:"max_uses" json:"max_uses,omitempty"`
	MaxUsesPerUser sql.NullInt64 `db:"max_uses_per_user" json:"max_uses_per_user,omitempty"`
	ExpiresAt      sql.NullTime  `db:"expires_at" json:"expires_at,omitempty"`
	Active         bool          `db:"active" json:"active"`
	TimesUsed      int64         `db:"times_used" json:"times_used"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// CalculateDiscount returns the discount for a subtotal, capped at the
// subtotal so the resulting total is never negative. Percentage values
// round half up.
func (d *DiscountCode) CalculateDiscount(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	var amount int64
	switch d.Type {
	case DiscountTypePercentage:
		amount = (subtotal*d.Value + 50) / 100
	case DiscountTypeFixedAmount:
		amount = d.Value
	}
	if amount > subtotal {
		amount = subtotal
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}

// IsExpired reports whether the code has passed its expiry.
func (d *DiscountCode) IsExpired(now time.Time) bool {
	return d.ExpiresAt.Valid && now.After(d.ExpiresAt.Time)
}

// IsExhausted reports whether the global use limit has been reached.
func (d *DiscountCode) IsExhausted() bool {
	return d.MaxUses.Valid && d.TimesUsed >= d.MaxUses.Int64
}

// UsableBy reports whether the code can be used given the caller's
// prior use count. priorUses is the number of this user's earlier
// orders that redeemed this code.
func (d *DiscountCode) UsableBy(now time.Time, priorUses int64) bool {
	if !d.Active || d.IsExpired(now) || d.IsExhausted() {
		return false
	}
	if d.MaxUsesPerUser.Valid && priorUses >= d.MaxUsesPerUser.Int64 {
		return false
	}
	return true
}

// Payment plan billing frequencies.
const (
	FrequencyWeekly   = "WEEKLY"
	FrequencyBiweekly = "BIWEEKLY"
	FrequencyMonthly  = "MONTHLY"
)

// FrequencyIntervalDays returns the day gap between installments.
func FrequencyIntervalDays(frequency string) int {
	switch frequency {
	case FrequencyWeekly:
		return 7
	case FrequencyBiweekly:
		return 14
	default:
		return 30
	}
}

// PaymentPlanTemplate is an eligibility rule plus a split definition
// for installment plans.
type PaymentPlanTemplate struct {
	ID                   int64          `db:"id" json:"id"`
	Name                 string         `db:"name" json:"name"`
	ProductType          sql.NullString `db:"product_type" json:"product_type,omitempty"`
	MinPrice             int64          `db:"min_price" json:"min_price"`
	MaxPrice             int64          `db:"max_price" json:"max_price"`
	NumberOfInstallments int            `db:"number_of_installments" json:"number_of_installments"`
	Frequency            string         `db:"frequency" json:"frequency"`
	Active               bool           `db:"active" json:"active"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
}

// InstallmentAmounts splits a total into n installments. The rounding
// remainder goes entirely into the first installment so the remaining
// ones are uniform; the parts always sum to the total exactly.
func (t *PaymentPlanTemplate) InstallmentAmounts(total int64) (first, remaining int64) {
	n := int64(t.NumberOfInstallments)
	if n <= 1 {
		return total, 0
	}
	base := total / n
	remainder := total - base*n
	return base + remainder, base
}

// Matches reports whether a product is eligible for this template: the
// product type matches (NULL means any) and the price falls within
// [MinPrice, MaxPrice].
func (t *PaymentPlanTemplate) Matches(p *Product) bool {
	if !t.Active {
		return false
	}
	if t.ProductType.Valid && t.ProductType.String != p.Kind.String() {
		return false
	}
	return p.Price >= t.MinPrice && p.Price <= t.MaxPrice
}

// Payment plan collection methods.
const (
	PlanMethodAutoCharge    = "AUTO_CHARGE"
	PlanMethodManualInvoice = "MANUAL_INVOICE"
)

// PaymentPlan is an order's agreed installment schedule.
type PaymentPlan struct {
	ID                    int64          `db:"id" json:"id"`
	OrderID               int64          `db:"order_id" json:"order_id"`
	TemplateID            int64          `db:"template_id" json:"template_id"`
	Method                string         `db:"method" json:"method"`
	TotalAmount           int64          `db:"total_amount" json:"total_amount"`
	NumberOfInstallments  int            `db:"number_of_installments" json:"number_of_installments"`
	Frequency             string         `db:"frequency" json:"frequency"`
	StripeCustomerID      sql.NullString `db:"stripe_customer_id" json:"-"`
	StripePaymentMethodID sql.NullString `db:"stripe_payment_method_id" json:"-"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
}

// Installment statuses. Overdue stops automated retries but staff can
// still collect manually.
const (
	InstallmentStatusPending = "PENDING"
	InstallmentStatusPaid    = "PAID"
	InstallmentStatusFailed  = "FAILED"
	InstallmentStatusOverdue = "OVERDUE"
)

// Installment is one scheduled charge of a payment plan.
type Installment struct {
	ID                    int64          `db:"id" json:"id"`
	PlanID                int64          `db:"plan_id" json:"plan_id"`
	InstallmentNumber     int            `db:"installment_number" json:"installment_number"`
	Amount                int64          `db:"amount" json:"amount"`
	DueDate               time.Time      `db:"due_date" json:"due_date"`
	Status                string         `db:"status" json:"status"`
	PaidAt                sql.NullTime   `db:"paid_at" json:"paid_at,omitempty"`
	RetryCount            int            `db:"retry_count" json:"retry_count"`
	StripePaymentIntentID sql.NullString `db:"stripe_payment_intent_id" json:"-"`
	StripeInvoiceID       sql.NullString `db:"stripe_invoice_id" json:"-"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
}

// ApplyFailure advances the retry state machine: bump the retry count
// and move to Failed, or to Overdue once maxRetries is reached.
func (i *Installment) ApplyFailure(maxRetries int) {
	i.RetryCount++
	if i.RetryCount >= maxRetries {
		i.Status = InstallmentStatusOverdue
	} else {
		i.Status = InstallmentStatusFailed
	}
}
