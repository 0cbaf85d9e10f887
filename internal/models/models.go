package models

import (
	"database/sql"
	"fmt"
	"time"
)

// User is a storefront customer. CreditBalance is a denormalized
// running total of the user's credit ledger, maintained atomically
// with every CreditTransaction insert.
type User struct {
	ID               int64          `db:"id" json:"id"`
	Name             string         `db:"name" json:"name"`
	Email            string         `db:"email" json:"email"`
	CreditBalance    int64          `db:"credit_balance" json:"credit_balance"`
	StripeCustomerID sql.NullString `db:"stripe_customer_id" json:"-"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// Course is a capacity-bearing class offering. Available seats are
// capacity minus confirmed enrollments; the course row is the lock
// target for oversell prevention.
type Course struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Capacity  int       `db:"capacity" json:"capacity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// GiftCardType is a catalog entry for purchasable gift cards. A zero
// Denomination means the customer chooses the amount, taken from the
// product price at purchase time.
type GiftCardType struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Denomination int64     `db:"denomination" json:"denomination"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Costume is a physical item fulfilled manually by staff.
type Costume struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Size      string    `db:"size" json:"size"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Productable type tags as stored in the products table.
const (
	ProductableCourse       = "course"
	ProductableGiftCardType = "gift_card_type"
	ProductableCostume      = "costume"
)

// ProductKind is the closed set of things a product can be backed by.
type ProductKind int

const (
	KindStandalone ProductKind = iota
	KindCourse
	KindGiftCardType
	KindCostume
)

func (k ProductKind) String() string {
	switch k {
	case KindCourse:
		return ProductableCourse
	case KindGiftCardType:
		return ProductableGiftCardType
	case KindCostume:
		return ProductableCostume
	default:
		return "standalone"
	}
}

// Product is a purchasable catalog item, optionally backed by a
// course, gift card type, or costume.
type Product struct {
	ID              int64          `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	Price           int64          `db:"price" json:"price"`
	Active          bool           `db:"active" json:"active"`
	ProductableType sql.NullString `db:"productable_type" json:"-"`
	ProductableID   sql.NullInt64  `db:"productable_id" json:"-"`
	Kind            ProductKind    `db:"-" json:"kind"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// ResolveKind maps the stored type tag onto the closed ProductKind
// set. Called once at load time so the rest of the code can match
// exhaustively instead of re-interpreting strings.
func (p *Product) ResolveKind() error {
	if !p.ProductableType.Valid || p.ProductableType.String == "" {
		p.Kind = KindStandalone
		return nil
	}
	switch p.ProductableType.String {
	case ProductableCourse:
		p.Kind = KindCourse
	case ProductableGiftCardType:
		p.Kind = KindGiftCardType
	case ProductableCostume:
		p.Kind = KindCostume
	default:
		return fmt.Errorf("product %d has unknown productable type %q", p.ID, p.ProductableType.String)
	}
	if !p.ProductableID.Valid {
		return fmt.Errorf("product %d has type %q but no productable id", p.ID, p.ProductableType.String)
	}
	return nil
}

// Purchasable reports whether the product can be added to a cart.
func (p *Product) Purchasable() bool {
	return p.Active && p.Price > 0
}

// CourseID returns the backing course id if the product is
// course-backed.
func (p *Product) CourseID() (int64, bool) {
	if p.Kind == KindCourse {
		return p.ProductableID.Int64, true
	}
	return 0, false
}

// CartItem is one (user, product) cart line. Unique per pair; adding
// an already-present product increments quantity.
type CartItem struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order statuses. Completed, Failed and Refunded are terminal.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusFailed    = "FAILED"
	OrderStatusRefunded  = "REFUNDED"
)

// Order is a checkout attempt. Total = Subtotal - DiscountAmount -
// CreditApplied, clamped to >= 0. All amounts are integer cents.
type Order struct {
	ID                    int64          `db:"id" json:"id"`
	UserID                int64          `db:"user_id" json:"user_id"`
	Status                string         `db:"status" json:"status"`
	Subtotal              int64          `db:"subtotal" json:"subtotal"`
	DiscountCodeID        sql.NullInt64  `db:"discount_code_id" json:"discount_code_id,omitempty"`
	DiscountAmount        int64          `db:"discount_amount" json:"discount_amount"`
	CreditApplied         int64          `db:"credit_applied" json:"credit_applied"`
	Total                 int64          `db:"total" json:"total"`
	StripeSessionID       sql.NullString `db:"stripe_session_id" json:"-"`
	StripePaymentIntentID sql.NullString `db:"stripe_payment_intent_id" json:"-"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
}

// Order item fulfillment statuses.
const (
	FulfillmentPending   = "PENDING"
	FulfillmentFulfilled = "FULFILLED"
)

// OrderItem snapshots price at order time; never recomputed from the
// current product price.
type OrderItem struct {
	ID                int64  `db:"id" json:"id"`
	OrderID           int64  `db:"order_id" json:"order_id"`
	ProductID         int64  `db:"product_id" json:"product_id"`
	Quantity          int    `db:"quantity" json:"quantity"`
	UnitPrice         int64  `db:"unit_price" json:"unit_price"`
	TotalPrice        int64  `db:"total_price" json:"total_price"`
	FulfillmentStatus string `db:"fulfillment_status" json:"fulfillment_status"`
}

// Enrollment is one seat in a course, created per unit of a completed
// course order item. The student is assigned by the purchaser later.
type Enrollment struct {
	ID          int64          `db:"id" json:"id"`
	CourseID    int64          `db:"course_id" json:"course_id"`
	OrderItemID sql.NullInt64  `db:"order_item_id" json:"order_item_id,omitempty"`
	PurchaserID int64          `db:"purchaser_id" json:"purchaser_id"`
	StudentName sql.NullString `db:"student_name" json:"student_name,omitempty"`
	Confirmed   bool           `db:"confirmed" json:"confirmed"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// GiftCard is an issued card. Single full redemption: once redeemed,
// RemainingAmount is forced to zero.
type GiftCard struct {
	ID              int64         `db:"id" json:"id"`
	Code            string        `db:"code" json:"code"`
	GiftCardTypeID  int64         `db:"gift_card_type_id" json:"gift_card_type_id"`
	InitialAmount   int64         `db:"initial_amount" json:"initial_amount"`
	RemainingAmount int64         `db:"remaining_amount" json:"remaining_amount"`
	PurchaserID     int64         `db:"purchaser_id" json:"purchaser_id"`
	RedeemedByID    sql.NullInt64 `db:"redeemed_by_id" json:"redeemed_by_id,omitempty"`
	OrderID         sql.NullInt64 `db:"order_id" json:"order_id,omitempty"`
	Active          bool          `db:"active" json:"active"`
	RedeemedAt      sql.NullTime  `db:"redeemed_at" json:"redeemed_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// Credit transaction types.
const (
	CreditTypeGiftCardRedemption = "GIFT_CARD_REDEMPTION"
	CreditTypeCheckoutDebit      = "CHECKOUT_DEBIT"
	CreditTypeRefund             = "REFUND"
	CreditTypeAdminAdjustment    = "ADMIN_ADJUSTMENT"
)

// CreditTransaction is an append-only ledger row. Positive amounts
// credit the user, negative amounts debit.
type CreditTransaction struct {
	ID            int64          `db:"id" json:"id"`
	UserID        int64          `db:"user_id" json:"user_id"`
	Amount        int64          `db:"amount" json:"amount"`
	Type          string         `db:"type" json:"type"`
	ReferenceType sql.NullString `db:"reference_type" json:"reference_type,omitempty"`
	ReferenceID   sql.NullInt64  `db:"reference_id" json:"reference_id,omitempty"`
	Description   string         `db:"description" json:"description"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// FormatAmount renders integer cents as a dollar string for
// user-facing messages.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
