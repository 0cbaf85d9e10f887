package models

import "time"

// Event types
const (
	EventTypeOrderCompleted     = "ORDER_COMPLETED"
	EventTypeOrderFailed        = "ORDER_FAILED"
	EventTypeOrderRefunded      = "ORDER_REFUNDED"
	EventTypeGiftCardIssued     = "GIFT_CARD_ISSUED"
	EventTypeInstallmentPaid    = "INSTALLMENT_PAID"
	EventTypeInstallmentOverdue = "INSTALLMENT_OVERDUE"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCompletedEvent published when a paid order is fulfilled
type OrderCompletedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	UserID      int64           `json:"user_id"`
	Total       int64           `json:"total"`
	Enrollments int             `json:"enrollments"`
	Items       []OrderItemData `json:"items"`
}

// OrderFailedEvent published when completion is rejected (oversell or
// payment failure) and any collected funds are being refunded
type OrderFailedEvent struct {
	BaseEvent
	OrderID  int64  `json:"order_id"`
	UserID   int64  `json:"user_id"`
	Reason   string `json:"reason"`
	Refunded bool   `json:"refunded"`
}

// OrderRefundedEvent published on a manual admin refund
type OrderRefundedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
	Amount  int64 `json:"amount"`
}

// GiftCardIssuedEvent published per issued card so the mailer can
// deliver the code to the purchaser
type GiftCardIssuedEvent struct {
	BaseEvent
	GiftCardID  int64 `json:"gift_card_id"`
	OrderID     int64 `json:"order_id"`
	PurchaserID int64 `json:"purchaser_id"`
	Amount      int64 `json:"amount"`
}

// InstallmentPaidEvent published when a sweep charge succeeds
type InstallmentPaidEvent struct {
	BaseEvent
	InstallmentID     int64 `json:"installment_id"`
	PlanID            int64 `json:"plan_id"`
	InstallmentNumber int   `json:"installment_number"`
	Amount            int64 `json:"amount"`
}

// InstallmentOverdueEvent published when an installment exhausts its
// automated retries
type InstallmentOverdueEvent struct {
	BaseEvent
	InstallmentID     int64 `json:"installment_id"`
	PlanID            int64 `json:"plan_id"`
	InstallmentNumber int   `json:"installment_number"`
	Amount            int64 `json:"amount"`
	RetryCount        int   `json:"retry_count"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
