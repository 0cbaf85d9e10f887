package gateway

import (
	"context"

	"studio-commerce/internal/models"
)

// Payment intent statuses as reported by the gateway.
const (
	IntentStatusSucceeded             = "succeeded"
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusProcessing            = "processing"
)

// LineItem is one priced line for a hosted checkout session.
type LineItem struct {
	Name       string
	UnitAmount int64
	Quantity   int
}

// CheckoutSession is a hosted checkout session handle.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentIntent is the gateway's view of a payment attempt. Metadata
// round-trips what was attached at creation, so a retrieved intent is
// the authoritative record of what the payment was for.
type PaymentIntent struct {
	ID              string
	Status          string
	ClientSecret    string
	Amount          int64
	CustomerID      string
	PaymentMethodID string
	Metadata        map[string]string
}

// EventKind is the closed set of webhook events this service handles.
// Everything else maps to EventUnhandled and is acknowledged without
// processing.
type EventKind int

const (
	EventUnhandled EventKind = iota
	EventCheckoutSessionCompleted
	EventPaymentIntentFailed
)

// WebhookEvent is a verified, decoded gateway event.
type WebhookEvent struct {
	Kind            EventKind
	Type            string
	SessionID       string
	PaymentIntentID string
	Metadata        map[string]string
}

// PaymentGateway is the payment collaborator contract. Implementations
// must be safe for concurrent use; all calls are blocking network I/O
// and must never run inside a database transaction.
type PaymentGateway interface {
	CreateOrGetCustomer(ctx context.Context, user *models.User) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID string, items []LineItem, successURL, cancelURL string, metadata map[string]string) (*CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, customerID string, amount int64, metadata map[string]string, setupFutureUsage bool) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	ConstructWebhookEvent(payload []byte, signature string) (*WebhookEvent, error)
	RefundPaymentIntent(ctx context.Context, id string, amount int64) error
	ChargePaymentMethod(ctx context.Context, customerID, paymentMethodID string, amount int64, description string, metadata map[string]string) (*PaymentIntent, error)
	CreateAndSendInvoice(ctx context.Context, customerID string, amount int64, description string, metadata map[string]string) (string, error)
}
