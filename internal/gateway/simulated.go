package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"studio-commerce/internal/models"
)

// SimulatedGateway is an in-memory PaymentGateway for development and
// tests. Outcomes are deterministic and configurable per instance.
type SimulatedGateway struct {
	mu      sync.Mutex
	seq     int
	intents map[string]*PaymentIntent

	// ChargeStatus is the status returned by ChargePaymentMethod.
	ChargeStatus string
	// FailCalls makes every call return an error, simulating a
	// gateway outage.
	FailCalls bool

	Refunds  []SimulatedRefund
	Invoices []SimulatedInvoice
}

type SimulatedRefund struct {
	PaymentIntentID string
	Amount          int64
}

type SimulatedInvoice struct {
	ID         string
	CustomerID string
	Amount     int64
}

// NewSimulatedGateway returns a gateway where every charge succeeds
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		intents:      make(map[string]*PaymentIntent),
		ChargeStatus: IntentStatusSucceeded,
	}
}

func (g *SimulatedGateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%06d", prefix, g.seq)
}

func (g *SimulatedGateway) CreateOrGetCustomer(ctx context.Context, user *models.User) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCalls {
		return "", fmt.Errorf("simulated gateway failure")
	}
	if user.StripeCustomerID.Valid && user.StripeCustomerID.String != "" {
		return user.StripeCustomerID.String, nil
	}
	return g.nextID("cus"), nil
}

func (g *SimulatedGateway) CreateCheckoutSession(ctx context.Context, customerID string, items []LineItem, successURL, cancelURL string, metadata map[string]string) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCalls {
		return nil, fmt.Errorf("simulated gateway failure")
	}
	id := g.nextID("cs")
	return &CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (g *SimulatedGateway) CreatePaymentIntent(ctx context.Context, customerID string, amount int64, metadata map[string]string, setupFutureUsage bool) (*PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCalls {
		return nil, fmt.Errorf("simulated gateway failure")
	}
	pi := &PaymentIntent{
		ID:           g.nextID("pi"),
		Status:       IntentStatusRequiresPaymentMethod,
		Amount:       amount,
		CustomerID:   customerID,
		ClientSecret: g.nextID("secret"),
		Metadata:     copyMetadata(metadata),
	}
	g.intents[pi.ID] = pi
	return pi, nil
}

func (g *SimulatedGateway) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCalls {
		return nil, fmt.Errorf("simulated gateway failure")
	}
	pi, ok := g.intents[id]
	if !ok {
		return nil, fmt.Errorf("payment intent not found: %s", id)
	}
	copied := *pi
	return &copied, nil
}

// MarkIntentSucceeded simulates the customer completing payment
func (g *SimulatedGateway) MarkIntentSucceeded(id, paymentMethodID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pi, ok := g.intents[id]; ok {
		pi.Status = IntentStatusSucceeded
		pi.PaymentMethodID = paymentMethodID
	}
}

func (g *SimulatedGateway) RefundPaymentIntent(ctx context.Context, id string, amount int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCalls {
		return fmt.Errorf("simulated gateway failure")
	}
	g.Refunds = append(g.Refunds, SimulatedRefund{PaymentIntentID: id, Amount: amount})
	return nil
}

func (g *SimulatedGateway) ChargePaymentMethod(ctx context.Context, customerID, paymentMethodID string, amount int64, description string, metadata map[string]string) (*PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCalls {
		return nil, fmt.Errorf("simulated gateway failure")
	}
	pi := &PaymentIntent{
		ID:              g.nextID("pi"),
		Status:          g.ChargeStatus,
		Amount:          amount,
		CustomerID:      customerID,
		PaymentMethodID: paymentMethodID,
		Metadata:        copyMetadata(metadata),
	}
	g.intents[pi.ID] = pi
	return pi, nil
}

func copyMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

func (g *SimulatedGateway) CreateAndSendInvoice(ctx context.Context, customerID string, amount int64, description string, metadata map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCalls {
		return "", fmt.Errorf("simulated gateway failure")
	}
	inv := SimulatedInvoice{ID: g.nextID("in"), CustomerID: customerID, Amount: amount}
	g.Invoices = append(g.Invoices, inv)
	return inv.ID, nil
}

// simulatedEvent is the JSON payload accepted by the simulated webhook
type simulatedEvent struct {
	Type            string            `json:"type"`
	SessionID       string            `json:"session_id"`
	PaymentIntentID string            `json:"payment_intent_id"`
	Metadata        map[string]string `json:"metadata"`
}

// ConstructWebhookEvent accepts a plain JSON event with the literal
// signature "valid"; anything else is rejected like a bad signature
func (g *SimulatedGateway) ConstructWebhookEvent(payload []byte, signature string) (*WebhookEvent, error) {
	if signature != "valid" {
		return nil, fmt.Errorf("webhook signature verification failed")
	}

	var ev simulatedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	out := &WebhookEvent{
		Kind:            EventUnhandled,
		Type:            ev.Type,
		SessionID:       ev.SessionID,
		PaymentIntentID: ev.PaymentIntentID,
		Metadata:        ev.Metadata,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}

	switch ev.Type {
	case "checkout.session.completed":
		out.Kind = EventCheckoutSessionCompleted
	case "payment_intent.payment_failed":
		out.Kind = EventPaymentIntentFailed
	}
	return out, nil
}
