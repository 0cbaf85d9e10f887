package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"studio-commerce/config"
	"studio-commerce/internal/models"

	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/invoice"
	"github.com/stripe/stripe-go/v79/invoiceitem"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/refund"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeGateway implements PaymentGateway against the Stripe API.
type StripeGateway struct {
	currency      string
	webhookSecret string
}

// NewStripeGateway configures the stripe client and returns a gateway
func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	stripe.Key = cfg.SecretKey
	return &StripeGateway{
		currency:      cfg.Currency,
		webhookSecret: cfg.WebhookSecret,
	}
}

// CreateOrGetCustomer returns the user's stripe customer id, creating
// the customer on first use
func (g *StripeGateway) CreateOrGetCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID.Valid && user.StripeCustomerID.String != "" {
		return user.StripeCustomerID.String, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Name),
	}
	params.Context = ctx
	params.AddMetadata("user_id", fmt.Sprintf("%d", user.ID))

	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession creates a hosted checkout session
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, customerID string, items []LineItem, successURL, cancelURL string, metadata map[string]string) (*CheckoutSession, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(items))
	for _, item := range items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(item.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.currency),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		LineItems:  lineItems,
	}
	params.Context = ctx
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CreatePaymentIntent creates an intent for the amount due now
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, customerID string, amount int64, metadata map[string]string, setupFutureUsage bool) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(g.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	if setupFutureUsage {
		params.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return toPaymentIntent(pi), nil
}

// RetrievePaymentIntent fetches an intent for server-side verification
func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve payment intent: %w", err)
	}
	return toPaymentIntent(pi), nil
}

// RefundPaymentIntent refunds an intent; amount 0 means full refund
func (g *StripeGateway) RefundPaymentIntent(ctx context.Context, id string, amount int64) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(id),
	}
	params.Context = ctx
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}

	if _, err := refund.New(params); err != nil {
		return fmt.Errorf("failed to refund payment intent %s: %w", id, err)
	}
	return nil
}

// ChargePaymentMethod charges a stored payment method off-session
func (g *StripeGateway) ChargePaymentMethod(ctx context.Context, customerID, paymentMethodID string, amount int64, description string, metadata map[string]string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(g.currency),
		Customer:      stripe.String(customerID),
		PaymentMethod: stripe.String(paymentMethodID),
		Description:   stripe.String(description),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to charge payment method: %w", err)
	}
	return toPaymentIntent(pi), nil
}

// CreateAndSendInvoice creates a send_invoice invoice for the amount
// and emails it to the customer
func (g *StripeGateway) CreateAndSendInvoice(ctx context.Context, customerID string, amount int64, description string, metadata map[string]string) (string, error) {
	itemParams := &stripe.InvoiceItemParams{
		Customer:    stripe.String(customerID),
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(g.currency),
		Description: stripe.String(description),
	}
	itemParams.Context = ctx
	if _, err := invoiceitem.New(itemParams); err != nil {
		return "", fmt.Errorf("failed to create invoice item: %w", err)
	}

	invParams := &stripe.InvoiceParams{
		Customer:                    stripe.String(customerID),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:                stripe.Int64(7),
		PendingInvoiceItemsBehavior: stripe.String("include"),
	}
	invParams.Context = ctx
	for k, v := range metadata {
		invParams.AddMetadata(k, v)
	}

	inv, err := invoice.New(invParams)
	if err != nil {
		return "", fmt.Errorf("failed to create invoice: %w", err)
	}

	finalized, err := invoice.FinalizeInvoice(inv.ID, &stripe.InvoiceFinalizeInvoiceParams{})
	if err != nil {
		return "", fmt.Errorf("failed to finalize invoice: %w", err)
	}

	if _, err := invoice.SendInvoice(finalized.ID, &stripe.InvoiceSendInvoiceParams{}); err != nil {
		return "", fmt.Errorf("failed to send invoice: %w", err)
	}
	return finalized.ID, nil
}

// ConstructWebhookEvent verifies the signature and decodes the event
// into the closed kind set
func (g *StripeGateway) ConstructWebhookEvent(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}

	out := &WebhookEvent{
		Kind:     EventUnhandled,
		Type:     string(event.Type),
		Metadata: map[string]string{},
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		out.Kind = EventCheckoutSessionCompleted
		out.SessionID = sess.ID
		out.Metadata = sess.Metadata
		if sess.PaymentIntent != nil {
			out.PaymentIntentID = sess.PaymentIntent.ID
		}

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		out.Kind = EventPaymentIntentFailed
		out.PaymentIntentID = pi.ID
		out.Metadata = pi.Metadata
	}

	return out, nil
}

func toPaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Metadata:     pi.Metadata,
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethodID = pi.PaymentMethod.ID
	}
	return out
}
