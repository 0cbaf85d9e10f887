package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedIntentLifecycle(t *testing.T) {
	gw := NewSimulatedGateway()
	ctx := context.Background()

	pi, err := gw.CreatePaymentIntent(ctx, "cus_001", 5000, map[string]string{"order_id": "1"}, true)
	require.NoError(t, err)
	assert.Equal(t, IntentStatusRequiresPaymentMethod, pi.Status)
	assert.NotEmpty(t, pi.ClientSecret)

	gw.MarkIntentSucceeded(pi.ID, "pm_abc")

	got, err := gw.RetrievePaymentIntent(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, IntentStatusSucceeded, got.Status)
	assert.Equal(t, "pm_abc", got.PaymentMethodID)
	assert.Equal(t, "cus_001", got.CustomerID)
	assert.Equal(t, int64(5000), got.Amount)
}

func TestSimulatedWebhookSignature(t *testing.T) {
	gw := NewSimulatedGateway()

	_, err := gw.ConstructWebhookEvent([]byte(`{"type":"checkout.session.completed"}`), "forged")
	assert.Error(t, err)

	event, err := gw.ConstructWebhookEvent([]byte(
		`{"type":"checkout.session.completed","session_id":"cs_1","payment_intent_id":"pi_1","metadata":{"order_id":"42"}}`),
		"valid")
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutSessionCompleted, event.Kind)
	assert.Equal(t, "42", event.Metadata["order_id"])
	assert.Equal(t, "pi_1", event.PaymentIntentID)
}

func TestSimulatedWebhookUnhandledKind(t *testing.T) {
	gw := NewSimulatedGateway()

	event, err := gw.ConstructWebhookEvent([]byte(`{"type":"invoice.created"}`), "valid")
	require.NoError(t, err)
	assert.Equal(t, EventUnhandled, event.Kind)
}

func TestSimulatedOutage(t *testing.T) {
	gw := NewSimulatedGateway()
	gw.FailCalls = true

	_, err := gw.CreatePaymentIntent(context.Background(), "cus_001", 5000, nil, false)
	assert.Error(t, err)
}
