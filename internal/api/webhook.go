package api

import (
	"io"
	"net/http"
	"strconv"

	"studio-commerce/internal/gateway"
	"studio-commerce/internal/models"
	"studio-commerce/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// stripeWebhook receives gateway events. The signature is verified
// before anything else; a bad signature never touches state. Handled
// kinds are a closed set, everything else is acknowledged unprocessed.
func (h *Handler) stripeWebhook(c *gin.Context) {
	logger := util.GetLogger()

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	event, err := h.gateway.ConstructWebhookEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		logger.Warn("Webhook signature verification failed", zap.Error(err))
		util.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	switch event.Kind {
	case gateway.EventCheckoutSessionCompleted:
		h.handleSessionCompleted(c, event)
	case gateway.EventPaymentIntentFailed:
		h.handleIntentFailed(c, event)
	default:
		util.WebhookEventsTotal.WithLabelValues(event.Type, "unhandled").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true, "handled": false})
	}
}

// handleSessionCompleted completes the order a hosted checkout session
// was opened for
func (h *Handler) handleSessionCompleted(c *gin.Context, event *gateway.WebhookEvent) {
	logger := util.GetLogger()

	orderID, err := strconv.ParseInt(event.Metadata["order_id"], 10, 64)
	if err != nil {
		logger.Warn("Webhook session has no order_id metadata",
			zap.String("session_id", event.SessionID))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "missing_order").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing order_id metadata"})
		return
	}

	order, err := h.store.GetOrderByID(c.Request.Context(), orderID)
	if err != nil {
		logger.Error("Failed to load order for webhook",
			zap.Int64("order_id", orderID),
			zap.Error(err))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}
	if order == nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "unknown_order").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	if event.PaymentIntentID != "" {
		if err := h.store.SetOrderPaymentIntent(c.Request.Context(), order.ID, event.PaymentIntentID); err != nil {
			logger.Error("Failed to persist payment intent id",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
	}

	completed, err := h.fulfillment.CompleteOrder(c.Request.Context(), order.ID)
	if err != nil {
		logger.Error("Order completion from webhook failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Completion failed"})
		return
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, "processed").Inc()
	c.JSON(http.StatusOK, gin.H{
		"received":  true,
		"order_id":  order.ID,
		"completed": completed,
	})
}

// handleIntentFailed fails the matching pending order and returns any
// credit and discount use it had claimed
func (h *Handler) handleIntentFailed(c *gin.Context, event *gateway.WebhookEvent) {
	logger := util.GetLogger()

	if event.PaymentIntentID == "" {
		c.JSON(http.StatusOK, gin.H{"received": true, "handled": false})
		return
	}

	order, err := h.store.GetPendingOrderByPaymentIntent(c.Request.Context(), event.PaymentIntentID)
	if err != nil {
		logger.Error("Failed to look up order for failed intent",
			zap.String("payment_intent_id", event.PaymentIntentID),
			zap.Error(err))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}
	if order == nil {
		// Intent does not belong to a pending order; nothing to do.
		util.WebhookEventsTotal.WithLabelValues(event.Type, "no_match").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true, "handled": false})
		return
	}

	if err := h.fulfillment.FailOrder(c.Request.Context(), order, "payment failed"); err != nil {
		logger.Error("Failed to mark order failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Update failed"})
		return
	}

	util.OrdersFailedTotal.WithLabelValues("payment_failed").Inc()
	logger.Info("Order marked failed from webhook",
		zap.Int64("order_id", order.ID),
		zap.String("payment_intent_id", event.PaymentIntentID))

	util.WebhookEventsTotal.WithLabelValues(event.Type, "processed").Inc()
	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"order_id": order.ID,
		"status":   models.OrderStatusFailed,
	})
}
