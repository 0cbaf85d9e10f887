package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"studio-commerce/internal/gateway"
	"studio-commerce/internal/service"
	"studio-commerce/internal/store"
	"studio-commerce/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	store       *store.Store
	gateway     gateway.PaymentGateway
	cart        *service.CartService
	checkout    *service.CheckoutService
	fulfillment *service.FulfillmentService
	credit      *service.CreditService
	billing     *service.BillingService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	store *store.Store,
	gw gateway.PaymentGateway,
	cart *service.CartService,
	checkout *service.CheckoutService,
	fulfillment *service.FulfillmentService,
	credit *service.CreditService,
	billing *service.BillingService,
) *Handler {
	return &Handler{
		store:       store,
		gateway:     gw,
		cart:        cart,
		checkout:    checkout,
		fulfillment: fulfillment,
		credit:      credit,
		billing:     billing,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/stripe", h.stripeWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:id", h.updateCartItem)
		v1.DELETE("/cart/items/:id", h.removeCartItem)

		v1.POST("/checkout/session", h.createCheckoutSession)
		v1.POST("/checkout/payment-intent", h.createPaymentIntent)
		v1.POST("/checkout/confirm", h.confirmCheckout)

		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/credit", h.getCredit)
		v1.POST("/gift-cards/redeem", h.redeemGiftCard)

		admin := v1.Group("/admin")
		{
			admin.POST("/orders/:id/refund", h.refundOrder)
			admin.POST("/installments/:id/pay", h.payInstallment)
		}
	}
}

// currentUserID reads the authenticated user from the X-User-ID header.
// Real authentication sits in front of this service; the header is the
// trusted identity it forwards.
func currentUserID(c *gin.Context) (int64, bool) {
	raw := c.GetHeader("X-User-ID")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID < 1 {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Missing or invalid X-User-ID header",
		})
		return 0, false
	}
	return userID, true
}

// respondError maps service errors onto HTTP statuses: validation
// failures are 422, missing records 404, everything else 500.
func respondError(c *gin.Context, err error) {
	if service.IsValidation(err) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Internal error",
		"details": err.Error(),
	})
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// getCart returns the user's cart with subtotal
func (h *Handler) getCart(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	view, err := h.cart.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type addCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

// addCartItem adds a product to the cart
func (h *Handler) addCartItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	item, err := h.cart.Add(c.Request.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

// updateCartItem changes a cart line's quantity
func (h *Handler) updateCartItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cart item ID"})
		return
	}

	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	item, err := h.cart.UpdateQuantity(c.Request.Context(), userID, itemID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// removeCartItem deletes a cart line
func (h *Handler) removeCartItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cart item ID"})
		return
	}

	if err := h.cart.Remove(c.Request.Context(), userID, itemID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// createCheckoutSession starts the hosted checkout flow
func (h *Handler) createCheckoutSession(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	resp, err := h.checkout.CreateCheckoutSession(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// createPaymentIntent starts the embedded checkout flow
func (h *Handler) createPaymentIntent(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req service.CheckoutIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.checkout.CreateCheckoutPaymentIntent(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

type confirmCheckoutRequest struct {
	OrderID int64 `json:"order_id" binding:"required"`
}

// confirmCheckout verifies the payment server-side and completes the
// caller's order. Only the order id is taken from the client; the
// amount and any plan parameters are read back from the verified
// intent.
func (h *Handler) confirmCheckout(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req confirmCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	completed, err := h.checkout.ConfirmCheckoutPayment(c.Request.Context(), userID, req.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":  req.OrderID,
		"completed": completed,
	})
}

// getOrder returns an order with its items
func (h *Handler) getOrder(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.store.GetOrderByID(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	if order == nil || order.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	items, err := h.store.GetOrderItemsByOrderID(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

// getCredit returns the user's balance and ledger history
func (h *Handler) getCredit(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	balance, err := h.credit.Balance(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	history, err := h.credit.History(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":      balance,
		"transactions": history,
	})
}

type redeemGiftCardRequest struct {
	Code string `json:"code" binding:"required"`
}

// redeemGiftCard converts a gift card's balance into store credit
func (h *Handler) redeemGiftCard(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req redeemGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	txn, err := h.fulfillment.RedeemGiftCard(c.Request.Context(), req.Code, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// refundOrder is the staff action for refunding a completed order
func (h *Handler) refundOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	if err := h.fulfillment.RefundOrder(c.Request.Context(), orderID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": "REFUNDED"})
}

type payInstallmentRequest struct {
	PaymentReference string `json:"payment_reference"`
}

// payInstallment is the staff action for collecting an installment
// outside the sweep, including overdue ones
func (h *Handler) payInstallment(c *gin.Context) {
	instID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid installment ID"})
		return
	}

	var req payInstallmentRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	inst, err := h.billing.PayInstallmentManually(c.Request.Context(), instID, req.PaymentReference)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
