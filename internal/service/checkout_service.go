package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"studio-commerce/config"
	"studio-commerce/internal/gateway"
	"studio-commerce/internal/models"
	"studio-commerce/internal/store"
	"studio-commerce/internal/util"

	"go.uber.org/zap"
)

// CheckoutService builds orders from carts and orchestrates the
// gateway. Gateway calls always happen outside database transactions;
// their results are applied in short follow-up updates.
type CheckoutService struct {
	store       *store.Store
	gateway     gateway.PaymentGateway
	pricing     *PricingService
	credit      *CreditService
	fulfillment *FulfillmentService
	billing     *BillingService
	cart        *CartService
	stripeCfg   config.StripeConfig
	logger      *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	store *store.Store,
	gw gateway.PaymentGateway,
	pricing *PricingService,
	credit *CreditService,
	fulfillment *FulfillmentService,
	billing *BillingService,
	cart *CartService,
	stripeCfg config.StripeConfig,
) *CheckoutService {
	return &CheckoutService{
		store:       store,
		gateway:     gw,
		pricing:     pricing,
		credit:      credit,
		fulfillment: fulfillment,
		billing:     billing,
		cart:        cart,
		stripeCfg:   stripeCfg,
		logger:      util.GetLogger(),
	}
}

// CheckoutSessionResponse is returned by the hosted-checkout flow
type CheckoutSessionResponse struct {
	OrderID     int64  `json:"order_id"`
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// CheckoutIntentRequest drives the embedded-element flow
type CheckoutIntentRequest struct {
	DiscountCode string `json:"discount_code,omitempty"`
	UseCredit    bool   `json:"use_credit,omitempty"`
	// CreditAmount caps how much credit to apply; 0 with UseCredit
	// means apply everything available.
	CreditAmount   int64  `json:"credit_amount,omitempty"`
	PlanTemplateID int64  `json:"plan_template_id,omitempty"`
	PlanMethod     string `json:"plan_method,omitempty"`
}

// CheckoutIntentResponse is returned by the embedded-element flow
type CheckoutIntentResponse struct {
	OrderID         int64  `json:"order_id"`
	ClientSecret    string `json:"client_secret,omitempty"`
	Subtotal        int64  `json:"subtotal"`
	DiscountAmount  int64  `json:"discount_amount"`
	CreditApplied   int64  `json:"credit_applied"`
	Total           int64  `json:"total"`
	AmountDueNow    int64  `json:"amount_due_now"`
	ZeroTotal       bool   `json:"zero_total"`
	DiscountSummary string `json:"discount_summary,omitempty"`
	CreditSummary   string `json:"credit_summary,omitempty"`
	PlanSummary     string `json:"plan_summary,omitempty"`
}

// CreateCheckoutSession snapshots the cart into a pending order and
// opens a hosted gateway checkout session for it
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, userID int64) (*CheckoutSessionResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateCheckoutSession")
	defer span.End()

	order, lines, err := s.buildOrderFromCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve gateway customer: %w", err)
	}

	lineItems := make([]gateway.LineItem, 0, len(lines))
	for _, line := range lines {
		lineItems = append(lineItems, gateway.LineItem{
			Name:       line.Product.Name,
			UnitAmount: line.Product.Price,
			Quantity:   line.Item.Quantity,
		})
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, customerID, lineItems,
		s.stripeCfg.SuccessURL, s.stripeCfg.CancelURL,
		map[string]string{"order_id": strconv.FormatInt(order.ID, 10)})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	if err := s.store.SetOrderCheckoutSession(ctx, order.ID, sess.ID); err != nil {
		return nil, fmt.Errorf("failed to persist session id: %w", err)
	}

	util.CheckoutsStartedTotal.WithLabelValues("hosted").Inc()
	s.logger.Info("Checkout session created",
		zap.Int64("order_id", order.ID),
		zap.String("session_id", sess.ID))

	return &CheckoutSessionResponse{
		OrderID:     order.ID,
		SessionID:   sess.ID,
		RedirectURL: sess.URL,
	}, nil
}

// CreateCheckoutPaymentIntent runs the embedded-element flow: order
// from cart, then discount, then credit, then either immediate
// completion (fully covered) or a payment intent for the amount due
// now (the first installment when a plan is requested).
func (s *CheckoutService) CreateCheckoutPaymentIntent(ctx context.Context, userID int64, req *CheckoutIntentRequest) (*CheckoutIntentResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateCheckoutPaymentIntent")
	defer span.End()

	order, lines, err := s.buildOrderFromCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := &CheckoutIntentResponse{
		OrderID:  order.ID,
		Subtotal: order.Subtotal,
	}

	var discountCode *models.DiscountCode
	if req.DiscountCode != "" {
		productIDs := make([]int64, 0, len(lines))
		for _, line := range lines {
			productIDs = append(productIDs, line.Product.ID)
		}

		discountCode, err = s.pricing.ApplyDiscountCode(ctx, req.DiscountCode, userID, order.Subtotal, productIDs)
		if err != nil {
			return nil, err
		}

		claimed, err := s.store.IncrementDiscountUse(ctx, discountCode.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to claim discount use: %w", err)
		}
		if !claimed {
			return nil, Invalidf("This discount code is no longer available")
		}

		order.DiscountCodeID = sql.NullInt64{Int64: discountCode.ID, Valid: true}
		order.DiscountAmount = discountCode.CalculateDiscount(order.Subtotal)
		resp.DiscountSummary = fmt.Sprintf("%s (-%s)", discountCode.Code, models.FormatAmount(order.DiscountAmount))
	}

	remaining := order.Subtotal - order.DiscountAmount
	if remaining < 0 {
		remaining = 0
	}

	var creditToApply int64
	if req.UseCredit && remaining > 0 {
		balance, err := s.credit.Balance(ctx, userID)
		if err != nil {
			s.releaseDiscount(ctx, discountCode)
			return nil, err
		}
		creditToApply = clampCredit(req.CreditAmount, remaining, balance)
	}

	order.CreditApplied = creditToApply
	order.Total = remaining - creditToApply

	if err := s.applyOrderAdjustments(ctx, order, creditToApply); err != nil {
		s.releaseDiscount(ctx, discountCode)
		return nil, err
	}

	resp.DiscountAmount = order.DiscountAmount
	resp.CreditApplied = order.CreditApplied
	resp.Total = order.Total
	if creditToApply > 0 {
		resp.CreditSummary = fmt.Sprintf("Store credit (-%s)", models.FormatAmount(creditToApply))
	}

	// Fully covered by discount and credit: no gateway involvement.
	if order.Total == 0 {
		if err := s.fulfillment.CompleteZeroTotalOrder(ctx, order); err != nil {
			s.releaseDiscount(ctx, discountCode)
			return nil, fmt.Errorf("failed to complete zero-total order: %w", err)
		}
		resp.ZeroTotal = true
		util.CheckoutsStartedTotal.WithLabelValues("zero_total").Inc()
		return resp, nil
	}

	amountDue := order.Total
	metadata := map[string]string{"order_id": strconv.FormatInt(order.ID, 10)}
	planRequested := req.PlanTemplateID != 0

	if planRequested {
		template, err := s.resolvePlanTemplate(ctx, req, order, lines)
		if err != nil {
			s.releaseDiscount(ctx, discountCode)
			return nil, err
		}
		first, rest := template.InstallmentAmounts(order.Total)
		amountDue = first
		metadata["plan_template_id"] = strconv.FormatInt(template.ID, 10)
		metadata["plan_method"] = req.PlanMethod
		resp.PlanSummary = fmt.Sprintf("%s today, then %d payments of %s (%s)",
			models.FormatAmount(first), template.NumberOfInstallments-1,
			models.FormatAmount(rest), strings.ToLower(template.Frequency))
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		s.releaseDiscount(ctx, discountCode)
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		s.releaseDiscount(ctx, discountCode)
		return nil, fmt.Errorf("failed to resolve gateway customer: %w", err)
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, customerID, amountDue, metadata, planRequested)
	if err != nil {
		s.releaseDiscount(ctx, discountCode)
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	if err := s.store.SetOrderPaymentIntent(ctx, order.ID, intent.ID); err != nil {
		s.releaseDiscount(ctx, discountCode)
		return nil, fmt.Errorf("failed to persist intent id: %w", err)
	}

	util.CheckoutsStartedTotal.WithLabelValues("embedded").Inc()
	s.logger.Info("Payment intent created",
		zap.Int64("order_id", order.ID),
		zap.String("intent_id", intent.ID),
		zap.Int64("amount_due", amountDue))

	resp.ClientSecret = intent.ClientSecret
	resp.AmountDueNow = amountDue
	return resp, nil
}

// ConfirmCheckoutPayment verifies a paid intent server-side and
// completes the caller's order, creating the payment plan when one was
// requested. Everything that matters is read back from the confirmed
// intent, never from the client: the plan parameters come from the
// intent metadata written at creation, the paid amount must match the
// amount that was due, and customer and payment-method ids are the
// gateway's.
func (s *CheckoutService) ConfirmCheckoutPayment(ctx context.Context, userID, orderID int64) (bool, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ConfirmCheckoutPayment")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order == nil || order.UserID != userID {
		return false, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if order.Status != models.OrderStatusPending || !order.StripePaymentIntentID.Valid {
		return false, Invalidf("This order is not awaiting payment confirmation")
	}

	intent, err := s.gateway.RetrievePaymentIntent(ctx, order.StripePaymentIntentID.String)
	if err != nil {
		return false, fmt.Errorf("failed to retrieve payment intent: %w", err)
	}
	if intent.Status != gateway.IntentStatusSucceeded {
		return false, Invalidf("Payment has not completed")
	}

	planTemplateID, _ := strconv.ParseInt(intent.Metadata["plan_template_id"], 10, 64)
	planMethod := intent.Metadata["plan_method"]

	var template *models.PaymentPlanTemplate
	expectedDue := order.Total
	if planTemplateID != 0 {
		template, err = s.store.GetPlanTemplateByID(ctx, planTemplateID)
		if err != nil {
			return false, err
		}
		if template == nil {
			return false, fmt.Errorf("payment plan template %d: %w", planTemplateID, ErrNotFound)
		}
		first, _ := template.InstallmentAmounts(order.Total)
		expectedDue = first
	}
	if intent.Amount != expectedDue {
		return false, Invalidf("The paid amount does not match the amount due for this order")
	}

	completed, err := s.fulfillment.CompleteOrder(ctx, order.ID)
	if err != nil {
		return false, err
	}

	if completed && template != nil {
		if _, err := s.billing.CreatePaymentPlan(ctx, order, template, planMethod, intent.CustomerID, intent.PaymentMethodID); err != nil {
			// The order itself is already paid and fulfilled; a plan
			// creation failure is an operational problem, not a reason
			// to unwind the purchase.
			s.logger.Error("Failed to create payment plan after confirmation",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
	}

	return completed, nil
}

// buildOrderFromCart snapshots the cart into a pending order with
// order items priced from the current product prices
func (s *CheckoutService) buildOrderFromCart(ctx context.Context, userID int64) (*models.Order, []CartLine, error) {
	view, err := s.cart.List(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if len(view.Lines) == 0 {
		return nil, nil, Invalidf("Your cart is empty")
	}

	// Soft capacity pass. Best effort: the authoritative check happens
	// at completion under a course row lock.
	for _, line := range view.Lines {
		courseID, ok := line.Product.CourseID()
		if !ok {
			continue
		}
		available, err := s.store.CourseAvailability(ctx, courseID)
		if err != nil {
			return nil, nil, err
		}
		if line.Item.Quantity > available {
			return nil, nil, Invalidf("Only %d spots left for %s", available, line.Product.Name)
		}
	}

	order := &models.Order{
		UserID:   userID,
		Status:   models.OrderStatusPending,
		Subtotal: view.Subtotal,
		Total:    view.Subtotal,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	for _, line := range view.Lines {
		item := &models.OrderItem{
			OrderID:           order.ID,
			ProductID:         line.Product.ID,
			Quantity:          line.Item.Quantity,
			UnitPrice:         line.Product.Price,
			TotalPrice:        line.LineTotal,
			FulfillmentStatus: models.FulfillmentPending,
		}
		if err := s.store.CreateOrderItem(ctx, item); err != nil {
			return nil, nil, fmt.Errorf("failed to create order item: %w", err)
		}
	}

	return order, view.Lines, nil
}

// applyOrderAdjustments persists discount/credit pricing and debits
// the applied credit in a single transaction
func (s *CheckoutService) applyOrderAdjustments(ctx context.Context, order *models.Order, creditToApply int64) error {
	tx, err := s.store.BeginTxx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.store.UpdateOrderPricing(ctx, tx, order); err != nil {
		return fmt.Errorf("failed to update order pricing: %w", err)
	}

	if creditToApply > 0 {
		_, err := s.credit.AdjustCreditTx(ctx, tx, order.UserID, -creditToApply,
			models.CreditTypeCheckoutDebit, "order", order.ID,
			fmt.Sprintf("Store credit applied to order #%d", order.ID))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// resolvePlanTemplate validates an installment plan request against
// the order being checked out
func (s *CheckoutService) resolvePlanTemplate(ctx context.Context, req *CheckoutIntentRequest, order *models.Order, lines []CartLine) (*models.PaymentPlanTemplate, error) {
	if req.PlanMethod != models.PlanMethodAutoCharge && req.PlanMethod != models.PlanMethodManualInvoice {
		return nil, Invalidf("Unknown payment plan method")
	}

	template, err := s.store.GetPlanTemplateByID(ctx, req.PlanTemplateID)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, fmt.Errorf("payment plan template %d: %w", req.PlanTemplateID, ErrNotFound)
	}
	if !template.Active {
		return nil, Invalidf("This payment plan is not available")
	}
	if order.Total < template.MinPrice || order.Total > template.MaxPrice {
		return nil, Invalidf("This order does not qualify for the selected payment plan")
	}
	if template.ProductType.Valid {
		for _, line := range lines {
			if line.Product.Kind.String() != template.ProductType.String {
				return nil, Invalidf("The selected payment plan does not cover all items in your cart")
			}
		}
	}
	return template, nil
}

// ensureCustomer resolves the user's gateway customer, persisting a
// newly created id for reuse
func (s *CheckoutService) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	customerID, err := s.gateway.CreateOrGetCustomer(ctx, user)
	if err != nil {
		return "", err
	}
	if !user.StripeCustomerID.Valid || user.StripeCustomerID.String != customerID {
		if err := s.store.SetUserStripeCustomerID(ctx, user.ID, customerID); err != nil {
			s.logger.Warn("Failed to persist stripe customer id",
				zap.Int64("user_id", user.ID),
				zap.Error(err))
		}
	}
	return customerID, nil
}

// releaseDiscount returns a claimed discount use when checkout fails
// after the guarded increment
func (s *CheckoutService) releaseDiscount(ctx context.Context, dc *models.DiscountCode) {
	if dc == nil {
		return
	}
	if err := s.store.DecrementDiscountUse(ctx, dc.ID); err != nil {
		s.logger.Error("Failed to release discount use",
			zap.Int64("code_id", dc.ID),
			zap.Error(err))
	}
}

func clampCredit(requested, remaining, balance int64) int64 {
	credit := requested
	if credit <= 0 {
		credit = balance
	}
	if credit > remaining {
		credit = remaining
	}
	if credit > balance {
		credit = balance
	}
	if credit < 0 {
		credit = 0
	}
	return credit
}
