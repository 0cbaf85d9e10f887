package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"studio-commerce/internal/broker"
	"studio-commerce/internal/gateway"
	"studio-commerce/internal/models"
	"studio-commerce/internal/redisclient"
	"studio-commerce/internal/store"
	"studio-commerce/internal/util"

	"go.uber.org/zap"
)

const giftCardCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const giftCardCodeLength = 16
const giftCardCodeAttempts = 10

// FulfillmentService converts paid orders into enrollments and gift
// cards. Course capacity is re-checked here under a row lock; this is
// the authoritative oversell guard.
type FulfillmentService struct {
	store     *store.Store
	gateway   gateway.PaymentGateway
	credit    *CreditService
	redis     *redisclient.Client
	publisher *broker.EventPublisher
	logger    *zap.Logger
}

// NewFulfillmentService creates a new fulfillment service
func NewFulfillmentService(
	store *store.Store,
	gw gateway.PaymentGateway,
	credit *CreditService,
	redis *redisclient.Client,
	publisher *broker.EventPublisher,
) *FulfillmentService {
	return &FulfillmentService{
		store:     store,
		gateway:   gw,
		credit:    credit,
		redis:     redis,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// CompleteOrder converts a pending paid order into enrollments and
// gift cards. Returns false without error when the order is not
// pending (duplicate webhook or double confirmation) or when a
// capacity shortfall rejects it.
//
// Course rows are locked in ascending id order so two orders
// completing against overlapping courses cannot deadlock.
func (s *FulfillmentService) CompleteOrder(ctx context.Context, orderID int64) (bool, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.CompleteOrder")
	defer span.End()

	tx, err := s.store.BeginTxx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := s.store.GetOrderForUpdateTx(ctx, tx, orderID)
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if order.Status != models.OrderStatusPending {
		s.logger.Info("Order already processed, skipping completion",
			zap.Int64("order_id", order.ID),
			zap.String("status", order.Status))
		return false, nil
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return false, err
	}

	products, err := s.loadProducts(ctx, items)
	if err != nil {
		return false, err
	}

	// Group ordered seats per course and lock courses in id order.
	seatsByCourse := map[int64]int{}
	for _, item := range items {
		if courseID, ok := products[item.ProductID].CourseID(); ok {
			seatsByCourse[courseID] += item.Quantity
		}
	}
	courseIDs := make([]int64, 0, len(seatsByCourse))
	for id := range seatsByCourse {
		courseIDs = append(courseIDs, id)
	}
	sort.Slice(courseIDs, func(i, j int) bool { return courseIDs[i] < courseIDs[j] })

	for _, courseID := range courseIDs {
		available, err := s.store.CourseAvailabilityForUpdate(ctx, tx, courseID)
		if err != nil {
			return false, err
		}
		if seatsByCourse[courseID] > available {
			// Whole-order rejection: partially fulfilling a multi-item
			// cart would leave pricing and accounting inconsistent.
			tx.Rollback()
			s.failOversoldOrder(ctx, order, courseID, available, seatsByCourse[courseID])
			return false, nil
		}
	}

	enrollments := 0
	for _, item := range items {
		courseID, ok := products[item.ProductID].CourseID()
		if !ok {
			continue
		}
		for unit := 0; unit < item.Quantity; unit++ {
			enrollment := &models.Enrollment{
				CourseID:    courseID,
				OrderItemID: sql.NullInt64{Int64: item.ID, Valid: true},
				PurchaserID: order.UserID,
				Confirmed:   true,
			}
			if err := s.store.CreateEnrollmentTx(ctx, tx, enrollment); err != nil {
				return false, fmt.Errorf("failed to create enrollment: %w", err)
			}
			enrollments++
		}
		if err := s.store.MarkOrderItemFulfilledTx(ctx, tx, item.ID); err != nil {
			return false, err
		}
	}

	if err := s.store.UpdateOrderStatusTx(ctx, tx, order.ID, models.OrderStatusCompleted); err != nil {
		return false, fmt.Errorf("failed to complete order: %w", err)
	}
	if err := s.store.ClearCartTx(ctx, tx, order.UserID); err != nil {
		return false, fmt.Errorf("failed to clear cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit order completion: %w", err)
	}

	s.afterCompletion(ctx, order, items, products, courseIDs, enrollments)
	return true, nil
}

// CompleteZeroTotalOrder completes an order whose total was fully
// covered by discount and credit. No funds were collected and no
// course lock is taken; a $0 order still must fulfill.
func (s *FulfillmentService) CompleteZeroTotalOrder(ctx context.Context, order *models.Order) error {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.CompleteZeroTotalOrder")
	defer span.End()

	items, err := s.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return err
	}
	products, err := s.loadProducts(ctx, items)
	if err != nil {
		return err
	}

	tx, err := s.store.BeginTxx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	enrollments := 0
	courseIDs := []int64{}
	for _, item := range items {
		courseID, ok := products[item.ProductID].CourseID()
		if !ok {
			continue
		}
		courseIDs = append(courseIDs, courseID)
		for unit := 0; unit < item.Quantity; unit++ {
			enrollment := &models.Enrollment{
				CourseID:    courseID,
				OrderItemID: sql.NullInt64{Int64: item.ID, Valid: true},
				PurchaserID: order.UserID,
				Confirmed:   true,
			}
			if err := s.store.CreateEnrollmentTx(ctx, tx, enrollment); err != nil {
				return fmt.Errorf("failed to create enrollment: %w", err)
			}
			enrollments++
		}
		if err := s.store.MarkOrderItemFulfilledTx(ctx, tx, item.ID); err != nil {
			return err
		}
	}

	if err := s.store.UpdateOrderStatusTx(ctx, tx, order.ID, models.OrderStatusCompleted); err != nil {
		return fmt.Errorf("failed to complete order: %w", err)
	}
	if err := s.store.ClearCartTx(ctx, tx, order.UserID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit zero-total completion: %w", err)
	}

	order.Status = models.OrderStatusCompleted
	s.afterCompletion(ctx, order, items, products, courseIDs, enrollments)
	return nil
}

// FulfillGiftCard issues one gift card per unit of the order item.
// Zero-denomination types take the amount from the snapshotted unit
// price (customer-chosen amount).
func (s *FulfillmentService) FulfillGiftCard(ctx context.Context, item *models.OrderItem, product *models.Product, purchaserID int64) ([]models.GiftCard, error) {
	if product.Kind != models.KindGiftCardType {
		return nil, fmt.Errorf("product %d is not a gift card type", product.ID)
	}

	gct, err := s.store.GetGiftCardTypeByID(ctx, product.ProductableID.Int64)
	if err != nil {
		return nil, err
	}
	if gct == nil {
		return nil, fmt.Errorf("gift card type %d: %w", product.ProductableID.Int64, ErrNotFound)
	}

	amount := gct.Denomination
	if amount <= 0 {
		amount = item.UnitPrice
	}

	cards := make([]models.GiftCard, 0, item.Quantity)
	for unit := 0; unit < item.Quantity; unit++ {
		card, err := s.issueGiftCard(ctx, gct.ID, amount, purchaserID, item.OrderID)
		if err != nil {
			return cards, err
		}
		cards = append(cards, *card)

		util.GiftCardsIssuedTotal.Inc()
		s.publisher.PublishGiftCardIssued(ctx, card)
	}
	return cards, nil
}

// RedeemGiftCard converts a card's full remaining balance into store
// credit for the redeeming user. Single full redemption: the card is
// zeroed and stamped in the same transaction as the credit.
func (s *FulfillmentService) RedeemGiftCard(ctx context.Context, code string, userID int64) (*models.CreditTransaction, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.RedeemGiftCard")
	defer span.End()

	card, err := s.store.GetGiftCardByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, fmt.Errorf("gift card %q: %w", code, ErrNotFound)
	}
	if !card.Active {
		return nil, Invalidf("This gift card is no longer active")
	}
	if card.RedeemedAt.Valid {
		return nil, Invalidf("This gift card has already been redeemed")
	}
	if card.RemainingAmount <= 0 {
		return nil, Invalidf("This gift card has no remaining balance")
	}

	tx, err := s.store.BeginTxx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	redeemed, err := s.store.MarkGiftCardRedeemedTx(ctx, tx, card.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem gift card: %w", err)
	}
	if !redeemed {
		return nil, Invalidf("This gift card has already been redeemed")
	}

	txn, err := s.credit.AdjustCreditTx(ctx, tx, userID, card.RemainingAmount,
		models.CreditTypeGiftCardRedemption, "gift_card", card.ID,
		fmt.Sprintf("Gift card %s redeemed", card.Code))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit redemption: %w", err)
	}

	s.logger.Info("Gift card redeemed",
		zap.Int64("gift_card_id", card.ID),
		zap.Int64("user_id", userID),
		zap.Int64("amount", card.RemainingAmount))

	return txn, nil
}

// RefundOrder is the manual admin action: refund collected funds,
// return applied store credit, and move the order to Refunded.
func (s *FulfillmentService) RefundOrder(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.RefundOrder")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if order.Status != models.OrderStatusCompleted {
		return Invalidf("Only completed orders can be refunded")
	}

	if order.StripePaymentIntentID.Valid && order.Total > 0 {
		if err := s.gateway.RefundPaymentIntent(ctx, order.StripePaymentIntentID.String, 0); err != nil {
			return fmt.Errorf("gateway refund failed: %w", err)
		}
	}

	if order.CreditApplied > 0 {
		_, err := s.credit.AdjustCredit(ctx, order.UserID, order.CreditApplied,
			models.CreditTypeRefund, "order", order.ID,
			fmt.Sprintf("Credit returned for refunded order #%d", order.ID))
		if err != nil {
			return err
		}
	}

	if err := s.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusRefunded); err != nil {
		return err
	}

	util.OrdersRefundedTotal.Inc()
	s.publisher.PublishOrderRefunded(ctx, order)
	return nil
}

// FailOrder moves a pending order to Failed and returns the funds it
// had already taken. Used by the payment-failure webhook; a non-pending
// order is left alone.
func (s *FulfillmentService) FailOrder(ctx context.Context, order *models.Order, reason string) error {
	if order.Status != models.OrderStatusPending {
		return nil
	}

	if err := s.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusFailed); err != nil {
		return fmt.Errorf("failed to mark order failed: %w", err)
	}
	order.Status = models.OrderStatusFailed

	s.returnOrderFunds(ctx, order)
	s.publisher.PublishOrderFailed(ctx, order, reason, false)
	return nil
}

// failOversoldOrder rejects the whole order after a capacity shortfall
// and refunds any collected funds. Runs outside the completion
// transaction; webhook callers have no user to report to, so the
// outcome is logged rather than raised.
func (s *FulfillmentService) failOversoldOrder(ctx context.Context, order *models.Order, courseID int64, available, requested int) {
	util.OversellRejectionsTotal.Inc()
	s.logger.Warn("Order rejected: course capacity exceeded at completion",
		zap.Int64("order_id", order.ID),
		zap.Int64("course_id", courseID),
		zap.Int("available", available),
		zap.Int("requested", requested))

	if err := s.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusFailed); err != nil {
		s.logger.Error("Failed to mark order failed", zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}

	s.returnOrderFunds(ctx, order)

	refunded := false
	if order.StripePaymentIntentID.Valid {
		if err := s.gateway.RefundPaymentIntent(ctx, order.StripePaymentIntentID.String, 0); err != nil {
			s.logger.Error("Failed to refund rejected order",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		} else {
			refunded = true
		}
	}

	s.publisher.PublishOrderFailed(ctx, order, "course capacity exceeded", refunded)
}

// returnOrderFunds gives back what a failing order had already taken
// from the customer's account: the applied store credit goes back
// through the ledger and the claimed discount use is released. The
// order is already Failed, so errors here are logged for operator
// follow-up rather than raised.
func (s *FulfillmentService) returnOrderFunds(ctx context.Context, order *models.Order) {
	if order.CreditApplied > 0 {
		_, err := s.credit.AdjustCredit(ctx, order.UserID, order.CreditApplied,
			models.CreditTypeRefund, "order", order.ID,
			fmt.Sprintf("Credit returned for failed order #%d", order.ID))
		if err != nil {
			s.logger.Error("Failed to return credit for failed order",
				zap.Int64("order_id", order.ID),
				zap.Int64("amount", order.CreditApplied),
				zap.Error(err))
		}
	}
	if order.DiscountCodeID.Valid {
		if err := s.store.DecrementDiscountUse(ctx, order.DiscountCodeID.Int64); err != nil {
			s.logger.Error("Failed to release discount use for failed order",
				zap.Int64("order_id", order.ID),
				zap.Int64("code_id", order.DiscountCodeID.Int64),
				zap.Error(err))
		}
	}
}

// afterCompletion runs the post-commit side effects: gift card
// issuance, cache invalidation, events, metrics
func (s *FulfillmentService) afterCompletion(ctx context.Context, order *models.Order, items []models.OrderItem, products map[int64]*models.Product, courseIDs []int64, enrollments int) {
	for i := range items {
		product := products[items[i].ProductID]
		if product.Kind != models.KindGiftCardType {
			continue
		}
		if _, err := s.FulfillGiftCard(ctx, &items[i], product, order.UserID); err != nil {
			s.logger.Error("Gift card issuance failed",
				zap.Int64("order_id", order.ID),
				zap.Int64("order_item_id", items[i].ID),
				zap.Error(err))
			continue
		}
		if err := s.store.MarkOrderItemFulfilled(ctx, items[i].ID); err != nil {
			s.logger.Error("Failed to mark gift card item fulfilled",
				zap.Int64("order_item_id", items[i].ID),
				zap.Error(err))
		}
	}

	if s.redis != nil {
		for _, courseID := range courseIDs {
			if err := s.redis.InvalidateCourseAvailability(ctx, courseID); err != nil {
				s.logger.Warn("Failed to invalidate availability cache",
					zap.Int64("course_id", courseID),
					zap.Error(err))
			}
		}
	}

	util.OrdersCompletedTotal.Inc()
	s.publisher.PublishOrderCompleted(ctx, order, items, enrollments)
	s.logger.Info("Order completed",
		zap.Int64("order_id", order.ID),
		zap.Int("enrollments", enrollments))
}

// loadProducts maps an order's items to their products with kinds
// resolved
func (s *FulfillmentService) loadProducts(ctx context.Context, items []models.OrderItem) (map[int64]*models.Product, error) {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*models.Product, len(products))
	for i := range products {
		out[products[i].ID] = &products[i]
	}
	for _, item := range items {
		if _, ok := out[item.ProductID]; !ok {
			return nil, fmt.Errorf("product %d referenced by order item %d not found", item.ProductID, item.ID)
		}
	}
	return out, nil
}

// issueGiftCard inserts a card, regenerating the code on a collision
func (s *FulfillmentService) issueGiftCard(ctx context.Context, typeID, amount, purchaserID, orderID int64) (*models.GiftCard, error) {
	for attempt := 0; attempt < giftCardCodeAttempts; attempt++ {
		code, err := GenerateGiftCardCode()
		if err != nil {
			return nil, err
		}

		card := &models.GiftCard{
			Code:            code,
			GiftCardTypeID:  typeID,
			InitialAmount:   amount,
			RemainingAmount: amount,
			PurchaserID:     purchaserID,
			OrderID:         sql.NullInt64{Int64: orderID, Valid: true},
			Active:          true,
		}

		err = s.store.InsertGiftCard(ctx, card)
		if errors.Is(err, store.ErrDuplicateGiftCardCode) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to insert gift card: %w", err)
		}
		return card, nil
	}
	return nil, fmt.Errorf("could not generate a unique gift card code after %d attempts", giftCardCodeAttempts)
}

// GenerateGiftCardCode produces a 16-character uppercase alphanumeric
// code from a cryptographic source
func GenerateGiftCardCode() (string, error) {
	buf := make([]byte, giftCardCodeLength)
	max := big.NewInt(int64(len(giftCardCodeCharset)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate gift card code: %w", err)
		}
		buf[i] = giftCardCodeCharset[n.Int64()]
	}
	return string(buf), nil
}
