package broker

import (
	"context"
	"fmt"
	"time"

	"studio-commerce/internal/models"
	"studio-commerce/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// publisher is the minimal producer surface EventPublisher needs
type publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher emits domain events for downstream consumers (the
// notification mailer, analytics). Publishing is fire-and-forget from
// the business operation's point of view: failures are logged and the
// operation proceeds.
type EventPublisher struct {
	producer publisher
	logger   *zap.Logger
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer publisher) *EventPublisher {
	return &EventPublisher{
		producer: producer,
		logger:   util.GetLogger(),
	}
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func (ep *EventPublisher) publish(ctx context.Context, key string, event interface{}) {
	if ep == nil || ep.producer == nil {
		return
	}
	if err := ep.producer.PublishEvent(ctx, key, event); err != nil {
		ep.logger.Error("Failed to publish event",
			zap.String("key", key),
			zap.Error(err))
	}
}

// PublishOrderCompleted publishes OrderCompleted
func (ep *EventPublisher) PublishOrderCompleted(ctx context.Context, order *models.Order, items []models.OrderItem, enrollments int) {
	itemData := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		itemData = append(itemData, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	ep.publish(ctx, orderKey(order.ID), &models.OrderCompletedEvent{
		BaseEvent:   ep.base(models.EventTypeOrderCompleted),
		OrderID:     order.ID,
		UserID:      order.UserID,
		Total:       order.Total,
		Enrollments: enrollments,
		Items:       itemData,
	})
}

// PublishOrderFailed publishes OrderFailed
func (ep *EventPublisher) PublishOrderFailed(ctx context.Context, order *models.Order, reason string, refunded bool) {
	ep.publish(ctx, orderKey(order.ID), &models.OrderFailedEvent{
		BaseEvent: ep.base(models.EventTypeOrderFailed),
		OrderID:   order.ID,
		UserID:    order.UserID,
		Reason:    reason,
		Refunded:  refunded,
	})
}

// PublishOrderRefunded publishes OrderRefunded
func (ep *EventPublisher) PublishOrderRefunded(ctx context.Context, order *models.Order) {
	ep.publish(ctx, orderKey(order.ID), &models.OrderRefundedEvent{
		BaseEvent: ep.base(models.EventTypeOrderRefunded),
		OrderID:   order.ID,
		UserID:    order.UserID,
		Amount:    order.Total,
	})
}

// PublishGiftCardIssued publishes GiftCardIssued
func (ep *EventPublisher) PublishGiftCardIssued(ctx context.Context, card *models.GiftCard) {
	ep.publish(ctx, fmt.Sprintf("gift-card-%d", card.ID), &models.GiftCardIssuedEvent{
		BaseEvent:   ep.base(models.EventTypeGiftCardIssued),
		GiftCardID:  card.ID,
		OrderID:     card.OrderID.Int64,
		PurchaserID: card.PurchaserID,
		Amount:      card.InitialAmount,
	})
}

// PublishInstallmentPaid publishes InstallmentPaid
func (ep *EventPublisher) PublishInstallmentPaid(ctx context.Context, plan *models.PaymentPlan, inst *models.Installment) {
	ep.publish(ctx, planKey(plan.ID), &models.InstallmentPaidEvent{
		BaseEvent:         ep.base(models.EventTypeInstallmentPaid),
		InstallmentID:     inst.ID,
		PlanID:            plan.ID,
		InstallmentNumber: inst.InstallmentNumber,
		Amount:            inst.Amount,
	})
}

// PublishInstallmentOverdue publishes InstallmentOverdue
func (ep *EventPublisher) PublishInstallmentOverdue(ctx context.Context, plan *models.PaymentPlan, inst *models.Installment) {
	ep.publish(ctx, planKey(plan.ID), &models.InstallmentOverdueEvent{
		BaseEvent:         ep.base(models.EventTypeInstallmentOverdue),
		InstallmentID:     inst.ID,
		PlanID:            plan.ID,
		InstallmentNumber: inst.InstallmentNumber,
		Amount:            inst.Amount,
		RetryCount:        inst.RetryCount,
	})
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

func planKey(planID int64) string {
	return fmt.Sprintf("plan-%d", planID)
}
