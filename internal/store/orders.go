package store

import (
	"context"
	"database/sql"
	"fmt"

	"studio-commerce/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder creates a new pending order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, status, subtotal, discount_code_id, discount_amount, credit_applied, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, order, query,
		order.UserID, order.Status, order.Subtotal, order.DiscountCodeID,
		order.DiscountAmount, order.CreditApplied, order.Total)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetPendingOrderByPaymentIntent finds the pending order tied to a
// payment intent (used by the failure webhook)
func (s *Store) GetPendingOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE stripe_payment_intent_id = $1 AND status = $2",
		intentID, models.OrderStatusPending)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus updates order status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// UpdateOrderStatusTx updates order status within a transaction
func (s *Store) UpdateOrderStatusTx(ctx context.Context, tx *sqlx.Tx, orderID int64, status string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// SetOrderCheckoutSession persists the gateway session id on the order
func (s *Store) SetOrderCheckoutSession(ctx context.Context, orderID int64, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET stripe_session_id = $1, updated_at = NOW() WHERE id = $2",
		sessionID, orderID)
	return err
}

// SetOrderPaymentIntent persists the gateway payment intent id
func (s *Store) SetOrderPaymentIntent(ctx context.Context, orderID int64, intentID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET stripe_payment_intent_id = $1, updated_at = NOW() WHERE id = $2",
		intentID, orderID)
	return err
}

// UpdateOrderPricing applies discount/credit adjustments to the order
// row within a transaction
func (s *Store) UpdateOrderPricing(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE orders SET discount_code_id = $1, discount_amount = $2,
		 credit_applied = $3, total = $4, updated_at = NOW()
		 WHERE id = $5`,
		order.DiscountCodeID, order.DiscountAmount, order.CreditApplied, order.Total, order.ID)
	return err
}

// CreateOrderItem creates a new order item
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price, fulfillment_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return s.db.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice,
		item.TotalPrice, item.FulfillmentStatus)
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// MarkOrderItemFulfilledTx marks an order item fulfilled within a
// transaction
func (s *Store) MarkOrderItemFulfilledTx(ctx context.Context, tx *sqlx.Tx, itemID int64) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE order_items SET fulfillment_status = $1 WHERE id = $2",
		models.FulfillmentFulfilled, itemID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("order item not found: %d", itemID)
	}
	return nil
}

// GetOrderForUpdateTx locks the order row for the duration of the
// completion transaction so duplicate webhook deliveries serialize
func (s *Store) GetOrderForUpdateTx(ctx context.Context, tx *sqlx.Tx, orderID int64) (*models.Order, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkOrderItemFulfilled marks an order item fulfilled outside a
// transaction (post-commit gift card issuance)
func (s *Store) MarkOrderItemFulfilled(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE order_items SET fulfillment_status = $1 WHERE id = $2",
		models.FulfillmentFulfilled, itemID)
	return err
}
