package store

import (
	"context"
	"database/sql"

	"studio-commerce/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetCartItems retrieves a user's cart lines, oldest first
func (s *Store) GetCartItems(ctx context.Context, userID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE user_id = $1 ORDER BY created_at", userID)
	return items, err
}

// GetCartItem retrieves a cart line by id scoped to its owner
func (s *Store) GetCartItem(ctx context.Context, id, userID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.GetContext(ctx, &item,
		"SELECT * FROM cart_items WHERE id = $1 AND user_id = $2", id, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CartQuantityForProduct returns how many units of a product the user
// already holds in their cart
func (s *Store) CartQuantityForProduct(ctx context.Context, userID, productID int64) (int, error) {
	var quantity int
	err := s.db.GetContext(ctx, &quantity,
		"SELECT COALESCE(SUM(quantity), 0) FROM cart_items WHERE user_id = $1 AND product_id = $2",
		userID, productID)
	return quantity, err
}

// UpsertCartItem adds a product to the cart, incrementing quantity if
// the (user, product) line already exists
func (s *Store) UpsertCartItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error) {
	var item models.CartItem
	query := `
		INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING *`

	if err := s.db.GetContext(ctx, &item, query, userID, productID, quantity); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateCartItemQuantity sets a cart line's quantity
func (s *Store) UpdateCartItemQuantity(ctx context.Context, id, userID int64, quantity int) (*models.CartItem, error) {
	var item models.CartItem
	query := `
		UPDATE cart_items SET quantity = $1, updated_at = NOW()
		WHERE id = $2 AND user_id = $3
		RETURNING *`

	err := s.db.GetContext(ctx, &item, query, quantity, id, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteCartItem removes a cart line. Ownership is enforced by the
// delete predicate itself so there is no check-then-delete race.
func (s *Store) DeleteCartItem(ctx context.Context, id, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ClearCartTx empties a user's cart within a transaction
func (s *Store) ClearCartTx(ctx context.Context, tx *sqlx.Tx, userID int64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID)
	return err
}
