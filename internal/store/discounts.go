package store

import (
	"context"
	"database/sql"

	"studio-commerce/internal/models"
)

// GetDiscountCodeByCode looks a code up by its exact string
func (s *Store) GetDiscountCodeByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	var dc models.DiscountCode
	err := s.db.GetContext(ctx, &dc, "SELECT * FROM discount_codes WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dc, nil
}

// CountUserOrdersWithCode counts a user's non-failed orders that
// redeemed the given code, for per-user use limits
func (s *Store) CountUserOrdersWithCode(ctx context.Context, userID, codeID int64) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM orders
		 WHERE user_id = $1 AND discount_code_id = $2 AND status != $3`,
		userID, codeID, models.OrderStatusFailed)
	return count, err
}

// DiscountCodeProductIDs returns the ids of products a code is scoped
// to; empty means the code applies storewide
func (s *Store) DiscountCodeProductIDs(ctx context.Context, codeID int64) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		"SELECT product_id FROM discount_code_products WHERE discount_code_id = $1", codeID)
	return ids, err
}

// IncrementDiscountUse bumps times_used with a guard on the global use
// limit. Returns false when a concurrent checkout exhausted the code
// first; the caller must then reject the discount.
func (s *Store) IncrementDiscountUse(ctx context.Context, codeID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discount_codes SET times_used = times_used + 1
		 WHERE id = $1 AND (max_uses IS NULL OR times_used < max_uses)`,
		codeID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DecrementDiscountUse returns a reserved use when the checkout that
// claimed it fails before the order is persisted
func (s *Store) DecrementDiscountUse(ctx context.Context, codeID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE discount_codes SET times_used = GREATEST(times_used - 1, 0) WHERE id = $1",
		codeID)
	return err
}
