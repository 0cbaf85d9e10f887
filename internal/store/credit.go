package store

import (
	"context"
	"database/sql"
	"fmt"

	"studio-commerce/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetUserStripeCustomerID persists the gateway customer id for reuse
func (s *Store) SetUserStripeCustomerID(ctx context.Context, userID int64, customerID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET stripe_customer_id = $1 WHERE id = $2",
		customerID, userID)
	return err
}

// AdjustCreditTx atomically moves the user's balance and appends the
// matching ledger row inside the caller's transaction. The balance
// update is an in-place increment, never a read-modify-write, so
// concurrent debits cannot lose updates.
func (s *Store) AdjustCreditTx(ctx context.Context, tx *sqlx.Tx, txn *models.CreditTransaction) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE users SET credit_balance = credit_balance + $1 WHERE id = $2",
		txn.Amount, txn.UserID)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("user not found: %d", txn.UserID)
	}

	query := `
		INSERT INTO credit_transactions (user_id, amount, type, reference_type, reference_id, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return tx.GetContext(ctx, txn, query,
		txn.UserID, txn.Amount, txn.Type, txn.ReferenceType, txn.ReferenceID, txn.Description)
}

// GetCreditTransactions returns a user's ledger, newest first
func (s *Store) GetCreditTransactions(ctx context.Context, userID int64) ([]models.CreditTransaction, error) {
	var txns []models.CreditTransaction
	err := s.db.SelectContext(ctx, &txns,
		"SELECT * FROM credit_transactions WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return txns, err
}
