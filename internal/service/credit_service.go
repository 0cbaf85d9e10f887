package service

import (
	"context"
	"database/sql"
	"fmt"

	"studio-commerce/internal/models"
	"studio-commerce/internal/store"
	"studio-commerce/internal/util"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// CreditService owns the store-credit ledger. Every balance move is an
// atomic increment paired with an append-only CreditTransaction row in
// the same transaction, so the ledger and the denormalized balance can
// never diverge.
type CreditService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewCreditService creates a new credit service
func NewCreditService(store *store.Store) *CreditService {
	return &CreditService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// AdjustCredit moves a user's balance by amount (negative debits) and
// records the ledger row. No sign validation happens here; callers
// clamp the applied amount to the available balance first.
func (s *CreditService) AdjustCredit(ctx context.Context, userID, amount int64, txnType, refType string, refID int64, description string) (*models.CreditTransaction, error) {
	tx, err := s.store.BeginTxx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txn, err := s.AdjustCreditTx(ctx, tx, userID, amount, txnType, refType, refID, description)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit adjustment: %w", err)
	}
	return txn, nil
}

// AdjustCreditTx is the in-transaction variant used by checkout and
// fulfillment so the ledger write shares their transaction.
func (s *CreditService) AdjustCreditTx(ctx context.Context, tx *sqlx.Tx, userID, amount int64, txnType, refType string, refID int64, description string) (*models.CreditTransaction, error) {
	txn := &models.CreditTransaction{
		UserID:      userID,
		Amount:      amount,
		Type:        txnType,
		Description: description,
	}
	if refType != "" {
		txn.ReferenceType = sql.NullString{String: refType, Valid: true}
		txn.ReferenceID = sql.NullInt64{Int64: refID, Valid: true}
	}

	if err := s.store.AdjustCreditTx(ctx, tx, txn); err != nil {
		return nil, fmt.Errorf("failed to adjust credit: %w", err)
	}

	s.logger.Info("Credit adjusted",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.String("type", txnType))

	return txn, nil
}

// Balance returns the user's current credit balance
func (s *CreditService) Balance(ctx context.Context, userID int64) (int64, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.CreditBalance, nil
}

// History returns the user's ledger, newest first
func (s *CreditService) History(ctx context.Context, userID int64) ([]models.CreditTransaction, error) {
	return s.store.GetCreditTransactions(ctx, userID)
}
