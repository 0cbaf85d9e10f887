package store

import (
	"context"
	"database/sql"
	"errors"

	"studio-commerce/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrDuplicateGiftCardCode signals a code collision on insert; the
// caller retries with a fresh code.
var ErrDuplicateGiftCardCode = errors.New("gift card code already exists")

// InsertGiftCard inserts a card, relying on the unique constraint on
// code to detect collisions
func (s *Store) InsertGiftCard(ctx context.Context, card *models.GiftCard) error {
	query := `
		INSERT INTO gift_cards (code, gift_card_type_id, initial_amount, remaining_amount, purchaser_id, order_id, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := s.db.GetContext(ctx, card, query,
		card.Code, card.GiftCardTypeID, card.InitialAmount, card.RemainingAmount,
		card.PurchaserID, card.OrderID, card.Active)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateGiftCardCode
	}
	return err
}

// GetGiftCardByCode retrieves a card by its code
func (s *Store) GetGiftCardByCode(ctx context.Context, code string) (*models.GiftCard, error) {
	var card models.GiftCard
	err := s.db.GetContext(ctx, &card, "SELECT * FROM gift_cards WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// MarkGiftCardRedeemedTx zeroes the card and stamps the redeemer
// within a transaction. The status predicate makes a concurrent double
// redemption lose cleanly.
func (s *Store) MarkGiftCardRedeemedTx(ctx context.Context, tx *sqlx.Tx, cardID, userID int64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE gift_cards
		 SET remaining_amount = 0, redeemed_by_id = $1, redeemed_at = NOW()
		 WHERE id = $2 AND active = true AND redeemed_at IS NULL AND remaining_amount > 0`,
		userID, cardID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetGiftCardTypeByID retrieves a gift card type
func (s *Store) GetGiftCardTypeByID(ctx context.Context, id int64) (*models.GiftCardType, error) {
	var gct models.GiftCardType
	err := s.db.GetContext(ctx, &gct, "SELECT * FROM gift_card_types WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &gct, nil
}
