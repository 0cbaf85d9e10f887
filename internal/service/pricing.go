package service

import (
	"context"
	"fmt"
	"time"

	"studio-commerce/internal/models"
	"studio-commerce/internal/store"
	"studio-commerce/internal/util"

	"go.uber.org/zap"
)

// PricingService validates and applies discount codes and resolves
// payment plan eligibility.
type PricingService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewPricingService creates a new pricing service
func NewPricingService(store *store.Store) *PricingService {
	return &PricingService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// ApplyDiscountCode resolves a code string against a checkout: exact
// lookup, validity for this user, minimum order amount, and product
// scope. Returns the code for the caller to price in; it does NOT
// consume a use (checkout does that with a guarded increment once the
// order is committed to).
func (s *PricingService) ApplyDiscountCode(ctx context.Context, code string, userID, subtotal int64, productIDs []int64) (*models.DiscountCode, error) {
	dc, err := s.store.GetDiscountCodeByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to look up discount code: %w", err)
	}
	if dc == nil {
		return nil, fmt.Errorf("discount code %q: %w", code, ErrNotFound)
	}

	priorUses := int64(0)
	if dc.MaxUsesPerUser.Valid {
		priorUses, err = s.store.CountUserOrdersWithCode(ctx, userID, dc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count code uses: %w", err)
		}
	}

	if !dc.UsableBy(time.Now(), priorUses) {
		return nil, Invalidf("This discount code is invalid or has expired")
	}

	if dc.MinOrderAmount.Valid && subtotal < dc.MinOrderAmount.Int64 {
		return nil, Invalidf("This discount code requires a minimum order of %s",
			models.FormatAmount(dc.MinOrderAmount.Int64))
	}

	scoped, err := s.store.DiscountCodeProductIDs(ctx, dc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load code product scope: %w", err)
	}
	if len(scoped) > 0 && !intersects(scoped, productIDs) {
		return nil, Invalidf("This discount code does not apply to any items in your cart")
	}

	s.logger.Info("Discount code applied",
		zap.String("code", dc.Code),
		zap.Int64("user_id", userID),
		zap.Int64("discount", dc.CalculateDiscount(subtotal)))

	return dc, nil
}

// EligiblePlanTemplates returns active templates whose product-type
// and price rules match the product
func (s *PricingService) EligiblePlanTemplates(ctx context.Context, product *models.Product) ([]models.PaymentPlanTemplate, error) {
	tmpls, err := s.store.GetActivePlanTemplates(ctx)
	if err != nil {
		return nil, err
	}

	eligible := make([]models.PaymentPlanTemplate, 0, len(tmpls))
	for _, tmpl := range tmpls {
		if tmpl.Matches(product) {
			eligible = append(eligible, tmpl)
		}
	}
	return eligible, nil
}

func intersects(a, b []int64) bool {
	set := make(map[int64]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
