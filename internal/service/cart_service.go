package service

import (
	"context"
	"fmt"
	"time"

	"studio-commerce/internal/models"
	"studio-commerce/internal/redisclient"
	"studio-commerce/internal/store"
	"studio-commerce/internal/util"

	"go.uber.org/zap"
)

const availabilityCacheTTL = 30 * time.Second

// CartService mutates cart lines with a best-effort capacity pre-check
// against course-backed products. The pre-check keeps obviously-full
// courses out of carts for UX; the correctness guarantee is the locked
// re-check at order completion.
type CartService struct {
	store  *store.Store
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store *store.Store, redis *redisclient.Client) *CartService {
	return &CartService{
		store:  store,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// CartLine is one cart row joined with its product
type CartLine struct {
	Item      models.CartItem `json:"item"`
	Product   models.Product  `json:"product"`
	LineTotal int64           `json:"line_total"`
}

// CartView is a user's cart with its running subtotal
type CartView struct {
	Lines    []CartLine `json:"lines"`
	Subtotal int64      `json:"subtotal"`
}

// Add puts quantity units of a product into the user's cart,
// incrementing the existing line if one exists
func (s *CartService) Add(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Add")
	defer span.End()

	if quantity < 1 {
		return nil, Invalidf("Quantity must be at least 1")
	}

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	if !product.Purchasable() {
		return nil, Invalidf("This product is not available for purchase")
	}

	if courseID, ok := product.CourseID(); ok {
		inCart, err := s.store.CartQuantityForProduct(ctx, userID, productID)
		if err != nil {
			return nil, fmt.Errorf("failed to read cart quantity: %w", err)
		}

		available, err := s.availableSeats(ctx, courseID)
		if err != nil {
			return nil, err
		}
		if quantity+inCart > available {
			return nil, Invalidf("Only %d spots left in this class", available)
		}
	}

	item, err := s.store.UpsertCartItem(ctx, userID, productID, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to add to cart: %w", err)
	}

	util.CartMutationsTotal.WithLabelValues("add").Inc()
	s.logger.Info("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", item.Quantity))

	return item, nil
}

// UpdateQuantity sets a cart line's quantity
func (s *CartService) UpdateQuantity(ctx context.Context, userID, itemID int64, quantity int) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateQuantity")
	defer span.End()

	if quantity < 1 {
		return nil, Invalidf("Quantity must be at least 1")
	}

	existing, err := s.store.GetCartItem(ctx, itemID, userID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}

	product, err := s.store.GetProductByID(ctx, existing.ProductID)
	if err != nil {
		return nil, err
	}

	if courseID, ok := product.CourseID(); ok {
		available, err := s.availableSeats(ctx, courseID)
		if err != nil {
			return nil, err
		}
		if quantity > available {
			return nil, Invalidf("Only %d spots left in this class", available)
		}
	}

	item, err := s.store.UpdateCartItemQuantity(ctx, itemID, userID, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}

	util.CartMutationsTotal.WithLabelValues("update").Inc()
	return item, nil
}

// Remove deletes a cart line. Ownership is enforced by the delete
// predicate so there is no window between check and delete.
func (s *CartService) Remove(ctx context.Context, userID, itemID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.Remove")
	defer span.End()

	deleted, err := s.store.DeleteCartItem(ctx, itemID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	if !deleted {
		return fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}

	util.CartMutationsTotal.WithLabelValues("remove").Inc()
	return nil
}

// List returns the user's cart lines with products and subtotal
func (s *CartService) List(ctx context.Context, userID int64) (*CartView, error) {
	items, err := s.store.GetCartItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &CartView{Lines: make([]CartLine, 0, len(items))}
	if len(items) == 0 {
		return view, nil
	}

	productIDs := make([]int64, len(items))
	for i, item := range items {
		productIDs[i] = item.ProductID
	}
	products, err := s.store.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	productMap := make(map[int64]models.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	for _, item := range items {
		product, ok := productMap[item.ProductID]
		if !ok {
			continue
		}
		lineTotal := product.Price * int64(item.Quantity)
		view.Lines = append(view.Lines, CartLine{Item: item, Product: product, LineTotal: lineTotal})
		view.Subtotal += lineTotal
	}
	return view, nil
}

// availableSeats reads remaining seats from the Redis cache, falling
// back to the database and refilling the cache on a miss
func (s *CartService) availableSeats(ctx context.Context, courseID int64) (int, error) {
	if s.redis != nil {
		available, hit, err := s.redis.GetCourseAvailability(ctx, courseID)
		if err != nil {
			s.logger.Warn("Availability cache read failed, falling back to DB",
				zap.Int64("course_id", courseID),
				zap.Error(err))
		} else if hit {
			return available, nil
		}
	}

	available, err := s.store.CourseAvailability(ctx, courseID)
	if err != nil {
		return 0, fmt.Errorf("failed to read course availability: %w", err)
	}

	if s.redis != nil {
		if err := s.redis.SetCourseAvailability(ctx, courseID, available, availabilityCacheTTL); err != nil {
			s.logger.Warn("Availability cache write failed",
				zap.Int64("course_id", courseID),
				zap.Error(err))
		}
	}
	return available, nil
}
