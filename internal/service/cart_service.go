package service

import (
	"context"
	"errors"
	"fmt"

	"furbox-service/internal/apperr"
	"furbox-service/internal/models"
	"furbox-service/internal/store"
	"furbox-service/internal/util"

	"go.uber.org/zap"
)

// CartService keeps the per-user cart read by standard checkout
type CartService struct {
	store  store.Runner
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(runner store.Runner) *CartService {
	return &CartService{store: runner, logger: util.GetLogger()}
}

// CartItemRequest sets the quantity of one variant in the cart
type CartItemRequest struct {
	VariantID int64 `json:"variant_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1,max=999"`
}

// AddItem sets the quantity of a purchasable variant in the cart
func (s *CartService) AddItem(ctx context.Context, userID int64, req *CartItemRequest) ([]models.CartItem, error) {
	if err := checkLineQuantity(req.VariantID, req.Quantity); err != nil {
		return nil, err
	}

	var items []models.CartItem
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		v, err := q.GetVariant(ctx, req.VariantID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Product variant %d not found", req.VariantID)
		}
		if err != nil {
			return fmt.Errorf("failed to load variant: %w", err)
		}
		if !v.IsActive || !v.ProductIsActive {
			return apperr.BadRequest("%s (%s) is not available", v.ProductName, v.Name)
		}

		if err := q.UpsertCartItem(ctx, &models.CartItem{
			UserID:    userID,
			VariantID: req.VariantID,
			Quantity:  req.Quantity,
		}); err != nil {
			return fmt.Errorf("failed to save cart item: %w", err)
		}

		items, err = q.ListCartItems(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Cart item saved",
		zap.Int64("user_id", userID),
		zap.Int64("variant_id", req.VariantID),
		zap.Int("quantity", req.Quantity))
	return items, nil
}

// RemoveItem drops a variant from the cart. Absent variants are ignored.
func (s *CartService) RemoveItem(ctx context.Context, userID, variantID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		if err := q.DeleteCartItems(ctx, userID, []int64{variantID}); err != nil {
			return fmt.Errorf("failed to remove cart item: %w", err)
		}
		var err error
		items, err = q.ListCartItems(ctx, userID)
		return err
	})
	return items, err
}

// GetCart returns the cart of userID
func (s *CartService) GetCart(ctx context.Context, userID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		items, err = q.ListCartItems(ctx, userID)
		return err
	})
	return items, err
}
