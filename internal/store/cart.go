package store

import (
	"context"

	"furbox-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// UpsertCartItem sets the quantity of a cart line
func (q *txQueries) UpsertCartItem(ctx context.Context, item *models.CartItem) error {
	return q.tx.QueryRowxContext(ctx, `
		INSERT INTO cart_items (user_id, variant_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, variant_id) DO UPDATE SET quantity = EXCLUDED.quantity
		RETURNING created_at`,
		item.UserID, item.VariantID, item.Quantity,
	).Scan(&item.CreatedAt)
}

// ListCartItems retrieves a user's cart
func (q *txQueries) ListCartItems(ctx context.Context, userID int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	err := q.tx.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE user_id = $1 ORDER BY created_at", userID)
	return items, err
}

// DeleteCartItems removes the given variants from a user's cart
func (q *txQueries) DeleteCartItems(ctx context.Context, userID int64, variantIDs []int64) error {
	if len(variantIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In("DELETE FROM cart_items WHERE user_id = ? AND variant_id IN (?)", userID, variantIDs)
	if err != nil {
		return err
	}
	_, err = q.tx.ExecContext(ctx, q.tx.Rebind(query), args...)
	return err
}
