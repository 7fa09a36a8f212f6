package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"furbox-service/internal/models"
)

const variantColumns = `
	v.id, v.product_id, p.name AS product_name, v.name, v.sku, v.price, v.stock,
	v.is_active, p.is_active AS product_is_active`

// GetVariant retrieves a variant joined with its product
func (q *txQueries) GetVariant(ctx context.Context, variantID int64) (*models.Variant, error) {
	var v models.Variant
	err := q.tx.GetContext(ctx, &v, `
		SELECT `+variantColumns+`
		FROM product_variants v
		INNER JOIN products p ON p.id = v.product_id
		WHERE v.id = $1`, variantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("variant %d: %w", variantID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// AdjustStock changes stock with a single conditional UPDATE so concurrent
// writers never read-modify-write across round trips.
func (q *txQueries) AdjustStock(ctx context.Context, variantID int64, delta int, reason string, orderID *int64) (*models.InventoryLog, error) {
	var newStock int
	err := q.tx.GetContext(ctx, &newStock, `
		UPDATE product_variants
		SET stock = stock + $1, updated_at = NOW()
		WHERE id = $2 AND stock + $1 >= 0
		RETURNING stock`, delta, variantID)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := q.tx.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM product_variants WHERE id = $1)", variantID); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("variant %d: %w", variantID, ErrNotFound)
		}
		return nil, fmt.Errorf("variant %d: %w", variantID, ErrInsufficientStock)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to adjust stock: %w", err)
	}

	entry := &models.InventoryLog{
		VariantID:     variantID,
		Delta:         delta,
		PreviousStock: newStock - delta,
		NewStock:      newStock,
		Reason:        reason,
		OrderID:       orderID,
	}
	err = q.tx.QueryRowxContext(ctx, `
		INSERT INTO inventory_logs (variant_id, delta, previous_stock, new_stock, reason, order_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		entry.VariantID, entry.Delta, entry.PreviousStock, entry.NewStock, entry.Reason, entry.OrderID,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to write inventory log: %w", err)
	}
	return entry, nil
}

// ListInventoryLogs retrieves the stock history of a variant, oldest first
func (q *txQueries) ListInventoryLogs(ctx context.Context, variantID int64) ([]models.InventoryLog, error) {
	var logs []models.InventoryLog
	err := q.tx.SelectContext(ctx, &logs,
		"SELECT * FROM inventory_logs WHERE variant_id = $1 ORDER BY id", variantID)
	return logs, err
}

// GetAddress retrieves an address by ID
func (q *txQueries) GetAddress(ctx context.Context, id int64) (*models.Address, error) {
	var addr models.Address
	err := q.tx.GetContext(ctx, &addr, "SELECT * FROM addresses WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("address %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// GetDefaultAddress retrieves the user's default address
func (q *txQueries) GetDefaultAddress(ctx context.Context, userID int64) (*models.Address, error) {
	var addr models.Address
	err := q.tx.GetContext(ctx, &addr,
		"SELECT * FROM addresses WHERE user_id = $1 AND is_default ORDER BY id LIMIT 1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("default address for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}
