package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"furbox-service/internal/models"
)

// NextOrderSequence bumps the per-day counter. The upsert holds the day's row
// lock until commit, so concurrent transactions get distinct values.
func (q *txQueries) NextOrderSequence(ctx context.Context, day time.Time) (int, error) {
	var seq int
	err := q.tx.GetContext(ctx, &seq, `
		INSERT INTO order_sequences (day, seq) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET seq = order_sequences.seq + 1
		RETURNING seq`, day.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate order sequence: %w", err)
	}
	return seq, nil
}

// CreateOrder creates an order and its items
func (q *txQueries) CreateOrder(ctx context.Context, o *models.Order) error {
	err := q.tx.QueryRowxContext(ctx, `
		INSERT INTO orders (order_number, user_id, source, subtotal, discount, tax, shipping_cost,
		                    total, status, payment_status, payment_method, shipping_address, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`,
		o.OrderNumber, o.UserID, o.Source, o.Subtotal, o.Discount, o.Tax, o.ShippingCost,
		o.Total, o.Status, o.PaymentStatus, o.PaymentMethod, o.ShippingAddress, o.Notes,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order number %s: %w", o.OrderNumber, ErrDuplicate)
		}
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		item.OrderID = o.ID
		err := q.tx.GetContext(ctx, &item.ID, `
			INSERT INTO order_items (order_id, product_id, variant_id, product_name, variant_name,
			                         sku, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			item.OrderID, item.ProductID, item.VariantID, item.ProductName, item.VariantName,
			item.SKU, item.Quantity, item.UnitPrice, item.LineTotal)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

// GetOrder retrieves an order with its items
func (q *txQueries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return q.loadOrder(ctx, "SELECT * FROM orders WHERE id = $1", id)
}

// LockOrder retrieves an order and locks its row
func (q *txQueries) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return q.loadOrder(ctx, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (q *txQueries) loadOrder(ctx context.Context, query string, id int64) (*models.Order, error) {
	var order models.Order
	err := q.tx.GetContext(ctx, &order, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	items := []models.OrderItem{}
	if err := q.tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", id); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	order.Items = items
	return &order, nil
}

// ListOrdersByUser retrieves orders for a user without items
func (q *txQueries) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := q.tx.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	return orders, err
}

// UpdateOrderStatus updates order status
func (q *txQueries) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	_, err := q.tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	return err
}

// LastCycleNumber returns the highest cycle number of a plan, 0 if none
func (q *txQueries) LastCycleNumber(ctx context.Context, planID int64) (int, error) {
	var n int
	err := q.tx.GetContext(ctx, &n,
		"SELECT COALESCE(MAX(cycle_number), 0) FROM plan_cycles WHERE plan_id = $1", planID)
	return n, err
}

func (q *txQueries) CreatePlanCycle(ctx context.Context, c *models.PlanCycle) error {
	err := q.tx.QueryRowxContext(ctx, `
		INSERT INTO plan_cycles (plan_id, order_id, cycle_number, budget_used, budget_remaining,
		                         products_snapshot, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		c.PlanID, c.OrderID, c.CycleNumber, c.BudgetUsed, c.BudgetRemaining, c.ProductsSnapshot, c.Status,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("plan %d cycle %d: %w", c.PlanID, c.CycleNumber, ErrDuplicate)
	}
	return err
}

func (q *txQueries) ListPlanCycles(ctx context.Context, planID int64) ([]models.PlanCycle, error) {
	var cycles []models.PlanCycle
	err := q.tx.SelectContext(ctx, &cycles,
		"SELECT * FROM plan_cycles WHERE plan_id = $1 ORDER BY cycle_number", planID)
	return cycles, err
}

func (q *txQueries) UpdateCycleStatusByOrder(ctx context.Context, orderID int64, status string) error {
	_, err := q.tx.ExecContext(ctx,
		"UPDATE plan_cycles SET status = $1 WHERE order_id = $2", status, orderID)
	return err
}

func (q *txQueries) CreateBundleOrder(ctx context.Context, b *models.BundleOrder) error {
	err := q.tx.QueryRowxContext(ctx, `
		INSERT INTO bundle_orders (bundle_id, order_id, item_count, subtotal, discount, products_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		b.BundleID, b.OrderID, b.ItemCount, b.Subtotal, b.Discount, b.ProductsSnapshot,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("bundle %d: %w", b.BundleID, ErrDuplicate)
	}
	return err
}
