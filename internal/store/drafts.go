package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"furbox-service/internal/models"
)

// CreateDraft creates a new draft
func (q *txQueries) CreateDraft(ctx context.Context, d *models.Draft) error {
	return q.tx.QueryRowxContext(ctx, `
		INSERT INTO drafts (owner_id, kind, budget, pet_type, selected_categories, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		d.OwnerID, d.Kind, d.Budget, d.PetType, d.SelectedCategories, d.Status,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (q *txQueries) GetDraft(ctx context.Context, id int64) (*models.Draft, error) {
	return q.loadDraft(ctx, "SELECT * FROM drafts WHERE id = $1", id)
}

func (q *txQueries) LockDraft(ctx context.Context, id int64) (*models.Draft, error) {
	return q.loadDraft(ctx, "SELECT * FROM drafts WHERE id = $1 FOR UPDATE", id)
}

func (q *txQueries) loadDraft(ctx context.Context, query string, id int64) (*models.Draft, error) {
	var d models.Draft
	err := q.tx.GetContext(ctx, &d, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	items, err := q.listDraftItems(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Items = items
	return &d, nil
}

func (q *txQueries) listDraftItems(ctx context.Context, draftID int64) ([]models.LineItem, error) {
	items := []models.LineItem{}
	err := q.tx.SelectContext(ctx, &items,
		"SELECT * FROM draft_items WHERE draft_id = $1 ORDER BY id", draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft items: %w", err)
	}
	return items, nil
}

// ListDrafts retrieves a user's drafts and plans, newest first
func (q *txQueries) ListDrafts(ctx context.Context, ownerID int64) ([]models.Draft, error) {
	var drafts []models.Draft
	err := q.tx.SelectContext(ctx, &drafts,
		"SELECT * FROM drafts WHERE owner_id = $1 ORDER BY created_at DESC, id DESC", ownerID)
	if err != nil {
		return nil, err
	}
	for i := range drafts {
		items, err := q.listDraftItems(ctx, drafts[i].ID)
		if err != nil {
			return nil, err
		}
		drafts[i].Items = items
	}
	return drafts, nil
}

// UpdateDraft writes every mutable draft field
func (q *txQueries) UpdateDraft(ctx context.Context, d *models.Draft) error {
	err := q.tx.QueryRowxContext(ctx, `
		UPDATE drafts
		SET budget = $1, pet_type = $2, selected_categories = $3, status = $4,
		    billing_day = $5, next_billing_date = $6, activated_at = $7, updated_at = NOW()
		WHERE id = $8
		RETURNING updated_at`,
		d.Budget, d.PetType, d.SelectedCategories, d.Status,
		d.BillingDay, d.NextBillingDate, d.ActivatedAt, d.ID,
	).Scan(&d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("draft %d: %w", d.ID, ErrNotFound)
	}
	return err
}

// DeleteDraft deletes a draft; its items cascade
func (q *txQueries) DeleteDraft(ctx context.Context, id int64) error {
	_, err := q.tx.ExecContext(ctx, "DELETE FROM drafts WHERE id = $1", id)
	return err
}

// ListDuePlanIDs returns active monthly plans billed on or before asOf
func (q *txQueries) ListDuePlanIDs(ctx context.Context, asOf time.Time) ([]int64, error) {
	var ids []int64
	err := q.tx.SelectContext(ctx, &ids, `
		SELECT id FROM drafts
		WHERE kind = $1 AND status = $2 AND next_billing_date <= $3
		ORDER BY next_billing_date, id`,
		models.DraftKindMonthlyPlan, models.DraftStatusActive, asOf)
	return ids, err
}

func (q *txQueries) UpsertDraftItem(ctx context.Context, item *models.LineItem) error {
	return q.tx.QueryRowxContext(ctx, `
		INSERT INTO draft_items (draft_id, product_id, variant_id, quantity, unit_price, locked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (draft_id, product_id, variant_id)
		DO UPDATE SET quantity = draft_items.quantity + EXCLUDED.quantity
		RETURNING id, quantity, unit_price, locked_at`,
		item.DraftID, item.ProductID, item.VariantID, item.Quantity, item.UnitPrice, item.LockedAt,
	).Scan(&item.ID, &item.Quantity, &item.UnitPrice, &item.LockedAt)
}

func (q *txQueries) SetDraftItemQuantity(ctx context.Context, draftID, variantID int64, quantity int) error {
	res, err := q.tx.ExecContext(ctx,
		"UPDATE draft_items SET quantity = $1 WHERE draft_id = $2 AND variant_id = $3",
		quantity, draftID, variantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("draft %d variant %d: %w", draftID, variantID, ErrNotFound)
	}
	return nil
}

func (q *txQueries) DeleteDraftItemsByProduct(ctx context.Context, draftID, productID int64) (int64, error) {
	res, err := q.tx.ExecContext(ctx,
		"DELETE FROM draft_items WHERE draft_id = $1 AND product_id = $2", draftID, productID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *txQueries) DeleteDraftItemByVariant(ctx context.Context, draftID, variantID int64) error {
	_, err := q.tx.ExecContext(ctx,
		"DELETE FROM draft_items WHERE draft_id = $1 AND variant_id = $2", draftID, variantID)
	return err
}
