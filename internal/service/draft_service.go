package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"furbox-service/internal/apperr"
	"furbox-service/internal/models"
	"furbox-service/internal/pricing"
	"furbox-service/internal/store"
	"furbox-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DraftService manages budget-constrained drafts: one-time bundles and
// monthly plans before and after activation.
type DraftService struct {
	store  store.Runner
	opts   Options
	logger *zap.Logger
}

// NewDraftService creates a new draft service
func NewDraftService(runner store.Runner, opts Options) *DraftService {
	return &DraftService{
		store:  runner,
		opts:   opts.withDefaults(),
		logger: util.GetLogger(),
	}
}

// CreateDraftRequest represents a request to start a draft
type CreateDraftRequest struct {
	OwnerID            int64    `json:"-"`
	Kind               string   `json:"kind" binding:"required,oneof=bundle monthly_plan"`
	Budget             int64    `json:"budget" binding:"min=0"`
	PetType            string   `json:"pet_type,omitempty"`
	SelectedCategories []string `json:"selected_categories,omitempty"`
}

// AddLineItemRequest adds quantity of one variant to a draft
type AddLineItemRequest struct {
	DraftID   int64 `json:"-"`
	OwnerID   int64 `json:"-"`
	ProductID int64 `json:"product_id" binding:"required"`
	VariantID int64 `json:"variant_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1,max=999"`
}

// UpdateLineItemRequest sets the quantity of an existing line. Zero removes it.
type UpdateLineItemRequest struct {
	DraftID   int64 `json:"-"`
	OwnerID   int64 `json:"-"`
	VariantID int64 `json:"-"`
	Quantity  int   `json:"quantity" binding:"min=0,max=999"`
}

// DraftState is a draft together with its derived wallet
type DraftState struct {
	Draft  *models.Draft `json:"draft"`
	Wallet models.Wallet `json:"wallet"`
}

func (s *DraftService) stateOf(d *models.Draft) *DraftState {
	return &DraftState{Draft: d, Wallet: pricing.Wallet(d.Budget, d.Items)}
}

// CreateDraft starts an empty draft in status draft
func (s *DraftService) CreateDraft(ctx context.Context, req *CreateDraftRequest) (*DraftState, error) {
	ctx, span := util.StartSpan(ctx, "DraftService.CreateDraft", attribute.Int64("owner_id", req.OwnerID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	if req.Kind != models.DraftKindBundle && req.Kind != models.DraftKindMonthlyPlan {
		err = apperr.BadRequest("Unknown draft kind %q", req.Kind)
		return nil, err
	}
	if req.Budget < 0 {
		err = apperr.BadRequest("Budget must not be negative")
		return nil, err
	}

	d := &models.Draft{
		OwnerID:            req.OwnerID,
		Kind:               req.Kind,
		Budget:             req.Budget,
		SelectedCategories: normalizeCategories(req.SelectedCategories),
		Status:             models.DraftStatusDraft,
	}
	if pt := strings.TrimSpace(req.PetType); pt != "" {
		d.PetType = &pt
	}

	err = s.store.WithTx(ctx, func(q store.Queries) error {
		return q.CreateDraft(ctx, d)
	})
	if err != nil {
		err = fmt.Errorf("failed to create draft: %w", err)
		return nil, err
	}

	s.logger.Info("Draft created",
		zap.Int64("draft_id", d.ID),
		zap.Int64("owner_id", d.OwnerID),
		zap.String("kind", d.Kind))
	return s.stateOf(d), nil
}

// GetDraft returns a draft owned by ownerID
func (s *DraftService) GetDraft(ctx context.Context, draftID, ownerID int64) (*DraftState, error) {
	var state *DraftState
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		d, err := q.GetDraft(ctx, draftID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && d.OwnerID != ownerID) {
			return apperr.NotFound("Draft %d not found", draftID)
		}
		if err != nil {
			return fmt.Errorf("failed to load draft: %w", err)
		}
		state = s.stateOf(d)
		return nil
	})
	return state, err
}

// ListDrafts returns every draft and plan of ownerID
func (s *DraftService) ListDrafts(ctx context.Context, ownerID int64) ([]DraftState, error) {
	var states []DraftState
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		drafts, err := q.ListDrafts(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("failed to list drafts: %w", err)
		}
		states = make([]DraftState, 0, len(drafts))
		for i := range drafts {
			states = append(states, *s.stateOf(&drafts[i]))
		}
		return nil
	})
	return states, err
}

// GetWallet returns the budget view of a draft
func (s *DraftService) GetWallet(ctx context.Context, draftID, ownerID int64) (models.Wallet, error) {
	state, err := s.GetDraft(ctx, draftID, ownerID)
	if err != nil {
		return models.Wallet{}, err
	}
	return state.Wallet, nil
}

// QuoteBundle prices a bundle draft including the multi-item discount
func (s *DraftService) QuoteBundle(ctx context.Context, draftID, ownerID int64) (*pricing.BundleQuote, error) {
	state, err := s.GetDraft(ctx, draftID, ownerID)
	if err != nil {
		return nil, err
	}
	if state.Draft.Kind != models.DraftKindBundle {
		return nil, apperr.BadRequest("Draft %d is not a bundle", draftID)
	}
	quote := s.opts.Rules.QuoteBundle(state.Draft.Items)
	return &quote, nil
}

// SetBudget changes the budget. It can never drop below what is already
// allocated to line items.
func (s *DraftService) SetBudget(ctx context.Context, draftID, ownerID, budget int64) (*DraftState, error) {
	return s.mutate(ctx, "DraftService.SetBudget", draftID, ownerID, func(q store.Queries, d *models.Draft) error {
		if budget < 0 {
			return reject("invalid_budget", apperr.BadRequest("Budget must not be negative"))
		}
		spent := pricing.Subtotal(d.Items)
		if budget < spent {
			return reject("budget_below_spent",
				apperr.BadRequest("Budget %d is below the %d already allocated", budget, spent))
		}
		d.Budget = budget
		return q.UpdateDraft(ctx, d)
	})
}

// SetPetType sets or clears the pet type
func (s *DraftService) SetPetType(ctx context.Context, draftID, ownerID int64, petType string) (*DraftState, error) {
	return s.mutate(ctx, "DraftService.SetPetType", draftID, ownerID, func(q store.Queries, d *models.Draft) error {
		d.PetType = nil
		if pt := strings.TrimSpace(petType); pt != "" {
			d.PetType = &pt
		}
		return q.UpdateDraft(ctx, d)
	})
}

// SetCategories replaces the selected categories
func (s *DraftService) SetCategories(ctx context.Context, draftID, ownerID int64, categories []string) (*DraftState, error) {
	return s.mutate(ctx, "DraftService.SetCategories", draftID, ownerID, func(q store.Queries, d *models.Draft) error {
		d.SelectedCategories = normalizeCategories(categories)
		return q.UpdateDraft(ctx, d)
	})
}

// AddLineItem adds quantity of a variant at its current price, or at the
// locked price when the draft already holds that variant.
func (s *DraftService) AddLineItem(ctx context.Context, req *AddLineItemRequest) (*DraftState, error) {
	return s.mutate(ctx, "DraftService.AddLineItem", req.DraftID, req.OwnerID, func(q store.Queries, d *models.Draft) error {
		if err := checkLineQuantity(req.VariantID, req.Quantity); err != nil {
			return reject("invalid_quantity", err)
		}

		variant, err := q.GetVariant(ctx, req.VariantID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && variant.ProductID != req.ProductID) {
			return apperr.NotFound("Product variant %d not found", req.VariantID)
		}
		if err != nil {
			return fmt.Errorf("failed to load variant: %w", err)
		}
		if !variant.IsActive || !variant.ProductIsActive {
			return reject("unavailable", apperr.BadRequest("%s (%s) is not available", variant.ProductName, variant.Name))
		}

		unitPrice := variant.Price
		held := 0
		for _, it := range d.Items {
			if it.ProductID == req.ProductID && it.VariantID == req.VariantID {
				unitPrice = it.UnitPrice
				held = it.Quantity
				break
			}
		}
		if held+req.Quantity > MaxLineQuantity {
			return reject("invalid_quantity", apperr.BadRequest("Quantity for variant %d must not exceed %d",
				req.VariantID, MaxLineQuantity))
		}

		wallet := pricing.Wallet(d.Budget, d.Items)
		if !fitsBudget(unitPrice, req.Quantity, wallet.Remaining) {
			return reject("budget", apperr.BadRequest("Exceeds budget: %s (%s) x%d at %d each, remaining %d",
				variant.ProductName, variant.Name, req.Quantity, unitPrice, wallet.Remaining))
		}

		return q.UpsertDraftItem(ctx, &models.LineItem{
			DraftID:   d.ID,
			ProductID: req.ProductID,
			VariantID: req.VariantID,
			Quantity:  req.Quantity,
			UnitPrice: unitPrice,
			LockedAt:  s.opts.Now(),
		})
	})
}

// UpdateLineItemQuantity sets the quantity of a line. Increases are checked
// against the remaining budget at the line's locked price.
func (s *DraftService) UpdateLineItemQuantity(ctx context.Context, req *UpdateLineItemRequest) (*DraftState, error) {
	return s.mutate(ctx, "DraftService.UpdateLineItemQuantity", req.DraftID, req.OwnerID, func(q store.Queries, d *models.Draft) error {
		if req.Quantity < 0 {
			return reject("invalid_quantity", apperr.BadRequest("Quantity must not be negative"))
		}
		if req.Quantity > MaxLineQuantity {
			return reject("invalid_quantity", apperr.BadRequest("Quantity for variant %d must not exceed %d",
				req.VariantID, MaxLineQuantity))
		}

		var line *models.LineItem
		for i := range d.Items {
			if d.Items[i].VariantID == req.VariantID {
				line = &d.Items[i]
				break
			}
		}
		if line == nil {
			return apperr.NotFound("Line item for variant %d not found", req.VariantID)
		}

		if req.Quantity == 0 {
			return q.DeleteDraftItemByVariant(ctx, d.ID, req.VariantID)
		}

		if req.Quantity > line.Quantity {
			wallet := pricing.Wallet(d.Budget, d.Items)
			extra := req.Quantity - line.Quantity
			if !fitsBudget(line.UnitPrice, extra, wallet.Remaining) {
				return reject("budget", apperr.BadRequest("Exceeds budget: %d more at %d each, remaining %d",
					extra, line.UnitPrice, wallet.Remaining))
			}
		}
		return q.SetDraftItemQuantity(ctx, d.ID, req.VariantID, req.Quantity)
	})
}

// RemoveLineItem deletes every line of a product. Removing a product that is
// not in the draft is a no-op.
func (s *DraftService) RemoveLineItem(ctx context.Context, draftID, ownerID, productID int64) (*DraftState, error) {
	return s.mutate(ctx, "DraftService.RemoveLineItem", draftID, ownerID, func(q store.Queries, d *models.Draft) error {
		removed, err := q.DeleteDraftItemsByProduct(ctx, d.ID, productID)
		if err != nil {
			return err
		}
		if removed == 0 {
			s.logger.Debug("Remove of absent product ignored",
				zap.Int64("draft_id", d.ID),
				zap.Int64("product_id", productID))
		}
		return nil
	})
}

// mutate locks the draft, applies fn and re-reads it. The spent amount is
// checked again after fn so no write can leave the draft over budget.
func (s *DraftService) mutate(ctx context.Context, op string, draftID, ownerID int64,
	fn func(q store.Queries, d *models.Draft) error) (*DraftState, error) {
	ctx, span := util.StartSpan(ctx, op, attribute.Int64("draft_id", draftID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	var state *DraftState
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		d, err := lockOwnedDraft(ctx, q, draftID, ownerID)
		if err != nil {
			return err
		}
		if d.Status == models.DraftStatusCancelled {
			return reject("cancelled", apperr.BadRequest("Plan %d is cancelled", draftID))
		}

		if err := fn(q, d); err != nil {
			return err
		}

		fresh, err := q.GetDraft(ctx, draftID)
		if err != nil {
			return fmt.Errorf("failed to reload draft: %w", err)
		}
		state = s.stateOf(fresh)
		if state.Wallet.Remaining < 0 {
			return reject("budget", apperr.BadRequest("Exceeds budget by %d", -state.Wallet.Remaining))
		}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			s.logger.Error("Draft mutation failed", zap.String("op", op), zap.Int64("draft_id", draftID), zap.Error(err))
		}
		return nil, err
	}
	return state, nil
}

func reject(reason string, err error) error {
	util.DraftMutationsRejectedTotal.WithLabelValues(reason).Inc()
	return err
}

func normalizeCategories(in []string) models.Categories {
	out := make(models.Categories, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
