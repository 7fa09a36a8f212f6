package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"furbox-service/internal/apperr"
	"furbox-service/internal/models"
	"furbox-service/internal/redisclient"
	"furbox-service/internal/store"
	"furbox-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CheckoutService turns carts, bundles and plans into orders
type CheckoutService struct {
	store  store.Runner
	redis  *redisclient.Client
	events EventPublisher
	opts   Options
	writer orderWriter
	logger *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(runner store.Runner, redis *redisclient.Client, events EventPublisher, opts Options) *CheckoutService {
	opts = opts.withDefaults()
	return &CheckoutService{
		store:  runner,
		redis:  redis,
		events: events,
		opts:   opts,
		writer: orderWriter{loc: opts.Location, now: opts.Now},
		logger: util.GetLogger(),
	}
}

// CheckoutRequest represents a standard checkout of explicit lines
type CheckoutRequest struct {
	UserID         int64          `json:"-"`
	Items          []CheckoutItem `json:"items" binding:"required,min=1,dive"`
	AddressID      int64          `json:"address_id" binding:"required"`
	PaymentMethod  string         `json:"payment_method" binding:"required"`
	Notes          string         `json:"notes,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// CheckoutItem represents one line of a standard checkout
type CheckoutItem struct {
	VariantID int64 `json:"variant_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1,max=999"`
}

// BundleCheckoutRequest checks out a bundle draft
type BundleCheckoutRequest struct {
	UserID         int64  `json:"-"`
	BundleID       int64  `json:"-"`
	AddressID      int64  `json:"address_id" binding:"required"`
	PaymentMethod  string `json:"payment_method" binding:"required"`
	Notes          string `json:"notes,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ActivatePlanRequest activates a monthly plan draft
type ActivatePlanRequest struct {
	UserID        int64  `json:"-"`
	PlanID        int64  `json:"-"`
	AddressID     int64  `json:"address_id" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	BillingDay    int    `json:"billing_day" binding:"required,min=1,max=28"`
}

// ActivationResult is the first order of a plan and the activated plan
type ActivationResult struct {
	Order *models.Order `json:"order"`
	Plan  *models.Draft `json:"plan"`
}

// Checkout places a standard order and clears the ordered lines from the cart
func (s *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout", attribute.Int64("user_id", req.UserID))
	defer func() { util.EndSpan(span, err) }()

	lines, err := mergeCheckoutItems(req.Items)
	if err != nil {
		s.recordFailure(models.OrderSourceStandard, err)
		return nil, err
	}

	key := idempotencyScope("checkout", req.UserID, req.IdempotencyKey)
	order, err = s.idempotent(ctx, key, func() (*models.Order, error) {
		return s.placeStandard(ctx, req, lines)
	})
	if err != nil {
		s.recordFailure(models.OrderSourceStandard, err)
		return nil, err
	}
	return order, nil
}

func (s *CheckoutService) placeStandard(ctx context.Context, req *CheckoutRequest, lines []lineRequest) (*models.Order, error) {
	start := time.Now()
	var order *models.Order
	err := withOrderTx(ctx, s.store, func(q store.Queries) error {
		addr, err := ownedAddress(ctx, q, req.UserID, req.AddressID)
		if err != nil {
			return err
		}
		order, err = placeStandardOrder(ctx, q, s.writer, s.opts.Rules, req.UserID, lines,
			addr.Snapshot(), req.PaymentMethod, req.Notes)
		if err != nil {
			return err
		}

		variantIDs := make([]int64, 0, len(lines))
		for _, l := range lines {
			variantIDs = append(variantIDs, l.VariantID)
		}
		return q.DeleteCartItems(ctx, req.UserID, variantIDs)
	})
	if err != nil {
		return nil, err
	}

	s.afterOrder(ctx, order, models.StockReasonOrderPlaced, start)
	return order, nil
}

// CheckoutBundle places the single order of a bundle and deletes the draft
func (s *CheckoutService) CheckoutBundle(ctx context.Context, req *BundleCheckoutRequest) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CheckoutBundle", attribute.Int64("bundle_id", req.BundleID))
	defer func() { util.EndSpan(span, err) }()

	key := idempotencyScope("bundle", req.UserID, req.IdempotencyKey)
	order, err = s.idempotent(ctx, key, func() (*models.Order, error) {
		return s.placeBundle(ctx, req)
	})
	if err != nil {
		s.recordFailure(models.OrderSourceBundle, err)
		return nil, err
	}
	return order, nil
}

func (s *CheckoutService) placeBundle(ctx context.Context, req *BundleCheckoutRequest) (*models.Order, error) {
	start := time.Now()
	var order *models.Order
	err := withOrderTx(ctx, s.store, func(q store.Queries) error {
		d, err := lockOwnedDraft(ctx, q, req.BundleID, req.UserID)
		if err != nil {
			return err
		}
		if d.Kind != models.DraftKindBundle {
			return apperr.BadRequest("Draft %d is not a bundle", d.ID)
		}
		if len(d.Items) == 0 {
			return apperr.BadRequest("Bundle %d is empty", d.ID)
		}

		addr, err := ownedAddress(ctx, q, req.UserID, req.AddressID)
		if err != nil {
			return err
		}
		items, err := snapshotLines(ctx, q, linesFromDraft(d.Items))
		if err != nil {
			return err
		}

		quote := s.opts.Rules.QuoteBundle(d.Items)
		totals := s.opts.Rules.Totals(quote.Subtotal, quote.Discount)
		order = newOrder(req.UserID, models.OrderSourceBundle, totals, addr.Snapshot(), req.PaymentMethod, req.Notes, items)
		if err := s.writer.place(ctx, q, order, models.StockReasonOrderPlaced); err != nil {
			return err
		}

		if err := q.CreateBundleOrder(ctx, &models.BundleOrder{
			BundleID:         d.ID,
			OrderID:          order.ID,
			ItemCount:        quote.ItemCount,
			Subtotal:         quote.Subtotal,
			Discount:         quote.Discount,
			ProductsSnapshot: models.SnapshotFromItems(order.Items),
		}); err != nil {
			return err
		}
		return q.DeleteDraft(ctx, d.ID)
	})
	if err != nil {
		return nil, err
	}

	s.afterOrder(ctx, order, models.StockReasonOrderPlaced, start)
	return order, nil
}

// ActivatePlan places cycle 1 of a monthly plan and schedules the next
// billing date on billingDay of the following month.
func (s *CheckoutService) ActivatePlan(ctx context.Context, req *ActivatePlanRequest) (result *ActivationResult, err error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ActivatePlan", attribute.Int64("plan_id", req.PlanID))
	defer func() { util.EndSpan(span, err) }()

	if req.BillingDay < minBillingDay || req.BillingDay > maxBillingDay {
		err = apperr.BadRequest("Billing day must be between %d and %d", minBillingDay, maxBillingDay)
		s.recordFailure(models.OrderSourcePlan, err)
		return nil, err
	}

	start := time.Now()
	var order *models.Order
	var plan *models.Draft
	err = withOrderTx(ctx, s.store, func(q store.Queries) error {
		d, err := lockOwnedDraft(ctx, q, req.PlanID, req.UserID)
		if err != nil {
			return err
		}
		if d.Kind != models.DraftKindMonthlyPlan {
			return apperr.BadRequest("Draft %d is not a monthly plan", d.ID)
		}
		if d.Status != models.DraftStatusDraft {
			return apperr.BadRequest("Plan %d is already %s", d.ID, d.Status)
		}
		if len(d.Items) == 0 {
			return apperr.BadRequest("Plan %d has no items", d.ID)
		}

		addr, err := ownedAddress(ctx, q, req.UserID, req.AddressID)
		if err != nil {
			return err
		}
		items, err := snapshotLines(ctx, q, linesFromDraft(d.Items))
		if err != nil {
			return err
		}

		subtotal := itemsSubtotal(items)
		totals := s.opts.Rules.Totals(subtotal, 0)
		order = newOrder(req.UserID, models.OrderSourcePlan, totals, addr.Snapshot(), req.PaymentMethod, "", items)
		if err := s.writer.place(ctx, q, order, models.StockReasonOrderPlaced); err != nil {
			return err
		}

		if err := q.CreatePlanCycle(ctx, &models.PlanCycle{
			PlanID:           d.ID,
			OrderID:          order.ID,
			CycleNumber:      1,
			BudgetUsed:       subtotal,
			BudgetRemaining:  d.Budget - subtotal,
			ProductsSnapshot: models.SnapshotFromItems(order.Items),
			Status:           models.CycleStatusPlaced,
		}); err != nil {
			return err
		}

		now := s.opts.Now()
		billingDay := req.BillingDay
		next := firstBillingDate(now, billingDay, s.opts.Location)
		d.Status = models.DraftStatusActive
		d.BillingDay = &billingDay
		d.NextBillingDate = &next
		d.ActivatedAt = &now
		if err := q.UpdateDraft(ctx, d); err != nil {
			return err
		}
		plan = d
		return nil
	})
	if err != nil {
		s.recordFailure(models.OrderSourcePlan, err)
		return nil, err
	}

	s.afterOrder(ctx, order, models.StockReasonOrderPlaced, start)

	publish(s.logger, models.EventTypePlanActivated, s.events.PublishPlanActivated(ctx, &models.PlanActivatedEvent{
		BaseEvent:       newBaseEvent(models.EventTypePlanActivated, s.opts.Now()),
		PlanID:          plan.ID,
		UserID:          plan.OwnerID,
		OrderID:         order.ID,
		NextBillingDate: *plan.NextBillingDate,
	}))

	s.logger.Info("Plan activated",
		zap.Int64("plan_id", plan.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Time("next_billing_date", *plan.NextBillingDate))

	return &ActivationResult{Order: order, Plan: plan}, nil
}

func (s *CheckoutService) afterOrder(ctx context.Context, order *models.Order, reason string, start time.Time) {
	util.CheckoutLatency.WithLabelValues(order.Source).Observe(time.Since(start).Seconds())
	recordOrderPlaced(order, reason)

	publish(s.logger, models.EventTypeOrderCreated, s.events.PublishOrderCreated(ctx, orderCreatedEvent(order, s.opts.Now())))

	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("source", order.Source),
		zap.Int64("total", order.Total))
}

func (s *CheckoutService) recordFailure(source string, err error) {
	kind := apperr.KindOf(err)
	util.CheckoutFailedTotal.WithLabelValues(source, string(kind)).Inc()
	if kind == apperr.KindInternal {
		s.logger.Error("Checkout failed", zap.String("source", source), zap.Error(err))
	}
}

// idempotent runs place at most once per key. A repeated key returns the
// order of the first successful request.
func (s *CheckoutService) idempotent(ctx context.Context, key string, place func() (*models.Order, error)) (*models.Order, error) {
	if key == "" {
		return place()
	}

	claim, err := s.redis.ClaimIdempotencyKey(ctx, key, s.opts.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if claim.InFlight {
		return nil, apperr.Conflict("A request with this idempotency key is already in progress")
	}
	if !claim.Claimed {
		orderID, err := strconv.ParseInt(claim.Result, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt idempotency record %q: %w", claim.Result, err)
		}
		s.logger.Info("Duplicate checkout request detected", zap.String("key", key), zap.Int64("order_id", orderID))
		return s.loadOrder(ctx, orderID)
	}

	order, err := place()
	if err != nil {
		if abandonErr := s.redis.AbandonIdempotencyKey(ctx, key, claim.Token); abandonErr != nil {
			s.logger.Warn("Failed to abandon idempotency key", zap.String("key", key), zap.Error(abandonErr))
		}
		return nil, err
	}

	result := strconv.FormatInt(order.ID, 10)
	if err := s.redis.CompleteIdempotencyKey(ctx, key, claim.Token, result, s.opts.IdempotencyTTL); err != nil {
		s.logger.Warn("Failed to record idempotency result", zap.String("key", key), zap.Error(err))
	}
	return order, nil
}

func (s *CheckoutService) loadOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order *models.Order
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		o, err := q.GetOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Order %d not found", orderID)
		}
		if err != nil {
			return fmt.Errorf("failed to load order: %w", err)
		}
		order = o
		return nil
	})
	return order, err
}

func idempotencyScope(op string, userID int64, key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d:%s", op, userID, key)
}

// mergeCheckoutItems folds repeated variants into one line, ordered by
// variant id.
func mergeCheckoutItems(items []CheckoutItem) ([]lineRequest, error) {
	if len(items) == 0 {
		return nil, apperr.BadRequest("Cart is empty")
	}
	qty := make(map[int64]int, len(items))
	for _, it := range items {
		if err := checkLineQuantity(it.VariantID, it.Quantity); err != nil {
			return nil, err
		}
		qty[it.VariantID] += it.Quantity
		if qty[it.VariantID] > MaxLineQuantity {
			return nil, apperr.BadRequest("Quantity for variant %d must not exceed %d", it.VariantID, MaxLineQuantity)
		}
	}

	lines := make([]lineRequest, 0, len(qty))
	for variantID, q := range qty {
		lines = append(lines, lineRequest{VariantID: variantID, Quantity: q})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].VariantID < lines[j].VariantID })
	return lines, nil
}
