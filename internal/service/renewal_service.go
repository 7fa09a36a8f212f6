package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"furbox-service/internal/apperr"
	"furbox-service/internal/models"
	"furbox-service/internal/pricing"
	"furbox-service/internal/redisclient"
	"furbox-service/internal/store"
	"furbox-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const renewalLockTTL = 30 * time.Minute

// ErrRenewalInProgress is returned when another batch for the same day holds
// the renewal lock.
var ErrRenewalInProgress = apperr.Conflict("A renewal batch is already running")

// RenewalResult is the outcome of renewing one plan
type RenewalResult struct {
	PlanID  int64         `json:"plan_id"`
	Success bool          `json:"success"`
	Order   *models.Order `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// RenewalService places the next cycle order of every due plan
type RenewalService struct {
	store  store.Runner
	redis  *redisclient.Client
	events EventPublisher
	opts   Options
	writer orderWriter
	logger *zap.Logger
}

// NewRenewalService creates a new renewal service
func NewRenewalService(runner store.Runner, redis *redisclient.Client, events EventPublisher, opts Options) *RenewalService {
	opts = opts.withDefaults()
	return &RenewalService{
		store:  runner,
		redis:  redis,
		events: events,
		opts:   opts,
		writer: orderWriter{loc: opts.Location, now: opts.Now},
		logger: util.GetLogger(),
	}
}

// ProcessRenewals renews every active plan whose next billing date is today
// or earlier. Each plan commits or rolls back on its own, so one failure
// never affects the others.
func (s *RenewalService) ProcessRenewals(ctx context.Context) (results []RenewalResult, err error) {
	ctx, span := util.StartSpan(ctx, "RenewalService.ProcessRenewals")
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		util.RenewalBatchDuration.Observe(time.Since(start).Seconds())
	}()

	today := pricing.Day(s.opts.Now(), s.opts.Location)
	lockKey := "renewals:" + today.Format("2006-01-02")
	token, ok, err := s.redis.AcquireLock(ctx, lockKey, renewalLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire renewal lock: %w", err)
	}
	if !ok {
		s.logger.Info("Renewal batch skipped, lock held elsewhere", zap.String("lock", lockKey))
		return nil, ErrRenewalInProgress
	}
	defer func() {
		if releaseErr := s.redis.ReleaseLock(context.Background(), lockKey, token); releaseErr != nil {
			s.logger.Warn("Failed to release renewal lock", zap.Error(releaseErr))
		}
	}()

	var due []int64
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		ids, err := q.ListDuePlanIDs(ctx, today)
		due = ids
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list due plans: %w", err)
	}

	s.logger.Info("Processing renewals", zap.Time("as_of", today), zap.Int("due", len(due)))

	results = make([]RenewalResult, 0, len(due))
	for _, planID := range due {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, s.renewOne(ctx, planID, today))
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	s.logger.Info("Renewal batch finished",
		zap.Int("processed", len(results)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(results)-succeeded))
	return results, nil
}

func (s *RenewalService) renewOne(ctx context.Context, planID int64, today time.Time) RenewalResult {
	ctx, span := util.StartSpan(ctx, "RenewalService.renewPlan", attribute.Int64("plan_id", planID))

	start := time.Now()
	order, cycle, plan, err := s.renewPlan(ctx, planID, today)
	util.EndSpan(span, err)

	if err != nil {
		util.RenewalsTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("Plan renewal failed", zap.Int64("plan_id", planID), zap.Error(err))

		var userID int64
		if plan != nil {
			userID = plan.OwnerID
		}
		publish(s.logger, models.EventTypeRenewalFailed, s.events.PublishRenewalFailed(ctx, &models.RenewalFailedEvent{
			BaseEvent: newBaseEvent(models.EventTypeRenewalFailed, s.opts.Now()),
			PlanID:    planID,
			UserID:    userID,
			Reason:    apperr.Message(err),
		}))
		return RenewalResult{PlanID: planID, Error: apperr.Message(err)}
	}

	util.RenewalsTotal.WithLabelValues("renewed").Inc()
	util.CheckoutLatency.WithLabelValues(order.Source).Observe(time.Since(start).Seconds())
	recordOrderPlaced(order, models.StockReasonRenewal)

	publish(s.logger, models.EventTypeOrderCreated, s.events.PublishOrderCreated(ctx, orderCreatedEvent(order, s.opts.Now())))
	publish(s.logger, models.EventTypePlanRenewed, s.events.PublishPlanRenewed(ctx, &models.PlanRenewedEvent{
		BaseEvent:       newBaseEvent(models.EventTypePlanRenewed, s.opts.Now()),
		PlanID:          planID,
		UserID:          plan.OwnerID,
		OrderID:         order.ID,
		CycleNumber:     cycle.CycleNumber,
		NextBillingDate: *plan.NextBillingDate,
	}))

	s.logger.Info("Plan renewed",
		zap.Int64("plan_id", planID),
		zap.Int("cycle", cycle.CycleNumber),
		zap.String("order_number", order.OrderNumber))
	return RenewalResult{PlanID: planID, Success: true, Order: order}
}

// renewPlan validates stock, places the renewal order at the plan's locked
// prices to the owner's default address, records the cycle and advances the
// billing date, all in one transaction.
func (s *RenewalService) renewPlan(ctx context.Context, planID int64, today time.Time) (*models.Order, *models.PlanCycle, *models.Draft, error) {
	var (
		order *models.Order
		cycle *models.PlanCycle
		plan  *models.Draft
	)
	err := withOrderTx(ctx, s.store, func(q store.Queries) error {
		d, err := q.LockDraft(ctx, planID)
		if err != nil {
			return fmt.Errorf("failed to load plan: %w", err)
		}
		plan = d
		if d.Kind != models.DraftKindMonthlyPlan || d.Status != models.DraftStatusActive ||
			d.NextBillingDate == nil || d.NextBillingDate.After(today) {
			return apperr.BadRequest("Plan %d is no longer due for renewal", planID)
		}
		if len(d.Items) == 0 {
			return apperr.BadRequest("Plan %d has no items", planID)
		}

		items, err := snapshotLines(ctx, q, linesFromDraft(d.Items))
		if err != nil {
			return err
		}

		addr, err := q.GetDefaultAddress(ctx, d.OwnerID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.BadRequest("No default address for user %d", d.OwnerID)
		}
		if err != nil {
			return fmt.Errorf("failed to load default address: %w", err)
		}

		subtotal := itemsSubtotal(items)
		totals := s.opts.Rules.Totals(subtotal, 0)
		order = newOrder(d.OwnerID, models.OrderSourceRenewal, totals, addr.Snapshot(), models.PaymentMethodAutoRenewal, "", items)
		if err := s.writer.place(ctx, q, order, models.StockReasonRenewal); err != nil {
			return err
		}

		last, err := q.LastCycleNumber(ctx, d.ID)
		if err != nil {
			return err
		}
		cycle = &models.PlanCycle{
			PlanID:           d.ID,
			OrderID:          order.ID,
			CycleNumber:      last + 1,
			BudgetUsed:       subtotal,
			BudgetRemaining:  d.Budget - subtotal,
			ProductsSnapshot: models.SnapshotFromItems(order.Items),
			Status:           models.CycleStatusPlaced,
		}
		if err := q.CreatePlanCycle(ctx, cycle); err != nil {
			return err
		}

		billingDay := billingDayOf(d.BillingDay, *d.NextBillingDate, s.opts.Location)
		next := advanceBillingDate(*d.NextBillingDate, billingDay, s.opts.Location)
		d.NextBillingDate = &next
		return q.UpdateDraft(ctx, d)
	})
	return order, cycle, plan, err
}
