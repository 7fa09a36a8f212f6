package service

import (
	"context"
	"errors"
	"fmt"

	"furbox-service/internal/apperr"
	"furbox-service/internal/models"
	"furbox-service/internal/pricing"
	"furbox-service/internal/store"
	"furbox-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PlanService moves activated monthly plans between active, paused and
// cancelled.
type PlanService struct {
	store  store.Runner
	opts   Options
	logger *zap.Logger
}

// NewPlanService creates a new plan service
func NewPlanService(runner store.Runner, opts Options) *PlanService {
	return &PlanService{
		store:  runner,
		opts:   opts.withDefaults(),
		logger: util.GetLogger(),
	}
}

// Pause stops renewals until the plan is resumed
func (s *PlanService) Pause(ctx context.Context, planID, ownerID int64) (*models.Draft, error) {
	return s.transition(ctx, "PlanService.Pause", planID, ownerID, func(d *models.Draft) error {
		if d.Status != models.DraftStatusActive {
			return apperr.BadRequest("Only active plans can be paused, plan %d is %s", d.ID, d.Status)
		}
		d.Status = models.DraftStatusPaused
		return nil
	})
}

// Resume reactivates a paused plan. A billing date that passed while paused
// moves to the next occurrence of the billing day.
func (s *PlanService) Resume(ctx context.Context, planID, ownerID int64) (*models.Draft, error) {
	return s.transition(ctx, "PlanService.Resume", planID, ownerID, func(d *models.Draft) error {
		if d.Status != models.DraftStatusPaused {
			return apperr.BadRequest("Only paused plans can be resumed, plan %d is %s", d.ID, d.Status)
		}

		now := s.opts.Now()
		if d.NextBillingDate == nil || d.NextBillingDate.Before(pricing.Day(now, s.opts.Location)) {
			day := billingDayOf(d.BillingDay, now, s.opts.Location)
			next := nextOccurrence(now, day, s.opts.Location)
			d.NextBillingDate = &next
		}
		d.Status = models.DraftStatusActive
		return nil
	})
}

// Cancel ends a plan for good
func (s *PlanService) Cancel(ctx context.Context, planID, ownerID int64) (*models.Draft, error) {
	return s.transition(ctx, "PlanService.Cancel", planID, ownerID, func(d *models.Draft) error {
		if d.Status != models.DraftStatusActive && d.Status != models.DraftStatusPaused {
			return apperr.BadRequest("Only active or paused plans can be cancelled, plan %d is %s", d.ID, d.Status)
		}
		d.Status = models.DraftStatusCancelled
		d.NextBillingDate = nil
		return nil
	})
}

// ListCycles returns the cycle history of a plan
func (s *PlanService) ListCycles(ctx context.Context, planID, ownerID int64) ([]models.PlanCycle, error) {
	var cycles []models.PlanCycle
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		d, err := q.GetDraft(ctx, planID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && d.OwnerID != ownerID) {
			return apperr.NotFound("Plan %d not found", planID)
		}
		if err != nil {
			return fmt.Errorf("failed to load plan: %w", err)
		}
		cycles, err = q.ListPlanCycles(ctx, planID)
		return err
	})
	if cycles == nil {
		cycles = []models.PlanCycle{}
	}
	return cycles, err
}

func (s *PlanService) transition(ctx context.Context, op string, planID, ownerID int64, fn func(d *models.Draft) error) (plan *models.Draft, err error) {
	ctx, span := util.StartSpan(ctx, op, attribute.Int64("plan_id", planID))
	defer func() { util.EndSpan(span, err) }()

	err = s.store.WithTx(ctx, func(q store.Queries) error {
		d, err := lockOwnedDraft(ctx, q, planID, ownerID)
		if err != nil {
			return err
		}
		if d.Kind != models.DraftKindMonthlyPlan {
			return apperr.BadRequest("Draft %d is not a monthly plan", planID)
		}

		from := d.Status
		if err := fn(d); err != nil {
			return err
		}
		if err := q.UpdateDraft(ctx, d); err != nil {
			return err
		}

		s.logger.Info("Plan status changed",
			zap.Int64("plan_id", d.ID),
			zap.String("from", from),
			zap.String("to", d.Status))
		plan = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}
