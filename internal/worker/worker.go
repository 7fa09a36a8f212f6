package worker

import (
	"context"
	"errors"

	"furbox-service/internal/broker"
	"furbox-service/internal/models"
	"furbox-service/internal/service"
	"furbox-service/internal/util"

	"go.uber.org/zap"
)

// Renewer runs one renewal batch
type Renewer interface {
	ProcessRenewals(ctx context.Context) ([]service.RenewalResult, error)
}

// RenewalWorker runs the renewal batch whenever a RENEWAL_TRIGGER event
// arrives on the trigger topic
type RenewalWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	renewer      Renewer
	logger       *zap.Logger
}

// NewRenewalWorker creates a new renewal worker
func NewRenewalWorker(consumer *broker.Consumer, renewer Renewer) *RenewalWorker {
	w := &RenewalWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		renewer:      renewer,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnRenewalTrigger(w.HandleTrigger)
	return w
}

// HandleTrigger runs one batch. A batch already running elsewhere counts as
// handled so the trigger is committed.
func (w *RenewalWorker) HandleTrigger(ctx context.Context, event *models.RenewalTriggerEvent) error {
	w.logger.Info("Renewal trigger received",
		zap.String("event_id", event.EventID),
		zap.String("requested_by", event.RequestedBy))

	results, err := w.renewer.ProcessRenewals(ctx)
	if errors.Is(err, service.ErrRenewalInProgress) {
		w.logger.Info("Renewal batch already running, trigger ignored", zap.String("event_id", event.EventID))
		return nil
	}
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	w.logger.Info("Triggered renewal batch done",
		zap.String("event_id", event.EventID),
		zap.Int("plans", len(results)),
		zap.Int("failed", failed))
	return nil
}

// Start starts the worker
func (w *RenewalWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting renewal worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RenewalWorker) Stop() error {
	w.logger.Info("Stopping renewal worker")
	return w.consumer.Close()
}
