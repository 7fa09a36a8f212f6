package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"furbox-service/internal/apperr"
	"furbox-service/internal/models"
	"furbox-service/internal/pricing"
	"furbox-service/internal/store"
	"furbox-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService is the order sink and owns the order status state machine
type OrderService struct {
	store  store.Runner
	events EventPublisher
	opts   Options
	writer orderWriter
	logger *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(runner store.Runner, events EventPublisher, opts Options) *OrderService {
	opts = opts.withDefaults()
	return &OrderService{
		store:  runner,
		events: events,
		opts:   opts,
		writer: orderWriter{loc: opts.Location, now: opts.Now},
		logger: util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create a standard order for an
// already resolved shipping address
type CreateOrderRequest struct {
	UserID          int64                  `json:"user_id" binding:"required"`
	Items           []CheckoutItem         `json:"items" binding:"required,min=1,dive"`
	ShippingAddress models.AddressSnapshot `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method" binding:"required"`
	Notes           string                 `json:"notes,omitempty"`
}

// forward is the only status each status may advance to
var forward = map[string]string{
	models.OrderStatusPending:    models.OrderStatusConfirmed,
	models.OrderStatusConfirmed:  models.OrderStatusProcessing,
	models.OrderStatusProcessing: models.OrderStatusShipped,
	models.OrderStatusShipped:    models.OrderStatusDelivered,
}

func cancellable(status string) bool {
	switch status {
	case models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusProcessing:
		return true
	}
	return false
}

// placeStandardOrder validates lines at current catalog prices and places an
// ORD order inside q's transaction.
func placeStandardOrder(ctx context.Context, q store.Queries, w orderWriter, rules pricing.Rules, userID int64,
	lines []lineRequest, addr models.AddressSnapshot, paymentMethod, notes string) (*models.Order, error) {
	items, err := snapshotLines(ctx, q, lines)
	if err != nil {
		return nil, err
	}

	totals := rules.Totals(itemsSubtotal(items), 0)
	order := newOrder(userID, models.OrderSourceStandard, totals, addr, paymentMethod, notes, items)
	if err := w.place(ctx, q, order, models.StockReasonOrderPlaced); err != nil {
		return nil, err
	}
	return order, nil
}

// CreateOrder places a standard order without touching the cart
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder", attribute.Int64("user_id", req.UserID))
	defer func() { util.EndSpan(span, err) }()

	lines, err := mergeCheckoutItems(req.Items)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = withOrderTx(ctx, s.store, func(q store.Queries) error {
		var err error
		order, err = placeStandardOrder(ctx, q, s.writer, s.opts.Rules, req.UserID, lines,
			req.ShippingAddress, req.PaymentMethod, req.Notes)
		return err
	})
	if err != nil {
		util.CheckoutFailedTotal.WithLabelValues(models.OrderSourceStandard, string(apperr.KindOf(err))).Inc()
		return nil, err
	}

	util.CheckoutLatency.WithLabelValues(order.Source).Observe(time.Since(start).Seconds())
	recordOrderPlaced(order, models.StockReasonOrderPlaced)
	publish(s.logger, models.EventTypeOrderCreated, s.events.PublishOrderCreated(ctx, orderCreatedEvent(order, s.opts.Now())))

	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))
	return order, nil
}

// CancelOrder cancels a not yet shipped order and puts every line's quantity
// back into stock
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID int64) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder", attribute.Int64("order_id", orderID))
	defer func() { util.EndSpan(span, err) }()

	err = s.store.WithTx(ctx, func(q store.Queries) error {
		o, err := q.LockOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && o.UserID != userID) {
			return apperr.NotFound("Order %d not found", orderID)
		}
		if err != nil {
			return fmt.Errorf("failed to load order: %w", err)
		}
		if !cancellable(o.Status) {
			return apperr.BadRequest("Order %s cannot be cancelled once %s", o.OrderNumber, o.Status)
		}

		id := o.ID
		for _, item := range o.Items {
			if _, err := q.AdjustStock(ctx, item.VariantID, item.Quantity, models.StockReasonOrderCancelled, &id); err != nil {
				return fmt.Errorf("failed to restore stock for variant %d: %w", item.VariantID, err)
			}
		}

		if err := q.UpdateOrderStatus(ctx, o.ID, models.OrderStatusCancelled); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		if err := q.UpdateCycleStatusByOrder(ctx, o.ID, models.CycleStatusCancelled); err != nil {
			return fmt.Errorf("failed to update plan cycle: %w", err)
		}

		o.Status = models.OrderStatusCancelled
		order = o
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			s.logger.Error("Failed to cancel order", zap.Int64("order_id", orderID), zap.Error(err))
		}
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	util.StockAdjustmentsTotal.WithLabelValues(models.StockReasonOrderCancelled).Add(float64(len(order.Items)))

	publish(s.logger, models.EventTypeOrderCancelled, s.events.PublishOrderCancelled(ctx, &models.OrderCancelledEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCancelled, s.opts.Now()),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Reason:      "cancelled by customer",
	}))

	s.logger.Info("Order cancelled",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))
	return order, nil
}

// AdvanceStatus moves an order one step along
// pending → confirmed → processing → shipped → delivered
func (s *OrderService) AdvanceStatus(ctx context.Context, orderID int64, to string) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.AdvanceStatus", attribute.Int64("order_id", orderID))
	defer func() { util.EndSpan(span, err) }()

	err = s.store.WithTx(ctx, func(q store.Queries) error {
		o, err := q.LockOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Order %d not found", orderID)
		}
		if err != nil {
			return fmt.Errorf("failed to load order: %w", err)
		}
		if next, ok := forward[o.Status]; !ok || next != to {
			return apperr.BadRequest("Order %s cannot move from %s to %s", o.OrderNumber, o.Status, to)
		}
		if err := q.UpdateOrderStatus(ctx, o.ID, to); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		o.Status = to
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order status advanced",
		zap.Int64("order_id", order.ID),
		zap.String("status", order.Status))
	return order, nil
}

// GetOrder retrieves an order owned by userID
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	var order *models.Order
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		o, err := q.GetOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && o.UserID != userID) {
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

// ListOrders returns the orders of userID, newest first
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		orders, err = q.ListOrdersByUser(ctx, userID)
		return err
	})
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, err
}
