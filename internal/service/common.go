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

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher is implemented by broker.EventPublisher
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishPlanActivated(ctx context.Context, event *models.PlanActivatedEvent) error
	PublishPlanRenewed(ctx context.Context, event *models.PlanRenewedEvent) error
	PublishRenewalFailed(ctx context.Context, event *models.RenewalFailedEvent) error
}

// Options carries the business settings shared by the services
type Options struct {
	Rules          pricing.Rules
	Location       *time.Location
	IdempotencyTTL time.Duration
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Rules == (pricing.Rules{}) {
		o.Rules = pricing.DefaultRules()
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.IdempotencyTTL == 0 {
		o.IdempotencyTTL = 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

const maxOrderAttempts = 3

// MaxLineQuantity caps the quantity of one line in a draft, cart or order.
// Request bindings carry the same limit as max=999.
const MaxLineQuantity = 999

func checkLineQuantity(variantID int64, quantity int) error {
	if quantity <= 0 {
		return apperr.BadRequest("Quantity for variant %d must be positive", variantID)
	}
	if quantity > MaxLineQuantity {
		return apperr.BadRequest("Quantity for variant %d must not exceed %d", variantID, MaxLineQuantity)
	}
	return nil
}

// fitsBudget reports whether quantity more units at unitPrice fit in
// remaining, dividing instead of multiplying so large inputs cannot wrap.
func fitsBudget(unitPrice int64, quantity int, remaining int64) bool {
	if quantity <= 0 {
		return true
	}
	if unitPrice <= 0 {
		return remaining >= 0
	}
	if remaining < 0 {
		return false
	}
	return int64(quantity) <= remaining/unitPrice
}

// withOrderTx runs fn in a transaction, retrying when the order number or a
// cycle/bundle record collides with a concurrent writer.
func withOrderTx(ctx context.Context, runner store.Runner, fn func(q store.Queries) error) error {
	var err error
	for attempt := 1; attempt <= maxOrderAttempts; attempt++ {
		err = runner.WithTx(ctx, fn)
		if !errors.Is(err, store.ErrDuplicate) {
			return err
		}
		util.OrderNumberConflictsTotal.Inc()
	}
	return apperr.Wrap(apperr.KindConflict, err, "Could not allocate a unique order number, please retry")
}

// lockOwnedDraft locks a draft for the rest of the transaction. Drafts owned
// by someone else are reported as missing.
func lockOwnedDraft(ctx context.Context, q store.Queries, draftID, ownerID int64) (*models.Draft, error) {
	d, err := q.LockDraft(ctx, draftID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && d.OwnerID != ownerID) {
		return nil, apperr.NotFound("Draft %d not found", draftID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	return d, nil
}

func ownedAddress(ctx context.Context, q store.Queries, userID, addressID int64) (*models.Address, error) {
	addr, err := q.GetAddress(ctx, addressID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && addr.UserID != userID) {
		return nil, apperr.NotFound("Address %d not found", addressID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load address: %w", err)
	}
	return addr, nil
}

// lineRequest is one line to be ordered. A nil UnitPrice means the current
// catalog price.
type lineRequest struct {
	VariantID int64
	Quantity  int
	UnitPrice *int64
}

func linesFromDraft(items []models.LineItem) []lineRequest {
	lines := make([]lineRequest, 0, len(items))
	for _, it := range items {
		price := it.UnitPrice
		lines = append(lines, lineRequest{VariantID: it.VariantID, Quantity: it.Quantity, UnitPrice: &price})
	}
	return lines
}

// snapshotLines re-validates every line against the catalog and freezes it
// into order items. Any failing line fails the whole order.
func snapshotLines(ctx context.Context, q store.Queries, lines []lineRequest) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(lines))
	for _, l := range lines {
		v, err := q.GetVariant(ctx, l.VariantID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.BadRequest("Product variant %d is no longer available", l.VariantID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load variant %d: %w", l.VariantID, err)
		}
		if !v.IsActive || !v.ProductIsActive {
			return nil, apperr.BadRequest("%s (%s) is no longer available", v.ProductName, v.Name)
		}
		if v.Stock < l.Quantity {
			return nil, apperr.BadRequest("Insufficient stock for %s (%s): available %d, requested %d",
				v.ProductName, v.Name, v.Stock, l.Quantity)
		}

		price := v.Price
		if l.UnitPrice != nil {
			price = *l.UnitPrice
		}
		items = append(items, models.OrderItem{
			ProductID:   v.ProductID,
			VariantID:   v.ID,
			ProductName: v.ProductName,
			VariantName: v.Name,
			SKU:         v.SKU,
			Quantity:    l.Quantity,
			UnitPrice:   price,
			LineTotal:   price * int64(l.Quantity),
		})
	}
	return items, nil
}

func itemsSubtotal(items []models.OrderItem) int64 {
	var total int64
	for _, it := range items {
		total += it.LineTotal
	}
	return total
}

func newOrder(userID int64, source string, totals pricing.Breakdown, addr models.AddressSnapshot,
	paymentMethod, notes string, items []models.OrderItem) *models.Order {
	return &models.Order{
		UserID:          userID,
		Source:          source,
		Subtotal:        totals.Subtotal,
		Discount:        totals.Discount,
		Tax:             totals.Tax,
		ShippingCost:    totals.ShippingCost,
		Total:           totals.Total,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		PaymentMethod:   paymentMethod,
		ShippingAddress: addr,
		Notes:           notes,
		Items:           items,
	}
}

// orderWriter numbers and persists orders, taking stock for every line in
// the same transaction.
type orderWriter struct {
	loc *time.Location
	now func() time.Time
}

func (w orderWriter) place(ctx context.Context, q store.Queries, order *models.Order, reason string) error {
	day := pricing.Day(w.now(), w.loc)
	seq, err := q.NextOrderSequence(ctx, day)
	if err != nil {
		return err
	}
	order.OrderNumber = pricing.FormatOrderNumber(pricing.PrefixFor(order.Source), day, seq)

	if err := q.CreateOrder(ctx, order); err != nil {
		return err
	}

	orderID := order.ID
	for _, item := range order.Items {
		if _, err := q.AdjustStock(ctx, item.VariantID, -item.Quantity, reason, &orderID); err != nil {
			if errors.Is(err, store.ErrInsufficientStock) {
				return apperr.BadRequest("Insufficient stock for %s (%s)", item.ProductName, item.VariantName)
			}
			return fmt.Errorf("failed to decrement stock: %w", err)
		}
	}
	return nil
}

func recordOrderPlaced(order *models.Order, reason string) {
	util.OrdersCreatedTotal.WithLabelValues(order.Source).Inc()
	util.StockAdjustmentsTotal.WithLabelValues(reason).Add(float64(len(order.Items)))
}

func newBaseEvent(eventType string, now time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: now,
	}
}

func orderCreatedEvent(order *models.Order, now time.Time) *models.OrderCreatedEvent {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, models.OrderItemData{
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated, now),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Source:      order.Source,
		TotalAmount: order.Total,
		Items:       items,
	}
}

// publish sends an event after commit. Failures are logged, never returned.
func publish(logger *zap.Logger, name string, err error) {
	if err != nil {
		logger.Error("Failed to publish event", zap.String("event", name), zap.Error(err))
	}
}
