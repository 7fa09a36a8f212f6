package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"furbox-service/internal/models"
	"furbox-service/internal/pricing"
	"furbox-service/internal/redisclient"
	"furbox-service/internal/store"
	"furbox-service/internal/store/memstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

type recordingPublisher struct {
	mu        sync.Mutex
	created   []*models.OrderCreatedEvent
	cancelled []*models.OrderCancelledEvent
	activated []*models.PlanActivatedEvent
	renewed   []*models.PlanRenewedEvent
	failed    []*models.RenewalFailedEvent
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

func (p *recordingPublisher) PublishPlanActivated(_ context.Context, e *models.PlanActivatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activated = append(p.activated, e)
	return nil
}

func (p *recordingPublisher) PublishPlanRenewed(_ context.Context, e *models.PlanRenewedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renewed = append(p.renewed, e)
	return nil
}

func (p *recordingPublisher) PublishRenewalFailed(_ context.Context, e *models.RenewalFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return nil
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	db     *memstore.Store
	mr     *miniredis.Miniredis
	redis  *redisclient.Client
	events *recordingPublisher

	mu  sync.Mutex
	now time.Time

	drafts   *DraftService
	checkout *CheckoutService
	plans    *PlanService
	renewals *RenewalService
	orders   *OrderService
	cart     *CartService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		db:     memstore.New(),
		mr:     mr,
		redis:  rc,
		events: &recordingPublisher{},
		now:    time.Date(2026, time.March, 10, 10, 0, 0, 0, ist),
	}

	opts := Options{
		Rules:          pricing.DefaultRules(),
		Location:       ist,
		IdempotencyTTL: time.Hour,
		Now:            f.clock,
	}
	f.drafts = NewDraftService(f.db, opts)
	f.checkout = NewCheckoutService(f.db, rc, f.events, opts)
	f.plans = NewPlanService(f.db, opts)
	f.renewals = NewRenewalService(f.db, rc, f.events, opts)
	f.orders = NewOrderService(f.db, f.events, opts)
	f.cart = NewCartService(f.db)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) setNow(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// variant seeds an active product with one variant and returns both ids.
func (f *fixture) variant(name string, price int64, stock int) (productID, variantID int64) {
	productID = f.db.AddProduct(name, true)
	variantID = f.db.AddVariant(productID, "Regular", name+"-REG", price, stock)
	return productID, variantID
}

func (f *fixture) address(userID int64, isDefault bool) int64 {
	return f.db.AddAddress(models.Address{
		UserID:     userID,
		Name:       "Asha Rao",
		Phone:      "9800000000",
		Line1:      "12 Residency Road",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560025",
		Country:    "IN",
		IsDefault:  isDefault,
	})
}

func (f *fixture) newDraft(ownerID int64, kind string, budget int64) *models.Draft {
	state, err := f.drafts.CreateDraft(f.ctx, &CreateDraftRequest{OwnerID: ownerID, Kind: kind, Budget: budget})
	require.NoError(f.t, err)
	return state.Draft
}

func (f *fixture) add(draftID, ownerID, productID, variantID int64, qty int) (*DraftState, error) {
	return f.drafts.AddLineItem(f.ctx, &AddLineItemRequest{
		DraftID:   draftID,
		OwnerID:   ownerID,
		ProductID: productID,
		VariantID: variantID,
		Quantity:  qty,
	})
}

func (f *fixture) mustAdd(draftID, ownerID, productID, variantID int64, qty int) *DraftState {
	state, err := f.add(draftID, ownerID, productID, variantID, qty)
	require.NoError(f.t, err)
	return state
}

func (f *fixture) inTx(fn func(q store.Queries) error) {
	require.NoError(f.t, f.db.WithTx(f.ctx, fn))
}

func (f *fixture) draft(id int64) *models.Draft {
	var d *models.Draft
	f.inTx(func(q store.Queries) error {
		var err error
		d, err = q.GetDraft(f.ctx, id)
		return err
	})
	return d
}

func (f *fixture) ordersOf(userID int64) []models.Order {
	var orders []models.Order
	f.inTx(func(q store.Queries) error {
		var err error
		orders, err = q.ListOrdersByUser(f.ctx, userID)
		return err
	})
	return orders
}

// activePlan creates a monthly plan holding qty of variantID and activates it
// with the given billing day.
func (f *fixture) activePlan(ownerID, productID, variantID int64, qty int, billingDay int) *ActivationResult {
	plan := f.newDraft(ownerID, models.DraftKindMonthlyPlan, 500000)
	f.mustAdd(plan.ID, ownerID, productID, variantID, qty)

	res, err := f.checkout.ActivatePlan(f.ctx, &ActivatePlanRequest{
		UserID:        ownerID,
		PlanID:        plan.ID,
		AddressID:     f.address(ownerID, true),
		PaymentMethod: "upi",
		BillingDay:    billingDay,
	})
	require.NoError(f.t, err)
	return res
}
