// Package memstore is an in-process implementation of store.Runner for
// single-instance deployments and tests. Transactions are serialized by one
// mutex and run against a copy of the data that replaces the live copy only
// on success.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"furbox-service/internal/models"
	"furbox-service/internal/store"
)

type product struct {
	name     string
	isActive bool
}

type cartKey struct {
	userID    int64
	variantID int64
}

type data struct {
	nextID     int64
	products   map[int64]product
	variants   map[int64]models.Variant
	logs       []models.InventoryLog
	addresses  map[int64]models.Address
	drafts     map[int64]models.Draft
	draftItems map[int64]models.LineItem
	sequences  map[string]int
	orders     map[int64]models.Order
	orderItems map[int64][]models.OrderItem
	cycles     map[int64]models.PlanCycle
	bundles    map[int64]models.BundleOrder
	cart       map[cartKey]models.CartItem
}

func newData() *data {
	return &data{
		products:   map[int64]product{},
		variants:   map[int64]models.Variant{},
		addresses:  map[int64]models.Address{},
		drafts:     map[int64]models.Draft{},
		draftItems: map[int64]models.LineItem{},
		sequences:  map[string]int{},
		orders:     map[int64]models.Order{},
		orderItems: map[int64][]models.OrderItem{},
		cycles:     map[int64]models.PlanCycle{},
		bundles:    map[int64]models.BundleOrder{},
		cart:       map[cartKey]models.CartItem{},
	}
}

// clone copies every table. Values are replaced, never mutated in place, so
// copying the maps is enough.
func (d *data) clone() *data {
	c := &data{
		nextID:     d.nextID,
		products:   copyMap(d.products),
		variants:   copyMap(d.variants),
		logs:       append([]models.InventoryLog(nil), d.logs...),
		addresses:  copyMap(d.addresses),
		drafts:     copyMap(d.drafts),
		draftItems: copyMap(d.draftItems),
		sequences:  copyMap(d.sequences),
		orders:     copyMap(d.orders),
		orderItems: copyMap(d.orderItems),
		cycles:     copyMap(d.cycles),
		bundles:    copyMap(d.bundles),
		cart:       copyMap(d.cart),
	}
	return c
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d *data) id() int64 {
	d.nextID++
	return d.nextID
}

type Store struct {
	mu  sync.Mutex
	d   *data
	now func() time.Time
}

var _ store.Runner = (*Store)(nil)

func New() *Store {
	return &Store{d: newData(), now: time.Now}
}

func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.d.clone()
	if err := fn(&queries{d: work, now: s.now}); err != nil {
		return err
	}
	s.d = work
	return nil
}

// AddProduct seeds a catalog product.
func (s *Store) AddProduct(name string, active bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.d.id()
	s.d.products[id] = product{name: name, isActive: active}
	return id
}

// AddVariant seeds an active variant of productID.
func (s *Store) AddVariant(productID int64, name, sku string, price int64, stock int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.d.id()
	s.d.variants[id] = models.Variant{
		ID:        id,
		ProductID: productID,
		Name:      name,
		SKU:       sku,
		Price:     price,
		Stock:     stock,
		IsActive:  true,
	}
	return id
}

func (s *Store) SetVariantPrice(variantID, price int64) {
	s.updateVariant(variantID, func(v *models.Variant) { v.Price = price })
}

func (s *Store) SetVariantActive(variantID int64, active bool) {
	s.updateVariant(variantID, func(v *models.Variant) { v.IsActive = active })
}

func (s *Store) SetStock(variantID int64, stock int) {
	s.updateVariant(variantID, func(v *models.Variant) { v.Stock = stock })
}

func (s *Store) SetProductActive(productID int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.d.products[productID]
	p.isActive = active
	s.d.products[productID] = p
}

func (s *Store) updateVariant(variantID int64, fn func(v *models.Variant)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.d.variants[variantID]
	fn(&v)
	s.d.variants[variantID] = v
}

// Stock returns the current stock of a variant.
func (s *Store) Stock(variantID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.variants[variantID].Stock
}

// AddAddress seeds an address and returns its id.
func (s *Store) AddAddress(addr models.Address) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr.ID = s.d.id()
	addr.CreatedAt = s.now()
	s.d.addresses[addr.ID] = addr
	return addr.ID
}

type queries struct {
	d   *data
	now func() time.Time
}

var _ store.Queries = (*queries)(nil)

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), store.ErrNotFound)
}

func (q *queries) GetVariant(_ context.Context, variantID int64) (*models.Variant, error) {
	v, ok := q.d.variants[variantID]
	if !ok {
		return nil, notFound("variant %d", variantID)
	}
	p := q.d.products[v.ProductID]
	v.ProductName = p.name
	v.ProductIsActive = p.isActive
	return &v, nil
}

func (q *queries) AdjustStock(_ context.Context, variantID int64, delta int, reason string, orderID *int64) (*models.InventoryLog, error) {
	v, ok := q.d.variants[variantID]
	if !ok {
		return nil, notFound("variant %d", variantID)
	}
	if v.Stock+delta < 0 {
		return nil, fmt.Errorf("variant %d: %w", variantID, store.ErrInsufficientStock)
	}

	entry := models.InventoryLog{
		ID:            q.d.id(),
		VariantID:     variantID,
		Delta:         delta,
		PreviousStock: v.Stock,
		NewStock:      v.Stock + delta,
		Reason:        reason,
		OrderID:       orderID,
		CreatedAt:     q.now(),
	}
	v.Stock = entry.NewStock
	q.d.variants[variantID] = v
	q.d.logs = append(q.d.logs, entry)
	return &entry, nil
}

func (q *queries) ListInventoryLogs(_ context.Context, variantID int64) ([]models.InventoryLog, error) {
	var out []models.InventoryLog
	for _, l := range q.d.logs {
		if l.VariantID == variantID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (q *queries) GetAddress(_ context.Context, id int64) (*models.Address, error) {
	a, ok := q.d.addresses[id]
	if !ok {
		return nil, notFound("address %d", id)
	}
	return &a, nil
}

func (q *queries) GetDefaultAddress(_ context.Context, userID int64) (*models.Address, error) {
	var found *models.Address
	for _, a := range q.d.addresses {
		if a.UserID == userID && a.IsDefault && (found == nil || a.ID < found.ID) {
			a := a
			found = &a
		}
	}
	if found == nil {
		return nil, notFound("default address for user %d", userID)
	}
	return found, nil
}

func (q *queries) CreateDraft(_ context.Context, d *models.Draft) error {
	d.ID = q.d.id()
	d.CreatedAt = q.now()
	d.UpdatedAt = d.CreatedAt
	if d.SelectedCategories == nil {
		d.SelectedCategories = models.Categories{}
	}
	stored := *d
	stored.Items = nil
	q.d.drafts[d.ID] = stored
	return nil
}

func (q *queries) GetDraft(_ context.Context, id int64) (*models.Draft, error) {
	d, ok := q.d.drafts[id]
	if !ok {
		return nil, notFound("draft %d", id)
	}
	d.Items = q.itemsOf(id)
	return &d, nil
}

func (q *queries) LockDraft(ctx context.Context, id int64) (*models.Draft, error) {
	return q.GetDraft(ctx, id)
}

func (q *queries) itemsOf(draftID int64) []models.LineItem {
	items := []models.LineItem{}
	for _, it := range q.d.draftItems {
		if it.DraftID == draftID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (q *queries) ListDrafts(_ context.Context, ownerID int64) ([]models.Draft, error) {
	var out []models.Draft
	for _, d := range q.d.drafts {
		if d.OwnerID == ownerID {
			d.Items = q.itemsOf(d.ID)
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (q *queries) UpdateDraft(_ context.Context, d *models.Draft) error {
	if _, ok := q.d.drafts[d.ID]; !ok {
		return notFound("draft %d", d.ID)
	}
	d.UpdatedAt = q.now()
	stored := *d
	stored.Items = nil
	q.d.drafts[d.ID] = stored
	return nil
}

func (q *queries) DeleteDraft(_ context.Context, id int64) error {
	delete(q.d.drafts, id)
	for itemID, it := range q.d.draftItems {
		if it.DraftID == id {
			delete(q.d.draftItems, itemID)
		}
	}
	return nil
}

func (q *queries) ListDuePlanIDs(_ context.Context, asOf time.Time) ([]int64, error) {
	var due []models.Draft
	for _, d := range q.d.drafts {
		if d.Kind == models.DraftKindMonthlyPlan && d.Status == models.DraftStatusActive &&
			d.NextBillingDate != nil && !d.NextBillingDate.After(asOf) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextBillingDate.Equal(*due[j].NextBillingDate) {
			return due[i].NextBillingDate.Before(*due[j].NextBillingDate)
		}
		return due[i].ID < due[j].ID
	})

	ids := make([]int64, 0, len(due))
	for _, d := range due {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (q *queries) UpsertDraftItem(_ context.Context, item *models.LineItem) error {
	for id, it := range q.d.draftItems {
		if it.DraftID == item.DraftID && it.ProductID == item.ProductID && it.VariantID == item.VariantID {
			it.Quantity += item.Quantity
			q.d.draftItems[id] = it
			*item = it
			return nil
		}
	}
	item.ID = q.d.id()
	q.d.draftItems[item.ID] = *item
	return nil
}

func (q *queries) SetDraftItemQuantity(_ context.Context, draftID, variantID int64, quantity int) error {
	for id, it := range q.d.draftItems {
		if it.DraftID == draftID && it.VariantID == variantID {
			it.Quantity = quantity
			q.d.draftItems[id] = it
			return nil
		}
	}
	return notFound("draft %d variant %d", draftID, variantID)
}

func (q *queries) DeleteDraftItemsByProduct(_ context.Context, draftID, productID int64) (int64, error) {
	var n int64
	for id, it := range q.d.draftItems {
		if it.DraftID == draftID && it.ProductID == productID {
			delete(q.d.draftItems, id)
			n++
		}
	}
	return n, nil
}

func (q *queries) DeleteDraftItemByVariant(_ context.Context, draftID, variantID int64) error {
	for id, it := range q.d.draftItems {
		if it.DraftID == draftID && it.VariantID == variantID {
			delete(q.d.draftItems, id)
		}
	}
	return nil
}

func (q *queries) NextOrderSequence(_ context.Context, day time.Time) (int, error) {
	key := day.Format("2006-01-02")
	q.d.sequences[key]++
	return q.d.sequences[key], nil
}

func (q *queries) CreateOrder(_ context.Context, o *models.Order) error {
	for _, existing := range q.d.orders {
		if existing.OrderNumber == o.OrderNumber {
			return fmt.Errorf("order number %s: %w", o.OrderNumber, store.ErrDuplicate)
		}
	}

	o.ID = q.d.id()
	o.CreatedAt = q.now()
	o.UpdatedAt = o.CreatedAt
	items := make([]models.OrderItem, len(o.Items))
	for i := range o.Items {
		o.Items[i].ID = q.d.id()
		o.Items[i].OrderID = o.ID
		items[i] = o.Items[i]
	}

	stored := *o
	stored.Items = nil
	q.d.orders[o.ID] = stored
	q.d.orderItems[o.ID] = items
	return nil
}

func (q *queries) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := q.d.orders[id]
	if !ok {
		return nil, notFound("order %d", id)
	}
	o.Items = append([]models.OrderItem{}, q.d.orderItems[id]...)
	return &o, nil
}

func (q *queries) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return q.GetOrder(ctx, id)
}

func (q *queries) ListOrdersByUser(_ context.Context, userID int64) ([]models.Order, error) {
	var out []models.Order
	for _, o := range q.d.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (q *queries) UpdateOrderStatus(_ context.Context, id int64, status string) error {
	o, ok := q.d.orders[id]
	if !ok {
		return notFound("order %d", id)
	}
	o.Status = status
	o.UpdatedAt = q.now()
	q.d.orders[id] = o
	return nil
}

func (q *queries) LastCycleNumber(_ context.Context, planID int64) (int, error) {
	last := 0
	for _, c := range q.d.cycles {
		if c.PlanID == planID && c.CycleNumber > last {
			last = c.CycleNumber
		}
	}
	return last, nil
}

func (q *queries) CreatePlanCycle(_ context.Context, c *models.PlanCycle) error {
	for _, existing := range q.d.cycles {
		if existing.PlanID == c.PlanID && existing.CycleNumber == c.CycleNumber {
			return fmt.Errorf("plan %d cycle %d: %w", c.PlanID, c.CycleNumber, store.ErrDuplicate)
		}
	}
	c.ID = q.d.id()
	c.CreatedAt = q.now()
	q.d.cycles[c.ID] = *c
	return nil
}

func (q *queries) ListPlanCycles(_ context.Context, planID int64) ([]models.PlanCycle, error) {
	var out []models.PlanCycle
	for _, c := range q.d.cycles {
		if c.PlanID == planID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CycleNumber < out[j].CycleNumber })
	return out, nil
}

func (q *queries) UpdateCycleStatusByOrder(_ context.Context, orderID int64, status string) error {
	for id, c := range q.d.cycles {
		if c.OrderID == orderID {
			c.Status = status
			q.d.cycles[id] = c
		}
	}
	return nil
}

func (q *queries) CreateBundleOrder(_ context.Context, b *models.BundleOrder) error {
	for _, existing := range q.d.bundles {
		if existing.BundleID == b.BundleID {
			return fmt.Errorf("bundle %d: %w", b.BundleID, store.ErrDuplicate)
		}
	}
	b.ID = q.d.id()
	b.CreatedAt = q.now()
	q.d.bundles[b.ID] = *b
	return nil
}

func (q *queries) UpsertCartItem(_ context.Context, item *models.CartItem) error {
	key := cartKey{userID: item.UserID, variantID: item.VariantID}
	if existing, ok := q.d.cart[key]; ok {
		item.CreatedAt = existing.CreatedAt
	} else {
		item.CreatedAt = q.now()
	}
	q.d.cart[key] = *item
	return nil
}

func (q *queries) ListCartItems(_ context.Context, userID int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	for _, it := range q.d.cart {
		if it.UserID == userID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].VariantID < items[j].VariantID })
	return items, nil
}

func (q *queries) DeleteCartItems(_ context.Context, userID int64, variantIDs []int64) error {
	for _, v := range variantIDs {
		delete(q.d.cart, cartKey{userID: userID, variantID: v})
	}
	return nil
}
