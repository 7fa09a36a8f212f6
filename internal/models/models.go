package models

import "time"

// Variant is the catalog view of a purchasable product variant joined with
// its parent product.
type Variant struct {
	ID              int64  `db:"id" json:"id"`
	ProductID       int64  `db:"product_id" json:"product_id"`
	ProductName     string `db:"product_name" json:"product_name"`
	Name            string `db:"name" json:"name"`
	SKU             string `db:"sku" json:"sku"`
	Price           int64  `db:"price" json:"price"`
	Stock           int    `db:"stock" json:"stock"`
	IsActive        bool   `db:"is_active" json:"is_active"`
	ProductIsActive bool   `db:"product_is_active" json:"product_is_active"`
}

// Address is a user's shipping address
type Address struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	Name       string    `db:"name" json:"name"`
	Phone      string    `db:"phone" json:"phone"`
	Line1      string    `db:"line1" json:"line1"`
	Line2      string    `db:"line2" json:"line2"`
	City       string    `db:"city" json:"city"`
	State      string    `db:"state" json:"state"`
	PostalCode string    `db:"postal_code" json:"postal_code"`
	Country    string    `db:"country" json:"country"`
	IsDefault  bool      `db:"is_default" json:"is_default"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Snapshot copies the address into the immutable form stored on orders.
func (a *Address) Snapshot() AddressSnapshot {
	return AddressSnapshot{
		Name:       a.Name,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// Draft kinds
const (
	DraftKindBundle      = "bundle"
	DraftKindMonthlyPlan = "monthly_plan"
)

// Draft statuses. Bundles only ever use DraftStatusDraft.
const (
	DraftStatusDraft     = "draft"
	DraftStatusActive    = "active"
	DraftStatusPaused    = "paused"
	DraftStatusCancelled = "cancelled"
)

// Draft is a per-user basket filled against a fixed budget. A monthly plan
// is a draft that has been activated.
type Draft struct {
	ID                 int64      `db:"id" json:"id"`
	OwnerID            int64      `db:"owner_id" json:"owner_id"`
	Kind               string     `db:"kind" json:"kind"`
	Budget             int64      `db:"budget" json:"budget"`
	PetType            *string    `db:"pet_type" json:"pet_type,omitempty"`
	SelectedCategories Categories `db:"selected_categories" json:"selected_categories"`
	Status             string     `db:"status" json:"status"`
	BillingDay         *int       `db:"billing_day" json:"billing_day,omitempty"`
	NextBillingDate    *time.Time `db:"next_billing_date" json:"next_billing_date,omitempty"`
	ActivatedAt        *time.Time `db:"activated_at" json:"activated_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`

	Items []LineItem `db:"-" json:"items"`
}

// LineItem is a priced line in a draft. UnitPrice is locked when the line is
// first added.
type LineItem struct {
	ID        int64     `db:"id" json:"id"`
	DraftID   int64     `db:"draft_id" json:"draft_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	VariantID int64     `db:"variant_id" json:"variant_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	UnitPrice int64     `db:"unit_price" json:"unit_price"`
	LockedAt  time.Time `db:"locked_at" json:"locked_at"`
}

// Wallet is derived from a draft and never stored.
type Wallet struct {
	Budget     int64 `json:"budget"`
	Spent      int64 `json:"spent"`
	Remaining  int64 `json:"remaining"`
	CanAddMore bool  `json:"can_add_more"`
}

// Order sources, also used as order number prefixes.
const (
	OrderSourceStandard = "standard"
	OrderSourceBundle   = "bundle"
	OrderSourcePlan     = "plan"
	OrderSourceRenewal  = "renewal"
)

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// PaymentStatusPending is the payment status of every new order. Settlement
// happens outside this service.
const PaymentStatusPending = "pending"

const PaymentMethodAutoRenewal = "auto_renewal"

// Order is an immutable purchase snapshot.
type Order struct {
	ID              int64           `db:"id" json:"id"`
	OrderNumber     string          `db:"order_number" json:"order_number"`
	UserID          int64           `db:"user_id" json:"user_id"`
	Source          string          `db:"source" json:"source"`
	Subtotal        int64           `db:"subtotal" json:"subtotal"`
	Discount        int64           `db:"discount" json:"discount"`
	Tax             int64           `db:"tax" json:"tax"`
	ShippingCost    int64           `db:"shipping_cost" json:"shipping_cost"`
	Total           int64           `db:"total" json:"total"`
	Status          string          `db:"status" json:"status"`
	PaymentStatus   string          `db:"payment_status" json:"payment_status"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	ShippingAddress AddressSnapshot `db:"shipping_address" json:"shipping_address"`
	Notes           string          `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items"`
}

// OrderItem snapshots catalog data at purchase time.
type OrderItem struct {
	ID          int64  `db:"id" json:"id"`
	OrderID     int64  `db:"order_id" json:"order_id"`
	ProductID   int64  `db:"product_id" json:"product_id"`
	VariantID   int64  `db:"variant_id" json:"variant_id"`
	ProductName string `db:"product_name" json:"product_name"`
	VariantName string `db:"variant_name" json:"variant_name"`
	SKU         string `db:"sku" json:"sku"`
	Quantity    int    `db:"quantity" json:"quantity"`
	UnitPrice   int64  `db:"unit_price" json:"unit_price"`
	LineTotal   int64  `db:"line_total" json:"line_total"`
}

// Plan cycle statuses
const (
	CycleStatusPlaced    = "placed"
	CycleStatusCancelled = "cancelled"
)

// PlanCycle links a monthly plan to the order placed for one billing cycle.
type PlanCycle struct {
	ID               int64            `db:"id" json:"id"`
	PlanID           int64            `db:"plan_id" json:"plan_id"`
	OrderID          int64            `db:"order_id" json:"order_id"`
	CycleNumber      int              `db:"cycle_number" json:"cycle_number"`
	BudgetUsed       int64            `db:"budget_used" json:"budget_used"`
	BudgetRemaining  int64            `db:"budget_remaining" json:"budget_remaining"`
	ProductsSnapshot ProductsSnapshot `db:"products_snapshot" json:"products_snapshot"`
	Status           string           `db:"status" json:"status"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// BundleOrder records the single order produced by a one-time bundle.
type BundleOrder struct {
	ID               int64            `db:"id" json:"id"`
	BundleID         int64            `db:"bundle_id" json:"bundle_id"`
	OrderID          int64            `db:"order_id" json:"order_id"`
	ItemCount        int              `db:"item_count" json:"item_count"`
	Subtotal         int64            `db:"subtotal" json:"subtotal"`
	Discount         int64            `db:"discount" json:"discount"`
	ProductsSnapshot ProductsSnapshot `db:"products_snapshot" json:"products_snapshot"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// Inventory log reasons
const (
	StockReasonOrderPlaced    = "order_placed"
	StockReasonOrderCancelled = "order_cancelled"
	StockReasonRenewal        = "renewal"
)

// InventoryLog is an append-only record of every stock change.
type InventoryLog struct {
	ID            int64     `db:"id" json:"id"`
	VariantID     int64     `db:"variant_id" json:"variant_id"`
	Delta         int       `db:"delta" json:"delta"`
	PreviousStock int       `db:"previous_stock" json:"previous_stock"`
	NewStock      int       `db:"new_stock" json:"new_stock"`
	Reason        string    `db:"reason" json:"reason"`
	OrderID       *int64    `db:"order_id" json:"order_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// CartItem is a line in a user's shopping cart
type CartItem struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	VariantID int64     `db:"variant_id" json:"variant_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
