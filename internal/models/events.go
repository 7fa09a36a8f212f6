package models

import "time"

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypePlanActivated  = "PLAN_ACTIVATED"
	EventTypePlanRenewed    = "PLAN_RENEWED"
	EventTypeRenewalFailed  = "RENEWAL_FAILED"
	EventTypeRenewalTrigger = "RENEWAL_TRIGGER"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published after any order is committed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      int64           `json:"user_id"`
	Source      string          `json:"source"`
	TotalAmount int64           `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderCancelledEvent published when an order is cancelled and stock restored
type OrderCancelledEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	UserID      int64  `json:"user_id"`
	Reason      string `json:"reason"`
}

// PlanActivatedEvent published when a monthly plan goes active
type PlanActivatedEvent struct {
	BaseEvent
	PlanID          int64     `json:"plan_id"`
	UserID          int64     `json:"user_id"`
	OrderID         int64     `json:"order_id"`
	NextBillingDate time.Time `json:"next_billing_date"`
}

// PlanRenewedEvent published for each successful renewal cycle
type PlanRenewedEvent struct {
	BaseEvent
	PlanID          int64     `json:"plan_id"`
	UserID          int64     `json:"user_id"`
	OrderID         int64     `json:"order_id"`
	CycleNumber     int       `json:"cycle_number"`
	NextBillingDate time.Time `json:"next_billing_date"`
}

// RenewalFailedEvent published for operators when a plan cannot renew
type RenewalFailedEvent struct {
	BaseEvent
	PlanID int64  `json:"plan_id"`
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

// RenewalTriggerEvent asks the service to run the renewal batch
type RenewalTriggerEvent struct {
	BaseEvent
	RequestedBy string `json:"requested_by"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
