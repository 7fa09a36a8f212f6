package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"furbox-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderCancelled publishes OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPlanActivated publishes PlanActivated event
func (ep *EventPublisher) PublishPlanActivated(ctx context.Context, event *models.PlanActivatedEvent) error {
	return ep.producer.PublishEvent(ctx, planKey(event.PlanID), event)
}

// PublishPlanRenewed publishes PlanRenewed event
func (ep *EventPublisher) PublishPlanRenewed(ctx context.Context, event *models.PlanRenewedEvent) error {
	return ep.producer.PublishEvent(ctx, planKey(event.PlanID), event)
}

// PublishRenewalFailed publishes RenewalFailed event
func (ep *EventPublisher) PublishRenewalFailed(ctx context.Context, event *models.RenewalFailedEvent) error {
	return ep.producer.PublishEvent(ctx, planKey(event.PlanID), event)
}

func orderKey(id int64) string {
	return fmt.Sprintf("order-%d", id)
}

func planKey(id int64) string {
	return fmt.Sprintf("plan-%d", id)
}

// EventHandler handles incoming events
type EventHandler struct {
	onRenewalTrigger func(context.Context, *models.RenewalTriggerEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnRenewalTrigger registers a handler for RenewalTrigger events
func (eh *EventHandler) OnRenewalTrigger(handler func(context.Context, *models.RenewalTriggerEvent) error) {
	eh.onRenewalTrigger = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeRenewalTrigger:
		if eh.onRenewalTrigger != nil {
			var event models.RenewalTriggerEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal RenewalTrigger event: %w", err)
			}
			return eh.onRenewalTrigger(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
