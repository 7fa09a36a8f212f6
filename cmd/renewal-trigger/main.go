// Command renewal-trigger asks running furbox instances to process renewals
// by publishing a RENEWAL_TRIGGER event.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"furbox-service/config"
	"furbox-service/internal/broker"
	"furbox-service/internal/models"

	"github.com/google/uuid"
)

func main() {
	requestedBy := flag.String("requested-by", "cli", "who is asking for the batch")
	flag.Parse()

	cfg := config.Load()

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRenewalTrigger)
	defer producer.Close()

	event := &models.RenewalTriggerEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeRenewalTrigger,
			Timestamp: time.Now(),
		},
		RequestedBy: *requestedBy,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := producer.PublishEvent(ctx, "renewals", event); err != nil {
		log.Fatalf("Failed to publish renewal trigger: %v", err)
	}
	log.Printf("Renewal trigger %s published to %s", event.EventID, cfg.Kafka.TopicRenewalTrigger)
}
