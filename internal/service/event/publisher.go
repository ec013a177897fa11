package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/repository"
)

// Publisher is the outbox-guaranteed delivery surface for domain modules:
// the PENDING row is written inside the caller's transaction, so "state
// changed" and "event will be sent" commit or roll back together.
type Publisher struct {
	outboxRepo repository.OutboxRepository
}

func NewPublisher(outboxRepo repository.OutboxRepository) *Publisher {
	return &Publisher{outboxRepo: outboxRepo}
}

// Publish writes one outbox row for the event inside tx. The envelope's
// identity tuple is what the consumer's idempotency ledger keys on, so
// eventVersion must be unique per (eventType, aggregate) occurrence.
func (p *Publisher) Publish(ctx context.Context, tx *sqlx.Tx, eventType, topic string,
	aggregateType, aggregateID string, eventVersion int64, payload interface{}) error {

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	envelope, err := json.Marshal(model.EventEnvelope{
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventVersion:  eventVersion,
		Payload:       body,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	record := &model.OutboxRecord{
		EventType:     eventType,
		Topic:         topic,
		PartitionKey:  aggregateID,
		Payload:       envelope,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
	}
	if err := p.outboxRepo.Create(ctx, tx, record); err != nil {
		return fmt.Errorf("failed to enqueue event %s: %w", eventType, err)
	}
	return nil
}
