package model

import (
	"encoding/json"
	"fmt"
)

// Event types carried in the broker message header and on outbox rows.
const (
	EventTypeLikeAdded     = "LIKE_ADDED"
	EventTypeLikeRemoved   = "LIKE_REMOVED"
	EventTypeProductViewed = "PRODUCT_VIEWED"
	EventTypeOrderPlaced   = "ORDER_PLACED"
)

const (
	AggregateTypeProduct = "PRODUCT"
	AggregateTypeOrder   = "ORDER"
)

// Broker topics. Each topic has a matching dead-letter topic suffixed "-dlq".
const (
	TopicCatalogEvents = "catalog-events"
	TopicOrderEvents   = "order-events"
)

func DeadLetterTopic(topic string) string {
	return topic + "-dlq"
}

// EventEnvelope is the JSON payload published for every domain event. The
// (EventType, AggregateType, AggregateID, EventVersion) tuple is the natural
// event identity used by the idempotency ledger.
type EventEnvelope struct {
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventVersion  int64           `json:"event_version"`
	Payload       json.RawMessage `json:"payload"`
}

func (e *EventEnvelope) Validate() error {
	if e.EventType == "" || e.AggregateType == "" || e.AggregateID == "" {
		return fmt.Errorf("envelope missing identity fields: type=%q aggregate=%q/%q",
			e.EventType, e.AggregateType, e.AggregateID)
	}
	return nil
}

// LikeEvent is the payload for LIKE_ADDED / LIKE_REMOVED.
type LikeEvent struct {
	ProductID int64 `json:"product_id"`
	UserID    int64 `json:"user_id"`
}

// ViewEvent is the payload for PRODUCT_VIEWED.
type ViewEvent struct {
	ProductID int64 `json:"product_id"`
	UserID    int64 `json:"user_id"`
}

// OrderPlacedEvent is the payload for ORDER_PLACED. One event per line item.
type OrderPlacedEvent struct {
	OrderID   int64   `json:"order_id"`
	ProductID int64   `json:"product_id"`
	Quantity  int64   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}
