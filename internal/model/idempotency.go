package model

import "time"

// IdempotencyRecord marks an event as already applied. The unique index on
// (event_type, aggregate_type, aggregate_id, event_version) is the consumer's
// exactly-once gate; rows are never updated or deleted in normal operation.
type IdempotencyRecord struct {
	ID            int64     `db:"id" json:"id"`
	EventType     string    `db:"event_type" json:"event_type"`
	AggregateType string    `db:"aggregate_type" json:"aggregate_type"`
	AggregateID   string    `db:"aggregate_id" json:"aggregate_id"`
	EventVersion  int64     `db:"event_version" json:"event_version"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
