package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusPublished  OutboxStatus = "PUBLISHED"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)

// OutboxRecord is one pending domain event awaiting relay to the broker.
// Rows are created in the same transaction as the domain mutation that
// produced them. Status only ever moves PENDING -> PROCESSING ->
// {PUBLISHED | PENDING (retry) | FAILED}; PUBLISHED is terminal.
type OutboxRecord struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	EventType     string          `db:"event_type" json:"event_type"`
	Topic         string          `db:"topic" json:"topic"`
	PartitionKey  string          `db:"partition_key" json:"partition_key"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	AggregateType string          `db:"aggregate_type" json:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id" json:"aggregate_id"`
	Status        OutboxStatus    `db:"status" json:"status"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	LastAttemptAt *time.Time      `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	PublishedAt   *time.Time      `db:"published_at" json:"published_at,omitempty"`
	ErrorMessage  *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}
