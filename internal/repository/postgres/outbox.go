package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func (r *outboxRepository) Create(ctx context.Context, tx *sqlx.Tx, record *model.OutboxRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.Payload == nil {
		return fmt.Errorf("record payload cannot be nil")
	}

	query := `
		INSERT INTO outbox_records (
			id, event_type, topic, partition_key, payload,
			aggregate_type, aggregate_id, status, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
	`
	record.ID = uuid.New()
	record.Status = model.OutboxStatusPending
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query,
			record.ID, record.EventType, record.Topic, record.PartitionKey,
			record.Payload, record.AggregateType, record.AggregateID,
			record.Status, record.CreatedAt)
	} else {
		_, err = r.db.ExecContext(ctx, query,
			record.ID, record.EventType, record.Topic, record.PartitionKey,
			record.Payload, record.AggregateType, record.AggregateID,
			record.Status, record.CreatedAt)
	}
	if err != nil {
		return fmt.Errorf("failed to create outbox record: %w", err)
	}
	return nil
}

// ClaimPending marks up to limit PENDING rows PROCESSING and returns them,
// oldest first. SKIP LOCKED keeps concurrent relay instances from claiming
// the same rows.
func (r *outboxRepository) ClaimPending(ctx context.Context, limit int) ([]*model.OutboxRecord, error) {
	query := `
		UPDATE outbox_records
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_records
			WHERE status = $2
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		RETURNING id, event_type, topic, partition_key, payload,
			aggregate_type, aggregate_id, status, retry_count,
			last_attempt_at, published_at, error_message, created_at, updated_at
	`
	var records []*model.OutboxRecord
	err := r.db.SelectContext(ctx, &records, query,
		model.OutboxStatusProcessing, model.OutboxStatusPending, limit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending records: %w", err)
	}
	return records, nil
}

// RequeueStale returns PROCESSING rows claimed before the cutoff to PENDING.
// The claim transition commits before the publish attempt, so a relay crash
// mid-batch strands its claims in PROCESSING; the next relay pass picks them
// up again through this reset.
func (r *outboxRepository) RequeueStale(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE outbox_records
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < $3
	`
	result, err := r.db.ExecContext(ctx, query,
		model.OutboxStatusPending, model.OutboxStatusProcessing, before)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale claims: %w", err)
	}
	return result.RowsAffected()
}

func (r *outboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE outbox_records
		SET status = $1, published_at = $2, last_attempt_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query, model.OutboxStatusPublished, at, id, model.OutboxStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark record published: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE outbox_records
		SET status = $1, retry_count = retry_count + 1, error_message = $2,
			last_attempt_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query, model.OutboxStatusPending, truncateError(errorMessage), id, model.OutboxStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark record for retry: %w", err)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE outbox_records
		SET status = $1, retry_count = retry_count + 1, error_message = $2,
			last_attempt_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query, model.OutboxStatusFailed, truncateError(errorMessage), id, model.OutboxStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark record failed: %w", err)
	}
	return nil
}

// DeletePublishedBefore is the retention sweep. FAILED rows are kept for
// manual inspection.
func (r *outboxRepository) DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbox_records
		WHERE status = $1 AND published_at < $2
	`
	result, err := r.db.ExecContext(ctx, query, model.OutboxStatusPublished, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published records: %w", err)
	}
	return result.RowsAffected()
}

func (r *outboxRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM outbox_records WHERE status = $1`, model.OutboxStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending records: %w", err)
	}
	return count, nil
}

const maxErrorLength = 500

func truncateError(msg string) string {
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}
	return msg
}
