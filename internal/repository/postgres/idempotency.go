package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/repository"
)

type idempotencyRepository struct {
	BaseRepository
}

func NewIdempotencyRepository(base BaseRepository) repository.IdempotencyRepository {
	return &idempotencyRepository{base}
}

func (r *idempotencyRepository) Exists(ctx context.Context, tx *sqlx.Tx, eventType, aggregateType, aggregateID string, eventVersion int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM idempotency_records
			WHERE event_type = $1 AND aggregate_type = $2
			AND aggregate_id = $3 AND event_version = $4
		)
	`
	var exists bool
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &exists, query, eventType, aggregateType, aggregateID, eventVersion)
	} else {
		err = r.db.GetContext(ctx, &exists, query, eventType, aggregateType, aggregateID, eventVersion)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency record: %w", err)
	}
	return exists, nil
}

// Insert relies on the table's unique index as the sole concurrency guard;
// a racing duplicate comes back as repository.ErrDuplicate, not a failure.
func (r *idempotencyRepository) Insert(ctx context.Context, tx *sqlx.Tx, record *model.IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_records (
			event_type, aggregate_type, aggregate_id, event_version, created_at
		) VALUES ($1, $2, $3, $4, $5)
	`
	record.CreatedAt = time.Now()

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query,
			record.EventType, record.AggregateType, record.AggregateID,
			record.EventVersion, record.CreatedAt)
	} else {
		_, err = r.db.ExecContext(ctx, query,
			record.EventType, record.AggregateType, record.AggregateID,
			record.EventVersion, record.CreatedAt)
	}
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return nil
}
