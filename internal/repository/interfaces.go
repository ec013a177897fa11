package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/ranking-api/internal/model"
)

// ErrDuplicate is returned when an insert hits a unique constraint. The
// idempotency ledger relies on this as its sole concurrency guard.
var ErrDuplicate = errors.New("duplicate row")

// OutboxRepository persists pending event records and their relay lifecycle.
type OutboxRepository interface {
	// Create writes a PENDING row inside the caller's transaction; pass a nil
	// tx to write outside one (tests only — production callers always hand in
	// the transaction of the originating domain write).
	Create(ctx context.Context, tx *sqlx.Tx, record *model.OutboxRecord) error
	// ClaimPending selects up to limit PENDING rows oldest-first, skipping
	// rows locked by a concurrent relay, and marks them PROCESSING.
	ClaimPending(ctx context.Context, limit int) ([]*model.OutboxRecord, error)
	// RequeueStale resets PROCESSING rows claimed before the cutoff back to
	// PENDING. A relay that dies between claim and outcome leaves its rows
	// PROCESSING; without the requeue they would be stranded forever.
	RequeueStale(ctx context.Context, before time.Time) (int64, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkRetry resets the row to PENDING with the attempt recorded.
	MarkRetry(ctx context.Context, id uuid.UUID, errorMessage string) error
	// MarkFailed is the terminal transition after retries are exhausted.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error)
	CountPending(ctx context.Context) (int64, error)
}

// IdempotencyRepository is the consumer's exactly-once gate.
type IdempotencyRepository interface {
	Exists(ctx context.Context, tx *sqlx.Tx, eventType, aggregateType, aggregateID string, eventVersion int64) (bool, error)
	// Insert records the event as applied. A racing duplicate insert returns
	// ErrDuplicate, which callers treat as "already handled".
	Insert(ctx context.Context, tx *sqlx.Tx, record *model.IdempotencyRecord) error
}

// ItemMetricsRepository owns the durable per-item counters.
type ItemMetricsRepository interface {
	// GetForUpdate locks the row (creating a zero row first if absent) so
	// concurrent consumers serialize on the same item.
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, itemID int64) (*model.ItemMetrics, error)
	Update(ctx context.Context, tx *sqlx.Tx, metrics *model.ItemMetrics) error
	Get(ctx context.Context, itemID int64) (*model.ItemMetrics, error)
}

// SnapshotRepository owns the durable daily ranking snapshots.
type SnapshotRepository interface {
	ReplaceForDate(ctx context.Context, date time.Time, rows []*model.DailySnapshotRow) error
	GetByDateRange(ctx context.Context, from, to time.Time) ([]*model.DailySnapshotRow, error)
}

// RollupRepository owns the weekly/monthly durable leaderboards.
type RollupRepository interface {
	ReplaceForPeriod(ctx context.Context, window string, period string, rows []*model.RollupRow) error
	GetPage(ctx context.Context, window string, period string, offset, limit int) ([]*model.RollupRow, error)
	CountForPeriod(ctx context.Context, window string, period string) (int64, error)
}

// FailureRepository persists terminal consumer failures for inspection.
type FailureRepository interface {
	Insert(ctx context.Context, failure *model.EventFailure) error
}

// CatalogRepository resolves item ids to display projections.
type CatalogRepository interface {
	GetItem(ctx context.Context, itemID int64) (*model.CatalogItem, error)
}

// Tx executes fn inside one transaction, rolling back on error.
type Tx interface {
	WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
}
