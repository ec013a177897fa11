package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/repository"
)

type itemMetricsRepository struct {
	BaseRepository
}

func NewItemMetricsRepository(base BaseRepository) repository.ItemMetricsRepository {
	return &itemMetricsRepository{base}
}

// GetForUpdate returns the metrics row under a row lock, inserting a zero row
// first if the item has never been seen. Concurrent consumers touching the
// same item serialize here.
func (r *itemMetricsRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, itemID int64) (*model.ItemMetrics, error) {
	insert := `
		INSERT INTO item_metrics (item_id, like_count, view_count, sales_count, total_sales_amount, updated_at)
		VALUES ($1, 0, 0, 0, 0, NOW())
		ON CONFLICT (item_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, insert, itemID); err != nil {
		return nil, fmt.Errorf("failed to ensure metrics row for item %d: %w", itemID, err)
	}

	query := `
		SELECT item_id, like_count, view_count, sales_count, total_sales_amount, updated_at
		FROM item_metrics
		WHERE item_id = $1
		FOR UPDATE
	`
	var metrics model.ItemMetrics
	if err := tx.GetContext(ctx, &metrics, query, itemID); err != nil {
		return nil, fmt.Errorf("failed to lock metrics row for item %d: %w", itemID, err)
	}
	return &metrics, nil
}

func (r *itemMetricsRepository) Update(ctx context.Context, tx *sqlx.Tx, metrics *model.ItemMetrics) error {
	query := `
		UPDATE item_metrics
		SET like_count = $1, view_count = $2, sales_count = $3,
			total_sales_amount = $4, updated_at = $5
		WHERE item_id = $6
	`
	metrics.UpdatedAt = time.Now()
	_, err := tx.ExecContext(ctx, query,
		metrics.LikeCount, metrics.ViewCount, metrics.SalesCount,
		metrics.TotalSalesAmount, metrics.UpdatedAt, metrics.ItemID)
	if err != nil {
		return fmt.Errorf("failed to update metrics for item %d: %w", metrics.ItemID, err)
	}
	return nil
}

func (r *itemMetricsRepository) Get(ctx context.Context, itemID int64) (*model.ItemMetrics, error) {
	query := `
		SELECT item_id, like_count, view_count, sales_count, total_sales_amount, updated_at
		FROM item_metrics
		WHERE item_id = $1
	`
	var metrics model.ItemMetrics
	err := r.db.GetContext(ctx, &metrics, query, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.ItemMetrics{ItemID: itemID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics for item %d: %w", itemID, err)
	}
	return &metrics, nil
}
