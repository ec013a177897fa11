package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/repository"
)

type rollupRepository struct {
	BaseRepository
}

func NewRollupRepository(base BaseRepository) repository.RollupRepository {
	return &rollupRepository{base}
}

func rollupTable(window string) (string, error) {
	switch window {
	case "WEEKLY":
		return "weekly_ranking_rollups", nil
	case "MONTHLY":
		return "monthly_ranking_rollups", nil
	}
	return "", fmt.Errorf("no rollup table for window %q", window)
}

// ReplaceForPeriod is delete-then-insert so re-running a rollup fully
// replaces prior results with no partial merge.
func (r *rollupRepository) ReplaceForPeriod(ctx context.Context, window string, period string, rows []*model.RollupRow) error {
	table, err := rollupTable(window)
	if err != nil {
		return err
	}
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE period = $1`, table), period); err != nil {
			return fmt.Errorf("failed to delete rollup rows for %s: %w", period, err)
		}
		for _, row := range rows {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`
				INSERT INTO %s (period, item_id, score, rank, period_start, period_end, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, NOW())
			`, table), period, row.ItemID, row.Score, row.Rank, row.PeriodStart, row.PeriodEnd)
			if err != nil {
				return fmt.Errorf("failed to insert rollup row for item %d: %w", row.ItemID, err)
			}
		}
		return nil
	})
}

func (r *rollupRepository) GetPage(ctx context.Context, window string, period string, offset, limit int) ([]*model.RollupRow, error) {
	table, err := rollupTable(window)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT id, period, item_id, score, rank, period_start, period_end, created_at
		FROM %s
		WHERE period = $1
		ORDER BY rank ASC
		OFFSET $2 LIMIT $3
	`, table)
	var rows []*model.RollupRow
	if err := r.db.SelectContext(ctx, &rows, query, period, offset, limit); err != nil {
		return nil, fmt.Errorf("failed to read rollup page for %s: %w", period, err)
	}
	return rows, nil
}

func (r *rollupRepository) CountForPeriod(ctx context.Context, window string, period string) (int64, error) {
	table, err := rollupTable(window)
	if err != nil {
		return 0, err
	}
	var count int64
	err = r.db.GetContext(ctx, &count,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE period = $1`, table), period)
	if err != nil {
		return 0, fmt.Errorf("failed to count rollup rows for %s: %w", period, err)
	}
	return count, nil
}
