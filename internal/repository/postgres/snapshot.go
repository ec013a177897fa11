package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/repository"
)

type snapshotRepository struct {
	BaseRepository
}

func NewSnapshotRepository(base BaseRepository) repository.SnapshotRepository {
	return &snapshotRepository{base}
}

// dayOf returns midnight of t's calendar day in t's own location. Truncating
// to 24h would floor in UTC and label a 23:50 run in a UTC-negative timezone
// with the next day's date.
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ReplaceForDate deletes any existing snapshot rows for the date and bulk
// inserts the new ones in one transaction, making the daily persister safely
// re-runnable.
func (r *snapshotRepository) ReplaceForDate(ctx context.Context, date time.Time, rows []*model.DailySnapshotRow) error {
	day := dayOf(date)
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM daily_ranking_snapshots WHERE snapshot_date = $1`, day); err != nil {
			return fmt.Errorf("failed to delete snapshots for %s: %w", day.Format("2006-01-02"), err)
		}
		for _, row := range rows {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO daily_ranking_snapshots (
					snapshot_date, item_id, score, rank,
					like_count, view_count, sales_count, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			`, day, row.ItemID, row.Score, row.Rank,
				row.LikeCount, row.ViewCount, row.SalesCount)
			if err != nil {
				return fmt.Errorf("failed to insert snapshot for item %d: %w", row.ItemID, err)
			}
		}
		return nil
	})
}

func (r *snapshotRepository) GetByDateRange(ctx context.Context, from, to time.Time) ([]*model.DailySnapshotRow, error) {
	query := `
		SELECT id, snapshot_date, item_id, score, rank,
			like_count, view_count, sales_count, created_at
		FROM daily_ranking_snapshots
		WHERE snapshot_date >= $1 AND snapshot_date <= $2
		ORDER BY snapshot_date ASC, rank ASC
	`
	var rows []*model.DailySnapshotRow
	if err := r.db.SelectContext(ctx, &rows, query, dayOf(from), dayOf(to)); err != nil {
		return nil, fmt.Errorf("failed to read snapshots in range: %w", err)
	}
	return rows, nil
}
