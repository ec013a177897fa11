package rollup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/ranking"
	"github.com/jwalitptl/ranking-api/pkg/logger"
)

type fakeSnapshotRepo struct {
	rows map[string][]*model.DailySnapshotRow // keyed by date
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{rows: make(map[string][]*model.DailySnapshotRow)}
}

func (f *fakeSnapshotRepo) put(date time.Time, itemID int64, score float64) {
	key := date.Format("2006-01-02")
	f.rows[key] = append(f.rows[key], &model.DailySnapshotRow{
		SnapshotDate: date,
		ItemID:       itemID,
		Score:        score,
	})
}

func (f *fakeSnapshotRepo) ReplaceForDate(ctx context.Context, date time.Time, rows []*model.DailySnapshotRow) error {
	f.rows[date.Format("2006-01-02")] = rows
	return nil
}

func (f *fakeSnapshotRepo) GetByDateRange(ctx context.Context, from, to time.Time) ([]*model.DailySnapshotRow, error) {
	var out []*model.DailySnapshotRow
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		out = append(out, f.rows[day.Format("2006-01-02")]...)
	}
	return out, nil
}

type fakeRollupRepo struct {
	mu     sync.Mutex
	stored map[string][]*model.RollupRow // window|period
	calls  int
}

func newFakeRollupRepo() *fakeRollupRepo {
	return &fakeRollupRepo{stored: make(map[string][]*model.RollupRow)}
}

func rollupKey(window, period string) string { return fmt.Sprintf("%s|%s", window, period) }

func (f *fakeRollupRepo) ReplaceForPeriod(ctx context.Context, window, period string, rows []*model.RollupRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[rollupKey(window, period)] = rows
	f.calls++
	return nil
}

func (f *fakeRollupRepo) GetPage(ctx context.Context, window, period string, offset, limit int) ([]*model.RollupRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.stored[rollupKey(window, period)]
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end], nil
}

func (f *fakeRollupRepo) CountForPeriod(ctx context.Context, window, period string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.stored[rollupKey(window, period)])), nil
}

func TestWeekOf(t *testing.T) {
	// 2025-03-15 is a Saturday in ISO week 11.
	period := WeekOf(time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, ranking.WindowWeekly, period.Window)
	assert.Equal(t, "2025W11", period.Label)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), period.Start)
	assert.Equal(t, time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC), period.End)
}

func TestWeekOfYearBoundary(t *testing.T) {
	// 2024-12-30 (Monday) belongs to ISO week 2025W01.
	period := WeekOf(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2025W01", period.Label)
	assert.Equal(t, time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC), period.Start)
}

func TestMonthOf(t *testing.T) {
	period := MonthOf(time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, ranking.WindowMonthly, period.Window)
	assert.Equal(t, "202502", period.Label)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), period.Start)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), period.End)
}

func TestPreviousPeriods(t *testing.T) {
	// Monday just after the week closed.
	now := time.Date(2025, 3, 17, 0, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025W11", PreviousWeek(now).Label)

	// First of the month just after it closed.
	now = time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, "202503", PreviousMonth(now).Label)
}

func TestRunComputesMeanOverAppearingDays(t *testing.T) {
	snapshots := newFakeSnapshotRepo()
	rollups := newFakeRollupRepo()
	service := NewService(snapshots, rollups, 0, logger.NewNop())

	period := WeekOf(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))

	// Item 1 appears every day at 100; item 2 appears once at 90. A missing
	// day must not dilute item 2's average toward zero.
	for day := period.Start; !day.After(period.End); day = day.AddDate(0, 0, 1) {
		snapshots.put(day, 1, 100)
	}
	snapshots.put(period.Start, 2, 90)

	require.NoError(t, service.Run(context.Background(), period))

	rows := rollups.stored[rollupKey("WEEKLY", "2025W11")]
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].ItemID)
	assert.InDelta(t, 100.0, rows[0].Score, 1e-9)
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, int64(2), rows[1].ItemID)
	assert.InDelta(t, 90.0, rows[1].Score, 1e-9)
	assert.Equal(t, 2, rows[1].Rank)
	assert.Equal(t, period.Start, rows[0].PeriodStart)
	assert.Equal(t, period.End, rows[0].PeriodEnd)
}

func TestRunSingleStrongDayBeatsSteadyMediocrity(t *testing.T) {
	snapshots := newFakeSnapshotRepo()
	rollups := newFakeRollupRepo()
	service := NewService(snapshots, rollups, 0, logger.NewNop())

	period := WeekOf(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))
	for day := period.Start; !day.After(period.End); day = day.AddDate(0, 0, 1) {
		snapshots.put(day, 1, 100)
	}
	snapshots.put(period.Start, 2, 300)

	require.NoError(t, service.Run(context.Background(), period))

	rows := rollups.stored[rollupKey("WEEKLY", "2025W11")]
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].ItemID, "mean 300 over one day outranks mean 100 over seven")
	assert.InDelta(t, 300.0, rows[0].Score, 1e-9)
}

func TestRunTruncatesToTopN(t *testing.T) {
	snapshots := newFakeSnapshotRepo()
	rollups := newFakeRollupRepo()
	service := NewService(snapshots, rollups, 3, logger.NewNop())

	period := MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	for i := int64(1); i <= 10; i++ {
		snapshots.put(period.Start, i, float64(i*10))
	}

	require.NoError(t, service.Run(context.Background(), period))

	rows := rollups.stored[rollupKey("MONTHLY", "202503")]
	require.Len(t, rows, 3)
	assert.Equal(t, int64(10), rows[0].ItemID)
	assert.Equal(t, int64(9), rows[1].ItemID)
	assert.Equal(t, int64(8), rows[2].ItemID)
}

func TestRunIsIdempotent(t *testing.T) {
	snapshots := newFakeSnapshotRepo()
	rollups := newFakeRollupRepo()
	service := NewService(snapshots, rollups, 0, logger.NewNop())

	period := MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	snapshots.put(period.Start, 1, 50)

	require.NoError(t, service.Run(context.Background(), period))
	require.NoError(t, service.Run(context.Background(), period))

	rows := rollups.stored[rollupKey("MONTHLY", "202503")]
	require.Len(t, rows, 1, "re-running a period replaces, never accumulates")
	assert.Equal(t, 2, rollups.calls)
}

func TestRunEmptyPeriodWritesEmptyLeaderboard(t *testing.T) {
	snapshots := newFakeSnapshotRepo()
	rollups := newFakeRollupRepo()
	service := NewService(snapshots, rollups, 0, logger.NewNop())

	period := MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, service.Run(context.Background(), period))

	count, err := rollups.CountForPeriod(context.Background(), "MONTHLY", "202503")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	snapshots := newFakeSnapshotRepo()
	rollups := newFakeRollupRepo()
	service := NewService(snapshots, rollups, 0, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	period := MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	err := service.Run(ctx, period)
	require.Error(t, err)
	assert.Equal(t, 0, rollups.calls)
}
