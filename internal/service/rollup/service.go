package rollup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/ranking"
	"github.com/jwalitptl/ranking-api/internal/repository"
	"github.com/jwalitptl/ranking-api/pkg/logger"
)

// DefaultTopN bounds how many items land in a durable rollup leaderboard.
const DefaultTopN = 100

// Period is one rollup target: its partition string and inclusive date range.
type Period struct {
	Window ranking.Window
	Label  string
	Start  time.Time
	End    time.Time
}

// WeekOf returns the ISO week period containing t.
func WeekOf(t time.Time) Period {
	year, week := t.ISOWeek()
	// Walk back to Monday of the ISO week.
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for day.Weekday() != time.Monday {
		day = day.AddDate(0, 0, -1)
	}
	return Period{
		Window: ranking.WindowWeekly,
		Label:  fmt.Sprintf("%04dW%02d", year, week),
		Start:  day,
		End:    day.AddDate(0, 0, 6),
	}
}

// MonthOf returns the calendar month period containing t.
func MonthOf(t time.Time) Period {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return Period{
		Window: ranking.WindowMonthly,
		Label:  start.Format("200601"),
		Start:  start,
		End:    start.AddDate(0, 1, -1),
	}
}

// PreviousWeek and PreviousMonth are the default targets when a job runs on
// schedule just after a period closes.
func PreviousWeek(now time.Time) Period  { return WeekOf(now.AddDate(0, 0, -7)) }
func PreviousMonth(now time.Time) Period { return MonthOf(now.AddDate(0, -1, 0)) }

// Service condenses durable daily snapshots into weekly/monthly
// leaderboards. Re-running a period fully replaces prior rows.
type Service struct {
	snapshotRepo repository.SnapshotRepository
	rollupRepo   repository.RollupRepository
	topN         int
	logger       *logger.Logger
}

func NewService(
	snapshotRepo repository.SnapshotRepository,
	rollupRepo repository.RollupRepository,
	topN int,
	logger *logger.Logger,
) *Service {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Service{
		snapshotRepo: snapshotRepo,
		rollupRepo:   rollupRepo,
		topN:         topN,
		logger:       logger,
	}
}

type itemAccumulator struct {
	itemID int64
	total  float64
	days   int
	first  int // order of first appearance, stabilizes tie sorting
}

// Run aggregates one period: per item, the arithmetic mean of its score over
// the days it actually appeared in the daily top-N (a day with no row does
// not dilute the average). Reads go day by day so long ranges hold no single
// long transaction and cancellation lands on a day boundary, never mid-day.
func (s *Service) Run(ctx context.Context, period Period) error {
	byItem := make(map[int64]*itemAccumulator)
	order := 0

	for day := period.Start; !day.After(period.End); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("rollup for %s cancelled: %w", period.Label, err)
		}
		rows, err := s.snapshotRepo.GetByDateRange(ctx, day, day)
		if err != nil {
			return fmt.Errorf("failed to read snapshots for %s: %w", day.Format("2006-01-02"), err)
		}
		for _, row := range rows {
			acc, ok := byItem[row.ItemID]
			if !ok {
				acc = &itemAccumulator{itemID: row.ItemID, first: order}
				order++
				byItem[row.ItemID] = acc
			}
			acc.total += row.Score
			acc.days++
		}
	}

	accs := make([]*itemAccumulator, 0, len(byItem))
	for _, acc := range byItem {
		accs = append(accs, acc)
	}
	sort.Slice(accs, func(i, j int) bool {
		mi, mj := accs[i].mean(), accs[j].mean()
		if mi != mj {
			return mi > mj
		}
		return accs[i].first < accs[j].first
	})
	if len(accs) > s.topN {
		accs = accs[:s.topN]
	}

	rows := make([]*model.RollupRow, 0, len(accs))
	for i, acc := range accs {
		rows = append(rows, &model.RollupRow{
			Period:      period.Label,
			ItemID:      acc.itemID,
			Score:       acc.mean(),
			Rank:        i + 1,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
		})
	}

	if err := s.rollupRepo.ReplaceForPeriod(ctx, string(period.Window), period.Label, rows); err != nil {
		return fmt.Errorf("failed to replace rollup for %s: %w", period.Label, err)
	}

	s.logger.Info("rollup complete",
		"window", string(period.Window), "period", period.Label, "rows", len(rows))
	return nil
}

func (a *itemAccumulator) mean() float64 {
	if a.days == 0 {
		return 0
	}
	return a.total / float64(a.days)
}
