package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/ranking"
	"github.com/jwalitptl/ranking-api/internal/repository"
	"github.com/jwalitptl/ranking-api/pkg/logger"
)

// DefaultTopN bounds how many live entries get snapshotted per day.
const DefaultTopN = 1000

// Service snapshots the live DAILY bucket into the durable daily table near
// the end of each calendar day.
type Service struct {
	store        ranking.Store
	metricsRepo  repository.ItemMetricsRepository
	snapshotRepo repository.SnapshotRepository
	scope        string
	topN         int64
	logger       *logger.Logger
}

func NewService(
	store ranking.Store,
	metricsRepo repository.ItemMetricsRepository,
	snapshotRepo repository.SnapshotRepository,
	scope string,
	topN int64,
	logger *logger.Logger,
) *Service {
	if scope == "" {
		scope = ranking.DefaultScope
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Service{
		store:        store,
		metricsRepo:  metricsRepo,
		snapshotRepo: snapshotRepo,
		scope:        scope,
		topN:         topN,
		logger:       logger,
	}
}

// Run reads the live DAILY bucket for now's date, joins each entry with its
// current durable metrics and replaces the snapshot rows for that date.
// Replacing (delete-by-date then insert) makes re-runs safe. An empty live
// read changes nothing: deleting existing rows on the strength of an empty
// read would turn a transient read failure into data loss.
func (s *Service) Run(ctx context.Context, now time.Time) error {
	key := ranking.NewKey(s.scope, ranking.WindowDaily, now)
	entries, err := s.store.TopN(ctx, key, 0, s.topN-1)
	if err != nil {
		return fmt.Errorf("failed to read live daily bucket: %w", err)
	}
	if len(entries) == 0 {
		s.logger.Warn("live daily bucket empty, keeping existing snapshot",
			"bucket", key.Bucket())
		return nil
	}

	rows := make([]*model.DailySnapshotRow, 0, len(entries))
	for _, entry := range entries {
		itemMetrics, err := s.metricsRepo.Get(ctx, entry.ItemID)
		if err != nil {
			return fmt.Errorf("failed to load metrics for item %d: %w", entry.ItemID, err)
		}
		rows = append(rows, &model.DailySnapshotRow{
			SnapshotDate: now,
			ItemID:       entry.ItemID,
			Score:        entry.Score,
			Rank:         entry.Rank,
			LikeCount:    itemMetrics.LikeCount,
			ViewCount:    itemMetrics.ViewCount,
			SalesCount:   itemMetrics.SalesCount,
		})
	}

	if err := s.snapshotRepo.ReplaceForDate(ctx, now, rows); err != nil {
		return fmt.Errorf("failed to persist daily snapshot: %w", err)
	}

	s.logger.Info("persisted daily ranking snapshot",
		"date", now.Format("2006-01-02"), "rows", len(rows))
	return nil
}
