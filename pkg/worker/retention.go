package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/ranking-api/internal/repository"
	"github.com/jwalitptl/ranking-api/pkg/logger"
)

// RetentionSweeper deletes PUBLISHED outbox rows once they age out. FAILED
// rows are never swept; operators clear them after inspection.
type RetentionSweeper struct {
	repo      repository.OutboxRepository
	retention time.Duration
	logger    *logger.Logger
}

func NewRetentionSweeper(repo repository.OutboxRepository, retention time.Duration, logger *logger.Logger) *RetentionSweeper {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RetentionSweeper{repo: repo, retention: retention, logger: logger}
}

func (s *RetentionSweeper) Sweep(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.retention)
	deleted, err := s.repo.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logger.Info("swept published outbox records", "deleted", deleted, "cutoff", cutoff)
	}
	return nil
}
