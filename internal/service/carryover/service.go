package carryover

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/ranking-api/internal/ranking"
	"github.com/jwalitptl/ranking-api/pkg/logger"
)

// DefaultWeight is the decay applied to carried-over scores. Carry-over is a
// cold-start smoothing device so a freshly opened bucket is never empty; it
// never represents real event counts.
const DefaultWeight = 0.1

type Service struct {
	store  ranking.Store
	scope  string
	weight float64
	logger *logger.Logger
}

func NewService(store ranking.Store, scope string, weight float64, logger *logger.Logger) *Service {
	if scope == "" {
		scope = ranking.DefaultScope
	}
	if weight <= 0 || weight >= 1 {
		weight = DefaultWeight
	}
	return &Service{store: store, scope: scope, weight: weight, logger: logger}
}

// Run seeds the bucket after the one covering now with a decayed copy of the
// current bucket's scores and refreshes the new bucket's TTL. An empty
// current bucket is skipped with a warning: there is nothing meaningful to
// carry forward.
func (s *Service) Run(ctx context.Context, window ranking.Window, now time.Time) error {
	current := ranking.NewKey(s.scope, window, now)
	count, err := s.store.Count(ctx, current)
	if err != nil {
		return fmt.Errorf("failed to inspect current %s bucket: %w", window, err)
	}
	if count == 0 {
		s.logger.Warn("skipping carry-over of empty bucket",
			"window", string(window), "bucket", current.Bucket())
		return nil
	}

	next := current.Next()
	if err := s.store.CopyWithWeight(ctx, current, next, s.weight); err != nil {
		return fmt.Errorf("failed to carry over %s bucket: %w", window, err)
	}
	if err := s.store.SetExpire(ctx, next); err != nil {
		return fmt.Errorf("failed to set expiry on next %s bucket: %w", window, err)
	}

	s.logger.Info("carried over ranking bucket",
		"window", string(window), "from", current.Bucket(), "to", next.Bucket(),
		"items", count, "weight", s.weight)
	return nil
}
