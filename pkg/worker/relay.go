package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/repository"
	"github.com/jwalitptl/ranking-api/pkg/eventbus"
	"github.com/jwalitptl/ranking-api/pkg/logger"
	"github.com/jwalitptl/ranking-api/pkg/messaging"
	"github.com/jwalitptl/ranking-api/pkg/metrics"
)

// NotificationOutboxFailed is published on the in-process bus when a record
// exhausts its retries; the alerting handler subscribes to it.
const NotificationOutboxFailed = "outbox.record_failed"

type RelayConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
	// PublishRate bounds broker sends per second; zero means unlimited.
	PublishRate float64
	// StaleClaimAfter is how long a row may sit PROCESSING before it is
	// treated as orphaned by a dead relay and returned to PENDING. Must be
	// comfortably longer than one batch takes end to end.
	StaleClaimAfter time.Duration
}

// OutboxRelay claims PENDING outbox rows and publishes them to the broker.
// Each row's outcome is committed independently so one broker hiccup cannot
// abort the whole batch.
type OutboxRelay struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	bus     *eventbus.Bus
	config  RelayConfig
	limiter *rate.Limiter
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewOutboxRelay(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	bus *eventbus.Bus,
	config RelayConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxRelay {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		panic("MaxRetries must be greater than 0")
	}
	if config.StaleClaimAfter <= 0 {
		config.StaleClaimAfter = 5 * time.Minute
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.PublishRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.PublishRate), int(config.PublishRate))
	}

	return &OutboxRelay{
		repo:    repo,
		broker:  broker,
		bus:     bus,
		config:  config,
		limiter: limiter,
		logger:  logger,
		metrics: metrics,
	}
}

func (r *OutboxRelay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.logger.Info("starting outbox relay")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutting down outbox relay")
			return
		case <-ticker.C:
			if err := r.RelayBatch(ctx); err != nil {
				r.logger.Error(err, "relay batch failed")
			}
		}
	}
}

// RelayBatch claims one batch and relays every record. Exported so the
// scheduler and tests can drive it directly.
func (r *OutboxRelay) RelayBatch(ctx context.Context) error {
	timer := prometheus.NewTimer(r.metrics.OutboxRelayLatency)
	defer timer.ObserveDuration()

	requeued, err := r.repo.RequeueStale(ctx, time.Now().Add(-r.config.StaleClaimAfter))
	if err != nil {
		return fmt.Errorf("failed to requeue stale claims: %w", err)
	}
	if requeued > 0 {
		r.logger.Warn("requeued orphaned processing claims", "count", requeued)
	}

	records, err := r.repo.ClaimPending(ctx, r.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending records: %w", err)
	}

	if pending, err := r.repo.CountPending(ctx); err == nil {
		r.metrics.OutboxPendingRows.Set(float64(pending))
	}

	for _, record := range records {
		r.relayRecord(ctx, record)
	}
	return nil
}

// relayRecord attempts one synchronous publish and commits the outcome for
// this row alone: PUBLISHED on success, back to PENDING while retries
// remain, FAILED once they are exhausted.
func (r *OutboxRelay) relayRecord(ctx context.Context, record *model.OutboxRecord) {
	if err := r.limiter.Wait(ctx); err != nil {
		return
	}

	err := r.broker.Publish(ctx, record.Topic, record.PartitionKey, record.EventType, record.Payload)
	if err == nil {
		if err := r.repo.MarkPublished(ctx, record.ID, time.Now()); err != nil {
			r.logger.Error(err, "failed to mark record published", "record_id", record.ID.String())
			return
		}
		r.metrics.OutboxEventsPublished.Inc()
		return
	}

	r.logger.Error(err, "publish attempt failed",
		"record_id", record.ID.String(),
		"event_type", record.EventType,
		"retry_count", record.RetryCount)

	if record.RetryCount+1 >= r.config.MaxRetries {
		if markErr := r.repo.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			r.logger.Error(markErr, "failed to mark record failed", "record_id", record.ID.String())
			return
		}
		r.metrics.OutboxEventsFailed.Inc()
		r.bus.Publish(ctx, NotificationOutboxFailed, record)
		return
	}

	if markErr := r.repo.MarkRetry(ctx, record.ID, err.Error()); markErr != nil {
		r.logger.Error(markErr, "failed to mark record for retry", "record_id", record.ID.String())
		return
	}
	r.metrics.OutboxRetries.WithLabelValues(record.EventType).Inc()
}
