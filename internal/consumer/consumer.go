package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/ranking"
	"github.com/jwalitptl/ranking-api/internal/repository"
	"github.com/jwalitptl/ranking-api/pkg/logger"
	"github.com/jwalitptl/ranking-api/pkg/messaging"
	"github.com/jwalitptl/ranking-api/pkg/metrics"
	"github.com/jwalitptl/ranking-api/pkg/retry"
)

// errPermanent wraps errors that must not be retried: malformed payloads,
// unknown event kinds, mapping failures. They go straight to the dead-letter
// topic.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type Config struct {
	Group       string
	Scope       string
	RetryPolicy retry.Policy
}

// Consumer applies stream events exactly-once-in-effect: the idempotency
// ledger gates every side effect, durable metric deltas run under a row
// lock in one transaction, and live ranking increments land in the current
// DAILY and HOURLY buckets. The broker ack happens only after Handle
// returns nil, so a crash mid-apply causes a redelivery, never a loss.
type Consumer struct {
	txRunner    repository.Tx
	idemRepo    repository.IdempotencyRepository
	metricsRepo repository.ItemMetricsRepository
	store       ranking.Store
	broker      messaging.Broker
	scorer      Scorer
	failures    *FailureHandler
	config      Config
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func New(
	txRunner repository.Tx,
	idemRepo repository.IdempotencyRepository,
	metricsRepo repository.ItemMetricsRepository,
	store ranking.Store,
	broker messaging.Broker,
	scorer Scorer,
	failures *FailureHandler,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Consumer {
	if config.Scope == "" {
		config.Scope = ranking.DefaultScope
	}
	if config.RetryPolicy.MaxAttempts <= 0 {
		config.RetryPolicy = retry.Policy{
			MaxAttempts: 3,
			Backoff:     retry.ExponentialBackoff(100*time.Millisecond, 2*time.Second),
			Retryable:   func(err error) bool { return !isPermanent(err) },
		}
	}
	return &Consumer{
		txRunner:    txRunner,
		idemRepo:    idemRepo,
		metricsRepo: metricsRepo,
		store:       store,
		broker:      broker,
		scorer:      scorer,
		failures:    failures,
		config:      config,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Subscribe attaches the consumer to every given topic. The broker runs one
// sequential worker per partition, so per-aggregate updates never reorder.
func (c *Consumer) Subscribe(ctx context.Context, topics ...string) error {
	for _, topic := range topics {
		if err := c.broker.Subscribe(ctx, topic, c.config.Group, c.Handle); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	return nil
}

// Handle processes one delivery. Returning nil acknowledges the message;
// every path that must not be redelivered (applied, duplicate, dead-lettered,
// given up) returns nil.
func (c *Consumer) Handle(ctx context.Context, msg *messaging.Message) error {
	timer := prometheus.NewTimer(c.metrics.ConsumeLatency.WithLabelValues(msg.EventType))
	defer timer.ObserveDuration()

	err := c.config.RetryPolicy.Do(ctx, func() error {
		return c.apply(ctx, msg)
	})
	if err == nil {
		return nil
	}
	if isPermanent(err) {
		c.deadLetter(ctx, msg, err)
		return nil
	}
	// Transient failure that outlived the retry policy: persist the context,
	// alert, and dead-letter so the partition is not blocked.
	c.failures.Handle(ctx, msg, err)
	c.deadLetter(ctx, msg, err)
	return nil
}

func (c *Consumer) apply(ctx context.Context, msg *messaging.Message) error {
	var envelope model.EventEnvelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		return permanent(fmt.Errorf("malformed envelope: %w", err))
	}
	if err := envelope.Validate(); err != nil {
		return permanent(err)
	}

	applied, err := c.idemRepo.Exists(ctx, nil,
		envelope.EventType, envelope.AggregateType, envelope.AggregateID, envelope.EventVersion)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if applied {
		c.metrics.EventsDuplicate.WithLabelValues(envelope.EventType).Inc()
		c.logger.Debug("skipping already-applied event",
			"event_type", envelope.EventType, "aggregate_id", envelope.AggregateID)
		return nil
	}

	itemID, mutate, score, err := c.plan(&envelope)
	if err != nil {
		return err
	}

	now := c.now()
	err = c.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		itemMetrics, err := c.metricsRepo.GetForUpdate(ctx, tx, itemID)
		if err != nil {
			return err
		}
		mutate(itemMetrics)
		if err := c.metricsRepo.Update(ctx, tx, itemMetrics); err != nil {
			return err
		}

		if score > 0 {
			if err := c.bumpLiveScore(ctx, itemID, score, now); err != nil {
				return err
			}
		}

		return c.idemRepo.Insert(ctx, tx, &model.IdempotencyRecord{
			EventType:     envelope.EventType,
			AggregateType: envelope.AggregateType,
			AggregateID:   envelope.AggregateID,
			EventVersion:  envelope.EventVersion,
		})
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// A racing worker applied the event first; that is a clean duplicate,
		// not a failure.
		c.metrics.EventsDuplicate.WithLabelValues(envelope.EventType).Inc()
		return nil
	}
	if err != nil {
		return err
	}

	c.metrics.EventsConsumed.WithLabelValues(envelope.EventType).Inc()
	return nil
}

// plan decodes the typed payload and returns the item, the durable metric
// mutation and the live score contribution for the event kind.
func (c *Consumer) plan(envelope *model.EventEnvelope) (int64, func(*model.ItemMetrics), float64, error) {
	switch envelope.EventType {
	case model.EventTypeLikeAdded:
		var e model.LikeEvent
		if err := json.Unmarshal(envelope.Payload, &e); err != nil {
			return 0, nil, 0, permanent(fmt.Errorf("malformed like payload: %w", err))
		}
		return e.ProductID, func(m *model.ItemMetrics) {
			m.LikeCount++
		}, c.scorer.LikeScore(), nil

	case model.EventTypeLikeRemoved:
		var e model.LikeEvent
		if err := json.Unmarshal(envelope.Payload, &e); err != nil {
			return 0, nil, 0, permanent(fmt.Errorf("malformed like payload: %w", err))
		}
		// Unlikes adjust the durable counter only; live scores stay
		// monotonic and age out with the bucket.
		return e.ProductID, func(m *model.ItemMetrics) {
			if m.LikeCount > 0 {
				m.LikeCount--
			}
		}, 0, nil

	case model.EventTypeProductViewed:
		var e model.ViewEvent
		if err := json.Unmarshal(envelope.Payload, &e); err != nil {
			return 0, nil, 0, permanent(fmt.Errorf("malformed view payload: %w", err))
		}
		return e.ProductID, func(m *model.ItemMetrics) {
			m.ViewCount++
		}, c.scorer.ViewScore(), nil

	case model.EventTypeOrderPlaced:
		var e model.OrderPlacedEvent
		if err := json.Unmarshal(envelope.Payload, &e); err != nil {
			return 0, nil, 0, permanent(fmt.Errorf("malformed order payload: %w", err))
		}
		if e.Quantity <= 0 || e.UnitPrice < 0 {
			return 0, nil, 0, permanent(fmt.Errorf("invalid order magnitudes: quantity=%d price=%f", e.Quantity, e.UnitPrice))
		}
		return e.ProductID, func(m *model.ItemMetrics) {
			m.SalesCount += e.Quantity
			m.TotalSalesAmount += float64(e.Quantity) * e.UnitPrice
		}, c.scorer.SaleScore(e.Quantity, e.UnitPrice), nil
	}
	return 0, nil, 0, permanent(fmt.Errorf("unknown event type %q", envelope.EventType))
}

// bumpLiveScore increments the current DAILY and HOURLY buckets and
// refreshes their expiry.
func (c *Consumer) bumpLiveScore(ctx context.Context, itemID int64, score float64, now time.Time) error {
	for _, window := range []ranking.Window{ranking.WindowDaily, ranking.WindowHourly} {
		key := ranking.NewKey(c.config.Scope, window, now)
		if _, err := c.store.IncrementScore(ctx, key, itemID, score); err != nil {
			return fmt.Errorf("failed to bump %s score: %w", window, err)
		}
		if err := c.store.SetExpire(ctx, key); err != nil {
			return fmt.Errorf("failed to refresh %s expiry: %w", window, err)
		}
	}
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg *messaging.Message, cause error) {
	dlqTopic := model.DeadLetterTopic(msg.Topic)
	payload, _ := json.Marshal(map[string]interface{}{
		"original_topic": msg.Topic,
		"event_type":     msg.EventType,
		"payload":        string(msg.Payload),
		"error":          cause.Error(),
		"failed_at":      c.now().Format(time.RFC3339),
	})
	key := msg.Key
	if key == "" {
		key = strconv.Itoa(msg.Partition)
	}
	if err := c.broker.Publish(ctx, dlqTopic, key, msg.EventType, payload); err != nil {
		c.logger.Error(err, "failed to route message to dead letter topic",
			"topic", dlqTopic, "message_id", msg.ID)
		return
	}
	c.metrics.EventsDeadLetter.WithLabelValues(msg.Topic).Inc()
}
