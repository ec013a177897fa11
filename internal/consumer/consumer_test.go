package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/ranking"
	"github.com/jwalitptl/ranking-api/internal/repository"
	"github.com/jwalitptl/ranking-api/pkg/eventbus"
	"github.com/jwalitptl/ranking-api/pkg/logger"
	"github.com/jwalitptl/ranking-api/pkg/messaging"
	"github.com/jwalitptl/ranking-api/pkg/metrics"
	"github.com/jwalitptl/ranking-api/pkg/retry"
)

type fakeTxRunner struct {
	failCommits int
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.failCommits > 0 {
		f.failCommits--
		return errors.New("database unavailable")
	}
	return fn(nil)
}

type fakeIdemRepo struct {
	mu sync.Mutex
	// forceMiss makes Exists report not-applied even for seen events,
	// simulating a racing worker inserting between the check and the insert.
	forceMiss bool
	seen      map[string]bool
}

func newFakeIdemRepo() *fakeIdemRepo {
	return &fakeIdemRepo{seen: make(map[string]bool)}
}

func idemKey(eventType, aggregateType, aggregateID string, version int64) string {
	return fmt.Sprintf("%s|%s|%s|%d", eventType, aggregateType, aggregateID, version)
}

func (f *fakeIdemRepo) Exists(ctx context.Context, tx *sqlx.Tx, eventType, aggregateType, aggregateID string, eventVersion int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forceMiss {
		return false, nil
	}
	return f.seen[idemKey(eventType, aggregateType, aggregateID, eventVersion)], nil
}

func (f *fakeIdemRepo) Insert(ctx context.Context, tx *sqlx.Tx, record *model.IdempotencyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := idemKey(record.EventType, record.AggregateType, record.AggregateID, record.EventVersion)
	if f.seen[key] {
		return repository.ErrDuplicate
	}
	f.seen[key] = true
	return nil
}

func (f *fakeIdemRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type fakeMetricsRepo struct {
	mu   sync.Mutex
	rows map[int64]*model.ItemMetrics
}

func newFakeMetricsRepo() *fakeMetricsRepo {
	return &fakeMetricsRepo{rows: make(map[int64]*model.ItemMetrics)}
}

func (f *fakeMetricsRepo) GetForUpdate(ctx context.Context, tx *sqlx.Tx, itemID int64) (*model.ItemMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[itemID]; ok {
		copied := *row
		return &copied, nil
	}
	return &model.ItemMetrics{ItemID: itemID}, nil
}

func (f *fakeMetricsRepo) Update(ctx context.Context, tx *sqlx.Tx, m *model.ItemMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *m
	f.rows[m.ItemID] = &copied
	return nil
}

func (f *fakeMetricsRepo) Get(ctx context.Context, itemID int64) (*model.ItemMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[itemID]; ok {
		copied := *row
		return &copied, nil
	}
	return &model.ItemMetrics{ItemID: itemID}, nil
}

type fakeFailureRepo struct {
	mu       sync.Mutex
	failures []*model.EventFailure
}

func (f *fakeFailureRepo) Insert(ctx context.Context, failure *model.EventFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure)
	return nil
}

type published struct {
	topic     string
	eventType string
	payload   []byte
}

type fakeBroker struct {
	mu        sync.Mutex
	published []published
}

func (f *fakeBroker) Publish(ctx context.Context, topic, key, eventType string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, eventType: eventType, payload: payload})
	return nil
}

func (f *fakeBroker) Subscribe(ctx context.Context, topic, group string, handler messaging.Handler) error {
	return nil
}

func (f *fakeBroker) Close() error { return nil }

func (f *fakeBroker) publishedTo(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type testHarness struct {
	consumer    *Consumer
	txRunner    *fakeTxRunner
	idemRepo    *fakeIdemRepo
	metricsRepo *fakeMetricsRepo
	failureRepo *fakeFailureRepo
	broker      *fakeBroker
	store       *ranking.RedisStore
	now         time.Time
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.NewNop()
	h := &testHarness{
		txRunner:    &fakeTxRunner{},
		idemRepo:    newFakeIdemRepo(),
		metricsRepo: newFakeMetricsRepo(),
		failureRepo: &fakeFailureRepo{},
		broker:      &fakeBroker{},
		store:       ranking.NewRedisStore(client),
		now:         time.Date(2025, 3, 15, 14, 0, 0, 0, time.UTC),
	}
	failures := NewFailureHandler(h.failureRepo, eventbus.New(log), log)
	h.consumer = New(
		h.txRunner, h.idemRepo, h.metricsRepo, h.store, h.broker,
		NewScorer(DefaultScoreWeights()), failures,
		Config{Group: "test", Scope: "product", RetryPolicy: retry.Policy{
			MaxAttempts: 2,
			Retryable:   func(err error) bool { return !isPermanent(err) },
		}},
		log, metrics.New("consumer_test", nil),
	)
	h.consumer.now = func() time.Time { return h.now }
	return h
}

func envelope(t *testing.T, eventType, aggregateType, aggregateID string, version int64, payload interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(model.EventEnvelope{
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventVersion:  version,
		Payload:       body,
	})
	require.NoError(t, err)
	return raw
}

func likeMessage(t *testing.T, productID int64, version int64) *messaging.Message {
	return &messaging.Message{
		ID:        fmt.Sprintf("msg-%d", version),
		Topic:     model.TopicCatalogEvents,
		EventType: model.EventTypeLikeAdded,
		Key:       fmt.Sprint(productID),
		Payload: envelope(t, model.EventTypeLikeAdded, model.AggregateTypeProduct,
			fmt.Sprint(productID), version, model.LikeEvent{ProductID: productID, UserID: 7}),
	}
}

func TestHandleAppliesLikeOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.consumer.Handle(ctx, likeMessage(t, 10, 1)))

	m, err := h.metricsRepo.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.LikeCount)
	assert.Equal(t, 1, h.idemRepo.count())

	// Live scores land in both the DAILY and HOURLY buckets.
	for _, window := range []ranking.Window{ranking.WindowDaily, ranking.WindowHourly} {
		score, found, err := h.store.Score(ctx, ranking.NewKey("product", window, h.now), 10)
		require.NoError(t, err)
		require.True(t, found, "window %s", window)
		assert.Equal(t, 2.0, score)
	}
}

func TestHandleIsIdempotentAcrossRedelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.consumer.Handle(ctx, likeMessage(t, 10, 1)))
	}

	m, err := h.metricsRepo.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.LikeCount, "three deliveries of the same event must count once")
	assert.Equal(t, 1, h.idemRepo.count())

	score, _, err := h.store.Score(ctx, ranking.NewKey("product", ranking.WindowDaily, h.now), 10)
	require.NoError(t, err)
	assert.Equal(t, 2.0, score)
}

func TestHandleOrderPlaced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg := &messaging.Message{
		ID:        "order-1",
		Topic:     model.TopicOrderEvents,
		EventType: model.EventTypeOrderPlaced,
		Key:       "55",
		Payload: envelope(t, model.EventTypeOrderPlaced, model.AggregateTypeOrder, "55", 1,
			model.OrderPlacedEvent{OrderID: 55, ProductID: 20, Quantity: 3, UnitPrice: 100}),
	}
	require.NoError(t, h.consumer.Handle(ctx, msg))

	m, err := h.metricsRepo.Get(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.SalesCount)
	assert.Equal(t, 300.0, m.TotalSalesAmount)

	// quantity x price x sale weight
	score, _, err := h.store.Score(ctx, ranking.NewKey("product", ranking.WindowDaily, h.now), 20)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, score, 1e-9)
}

func TestHandleLikeRemovedFloorsAtZero(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg := &messaging.Message{
		ID:        "unlike-1",
		Topic:     model.TopicCatalogEvents,
		EventType: model.EventTypeLikeRemoved,
		Key:       "10",
		Payload: envelope(t, model.EventTypeLikeRemoved, model.AggregateTypeProduct, "10", 1,
			model.LikeEvent{ProductID: 10, UserID: 7}),
	}
	require.NoError(t, h.consumer.Handle(ctx, msg))

	m, err := h.metricsRepo.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.LikeCount, "like count must never go below zero")
}

func TestHandleMalformedPayloadGoesToDeadLetter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg := &messaging.Message{
		ID:        "bad-1",
		Topic:     model.TopicCatalogEvents,
		EventType: model.EventTypeLikeAdded,
		Payload:   []byte("not json"),
	}
	require.NoError(t, h.consumer.Handle(ctx, msg), "permanent errors are acked, not retried")

	dlq := h.broker.publishedTo(model.DeadLetterTopic(model.TopicCatalogEvents))
	require.Len(t, dlq, 1)
	assert.Equal(t, 0, h.idemRepo.count())
}

func TestHandleUnknownEventTypeGoesToDeadLetter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg := &messaging.Message{
		ID:        "odd-1",
		Topic:     model.TopicCatalogEvents,
		EventType: "SOMETHING_ELSE",
		Payload:   envelope(t, "SOMETHING_ELSE", model.AggregateTypeProduct, "10", 1, struct{}{}),
	}
	require.NoError(t, h.consumer.Handle(ctx, msg))

	dlq := h.broker.publishedTo(model.DeadLetterTopic(model.TopicCatalogEvents))
	require.Len(t, dlq, 1)
}

func TestHandleTransientFailureRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t)
	h.txRunner.failCommits = 1
	ctx := context.Background()

	require.NoError(t, h.consumer.Handle(ctx, likeMessage(t, 10, 1)))

	m, err := h.metricsRepo.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.LikeCount)
	assert.Empty(t, h.failureRepo.failures)
}

func TestHandleExhaustedRetriesHitTerminalHandler(t *testing.T) {
	h := newHarness(t)
	h.txRunner.failCommits = 10
	ctx := context.Background()

	require.NoError(t, h.consumer.Handle(ctx, likeMessage(t, 10, 1)),
		"a given-up message is acked so the partition is not blocked")

	require.Len(t, h.failureRepo.failures, 1)
	assert.Equal(t, model.EventTypeLikeAdded, h.failureRepo.failures[0].EventType)

	dlq := h.broker.publishedTo(model.DeadLetterTopic(model.TopicCatalogEvents))
	require.Len(t, dlq, 1)
}

func TestHandleRacingDuplicateInsertIsCleanNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Another worker wins the race between the Exists check and the insert.
	require.NoError(t, h.idemRepo.Insert(ctx, nil, &model.IdempotencyRecord{
		EventType:     model.EventTypeLikeAdded,
		AggregateType: model.AggregateTypeProduct,
		AggregateID:   "10",
		EventVersion:  1,
	}))
	h.idemRepo.forceMiss = true

	require.NoError(t, h.consumer.Handle(ctx, likeMessage(t, 10, 1)))
	assert.Empty(t, h.failureRepo.failures)
	assert.Empty(t, h.broker.published, "a lost insert race must not dead-letter")
}
