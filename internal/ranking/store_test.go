package ranking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

var testAt = time.Date(2025, 3, 15, 14, 0, 0, 0, time.UTC)

func TestIncrementScore(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := NewKey("product", WindowDaily, testAt)

	total, err := store.IncrementScore(ctx, key, 1, 2.5)
	require.NoError(t, err)
	assert.Equal(t, 2.5, total)

	total, err = store.IncrementScore(ctx, key, 1, 1.5)
	require.NoError(t, err)
	assert.Equal(t, 4.0, total)
}

func TestIncrementScoreConcurrent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := NewKey("product", WindowDaily, testAt)

	const workers = 10
	const perWorker = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := store.IncrementScore(ctx, key, 42, 1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	score, found, err := store.Score(ctx, key, 42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, float64(workers*perWorker), score)
}

func TestIncrementScoreBatch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := NewKey("product", WindowDaily, testAt)

	err := store.IncrementScoreBatch(ctx, key, map[int64]float64{1: 10, 2: 20, 3: 30})
	require.NoError(t, err)

	count, err := store.Count(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	score, found, err := store.Score(ctx, key, 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 20.0, score)
}

func TestTopNOrderingAndRanks(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := NewKey("product", WindowDaily, testAt)

	scores := map[int64]float64{1: 50, 2: 100, 3: 75, 4: 25, 5: 90}
	for itemID, score := range scores {
		_, err := store.IncrementScore(ctx, key, itemID, score)
		require.NoError(t, err)
	}

	top, err := store.TopN(ctx, key, 0, 2)
	require.NoError(t, err)
	require.Len(t, top, 3)

	assert.Equal(t, int64(2), top[0].ItemID)
	assert.Equal(t, int64(5), top[1].ItemID)
	assert.Equal(t, int64(3), top[2].ItemID)
	for i, entry := range top {
		assert.Equal(t, i+1, entry.Rank)
		if i > 0 {
			assert.LessOrEqual(t, entry.Score, top[i-1].Score)
		}
	}

	// Offset pages continue the 1-based rank sequence.
	nextPage, err := store.TopN(ctx, key, 3, 4)
	require.NoError(t, err)
	require.Len(t, nextPage, 2)
	assert.Equal(t, 4, nextPage[0].Rank)
	assert.Equal(t, 5, nextPage[1].Rank)
}

func TestRankAndScoreAbsent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := NewKey("product", WindowDaily, testAt)

	_, err := store.IncrementScore(ctx, key, 1, 10)
	require.NoError(t, err)

	rank, found, err := store.Rank(ctx, key, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, rank)

	_, found, err = store.Rank(ctx, key, 999)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = store.Score(ctx, key, 999)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetExpire(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	key := NewKey("product", WindowDaily, testAt)

	_, err := store.IncrementScore(ctx, key, 1, 10)
	require.NoError(t, err)
	require.NoError(t, store.SetExpire(ctx, key))

	storeKey, err := key.StoreKey()
	require.NoError(t, err)
	assert.Equal(t, WindowDaily.TTL(), mr.TTL(storeKey))

	// Re-invoking refreshes rather than fails.
	require.NoError(t, store.SetExpire(ctx, key))
}

func TestCopyWithWeight(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	source := NewKey("product", WindowDaily, testAt)
	target := source.Next()

	_, err := store.IncrementScore(ctx, source, 1, 100)
	require.NoError(t, err)
	_, err = store.IncrementScore(ctx, source, 2, 85)
	require.NoError(t, err)

	require.NoError(t, store.CopyWithWeight(ctx, source, target, 0.1))

	score, found, err := store.Score(ctx, target, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 10.0, score, 1e-9)

	score, found, err = store.Score(ctx, target, 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 8.5, score, 1e-9)

	// Relative order is preserved.
	top, err := store.TopN(ctx, target, 0, 1)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(1), top[0].ItemID)
	assert.Equal(t, int64(2), top[1].ItemID)
}

func TestCopyWithWeightAddsToExistingScores(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	source := NewKey("product", WindowDaily, testAt)
	target := source.Next()

	_, err := store.IncrementScore(ctx, source, 1, 100)
	require.NoError(t, err)
	_, err = store.IncrementScore(ctx, target, 1, 3)
	require.NoError(t, err)

	require.NoError(t, store.CopyWithWeight(ctx, source, target, 0.1))

	score, found, err := store.Score(ctx, target, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 13.0, score, 1e-9)
}
