package ranking

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Store is the live time-windowed score store backing DAILY/HOURLY rankings.
type Store interface {
	IncrementScore(ctx context.Context, key Key, itemID int64, delta float64) (float64, error)
	IncrementScoreBatch(ctx context.Context, key Key, deltas map[int64]float64) error
	TopN(ctx context.Context, key Key, start, end int64) ([]Ranking, error)
	Rank(ctx context.Context, key Key, itemID int64) (int, bool, error)
	Score(ctx context.Context, key Key, itemID int64) (float64, bool, error)
	Count(ctx context.Context, key Key) (int64, error)
	SetExpire(ctx context.Context, key Key) error
	CopyWithWeight(ctx context.Context, source, target Key, weight float64) error
}

// RedisStore implements Store on Redis sorted sets. All mutations use atomic
// sorted-set primitives, so concurrent increments on the same bucket never
// lose updates.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func member(itemID int64) string {
	return strconv.FormatInt(itemID, 10)
}

func (s *RedisStore) IncrementScore(ctx context.Context, key Key, itemID int64, delta float64) (float64, error) {
	k, err := key.StoreKey()
	if err != nil {
		return 0, err
	}
	total, err := s.client.ZIncrBy(ctx, k, delta, member(itemID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment score for item %d: %w", itemID, err)
	}
	return total, nil
}

// IncrementScoreBatch applies all deltas in one pipeline round-trip. Each
// increment is individually atomic; the batch as a whole is not transactional
// across items and does not need to be.
func (s *RedisStore) IncrementScoreBatch(ctx context.Context, key Key, deltas map[int64]float64) error {
	if len(deltas) == 0 {
		return nil
	}
	k, err := key.StoreKey()
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	for itemID, delta := range deltas {
		pipe.ZIncrBy(ctx, k, delta, member(itemID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to apply score batch: %w", err)
	}
	return nil
}

// TopN returns entries ordered by descending score. Start and end are
// 0-based inclusive offsets; ranks are assigned 1-based by position.
func (s *RedisStore) TopN(ctx context.Context, key Key, start, end int64) ([]Ranking, error) {
	k, err := key.StoreKey()
	if err != nil {
		return nil, err
	}
	entries, err := s.client.ZRevRangeWithScores(ctx, k, start, end).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read top-N for %s: %w", k, err)
	}
	rankings := make([]Ranking, 0, len(entries))
	for i, entry := range entries {
		itemID, err := strconv.ParseInt(fmt.Sprint(entry.Member), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed member %v in %s: %w", entry.Member, k, err)
		}
		rankings = append(rankings, Ranking{
			ItemID: itemID,
			Score:  entry.Score,
			Rank:   int(start) + i + 1,
		})
	}
	return rankings, nil
}

func (s *RedisStore) Rank(ctx context.Context, key Key, itemID int64) (int, bool, error) {
	k, err := key.StoreKey()
	if err != nil {
		return 0, false, err
	}
	pos, err := s.client.ZRevRank(ctx, k, member(itemID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read rank for item %d: %w", itemID, err)
	}
	return int(pos) + 1, true, nil
}

func (s *RedisStore) Score(ctx context.Context, key Key, itemID int64) (float64, bool, error) {
	k, err := key.StoreKey()
	if err != nil {
		return 0, false, err
	}
	score, err := s.client.ZScore(ctx, k, member(itemID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read score for item %d: %w", itemID, err)
	}
	return score, true, nil
}

func (s *RedisStore) Count(ctx context.Context, key Key) (int64, error) {
	k, err := key.StoreKey()
	if err != nil {
		return 0, err
	}
	count, err := s.client.ZCard(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", k, err)
	}
	return count, nil
}

// SetExpire applies the window's TTL to the bucket. Idempotent; re-invoking
// refreshes the expiry.
func (s *RedisStore) SetExpire(ctx context.Context, key Key) error {
	k, err := key.StoreKey()
	if err != nil {
		return err
	}
	if err := s.client.Expire(ctx, k, key.Window.TTL()).Err(); err != nil {
		return fmt.Errorf("failed to set expiry on %s: %w", k, err)
	}
	return nil
}

// CopyWithWeight adds weight*score(source) into target for every source item,
// in a single server-side operation. Used only for cold-start carry-over.
func (s *RedisStore) CopyWithWeight(ctx context.Context, source, target Key, weight float64) error {
	src, err := source.StoreKey()
	if err != nil {
		return err
	}
	dst, err := target.StoreKey()
	if err != nil {
		return err
	}
	err = s.client.ZUnionStore(ctx, dst, &redis.ZStore{
		Keys:    []string{dst, src},
		Weights: []float64{1, weight},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to carry over %s into %s: %w", src, dst, err)
	}
	return nil
}
