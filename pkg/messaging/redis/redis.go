package redis

import (
	"context"
	"fmt"
	"hash/crc32"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/ranking-api/pkg/circuitbreaker"
	"github.com/jwalitptl/ranking-api/pkg/logger"
	"github.com/jwalitptl/ranking-api/pkg/messaging"
)

type Config struct {
	URL            string
	Partitions     int
	PublishTimeout time.Duration
	BlockTimeout   time.Duration
	ReadBatchSize  int64
}

// Broker implements messaging.Broker on Redis Streams. A topic maps to
// Partitions streams named "<topic>:<n>"; the partition for a message is
// chosen by hashing its key, so per-aggregate order is preserved within one
// stream. Consumer groups plus explicit XACK give at-least-once delivery.
type Broker struct {
	client         redis.UniversalClient
	cb             *circuitbreaker.CircuitBreaker
	logger         *logger.Logger
	partitions     int
	publishTimeout time.Duration
	blockTimeout   time.Duration
	readBatchSize  int64

	wg     sync.WaitGroup
	closed chan struct{}
}

func NewBroker(cfg Config, logger *logger.Logger) (*Broker, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewBrokerWithClient(client, cfg, logger), nil
}

// NewBrokerWithClient wires an existing client; tests hand in a miniredis
// backed one.
func NewBrokerWithClient(client redis.UniversalClient, cfg Config, logger *logger.Logger) *Broker {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = time.Second
	}
	if cfg.ReadBatchSize <= 0 {
		cfg.ReadBatchSize = 16
	}
	return &Broker{
		client: client,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "redis-broker",
			MaxFailures: 5,
			OpenTimeout: 10 * time.Second,
		}),
		logger:         logger,
		partitions:     cfg.Partitions,
		publishTimeout: cfg.PublishTimeout,
		blockTimeout:   cfg.BlockTimeout,
		readBatchSize:  cfg.ReadBatchSize,
		closed:         make(chan struct{}),
	}
}

func (b *Broker) partition(key string) int {
	return int(crc32.ChecksumIEEE([]byte(key)) % uint32(b.partitions))
}

func (b *Broker) stream(topic string, partition int) string {
	return fmt.Sprintf("%s:%d", topic, partition)
}

func (b *Broker) Publish(ctx context.Context, topic, key, eventType string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()

	stream := b.stream(topic, b.partition(key))
	return b.cb.Execute(func() error {
		err := b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{
				"event_type": eventType,
				"key":        key,
				"payload":    payload,
			},
		}).Err()
		if err != nil {
			return fmt.Errorf("failed to publish to %s: %w", stream, err)
		}
		return nil
	})
}

func (b *Broker) Subscribe(ctx context.Context, topic, group string, handler messaging.Handler) error {
	consumer := fmt.Sprintf("%s-consumer", group)
	for p := 0; p < b.partitions; p++ {
		stream := b.stream(topic, p)
		err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create group %s on %s: %w", group, stream, err)
		}

		b.wg.Add(1)
		go func(partition int, stream string) {
			defer b.wg.Done()
			// Drain entries delivered to a previous run but never acked,
			// then follow new entries. Redeliveries are caught downstream
			// by the idempotency ledger.
			b.consumeLoop(ctx, stream, group, consumer, topic, partition, "0", handler)
			b.consumeLoop(ctx, stream, group, consumer, topic, partition, ">", handler)
		}(p, stream)
	}
	return nil
}

// consumeLoop processes one partition sequentially. With cursor "0" it runs
// through the pending entries list once; with ">" it blocks for new entries
// until ctx is done.
func (b *Broker) consumeLoop(ctx context.Context, stream, group, consumer, topic string, partition int, cursor string, handler messaging.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closed:
			return
		default:
		}

		args := &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, cursor},
			Count:    b.readBatchSize,
		}
		if cursor == ">" {
			args.Block = b.blockTimeout
		}
		results, err := b.client.XReadGroup(ctx, args).Result()
		if err == redis.Nil {
			if cursor == ">" {
				continue
			}
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error(err, "stream read failed", "stream", stream)
			time.Sleep(time.Second)
			continue
		}

		delivered, acked := 0, 0
		for _, result := range results {
			for _, entry := range result.Messages {
				delivered++
				msg := &messaging.Message{
					ID:        entry.ID,
					Topic:     topic,
					Partition: partition,
					EventType: asString(entry.Values["event_type"]),
					Key:       asString(entry.Values["key"]),
					Payload:   []byte(asString(entry.Values["payload"])),
				}
				if err := handler(ctx, msg); err != nil {
					b.logger.Error(err, "message left pending for redelivery",
						"stream", stream, "id", entry.ID)
					continue
				}
				if err := b.client.XAck(ctx, stream, group, entry.ID).Err(); err != nil {
					b.logger.Error(err, "failed to ack message", "stream", stream, "id", entry.ID)
					continue
				}
				acked++
			}
		}
		// The pending drain ends when a "0" read returns nothing, or when a
		// whole pass made no progress (those entries stay pending rather
		// than spinning here).
		if cursor != ">" && (delivered == 0 || acked == 0) {
			return
		}
	}
}

func (b *Broker) Close() error {
	close(b.closed)
	b.wg.Wait()
	return b.client.Close()
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
