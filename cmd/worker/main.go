package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jwalitptl/ranking-api/internal/config"
	"github.com/jwalitptl/ranking-api/internal/consumer"
	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/ranking"
	"github.com/jwalitptl/ranking-api/internal/repository/postgres"
	"github.com/jwalitptl/ranking-api/internal/scheduler"
	"github.com/jwalitptl/ranking-api/internal/service/carryover"
	"github.com/jwalitptl/ranking-api/internal/service/persist"
	"github.com/jwalitptl/ranking-api/internal/service/rollup"
	"github.com/jwalitptl/ranking-api/pkg/alert"
	"github.com/jwalitptl/ranking-api/pkg/eventbus"
	"github.com/jwalitptl/ranking-api/pkg/logger"
	"github.com/jwalitptl/ranking-api/pkg/messaging/redis"
	"github.com/jwalitptl/ranking-api/pkg/metrics"
	"github.com/jwalitptl/ranking-api/pkg/worker"
)

func main() {
	log := logger.NewLogger(nil)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err, "failed to load config")
	}
	location, err := cfg.Location()
	if err != nil {
		log.Fatal(err, "failed to load timezone")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal(err, "failed to parse redis url")
	}
	redisClient := goredis.NewClient(redisOpts)
	defer redisClient.Close()

	appMetrics := metrics.New("ranking_worker", prometheus.DefaultRegisterer)

	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)
	idemRepo := postgres.NewIdempotencyRepository(baseRepo)
	metricsRepo := postgres.NewItemMetricsRepository(baseRepo)
	snapshotRepo := postgres.NewSnapshotRepository(baseRepo)
	rollupRepo := postgres.NewRollupRepository(baseRepo)
	failureRepo := postgres.NewFailureRepository(baseRepo)

	store := ranking.NewRedisStore(redisClient)

	broker := redis.NewBrokerWithClient(redisClient, redis.Config{
		Partitions:     cfg.Broker.Partitions,
		PublishTimeout: cfg.Broker.PublishTimeout,
	}, log)

	bus := eventbus.New(log)
	wireAlerts(bus, cfg, log)

	relay := worker.NewOutboxRelay(outboxRepo, broker, bus, worker.RelayConfig{
		BatchSize:       cfg.Outbox.BatchSize,
		PollInterval:    cfg.Outbox.PollInterval,
		MaxRetries:      cfg.Outbox.MaxRetries,
		PublishRate:     cfg.Outbox.PublishRate,
		StaleClaimAfter: cfg.Outbox.StaleClaimAfter,
	}, log, appMetrics)

	failureHandler := consumer.NewFailureHandler(failureRepo, bus, log)
	streamConsumer := consumer.New(
		&baseRepo, idemRepo, metricsRepo, store, broker,
		consumer.NewScorer(consumer.ScoreWeights{
			Like: cfg.Scoring.Like,
			View: cfg.Scoring.View,
			Sale: cfg.Scoring.Sale,
		}),
		failureHandler,
		consumer.Config{Group: cfg.Broker.ConsumerGroup, Scope: cfg.Ranking.Scope},
		log, appMetrics,
	)

	carryoverSvc := carryover.NewService(store, cfg.Ranking.Scope, cfg.Ranking.CarryOverWeight, log)
	persistSvc := persist.NewService(store, metricsRepo, snapshotRepo, cfg.Ranking.Scope, cfg.Ranking.DailyPersistTopN, log)
	rollupSvc := rollup.NewService(snapshotRepo, rollupRepo, cfg.Ranking.RollupTopN, log)
	sweeper := worker.NewRetentionSweeper(outboxRepo,
		time.Duration(cfg.Outbox.RetentionDays)*24*time.Hour, log)

	sched := scheduler.New(scheduler.NewRedisLocker(redisClient), log, appMetrics)
	sched.Register(scheduler.Job{
		Name: "carryover-hourly", HourlyAtMinute: scheduler.HourlyAt(55), Location: location,
		Run: func(ctx context.Context, now time.Time) error {
			return carryoverSvc.Run(ctx, ranking.WindowHourly, now)
		},
	})
	sched.Register(scheduler.Job{
		Name: "carryover-daily", DailyAt: "23:55", Location: location,
		Run: func(ctx context.Context, now time.Time) error {
			return carryoverSvc.Run(ctx, ranking.WindowDaily, now)
		},
	})
	sched.Register(scheduler.Job{
		Name: "daily-persist", DailyAt: "23:50", Location: location,
		Run: persistSvc.Run,
	})
	sched.Register(scheduler.Job{
		Name: "weekly-rollup", DailyAt: "00:30", Location: location,
		Run: func(ctx context.Context, now time.Time) error {
			if now.Weekday() != time.Monday {
				return nil
			}
			return rollupSvc.Run(ctx, rollup.PreviousWeek(now))
		},
	})
	sched.Register(scheduler.Job{
		Name: "monthly-rollup", DailyAt: "01:00", Location: location,
		Run: func(ctx context.Context, now time.Time) error {
			if now.Day() != 1 {
				return nil
			}
			return rollupSvc.Run(ctx, rollup.PreviousMonth(now))
		},
	})
	sched.Register(scheduler.Job{
		Name: "outbox-retention", DailyAt: "02:00", Location: location,
		Run: sweeper.Sweep,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := streamConsumer.Subscribe(ctx, model.TopicCatalogEvents, model.TopicOrderEvents); err != nil {
		log.Fatal(err, "failed to start consumers")
	}
	sched.Start(ctx)
	go relay.Start(ctx)

	setupHealthCheck(cfg.Server.HealthPort, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down worker")
	cancel()
	sched.Wait()
	broker.Close()
}

// wireAlerts subscribes the operator notifier to the post-commit bus so the
// relay and consumer never touch SMTP directly.
func wireAlerts(bus *eventbus.Bus, cfg *config.Config, log *logger.Logger) {
	var notifier alert.Notifier = alert.NopNotifier{}
	if cfg.SMTP.Enabled {
		notifier = alert.NewEmailNotifier(alert.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		}, log)
	}

	bus.Subscribe(worker.NotificationOutboxFailed, func(ctx context.Context, payload interface{}) {
		record, ok := payload.(*model.OutboxRecord)
		if !ok {
			return
		}
		body, _ := json.MarshalIndent(record, "", "  ")
		notifier.Notify("outbox record failed", string(body))
	})
	bus.Subscribe(consumer.NotificationConsumerGaveUp, func(ctx context.Context, payload interface{}) {
		failure, ok := payload.(*model.EventFailure)
		if !ok {
			return
		}
		notifier.Notify(
			fmt.Sprintf("consumer gave up on %s", failure.EventType),
			failure.ErrorMessage,
		)
	})
}

func setupHealthCheck(port int, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			log.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
}
