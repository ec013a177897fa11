package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/ranking-api/internal/config"
	rankingHandler "github.com/jwalitptl/ranking-api/internal/handler/ranking"
	"github.com/jwalitptl/ranking-api/internal/ranking"
	"github.com/jwalitptl/ranking-api/internal/repository/postgres"
	rankingService "github.com/jwalitptl/ranking-api/internal/service/ranking"
	"github.com/jwalitptl/ranking-api/pkg/logger"
)

func main() {
	log := logger.NewLogger(nil)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err, "failed to load config")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal(err, "failed to parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	baseRepo := postgres.NewBaseRepository(db)
	rollupRepo := postgres.NewRollupRepository(baseRepo)
	catalogRepo := postgres.NewCatalogRepository(baseRepo)
	store := ranking.NewRedisStore(redisClient)

	service := rankingService.NewService(store, rollupRepo, catalogRepo, cfg.Ranking.Scope, log)
	handler := rankingHandler.NewHandler(service, log)

	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router.Group("/api/v1"))
	router.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		prometheus.DefaultGatherer, promhttp.HandlerOpts{})))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("ranking api listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error(err, "graceful shutdown failed")
	}
}
