package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/milkbank/internal/collaborator"
	"github.com/kursadbilgin/milkbank/internal/config"
	"github.com/kursadbilgin/milkbank/internal/infra/postgresql"
	"github.com/kursadbilgin/milkbank/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/milkbank/internal/infra/redis"
	"github.com/kursadbilgin/milkbank/internal/observability"
	"github.com/kursadbilgin/milkbank/internal/queue"
	"github.com/kursadbilgin/milkbank/internal/repository"
	"github.com/kursadbilgin/milkbank/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	metricsPortOffset = 1
	shutdownTimeout   = 10 * time.Second
	reapInterval      = 30 * time.Second
	staleAfter        = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(context.Background(), cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("redis rate limiter initialization failed", zap.Error(err))
	}

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()

	publisher := queue.NewRabbitMQPublisher(mq)
	defer publisher.Close()
	consumer := queue.NewRabbitMQConsumer(mq, cfg.WorkerConcurrency, logger)
	defer consumer.Close()

	webhook, err := collaborator.NewWebhook(cfg.CollaboratorWebhookURL)
	if err != nil {
		logger.Fatal("collaborator initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	tx := repository.NewGormTransactor(db)
	repos := repository.NewGormRepositories(db)

	relay, err := service.NewEventRelay(tx, publisher, cfg.RelayInterval(), cfg.RelayBatchSize, logger)
	if err != nil {
		logger.Fatal("event relay initialization failed", zap.Error(err))
	}
	relay.SetMetrics(metrics)

	reaper, err := service.NewDeliveryReaper(repos.Events, reapInterval, staleAfter, cfg.RelayBatchSize, logger)
	if err != nil {
		logger.Fatal("delivery reaper initialization failed", zap.Error(err))
	}
	reaper.SetMetrics(metrics)

	worker, err := service.NewDeliveryWorker(tx, repos.Events, repos.Attempts, consumer, webhook, limiter, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("delivery worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.APIPort+metricsPortOffset),
		Handler:           metricsMux(metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Start(groupCtx) })
	g.Go(func() error { return reaper.Start(groupCtx) })
	g.Go(func() error { return worker.Start(groupCtx) })
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("milkbank worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("relayInterval", cfg.RelayInterval()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("milkbank worker stopped with error", zap.Error(err))
	}
	logger.Info("milkbank worker stopped")
}

func metricsMux(metrics *observability.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
