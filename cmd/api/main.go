package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/milkbank/internal/config"
	"github.com/kursadbilgin/milkbank/internal/handler"
	"github.com/kursadbilgin/milkbank/internal/infra/postgresql"
	"github.com/kursadbilgin/milkbank/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/milkbank/internal/infra/redis"
	"github.com/kursadbilgin/milkbank/internal/observability"
	"github.com/kursadbilgin/milkbank/internal/repository"
	"github.com/kursadbilgin/milkbank/internal/service"
	"github.com/kursadbilgin/milkbank/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
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

	locker, err := infraredis.NewRedisLocker(rdb, cfg.LockTTL(), cfg.LockWait())
	if err != nil {
		logger.Fatal("redis locker initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	repos := repository.NewGormRepositories(db)

	engine, err := service.NewEngine(repository.NewGormTransactor(db), repos, locker, cfg.MaxDeliveryAttempts, logger)
	if err != nil {
		logger.Fatal("lifecycle engine initialization failed", zap.Error(err))
	}
	engine.SetMetrics(metrics)

	batches, err := service.NewBatchService(engine, cfg.DefaultBottleVolume())
	if err != nil {
		logger.Fatal("batch service initialization failed", zap.Error(err))
	}
	pasteurisation, err := service.NewPasteurisationService(engine, cfg.MinPasteurisation())
	if err != nil {
		logger.Fatal("pasteurisation service initialization failed", zap.Error(err))
	}
	samples, err := service.NewSampleService(engine)
	if err != nil {
		logger.Fatal("sample service initialization failed", zap.Error(err))
	}
	bottles, err := service.NewBottleService(engine, cfg.DefrostWindow())
	if err != nil {
		logger.Fatal("bottle service initialization failed", zap.Error(err))
	}
	dispatches, err := service.NewDispatchService(engine)
	if err != nil {
		logger.Fatal("dispatch service initialization failed", zap.Error(err))
	}
	audit, err := service.NewAuditService(repos.Audit)
	if err != nil {
		logger.Fatal("audit service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "milkbank-api",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(observability.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb))
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterBatchRoutes(app, batches, pasteurisation, samples); err != nil {
		logger.Fatal("batch routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterBottleRoutes(app, bottles); err != nil {
		logger.Fatal("bottle routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterDispatchRoutes(app, dispatches); err != nil {
		logger.Fatal("dispatch routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterAuditRoutes(app, audit); err != nil {
		logger.Fatal("audit routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("milkbank api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down milkbank api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("milkbank api stopped with error", zap.Error(err))
	}
}
