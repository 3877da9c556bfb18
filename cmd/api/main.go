package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/fieldops/evaluation-engine/internal/config"
	"github.com/fieldops/evaluation-engine/internal/eligibility"
	"github.com/fieldops/evaluation-engine/internal/handler"
	"github.com/fieldops/evaluation-engine/internal/infra/postgresql"
	"github.com/fieldops/evaluation-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/fieldops/evaluation-engine/internal/infra/redis"
	"github.com/fieldops/evaluation-engine/internal/lifecycle"
	"github.com/fieldops/evaluation-engine/internal/observability"
	"github.com/fieldops/evaluation-engine/internal/queue"
	"github.com/fieldops/evaluation-engine/internal/repository"
	"github.com/fieldops/evaluation-engine/internal/service"
	"github.com/fieldops/evaluation-engine/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
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

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerMin)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	formRepo := repository.NewGormFormRepo(db)
	submissionRepo := repository.NewGormSubmissionRepo(db)
	membershipRepo := repository.NewGormMembershipRepo(db)

	machine := lifecycle.New(lifecycle.Config{
		ManualFormsStayActive: cfg.ManualFormsStayActive,
	})
	checker, err := eligibility.NewChecker(machine, submissionRepo, membershipRepo)
	if err != nil {
		logger.Fatal("eligibility checker initialization failed", zap.Error(err))
	}

	publisher := queue.NewRabbitMQPublisher(rabbit)

	submissionService, err := service.NewSubmissionService(
		formRepo,
		submissionRepo,
		checker,
		publisher,
		metrics,
		cfg.MaxBatchSize,
		logger,
	)
	if err != nil {
		logger.Fatal("submission service initialization failed", zap.Error(err))
	}

	formService, err := service.NewFormService(
		formRepo,
		submissionRepo,
		machine,
		checker,
		metrics,
		logger,
	)
	if err != nil {
		logger.Fatal("form service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "evaluation-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, rabbit)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterEvaluationRoutes(app, submissionService, limiter); err != nil {
		logger.Fatal("evaluation route registration failed", zap.Error(err))
	}
	if err := handler.RegisterFormRoutes(app, formService); err != nil {
		logger.Fatal("form route registration failed", zap.Error(err))
	}

	go func() {
		logger.Info("evaluation-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Fatal("api server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}
