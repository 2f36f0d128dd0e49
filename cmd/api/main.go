package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/estate-dispatch/internal/config"
	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/handler"
	"github.com/kursadbilgin/estate-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/estate-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/estate-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/estate-dispatch/internal/observability"
	"github.com/kursadbilgin/estate-dispatch/internal/provider"
	"github.com/kursadbilgin/estate-dispatch/internal/queue"
	"github.com/kursadbilgin/estate-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/estate-dispatch/internal/repository"
	"github.com/kursadbilgin/estate-dispatch/internal/service"
	"github.com/kursadbilgin/estate-dispatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 30 * time.Second
	gatewayLimiterID = "termii"
	triggerPrefetch  = 1
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, logger, err := setup()
	if err != nil {
		log.Fatalf("estate-dispatch failed to start: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("estate-dispatch stopped with error", zap.Error(err))
	}
	logger.Info("estate-dispatch stopped")
}

// setup loads config and builds the logger. Errors here happen before any
// structured logger exists.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.DefaultPoolConfig)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	smsStore, err := repository.NewGormItemStore(db, domain.QueueSMS)
	if err != nil {
		return err
	}
	receiptStore, err := repository.NewGormItemStore(db, domain.QueueReceipt)
	if err != nil {
		return err
	}
	recipientStore, err := repository.NewGormItemStore(db, domain.QueueCampaign)
	if err != nil {
		return err
	}
	campaignRepo := repository.NewGormCampaignRepo(db)

	gateway, err := provider.NewTermiiGateway(provider.TermiiConfig{
		APIKey:   cfg.TermiiAPIKey,
		BaseURL:  cfg.TermiiBaseURL,
		SenderID: cfg.TermiiSenderID,
	})
	if err != nil {
		return fmt.Errorf("termii gateway init failed: %w", err)
	}
	generator, err := provider.NewHTTPReceiptGenerator(cfg.ReceiptGeneratorURL)
	if err != nil {
		return fmt.Errorf("receipt generator init failed: %w", err)
	}

	lock, err := infraredis.NewQueueLock(rdb, cfg.QueueLockTTL(), logger)
	if err != nil {
		return err
	}
	var limiter ratelimit.RateLimiter
	if redisLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.GatewayRateLimitPerSec); err == nil {
		limiter = redisLimiter
	} else {
		logger.Warn("redis rate limiter unavailable, using in-process limiter", zap.Error(err))
		limiter = ratelimit.NewLocalLimiter(cfg.GatewayRateLimitPerSec)
	}
	metrics := observability.NewMetrics()

	var (
		events   queue.EventPublisher
		triggers queue.TriggerPublisher
		consumer queue.TriggerConsumer
	)
	if cfg.RabbitMQURL != "" {
		broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer broker.Close()

		publisher := queue.NewRabbitMQPublisher(broker)
		events = publisher
		triggers = publisher
		consumer = queue.NewRabbitMQConsumer(broker, triggerPrefetch, logger)
	}

	processorCfg := func(batchSize int) service.ProcessorConfig {
		return service.ProcessorConfig{
			BatchSize:      batchSize,
			MaxAttempts:    cfg.MaxAttempts,
			InterItemDelay: cfg.InterItemDelay(),
		}
	}

	smsProcessor, err := service.NewSMSProcessor(smsStore, gateway, cfg.SMSSignature, processorCfg(cfg.SMSBatchSize), logger)
	if err != nil {
		return err
	}
	smsProcessor.SetRateLimiter(limiter, gatewayLimiterID)

	receiptProcessor, err := service.NewReceiptProcessor(receiptStore, generator, smsStore, processorCfg(cfg.ReceiptBatchSize), logger)
	if err != nil {
		return err
	}

	campaigns, err := service.NewCampaignService(campaignRepo, recipientStore, gateway, cfg.SMSSignature, processorCfg(0), logger)
	if err != nil {
		return err
	}
	campaigns.SetRateLimiter(limiter, gatewayLimiterID)

	for _, p := range []*service.BatchProcessor{smsProcessor, receiptProcessor} {
		p.SetLocker(lock)
		p.SetMetrics(metrics)
		if events != nil {
			p.SetEventPublisher(events)
		}
	}
	campaigns.SetLocker(lock)
	campaigns.SetMetrics(metrics)
	if events != nil {
		campaigns.SetEventPublisher(events)
	}

	queueService, err := service.NewQueueService(smsStore, receiptStore, logger)
	if err != nil {
		return err
	}
	monitor, err := service.NewHealthMonitor(smsStore, receiptStore, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb))
	if err := handler.RegisterQueueRoutes(app, handler.QueueDeps{
		SMS:      smsProcessor,
		Receipts: receiptProcessor,
		Enqueuer: queueService,
		Health:   monitor,
		Triggers: triggers,
	}, logger); err != nil {
		return err
	}
	if err := handler.RegisterCampaignRoutes(app, campaigns, logger); err != nil {
		return err
	}

	scheduler := service.NewScheduler(logger)
	if err := scheduler.Register(cfg.SMSSchedule, smsProcessor); err != nil {
		return err
	}
	if err := scheduler.Register(cfg.ReceiptSchedule, receiptProcessor); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("estate-dispatch api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error {
		return scheduler.Start(gctx)
	})
	if consumer != nil {
		router := service.NewTriggerRouter(campaigns, logger, smsProcessor, receiptProcessor)
		g.Go(func() error {
			err := consumer.ConsumeTriggers(gctx, router.Handle)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
