package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/cartlane/notification-engine/internal/config"
	"github.com/cartlane/notification-engine/internal/events"
	"github.com/cartlane/notification-engine/internal/infra/postgresql"
	"github.com/cartlane/notification-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/cartlane/notification-engine/internal/infra/redis"
	"github.com/cartlane/notification-engine/internal/observability"
	"github.com/cartlane/notification-engine/internal/realtime"
	"github.com/cartlane/notification-engine/internal/repository"
	"github.com/cartlane/notification-engine/internal/sender"
	"github.com/cartlane/notification-engine/internal/service"
	"github.com/cartlane/notification-engine/internal/transport"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.Options{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
		LogQueries:   cfg.DBLogQueries,
	})
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

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		rabbit, err := events.NewRabbitMQPublisher(cfg.AMQPURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer rabbit.Close()
		publisher = rabbit
	} else {
		logger.Warn("AMQP_URL not set, lifecycle events disabled")
	}

	metrics := observability.NewMetrics()
	hub := realtime.NewHub(logger)

	limiter := realtime.NewAttemptLimiter(cfg.ConnectionRateWindow(), cfg.ConnectionRateLimit)

	revocation, err := realtime.NewRedisRevocationStore(rdb)
	if err != nil {
		logger.Fatal("revocation store initialization failed", zap.Error(err))
	}

	auth, err := realtime.NewAuthenticator(cfg.JWTSecret, revocation, limiter)
	if err != nil {
		logger.Fatal("authenticator initialization failed", zap.Error(err))
	}

	emailSender, err := sender.NewEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	if err != nil {
		logger.Fatal("email sender initialization failed", zap.Error(err))
	}
	smsSender, err := sender.NewSMSSender(cfg.SMSGatewayURL)
	if err != nil {
		logger.Fatal("sms sender initialization failed", zap.Error(err))
	}
	pushSender, err := sender.NewPushSender(cfg.PushGatewayURL)
	if err != nil {
		logger.Fatal("push sender initialization failed", zap.Error(err))
	}
	senders, err := sender.NewRegistry(emailSender, smsSender, pushSender)
	if err != nil {
		logger.Fatal("sender registry initialization failed", zap.Error(err))
	}

	notificationRepo := repository.NewGormNotificationRepo(db)
	preferenceRepo := repository.NewGormPreferenceRepo(db)
	userDirectory := repository.NewGormUserDirectory(db)

	dispatcher, err := service.NewDispatcher(
		notificationRepo,
		preferenceRepo,
		userDirectory,
		senders,
		hub,
		publisher,
		cfg.SweepConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	preferenceStore, err := service.NewPreferenceStore(preferenceRepo, logger)
	if err != nil {
		logger.Fatal("preference store initialization failed", zap.Error(err))
	}

	sweeper, err := service.NewSweeper(dispatcher, cfg.SweepInterval(), logger)
	if err != nil {
		logger.Fatal("sweeper initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "notification-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(transport.RequestID())
	app.Use(metrics.HTTPMiddleware())

	transport.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := transport.RegisterNotificationRoutes(app, dispatcher, hub, auth); err != nil {
		logger.Fatal("notification route registration failed", zap.Error(err))
	}
	if err := transport.RegisterPreferenceRoutes(app, preferenceStore, auth); err != nil {
		logger.Fatal("preference route registration failed", zap.Error(err))
	}
	if err := transport.RegisterRealtimeRoutes(app, auth, hub, metrics, logger,
		transport.WithHeartbeatInterval(cfg.HeartbeatInterval()),
	); err != nil {
		logger.Fatal("realtime route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("notification-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		return sweeper.Start(gctx)
	})

	g.Go(func() error {
		limiter.PruneLoop(gctx, cfg.ConnectionRateWindow())
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		hub.Shutdown()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}
