package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/caremesh/telehealth-booking/internal/api"
	"github.com/caremesh/telehealth-booking/internal/booking"
	"github.com/caremesh/telehealth-booking/internal/config"
	"github.com/caremesh/telehealth-booking/internal/events"
	"github.com/caremesh/telehealth-booking/internal/gateway"
	"github.com/caremesh/telehealth-booking/internal/logger"
	"github.com/caremesh/telehealth-booking/internal/payment"
	redisclient "github.com/caremesh/telehealth-booking/internal/redis"
	"github.com/caremesh/telehealth-booking/internal/store"
	"github.com/caremesh/telehealth-booking/internal/subscription"
	"github.com/caremesh/telehealth-booking/internal/video"
	"github.com/caremesh/telehealth-booking/internal/webhook"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := store.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zlog.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zlog.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zlog.Warn("error closing redis", zap.Error(err))
		}
	}()
	zlog.Info("connected to Redis")

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.RabbitMQURL)
		if err != nil {
			zlog.Fatal("rabbitmq connection error", zap.Error(err))
		}
		publisher = amqpPub
		zlog.Info("connected to RabbitMQ")
	} else {
		zlog.Warn("RABBITMQ_URL not set, lifecycle events will not be published")
	}
	defer publisher.Close()

	var sessions booking.VideoSessions = video.NopSessions{}
	if cfg.VideoBaseURL != "" {
		sessions = video.NewClient(cfg.VideoBaseURL, cfg.VideoAPIKey)
	}

	paymentSvc := payment.NewService(
		payment.NewPgRepository(),
		pgPool,
		gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey),
		payment.Config{
			Currency:     cfg.Currency,
			PlatformRate: cfg.PlatformRate,
			TaxRate:      cfg.TaxRate,
		},
		zlog,
	)

	subRepo := subscription.NewPgRepository()
	quotaGate := subscription.NewQuotaGate(subRepo)
	subSvc := subscription.NewService(subRepo, quotaGate, pgPool, paymentSvc, zlog)

	bookingSvc := booking.NewService(
		booking.NewPgRepository(),
		pgPool,
		redisclient.NewRedisProviderLocker(rdb, cfg.LockTTL),
		quotaGate,
		paymentSvc,
		sessions,
		publisher,
		booking.DefaultPolicy(),
		zlog,
	)

	reconciler := webhook.NewReconciler(
		webhook.NewHMACVerifier(cfg.WebhookSecret),
		paymentSvc,
		bookingSvc,
		subSvc,
		zlog,
	)

	router := api.NewRouter(api.RouterConfig{
		Appointments:  bookingSvc,
		Subscriptions: subSvc,
		Reconciler:    reconciler,
		PgPool:        pgPool,
		Redis:         rdb,
		Log:           zlog,
		JWTSecret:     cfg.JWTSecret,
		RateLimit:     cfg.MaxRequestsPerS,
		Env:           cfg.Env,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		zlog.Info("shutdown signal received")
	case err := <-errCh:
		zlog.Error("http server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
	}

	zlog.Info("api-server stopped")
}
