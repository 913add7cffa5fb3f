package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

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
)

// The worker owns the two time-driven sweeps: appointments whose payment
// stayed pending beyond the TTL, and subscriptions that are due for renewal
// or expiry.
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

	zlog.Info("expiry-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
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

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zlog.Fatal("redis connection error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.RabbitMQURL)
		if err != nil {
			zlog.Fatal("rabbitmq connection error", zap.Error(err))
		}
		publisher = amqpPub
	}
	defer publisher.Close()

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
		video.NopSessions{},
		publisher,
		booking.DefaultPolicy(),
		zlog,
	)

	runOnce(rootCtx, zlog, cfg.PaymentTTL, bookingSvc, subSvc)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zlog.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, zlog, cfg.PaymentTTL, bookingSvc, subSvc)
		}
	}
}

func runOnce(ctx context.Context, zlog *zap.Logger, paymentTTL time.Duration, bookings *booking.Service, subs *subscription.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	start := time.Now()

	if err := bookings.ExpirePendingPayments(runCtx, paymentTTL); err != nil {
		zlog.Error("payment expiry sweep failed", zap.Error(err))
	}
	if err := subs.RunRenewalSweep(runCtx); err != nil {
		zlog.Error("renewal sweep failed", zap.Error(err))
	}

	zlog.Info("sweep complete", zap.Duration("took", time.Since(start)))
}
