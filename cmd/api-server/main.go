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

	"github.com/medibridge/telemed-coordinator/internal/api"
	"github.com/medibridge/telemed-coordinator/internal/appointment"
	"github.com/medibridge/telemed-coordinator/internal/config"
	"github.com/medibridge/telemed-coordinator/internal/db"
	"github.com/medibridge/telemed-coordinator/internal/logging"
	"github.com/medibridge/telemed-coordinator/internal/observability/metrics"
	"github.com/medibridge/telemed-coordinator/internal/payment"
	redisclient "github.com/medibridge/telemed-coordinator/internal/redis"
	"github.com/medibridge/telemed-coordinator/internal/session"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.Duration("join_window", cfg.JoinWindow),
		zap.Int("platform_fee_percent", cfg.PlatformFeePercent))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	minter, err := session.NewJWTMinter(cfg.SessionTokenSecret, cfg.SessionTokenTTL)
	if err != nil {
		logger.Fatal("session token minter error", zap.Error(err))
	}

	var verifier payment.Verifier
	if cfg.StripeAPIKey != "" {
		verifier = payment.NewStripeVerifier(cfg.StripeAPIKey)
		logger.Info("stripe payment verification enabled")
	} else {
		logger.Warn("STRIPE_API_KEY not set, payment confirmations are trusted without gateway verification")
	}

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	m := metrics.NewCoordinatorMetrics(nil)

	booking := appointment.NewService(repo, locker, cfg, logger)
	payments := payment.NewReconciler(repo, locker, verifier, cfg.PlatformFeePercent, logger)
	sessions := session.NewManager(repo, locker, minter, logger)

	router := api.NewRouter(api.RouterConfig{
		Booking:  booking,
		Payments: payments,
		Sessions: sessions,
		PgPool:   pgPool,
		Redis:    rdb,
		Logger:   logger,
		Metrics:  m,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
}
