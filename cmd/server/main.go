package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/swotplanner/backend/internal/api"
	"github.com/swotplanner/backend/internal/auth"
	"github.com/swotplanner/backend/internal/config"
	"github.com/swotplanner/backend/internal/db"
	apperrors "github.com/swotplanner/backend/internal/errors"
	"github.com/swotplanner/backend/internal/health"
	"github.com/swotplanner/backend/internal/logger"
	"github.com/swotplanner/backend/internal/metrics"
	"github.com/swotplanner/backend/internal/middleware"
	"github.com/swotplanner/backend/internal/storage"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	apperrors.SetExposeStack(!cfg.IsProduction())

	log := logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), "server")
	logger.SetDefault(log)
	ctx := context.Background()

	database, err := db.New(cfg.DatabaseDSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	m := metrics.New()

	var rdb *redis.Client
	var limiter *middleware.RateLimiter
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter = middleware.NewRateLimiter(rdb, cfg.RateLimitRequests, cfg.RateLimitWindow, log.WithComponent("ratelimit"), m).
			TrustProxyHeaders(cfg.TrustProxyHeaders)
	} else {
		log.Warn(ctx, "REDIS_ADDR not set, auth endpoints are not rate limited")
	}

	codec := auth.NewCodec([]byte(cfg.JWTSecret), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	opts := []auth.Option{
		auth.WithMetrics(m),
		auth.WithLogger(log.WithComponent("auth")),
		auth.WithBcryptCost(cfg.BcryptCost),
		auth.WithActionTokenTTLs(cfg.ResetTokenTTL, cfg.VerificationTokenTTL),
		auth.WithNotifier(auth.NewLogNotifier(log.WithComponent("notifier"), !cfg.IsProduction())),
	}

	healthCfg := &health.CheckerConfig{DB: database.DB, Version: version}
	if rdb != nil {
		healthCfg.Redis = rdb
	}

	avatars, err := storage.New(&storage.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MinioPublicURL,
	})
	if err == nil {
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = avatars.EnsureBucket(bucketCtx)
		cancel()
	}
	if err != nil {
		log.Warn(ctx, "Object storage unavailable, photo uploads disabled", map[string]interface{}{
			"endpoint": cfg.MinioEndpoint,
			"error":    err.Error(),
		})
	} else {
		opts = append(opts, auth.WithAvatarStore(avatars))
		healthCfg.StorageCheck = avatars.Ping
	}

	service := auth.NewService(db.NewUserRepository(database), db.NewTokenRepository(database), codec, opts...)

	router := api.NewRouter(api.Config{
		AuthHandlers:   auth.NewHandlers(service),
		Codec:          codec,
		Health:         health.NewChecker(healthCfg),
		Metrics:        m,
		RateLimiter:    limiter,
		Logger:         log.WithComponent("http"),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.TokenSweepSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := service.PurgeExpiredTokens(sweepCtx)
		if err != nil {
			log.Error(sweepCtx, "Failed to purge expired refresh tokens", err)
			return
		}
		log.Info(sweepCtx, "Purged expired refresh tokens", map[string]interface{}{"count": n})
	}); err != nil {
		return fmt.Errorf("invalid TOKEN_SWEEP_SCHEDULE %q: %w", cfg.TokenSweepSchedule, err)
	}
	sweeper.Start()

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "Starting server", map[string]interface{}{
			"addr": cfg.ServerAddr,
			"env":  cfg.AppEnv,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-sigChan:
		log.Info(ctx, "Shutting down gracefully", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stopped := sweeper.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	select {
	case <-stopped.Done():
	case <-shutdownCtx.Done():
	}

	log.Info(ctx, "Server stopped")
	return nil
}
