package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/HDurna/drn-satis-yazilimi/internal/app"
	"github.com/HDurna/drn-satis-yazilimi/internal/auth"
	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
	"github.com/HDurna/drn-satis-yazilimi/internal/observability"
	"github.com/HDurna/drn-satis-yazilimi/internal/platform/cache"
	"github.com/HDurna/drn-satis-yazilimi/internal/platform/db"
	"github.com/HDurna/drn-satis-yazilimi/internal/pos"
	"github.com/HDurna/drn-satis-yazilimi/internal/rbac"
	"github.com/HDurna/drn-satis-yazilimi/internal/register"
	"github.com/HDurna/drn-satis-yazilimi/internal/stockcount"
	"github.com/HDurna/drn-satis-yazilimi/internal/transfer"
	"github.com/HDurna/drn-satis-yazilimi/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr}); err != nil {
		logger.Warn("redis unavailable, stock cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	services, err := app.NewServices(cfg, dbpool, redisClient, metrics, logger)
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}

	tokens, err := auth.NewTokenManager(cfg.AuthTokenSecret, cfg.AuthTokenTTL, cfg.AuthIssuer)
	if err != nil {
		logger.Error("init token manager", slog.Any("error", err))
		os.Exit(1)
	}
	authHandler := auth.NewHandler(logger, tokens, auth.NewRepository(dbpool))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	validate := validator.New()
	rbacMiddleware := rbac.Middleware{Logger: logger}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AuthHandler:       authHandler,
		LedgerHandler:     ledger.NewHandler(logger, services.Ledger, validate, rbacMiddleware),
		POSHandler:        pos.NewHandler(logger, services.POS, validate, rbacMiddleware, jobClient),
		RegisterHandler:   register.NewHandler(logger, services.Register, validate, rbacMiddleware),
		StockCountHandler: stockcount.NewHandler(logger, services.StockCount, validate, rbacMiddleware),
		TransferHandler:   transfer.NewHandler(logger, services.Transfer, validate, rbacMiddleware),
		JobHandler:        jobs.NewHandler(inspector, jobClient, rbacMiddleware, logger),
		Metrics:           metrics,
		Database:          dbpool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
