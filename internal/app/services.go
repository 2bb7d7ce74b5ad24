package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
	"github.com/HDurna/drn-satis-yazilimi/internal/observability"
	"github.com/HDurna/drn-satis-yazilimi/internal/pos"
	"github.com/HDurna/drn-satis-yazilimi/internal/register"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
	"github.com/HDurna/drn-satis-yazilimi/internal/stockcount"
	"github.com/HDurna/drn-satis-yazilimi/internal/transfer"
)

// Services holds the core services shared by the API server and the worker.
type Services struct {
	Ledger      *ledger.Service
	POS         *pos.Service
	Register    *register.Service
	StockCount  *stockcount.Service
	Transfer    *transfer.Service
	Idempotency *shared.IdempotencyStore
}

// NewServices wires repositories and services over pool. redisClient and metrics may be nil.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) (*Services, error) {
	warn, critical, err := cfg.VarianceThresholds()
	if err != nil {
		return nil, err
	}
	audit := shared.NewAuditLogger(pool)
	approvals := shared.NewApprovalRecorder(pool, logger)
	idem := shared.NewIdempotencyStore(pool)

	var stockCache ledger.StockCache
	if redisClient != nil {
		stockCache = ledger.NewRedisStockCache(redisClient, cfg.StockCacheTTL)
	}
	ledgerService := ledger.NewService(ledger.NewRepository(pool), stockCache, audit, logger)
	registerService := register.NewService(register.NewRepository(pool), audit, register.ServiceConfig{
		VarianceWarn:     warn,
		VarianceCritical: critical,
	}, logger)
	posService := pos.NewService(pos.NewRepository(pool), ledgerService, registerService, idem, audit, logger).
		WithMetrics(metrics).
		WithClaimTTL(cfg.SaleClaimTTL)
	countService := stockcount.NewService(stockcount.NewRepository(pool), ledgerService, approvals, audit, logger)
	transferService := transfer.NewService(transfer.NewRepository(pool), ledgerService, audit, logger).
		WithMetrics(metrics)

	return &Services{
		Ledger:      ledgerService,
		POS:         posService,
		Register:    registerService,
		StockCount:  countService,
		Transfer:    transferService,
		Idempotency: idem,
	}, nil
}
