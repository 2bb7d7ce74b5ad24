package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/HDurna/drn-satis-yazilimi/internal/jobs"
)

// StockRefresher recomputes the materialized stock counters.
type StockRefresher interface {
	RefreshMaterializedStock(ctx context.Context) (int64, error)
}

// StockRefreshJob realigns products.current_stock and product_stocks with the ledger sum.
type StockRefreshJob struct {
	Stock   StockRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStockRefreshJob initialises the refresh handler.
func NewStockRefreshJob(stock StockRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockRefreshJob {
	return &StockRefreshJob{Stock: stock, Logger: logger, Metrics: metrics}
}

// Handle executes the refresh.
func (j *StockRefreshJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Stock == nil {
		return errors.New("stock refresh: handler not configured")
	}
	start := time.Now()
	tracker := j.Metrics.Track(TaskStockRefresh)
	changed, err := j.Stock.RefreshMaterializedStock(ctx)
	if err != nil {
		logger(j.Logger).Error("stock refresh failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddFindings(TaskStockRefresh, "drift", int(changed))
	log := logger(j.Logger).With(slog.Int64("corrected", changed), slog.Duration("duration", time.Since(start)))
	if changed > 0 {
		log.Warn("materialized stock drifted from ledger")
	} else {
		log.Info("completed stock refresh")
	}
	return tracker.End(nil)
}
