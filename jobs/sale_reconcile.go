package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/HDurna/drn-satis-yazilimi/internal/jobs"
	"github.com/HDurna/drn-satis-yazilimi/internal/pos"
)

const (
	defaultReconcileMinAge = time.Minute
	defaultReconcileLimit  = 200
)

// SaleReconciler re-posts missing SALE movements.
type SaleReconciler interface {
	ReconcilePending(ctx context.Context, before time.Time, limit int) (pos.ReconcileResult, error)
}

// SaleReconcileJob finishes the ledger side of sales whose movements were not all written.
type SaleReconcileJob struct {
	Sales   SaleReconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSaleReconcileJob initialises the reconcile handler.
func NewSaleReconcileJob(sales SaleReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *SaleReconcileJob {
	return &SaleReconcileJob{Sales: sales, Logger: logger, Metrics: metrics, clock: time.Now}
}

// Handle executes one reconcile pass.
func (j *SaleReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sales == nil {
		return errors.New("sale reconcile: handler not configured")
	}
	var payload SaleReconcilePayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	if payload.MinAge <= 0 {
		payload.MinAge = defaultReconcileMinAge
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultReconcileLimit
	}

	tracker := j.Metrics.Track(TaskSaleReconcile)
	before := j.now().Add(-payload.MinAge)
	result, err := j.Sales.ReconcilePending(ctx, before, payload.Limit)
	if err != nil {
		logger(j.Logger).Error("sale reconcile failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddFindings(TaskSaleReconcile, "reposted", result.Reposted)
	j.Metrics.AddFindings(TaskSaleReconcile, "failed", result.Failed)

	log := logger(j.Logger).With(
		slog.Int("checked", result.Checked),
		slog.Int("reposted", result.Reposted),
		slog.Int("failed", result.Failed),
	)
	if result.Failed > 0 {
		log.Warn("sale reconcile left sales unposted")
	} else {
		log.Info("completed sale reconcile")
	}
	return tracker.End(nil)
}

func (j *SaleReconcileJob) now() time.Time {
	if j.clock == nil {
		return time.Now()
	}
	return j.clock()
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
