package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/HDurna/drn-satis-yazilimi/internal/jobs"
	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
)

const defaultIntegrityWindow = 48 * time.Hour

// TransferScanner lists transfer documents whose OUT and IN sides do not cancel out.
type TransferScanner interface {
	UnbalancedTransfers(ctx context.Context, since time.Time) ([]ledger.DocumentIntegrity, error)
}

// TransferIntegrityJob reports unbalanced transfer documents.
type TransferIntegrityJob struct {
	Stock   TransferScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewTransferIntegrityJob initialises the integrity scan handler.
func NewTransferIntegrityJob(stock TransferScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *TransferIntegrityJob {
	return &TransferIntegrityJob{Stock: stock, Logger: logger, Metrics: metrics, clock: time.Now}
}

// Handle executes the scan. Findings are logged, never repaired.
func (j *TransferIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Stock == nil {
		return errors.New("transfer integrity: handler not configured")
	}
	var payload TransferIntegrityPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	if payload.Window <= 0 {
		payload.Window = defaultIntegrityWindow
	}

	tracker := j.Metrics.Track(TaskTransferIntegrity)
	_, err := j.Scan(ctx, payload.Window)
	return tracker.End(err)
}

// Scan returns the unbalanced documents created within window.
func (j *TransferIntegrityJob) Scan(ctx context.Context, window time.Duration) ([]ledger.DocumentIntegrity, error) {
	now := time.Now
	if j.clock != nil {
		now = j.clock
	}
	log := logger(j.Logger).With(slog.Duration("window", window))
	docs, err := j.Stock.UnbalancedTransfers(ctx, now().Add(-window))
	if err != nil {
		log.Error("transfer integrity scan failed", slog.Any("error", err))
		return nil, err
	}
	for _, d := range docs {
		log.Warn("unbalanced transfer document",
			slog.String("document_ref", d.DocumentRef),
			slog.Int64("out_total", d.OutTotal),
			slog.Int64("in_total", d.InTotal),
			slog.Int("lines", d.Lines),
		)
	}
	j.Metrics.AddFindings(TaskTransferIntegrity, "unbalanced", len(docs))
	log.Info("completed transfer integrity scan", slog.Int("unbalanced", len(docs)))
	return docs, nil
}
