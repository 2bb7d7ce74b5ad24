package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskSaleReconcile re-posts ledger lines of sales left PENDING or PARTIAL.
	TaskSaleReconcile = "pos:sale_reconcile"
	// TaskStockRefresh recomputes materialized stock counters from the ledger.
	TaskStockRefresh = "ledger:stock_refresh"
	// TaskTransferIntegrity scans recent transfer documents for unbalanced sides.
	TaskTransferIntegrity = "ledger:transfer_integrity"
	// TaskDailySales logs the per payment method totals of a business day.
	TaskDailySales = "report:daily_sales"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// SaleReconcilePayload limits a reconcile pass. Sales younger than MinAge are left
// alone because their ledger writes may still be in flight.
type SaleReconcilePayload struct {
	MinAge time.Duration `json:"min_age"`
	Limit  int           `json:"limit"`
}

// TransferIntegrityPayload sets the look-back window of the scan.
type TransferIntegrityPayload struct {
	Window time.Duration `json:"window"`
}

// DailySalesPayload selects the reported day as YYYY-MM-DD. Empty means today.
type DailySalesPayload struct {
	Day string `json:"day,omitempty"`
}

// IdempotencyCleanupPayload sets how long claimed keys are retained.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewSaleReconcileTask constructs a reconcile task.
func NewSaleReconcileTask(minAge time.Duration, limit int) (*asynq.Task, error) {
	return newTask(TaskSaleReconcile, SaleReconcilePayload{MinAge: minAge, Limit: limit})
}

// NewStockRefreshTask constructs a materialized stock refresh task.
func NewStockRefreshTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskStockRefresh, nil, asynq.Queue(QueueDefault)), nil
}

// NewTransferIntegrityTask constructs a transfer integrity scan task.
func NewTransferIntegrityTask(window time.Duration) (*asynq.Task, error) {
	return newTask(TaskTransferIntegrity, TransferIntegrityPayload{Window: window})
}

// NewDailySalesTask constructs a daily sales report task for day (empty for today).
func NewDailySalesTask(day string) (*asynq.Task, error) {
	return newTask(TaskDailySales, DailySalesPayload{Day: day})
}

// NewIdempotencyCleanupTask constructs an idempotency key cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{Retention: retention})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}

func decodePayload(t *asynq.Task, target any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), target); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
