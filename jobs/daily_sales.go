package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	jobmetrics "github.com/HDurna/drn-satis-yazilimi/internal/jobs"
	"github.com/HDurna/drn-satis-yazilimi/internal/pos"
)

// SalesTotaler sums transactions per payment method.
type SalesTotaler interface {
	TotalsBetween(ctx context.Context, from, to time.Time) ([]pos.MethodTotal, error)
}

// DailySalesLine is one payment method row of the report.
type DailySalesLine struct {
	Method    pos.PaymentMethod `json:"payment_method"`
	Count     int64             `json:"count"`
	Amount    decimal.Decimal   `json:"amount"`
	Formatted string            `json:"formatted"`
}

// DailySalesReport summarises one business day. Collections are listed but not counted as sales.
type DailySalesReport struct {
	Day        string           `json:"day"`
	Lines      []DailySalesLine `json:"lines"`
	SalesTotal decimal.Decimal  `json:"sales_total"`
	Formatted  string           `json:"formatted_total"`
}

// DailySalesJob logs per payment method totals for a business day in the store's timezone.
type DailySalesJob struct {
	Sales    SalesTotaler
	Location *time.Location
	Printer  *message.Printer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewDailySalesJob initialises the report handler. A nil location means UTC.
func NewDailySalesJob(sales SalesTotaler, loc *time.Location, lang language.Tag, logger *slog.Logger, metrics *jobmetrics.Metrics) *DailySalesJob {
	if loc == nil {
		loc = time.UTC
	}
	return &DailySalesJob{
		Sales:    sales,
		Location: loc,
		Printer:  message.NewPrinter(lang),
		Logger:   logger,
		Metrics:  metrics,
		clock:    time.Now,
	}
}

// Handle builds and logs the report.
func (j *DailySalesJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sales == nil {
		return errors.New("daily sales: handler not configured")
	}
	var payload DailySalesPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskDailySales)
	report, err := j.Build(ctx, payload.Day)
	if err != nil {
		logger(j.Logger).Error("daily sales report failed", slog.String("day", payload.Day), slog.Any("error", err))
		return tracker.End(err)
	}
	log := logger(j.Logger).With(slog.String("day", report.Day))
	for _, line := range report.Lines {
		log.Info("daily sales",
			slog.String("payment_method", string(line.Method)),
			slog.Int64("count", line.Count),
			slog.String("amount", line.Formatted),
		)
	}
	log.Info("daily sales total", slog.String("amount", report.Formatted))
	return tracker.End(nil)
}

// Build computes the report for day (YYYY-MM-DD). An empty day means today.
func (j *DailySalesJob) Build(ctx context.Context, day string) (DailySalesReport, error) {
	start, err := j.dayStart(day)
	if err != nil {
		return DailySalesReport{}, err
	}
	totals, err := j.Sales.TotalsBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return DailySalesReport{}, err
	}
	report := DailySalesReport{Day: start.Format(time.DateOnly), SalesTotal: decimal.Zero}
	for _, t := range totals {
		report.Lines = append(report.Lines, DailySalesLine{
			Method:    t.Method,
			Count:     t.Count,
			Amount:    t.Amount,
			Formatted: j.format(t.Amount),
		})
		if t.Method.IsSale() {
			report.SalesTotal = report.SalesTotal.Add(t.Amount)
		}
	}
	report.Formatted = j.format(report.SalesTotal)
	return report, nil
}

func (j *DailySalesJob) dayStart(day string) (time.Time, error) {
	loc := j.Location
	if loc == nil {
		loc = time.UTC
	}
	if day == "" {
		now := time.Now
		if j.clock != nil {
			now = j.clock
		}
		y, m, d := now().In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	start, err := time.ParseInLocation(time.DateOnly, day, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("daily sales: invalid day %q: %w", day, asynq.SkipRetry)
	}
	return start, nil
}

func (j *DailySalesJob) format(amount decimal.Decimal) string {
	p := j.Printer
	if p == nil {
		p = message.NewPrinter(language.Turkish)
	}
	return p.Sprintf("%.2f", amount.InexactFloat64())
}
