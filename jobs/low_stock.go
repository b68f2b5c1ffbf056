package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fieldstock/fieldstock/internal/jobs"
	"github.com/fieldstock/fieldstock/internal/orderrequests"
)

// LowStockScanner creates order requests for low stock.
type LowStockScanner interface {
	ScanLowStock(ctx context.Context) (*orderrequests.OrderRequest, error)
}

// LowStockScanJob runs the low-stock scan on a schedule.
type LowStockScanJob struct {
	Scanner LowStockScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob constructs the job handler.
func NewLowStockScanJob(scanner LowStockScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Scanner == nil {
		return errors.New("low stock scan: handler not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskLowStockScan)
	defer func() {
		err = tracker.End(err)
	}()
	var payload LowStockScanPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	logger := slog.Default()
	if j.Logger != nil {
		logger = j.Logger
	}
	logger = logger.With(slog.String("job", TaskLowStockScan))

	req, err := j.Scanner.ScanLowStock(ctx)
	if err != nil {
		logger.Error("low stock scan failed", slog.Any("error", err))
		return err
	}
	if req == nil {
		logger.Info("no low stock found")
		return nil
	}
	metrics.AddOrderRequests(1)
	logger.Info("order request generated", slog.String("order_request_id", req.ID.String()), slog.Int("items", len(req.Items)))
	return nil
}
