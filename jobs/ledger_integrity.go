package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fieldstock/fieldstock/internal/inventory"
	jobmetrics "github.com/fieldstock/fieldstock/internal/jobs"
)

const defaultIntegrityConcurrency = 4

// LedgerVerifier checks stored warehouse records.
type LedgerVerifier interface {
	VerifyAll(ctx context.Context, concurrency int) ([]*inventory.LedgerCorruptionError, error)
}

// AlertSink receives operator alerts.
type AlertSink interface {
	Alert(kind string)
}

// LedgerIntegrityJob reports warehouse records that violate the ledger
// invariants. It never repairs them.
type LedgerIntegrityJob struct {
	Verifier LedgerVerifier
	Alerts   AlertSink
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewLedgerIntegrityJob constructs the job handler. alerts and metrics may be nil.
func NewLedgerIntegrityJob(verifier LedgerVerifier, alerts AlertSink, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Verifier: verifier, Alerts: alerts, Logger: logger, Metrics: metrics}
}

// Handle executes the integrity scan.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Verifier == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	start := time.Now()
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	defer func() {
		err = tracker.End(err)
	}()

	payload := LedgerIntegrityPayload{Concurrency: defaultIntegrityConcurrency}
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	logger := j.log()
	corrupt, err := j.Verifier.VerifyAll(ctx, payload.Concurrency)
	if err != nil {
		logger.Error("integrity scan failed", slog.Any("error", err))
		return err
	}
	j.metrics().SetCorruptWarehouses(len(corrupt))
	for _, c := range corrupt {
		logger.Error("warehouse ledger corrupt",
			slog.String("warehouse_id", c.WarehouseID.String()),
			slog.String("reason", c.Reason),
			slog.Int64("current_stock", c.CurrentStock),
			slog.Int64("line_total", c.LineTotal),
			slog.Bool("alert", true))
	}
	if len(corrupt) > 0 && j.Alerts != nil {
		j.Alerts.Alert("ledger_corrupt")
	}
	logger.Info("completed integrity scan",
		slog.Int("corrupt", len(corrupt)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerIntegrityJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}
