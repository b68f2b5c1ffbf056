package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fieldstock/fieldstock/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity verifies every warehouse record.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskLowStockScan generates an order request for stock below its threshold.
	TaskLowStockScan = "stock:low-scan"
	// TaskIdempotencyCleanup drops expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LedgerIntegrityPayload tunes the integrity scan.
type LedgerIntegrityPayload struct {
	Concurrency int `json:"concurrency"`
}

// LowStockScanPayload is reserved for scan options.
type LowStockScanPayload struct{}

// IdempotencyCleanupPayload sets how long keys are retained.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewLedgerIntegrityTask builds an integrity scan task.
func NewLedgerIntegrityTask(concurrency int) (*asynq.Task, error) {
	return newTask(TaskLedgerIntegrity, LedgerIntegrityPayload{Concurrency: concurrency})
}

// NewLowStockScanTask builds a low-stock scan task.
func NewLowStockScanTask() (*asynq.Task, error) {
	return newTask(TaskLowStockScan, LowStockScanPayload{})
}

// NewIdempotencyCleanupTask builds a cleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{RetentionHours: retentionHours})
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

// decodePayload reads a JSON payload. An empty payload leaves target untouched.
func decodePayload(t *asynq.Task, target any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), target); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
