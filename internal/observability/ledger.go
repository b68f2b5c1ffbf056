package observability

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fieldstock/fieldstock/internal/platform/db"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// Alert kinds.
const (
	AlertRollbackFailed = "rollback_failed"
	AlertLedgerCorrupt  = "ledger_corrupt"
	AlertInconsistent   = "inconsistent"
)

const rejectionUnclassified = "unclassified"

// LedgerMetrics counts ledger outcomes. It implements inventory.Observer.
type LedgerMetrics struct {
	mutations  *prometheus.CounterVec
	rejections *prometheus.CounterVec
	alerts     *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger collectors.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldstock_ledger_mutations_total",
		Help: "Committed ledger workflows by operation.",
	}, []string{"op"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldstock_ledger_rejections_total",
		Help: "Rejected ledger workflows by operation and error code.",
	}, []string{"op", "reason"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldstock_ledger_alerts_total",
		Help: "Conditions that need an operator, by kind.",
	}, []string{"kind"})
	registerer.MustRegister(mutations, rejections, alerts)
	return &LedgerMetrics{mutations: mutations, rejections: rejections, alerts: alerts}
}

// LedgerCommitted counts a committed workflow.
func (m *LedgerMetrics) LedgerCommitted(_ context.Context, op string, _ []uuid.UUID) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op).Inc()
}

// LedgerRejected counts a rejected workflow and raises an alert when the
// failure left or found the data in an unknown state.
func (m *LedgerMetrics) LedgerRejected(_ context.Context, op string, err error) {
	if m == nil || err == nil {
		return
	}
	m.rejections.WithLabelValues(op, reason(err)).Inc()
	var rollback *db.RollbackError
	switch {
	case errors.As(err, &rollback):
		m.Alert(AlertRollbackFailed)
	case errors.Is(err, shared.ErrInconsistent):
		m.Alert(AlertInconsistent)
	}
}

// Alert increments the alert counter for kind.
func (m *LedgerMetrics) Alert(kind string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(kind).Inc()
}

func reason(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	switch {
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	}
	return rejectionUnclassified
}
