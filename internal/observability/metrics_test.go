package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fieldstock/fieldstock/internal/platform/db"
	"github.com/fieldstock/fieldstock/internal/shared"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `fieldstock_http_requests_total{code="418",method="GET",route="/test"} 1`)
	require.Contains(t, body, `fieldstock_http_request_duration_seconds_bucket{method="GET",route="/test"`)
}

type coded struct{}

func (coded) Error() string { return "short" }
func (coded) Code() string { return "insufficient_stock" }
func (coded) Is(target error) bool { return target == shared.ErrConflict }

func TestLedgerMetricsCountsOutcomes(t *testing.T) {
	metrics := NewMetrics()
	ledger := metrics.Ledger()
	ctx := context.Background()

	ledger.LedgerCommitted(ctx, "transfer", []uuid.UUID{uuid.New()})
	ledger.LedgerCommitted(ctx, "transfer", nil)
	ledger.LedgerRejected(ctx, "transfer", coded{})
	ledger.LedgerRejected(ctx, "job_update", shared.Invalid("status", "bad"))
	ledger.LedgerRejected(ctx, "purchase_create", &db.RollbackError{Cause: errors.New("boom"), Rollback: errors.New("conn closed")})
	ledger.LedgerRejected(ctx, "job_return", errors.Join(errors.New("counter"), shared.ErrInconsistent))

	body := scrape(t, metrics)
	for _, want := range []string{
		`fieldstock_ledger_mutations_total{op="transfer"} 2`,
		`fieldstock_ledger_rejections_total{op="transfer",reason="insufficient_stock"} 1`,
		`fieldstock_ledger_rejections_total{op="job_update",reason="validation"} 1`,
		`fieldstock_ledger_rejections_total{op="purchase_create",reason="unclassified"} 1`,
		`fieldstock_ledger_alerts_total{kind="rollback_failed"} 1`,
		`fieldstock_ledger_alerts_total{kind="inconsistent"} 1`,
	} {
		require.True(t, strings.Contains(body, want), "missing %s", want)
	}
}

func TestNilLedgerMetricsIsSafe(t *testing.T) {
	var ledger *LedgerMetrics
	ledger.LedgerCommitted(context.Background(), "debit", nil)
	ledger.LedgerRejected(context.Background(), "debit", errors.New("x"))
	ledger.Alert(AlertLedgerCorrupt)
}
