package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fieldstock/fieldstock/internal/installers"
	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/jobstock"
	"github.com/fieldstock/fieldstock/internal/masterdata"
	"github.com/fieldstock/fieldstock/internal/observability"
	"github.com/fieldstock/fieldstock/internal/orderrequests"
	"github.com/fieldstock/fieldstock/internal/purchasing"
	"github.com/fieldstock/fieldstock/internal/transfers"
	"github.com/fieldstock/fieldstock/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	InventoryHandler     *inventory.Handler
	PurchasingHandler    *purchasing.Handler
	TransfersHandler     *transfers.Handler
	JobStockHandler      *jobstock.Handler
	InstallersHandler    *installers.Handler
	OrderRequestsHandler *orderrequests.Handler
	MasterDataHandler    *masterdata.Handler
	QueueHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with fieldstock defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.InventoryHandler != nil {
		r.Route("/inventory", params.InventoryHandler.MountRoutes)
	}
	if params.PurchasingHandler != nil {
		r.Route("/purchases", params.PurchasingHandler.MountRoutes)
	}
	if params.TransfersHandler != nil {
		r.Route("/transfers", params.TransfersHandler.MountRoutes)
	}
	if params.JobStockHandler != nil {
		r.Route("/jobs", params.JobStockHandler.MountRoutes)
	}
	if params.InstallersHandler != nil {
		r.Route("/installers", params.InstallersHandler.MountRoutes)
	}
	if params.OrderRequestsHandler != nil {
		r.Route("/order-requests", params.OrderRequestsHandler.MountRoutes)
	}
	if params.MasterDataHandler != nil {
		r.Route("/masterdata", params.MasterDataHandler.MountRoutes)
	}
	if params.QueueHandler != nil {
		r.Route("/jobs-queue", params.QueueHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
