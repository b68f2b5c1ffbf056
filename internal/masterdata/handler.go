package masterdata

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldstock/fieldstock/internal/platform/httpx"
)

// Handler exposes read-only master data lookups.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a new master data handler
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products/{productID}", h.getProduct)
	r.Get("/warehouses/{warehouseID}", h.getWarehouse)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) getWarehouse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "warehouseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	warehouse, err := h.service.GetWarehouse(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, warehouse)
}
