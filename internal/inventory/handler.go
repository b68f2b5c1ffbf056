package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldstock/fieldstock/internal/platform/httpx"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{warehouseID}", h.get)
	r.Get("/{warehouseID}/availability", h.availability)
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireRole("admin"))
		r.Post("/{warehouseID}/repair", h.repair)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListInventories(r.Context())
	if err != nil {
		h.logger.Error("list inventories", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := httpx.UUIDParam(r, "warehouseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GetInventory(r.Context(), warehouseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := httpx.UUIDParam(r, "warehouseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.UUIDQuery(r, "product_id")
	if err == nil && productID == uuid.Nil {
		err = shared.Invalid("product_id", "is required")
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	qty, err := httpx.Int64Query(r, "qty", 1)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.CheckAvailability(r.Context(), warehouseID, productID, qty)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) repair(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	warehouseID, err := httpx.UUIDParam(r, "warehouseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Repair(r.Context(), warehouseID, actor)
	if err != nil {
		h.logger.Error("repair inventory", slog.String("warehouse_id", warehouseID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("inventory repaired",
		slog.String("warehouse_id", warehouseID.String()),
		slog.Int("merged_lines", res.MergedLines),
		slog.Int64("current_stock", res.CurrentStock))
	httpx.JSON(w, http.StatusOK, res)
}
