package transfers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldstock/fieldstock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for stock transfers.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
}

type transferRequest struct {
	FromWarehouseID uuid.UUID `json:"fromWarehouseId" validate:"required"`
	ToWarehouseID   uuid.UUID `json:"toWarehouseId" validate:"required"`
	ProductID       uuid.UUID `json:"productId" validate:"required"`
	Quantity        int64     `json:"quantity" validate:"gt=0"`
	Reason          string    `json:"reason" validate:"max=500"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	transfer, err := h.service.Transfer(r.Context(), Input{
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		Reason:          req.Reason,
		Actor:           actor,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.Warn("create transfer", slog.String("product_id", req.ProductID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transfer)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.Int64Query(r, "limit", DefaultListLimit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.List(r.Context(), r.URL.Query().Get("search"), int(limit))
	if err != nil {
		h.logger.Error("list transfers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}
