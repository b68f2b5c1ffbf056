package purchasing

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for purchases and their adjustments.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs purchasing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/by-product", h.byProduct)
	r.Post("/relocations/{relocationID}/resume", h.resumeRelocation)
	r.Get("/{purchaseID}", h.get)
	r.Post("/{purchaseID}/adjustments", h.adjust)
	r.Get("/{purchaseID}/adjustments", h.listAdjustments)
}

type purchaseLineRequest struct {
	ProductID uuid.UUID       `json:"productId" validate:"required"`
	Label     string          `json:"label"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity" validate:"gt=0"`
}

type createPurchaseRequest struct {
	Date        time.Time             `json:"date"`
	InvoiceNo   string                `json:"invoiceNo" validate:"required"`
	WarehouseID uuid.UUID             `json:"warehouseId" validate:"required"`
	SupplierID  uuid.UUID             `json:"supplierId" validate:"required"`
	GSTPercent  *decimal.Decimal      `json:"gstPercent"`
	Products    []purchaseLineRequest `json:"products" validate:"required,min=1,dive"`
}

type correctedLineRequest struct {
	ProductID   uuid.UUID        `json:"productId" validate:"required"`
	NewQuantity int64            `json:"newQuantity" validate:"gte=0"`
	Price       *decimal.Decimal `json:"price"`
}

type adjustPurchaseRequest struct {
	Products    []correctedLineRequest `json:"products" validate:"dive"`
	Removed     []uuid.UUID            `json:"removedProductIds"`
	WarehouseID *uuid.UUID             `json:"warehouseId"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createPurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreatePurchaseInput{
		Date:           req.Date,
		InvoiceNo:      req.InvoiceNo,
		WarehouseID:    req.WarehouseID,
		SupplierID:     req.SupplierID,
		GSTPercent:     req.GSTPercent,
		Actor:          actor,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, line := range req.Products {
		input.Lines = append(input.Lines, LineInput(line))
	}
	purchase, err := h.service.CreatePurchase(r.Context(), input)
	if err != nil {
		h.logger.Warn("create purchase", slog.String("invoice_no", req.InvoiceNo), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, purchase)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var filter ListFilter
	var err error
	if filter.WarehouseID, err = httpx.UUIDQuery(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.SupplierID, err = httpx.UUIDQuery(r, "supplier_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.From, err = httpx.DateQuery(r, "from"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = httpx.DateQuery(r, "to"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	purchases, err := h.service.ListPurchases(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchases)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "purchaseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	purchase, err := h.service.GetPurchase(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}

func (h *Handler) byProduct(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := httpx.UUIDQuery(r, "warehouse_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.UUIDQuery(r, "product_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.service.PurchasesByProduct(r.Context(), warehouseID, productID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "purchaseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req adjustPurchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := AdjustPurchaseInput{PurchaseID: id, Removed: req.Removed, WarehouseID: req.WarehouseID, Actor: actor}
	for _, line := range req.Products {
		input.Lines = append(input.Lines, CorrectedLine(line))
	}
	res, err := h.service.AdjustPurchase(r.Context(), input)
	if err != nil {
		var incomplete *RelocationIncompleteError
		if errors.As(err, &incomplete) {
			h.logger.Error("adjust purchase", slog.String("purchase_id", id.String()),
				slog.String("relocation_id", incomplete.RelocationID.String()), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) resumeRelocation(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "relocationID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.ResumeRelocation(r.Context(), id, actor)
	if err != nil {
		h.logger.Error("resume relocation", slog.String("relocation_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) listAdjustments(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "purchaseID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	adjustments, err := h.service.ListAdjustments(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adjustments)
}
