package jobstock

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldstock/fieldstock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for jobs.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the job handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{jobID}", h.get)
	r.Put("/{jobID}", h.update)
	r.Post("/{jobID}/returns", h.returnProducts)
}

type lineRequest struct {
	ProductID   uuid.UUID `json:"productId" validate:"required"`
	WarehouseID uuid.UUID `json:"warehouseId" validate:"required"`
	Quantity    int64     `json:"quantity" validate:"gt=0"`
}

type jobRequest struct {
	WorkType     string        `json:"workType" validate:"max=120"`
	Address      string        `json:"address" validate:"max=500"`
	Installer    *uuid.UUID    `json:"installer"`
	Status       Status        `json:"status" validate:"omitempty,oneof=Draft Pending Issued Installed Cancelled"`
	Requirements []lineRequest `json:"requirements" validate:"dive"`
	Products     []lineRequest `json:"products" validate:"dive"`
}

type returnLineRequest struct {
	ProductID         uuid.UUID `json:"productId" validate:"required"`
	WarehouseID       uuid.UUID `json:"warehouseId"`
	QuantityRemaining int64     `json:"quantityRemaining" validate:"gte=0"`
}

type returnRequest struct {
	Products []returnLineRequest `json:"products" validate:"required,min=1,dive"`
}

func toLines(reqs []lineRequest) []Line {
	if reqs == nil {
		return nil
	}
	lines := make([]Line, 0, len(reqs))
	for _, req := range reqs {
		lines = append(lines, Line(req))
	}
	return lines
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req jobRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	job, err := h.service.CreateJob(r.Context(), CreateInput{
		WorkType:     req.WorkType,
		Address:      req.Address,
		InstallerID:  req.Installer,
		Requirements: toLines(req.Requirements),
		Products:     toLines(req.Products),
		Status:       req.Status,
		Actor:        actor,
	})
	if err != nil {
		h.logger.Warn("create job", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, job)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "jobID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req jobRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	job, err := h.service.UpdateJob(r.Context(), UpdateInput{
		JobID:        id,
		WorkType:     req.WorkType,
		Address:      req.Address,
		InstallerID:  req.Installer,
		Requirements: toLines(req.Requirements),
		Products:     toLines(req.Products),
		Status:       req.Status,
		Actor:        actor,
	})
	if err != nil {
		h.logger.Warn("update job", slog.String("job_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) returnProducts(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "jobID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := ReturnInput{JobID: id, Actor: actor}
	for _, line := range req.Products {
		input.Lines = append(input.Lines, ReturnLine(line))
	}
	job, err := h.service.ReturnProducts(r.Context(), input)
	if err != nil {
		h.logger.Warn("return job products", slog.String("job_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "jobID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	job, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

// list shows admins every job and other users only their own.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ListFilter{Status: Status(r.URL.Query().Get("status"))}
	if filter.InstallerID, err = httpx.UUIDQuery(r, "installer_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !actor.IsAdmin() {
		filter.UserID = actor.UserID
	}
	jobs, err := h.service.ListJobs(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, jobs)
}
