package installers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldstock/fieldstock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for installers.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the installer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers installer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{installerID}", h.get)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "installerID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	installer, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, installer)
}
