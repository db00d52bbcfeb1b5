package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ops/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

// PermissionsHandler reports what the calling actor may do.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny())
		r.Get("/me", h.showMine)
	})
}

func (h *PermissionsHandler) showMine(w http.ResponseWriter, r *http.Request) {
	actorID := shared.ActorFromContext(r.Context())
	granted, err := h.service.EffectivePermissions(r.Context(), actorID)
	if err != nil {
		h.logger.Error("list permissions", slog.String("actor", actorID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"actor_id":    actorID,
		"permissions": granted,
		"known":       shared.EngineScopes(),
	})
}
