package consistency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ops/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ops/internal/rbac"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

// Enqueuer schedules an out-of-band consistency sweep.
type Enqueuer interface {
	EnqueueConsistencySweep(ctx context.Context, repair bool) (string, error)
}

// Handler exposes the maintenance endpoints.
type Handler struct {
	logger   *slog.Logger
	auditor  *Auditor
	repairer *Repairer
	enqueuer Enqueuer
	rbac     rbac.Middleware
	group    singleflight.Group
}

// NewHandler constructs the maintenance handler. enqueuer may be nil, in which case
// the sweep endpoint is not mounted.
func NewHandler(logger *slog.Logger, auditor *Auditor, repairer *Repairer, enqueuer Enqueuer, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, auditor: auditor, repairer: repairer, enqueuer: enqueuer, rbac: rbac}
}

// MountRoutes registers maintenance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermMaintenance))
		r.Get("/findings", h.findings)
		r.Post("/repair", h.repair)
		if h.enqueuer != nil {
			r.Post("/sweep", h.sweep)
		}
	})
}

// findingsScanTimeout bounds a shared scan, which runs detached from any one request.
const findingsScanTimeout = 30 * time.Second

type findingsResponse struct {
	Findings []Finding `json:"findings"`
	Count    int       `json:"count"`
}

func (h *Handler) findings(w http.ResponseWriter, r *http.Request) {
	v, err, _ := h.group.Do("scan", func() (any, error) {
		// Concurrent callers share this scan; one of them going away must not fail the rest.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), findingsScanTimeout)
		defer cancel()
		return h.auditor.Scan(ctx)
	})
	if err != nil {
		h.logger.Error("consistency scan", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	findings, _ := v.([]Finding)
	if findings == nil {
		findings = []Finding{}
	}
	httpx.JSON(w, http.StatusOK, findingsResponse{Findings: findings, Count: len(findings)})
}

type repairRequest struct {
	DryRun             *bool `json:"dry_run"`
	ConfirmDestructive bool  `json:"confirm_destructive"`
}

func (h *Handler) repair(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
		return
	}
	opts := RepairOptions{
		DryRun:             true,
		ConfirmDestructive: req.ConfirmDestructive,
		ActorID:            shared.ActorFromContext(r.Context()),
	}
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}
	report, err := ScanAndRun(r.Context(), h.auditor, h.repairer, opts)
	if err != nil {
		if !errors.Is(err, ErrMaintenanceInProgress) {
			h.logger.Error("consistency repair", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

type sweepRequest struct {
	Repair bool `json:"repair"`
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
		return
	}
	id, err := h.enqueuer.EnqueueConsistencySweep(r.Context(), req.Repair)
	if err != nil {
		h.logger.Error("enqueue consistency sweep", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}
