package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/services"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/interfaces/http/rest/middleware"
	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/observability"
)

// AdminHandler serves the tenant wipe and maintenance endpoints.
type AdminHandler struct {
	engine    *services.Engine
	collector *observability.Collector
	logger    *zap.Logger
}

// NewAdminHandler creates the handler. The collector may be nil.
func NewAdminHandler(engine *services.Engine, collector *observability.Collector, logger *zap.Logger) *AdminHandler {
	if engine == nil {
		panic("handlers: engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{engine: engine, collector: collector, logger: logger.Named("admin_handler")}
}

// DeleteTenant handles DELETE /api/v1/tenants/{tenantID}. The path tenant
// must match the authenticated tenant so one tenant cannot wipe another.
func (h *AdminHandler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	pathTenant := chi.URLParam(r, "tenantID")
	headerTenant := middleware.TenantFromContext(r.Context())
	if pathTenant != headerTenant {
		respondError(h.logger, w, http.StatusForbidden, "tenant mismatch")
		return
	}

	report, err := h.engine.Clear(r.Context(), pathTenant)
	if err != nil {
		h.logger.Error("tenant wipe failed",
			zap.String("tenant_id", pathTenant), zap.Error(err))
		respondAppError(h.logger, w, err)
		return
	}
	h.logger.Info("tenant wiped",
		zap.String("tenant_id", pathTenant),
		zap.Int("memories", report.Memories),
		zap.Int("vectors", report.Vectors))
	if h.collector != nil {
		h.collector.MemoriesDeleted.WithLabelValues("tenant_wipe").Add(float64(report.Memories))
	}
	respondJSON(h.logger, w, http.StatusOK, report)
}

// EraseUserRequest is the erasure request body. Source identifies the
// subject whose memories are removed; Actor is recorded in the audit row
// and defaults to "api".
type EraseUserRequest struct {
	Source string `json:"source" validate:"required,max=256"`
	Actor  string `json:"actor,omitempty" validate:"omitempty,max=128"`
}

// EraseUser handles POST /api/v1/maintenance/erase.
func (h *AdminHandler) EraseUser(w http.ResponseWriter, r *http.Request) {
	var body EraseUserRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(body); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "validation error: "+err.Error())
		return
	}
	if body.Actor == "" {
		body.Actor = "api"
	}

	tenant := middleware.TenantFromContext(r.Context())
	deleted, err := h.engine.EraseUserData(r.Context(), tenant, body.Source, body.Actor)
	if err != nil {
		h.logger.Error("user erasure failed",
			zap.String("tenant_id", tenant), zap.Error(err))
		respondAppError(h.logger, w, err)
		return
	}
	h.logger.Info("user data erased",
		zap.String("tenant_id", tenant), zap.Int("deleted", deleted))
	if h.collector != nil {
		h.collector.MemoriesDeleted.WithLabelValues("user_erasure").Add(float64(deleted))
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]any{"deleted": deleted})
}

// Consolidate handles POST /api/v1/maintenance/consolidate.
func (h *AdminHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	project := r.URL.Query().Get("project")

	report, err := h.engine.Consolidate(r.Context(), tenant, project)
	if err != nil {
		respondAppError(h.logger, w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, report)
}

// Reflect handles POST /api/v1/maintenance/reflect.
func (h *AdminHandler) Reflect(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	project := r.URL.Query().Get("project")

	ids, err := h.engine.GenerateReflections(r.Context(), tenant, project)
	if err != nil {
		respondAppError(h.logger, w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, map[string]any{
		"reflection_ids": ids,
		"count":          len(ids),
	})
}
