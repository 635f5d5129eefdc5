package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/foresight-inc/foresight-engine/pkg/apperrors"
	"github.com/foresight-inc/foresight-engine/pkg/auth"
	"github.com/foresight-inc/foresight-engine/pkg/models"
	"github.com/foresight-inc/foresight-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// CreateTimelineRequest for POST /api/timelines
type CreateTimelineRequest struct {
	Topic string `json:"topic"`
}

// UpdateVisibilityRequest for PATCH /api/timelines/{slug}/visibility
type UpdateVisibilityRequest struct {
	Visibility string `json:"visibility"`
}

// TimelineListResponse for listing endpoints.
type TimelineListResponse struct {
	Timelines []*models.TimelineVersion `json:"timelines"`
	Total     int                       `json:"total"`
}

// VersionListResponse for GET /api/timelines/{slug}/versions
type VersionListResponse struct {
	Slug     string                  `json:"slug"`
	Versions []models.VersionSummary `json:"versions"`
	Total    int                     `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// TimelineHandler handles timeline HTTP requests.
type TimelineHandler struct {
	timelineService services.TimelineService
	logger          *zap.Logger
}

// NewTimelineHandler creates a new timeline handler.
func NewTimelineHandler(timelineService services.TimelineService, logger *zap.Logger) *TimelineHandler {
	return &TimelineHandler{
		timelineService: timelineService,
		logger:          logger,
	}
}

// RegisterRoutes registers the timeline handler's routes on the given mux.
// Identity is optional on every route; ownership-gated operations reject
// anonymous callers at the service layer.
func (h *TimelineHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/timelines"

	mux.HandleFunc("POST "+base, authMiddleware.Identify(h.Create))
	mux.HandleFunc("GET "+base, authMiddleware.Identify(h.List))
	mux.HandleFunc("GET "+base+"/{slug}", authMiddleware.Identify(h.Get))
	mux.HandleFunc("POST "+base+"/{slug}/reprocess", authMiddleware.Identify(h.Reprocess))
	mux.HandleFunc("GET "+base+"/{slug}/versions", authMiddleware.Identify(h.ListVersions))
	mux.HandleFunc("PATCH "+base+"/{slug}/visibility", authMiddleware.RequireAuth(h.UpdateVisibility))
	mux.HandleFunc("DELETE "+base+"/{slug}", authMiddleware.RequireAuth(h.Delete))
}

// Create handles POST /api/timelines
func (h *TimelineHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTimelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Topic == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "topic is required")
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	timeline, err := h.timelineService.CreateTimeline(r.Context(), req.Topic, userID)
	if err != nil {
		h.logger.Error("Failed to create timeline",
			zap.String("topic", req.Topic),
			zap.Error(err))
		h.respondError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, timeline); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/timelines/{slug}?version=N
func (h *TimelineHandler) Get(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	var version *int
	if raw := r.URL.Query().Get("version"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "version must be a positive integer")
			return
		}
		version = &n
	}

	timeline, err := h.timelineService.GetTimeline(r.Context(), slug, version)
	if err != nil {
		h.respondError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, timeline); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Reprocess handles POST /api/timelines/{slug}/reprocess
func (h *TimelineHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	userID := auth.UserIDFromContext(r.Context())

	timeline, err := h.timelineService.ReprocessTimeline(r.Context(), slug, userID)
	if err != nil {
		h.logger.Error("Failed to reprocess timeline",
			zap.String("slug", slug),
			zap.Error(err))
		h.respondError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, timeline); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListVersions handles GET /api/timelines/{slug}/versions
func (h *TimelineHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	versions, err := h.timelineService.ListVersions(r.Context(), slug)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if len(versions) == 0 {
		h.writeError(w, http.StatusNotFound, "not_found", "Timeline not found")
		return
	}

	response := VersionListResponse{
		Slug:     slug,
		Versions: versions,
		Total:    len(versions),
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/timelines?search=|user=me|popular=true
func (h *TimelineHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	var (
		timelines []*models.TimelineVersion
		err       error
	)

	switch {
	case query.Get("search") != "":
		timelines, err = h.timelineService.Search(r.Context(), query.Get("search"), limit)
	case query.Get("user") == "me":
		userID := auth.UserIDFromContext(r.Context())
		if userID == nil {
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}
		timelines, err = h.timelineService.ListByUser(r.Context(), *userID, limit)
	default:
		timelines, err = h.timelineService.ListPopular(r.Context(), limit)
	}

	if err != nil {
		h.logger.Error("Failed to list timelines", zap.Error(err))
		h.respondError(w, err)
		return
	}

	response := TimelineListResponse{
		Timelines: timelines,
		Total:     len(timelines),
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdateVisibility handles PATCH /api/timelines/{slug}/visibility
func (h *TimelineHandler) UpdateVisibility(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	var req UpdateVisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	visibility := models.Visibility(req.Visibility)
	if !visibility.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "visibility must be private, public, or premium")
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	if err := h.timelineService.SetVisibility(r.Context(), slug, userID, visibility); err != nil {
		h.respondError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]string{
		"slug":       slug,
		"visibility": string(visibility),
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/timelines/{slug}
func (h *TimelineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	userID := auth.UserIDFromContext(r.Context())

	if err := h.timelineService.DeleteTimeline(r.Context(), slug, userID); err != nil {
		h.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondError maps service errors to HTTP status codes. Generation failures
// surface as 502 with a generic message; the diagnostic detail stays in logs.
func (h *TimelineHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Timeline not found")
	case errors.Is(err, apperrors.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "forbidden", "Operation requires ownership of this timeline")
	case errors.Is(err, apperrors.ErrNotPrivate):
		h.writeError(w, http.StatusConflict, "not_private", "Timeline must be private before deletion")
	case errors.Is(err, apperrors.ErrConflict):
		h.writeError(w, http.StatusConflict, "conflict", "Concurrent modification, retry the request")
	case errors.Is(err, apperrors.ErrGenerationFailed):
		h.writeError(w, http.StatusBadGateway, "generation_failed", "Timeline generation failed")
	default:
		h.writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (h *TimelineHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
