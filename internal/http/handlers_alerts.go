package httpx

import (
	"errors"
	"net/http"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/service"
)

// AlertHandlers provides HTTP handlers for overage alerts.
type AlertHandlers struct {
	Svc *service.AlertService
}

const (
	defaultAlertsLimit = 50
	maxAlertsLimit     = 200
)

// List handles GET /api/alerts with optional page_id, severity and
// unresolved filters. Results carry page names for display.
func (h *AlertHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultAlertsLimit, maxAlertsLimit)
	opts := &model.AlertListOptions{
		Limit:  limit,
		Offset: offset,
		Sort:   r.URL.Query().Get("sort"),
		Dir:    r.URL.Query().Get("dir"),
	}
	if pageID := r.URL.Query().Get("page_id"); pageID != "" {
		opts.PageID = &pageID
	}
	if raw := r.URL.Query().Get("severity"); raw != "" {
		if !model.AlertSeverity(raw).Valid() {
			WriteError(
				w,
				ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_severity", Err: errors.New("unknown severity")},
			)
			return
		}
		opts.Severity = &raw
	}
	if r.URL.Query().Get("unresolved") == "true" {
		opts.Unresolved = true
	}

	result, err := h.Svc.ListWithPageNamesAndCount(r.Context(), opts)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"alerts": result.Alerts,
		"total":  result.Total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get handles GET /api/alerts/{id}.
func (h *AlertHandlers) Get(w http.ResponseWriter, r *http.Request) {
	alert, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, alert)
}

// Stats handles GET /api/alerts/stats with an optional page_id filter.
func (h *AlertHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	var pageID *string
	if raw := r.URL.Query().Get("page_id"); raw != "" {
		pageID = &raw
	}

	stats, err := h.Svc.Stats(r.Context(), pageID)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// Resolve handles POST /api/alerts/{id}/resolve. The resolving user is taken
// from the authenticated session.
func (h *AlertHandlers) Resolve(w http.ResponseWriter, r *http.Request) {
	resolvedBy := "unknown"
	if session, ok := GetUserSessionFromContext(r.Context()); ok && session.Email != "" {
		resolvedBy = session.Email
	}

	alert, err := h.Svc.Resolve(r.Context(), core.ResolveAlertParams{
		ID:         r.PathValue("id"),
		ResolvedBy: resolvedBy,
	})
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "resolve_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, alert)
}

// Delete handles DELETE /api/alerts/{id}.
func (h *AlertHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.Svc.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "delete_failed", Err: err})
		return
	}
	if !deleted {
		WriteError(
			w,
			ErrorParams{Code: http.StatusNotFound, ErrCode: "alert_not_found", Err: errors.New("alert not found")},
		)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
