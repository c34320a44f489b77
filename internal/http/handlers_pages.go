package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/service"
)

// PageHandlers provides HTTP handlers for monitored pages.
type PageHandlers struct {
	Svc    *service.PageService
	Scans  *service.ScanService
	Audits *service.AuditService
}

const (
	defaultPagesLimit = 50
	maxPagesLimit     = 200
)

// Create handles POST /api/pages.
func (h *PageHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePageRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	page, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "create_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusCreated, page)
}

// Get handles GET /api/pages/{id}.
func (h *PageHandlers) Get(w http.ResponseWriter, r *http.Request) {
	page, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// List handles GET /api/pages with optional q and enabled filters.
func (h *PageHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultPagesLimit, maxPagesLimit)
	opts := model.PagesListOptions{
		Limit:  limit,
		Offset: offset,
		Sort:   r.URL.Query().Get("sort"),
		Dir:    r.URL.Query().Get("dir"),
	}
	if q := r.URL.Query().Get("q"); q != "" {
		opts.Q = &q
	}
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			WriteError(
				w,
				ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_request", Err: errors.New("enabled must be a boolean")},
			)
			return
		}
		opts.Enabled = &enabled
	}

	pages, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"pages":  pages,
		"limit":  limit,
		"offset": offset,
	})
}

// Update handles PATCH /api/pages/{id}.
func (h *PageHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdatePageRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	page, err := h.Svc.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "update_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// Delete handles DELETE /api/pages/{id}.
func (h *PageHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.Svc.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "delete_failed", Err: err})
		return
	}
	if !deleted {
		WriteError(
			w,
			ErrorParams{Code: http.StatusNotFound, ErrCode: "page_not_found", Err: errors.New("page not found")},
		)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Capture handles POST /api/pages/{id}/capture: an on-demand capture outside
// the page's schedule.
func (h *PageHandlers) Capture(w http.ResponseWriter, r *http.Request) {
	scan, job, err := h.Scans.StartCapture(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "capture_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"scan": scan,
		"job":  job,
	})
}

// Report handles GET /api/pages/{id}/report: the latest audit report for the
// page's most recent completed scan.
func (h *PageHandlers) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.Audits.LatestReportForPage(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "report_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
