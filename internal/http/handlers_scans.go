package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/service"
)

// ScanHandlers provides HTTP handlers for scans: listing for operators,
// batch ingest and finalization for collectors, and HAR import.
type ScanHandlers struct {
	Svc    *service.ScanService
	Audits *service.AuditService
}

const (
	defaultScansLimit = 50
	maxScansLimit     = 200

	// maxHARImportBytes bounds an uploaded HAR document. Exported captures of
	// heavy pages run tens of megabytes once response bodies are included.
	maxHARImportBytes = 64 << 20
)

// List handles GET /api/scans with optional page_id and status filters.
func (h *ScanHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultScansLimit, maxScansLimit)
	opts := model.ScanListOptions{Limit: limit, Offset: offset}

	if pageID := r.URL.Query().Get("page_id"); pageID != "" {
		opts.PageID = &pageID
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := model.ScanStatus(raw)
		if !status.Valid() {
			WriteError(
				w,
				ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_status", Err: errors.New("unknown scan status")},
			)
			return
		}
		opts.Status = &status
	}

	scans, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"scans":  scans,
		"limit":  limit,
		"offset": offset,
	})
}

// Get handles GET /api/scans/{id}.
func (h *ScanHandlers) Get(w http.ResponseWriter, r *http.Request) {
	scan, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, scan)
}

// IngestBatch handles POST /api/scans/{id}/requests. Collectors upload
// network log entries in numbered batches; a replayed batch is acknowledged
// without being stored so retries stay idempotent.
func (h *ScanHandlers) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var req model.IngestBatchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.Svc.IngestBatch(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "ingest_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Complete handles POST /api/scans/{id}/complete. Finalizing a scan enqueues
// its audit job.
func (h *ScanHandlers) Complete(w http.ResponseWriter, r *http.Request) {
	var req model.CompleteScanRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	scan, err := h.Svc.Complete(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "complete_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, scan)
}

// Fail handles POST /api/scans/{id}/fail for collectors aborting a capture.
func (h *ScanHandlers) Fail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Error string `json:"error"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	scan, err := h.Svc.Fail(r.Context(), r.PathValue("id"), body.Error)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "fail_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, scan)
}

// Report handles GET /api/scans/{id}/report.
func (h *ScanHandlers) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.Audits.ReportForScan(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "report_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// Import handles POST /api/scans/import?page_id=. The body is a raw HAR 1.2
// document; the resulting scan is audited synchronously so the caller gets
// the report in the same response.
func (h *ScanHandlers) Import(w http.ResponseWriter, r *http.Request) {
	pageID := r.URL.Query().Get("page_id")
	if pageID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_request", Err: errors.New("page_id is required")},
		)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxHARImportBytes))
	if err != nil {
		WriteError(
			w,
			ErrorParams{Code: http.StatusRequestEntityTooLarge, ErrCode: "body_too_large", Err: errors.New("har document too large")},
		)
		return
	}

	imported, err := h.Svc.ImportHAR(r.Context(), service.ImportHARParams{PageID: pageID, Data: body})
	if err != nil {
		// Unclassified failures here are almost always malformed documents.
		WriteMappedError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "import_failed", Err: err})
		return
	}

	report, err := h.Audits.AuditNow(r.Context(), imported.Scan.ID)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "audit_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"scan":    imported.Scan,
		"report":  report,
		"skipped": imported.Skipped,
	})
}
