// Package httpx provides HTTP handlers and utilities for the pagetally service API.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pagetally/pagetally/internal/data"
	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/service"
)

// JobHandlers provides HTTP handlers for the job queue: collectors reserve
// and settle capture work here, and audit/notify runners could use the same
// surface remotely.
type JobHandlers struct {
	Svc    *service.JobService
	Scans  *service.ScanService
	Logger *slog.Logger
}

func (h *JobHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// CreateJob handles HTTP requests to create a new job.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "create_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

const (
	defaultLeaseSeconds = 30
)

// ReserveNext handles HTTP requests to reserve the next available job.
// POST /api/jobs/reserve?type=capture&lease=30&wait=20.
// Capture jobs enqueued by the scheduler carry no scan; one is provisioned
// here so the collector always receives a scan ID to upload against.
func (h *JobHandlers) ReserveNext(w http.ResponseWriter, r *http.Request) {
	jobType := model.JobType(r.URL.Query().Get("type"))
	if !jobType.Valid() {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_job_type", Err: errors.New("valid job type is required")},
		)
		return
	}
	lease := parseIntQuery(r, "lease", defaultLeaseSeconds)
	wait := parseIntQuery(r, "wait", 0)

	// First attempt
	if job, err := h.tryReserveJob(r.Context(), jobType, lease); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "reserve_failed", Err: err})
		return
	} else if job != nil {
		WriteJSON(w, http.StatusOK, job)
		return
	}

	if wait <= 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.handleLongPoll(w, r, longPollParams{
		jobType: jobType,
		lease:   lease,
		wait:    wait,
	})
}

func (h *JobHandlers) tryReserveJob(
	ctx context.Context,
	jobType model.JobType,
	lease int,
) (*model.Job, error) {
	job, err := h.Svc.ReserveNext(ctx, jobType, time.Duration(lease)*time.Second)
	if err != nil && !errors.Is(err, model.ErrNoJobsAvailable) {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	return h.prepareCaptureJob(ctx, job)
}

// prepareCaptureJob provisions a scan for scheduler-enqueued capture jobs and
// flips the scan to running so stale captures are visible.
func (h *JobHandlers) prepareCaptureJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	if job.Type != model.JobTypeCapture || h.Scans == nil {
		return job, nil
	}

	job, err := h.Scans.EnsureScanForJob(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload model.CaptureJobPayload
	if decodeErr := json.Unmarshal(job.Payload, &payload); decodeErr == nil && payload.ScanID != "" {
		if _, runErr := h.Scans.MarkRunning(ctx, payload.ScanID); runErr != nil {
			// The scan may already be running from an earlier lease; the
			// collector proceeds either way.
			h.logger().WarnContext(ctx, "failed to mark scan running on reserve",
				"job_id", job.ID, "scan_id", payload.ScanID, "error", runErr)
		}
	}
	return job, nil
}

type longPollParams struct {
	jobType model.JobType
	lease   int
	wait    int
}

func (h *JobHandlers) handleLongPoll(w http.ResponseWriter, r *http.Request, params longPollParams) {
	dur := time.Duration(params.wait) * time.Second
	if dur <= 0 {
		dur = time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), dur)
	defer cancel()

	unsub, ch := h.Svc.Subscribe(params.jobType)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			w.WriteHeader(http.StatusNoContent)
			return
		case <-ch:
			if job, err := h.tryReserveJob(ctx, params.jobType, params.lease); err != nil {
				WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "reserve_failed", Err: err})
				return
			} else if job != nil {
				WriteJSON(w, http.StatusOK, job)
				return
			}
			// No job yet; keep waiting until ctx timeout to handle missed/duplicate signals.
		}
	}
}

// Heartbeat handles HTTP requests to extend a job lease.
func (h *JobHandlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}
	extend := parseIntQuery(r, "extend", defaultLeaseSeconds)

	success, err := h.Svc.Heartbeat(r.Context(), jobID, time.Duration(extend)*time.Second)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "heartbeat_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": success})
}

// Complete handles HTTP requests to mark a job as completed.
func (h *JobHandlers) Complete(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	success, err := h.Svc.Complete(r.Context(), jobID)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "complete_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": success})
}

// Fail handles HTTP requests to mark a job as failed with an error message.
func (h *JobHandlers) Fail(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	var body struct {
		Error string `json:"error"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	success, err := h.Svc.Fail(r.Context(), jobID, body.Error)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "fail_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": success})
}

// Stats handles HTTP requests to retrieve queue stats.
// GET /api/jobs/stats?type=capture returns one type; without the parameter
// all queue types are returned keyed by type.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("type"); raw != "" {
		jobType := model.JobType(raw)
		if !jobType.Valid() {
			WriteError(
				w,
				ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_job_type", Err: errors.New("unknown job type")},
			)
			return
		}
		stats, err := h.Svc.Stats(r.Context(), jobType)
		if err != nil {
			WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: err})
			return
		}
		WriteJSON(w, http.StatusOK, stats)
		return
	}

	all := make(map[model.JobType]*model.JobStats, 3)
	for _, jobType := range []model.JobType{model.JobTypeCapture, model.JobTypeAudit, model.JobTypeNotify} {
		stats, err := h.Svc.Stats(r.Context(), jobType)
		if err != nil {
			WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: err})
			return
		}
		all[jobType] = stats
	}
	WriteJSON(w, http.StatusOK, all)
}

// GetStatus handles HTTP requests to retrieve the status of a specific job.
func (h *JobHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	status, err := h.Svc.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			WriteError(
				w,
				ErrorParams{Code: http.StatusNotFound, ErrCode: "job_not_found", Err: errors.New("job not found")},
			)
		} else {
			WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_status_failed", Err: errors.New("failed to get job status")})
		}
		return
	}
	WriteJSON(w, http.StatusOK, status)
}
