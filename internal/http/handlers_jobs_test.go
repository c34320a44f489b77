package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagetally/pagetally/internal/domain/model"
)

func enqueueBareCaptureJob(t *testing.T, s *testServices, pageID, url string) *model.Job {
	t.Helper()
	payload, err := json.Marshal(model.CaptureJobPayload{PageID: pageID, URL: url})
	require.NoError(t, err)
	job, err := s.jobRepo.Create(context.Background(), &model.CreateJobRequest{
		Type:    model.JobTypeCapture,
		Payload: payload,
		PageID:  &pageID,
	})
	require.NoError(t, err)
	return job
}

func TestJobHandlers_ReserveNext_ProvisionsScan(t *testing.T) {
	s := newTestServices(t)
	page := s.pageRepo.add(&model.Page{
		Name:    "checkout",
		URL:     "https://shop.example.com/checkout",
		Enabled: true,
	})
	enqueueBareCaptureJob(t, s, page.ID, page.URL)

	h := &JobHandlers{Svc: s.jobs, Scans: s.scans}
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/reserve?type=capture", nil)
	rec := httptest.NewRecorder()
	h.ReserveNext(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, model.JobTypeCapture, job.Type)

	var payload model.CaptureJobPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	require.NotEmpty(t, payload.ScanID, "reserved capture job should carry a scan")
	assert.Equal(t, page.ID, payload.PageID)

	scan, err := s.scanRepo.GetByID(context.Background(), payload.ScanID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusRunning, scan.Status)
}

func TestJobHandlers_ReserveNext_NoJobs(t *testing.T) {
	s := newTestServices(t)
	h := &JobHandlers{Svc: s.jobs, Scans: s.scans}

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/reserve?type=capture", nil)
	rec := httptest.NewRecorder()
	h.ReserveNext(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestJobHandlers_ReserveNext_InvalidType(t *testing.T) {
	s := newTestServices(t)
	h := &JobHandlers{Svc: s.jobs, Scans: s.scans}

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/reserve?type=bogus", nil)
	rec := httptest.NewRecorder()
	h.ReserveNext(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_job_type")
}

func TestJobHandlers_HeartbeatCompleteFail(t *testing.T) {
	s := newTestServices(t)
	page := s.pageRepo.add(&model.Page{Name: "home", URL: "https://example.com", Enabled: true})
	job := enqueueBareCaptureJob(t, s, page.ID, page.URL)
	_, err := s.jobRepo.ReserveNext(context.Background(), model.JobTypeCapture, 30)
	require.NoError(t, err)

	h := &JobHandlers{Svc: s.jobs, Scans: s.scans}

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/heartbeat?extend=60", nil)
	req.SetPathValue("id", job.ID)
	rec := httptest.NewRecorder()
	h.Heartbeat(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/complete", nil)
	req.SetPathValue("id", job.ID)
	rec = httptest.NewRecorder()
	h.Complete(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	// Completing again is a no-op.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/complete", nil)
	req.SetPathValue("id", job.ID)
	h.Complete(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":false}`, rec.Body.String())
}

func TestJobHandlers_Fail(t *testing.T) {
	s := newTestServices(t)
	page := s.pageRepo.add(&model.Page{Name: "home", URL: "https://example.com", Enabled: true})
	job := enqueueBareCaptureJob(t, s, page.ID, page.URL)
	_, err := s.jobRepo.ReserveNext(context.Background(), model.JobTypeCapture, 30)
	require.NoError(t, err)

	h := &JobHandlers{Svc: s.jobs, Scans: s.scans}
	body := bytes.NewBufferString(`{"error":"browser crashed"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/fail", body)
	req.SetPathValue("id", job.ID)
	rec := httptest.NewRecorder()
	h.Fail(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	stored, err := s.jobRepo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "browser crashed", *stored.LastError)
}

func TestJobHandlers_Stats_AllTypes(t *testing.T) {
	s := newTestServices(t)
	page := s.pageRepo.add(&model.Page{Name: "home", URL: "https://example.com", Enabled: true})
	enqueueBareCaptureJob(t, s, page.ID, page.URL)

	h := &JobHandlers{Svc: s.jobs, Scans: s.scans}
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/stats", nil)
	rec := httptest.NewRecorder()
	h.Stats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[model.JobType]*model.JobStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 3)
	assert.Equal(t, 1, stats[model.JobTypeCapture].Pending)
	assert.Equal(t, 0, stats[model.JobTypeAudit].Pending)
}

func TestJobHandlers_GetStatus_NotFound(t *testing.T) {
	s := newTestServices(t)
	h := &JobHandlers{Svc: s.jobs, Scans: s.scans}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	h.GetStatus(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "job_not_found")
}
