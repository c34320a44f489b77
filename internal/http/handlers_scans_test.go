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
	"github.com/pagetally/pagetally/internal/service"
)

func startCapture(t *testing.T, s *testServices) (*model.Page, *model.Scan) {
	t.Helper()
	page := s.pageRepo.add(&model.Page{
		Name:    "checkout",
		URL:     "https://shop.example.com/checkout",
		Enabled: true,
	})
	scan, _, err := s.scans.StartCapture(context.Background(), page.ID)
	require.NoError(t, err)
	return page, scan
}

func ingestBody(t *testing.T, batchSeq int, entries ...string) *bytes.Buffer {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		raw = append(raw, json.RawMessage(e))
	}
	body, err := json.Marshal(model.IngestBatchRequest{BatchSeq: batchSeq, Entries: raw})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestScanHandlers_IngestAndComplete(t *testing.T) {
	s := newTestServices(t)
	_, scan := startCapture(t, s)
	h := &ScanHandlers{Svc: s.scans, Audits: s.audits}

	body := ingestBody(t, 0,
		`{"request":{"url":"https://shop.example.com/checkout"},"type":"Document","status":200,"transferSize":4096,"mimeType":"text/html"}`,
		`{"request":{"url":"https://cdn.example.com/app.js"},"type":"Script","status":200,"transferSize":2048,"mimeType":"application/javascript"}`,
	)
	req := httptest.NewRequest(http.MethodPost, "/api/scans/"+scan.ID+"/requests", body)
	req.SetPathValue("id", scan.ID)
	rec := httptest.NewRecorder()
	h.IngestBatch(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result service.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Accepted)
	assert.False(t, result.Duplicate)

	req = httptest.NewRequest(http.MethodPost, "/api/scans/"+scan.ID+"/complete",
		bytes.NewBufferString(`{"final_url":"https://shop.example.com/checkout/start"}`))
	req.SetPathValue("id", scan.ID)
	rec = httptest.NewRecorder()
	h.Complete(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var completed model.Scan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	assert.Equal(t, model.ScanStatusCompleted, completed.Status)
	assert.Equal(t, 2, completed.RequestCount)
	assert.Equal(t, int64(4096+2048), completed.TotalBytes)

	// Completion queues the audit.
	stats, err := s.jobRepo.Stats(context.Background(), model.JobTypeAudit)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)

	// The scan is finished; further batches are refused.
	req = httptest.NewRequest(http.MethodPost, "/api/scans/"+scan.ID+"/requests",
		ingestBody(t, 1, `{"request":{"url":"https://late.example.com/x.png"},"type":"Image"}`))
	req.SetPathValue("id", scan.ID)
	rec = httptest.NewRecorder()
	h.IngestBatch(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScanHandlers_IngestBatch_ScanNotFound(t *testing.T) {
	s := newTestServices(t)
	h := &ScanHandlers{Svc: s.scans, Audits: s.audits}

	req := httptest.NewRequest(http.MethodPost, "/api/scans/missing/requests",
		ingestBody(t, 0, `{"request":{"url":"https://example.com"}}`))
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	h.IngestBatch(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanHandlers_List_InvalidStatus(t *testing.T) {
	s := newTestServices(t)
	h := &ScanHandlers{Svc: s.scans, Audits: s.audits}

	req := httptest.NewRequest(http.MethodGet, "/api/scans?status=bogus", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_status")
}

func TestScanHandlers_Fail(t *testing.T) {
	s := newTestServices(t)
	_, scan := startCapture(t, s)
	h := &ScanHandlers{Svc: s.scans, Audits: s.audits}

	req := httptest.NewRequest(http.MethodPost, "/api/scans/"+scan.ID+"/fail",
		bytes.NewBufferString(`{"error":"navigation timeout"}`))
	req.SetPathValue("id", scan.ID)
	rec := httptest.NewRecorder()
	h.Fail(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	stored, err := s.scanRepo.GetByID(context.Background(), scan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusFailed, stored.Status)
}

func TestScanHandlers_Report_NotFound(t *testing.T) {
	s := newTestServices(t)
	_, scan := startCapture(t, s)
	h := &ScanHandlers{Svc: s.scans, Audits: s.audits}

	req := httptest.NewRequest(http.MethodGet, "/api/scans/"+scan.ID+"/report", nil)
	req.SetPathValue("id", scan.ID)
	rec := httptest.NewRecorder()
	h.Report(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

const importHAR = `{
  "log": {
    "version": "1.2",
    "creator": {"name": "browser", "version": "1.0"},
    "entries": [
      {
        "request": {"url": "https://shop.example.com/checkout"},
        "response": {
          "status": 200,
          "content": {"size": 4096, "mimeType": "text/html"},
          "bodySize": 4096,
          "headersSize": 200,
          "_transferSize": 4296
        },
        "_resourceType": "document"
      },
      {
        "request": {"url": "https://cdn.example.com/app.js"},
        "response": {
          "status": 200,
          "content": {"size": 2048, "mimeType": "application/javascript"},
          "bodySize": 2048,
          "headersSize": 150,
          "_transferSize": 2198
        }
      }
    ]
  }
}`

func TestScanHandlers_Import(t *testing.T) {
	s := newTestServices(t)
	page := s.pageRepo.add(&model.Page{
		Name:    "checkout",
		URL:     "https://shop.example.com/checkout",
		Enabled: true,
	})
	h := &ScanHandlers{Svc: s.scans, Audits: s.audits}

	req := httptest.NewRequest(http.MethodPost, "/api/scans/import?page_id="+page.ID,
		bytes.NewBufferString(importHAR))
	rec := httptest.NewRecorder()
	h.Import(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Scan    model.Scan       `json:"scan"`
		Report  model.ScanReport `json:"report"`
		Skipped int              `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.ScanStatusCompleted, resp.Scan.Status)
	assert.Equal(t, 2, resp.Scan.RequestCount)
	assert.Equal(t, 0, resp.Skipped)
	assert.Equal(t, resp.Scan.ID, resp.Report.ScanID)
	assert.Equal(t, 2, resp.Report.RequestCount)
}

func TestScanHandlers_Import_MissingPageID(t *testing.T) {
	s := newTestServices(t)
	h := &ScanHandlers{Svc: s.scans, Audits: s.audits}

	req := httptest.NewRequest(http.MethodPost, "/api/scans/import",
		bytes.NewBufferString(importHAR))
	rec := httptest.NewRecorder()
	h.Import(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanHandlers_Import_UnknownPage(t *testing.T) {
	s := newTestServices(t)
	h := &ScanHandlers{Svc: s.scans, Audits: s.audits}

	req := httptest.NewRequest(http.MethodPost, "/api/scans/import?page_id=missing",
		bytes.NewBufferString(importHAR))
	rec := httptest.NewRecorder()
	h.Import(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
