// Package workflowtest provides end-to-end capture workflow testing utilities
// for the pagetally service.
package workflowtest

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/service"
	"github.com/pagetally/pagetally/internal/testutil"
)

// RepositoryProvider is a simple interface for providing repositories.
// This avoids import cycles by letting callers provide their own implementations.
type RepositoryProvider interface {
	JobRepository() core.JobRepository
	ScanRepository() core.ScanRepository
	RequestRecordRepository() core.RequestRecordRepository
	PageRepository() core.PageRepository
}

// CacheProvider provides a cache repository given a Redis client created by the harness.
type CacheProvider interface {
	CacheRepository(client *redis.Client) core.CacheRepository
}

// WorkflowTestHarness provides utilities for end-to-end capture workflow testing:
// a capture job is created for a page, reserved, request batches are ingested,
// and the scan is completed which enqueues the audit job.
//
//nolint:revive // WorkflowTestHarness is intentionally verbose for clarity in test code.
type WorkflowTestHarness struct {
	t  testutil.TestingTB
	db *sql.DB
	ts *httptest.Server

	// Repositories (using interfaces to avoid import cycles)
	JobRepo    core.JobRepository
	ScanRepo   core.ScanRepository
	RecordRepo core.RequestRecordRepository
	PageRepo   core.PageRepository

	// Services
	JobSvc  *service.JobService
	ScanSvc *service.ScanService

	// Optional Redis components
	RedisAddr   string
	RedisClient *redis.Client
	CacheRepo   core.CacheRepository
}

// WorkflowTestOptions configures the workflow test harness.
//
//nolint:revive // WorkflowTestOptions is intentionally verbose for clarity in test code.
type WorkflowTestOptions struct {
	// EnableRedis enables Redis-based batch dedupe components
	EnableRedis bool
	// RedisAddr overrides the default Redis test address
	RedisAddr string
	// JobLease sets the default job lease duration
	JobLease time.Duration
	// BatchDedupeTTL sets the capture batch replay marker TTL
	BatchDedupeTTL time.Duration
	// RepositoryProvider provides repositories (required to avoid import cycles)
	RepositoryProvider RepositoryProvider
	// CacheProvider provides cache repository (optional, only used if EnableRedis is true)
	CacheProvider CacheProvider
}

// NewWorkflowTestHarness creates a new workflow test harness with all components wired up.
func NewWorkflowTestHarness(t testutil.TestingTB, db *sql.DB, opts WorkflowTestOptions) *WorkflowTestHarness {
	t.Helper()

	// Set defaults
	if opts.JobLease == 0 {
		opts.JobLease = 30 * time.Second
	}
	if opts.BatchDedupeTTL == 0 {
		opts.BatchDedupeTTL = time.Hour
	}
	if opts.RepositoryProvider == nil {
		t.Fatalf("RepositoryProvider is required to avoid import cycles")
	}

	h := &WorkflowTestHarness{
		t:  t,
		db: db,
	}

	// Wire repositories using provider
	h.JobRepo = opts.RepositoryProvider.JobRepository()
	h.ScanRepo = opts.RepositoryProvider.ScanRepository()
	h.RecordRepo = opts.RepositoryProvider.RequestRecordRepository()
	h.PageRepo = opts.RepositoryProvider.PageRepository()

	// Setup Redis components first so the scan service can use the cache
	if opts.EnableRedis {
		h.setupRedis(opts.RedisAddr, opts.CacheProvider)
	}

	// Wire services
	h.JobSvc = service.MustNewJobService(service.JobServiceOptions{
		Repo:         h.JobRepo,
		DefaultLease: opts.JobLease,
	})
	scanConfig := service.DefaultScanServiceConfig()
	scanConfig.BatchDedupeTTL = opts.BatchDedupeTTL
	h.ScanSvc = service.MustNewScanService(service.ScanServiceOptions{
		Scans:   h.ScanRepo,
		Records: h.RecordRepo,
		Deps: service.ScanServiceDeps{
			Jobs:   h.JobRepo,
			Pages:  h.PageRepo,
			Cache:  h.CacheRepo,
			Config: scanConfig,
		},
	})

	// Create HTTP test server
	h.setupHTTPServer()

	return h
}

// setupRedis initializes Redis components for batch dedupe.
func (h *WorkflowTestHarness) setupRedis(addr string, cacheProvider CacheProvider) {
	h.t.Helper()

	if cacheProvider == nil {
		h.t.Fatalf("CacheProvider is required when EnableRedis is true")
	}

	if addr == "" {
		client := testutil.SetupTestRedis(h.t)
		h.initRedisClient(client, addr, cacheProvider)
		return
	}

	// Use specific address for custom setups
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		h.t.Logf("redis not available at %s: %v", addr, err)
		if closeErr := client.Close(); closeErr != nil {
			h.t.Logf("warning: failed to close redis client: %v", closeErr)
		}
		h.t.Skip("redis test instance unavailable; run docker-compose profile 'test'")
		return
	}

	h.initRedisClient(client, addr, cacheProvider)
}

func (h *WorkflowTestHarness) initRedisClient(client *redis.Client, addr string, cacheProvider CacheProvider) {
	h.RedisAddr = addr
	h.RedisClient = client
	h.CacheRepo = cacheProvider.CacheRepository(client)
}

// setupHTTPServer creates and starts the HTTP test server.
func (h *WorkflowTestHarness) setupHTTPServer() {
	h.t.Helper()

	// Create a basic HTTP router for testing
	// We avoid importing the http package to prevent import cycles
	mux := h.createTestRouter()
	h.ts = httptest.NewServer(mux)
}

// createTestRouter creates a basic HTTP router for testing without importing the http package.
func (h *WorkflowTestHarness) createTestRouter() *http.ServeMux {
	mux := http.NewServeMux()

	// Job endpoints - basic implementation for testing
	mux.HandleFunc("POST /api/jobs", h.handleCreateJob)
	mux.HandleFunc("GET /api/jobs/{type}/reserve_next", h.handleReserveNext)
	mux.HandleFunc("POST /api/jobs/{id}/complete", h.handleCompleteJob)
	mux.HandleFunc("POST /api/jobs/{id}/fail", h.handleFailJob)
	mux.HandleFunc("POST /api/jobs/{id}/heartbeat", h.handleHeartbeat)

	// Scan endpoints
	mux.HandleFunc("POST /api/scans/{id}/records", h.handleIngestBatch)
	mux.HandleFunc("POST /api/scans/{id}/complete", h.handleCompleteScan)

	return mux
}

// HTTP handler implementations for testing.
func (h *WorkflowTestHarness) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req *model.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	job, err := h.JobSvc.Create(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if encodeErr := json.NewEncoder(w).Encode(job); encodeErr != nil {
		h.t.Fatalf("encode job response: %v", encodeErr)
	}
}

//nolint:gocognit,nestif // test handler keeps polling logic inline for readability in test harness
func (h *WorkflowTestHarness) handleReserveNext(w http.ResponseWriter, r *http.Request) {
	jobType := model.JobType(r.PathValue("type"))
	lease, wait := parseLeaseAndWait(r)

	ctx := r.Context()
	deadline := time.Now().Add(time.Duration(wait) * time.Second)
	poll := 100 * time.Millisecond
	maxPoll := 1 * time.Second
	for {
		job, err := h.JobSvc.ReserveNext(ctx, jobType, time.Duration(lease)*time.Second)
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			if encodeErr := json.NewEncoder(w).Encode(job); encodeErr != nil {
				h.t.Fatalf("encode reserved job response: %v", encodeErr)
			}
			return
		}
		if errors.Is(err, model.ErrNoJobsAvailable) {
			if wait > 0 && time.Now().Before(deadline) {
				// Exponential backoff with jitter up to ±20%
				jitter := time.Duration(0)
				if limit := int64(poll / 5); limit > 0 {
					n, randErr := rand.Int(rand.Reader, big.NewInt(limit))
					if randErr != nil {
						h.t.Fatalf("generate jitter: %v", randErr)
					}
					jitter = time.Duration(n.Int64())
				}
				sleep := poll + jitter
				// Cap sleep to remaining time
				if rem := time.Until(deadline); sleep > rem {
					sleep = rem
				}
				select {
				case <-time.After(sleep):
					// increase poll for next iteration
					if poll < maxPoll {
						poll *= 2
						if poll > maxPoll {
							poll = maxPoll
						}
					}
					continue
				case <-ctx.Done():
					// Client cancelled request
					w.WriteHeader(499)
					if _, writeErr := w.Write([]byte("client closed request")); writeErr != nil {
						h.t.Logf("failed to write client closed response: %v", writeErr)
					}
					return
				}
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
}

func parseLeaseAndWait(r *http.Request) (int, int) {
	lease := 30
	wait := 0
	if leaseStr := r.URL.Query().Get("lease"); leaseStr != "" {
		if v, err := strconv.Atoi(leaseStr); err == nil {
			lease = v
		}
	}
	if waitStr := r.URL.Query().Get("wait"); waitStr != "" {
		if v, err := strconv.Atoi(waitStr); err == nil {
			wait = v
		}
	}
	return lease, wait
}

func (h *WorkflowTestHarness) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	_, err := h.JobSvc.Complete(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WorkflowTestHarness) handleFailJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	var req struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	_, err := h.JobSvc.Fail(r.Context(), jobID, req.Error)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WorkflowTestHarness) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	var req struct {
		LeaseSeconds int `json:"lease_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	_, err := h.JobSvc.Heartbeat(r.Context(), jobID, time.Duration(req.LeaseSeconds)*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WorkflowTestHarness) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	scanID := r.PathValue("id")
	var req model.IngestBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	result, err := h.ScanSvc.IngestBatch(r.Context(), scanID, &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if encodeErr := json.NewEncoder(w).Encode(result); encodeErr != nil {
		h.t.Fatalf("encode ingest response: %v", encodeErr)
	}
}

func (h *WorkflowTestHarness) handleCompleteScan(w http.ResponseWriter, r *http.Request) {
	scanID := r.PathValue("id")
	var req model.CompleteScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	scan, err := h.ScanSvc.Complete(r.Context(), scanID, &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if encodeErr := json.NewEncoder(w).Encode(scan); encodeErr != nil {
		h.t.Fatalf("encode complete scan response: %v", encodeErr)
	}
}

// Close cleans up all resources.
func (h *WorkflowTestHarness) Close() {
	h.t.Helper()

	if h.ts != nil {
		h.ts.Close()
	}
	if h.RedisClient != nil {
		if err := h.RedisClient.Close(); err != nil {
			h.t.Logf("warning: failed to close redis client: %v", err)
		}
	}
}

// BaseURL returns the base URL of the test HTTP server.
func (h *WorkflowTestHarness) BaseURL() string {
	return h.ts.URL
}

// HTTPClient provides utilities for making HTTP requests to the test server.
type HTTPClient struct {
	t       testutil.TestingTB
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new HTTP client for testing.
func (h *WorkflowTestHarness) NewHTTPClient() *HTTPClient {
	return &HTTPClient{
		t:       h.t,
		baseURL: h.BaseURL(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// DoJSON creates a request with context and performs it using the harness client.
func (c *HTTPClient) DoJSON(method, path string, payload any) *http.Response {
	c.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

// CreateJob creates a job via HTTP API and returns the created job.
func (c *HTTPClient) CreateJob(req *model.CreateJobRequest) model.Job {
	c.t.Helper()

	resp := c.DoJSON(http.MethodPost, "/api/jobs", req)
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.t.Logf("warning: failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("create job status: %d", resp.StatusCode)
	}

	var job model.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		c.t.Fatalf("decode create job: %v", err)
	}
	return job
}

// ReserveNextJob reserves the next available job of the specified type.
func (c *HTTPClient) ReserveNextJob(jobType model.JobType, leaseSec, waitSec int) model.Job {
	c.t.Helper()

	path := fmt.Sprintf("/api/jobs/%s/reserve_next?lease=%d&wait=%d", jobType, leaseSec, waitSec)
	resp := c.DoJSON(http.MethodGet, path, nil)
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.t.Logf("warning: failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("reserve_next status: %d", resp.StatusCode)
	}

	var job model.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		c.t.Fatalf("decode reserved job: %v", err)
	}
	return job
}

// PostRecords uploads one capture batch for a scan via HTTP API.
func (c *HTTPClient) PostRecords(scanID string, batch model.IngestBatchRequest) {
	c.t.Helper()

	path := fmt.Sprintf("/api/scans/%s/records", scanID)
	resp := c.DoJSON(http.MethodPost, path, batch)
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.t.Logf("warning: failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.t.Fatalf("post records status: %d, failed to read response: %v", resp.StatusCode, err)
		}
		c.t.Fatalf("post records status: %d, response: %s", resp.StatusCode, string(body))
	}
}

// CompleteScan finalizes a scan via HTTP API.
func (c *HTTPClient) CompleteScan(scanID, finalURL string) model.Scan {
	c.t.Helper()

	path := fmt.Sprintf("/api/scans/%s/complete", scanID)
	payload := model.CompleteScanRequest{FinalURL: finalURL}
	resp := c.DoJSON(http.MethodPost, path, payload)
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.t.Logf("warning: failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.t.Fatalf("complete scan status: %d, failed to read response: %v", resp.StatusCode, err)
		}
		c.t.Fatalf("complete scan status: %d, response: %s", resp.StatusCode, string(body))
	}

	var scan model.Scan
	if err := json.NewDecoder(resp.Body).Decode(&scan); err != nil {
		c.t.Fatalf("decode completed scan: %v", err)
	}
	return scan
}

// CompleteJob marks a job as completed via HTTP API.
func (c *HTTPClient) CompleteJob(jobID string) {
	c.t.Helper()

	path := fmt.Sprintf("/api/jobs/%s/complete", jobID)
	resp := c.DoJSON(http.MethodPost, path, nil)
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.t.Logf("warning: failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("complete job status: %d", resp.StatusCode)
	}
}

// FailJob marks a job as failed via HTTP API.
func (c *HTTPClient) FailJob(jobID, errorMsg string) {
	c.t.Helper()

	path := fmt.Sprintf("/api/jobs/%s/fail", jobID)
	payload := struct {
		Error string `json:"error"`
	}{
		Error: errorMsg,
	}
	resp := c.DoJSON(http.MethodPost, path, payload)
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.t.Logf("warning: failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.t.Fatalf("fail job status: %d, failed to read response: %v", resp.StatusCode, err)
		}
		c.t.Fatalf("fail job status: %d, response: %s", resp.StatusCode, string(body))
	}
}

// HeartbeatJob sends a heartbeat for a job via HTTP API.
func (c *HTTPClient) HeartbeatJob(jobID string, leaseSeconds int) {
	c.t.Helper()

	path := fmt.Sprintf("/api/jobs/%s/heartbeat", jobID)
	payload := map[string]int{"lease_seconds": leaseSeconds}
	resp := c.DoJSON(http.MethodPost, path, payload)
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.t.Logf("warning: failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("heartbeat job status: %d", resp.StatusCode)
	}
}

// WorkflowHelpers provides high-level workflow testing utilities.
type WorkflowHelpers struct {
	harness *WorkflowTestHarness
	client  *HTTPClient
}

// NewWorkflowHelpers creates workflow helpers for the given harness.
func (h *WorkflowTestHarness) NewWorkflowHelpers() *WorkflowHelpers {
	return &WorkflowHelpers{
		harness: h,
		client:  h.NewHTTPClient(),
	}
}

// CreateTestPage creates an enabled test page.
func (w *WorkflowHelpers) CreateTestPage(name, url string) *model.Page {
	w.harness.t.Helper()

	ctx := context.Background()
	page, err := w.harness.PageRepo.Create(ctx, &model.CreatePageRequest{
		Name:                name,
		URL:                 url,
		CaptureEveryMinutes: 60,
	})
	if err != nil {
		w.harness.t.Fatalf("create page: %v", err)
	}
	return page
}

// CreateTestPageWithUniqueName creates a test page with a collision-free name.
func (w *WorkflowHelpers) CreateTestPageWithUniqueName(url string) *model.Page {
	w.harness.t.Helper()

	name := fmt.Sprintf("test-page-%s", uuid.NewString())
	return w.CreateTestPage(name, url)
}

// RunCompleteWorkflow runs a complete capture workflow: create page, start
// capture, reserve the capture job, upload records, complete the scan, and
// complete the job. The completed scan has an audit job queued behind it.
func (w *WorkflowHelpers) RunCompleteWorkflow(pageURL string) (*model.Page, *model.Scan) {
	w.harness.t.Helper()

	// 1. Create the page under capture
	page := w.CreateTestPageWithUniqueName(pageURL)

	// 2. Start a capture: provisions the scan and its capture job
	scan, job, err := w.harness.ScanSvc.StartCapture(context.Background(), page.ID)
	if err != nil {
		w.harness.t.Fatalf("start capture: %v", err)
	}

	// 3. Reserve the capture job as a collector would
	reserved := w.client.ReserveNextJob(model.JobTypeCapture, 30, 1)
	if reserved.ID != job.ID {
		w.harness.t.Fatalf("expected reserved job ID %s, got %s", job.ID, reserved.ID)
	}

	// 4. Upload one batch of captured requests
	batch := CreateSimpleCaptureBatch(0, pageURL)
	w.client.PostRecords(scan.ID, batch)

	// 5. Complete the scan (enqueues the audit) and the capture job
	completed := w.client.CompleteScan(scan.ID, pageURL)
	w.client.CompleteJob(reserved.ID)

	return page, &completed
}

// VerifyRecordsStored verifies the stored record count for a scan.
func (w *WorkflowHelpers) VerifyRecordsStored(scanID string, expectedCount int) {
	w.harness.t.Helper()

	count, err := w.harness.RecordRepo.CountByScan(context.Background(), scanID)
	if err != nil {
		w.harness.t.Fatalf("count records for scan %s: %v", scanID, err)
	}
	if count != expectedCount {
		w.harness.t.Fatalf("expected %d records for scan %s, got %d", expectedCount, scanID, count)
	}
}

// VerifyAuditQueued verifies that completing the scan queued an audit job.
func (w *WorkflowHelpers) VerifyAuditQueued(scanID string) {
	w.harness.t.Helper()

	stats, err := w.harness.JobSvc.Stats(context.Background(), model.JobTypeAudit)
	if err != nil {
		w.harness.t.Fatalf("audit job stats: %v", err)
	}
	if stats.Pending == 0 && stats.Running == 0 && stats.Completed == 0 {
		w.harness.t.Fatalf("no audit job observed for scan %s", scanID)
	}
}

// CreateSimpleCaptureBatch creates a small capture batch for testing. The
// entries use the CDP-shaped format collectors upload: a document fetch plus
// a script fetch against the given page URL.
func CreateSimpleCaptureBatch(batchSeq int, pageURL string) model.IngestBatchRequest {
	if pageURL == "" {
		pageURL = "https://example.com/"
	}

	document := fmt.Sprintf(
		`{"request":{"url":%q},"type":"Document","response":{"status":200,"mimeType":"text/html","encodedDataLength":5120}}`,
		pageURL,
	)
	script := fmt.Sprintf(
		`{"request":{"url":%q},"type":"Script","response":{"status":200,"mimeType":"application/javascript","encodedDataLength":20480}}`,
		pageURL+"app.js",
	)

	return model.IngestBatchRequest{
		BatchSeq: batchSeq,
		Entries: []json.RawMessage{
			json.RawMessage(document),
			json.RawMessage(script),
		},
	}
}

// skipIfRedisUnavailable skips the test if Redis is required but unavailable.
func skipIfRedisUnavailable(t testutil.TestingTB, opts WorkflowTestOptions) {
	t.Helper()

	if !opts.EnableRedis {
		return
	}

	if opts.RedisAddr == "" {
		// Use centralized Redis address detection
		if _, ok := testutil.GetTestRedisAddr(t); !ok {
			t.Skip("redis test instance unavailable; run docker-compose profile 'test'")
		}
		return
	}

	// Test specific address by trying to connect
	client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
	defer func() {
		if err := client.Close(); err != nil {
			t.Logf("warning: failed to close redis client: %v", err)
		}
	}()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skip("redis test instance unavailable; run docker-compose profile 'test'")
	}
}

// WithWorkflowHarness is a helper that sets up and tears down a workflow test harness.
func WithWorkflowHarness(t testutil.TestingTB, opts WorkflowTestOptions, fn func(*WorkflowTestHarness)) {
	t.Helper()

	testutil.SkipIfNoTestDB(t)
	skipIfRedisUnavailable(t, opts)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		harness := NewWorkflowTestHarness(t, db, opts)
		defer harness.Close()
		fn(harness)
	})
}

// DefaultWorkflowOptions returns default options for workflow testing.
// Note: You must provide RepositoryProvider to avoid import cycles.
// Example:
//
//	opts := DefaultWorkflowOptions()
//	opts.RepositoryProvider = myRepositoryProvider
func DefaultWorkflowOptions() WorkflowTestOptions {
	return WorkflowTestOptions{
		EnableRedis:    false,
		JobLease:       30 * time.Second,
		BatchDedupeTTL: time.Hour,
		// RepositoryProvider must be set by caller
		// CacheProvider is optional (only needed if EnableRedis is true)
	}
}

// RedisWorkflowOptions returns options for workflow testing with Redis enabled.
// Note: You must provide both RepositoryProvider and CacheProvider to avoid import cycles.
// Example:
//
//	opts := RedisWorkflowOptions()
//	opts.RepositoryProvider = myRepositoryProvider
//	opts.CacheProvider = myCacheProvider
func RedisWorkflowOptions() WorkflowTestOptions {
	return WorkflowTestOptions{
		EnableRedis:    true,
		JobLease:       30 * time.Second,
		BatchDedupeTTL: time.Hour,
		// RepositoryProvider must be set by caller
		// CacheProvider must be set by caller when EnableRedis is true
	}
}
