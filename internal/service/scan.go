package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/domain/netlog"
)

var (
	// ErrScanFinished is returned when a collector uploads to, or completes, a
	// scan that is already in a terminal state.
	ErrScanFinished = errors.New("scan already finished")
	// ErrPageDisabled is returned when a capture is requested for a disabled page.
	ErrPageDisabled = errors.New("page is disabled")
)

// ScanServiceConfig groups configuration parameters for ScanService.
type ScanServiceConfig struct {
	// BatchDedupeTTL bounds how long a (scan, batch_seq) replay marker lives.
	// It only needs to outlast the collector's retry window.
	BatchDedupeTTL time.Duration
	// CapturePriority is the queue priority for capture jobs.
	CapturePriority int
	// AuditPriority is the queue priority for audit jobs enqueued on completion.
	AuditPriority int
}

// DefaultScanServiceConfig returns sensible defaults for ScanService configuration.
func DefaultScanServiceConfig() ScanServiceConfig {
	return ScanServiceConfig{
		BatchDedupeTTL:  time.Hour,
		CapturePriority: 0,
		AuditPriority:   10,
	}
}

// ScanServiceOptions groups dependencies for ScanService.
type ScanServiceOptions struct {
	Scans   core.ScanRepository          // Required: scan repository
	Records core.RequestRecordRepository // Required: captured request repository
	Deps    ScanServiceDeps              // Additional collaborators
}

// ScanServiceDeps holds the remaining ScanService collaborators.
type ScanServiceDeps struct {
	Jobs   core.JobRepository   // Required: capture/audit job enqueue
	Pages  core.PageRepository  // Required: page lookups for capture starts
	Cache  core.CacheRepository // Optional: batch replay dedupe
	Config ScanServiceConfig
	Logger *slog.Logger
}

// ScanService drives the capture lifecycle: scans are created alongside a
// capture job, collectors stream request batches into them, and completion
// hands the scan to the audit queue.
type ScanService struct {
	scans     core.ScanRepository
	records   core.RequestRecordRepository
	jobs      core.JobRepository
	pages     core.PageRepository
	cache     core.CacheRepository
	extractor *netlog.Extractor
	config    ScanServiceConfig
	logger    *slog.Logger
}

// NewScanService constructs a new ScanService.
func NewScanService(opts ScanServiceOptions) (*ScanService, error) {
	if opts.Scans == nil {
		return nil, errors.New("ScanRepository is required")
	}
	if opts.Records == nil {
		return nil, errors.New("RequestRecordRepository is required")
	}
	if opts.Deps.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Deps.Pages == nil {
		return nil, errors.New("PageRepository is required")
	}

	config := opts.Deps.Config
	if config.BatchDedupeTTL <= 0 {
		config.BatchDedupeTTL = DefaultScanServiceConfig().BatchDedupeTTL
	}

	var logger *slog.Logger
	if opts.Deps.Logger != nil {
		logger = opts.Deps.Logger.With("component", "scan_service")
	}

	return &ScanService{
		scans:     opts.Scans,
		records:   opts.Records,
		jobs:      opts.Deps.Jobs,
		pages:     opts.Deps.Pages,
		cache:     opts.Deps.Cache,
		extractor: netlog.NewExtractor(),
		config:    config,
		logger:    logger,
	}, nil
}

// MustNewScanService constructs a new ScanService and panics on error.
func MustNewScanService(opts ScanServiceOptions) *ScanService {
	svc, err := NewScanService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ScanService: %v", err))
	}
	return svc
}

// StartCapture creates a scan for the page and enqueues its capture job.
// Used by on-demand captures; the scheduler enqueues periodic captures
// through the same job shape.
func (s *ScanService) StartCapture(ctx context.Context, pageID string) (*model.Scan, *model.Job, error) {
	page, err := s.pages.GetByID(ctx, pageID)
	if err != nil {
		return nil, nil, fmt.Errorf("get page %s: %w", pageID, err)
	}
	if !page.Enabled {
		return nil, nil, ErrPageDisabled
	}

	scan, err := s.scans.Create(ctx, &model.CreateScanRequest{PageID: page.ID})
	if err != nil {
		return nil, nil, fmt.Errorf("create scan: %w", err)
	}

	payload, err := json.Marshal(model.CaptureJobPayload{
		PageID: page.ID,
		ScanID: scan.ID,
		URL:    page.URL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode capture payload: %w", err)
	}

	job, err := s.jobs.Create(ctx, &model.CreateJobRequest{
		Type:     model.JobTypeCapture,
		Payload:  payload,
		Priority: s.config.CapturePriority,
		PageID:   &page.ID,
		ScanID:   &scan.ID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("enqueue capture job: %w", err)
	}

	if touchErr := s.pages.TouchLastCaptured(ctx, page.ID, time.Now()); touchErr != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to touch last_captured_at",
			"page_id", page.ID, "error", touchErr)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "capture started",
			"page_id", page.ID, "scan_id", scan.ID, "job_id", job.ID)
	}

	return scan, job, nil
}

// EnsureScanForJob provisions a scan for a reserved capture job that was
// enqueued without one (the scheduler fires bare page payloads). The payload
// is rewritten with the new scan ID and, when the repository supports it,
// persisted back onto the job so retries reuse the same scan.
func (s *ScanService) EnsureScanForJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	if job == nil || job.Type != model.JobTypeCapture {
		return job, nil
	}

	var payload model.CaptureJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode capture payload: %w", err)
	}
	if payload.ScanID != "" {
		return job, nil
	}
	if payload.PageID == "" {
		return nil, errors.New("capture payload has no page_id")
	}

	scan, err := s.scans.Create(ctx, &model.CreateScanRequest{PageID: payload.PageID})
	if err != nil {
		return nil, fmt.Errorf("create scan for job %s: %w", job.ID, err)
	}

	payload.ScanID = scan.ID
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode capture payload: %w", err)
	}
	job.Payload = raw
	job.ScanID = &scan.ID

	if attacher, ok := s.jobs.(core.JobScanAttacher); ok {
		if _, attachErr := attacher.AttachScan(ctx, core.AttachScanParams{
			JobID:   job.ID,
			ScanID:  scan.ID,
			Payload: raw,
		}); attachErr != nil && s.logger != nil {
			// The collector still receives the scan ID; a retried job will
			// provision a fresh scan and the stale one ages out.
			s.logger.WarnContext(ctx, "failed to attach scan to job",
				"job_id", job.ID, "scan_id", scan.ID, "error", attachErr)
		}
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "scan provisioned on reserve",
			"job_id", job.ID, "scan_id", scan.ID, "page_id", payload.PageID)
	}

	return job, nil
}

// GetByID retrieves a scan by ID.
func (s *ScanService) GetByID(ctx context.Context, id string) (*model.Scan, error) {
	scan, err := s.scans.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get scan %s: %w", id, err)
	}
	return scan, nil
}

// List returns scans with their page names using the provided filters.
func (s *ScanService) List(ctx context.Context, opts model.ScanListOptions) ([]*model.ScanWithPageName, error) {
	p := normalizePagination(opts.Limit, opts.Offset)
	opts.Limit = p.Limit
	opts.Offset = p.Offset

	scans, err := s.scans.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	return scans, nil
}

// LatestCompletedForPage returns the most recent completed scan for a page.
func (s *ScanService) LatestCompletedForPage(ctx context.Context, pageID string) (*model.Scan, error) {
	scan, err := s.scans.LatestCompletedForPage(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("latest completed scan for page %s: %w", pageID, err)
	}
	return scan, nil
}

// MarkRunning transitions a scan to running when the collector picks up its job.
func (s *ScanService) MarkRunning(ctx context.Context, id string) (*model.Scan, error) {
	scan, err := s.scans.MarkRunning(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark scan %s running: %w", id, err)
	}
	return scan, nil
}

// IngestResult summarizes one accepted (or replayed) collector batch.
type IngestResult struct {
	Accepted  int  `json:"accepted"`
	Skipped   int  `json:"skipped"`
	Duplicate bool `json:"duplicate"`
}

// IngestBatch stores one collector batch of captured requests for a scan.
// Batches are idempotent per (scan, batch_seq): replays are acknowledged
// without inserting. Entries that cannot be normalized are counted as
// skipped rather than failing the batch.
func (s *ScanService) IngestBatch(
	ctx context.Context,
	scanID string,
	req *model.IngestBatchRequest,
) (*IngestResult, error) {
	if req == nil {
		return nil, errors.New("ingest batch request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	scan, err := s.scans.GetByID(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("get scan %s: %w", scanID, err)
	}
	if scan.Status != model.ScanStatusPending && scan.Status != model.ScanStatusRunning {
		return nil, ErrScanFinished
	}

	fresh, err := s.claimBatch(ctx, scanID, req.BatchSeq)
	if err != nil {
		return nil, err
	}
	if !fresh {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "dropped replayed capture batch",
				"scan_id", scanID, "batch_seq", req.BatchSeq)
		}
		return &IngestResult{Duplicate: true}, nil
	}

	parsed, skipped := s.extractor.ParseBatch(req.Entries)
	inputs := make([]model.RequestRecordInput, 0, len(parsed))
	seqBase := req.BatchSeq * model.MaxIngestBatchEntries
	for i, rec := range parsed {
		inputs = append(inputs, model.RequestRecordInput{
			URL:          rec.URL,
			Host:         rec.Host,
			ResourceType: rec.ResourceType,
			TransferSize: rec.TransferSize,
			StatusCode:   rec.StatusCode,
			MimeType:     rec.MimeType,
			Seq:          seqBase + i,
		})
	}

	accepted, err := s.records.BulkInsert(ctx, scanID, inputs)
	if err != nil {
		// Release the claim so the collector's retry is not silently dropped.
		s.releaseBatch(ctx, scanID, req.BatchSeq)
		return nil, fmt.Errorf("insert capture batch: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "ingested capture batch",
			"scan_id", scanID, "batch_seq", req.BatchSeq,
			"accepted", accepted, "skipped", skipped)
	}

	return &IngestResult{Accepted: accepted, Skipped: skipped}, nil
}

// Complete finalizes a scan and enqueues its audit job. Request totals are
// recomputed from stored records so partial uploads surface in the scan row.
func (s *ScanService) Complete(
	ctx context.Context,
	scanID string,
	req *model.CompleteScanRequest,
) (*model.Scan, error) {
	if req == nil {
		return nil, errors.New("complete scan request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	records, err := s.records.ListByScan(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("list records for scan %s: %w", scanID, err)
	}
	var totalBytes int64
	for _, rec := range records {
		totalBytes += rec.TransferSize
	}

	finalURL := req.FinalURL
	scan, err := s.scans.Complete(ctx, core.CompleteScanParams{
		ID:           scanID,
		FinalURL:     &finalURL,
		RequestCount: len(records),
		TotalBytes:   totalBytes,
		CompletedAt:  time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("complete scan %s: %w", scanID, err)
	}

	if err := s.enqueueAudit(ctx, scan); err != nil {
		// The scan is complete; a missing audit job is recoverable by hand,
		// failing the collector's request is not.
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to enqueue audit job",
				"scan_id", scan.ID, "error", err)
		}
	}

	return scan, nil
}

// Fail marks a scan as failed with the collector's error message.
func (s *ScanService) Fail(ctx context.Context, scanID, errMsg string) (*model.Scan, error) {
	if errMsg == "" {
		return nil, errors.New("error message required")
	}
	scan, err := s.scans.MarkFailed(ctx, scanID, errMsg)
	if err != nil {
		return nil, fmt.Errorf("fail scan %s: %w", scanID, err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "scan failed", "scan_id", scanID, "error", errMsg)
	}
	return scan, nil
}

// ImportHARParams groups parameters for ScanService.ImportHAR.
type ImportHARParams struct {
	PageID string
	Data   []byte
}

// ImportResult describes one imported HAR document.
type ImportResult struct {
	Scan    *model.Scan `json:"scan"`
	Skipped int         `json:"skipped"`
}

// ImportHAR converts an exported HAR document into a completed scan for the
// page. No capture or audit job is enqueued; callers audit the scan
// synchronously.
func (s *ScanService) ImportHAR(ctx context.Context, params ImportHARParams) (*ImportResult, error) {
	if params.PageID == "" {
		return nil, errors.New("page_id is required")
	}

	page, err := s.pages.GetByID(ctx, params.PageID)
	if err != nil {
		return nil, fmt.Errorf("get page %s: %w", params.PageID, err)
	}

	imp, err := netlog.ParseHAR(params.Data)
	if err != nil {
		return nil, err
	}

	collector := harCollectorLabel
	scan, err := s.scans.Create(ctx, &model.CreateScanRequest{PageID: page.ID, Collector: &collector})
	if err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}

	inputs := make([]model.RequestRecordInput, 0, len(imp.Records))
	var totalBytes int64
	for i, rec := range imp.Records {
		inputs = append(inputs, model.RequestRecordInput{
			URL:          rec.URL,
			Host:         rec.Host,
			ResourceType: rec.ResourceType,
			TransferSize: rec.TransferSize,
			StatusCode:   rec.StatusCode,
			MimeType:     rec.MimeType,
			Seq:          i,
		})
		totalBytes += rec.TransferSize
	}

	accepted, err := s.records.BulkInsert(ctx, scan.ID, inputs)
	if err != nil {
		return nil, fmt.Errorf("insert imported records: %w", err)
	}

	finalURL := imp.FinalURL
	if finalURL == "" {
		finalURL = page.URL
	}
	completed, err := s.scans.Complete(ctx, core.CompleteScanParams{
		ID:           scan.ID,
		FinalURL:     &finalURL,
		RequestCount: accepted,
		TotalBytes:   totalBytes,
		CompletedAt:  time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("complete imported scan %s: %w", scan.ID, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "har document imported",
			"page_id", page.ID, "scan_id", completed.ID,
			"records", accepted, "skipped", imp.Skipped)
	}

	return &ImportResult{Scan: completed, Skipped: imp.Skipped}, nil
}

const harCollectorLabel = "har-import"

func (s *ScanService) enqueueAudit(ctx context.Context, scan *model.Scan) error {
	payload, err := json.Marshal(model.AuditJobPayload{ScanID: scan.ID})
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	_, err = s.jobs.Create(ctx, &model.CreateJobRequest{
		Type:     model.JobTypeAudit,
		Payload:  payload,
		Priority: s.config.AuditPriority,
		PageID:   &scan.PageID,
		ScanID:   &scan.ID,
	})
	if err != nil {
		return fmt.Errorf("enqueue audit job: %w", err)
	}
	return nil
}

func (s *ScanService) claimBatch(ctx context.Context, scanID string, batchSeq int) (bool, error) {
	if s.cache == nil {
		return true, nil
	}
	key := batchDedupeKey(scanID, batchSeq)
	fresh, err := s.cache.SetIfNotExists(ctx, key, []byte("1"), s.config.BatchDedupeTTL)
	if err != nil {
		// A broken cache must not stall ingest; worst case is a duplicate
		// batch, which the audit tolerates.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "batch dedupe unavailable, accepting batch",
				"scan_id", scanID, "batch_seq", batchSeq, "error", err)
		}
		return true, nil
	}
	return fresh, nil
}

func (s *ScanService) releaseBatch(ctx context.Context, scanID string, batchSeq int) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Delete(ctx, batchDedupeKey(scanID, batchSeq)); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to release batch claim",
			"scan_id", scanID, "batch_seq", batchSeq, "error", err)
	}
}

func batchDedupeKey(scanID string, batchSeq int) string {
	return fmt.Sprintf("scan:%s:batch:%d", scanID, batchSeq)
}
