package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/data"
	"github.com/pagetally/pagetally/internal/domain/audit"
	"github.com/pagetally/pagetally/internal/domain/model"
)

// ErrScanNotAuditable is returned when an audit is requested for a scan that
// has not completed.
var ErrScanNotAuditable = errors.New("scan is not in a completed state")

// AuditServiceOptions groups dependencies for AuditService.
type AuditServiceOptions struct {
	Scans   core.ScanRepository   // Required
	Reports core.ReportRepository // Required
	Deps    AuditServiceDeps      // Additional collaborators
}

// AuditServiceDeps holds the remaining AuditService collaborators.
type AuditServiceDeps struct {
	Pages      core.PageRepository          // Required: budget set assignment + first-party patterns
	BudgetSets core.BudgetSetRepository     // Required
	Records    core.RequestRecordRepository // Required
	Alerts     core.AlertRepository         // Optional: overage alerts are skipped without it
	Jobs       core.JobRepository           // Optional: notify jobs are skipped without it
	Cache      *core.ReportCache            // Optional: latest-report cache refresh
	Config     AuditServiceConfig
	Logger     *slog.Logger
}

// AuditServiceConfig groups configuration parameters for AuditService.
type AuditServiceConfig struct {
	// NotifyPriority is the queue priority for notify jobs raised on overages.
	NotifyPriority int
	// NotifyMaxRetries bounds delivery attempts for a raised alert.
	NotifyMaxRetries int
}

// DefaultAuditServiceConfig returns sensible defaults for AuditService configuration.
func DefaultAuditServiceConfig() AuditServiceConfig {
	return AuditServiceConfig{
		NotifyPriority:   20,
		NotifyMaxRetries: 3,
	}
}

// AuditService evaluates completed scans against their page's budget set:
// it loads the captured requests, runs the evaluator, persists the report,
// refreshes the latest-report cache, and raises an overage alert (plus its
// notify job) when any budgeted ceiling was exceeded.
type AuditService struct {
	scans      core.ScanRepository
	reports    core.ReportRepository
	pages      core.PageRepository
	budgetSets core.BudgetSetRepository
	records    core.RequestRecordRepository
	alerts     core.AlertRepository
	jobs       core.JobRepository
	cache      *core.ReportCache
	config     AuditServiceConfig
	logger     *slog.Logger
}

// NewAuditService constructs a new AuditService.
func NewAuditService(opts AuditServiceOptions) (*AuditService, error) {
	if opts.Scans == nil {
		return nil, errors.New("ScanRepository is required")
	}
	if opts.Reports == nil {
		return nil, errors.New("ReportRepository is required")
	}
	if opts.Deps.Pages == nil {
		return nil, errors.New("PageRepository is required")
	}
	if opts.Deps.BudgetSets == nil {
		return nil, errors.New("BudgetSetRepository is required")
	}
	if opts.Deps.Records == nil {
		return nil, errors.New("RequestRecordRepository is required")
	}

	config := opts.Deps.Config
	if config.NotifyMaxRetries <= 0 {
		config.NotifyMaxRetries = DefaultAuditServiceConfig().NotifyMaxRetries
	}

	var logger *slog.Logger
	if opts.Deps.Logger != nil {
		logger = opts.Deps.Logger.With("component", "audit_service")
	}

	return &AuditService{
		scans:      opts.Scans,
		reports:    opts.Reports,
		pages:      opts.Deps.Pages,
		budgetSets: opts.Deps.BudgetSets,
		records:    opts.Deps.Records,
		alerts:     opts.Deps.Alerts,
		jobs:       opts.Deps.Jobs,
		cache:      opts.Deps.Cache,
		config:     config,
		logger:     logger,
	}, nil
}

// MustNewAuditService constructs a new AuditService and panics on error.
func MustNewAuditService(opts AuditServiceOptions) *AuditService {
	svc, err := NewAuditService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create AuditService: %v", err))
	}
	return svc
}

// EvaluateScan processes an audit job from the queue.
func (s *AuditService) EvaluateScan(ctx context.Context, job *model.Job) error {
	if job == nil {
		return errors.New("job is required")
	}
	var payload model.AuditJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode audit payload for job %s: %w", job.ID, err)
	}
	if payload.ScanID == "" {
		return fmt.Errorf("audit job %s has no scan_id", job.ID)
	}

	_, err := s.AuditNow(ctx, payload.ScanID)
	return err
}

// AuditNow evaluates a completed scan synchronously and returns the stored
// report. Re-auditing a scan that already has a report returns the existing
// one without raising a second alert, so job retries stay idempotent.
func (s *AuditService) AuditNow(ctx context.Context, scanID string) (*model.ScanReport, error) {
	scan, err := s.scans.GetByID(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("get scan %s: %w", scanID, err)
	}
	if scan.Status != model.ScanStatusCompleted {
		return nil, fmt.Errorf("scan %s: %w", scanID, ErrScanNotAuditable)
	}

	page, err := s.pages.GetByID(ctx, scan.PageID)
	if err != nil {
		return nil, fmt.Errorf("get page %s: %w", scan.PageID, err)
	}

	var budgetSet *model.BudgetSet
	if page.BudgetSetID != nil {
		budgetSet, err = s.budgetSets.GetByID(ctx, *page.BudgetSetID)
		if err != nil {
			return nil, fmt.Errorf("get budget set %s: %w", *page.BudgetSetID, err)
		}
	}

	records, err := s.records.ListByScan(ctx, scan.ID)
	if err != nil {
		return nil, fmt.Errorf("list records for scan %s: %w", scan.ID, err)
	}

	requests := make([]model.NetworkRequest, 0, len(records))
	var transferBytes int64
	for _, rec := range records {
		requests = append(requests, rec.NetworkRequest())
		transferBytes += rec.TransferSize
	}

	finalURL := page.URL
	if scan.FinalURL != nil && *scan.FinalURL != "" {
		finalURL = *scan.FinalURL
	}

	var budgets []model.Budget
	if budgetSet != nil {
		budgets = budgetSet.Budgets
	}
	report := audit.Evaluate(audit.Input{
		FinalURL:           finalURL,
		Requests:           requests,
		Budgets:            budgets,
		FirstPartyPatterns: page.FirstPartyPatterns,
	})
	overages := report.OverageRows()

	scanReport := &model.ScanReport{
		ScanID:        scan.ID,
		PageID:        page.ID,
		Report:        *report,
		RequestCount:  len(records),
		TransferBytes: transferBytes,
		OverageCount:  len(overages),
	}
	if budgetSet != nil {
		scanReport.BudgetSetID = &budgetSet.ID
		scanReport.BudgetSetVersion = &budgetSet.Version
	}

	stored, err := s.reports.Create(ctx, scanReport)
	if errors.Is(err, data.ErrReportExists) {
		existing, getErr := s.reports.GetByScanID(ctx, scan.ID)
		if getErr != nil {
			return nil, fmt.Errorf("load existing report for scan %s: %w", scan.ID, getErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store report for scan %s: %w", scan.ID, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.StoreLatest(ctx, stored); cacheErr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to cache latest report",
				"page_id", page.ID, "error", cacheErr)
		}
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "scan audited",
			"scan_id", scan.ID, "page_id", page.ID,
			"requests", len(records), "transfer_bytes", transferBytes,
			"overages", len(overages))
	}

	if len(overages) > 0 {
		s.raiseOverageAlert(ctx, page, stored, finalURL, overages)
	}

	return stored, nil
}

// ReportForScan returns the persisted report for a scan.
func (s *AuditService) ReportForScan(ctx context.Context, scanID string) (*model.ScanReport, error) {
	report, err := s.reports.GetByScanID(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("get report for scan %s: %w", scanID, err)
	}
	return report, nil
}

// LatestReportForPage returns the newest report for a page. The cache layer
// already falls back to the repository on a miss, so it is preferred when
// configured.
func (s *AuditService) LatestReportForPage(ctx context.Context, pageID string) (*model.ScanReport, error) {
	if s.cache != nil {
		report, err := s.cache.LatestForPage(ctx, pageID)
		if err != nil {
			return nil, fmt.Errorf("latest report for page %s: %w", pageID, err)
		}
		return report, nil
	}
	report, err := s.reports.LatestForPage(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("latest report for page %s: %w", pageID, err)
	}
	return report, nil
}

// raiseOverageAlert records the alert and queues its delivery. Failures here
// are logged, not returned: the report is already stored and a retried audit
// would refuse to raise the alert again.
func (s *AuditService) raiseOverageAlert(
	ctx context.Context,
	page *model.Page,
	report *model.ScanReport,
	finalURL string,
	overages []model.Row,
) {
	if s.alerts == nil {
		return
	}

	details, err := json.Marshal(overageDetails{
		FinalURL:         finalURL,
		BudgetSetID:      report.BudgetSetID,
		BudgetSetVersion: report.BudgetSetVersion,
		Rows:             overages,
	})
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to encode alert details",
				"scan_id", report.ScanID, "error", err)
		}
		return
	}

	alert, err := s.alerts.Create(ctx, &model.CreateOverageAlertRequest{
		PageID:   page.ID,
		ScanID:   report.ScanID,
		Severity: string(severityForOverages(overages)),
		Title:    fmt.Sprintf("Budget exceeded: %s", page.Name),
		Summary:  overageSummary(overages),
		Details:  details,
	})
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to create overage alert",
				"scan_id", report.ScanID, "page_id", page.ID, "error", err)
		}
		return
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "overage alert raised",
			"alert_id", alert.ID, "page_id", page.ID,
			"scan_id", report.ScanID, "severity", alert.Severity)
	}

	s.enqueueNotify(ctx, alert)
}

func (s *AuditService) enqueueNotify(ctx context.Context, alert *model.OverageAlert) {
	if s.jobs == nil {
		return
	}
	payload, err := json.Marshal(model.NotifyJobPayload{AlertID: alert.ID})
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to encode notify payload",
				"alert_id", alert.ID, "error", err)
		}
		return
	}
	if _, err := s.jobs.Create(ctx, &model.CreateJobRequest{
		Type:       model.JobTypeNotify,
		Payload:    payload,
		Priority:   s.config.NotifyPriority,
		PageID:     &alert.PageID,
		ScanID:     &alert.ScanID,
		MaxRetries: s.config.NotifyMaxRetries,
	}); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue notify job",
			"alert_id", alert.ID, "error", err)
	}
}

// overageDetails is the alert's structured details document.
type overageDetails struct {
	FinalURL         string      `json:"final_url"`
	BudgetSetID      *string     `json:"budget_set_id,omitempty"`
	BudgetSetVersion *int        `json:"budget_set_version,omitempty"`
	Rows             []model.Row `json:"rows"`
}

// severityForOverages grades the overage: an over-budget total row is
// critical, three or more types over are high, anything else medium.
func severityForOverages(rows []model.Row) model.AlertSeverity {
	for _, row := range rows {
		if row.ResourceType == model.ResourceTypeTotal {
			return model.AlertSeverityCritical
		}
	}
	if len(rows) >= 3 {
		return model.AlertSeverityHigh
	}
	return model.AlertSeverityMedium
}

func overageSummary(rows []model.Row) string {
	if len(rows) == 1 {
		return fmt.Sprintf("%s exceeded its budget", rows[0].Label)
	}
	return fmt.Sprintf("%d resource types exceeded their budgets", len(rows))
}
