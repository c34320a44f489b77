package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pagetally/pagetally/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	ReserveNext(ctx context.Context, jobType model.JobType, leaseSeconds int) (*model.Job, error)
	WaitForNotification(ctx context.Context, jobType model.JobType) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	Stats(ctx context.Context, jobType model.JobType) (*model.JobStats, error)
	List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error)
	Delete(ctx context.Context, id string) error
}

// JobRepositoryTx defines optional transactional job creation support.
type JobRepositoryTx interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error)
}

// JobScanAttacher defines optional support for linking a reserved capture job
// to the scan provisioned for it. Implemented by the Postgres job repository;
// callers type-assert and fall back gracefully when absent.
type JobScanAttacher interface {
	AttachScan(ctx context.Context, params AttachScanParams) (bool, error)
}

// AttachScanParams groups parameters for JobScanAttacher.AttachScan.
// Payload replaces the job's payload so the scan ID travels with retries.
type AttachScanParams struct {
	JobID   string
	ScanID  string
	Payload json.RawMessage
}

// PageRepository defines the interface for page data operations.
type PageRepository interface {
	Create(ctx context.Context, req *model.CreatePageRequest) (*model.Page, error)
	GetByID(ctx context.Context, id string) (*model.Page, error)
	GetByName(ctx context.Context, name string) (*model.Page, error)
	List(ctx context.Context, opts model.PagesListOptions) ([]*model.Page, error)
	Update(ctx context.Context, id string, req model.UpdatePageRequest) (*model.Page, error)
	Delete(ctx context.Context, id string) (bool, error)
	TouchLastCaptured(ctx context.Context, id string, at time.Time) error
}

// BudgetSetRepository defines the interface for budget set data operations.
type BudgetSetRepository interface {
	Create(ctx context.Context, req *model.CreateBudgetSetRequest) (*model.BudgetSet, error)
	GetByID(ctx context.Context, id string) (*model.BudgetSet, error)
	GetByName(ctx context.Context, name string) (*model.BudgetSet, error)
	List(ctx context.Context, opts model.BudgetSetListOptions) ([]*model.BudgetSet, error)
	Update(ctx context.Context, id string, req model.UpdateBudgetSetRequest) (*model.BudgetSet, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ScanRepository defines the interface for scan data operations.
type ScanRepository interface {
	Create(ctx context.Context, req *model.CreateScanRequest) (*model.Scan, error)
	GetByID(ctx context.Context, id string) (*model.Scan, error)
	List(ctx context.Context, opts model.ScanListOptions) ([]*model.ScanWithPageName, error)
	MarkRunning(ctx context.Context, id string, startedAt time.Time) (*model.Scan, error)
	Complete(ctx context.Context, params CompleteScanParams) (*model.Scan, error)
	MarkFailed(ctx context.Context, id, errMsg string) (*model.Scan, error)
	LatestCompletedForPage(ctx context.Context, pageID string) (*model.Scan, error)
}

// CompleteScanParams groups parameters for ScanRepository.Complete.
// FinalURL is nil when the collector could not observe a post-redirect URL.
type CompleteScanParams struct {
	ID           string
	FinalURL     *string
	RequestCount int
	TotalBytes   int64
	CompletedAt  time.Time
}

// RequestRecordRepository defines the interface for captured request data operations.
type RequestRecordRepository interface {
	// BulkInsert inserts the batch for a scan and returns the number of rows written.
	BulkInsert(ctx context.Context, scanID string, records []model.RequestRecordInput) (int, error)
	ListByScan(ctx context.Context, scanID string) ([]*model.RequestRecord, error)
	CountByScan(ctx context.Context, scanID string) (int, error)
}

// ReportRepository defines the interface for persisted scan report operations.
type ReportRepository interface {
	Create(ctx context.Context, report *model.ScanReport) (*model.ScanReport, error)
	GetByScanID(ctx context.Context, scanID string) (*model.ScanReport, error)
	LatestForPage(ctx context.Context, pageID string) (*model.ScanReport, error)
}

// WebhookSinkRepository defines the interface for webhook sink data operations.
type WebhookSinkRepository interface {
	Create(ctx context.Context, params *CreateWebhookSinkParams) (*model.WebhookSink, error)
	GetByID(ctx context.Context, id string) (*model.WebhookSink, error)
	GetByName(ctx context.Context, name string) (*model.WebhookSink, error)
	List(ctx context.Context, opts model.WebhookSinkListOptions) ([]*model.WebhookSink, error)
	ListEnabled(ctx context.Context) ([]*model.WebhookSink, error)
	Update(ctx context.Context, id string, params *UpdateWebhookSinkParams) (*model.WebhookSink, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// CreateWebhookSinkParams is the repository-level create shape. The service
// layer has already encrypted the bearer token; repositories never see plaintext.
type CreateWebhookSinkParams struct {
	Name            string
	URL             string
	PayloadExpr     *string
	Enabled         bool
	TokenCiphertext []byte
}

// UpdateWebhookSinkParams is the repository-level update shape. TokenCiphertext
// replaces the stored token when non-nil; ClearToken removes it.
type UpdateWebhookSinkParams struct {
	Name            *string
	URL             *string
	PayloadExpr     *string
	Enabled         *bool
	TokenCiphertext []byte
	ClearToken      bool
}

// AlertRepository defines the interface for overage alert data operations.
type AlertRepository interface {
	Create(ctx context.Context, req *model.CreateOverageAlertRequest) (*model.OverageAlert, error)
	GetByID(ctx context.Context, id string) (*model.OverageAlert, error)
	List(ctx context.Context, opts *model.AlertListOptions) ([]*model.OverageAlert, error)
	ListWithPageNames(
		ctx context.Context,
		opts *model.AlertListOptions,
	) ([]*model.AlertWithPageName, error)
	ListWithPageNamesAndCount(
		ctx context.Context,
		opts *model.AlertListOptions,
	) (*model.AlertListResult, error)
	Count(ctx context.Context, opts *model.AlertListOptions) (int, error)
	Delete(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, pageID *string) (*model.AlertStats, error)
	Resolve(ctx context.Context, params ResolveAlertParams) (*model.OverageAlert, error)
	UpdateDeliveryStatus(ctx context.Context, params UpdateAlertDeliveryStatusParams) (*model.OverageAlert, error)
}

// ResolveAlertParams contains parameters for resolving an alert.
type ResolveAlertParams struct {
	ID         string
	ResolvedBy string
}

// UpdateAlertDeliveryStatusParams contains parameters for updating an alert's delivery status.
type UpdateAlertDeliveryStatusParams struct {
	ID     string
	Status model.AlertDeliveryStatus
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs to keep param count ≤3.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// DeleteOldScansParams groups parameters for DeleteOldScans.
type DeleteOldScansParams struct {
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines the interface for job and scan cleanup operations.
type ReaperRepository interface {
	// FailStalePendingJobs marks pending jobs older than maxAge as failed.
	// Processes up to batchSize jobs per call to prevent long locks.
	// Returns the number of jobs marked as failed.
	FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)

	// DeleteOldJobs deletes jobs with the given status older than maxAge.
	// Processes up to batchSize jobs per call to prevent long locks.
	// Returns the number of jobs deleted.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)

	// DeleteOldScans deletes finished scans older than maxAge together with
	// their request records and reports. Processes up to batchSize scans per call.
	DeleteOldScans(ctx context.Context, params DeleteOldScansParams) (int64, error)
}
