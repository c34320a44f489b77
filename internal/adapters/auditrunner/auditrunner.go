// Package auditrunner provides a job runner adapter for processing audit jobs.
package auditrunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/data"
	"github.com/pagetally/pagetally/internal/domain/model"
	obserrors "github.com/pagetally/pagetally/internal/observability/errors"
	"github.com/pagetally/pagetally/internal/observability/metrics"
	"github.com/pagetally/pagetally/internal/observability/statsd"
	"github.com/pagetally/pagetally/internal/service"
	"github.com/pagetally/pagetally/internal/service/failurenotifier"
)

// RunnerOptions configures the audit job runner adapter.
type RunnerOptions struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger

	// Job processing settings
	Lease       time.Duration // per-job lease duration; defaults to 30s
	Concurrency int           // number of worker goroutines; defaults to 1

	// Audit tuning; zero values fall back to service defaults.
	Config service.AuditServiceConfig

	// ReportCacheTTL overrides the latest-report cache TTL; zero keeps the default.
	ReportCacheTTL time.Duration

	// Optional dependency injections (useful for tests/decoupling)
	JobsRepo        core.JobRepository
	ScansRepo       core.ScanRepository
	ReportsRepo     core.ReportRepository
	PagesRepo       core.PageRepository
	BudgetSetsRepo  core.BudgetSetRepository
	RecordsRepo     core.RequestRecordRepository
	AlertsRepo      core.AlertRepository
	CacheRepo       core.CacheRepository
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
}

// Runner reserves completed-scan audit jobs and evaluates them against the
// page's budget set via the audit service.
type Runner struct {
	audits  *service.AuditService
	jobs    *service.JobService
	logger  *slog.Logger
	lease   time.Duration
	workers int
	metrics statsd.Sink
}

// NewRunner creates a new audit job runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	logger := resolveLogger(opts.Logger)

	deps := resolveDependencies(opts)
	if err := validateDependencies(opts, deps); err != nil {
		return nil, err
	}

	audits, err := service.NewAuditService(service.AuditServiceOptions{
		Scans:   deps.scansRepo,
		Reports: deps.reportsRepo,
		Deps: service.AuditServiceDeps{
			Pages:      deps.pagesRepo,
			BudgetSets: deps.budgetSetsRepo,
			Records:    deps.recordsRepo,
			Alerts:     deps.alertsRepo,
			Jobs:       deps.jobsRepo,
			Cache:      deps.reportCache,
			Config:     opts.Config,
			Logger:     logger,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create audit service: %w", err)
	}

	jobService := service.MustNewJobService(service.JobServiceOptions{
		Repo:            deps.jobsRepo,
		DefaultLease:    resolveLease(opts.Lease),
		FailureNotifier: opts.FailureNotifier,
	})

	return &Runner{
		audits:  audits,
		jobs:    jobService,
		logger:  logger,
		lease:   resolveLease(opts.Lease),
		workers: resolveWorkers(opts.Concurrency),
		metrics: opts.Metrics,
	}, nil
}

// Run starts the audit job runner and processes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting audit job runner", "workers", r.workers, "lease", r.lease)

	group, gctx := errgroup.WithContext(ctx)
	for range r.workers {
		group.Go(func() error { return r.runWorkerLoop(gctx) })
	}
	return group.Wait()
}

// runWorkerLoop implements the worker loop for processing audit jobs.
func (r *Runner) runWorkerLoop(ctx context.Context) error {
	unsub, ch := r.jobs.Subscribe(model.JobTypeAudit)
	defer unsub()

	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx, model.JobTypeAudit, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForNotify(ctx, ch) {
				return nil
			}
		default:
			r.logger.ErrorContext(ctx, "failed to reserve next audit job", "error", err)
			return err
		}
	}
	return ctx.Err()
}

// processJob evaluates a single audit job.
func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	r.logger.InfoContext(ctx, "processing audit job", "job_id", job.ID)

	stopHB := r.startHeartbeat(ctx, job.ID)
	defer stopHB()

	start := time.Now()

	if err := r.audits.EvaluateScan(ctx, job); err != nil {
		r.logger.ErrorContext(ctx, "audit job processing failed", "job_id", job.ID, "error", err)
		if _, ferr := r.jobs.FailWithDetails(ctx, job.ID, err.Error(), service.JobFailureDetails{
			ErrorClass: obserrors.Classify(err),
			Metadata: map[string]string{
				"component": "audit_runner",
			},
		}); ferr != nil {
			r.logger.ErrorContext(ctx, "failed to mark job as failed", "job_id", job.ID, "error", ferr)
		}
		r.emitJobMetric(jobMetricInput{
			Job:        job,
			Transition: "failed",
			Result:     "error",
			Elapsed:    time.Since(start),
			Err:        err,
		})
		return
	}

	if completed, err := r.jobs.Complete(ctx, job.ID); err != nil {
		r.logger.ErrorContext(ctx, "failed to mark job as completed", "job_id", job.ID, "error", err)
		r.emitJobMetric(jobMetricInput{
			Job:        job,
			Transition: "completed",
			Result:     "error",
			Elapsed:    time.Since(start),
			Err:        err,
		})
	} else {
		result := "noop"
		if completed {
			result = "success"
		}
		r.emitJobMetric(jobMetricInput{
			Job:        job,
			Transition: "completed",
			Result:     result,
			Elapsed:    time.Since(start),
		})
	}
}

// startHeartbeat starts a background ticker to extend the job lease periodically.
// It returns a stop function to end the heartbeat.
func (r *Runner) startHeartbeat(ctx context.Context, jobID string) func() {
	interval := r.lease / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if ok, err := r.jobs.Heartbeat(ctx, jobID, r.lease); err != nil {
					r.logger.ErrorContext(ctx, "heartbeat failed", "job_id", jobID, "error", err)
				} else if !ok {
					r.logger.WarnContext(ctx, "heartbeat not applied (job may be lost)", "job_id", jobID)
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}

// waitForNotify waits for a job notification or context cancellation.
func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	}
}

// Helper functions for dependency resolution and configuration

type runnerDeps struct {
	jobsRepo       core.JobRepository
	scansRepo      core.ScanRepository
	reportsRepo    core.ReportRepository
	pagesRepo      core.PageRepository
	budgetSetsRepo core.BudgetSetRepository
	recordsRepo    core.RequestRecordRepository
	alertsRepo     core.AlertRepository
	cacheRepo      core.CacheRepository
	reportCache    *core.ReportCache
}

func resolveDependencies(opts RunnerOptions) *runnerDeps {
	deps := &runnerDeps{}
	resolveJobRepo(opts, deps)
	resolveScanRepo(opts, deps)
	resolveReportRepo(opts, deps)
	resolvePageRepo(opts, deps)
	resolveBudgetSetRepo(opts, deps)
	resolveRecordRepo(opts, deps)
	resolveAlertRepo(opts, deps)
	resolveCacheRepo(opts, deps)
	resolveReportCache(deps, opts.ReportCacheTTL)
	return deps
}

func validateDependencies(opts RunnerOptions, deps *runnerDeps) error {
	if deps == nil {
		return errors.New("dependencies not resolved")
	}

	required := []struct {
		name  string
		value interface{}
	}{
		{"JobRepository", deps.jobsRepo},
		{"ScanRepository", deps.scansRepo},
		{"ReportRepository", deps.reportsRepo},
		{"PageRepository", deps.pagesRepo},
		{"BudgetSetRepository", deps.budgetSetsRepo},
		{"RequestRecordRepository", deps.recordsRepo},
	}

	var missing []string
	for _, dep := range required {
		if dep.value == nil {
			missing = append(missing, dep.name)
		}
	}

	if len(missing) > 0 {
		noun := "dependency"
		if len(missing) > 1 {
			noun = "dependencies"
		}
		missingList := strings.Join(missing, ", ")

		if opts.DB == nil {
			return fmt.Errorf(
				"audit runner requires a DB handle or explicit implementations for the following %s: %s",
				noun,
				missingList,
			)
		}

		return fmt.Errorf("audit runner missing required %s: %s", noun, missingList)
	}

	return nil
}

func resolveJobRepo(opts RunnerOptions, deps *runnerDeps) {
	if opts.JobsRepo != nil {
		deps.jobsRepo = opts.JobsRepo
		return
	}
	if opts.DB != nil {
		deps.jobsRepo = data.NewJobRepo(opts.DB, data.RepoConfig{})
	}
}

func resolveScanRepo(opts RunnerOptions, deps *runnerDeps) {
	if opts.ScansRepo != nil {
		deps.scansRepo = opts.ScansRepo
		return
	}
	if opts.DB != nil {
		deps.scansRepo = data.NewScanRepo(opts.DB)
	}
}

func resolveReportRepo(opts RunnerOptions, deps *runnerDeps) {
	if opts.ReportsRepo != nil {
		deps.reportsRepo = opts.ReportsRepo
		return
	}
	if opts.DB != nil {
		deps.reportsRepo = data.NewReportRepo(opts.DB)
	}
}

func resolvePageRepo(opts RunnerOptions, deps *runnerDeps) {
	if opts.PagesRepo != nil {
		deps.pagesRepo = opts.PagesRepo
		return
	}
	if opts.DB != nil {
		deps.pagesRepo = data.NewPageRepo(opts.DB)
	}
}

func resolveBudgetSetRepo(opts RunnerOptions, deps *runnerDeps) {
	if opts.BudgetSetsRepo != nil {
		deps.budgetSetsRepo = opts.BudgetSetsRepo
		return
	}
	if opts.DB != nil {
		deps.budgetSetsRepo = data.NewBudgetSetRepo(opts.DB)
	}
}

func resolveRecordRepo(opts RunnerOptions, deps *runnerDeps) {
	if opts.RecordsRepo != nil {
		deps.recordsRepo = opts.RecordsRepo
		return
	}
	if opts.DB != nil {
		deps.recordsRepo = data.NewRequestRecordRepo(opts.DB)
	}
}

func resolveAlertRepo(opts RunnerOptions, deps *runnerDeps) {
	if opts.AlertsRepo != nil {
		deps.alertsRepo = opts.AlertsRepo
		return
	}
	if opts.DB != nil {
		deps.alertsRepo = data.NewAlertRepo(opts.DB)
	}
}

func resolveCacheRepo(opts RunnerOptions, deps *runnerDeps) {
	if opts.CacheRepo != nil {
		deps.cacheRepo = opts.CacheRepo
		return
	}
	if opts.RedisClient != nil {
		deps.cacheRepo = data.NewRedisCacheRepo(opts.RedisClient)
	}
}

// resolveReportCache wires the latest-report cache when Redis is available.
// Without it audits still persist reports; only the hot-path cache refresh is skipped.
func resolveReportCache(deps *runnerDeps, ttl time.Duration) {
	if deps.cacheRepo == nil || deps.reportsRepo == nil {
		return
	}
	cacheCfg := core.DefaultReportCacheConfig()
	if ttl > 0 {
		cacheCfg.TTL = ttl
	}
	deps.reportCache = core.NewReportCache(core.ReportCacheOptions{
		Cache:   deps.cacheRepo,
		Reports: deps.reportsRepo,
		Config:  cacheCfg,
	})
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func resolveLease(lease time.Duration) time.Duration {
	if lease > 0 {
		return lease
	}
	return 30 * time.Second
}

func resolveWorkers(workers int) int {
	if workers > 0 {
		return workers
	}
	return 1
}

type jobMetricInput struct {
	Job        *model.Job
	Transition string
	Result     string
	Elapsed    time.Duration
	Err        error
}

func (r *Runner) emitJobMetric(input jobMetricInput) {
	if r.metrics == nil || input.Job == nil {
		return
	}

	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		JobType:    string(input.Job.Type),
		Transition: input.Transition,
		Result:     input.Result,
		Duration:   input.Elapsed,
		Err:        input.Err,
	})
}
