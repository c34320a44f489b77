// Package notifyrunner provides a job runner adapter for delivering overage
// alerts to webhook sinks.
package notifyrunner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/data"
	"github.com/pagetally/pagetally/internal/data/cryptoutil"
	"github.com/pagetally/pagetally/internal/domain/model"
	obserrors "github.com/pagetally/pagetally/internal/observability/errors"
	"github.com/pagetally/pagetally/internal/observability/metrics"
	"github.com/pagetally/pagetally/internal/observability/statsd"
	"github.com/pagetally/pagetally/internal/service"
	"github.com/pagetally/pagetally/internal/service/failurenotifier"
)

// RunnerOptions configures the notify job runner adapter.
type RunnerOptions struct {
	DB         *sql.DB
	Logger     *slog.Logger
	HTTPClient *http.Client

	// Job processing settings
	Lease       time.Duration // per-job lease duration; defaults to 30s
	Concurrency int           // number of worker goroutines; defaults to 1

	// BaseURL is the operator UI origin used to build alert links in payloads.
	BaseURL string

	// Encryptor decrypts sink bearer tokens (if nil, will use NoopEncryptor)
	Encryptor cryptoutil.Encryptor

	// Delivery tuning; zero values fall back to service defaults.
	DeliveryConfig service.WebhookDeliveryConfig

	// Optional dependency injections (useful for tests/decoupling)
	JobsRepo        core.JobRepository
	AlertsRepo      core.AlertRepository
	SinksRepo       core.WebhookSinkRepository
	PagesRepo       core.PageRepository
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
}

// Runner pulls notify jobs and fans the referenced alert out to every
// enabled webhook sink.
type Runner struct {
	jobs       *service.JobService
	alerts     core.AlertRepository
	dispatcher *service.AlertDispatchService
	logger     *slog.Logger
	lease      time.Duration
	workers    int
	metrics    statsd.Sink
}

// internal wiring helpers to keep NewRunner small

type runnerDeps struct {
	jobsRepo   core.JobRepository
	alertsRepo core.AlertRepository
	sinksRepo  core.WebhookSinkRepository
	pagesRepo  core.PageRepository
	jobSvc     *service.JobService
	dispatcher *service.AlertDispatchService
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func buildRunnerDeps(opts RunnerOptions, lease time.Duration) (runnerDeps, error) {
	deps := runnerDeps{}

	if opts.JobsRepo != nil {
		deps.jobsRepo = opts.JobsRepo
	} else {
		deps.jobsRepo = data.NewJobRepo(opts.DB, data.RepoConfig{})
	}
	deps.jobSvc = service.MustNewJobService(service.JobServiceOptions{
		Repo:            deps.jobsRepo,
		DefaultLease:    lease,
		FailureNotifier: opts.FailureNotifier,
	})

	if opts.AlertsRepo != nil {
		deps.alertsRepo = opts.AlertsRepo
	} else if opts.DB != nil {
		deps.alertsRepo = data.NewAlertRepo(opts.DB)
	}

	if opts.SinksRepo != nil {
		deps.sinksRepo = opts.SinksRepo
	} else if opts.DB != nil {
		deps.sinksRepo = data.NewWebhookSinkRepo(opts.DB)
	}

	if opts.PagesRepo != nil {
		deps.pagesRepo = opts.PagesRepo
	} else if opts.DB != nil {
		deps.pagesRepo = data.NewPageRepo(opts.DB)
	}

	dispatcher, err := buildDispatcher(opts, deps)
	if err != nil {
		return runnerDeps{}, err
	}
	deps.dispatcher = dispatcher

	return deps, nil
}

func buildDispatcher(opts RunnerOptions, deps runnerDeps) (*service.AlertDispatchService, error) {
	if deps.sinksRepo == nil {
		return nil, errors.New("webhook sink repository is required")
	}

	enc := opts.Encryptor
	if enc == nil {
		enc = &cryptoutil.NoopEncryptor{}
	}

	sinkSvc, err := service.NewWebhookSinkService(service.WebhookSinkServiceOptions{
		Repo:      deps.sinksRepo,
		Encryptor: enc,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook sink service: %w", err)
	}

	delivery, err := service.NewWebhookDeliveryService(service.WebhookDeliveryOptions{
		Sinks:      sinkSvc,
		HTTPClient: opts.HTTPClient,
		Config:     opts.DeliveryConfig,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook delivery service: %w", err)
	}

	return service.NewAlertDispatchService(service.AlertDispatchServiceOptions{
		Sinks:     deps.sinksRepo,
		Alerts:    deps.alertsRepo,
		Pages:     deps.pagesRepo,
		Deliverer: delivery,
		BaseURL:   opts.BaseURL,
		Logger:    opts.Logger,
	}), nil
}

// NewRunner wires repositories/services and constructs a notify job runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && (opts.JobsRepo == nil || opts.SinksRepo == nil) {
		return nil, errors.New("either DB or explicit repositories must be provided")
	}

	logger := resolveLogger(opts.Logger)

	lease := opts.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	deps, err := buildRunnerDeps(opts, lease)
	if err != nil {
		return nil, err
	}

	return &Runner{
		jobs:       deps.jobSvc,
		alerts:     deps.alertsRepo,
		dispatcher: deps.dispatcher,
		logger:     logger,
		lease:      lease,
		workers:    workers,
		metrics:    opts.Metrics,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting notify job runner", "workers", r.workers, "lease", r.lease)

	// Derive a cancellable context that we can signal on first fatal error
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, ch := r.jobs.Subscribe(model.JobTypeNotify)
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, ch); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx, model.JobTypeNotify, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType:    string(job.Type),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	if err := r.handleNotifyJob(ctx, job); err != nil {
		if _, ferr := r.jobs.FailWithDetails(ctx, job.ID, err.Error(), service.JobFailureDetails{
			ErrorClass: obserrors.Classify(err),
			Metadata: map[string]string{
				"component": "notify_runner",
			},
		}); ferr != nil {
			r.logger.ErrorContext(ctx, "fail job error", "job_id", job.ID, "error", ferr, "original_error", err)
		}
		emit("failed", metrics.ResultError, err)
		return
	}
	if completed, err := r.jobs.Complete(ctx, job.ID); err != nil {
		r.logger.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", err)
		emit("completed", metrics.ResultError, err)
	} else {
		result := metrics.ResultNoop
		if completed {
			result = metrics.ResultSuccess
		}
		emit("completed", result, nil)
	}
}

// handleNotifyJob loads the alert named by the job payload and fans it out
// to every enabled webhook sink. Delivery status bookkeeping happens inside
// the dispatch service; a returned error puts the job back through the retry
// policy.
func (r *Runner) handleNotifyJob(ctx context.Context, job *model.Job) error {
	var payload model.NotifyJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if payload.AlertID == "" {
		return errors.New("missing alert_id in job payload")
	}

	alert, err := r.alerts.GetByID(ctx, payload.AlertID)
	if err != nil {
		return fmt.Errorf("load alert: %w", err)
	}

	// Alerts resolved between enqueue and delivery are dropped silently;
	// nobody wants a webhook for an overage someone already acted on.
	if alert.ResolvedAt != nil {
		r.logger.InfoContext(ctx, "skipping delivery for resolved alert",
			"job_id", job.ID, "alert_id", alert.ID)
		return nil
	}
	if alert.DeliveryStatus == model.AlertDeliveryStatusMuted {
		r.logger.InfoContext(ctx, "skipping delivery for muted alert",
			"job_id", job.ID, "alert_id", alert.ID)
		return nil
	}

	if err := r.dispatcher.Dispatch(ctx, alert); err != nil {
		return fmt.Errorf("dispatch alert %s: %w", alert.ID, err)
	}
	return nil
}
