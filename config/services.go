package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pagetally/pagetally/internal/domain"
	"github.com/pagetally/pagetally/internal/domain/model"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeAuditEngine runs the audit engine worker.
	ServiceModeAuditEngine ServiceMode = "audit-engine"
	// ServiceModeScheduler runs the capture scheduler.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeReaper runs the job reaper for cleanup.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeNotifier runs the alert delivery job runner.
	ServiceModeNotifier ServiceMode = "notifier"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeAuditEngine,
		ServiceModeScheduler,
		ServiceModeReaper,
		ServiceModeNotifier,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP,
			ServiceModeAuditEngine,
			ServiceModeScheduler,
			ServiceModeReaper,
			ServiceModeNotifier:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, audit-engine, scheduler, reaper, notifier)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains capture scheduler configuration.
type SchedulerConfig struct {
	// BatchSize is the number of due pages to schedule per tick.
	BatchSize int `env:"SCHEDULER_BATCH_SIZE" envDefault:"25"`

	// DefaultJobType is the job type enqueued for due pages.
	DefaultJobType model.JobType `env:"SCHEDULER_DEFAULT_JOB_TYPE" envDefault:"capture"`

	// DefaultPriority is the default priority for scheduled capture jobs.
	DefaultPriority int `env:"SCHEDULER_DEFAULT_PRIORITY" envDefault:"0"`

	// MaxRetries is the maximum number of retries for failed capture jobs.
	MaxRetries int `env:"SCHEDULER_MAX_RETRIES" envDefault:"3"`

	// OverrunPolicy determines how to handle pages whose previous capture is still outstanding.
	// Valid values: skip, queue, reschedule
	OverrunPolicy domain.OverrunPolicy `env:"SCHEDULER_OVERRUN" envDefault:"skip"`

	// OverrunStates defines which job states block new enqueue attempts when OverrunPolicy=skip.
	// Comma-separated list of: running, pending, retrying.
	OverrunStates domain.OverrunStateMask `env:"SCHEDULER_OVERRUN_STATES" envDefault:"running,pending"`

	// Interval is the scheduler tick interval.
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"15s"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.OverrunStates == 0 {
		s.OverrunStates = domain.OverrunStatesDefault
	}
	if s.Interval < time.Second {
		s.Interval = time.Second
	}
}

// AuditEngineConfig contains audit engine service configuration.
type AuditEngineConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"AUDIT_ENGINE_CONCURRENCY" envDefault:"2"`

	// JobLease is the duration to lease an audit job.
	JobLease time.Duration `env:"AUDIT_ENGINE_JOB_LEASE" envDefault:"30s"`

	// AutoEnqueue determines whether to auto-enqueue audit jobs when a scan completes.
	AutoEnqueue bool `env:"AUDIT_ENGINE_AUTO_ENQUEUE" envDefault:"true"`
}

// Sanitize applies guardrails to audit engine configuration values.
func (a *AuditEngineConfig) Sanitize() {
	if a.Concurrency < 1 {
		a.Concurrency = 1
	}
	if a.JobLease < 5*time.Second {
		a.JobLease = 5 * time.Second
	}
}

// NotifierConfig contains alert delivery runner configuration.
type NotifierConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"NOTIFIER_CONCURRENCY" envDefault:"2"`

	// JobLease is the duration to lease a notify job.
	JobLease time.Duration `env:"NOTIFIER_JOB_LEASE" envDefault:"30s"`

	// DispatchTimeout bounds a single webhook delivery attempt.
	DispatchTimeout time.Duration `env:"NOTIFIER_DISPATCH_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to notifier configuration values.
func (n *NotifierConfig) Sanitize() {
	if n.Concurrency < 1 {
		n.Concurrency = 1
	}
	if n.JobLease < 5*time.Second {
		n.JobLease = 5 * time.Second
	}
	if n.DispatchTimeout <= 0 {
		n.DispatchTimeout = 10 * time.Second
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is the maximum age for pending jobs before they are marked as failed.
	// Jobs stuck in pending status longer than this will be failed.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"1h"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// ScansMaxAge is the maximum age for completed scans before deletion.
	// Scan reports and captured request records are removed with their scan.
	ScansMaxAge time.Duration `env:"REAPER_SCANS_MAX_AGE" envDefault:"2160h"` // 90 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}
	if r.ScansMaxAge < 24*time.Hour {
		r.ScansMaxAge = 24 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
