package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pagetally/pagetally/config"
	"github.com/pagetally/pagetally/internal/adapters/auditrunner"
	"github.com/pagetally/pagetally/internal/adapters/notifyrunner"
	"github.com/pagetally/pagetally/internal/adapters/reaper"
	schedrunner "github.com/pagetally/pagetally/internal/adapters/scheduler"
	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/data/cryptoutil"
	"github.com/pagetally/pagetally/internal/observability/statsd"
	"github.com/pagetally/pagetally/internal/service"
	"github.com/pagetally/pagetally/internal/service/failurenotifier"
	"github.com/redis/go-redis/v9"
)

//nolint:ireturn // Returning Encryptor interface is required for runner injection.
func resolveEncryptor(enc cryptoutil.Encryptor, logger *slog.Logger) cryptoutil.Encryptor {
	if enc != nil {
		return enc
	}
	if logger != nil {
		logger.Warn("no encryptor provided; using noop encryptor")
	}
	return &cryptoutil.NoopEncryptor{}
}

// AuditEngineConfig contains configuration for the audit engine worker.
type AuditEngineConfig struct {
	DB              *sql.DB
	RedisClient     redis.UniversalClient
	Logger          *slog.Logger
	Lease           time.Duration
	Concurrency     int
	ReportCacheTTL  time.Duration
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
}

// RunAuditEngine starts the audit engine worker.
func RunAuditEngine(ctx context.Context, cfg AuditEngineConfig) error {
	runner, err := auditrunner.NewRunner(auditrunner.RunnerOptions{
		DB:              cfg.DB,
		RedisClient:     cfg.RedisClient,
		Logger:          cfg.Logger,
		Lease:           cfg.Lease,
		Concurrency:     cfg.Concurrency,
		ReportCacheTTL:  cfg.ReportCacheTTL,
		Metrics:         cfg.Metrics,
		FailureNotifier: cfg.FailureNotifier,
	})
	if err != nil {
		return fmt.Errorf("create audit runner: %w", err)
	}

	return runner.Run(ctx)
}

// NotifierConfig contains configuration for the alert delivery worker.
type NotifierConfig struct {
	DB              *sql.DB
	Logger          *slog.Logger
	Lease           time.Duration
	Concurrency     int
	DispatchTimeout time.Duration
	BaseURL         string
	Encryptor       cryptoutil.Encryptor
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
}

// RunNotifier starts the alert delivery worker.
func RunNotifier(ctx context.Context, cfg NotifierConfig) error {
	deliveryCfg := service.DefaultWebhookDeliveryConfig()
	if cfg.DispatchTimeout > 0 {
		deliveryCfg.Timeout = cfg.DispatchTimeout
	}

	runner, err := notifyrunner.NewRunner(notifyrunner.RunnerOptions{
		DB:              cfg.DB,
		Logger:          cfg.Logger,
		Lease:           cfg.Lease,
		Concurrency:     cfg.Concurrency,
		BaseURL:         cfg.BaseURL,
		Encryptor:       resolveEncryptor(cfg.Encryptor, cfg.Logger),
		DeliveryConfig:  deliveryCfg,
		Metrics:         cfg.Metrics,
		FailureNotifier: cfg.FailureNotifier,
	})
	if err != nil {
		return fmt.Errorf("create notify runner: %w", err)
	}

	return runner.Run(ctx)
}

// SchedulerConfig contains configuration for the capture scheduler service.
type SchedulerConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.SchedulerConfig
	Metrics statsd.Sink
}

// RunScheduler starts the capture scheduler service.
func RunScheduler(ctx context.Context, cfg SchedulerConfig) error {
	schedulerCfg := buildSchedulerConfig(cfg.Config)

	runner, err := schedrunner.NewRunner(schedrunner.RunnerOptions{
		DB:       cfg.DB,
		Config:   schedulerCfg,
		Interval: cfg.Config.Interval,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create scheduler runner: %w", err)
	}

	return runner.Run(ctx)
}

// buildSchedulerConfig maps environment-driven scheduler settings onto the
// service configuration, falling back to defaults for unset values.
func buildSchedulerConfig(cfg config.SchedulerConfig) *core.SchedulerConfig {
	schedulerCfg := core.DefaultSchedulerConfig()
	if cfg.BatchSize > 0 {
		schedulerCfg.BatchSize = cfg.BatchSize
	}
	if cfg.DefaultJobType != "" {
		schedulerCfg.DefaultJobType = cfg.DefaultJobType
	}
	schedulerCfg.DefaultPriority = cfg.DefaultPriority
	if cfg.MaxRetries > 0 {
		schedulerCfg.MaxRetries = cfg.MaxRetries
	}
	if cfg.OverrunPolicy != "" {
		schedulerCfg.Strategy.Overrun = cfg.OverrunPolicy
	}
	if cfg.OverrunStates != 0 {
		schedulerCfg.Strategy.OverrunStates = cfg.OverrunStates
	}
	return &schedulerCfg
}

// ReaperConfig contains configuration for the job reaper service.
type ReaperConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the job reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
