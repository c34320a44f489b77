package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pagetally/pagetally/config"
	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/data"
	"github.com/pagetally/pagetally/internal/data/cryptoutil"
	"github.com/pagetally/pagetally/internal/observability/notify/pagerduty"
	"github.com/pagetally/pagetally/internal/observability/notify/slack"
	"github.com/pagetally/pagetally/internal/observability/statsd"
	"github.com/pagetally/pagetally/internal/service"
	"github.com/pagetally/pagetally/internal/service/failurenotifier"
	"github.com/redis/go-redis/v9"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Scans         *service.ScanService
	Audits        *service.AuditService
	Pages         *service.PageService
	BudgetSets    *service.BudgetSetService
	Webhooks      *service.WebhookSinkService
	Delivery      *service.WebhookDeliveryService
	Alerts        *service.AlertService
	Auth          *service.AuthService
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB                     *sql.DB
	Redis                  redis.UniversalClient
	JobRepo                *data.JobRepo
	ScanRepo               *data.ScanRepo
	RequestRecordRepo      *data.RequestRecordRepo
	PageRepo               *data.PageRepo
	ReportRepo             *data.ReportRepo
	BudgetSetRepo          *data.BudgetSetRepo
	AlertRepo              *data.AlertRepo
	WebhookSinkRepo        *data.WebhookSinkRepo
	ScheduledJobsAdminRepo *data.ScheduledJobsAdminRepo
	CacheRepo              *data.RedisCacheRepo
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "pagetally",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	failureNotifier := buildFailureNotifier(obsLogger, cfg.Notifications)

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: failureNotifier,
		NotifierConfig:  cfg.Notifications,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redis redis.UniversalClient) *serviceRepositories {
	repos := &serviceRepositories{
		DB:                     db,
		Redis:                  redis,
		JobRepo:                data.NewJobRepo(db, data.RepoConfig{}),
		ScanRepo:               data.NewScanRepo(db),
		RequestRecordRepo:      data.NewRequestRecordRepo(db),
		PageRepo:               data.NewPageRepo(db),
		ReportRepo:             data.NewReportRepo(db),
		BudgetSetRepo:          data.NewBudgetSetRepo(db),
		AlertRepo:              data.NewAlertRepo(db),
		WebhookSinkRepo:        data.NewWebhookSinkRepo(db),
		ScheduledJobsAdminRepo: data.NewScheduledJobsAdminRepo(db),
	}
	if redis != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(redis)
	}
	return repos
}

func newJobService(repos *serviceRepositories, observability ObservabilityContainer, logger *slog.Logger) *service.JobService {
	return service.MustNewJobService(service.JobServiceOptions{
		Repo:            repos.JobRepo,
		DefaultLease:    30 * time.Second,
		Logger:          logger,
		FailureNotifier: observability.FailureNotifier,
	})
}

func newScanService(repos *serviceRepositories, cfg config.CacheConfig, logger *slog.Logger) *service.ScanService {
	scanCfg := service.DefaultScanServiceConfig()
	if cfg.IngestDedupeTTL > 0 {
		scanCfg.BatchDedupeTTL = cfg.IngestDedupeTTL
	}
	deps := service.ScanServiceDeps{
		Jobs:   repos.JobRepo,
		Pages:  repos.PageRepo,
		Config: scanCfg,
		Logger: logger,
	}
	if repos.CacheRepo != nil {
		deps.Cache = repos.CacheRepo
	}
	return service.MustNewScanService(service.ScanServiceOptions{
		Scans:   repos.ScanRepo,
		Records: repos.RequestRecordRepo,
		Deps:    deps,
	})
}

func newReportCache(repos *serviceRepositories, cfg config.CacheConfig) *core.ReportCache {
	if repos.CacheRepo == nil {
		return nil
	}
	cacheCfg := core.DefaultReportCacheConfig()
	if cfg.ReportTTL > 0 {
		cacheCfg.TTL = cfg.ReportTTL
	}
	return core.NewReportCache(core.ReportCacheOptions{
		Cache:   repos.CacheRepo,
		Reports: repos.ReportRepo,
		Config:  cacheCfg,
	})
}

func newAuditService(repos *serviceRepositories, reportCache *core.ReportCache, logger *slog.Logger) *service.AuditService {
	return service.MustNewAuditService(service.AuditServiceOptions{
		Scans:   repos.ScanRepo,
		Reports: repos.ReportRepo,
		Deps: service.AuditServiceDeps{
			Pages:      repos.PageRepo,
			BudgetSets: repos.BudgetSetRepo,
			Records:    repos.RequestRecordRepo,
			Alerts:     repos.AlertRepo,
			Jobs:       repos.JobRepo,
			Cache:      reportCache,
			Logger:     logger,
		},
	})
}

func newPageService(repos *serviceRepositories, logger *slog.Logger) *service.PageService {
	return service.NewPageService(service.PageServiceOptions{
		PageRepo: repos.PageRepo,
		Admin:    repos.ScheduledJobsAdminRepo,
		Extras: service.PageServiceExtras{
			Jobs:   repos.JobRepo,
			Logger: logger,
		},
	})
}

// webhookBundle pairs the sink CRUD service with the delivery service that
// decrypts its bearer tokens.
type webhookBundle struct {
	sinks    *service.WebhookSinkService
	delivery *service.WebhookDeliveryService
}

func newWebhookServices(repos *serviceRepositories, cfg *config.AppConfig, logger *slog.Logger) webhookBundle {
	encryptor := CreateEncryptor(cfg.TokenEncryptionKey, logger)

	sinks := service.MustNewWebhookSinkService(service.WebhookSinkServiceOptions{
		Repo:      repos.WebhookSinkRepo,
		Encryptor: encryptor,
		Logger:    logger,
	})

	deliveryCfg := service.DefaultWebhookDeliveryConfig()
	if cfg.Notifier.DispatchTimeout > 0 {
		deliveryCfg.Timeout = cfg.Notifier.DispatchTimeout
	}
	delivery := service.MustNewWebhookDeliveryService(service.WebhookDeliveryOptions{
		Sinks:  sinks,
		Config: deliveryCfg,
		Logger: logger,
	})

	return webhookBundle{sinks: sinks, delivery: delivery}
}

func newAlertService(repos *serviceRepositories, webhooks webhookBundle, baseURL string, logger *slog.Logger) *service.AlertService {
	dispatcher := service.NewAlertDispatchService(service.AlertDispatchServiceOptions{
		Sinks:     repos.WebhookSinkRepo,
		Alerts:    repos.AlertRepo,
		Pages:     repos.PageRepo,
		Deliverer: webhooks.delivery,
		BaseURL:   baseURL,
		Logger:    logger,
	})

	return service.MustNewAlertService(service.AlertServiceOptions{
		Repo:       repos.AlertRepo,
		Pages:      repos.PageRepo,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
}

func newAuthService(cfg config.AuthConfig, redis redis.UniversalClient, logger *slog.Logger) *service.AuthService {
	return BuildAuthService(AuthConfig{
		Auth:        cfg,
		RedisClient: redis,
		Logger:      logger,
	})
}

// DomainServicesOptions groups inputs for buildDomainServices.
type DomainServicesOptions struct {
	Repos         *serviceRepositories
	Observability ObservabilityContainer
	Config        *config.AppConfig
	Logger        *slog.Logger
}

// buildDomainServices wires business services using repositories and observability adapters.
func buildDomainServices(opts *DomainServicesOptions) ServiceContainer {
	if opts == nil {
		return ServiceContainer{}
	}
	svcLogger := opts.Logger
	if svcLogger == nil {
		svcLogger = slog.Default()
	}

	appCfg := opts.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	jobService := newJobService(opts.Repos, opts.Observability, svcLogger)
	scanService := newScanService(opts.Repos, appCfg.Cache, svcLogger)
	reportCache := newReportCache(opts.Repos, appCfg.Cache)
	auditService := newAuditService(opts.Repos, reportCache, svcLogger)
	pageService := newPageService(opts.Repos, svcLogger)
	budgetSetService := service.MustNewBudgetSetService(service.BudgetSetServiceOptions{
		Repo:   opts.Repos.BudgetSetRepo,
		Logger: svcLogger,
	})
	webhooks := newWebhookServices(opts.Repos, appCfg, svcLogger)
	alertService := newAlertService(opts.Repos, webhooks, appCfg.HTTP.BaseURL, svcLogger)
	authService := newAuthService(appCfg.Auth, opts.Repos.Redis, svcLogger)

	return ServiceContainer{
		Jobs:          jobService,
		Scans:         scanService,
		Audits:        auditService,
		Pages:         pageService,
		BudgetSets:    budgetSetService,
		Webhooks:      webhooks.sinks,
		Delivery:      webhooks.delivery,
		Alerts:        alertService,
		Auth:          authService,
		Observability: opts.Observability,
	}
}

func NewServices(deps *ServiceDeps) ServiceContainer {
	if deps == nil {
		return ServiceContainer{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var obsCfg config.ObservabilityConfig
	if deps.Config != nil {
		obsCfg = deps.Config.Observability
	}
	observability := buildObservability(logger, obsCfg)
	repos := buildRepositories(deps.DB, deps.RedisClient)
	return buildDomainServices(&DomainServicesOptions{
		Repos:         repos,
		Observability: observability,
		Config:        deps.Config,
		Logger:        logger,
	})
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:    cfg.Slack.WebhookURL,
			Channel:       cfg.Slack.Channel,
			Username:      cfg.Slack.Username,
			Timeout:       cfg.Timeout,
			RetryLimit:    cfg.RetryLimit,
			PageURLPrefix: cfg.Slack.PageURLPrefix,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger.With("component", "failure_notifier"),
		Sinks:  sinks,
	})
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	encryptor       cryptoutil.Encryptor
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:      deps.cfg.Config,
		Services:    deps.cfg.Services,
		DB:          deps.cfg.DB,
		RedisClient: deps.cfg.RedisClient,
		Logger:      deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				if deps.logger != nil {
					deps.logger.WarnContext(
						ctx,
						"dropping background service error",
						"service",
						descriptor.name,
						"error",
						errMsg,
					)
				} else {
					slog.Default().WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
				}
			}
		}
	}()

	if deps.logger != nil {
		deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	} else {
		slog.Default().InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	}

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newSchedulerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeScheduler,
		name: "scheduler",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			schedulerCfg := config.SchedulerConfig{}
			if deps.cfg.Config != nil {
				schedulerCfg = deps.cfg.Config.Scheduler
			}
			return RunScheduler(ctx, SchedulerConfig{
				DB:      deps.cfg.DB,
				Logger:  deps.logger,
				Config:  schedulerCfg,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func newAuditEngineBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeAuditEngine,
		name: "audit engine",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var engineCfg config.AuditEngineConfig
			var cacheCfg config.CacheConfig
			if deps.cfg.Config != nil {
				engineCfg = deps.cfg.Config.AuditEngine
				cacheCfg = deps.cfg.Config.Cache
			}
			return RunAuditEngine(ctx, AuditEngineConfig{
				DB:              deps.cfg.DB,
				RedisClient:     deps.cfg.RedisClient,
				Logger:          deps.logger,
				Lease:           engineCfg.JobLease,
				Concurrency:     engineCfg.Concurrency,
				ReportCacheTTL:  cacheCfg.ReportTTL,
				Metrics:         deps.cfg.Services.Observability.MetricsSink,
				FailureNotifier: deps.cfg.Services.Observability.FailureNotifier,
			})
		},
	}
}

func newNotifierBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeNotifier,
		name: "notifier",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var notifierCfg config.NotifierConfig
			baseURL := ""
			if deps.cfg.Config != nil {
				notifierCfg = deps.cfg.Config.Notifier
				baseURL = deps.cfg.Config.HTTP.BaseURL
			}
			return RunNotifier(ctx, NotifierConfig{
				DB:              deps.cfg.DB,
				Logger:          deps.logger,
				Lease:           notifierCfg.JobLease,
				Concurrency:     notifierCfg.Concurrency,
				DispatchTimeout: notifierCfg.DispatchTimeout,
				BaseURL:         baseURL,
				Encryptor:       deps.encryptor,
				Metrics:         deps.cfg.Services.Observability.MetricsSink,
				FailureNotifier: deps.cfg.Services.Observability.FailureNotifier,
			})
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var reaperCfg config.ReaperConfig
			if deps.cfg.Config != nil {
				reaperCfg = deps.cfg.Config.Reaper
			}
			return RunReaper(ctx, ReaperConfig{
				DB:      deps.cfg.DB,
				Logger:  deps.logger,
				Config:  reaperCfg,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newSchedulerBackgroundService(deps),
		newAuditEngineBackgroundService(deps),
		newNotifierBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	encryptor := CreateEncryptor(cfg.Config.TokenEncryptionKey, logger)

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		encryptor:       encryptor,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		jobService:  cfg.Services.Jobs,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	jobService  *service.JobService
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	// Gracefully stop HTTP server if running
	if cfg.httpServer != nil {
		// Create a timeout context for HTTP shutdown
		shutdownCtx, cancel := context.WithTimeout(cfg.ctx, shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context:    shutdownCtx,
			Server:     cfg.httpServer,
			JobService: cfg.jobService,
			Logger:     cfg.logger,
		}); err != nil {
			return err
		}
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
