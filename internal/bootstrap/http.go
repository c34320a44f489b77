package bootstrap

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/pagetally/pagetally/config"
	httpx "github.com/pagetally/pagetally/internal/http"
	"github.com/pagetally/pagetally/internal/service"
	"github.com/redis/go-redis/v9"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Build router services
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	services := httpx.RouterServices{
		Jobs:               cfg.Services.Jobs,
		Scans:              cfg.Services.Scans,
		Audits:             cfg.Services.Audits,
		Pages:              cfg.Services.Pages,
		BudgetSets:         cfg.Services.BudgetSets,
		Webhooks:           cfg.Services.Webhooks,
		Delivery:           cfg.Services.Delivery,
		Alerts:             cfg.Services.Alerts,
		Auth:               cfg.Services.Auth,
		Ready:              buildReadyChecks(cfg.DB, cfg.RedisClient),
		CollectorToken:     appCfg.HTTP.CollectorToken,
		CookieDomain:       appCfg.HTTP.CookieDomain,
		CompressionEnabled: appCfg.HTTP.CompressionEnabled,
		CompressionLevel:   appCfg.HTTP.CompressionLevel,
		Logger:             logger,
	}

	// NewRouter applies the Recover -> Logging -> Compression chain itself.
	handler := httpx.NewRouter(services)

	// Start server (logs "starting HTTP server" internally)
	server := startServer(logger, handler, appCfg.HTTP.Addr)

	return server
}

// buildReadyChecks assembles /readyz probes for the backing stores.
func buildReadyChecks(db *sql.DB, redisClient redis.UniversalClient) map[string]httpx.Pinger {
	checks := make(map[string]httpx.Pinger, 2)
	if db != nil {
		checks["postgres"] = dbPinger{db: db}
	}
	if redisClient != nil {
		checks["redis"] = redisPinger{client: redisClient}
	}
	return checks
}

type dbPinger struct {
	db *sql.DB
}

func (p dbPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func startServer(logger *slog.Logger, handler http.Handler, addr string) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context    context.Context
	Server     *http.Server
	JobService *service.JobService
	Logger     *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	// Stop job service listeners first
	if cfg.JobService != nil {
		cfg.JobService.StopAllListeners()
	}

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(cfg.Context, 10*time.Second)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
