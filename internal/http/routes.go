package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/pagetally/pagetally/internal/domain/auth"
	"github.com/pagetally/pagetally/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs       *service.JobService
	Scans      *service.ScanService
	Audits     *service.AuditService
	Pages      *service.PageService
	BudgetSets *service.BudgetSetService
	Webhooks   *service.WebhookSinkService
	Delivery   *service.WebhookDeliveryService
	Alerts     *service.AlertService
	Auth       *service.AuthService

	// Ready lists backing dependencies probed by /readyz, keyed by name.
	Ready map[string]Pinger

	// CollectorToken authenticates collector traffic. Empty disables the
	// collector surface entirely.
	CollectorToken string
	CookieDomain   string

	// CompressionEnabled turns on gzip for JSON responses; scan reports and
	// request listings compress well.
	CompressionEnabled bool
	CompressionLevel   int

	Logger *slog.Logger
}

// NewRouter creates and configures the HTTP router. Collector endpoints are
// token-authenticated; operator endpoints require a session, with mutations
// restricted to admins.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Jobs, Scans: services.Scans, Logger: services.Logger}
	scanHandlers := &ScanHandlers{Svc: services.Scans, Audits: services.Audits}
	pageHandlers := &PageHandlers{Svc: services.Pages, Scans: services.Scans, Audits: services.Audits}
	budgetSetHandlers := &BudgetSetHandlers{Svc: services.BudgetSets}
	webhookHandlers := &WebhookHandlers{Svc: services.Webhooks, Delivery: services.Delivery}
	alertHandlers := &AlertHandlers{Svc: services.Alerts}

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.Ready))

	registerCollectorRoutes(mux, collectorRouteDeps{
		Jobs:  jobHandlers,
		Scans: scanHandlers,
		Token: services.CollectorToken,
	})
	registerOperatorRoutes(mux, operatorRouteDeps{
		Jobs:       jobHandlers,
		Scans:      scanHandlers,
		Pages:      pageHandlers,
		BudgetSets: budgetSetHandlers,
		Webhooks:   webhookHandlers,
		Alerts:     alertHandlers,
		Auth:       services.Auth,
	})

	if services.Auth != nil {
		registerAuthRoutes(mux, &AuthHandlers{
			Svc:          services.Auth,
			CookieDomain: services.CookieDomain,
			Logger:       services.Logger,
		})
	}

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Order: Recover -> Logging -> Compression -> mux, so logging captures
	// compressed sizes and panics in any layer are contained.
	var handler http.Handler = mux
	if services.CompressionEnabled {
		level := services.CompressionLevel
		if level <= 0 {
			level = 6
		}
		handler = Compression(CompressionConfig{Level: level, Logger: logger})(handler)
	}
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}

// collectorRouteDeps groups handlers for the collector surface.
type collectorRouteDeps struct {
	Jobs  *JobHandlers
	Scans *ScanHandlers
	Token string
}

func registerCollectorRoutes(mux *http.ServeMux, deps collectorRouteDeps) {
	wrap := RequireCollectorToken(deps.Token)

	mux.Handle("POST /api/jobs/reserve", wrap(http.HandlerFunc(deps.Jobs.ReserveNext)))
	mux.Handle("POST /api/jobs/{id}/heartbeat", wrap(http.HandlerFunc(deps.Jobs.Heartbeat)))
	mux.Handle("POST /api/jobs/{id}/complete", wrap(http.HandlerFunc(deps.Jobs.Complete)))
	mux.Handle("POST /api/jobs/{id}/fail", wrap(http.HandlerFunc(deps.Jobs.Fail)))

	mux.Handle("POST /api/scans/{id}/requests", wrap(http.HandlerFunc(deps.Scans.IngestBatch)))
	mux.Handle("POST /api/scans/{id}/complete", wrap(http.HandlerFunc(deps.Scans.Complete)))
	mux.Handle("POST /api/scans/{id}/fail", wrap(http.HandlerFunc(deps.Scans.Fail)))
}

// operatorRouteDeps groups handlers for the session-authenticated surface.
type operatorRouteDeps struct {
	Jobs       *JobHandlers
	Scans      *ScanHandlers
	Pages      *PageHandlers
	BudgetSets *BudgetSetHandlers
	Webhooks   *WebhookHandlers
	Alerts     *AlertHandlers
	Auth       *service.AuthService
}

// authed returns a middleware that requires any authenticated session, or a
// no-op wrapper when auth is not configured.
func (d operatorRouteDeps) authed() func(http.Handler) http.Handler {
	if d.Auth == nil {
		return func(h http.Handler) http.Handler { return h }
	}
	return RequireAuth(d.Auth)
}

// adminOnly returns a middleware that requires an admin session, or a no-op
// wrapper when auth is not configured.
func (d operatorRouteDeps) adminOnly() func(http.Handler) http.Handler {
	if d.Auth == nil {
		return func(h http.Handler) http.Handler { return h }
	}
	return RequireRole(d.Auth, domainauth.RoleAdmin)
}

func registerOperatorRoutes(mux *http.ServeMux, deps operatorRouteDeps) {
	authed := deps.authed()
	admin := deps.adminOnly()

	registerCRUD(mux, crudRoutes{
		Base:    "/api/pages",
		Create:  deps.Pages.Create,
		List:    deps.Pages.List,
		GetByID: deps.Pages.Get,
		Update:  deps.Pages.Update,
		Delete:  deps.Pages.Delete,
		Read:    authed,
		Write:   admin,
	})
	mux.Handle("POST /api/pages/{id}/capture", admin(http.HandlerFunc(deps.Pages.Capture)))
	mux.Handle("GET /api/pages/{id}/report", authed(http.HandlerFunc(deps.Pages.Report)))

	registerCRUD(mux, crudRoutes{
		Base:    "/api/budget-sets",
		Create:  deps.BudgetSets.Create,
		List:    deps.BudgetSets.List,
		GetByID: deps.BudgetSets.Get,
		Update:  deps.BudgetSets.Update,
		Delete:  deps.BudgetSets.Delete,
		Read:    authed,
		Write:   admin,
	})

	registerCRUD(mux, crudRoutes{
		Base:    "/api/webhooks",
		Create:  deps.Webhooks.Create,
		List:    deps.Webhooks.List,
		GetByID: deps.Webhooks.Get,
		Update:  deps.Webhooks.Update,
		Delete:  deps.Webhooks.Delete,
		Read:    authed,
		Write:   admin,
	})
	mux.Handle("POST /api/webhooks/{id}/test", admin(http.HandlerFunc(deps.Webhooks.Test)))

	mux.Handle("GET /api/scans", authed(http.HandlerFunc(deps.Scans.List)))
	mux.Handle("GET /api/scans/{id}", authed(http.HandlerFunc(deps.Scans.Get)))
	mux.Handle("GET /api/scans/{id}/report", authed(http.HandlerFunc(deps.Scans.Report)))
	mux.Handle("POST /api/scans/import", admin(http.HandlerFunc(deps.Scans.Import)))

	mux.Handle("GET /api/alerts", authed(http.HandlerFunc(deps.Alerts.List)))
	mux.Handle("GET /api/alerts/stats", authed(http.HandlerFunc(deps.Alerts.Stats)))
	mux.Handle("GET /api/alerts/{id}", authed(http.HandlerFunc(deps.Alerts.Get)))
	mux.Handle("POST /api/alerts/{id}/resolve", authed(http.HandlerFunc(deps.Alerts.Resolve)))
	mux.Handle("DELETE /api/alerts/{id}", admin(http.HandlerFunc(deps.Alerts.Delete)))

	mux.Handle("POST /api/jobs", admin(http.HandlerFunc(deps.Jobs.CreateJob)))
	mux.Handle("GET /api/jobs/stats", authed(http.HandlerFunc(deps.Jobs.Stats)))
	mux.Handle("GET /api/jobs/{id}", authed(http.HandlerFunc(deps.Jobs.GetStatus)))
}

// crudRoutes registers standard CRUD routes for a resource base path. Read
// endpoints use the Read wrapper; mutations use Write.
type crudRoutes struct {
	Base    string
	Create  http.HandlerFunc
	List    http.HandlerFunc
	GetByID http.HandlerFunc
	Update  http.HandlerFunc
	Delete  http.HandlerFunc
	Read    func(http.Handler) http.Handler
	Write   func(http.Handler) http.Handler
}

func registerCRUD(mux *http.ServeMux, cfg crudRoutes) {
	if cfg.Base == "" {
		panic("registerCRUD: Base must not be empty") //nolint:forbidigo // Fail fast during server setup.
	}
	if cfg.Create == nil ||
		cfg.List == nil ||
		cfg.GetByID == nil ||
		cfg.Update == nil ||
		cfg.Delete == nil {
		panic("registerCRUD: nil handler for base " + cfg.Base) //nolint:forbidigo // Fail fast during server setup.
	}

	read := cfg.Read
	if read == nil {
		read = func(h http.Handler) http.Handler { return h }
	}
	write := cfg.Write
	if write == nil {
		write = func(h http.Handler) http.Handler { return h }
	}

	mux.Handle("POST "+cfg.Base, write(cfg.Create))
	mux.Handle("GET "+cfg.Base, read(cfg.List))
	mux.Handle("GET "+cfg.Base+"/{id}", read(cfg.GetByID))
	mux.Handle("PATCH "+cfg.Base+"/{id}", write(cfg.Update))
	mux.Handle("DELETE "+cfg.Base+"/{id}", write(cfg.Delete))
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.HandleFunc("GET /auth/login", h.Login)
	mux.HandleFunc("GET /auth/callback", h.Callback)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/session", h.Session)
}
