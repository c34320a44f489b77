package devseed

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/data"
	"github.com/pagetally/pagetally/internal/data/cryptoutil"
	"github.com/pagetally/pagetally/internal/domain"
	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/service"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB         *sql.DB
	budgetSets *service.BudgetSetService
	pages      *service.PageService
	sinks      *service.WebhookSinkService
	audit      *service.AuditService
	scans      *data.ScanRepo
	records    *data.RequestRecordRepo
	admin      *data.ScheduledJobsAdminRepo
}

// NewServices constructs all required services for seeding using the provided DB.
func NewServices(db *sql.DB) Services {
	budgetSetRepo := data.NewBudgetSetRepo(db)
	budgetSetService := service.MustNewBudgetSetService(service.BudgetSetServiceOptions{
		Repo: budgetSetRepo,
	})

	encryptor := &cryptoutil.NoopEncryptor{} // Use noop for dev
	sinkService := service.MustNewWebhookSinkService(service.WebhookSinkServiceOptions{
		Repo:      data.NewWebhookSinkRepo(db),
		Encryptor: encryptor,
	})

	pageRepo := data.NewPageRepo(db)
	scheduledAdmin := data.NewScheduledJobsAdminRepo(db)
	pageService := service.NewPageService(service.PageServiceOptions{
		PageRepo: pageRepo,
		Admin:    scheduledAdmin,
		Extras: service.PageServiceExtras{
			Jobs: data.NewJobRepo(db, data.RepoConfig{}),
		},
	})

	scanRepo := data.NewScanRepo(db)
	recordRepo := data.NewRequestRecordRepo(db)
	auditService := service.MustNewAuditService(service.AuditServiceOptions{
		Scans:   scanRepo,
		Reports: data.NewReportRepo(db),
		Deps: service.AuditServiceDeps{
			Pages:      pageRepo,
			BudgetSets: budgetSetRepo,
			Records:    recordRepo,
		},
	})

	return Services{
		DB:         db,
		budgetSets: budgetSetService,
		pages:      pageService,
		sinks:      sinkService,
		audit:      auditService,
		scans:      scanRepo,
		records:    recordRepo,
		admin:      scheduledAdmin,
	}
}

// Run executes the full development seeding workflow against the provided DB.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	d := seedDeps{Pages: svcs.pages, BudgetSets: svcs.budgetSets, Sinks: svcs.sinks, Logger: logger}
	failures := 0
	failures += seedBudgetSets(ctx, svcs.budgetSets, logger)
	failures += seedWebhookSinks(ctx, svcs.sinks, logger)
	if err := seedPages(ctx, d); err != nil {
		return err
	}
	if err := seedSampleScan(ctx, svcs, logger); err != nil {
		if logger != nil {
			logger.ErrorContext(ctx, "failed to seed sample scan", "error", err)
		}
		failures++
	}
	if err := cleanupOrphanPageSchedules(ctx, svcs.DB, logger); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "failed to cleanup orphan page schedules", "error", err)
		}
	}
	if err := reconcilePageSchedules(ctx, svcs, logger); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "failed to reconcile page schedules", "error", err)
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

type seedDeps struct {
	Pages      *service.PageService
	BudgetSets *service.BudgetSetService
	Sinks      *service.WebhookSinkService
	Logger     *slog.Logger
}

func seedBudgetSets(ctx context.Context, svc *service.BudgetSetService, logger *slog.Logger) int {
	failures := 0
	for _, req := range defaultBudgetSets() {
		params := budgetSetOperationParams{
			ctx:     ctx,
			svc:     svc,
			logger:  logger,
			request: req,
		}
		if err := createOrUpdateBudgetSet(params); err != nil {
			failures++
		}
	}
	return failures
}

func defaultBudgetSets() []*model.CreateBudgetSetRequest {
	return []*model.CreateBudgetSetRequest{
		{
			Name:        "default-web",
			Description: stringPtr("Baseline budgets for a typical content page"),
			Budgets: []model.Budget{
				{
					ResourceSizes: []model.ResourceSize{
						{ResourceType: model.ResourceTypeDocument, Budget: 50},
						{ResourceType: model.ResourceTypeScript, Budget: 300},
						{ResourceType: model.ResourceTypeStylesheet, Budget: 100},
						{ResourceType: model.ResourceTypeImage, Budget: 800},
						{ResourceType: model.ResourceTypeFont, Budget: 150},
						{ResourceType: model.ResourceTypeTotal, Budget: 2048},
					},
					ResourceCounts: []model.ResourceCount{
						{ResourceType: model.ResourceTypeScript, Budget: 25},
						{ResourceType: model.ResourceTypeThirdParty, Budget: 15},
					},
				},
			},
		},
		{
			Name:        "strict-landing",
			Description: stringPtr("Tight budgets for conversion-critical landing paths"),
			Budgets: []model.Budget{
				{
					Path: "/landing/*",
					ResourceSizes: []model.ResourceSize{
						{ResourceType: model.ResourceTypeScript, Budget: 120},
						{ResourceType: model.ResourceTypeImage, Budget: 300},
						{ResourceType: model.ResourceTypeTotal, Budget: 800},
					},
					ResourceCounts: []model.ResourceCount{
						{ResourceType: model.ResourceTypeThirdParty, Budget: 5},
					},
				},
				{
					ResourceSizes: []model.ResourceSize{
						{ResourceType: model.ResourceTypeTotal, Budget: 1500},
					},
				},
			},
		},
		{
			Name:        "media-heavy",
			Description: stringPtr("Relaxed image budgets for gallery and media pages"),
			Budgets: []model.Budget{
				{
					ResourceSizes: []model.ResourceSize{
						{ResourceType: model.ResourceTypeImage, Budget: 4096},
						{ResourceType: model.ResourceTypeScript, Budget: 400},
						{ResourceType: model.ResourceTypeTotal, Budget: 6144},
					},
				},
			},
		},
	}
}

type budgetSetOperationParams struct {
	ctx     context.Context
	svc     *service.BudgetSetService
	logger  *slog.Logger
	request *model.CreateBudgetSetRequest
}

func createOrUpdateBudgetSet(params budgetSetOperationParams) error {
	_, err := params.svc.Create(params.ctx, params.request)
	if err == nil {
		params.logBudgetSetCreated()
		return nil
	}

	if !errors.Is(err, data.ErrBudgetSetNameExists) {
		params.logBudgetSetCreateError(err)
		return err
	}

	return updateExistingBudgetSet(params)
}

func updateExistingBudgetSet(params budgetSetOperationParams) error {
	if params.logger != nil {
		params.logger.InfoContext(
			params.ctx,
			"budget set already exists",
			"name",
			params.request.Name,
			"action",
			"updating",
		)
	}

	set, err := params.svc.GetByName(params.ctx, params.request.Name)
	if err != nil {
		if params.logger != nil {
			params.logger.ErrorContext(
				params.ctx,
				"failed to load budget set for update",
				"name",
				params.request.Name,
				"error",
				err,
			)
		}
		return err
	}

	upd := model.UpdateBudgetSetRequest{
		Description: params.request.Description,
		Budgets:     params.request.Budgets,
	}
	if _, updateErr := params.svc.Update(params.ctx, set.ID, upd); updateErr != nil {
		if params.logger != nil {
			params.logger.ErrorContext(
				params.ctx,
				"failed to update budget set",
				"name",
				params.request.Name,
				"error",
				updateErr,
			)
		}
		return updateErr
	}
	if params.logger != nil {
		params.logger.InfoContext(params.ctx, "updated budget set", "name", params.request.Name)
	}
	return nil
}

func (p budgetSetOperationParams) logBudgetSetCreated() {
	if p.logger == nil {
		return
	}

	p.logger.InfoContext(p.ctx, "created budget set", "name", p.request.Name)
}

func (p budgetSetOperationParams) logBudgetSetCreateError(err error) {
	if p.logger == nil {
		return
	}

	p.logger.ErrorContext(p.ctx, "failed to create budget set", "name", p.request.Name, "error", err)
}

func seedWebhookSinks(ctx context.Context, svc *service.WebhookSinkService, logger *slog.Logger) int {
	failures := 0
	for _, req := range defaultWebhookSinkSeeds() {
		created, err := createWebhookSink(ctx, svc, req)
		if err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to create webhook sink", "name", req.Name, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			msg := "webhook sink already exists"
			if created {
				msg = "created webhook sink"
			}
			logger.InfoContext(ctx, msg, "name", req.Name)
		}
	}

	return failures
}

func defaultWebhookSinkSeeds() []*model.CreateWebhookSinkRequest {
	return []*model.CreateWebhookSinkRequest{
		{
			Name: "slack-alerts",
			URL:  "https://hooks.slack.com/services/dev/webhook",
			PayloadExpr: stringPtr(
				`{text: join(' ', ['Budget alert for', page_name]), link: alert_url}`,
			),
			BearerToken: stringPtr("wh_dev_abcdef"),
		},
		{
			Name:        "ops-pager",
			URL:         "https://events.example.com/v2/enqueue",
			PayloadExpr: stringPtr(`{summary: page_name, details: alert, source: 'pagetally-dev'}`),
			BearerToken: stringPtr("bearer_dev_xyz789"),
		},
		{
			Name:    "raw-firehose",
			URL:     "https://webhook.example.com/pagetally",
			Enabled: boolPtr(false),
		},
	}
}

func createWebhookSink(
	ctx context.Context,
	svc *service.WebhookSinkService,
	req *model.CreateWebhookSinkRequest,
) (bool, error) {
	if _, err := svc.Create(ctx, req); err != nil {
		if errors.Is(err, data.ErrWebhookSinkNameExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var errNoBudgetSets = errors.New("no budget sets available for page creation")

func seedPages(ctx context.Context, d seedDeps) error {
	sets, err := fetchAllBudgetSets(ctx, d.BudgetSets)
	if err != nil {
		return fmt.Errorf("list budget sets: %w", err)
	}
	if len(sets) == 0 {
		return errNoBudgetSets
	}

	pages, err := createPageRequests(sets)
	if err != nil {
		return fmt.Errorf("prepare page requests: %w", err)
	}
	params := pageCreationParams{
		ctx:    ctx,
		svc:    d.Pages,
		logger: d.Logger,
	}
	failures := createPages(params, pages)
	if failures > 0 && d.Logger != nil {
		d.Logger.WarnContext(ctx, "some pages failed to create", "failures", failures)
	}
	return nil
}

type pageSeedSpec struct {
	pageName      string
	enabled       bool
	url           string
	minutes       int
	firstParty    []string
	budgetSetName string
}

func createPageRequests(sets []*model.BudgetSet) ([]*model.CreatePageRequest, error) {
	setByName := indexBudgetSetsByName(sets)
	specs := defaultPageSeedSpecs()

	requests := make([]*model.CreatePageRequest, 0, len(specs))
	for _, spec := range specs {
		setID, err := getBudgetSetByName(setByName, spec.budgetSetName)
		if err != nil {
			return nil, fmt.Errorf("page %q: %w", spec.pageName, err)
		}
		requests = append(requests, &model.CreatePageRequest{
			Name:                spec.pageName,
			URL:                 spec.url,
			Enabled:             boolPtr(spec.enabled),
			CaptureEveryMinutes: spec.minutes,
			FirstPartyPatterns:  spec.firstParty,
			BudgetSetID:         stringPtr(setID),
		})
	}

	return requests, nil
}

func defaultPageSeedSpecs() []pageSeedSpec {
	return []pageSeedSpec{
		{
			pageName:      "manual-audit-test",
			enabled:       false,
			url:           "https://example.com",
			minutes:       60,
			budgetSetName: "default-web",
		},
		{
			pageName:      "production-home",
			enabled:       true,
			url:           "https://www.example.com",
			minutes:       15,
			firstParty:    []string{"*.cdn.example.com"},
			budgetSetName: "default-web",
		},
		{
			pageName:      "landing-signup",
			enabled:       true,
			url:           "https://www.example.com/landing/signup",
			minutes:       30,
			budgetSetName: "strict-landing",
		},
		{
			pageName:      "gallery-showcase",
			enabled:       false,
			url:           "https://media.example.com/gallery",
			minutes:       120,
			firstParty:    []string{"*.img.example.com", "*.video.example.com"},
			budgetSetName: "media-heavy",
		},
		{
			pageName:      "fast-smoke-page",
			enabled:       true,
			url:           "https://fast.example.com",
			minutes:       1,
			budgetSetName: "default-web",
		},
	}
}

func indexBudgetSetsByName(sets []*model.BudgetSet) map[string]string {
	out := make(map[string]string, len(sets))
	for _, s := range sets {
		out[s.Name] = s.ID
	}
	return out
}

func getBudgetSetByName(setByName map[string]string, name string) (string, error) {
	if id, ok := setByName[name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("budget set name %q not found in available budget sets", name)
}

func fetchAllBudgetSets(ctx context.Context, svc *service.BudgetSetService) ([]*model.BudgetSet, error) {
	const pageSize = 100
	offset := 0
	var out []*model.BudgetSet
	for {
		page, err := svc.List(ctx, model.BudgetSetListOptions{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)
		offset += len(page)
		if len(page) < pageSize {
			break
		}
	}
	return out, nil
}

type pageCreationParams struct {
	ctx    context.Context
	svc    *service.PageService
	logger *slog.Logger
}

func createPages(params pageCreationParams, pages []*model.CreatePageRequest) int {
	failures := 0
	for _, req := range pages {
		created, err := createPage(params.ctx, params.svc, req)
		if err != nil {
			if params.logger != nil {
				params.logger.ErrorContext(params.ctx, "failed to create page", "name", req.Name, "error", err)
			}
			failures++
			continue
		}
		if params.logger != nil {
			msg := "page already exists"
			if created {
				msg = "created page"
			}
			params.logger.InfoContext(params.ctx, msg, "name", req.Name)
		}
	}
	return failures
}

func createPage(
	ctx context.Context,
	svc *service.PageService,
	req *model.CreatePageRequest,
) (bool, error) {
	if _, err := svc.Create(ctx, req); err != nil {
		if errors.Is(err, data.ErrPageNameExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// seedSampleScan gives the dev environment one completed scan with records
// and a report so list and report endpoints have data before any capture
// agent runs. The request mix overruns the default-web script budget on
// purpose. Skipped when the page already has a completed scan.
func seedSampleScan(ctx context.Context, svcs Services, logger *slog.Logger) error {
	page, err := svcs.pages.GetByName(ctx, "production-home")
	if err != nil {
		return fmt.Errorf("load sample page: %w", err)
	}

	if _, latestErr := svcs.scans.LatestCompletedForPage(ctx, page.ID); latestErr == nil {
		if logger != nil {
			logger.InfoContext(ctx, "sample scan already exists", "page", page.Name)
		}
		return nil
	} else if !errors.Is(latestErr, data.ErrScanNotFound) {
		return fmt.Errorf("check existing scans: %w", latestErr)
	}

	collector := "devseed"
	scan, err := svcs.scans.Create(ctx, &model.CreateScanRequest{PageID: page.ID, Collector: &collector})
	if err != nil {
		return fmt.Errorf("create sample scan: %w", err)
	}
	if _, err = svcs.scans.MarkRunning(ctx, scan.ID, time.Now()); err != nil {
		return fmt.Errorf("mark sample scan running: %w", err)
	}

	records := sampleScanRecords()
	if _, err = svcs.records.BulkInsert(ctx, scan.ID, records); err != nil {
		return fmt.Errorf("insert sample records: %w", err)
	}

	var totalBytes int64
	for _, rec := range records {
		totalBytes += rec.TransferSize
	}
	if _, err = svcs.scans.Complete(ctx, core.CompleteScanParams{
		ID:           scan.ID,
		FinalURL:     &page.URL,
		RequestCount: len(records),
		TotalBytes:   totalBytes,
		CompletedAt:  time.Now(),
	}); err != nil {
		return fmt.Errorf("complete sample scan: %w", err)
	}

	report, err := svcs.audit.AuditNow(ctx, scan.ID)
	if err != nil {
		return fmt.Errorf("audit sample scan: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "seeded sample scan",
			"page", page.Name, "scan_id", scan.ID, "overages", report.OverageCount)
	}
	return nil
}

func sampleScanRecords() []model.RequestRecordInput {
	return []model.RequestRecordInput{
		{
			URL:          "https://www.example.com/",
			Host:         "www.example.com",
			ResourceType: model.ResourceTypeDocument,
			TransferSize: 24 * 1024,
			StatusCode:   intPtr(200),
			MimeType:     stringPtr("text/html"),
			Seq:          0,
		},
		{
			URL:          "https://www.example.com/static/app.css",
			Host:         "www.example.com",
			ResourceType: model.ResourceTypeStylesheet,
			TransferSize: 46 * 1024,
			StatusCode:   intPtr(200),
			MimeType:     stringPtr("text/css"),
			Seq:          1,
		},
		{
			URL:          "https://cdn.example.com/static/app.js",
			Host:         "cdn.example.com",
			ResourceType: model.ResourceTypeScript,
			TransferSize: 190 * 1024,
			StatusCode:   intPtr(200),
			MimeType:     stringPtr("application/javascript"),
			Seq:          2,
		},
		{
			URL:          "https://cdn.example.com/static/vendor.js",
			Host:         "cdn.example.com",
			ResourceType: model.ResourceTypeScript,
			TransferSize: 160 * 1024,
			StatusCode:   intPtr(200),
			MimeType:     stringPtr("application/javascript"),
			Seq:          3,
		},
		{
			URL:          "https://analytics.example.net/collect.js",
			Host:         "analytics.example.net",
			ResourceType: model.ResourceTypeScript,
			TransferSize: 34 * 1024,
			StatusCode:   intPtr(200),
			MimeType:     stringPtr("application/javascript"),
			Seq:          4,
		},
		{
			URL:          "https://www.example.com/static/hero.webp",
			Host:         "www.example.com",
			ResourceType: model.ResourceTypeImage,
			TransferSize: 310 * 1024,
			StatusCode:   intPtr(200),
			MimeType:     stringPtr("image/webp"),
			Seq:          5,
		},
		{
			URL:          "https://www.example.com/static/brand.woff2",
			Host:         "www.example.com",
			ResourceType: model.ResourceTypeFont,
			TransferSize: 52 * 1024,
			StatusCode:   intPtr(200),
			MimeType:     stringPtr("font/woff2"),
			Seq:          6,
		},
	}
}

func cleanupOrphanPageSchedules(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	const q = `
		DELETE FROM scheduled_jobs s
		WHERE s.task_name LIKE 'page:%'
		  AND NOT EXISTS (
			SELECT 1 FROM pages WHERE id = split_part(s.task_name, ':', 2)::uuid
		  )
	`
	res, err := db.ExecContext(ctx, q)
	if err != nil {
		return fmt.Errorf("delete orphan page schedules: %w", err)
	}
	if logger != nil {
		if n, rowsErr := res.RowsAffected(); rowsErr != nil {
			logger.WarnContext(ctx, "deleted orphan page schedules: rows affected unknown", "error", rowsErr)
		} else if n > 0 {
			logger.InfoContext(ctx, "deleted orphan page schedules", "count", n)
		}
	}
	return nil
}

func reconcilePageSchedules(ctx context.Context, svcs Services, logger *slog.Logger) error {
	const limit = 100
	offset := 0
	for {
		list, err := svcs.pages.List(ctx, model.PagesListOptions{Limit: limit, Offset: offset})
		if err != nil {
			return fmt.Errorf("list pages: %w", err)
		}
		if len(list) == 0 {
			break
		}
		for _, page := range list {
			params := scheduleOperationParams{
				ctx:    ctx,
				admin:  svcs.admin,
				page:   page,
				logger: logger,
			}
			if scheduleErr := upsertOrDeleteSchedule(params); scheduleErr != nil {
				if logger != nil {
					logger.WarnContext(ctx, "reconcile schedule failed", "page", page.ID, "error", scheduleErr)
				}
			}
		}
		offset += len(list)
		if len(list) < limit {
			break
		}
	}
	return nil
}

type scheduleOperationParams struct {
	ctx    context.Context
	admin  *data.ScheduledJobsAdminRepo
	page   *model.Page
	logger *slog.Logger
}

func upsertOrDeleteSchedule(params scheduleOperationParams) error {
	name := "page:" + params.page.ID
	if !params.page.Enabled {
		_, err := params.admin.DeleteByTaskName(params.ctx, name)
		return err
	}

	interval := captureInterval(params.page)
	payload, err := schedulePayload(params.page)
	if err != nil {
		params.logSchedulePayloadError(err)
		return nil
	}
	return params.admin.UpsertByTaskName(
		params.ctx,
		domain.UpsertTaskParams{TaskName: name, Payload: payload, Interval: interval},
	)
}

func (p scheduleOperationParams) logSchedulePayloadError(err error) {
	if p.logger == nil {
		return
	}

	p.logger.WarnContext(p.ctx, "marshal schedule payload failed", "page", p.page.ID, "error", err)
}

func captureInterval(page *model.Page) time.Duration {
	d := time.Duration(page.CaptureEveryMinutes) * time.Minute
	if d <= 0 {
		return time.Minute
	}
	return d
}

func schedulePayload(page *model.Page) ([]byte, error) {
	return json.Marshal(model.CaptureJobPayload{PageID: page.ID, URL: page.URL})
}

func boolPtr(b bool) *bool       { return &b }
func stringPtr(s string) *string { return &s }
func intPtr(i int) *int          { return &i }
