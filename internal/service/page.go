package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/domain"
	"github.com/pagetally/pagetally/internal/domain/model"
)

// PageServiceOptions groups dependencies for PageService.
type PageServiceOptions struct {
	PageRepo core.PageRepository
	Admin    core.ScheduledJobsAdminRepository
	Extras   PageServiceExtras
}

// PageServiceExtras holds optional collaborators for PageService.
type PageServiceExtras struct {
	Jobs   pendingJobCanceler
	Logger *slog.Logger
}

// pendingJobCanceler removes queued capture work when a page is disabled or deleted.
type pendingJobCanceler interface {
	DeletePendingForPage(ctx context.Context, jobType model.JobType, pageID string) (int, error)
}

// PageService orchestrates page CRUD with capture scheduler reconciliation.
// Every enabled page owns one scheduled task that enqueues capture jobs at
// its configured cadence; disabling or deleting the page removes the task.
type PageService struct {
	pages  core.PageRepository
	adm    core.ScheduledJobsAdminRepository
	jobs   pendingJobCanceler
	logger *slog.Logger
}

// NewPageService constructs a new PageService.
func NewPageService(opts PageServiceOptions) *PageService {
	return &PageService{
		pages:  opts.PageRepo,
		adm:    opts.Admin,
		jobs:   opts.Extras.Jobs,
		logger: opts.Extras.Logger,
	}
}

// Create creates a page and reconciles its scheduled capture task if enabled.
func (s *PageService) Create(ctx context.Context, req *model.CreatePageRequest) (*model.Page, error) {
	page, err := s.pages.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if reconcileErr := s.reconcileSchedule(ctx, page); reconcileErr != nil {
		return nil, fmt.Errorf("reconcile schedule: %w", reconcileErr)
	}
	return page, nil
}

// Update updates a page and reconciles its scheduled capture task.
// Disabling a page also cancels its queued capture jobs.
func (s *PageService) Update(ctx context.Context, id string, req model.UpdatePageRequest) (*model.Page, error) {
	page, err := s.pages.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}
	if reconcileErr := s.reconcileSchedule(ctx, page); reconcileErr != nil {
		return nil, fmt.Errorf("reconcile schedule: %w", reconcileErr)
	}
	if !page.Enabled {
		s.cancelPendingCaptures(ctx, page.ID)
	}
	return page, nil
}

// Delete deletes a page, removes its scheduled task, and cancels queued captures.
// Historical scans, reports, and alerts for the page are removed by the database.
func (s *PageService) Delete(ctx context.Context, id string) (bool, error) {
	s.cancelPendingCaptures(ctx, id)
	ok, err := s.pages.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	if s.adm != nil {
		if _, delErr := s.adm.DeleteByTaskName(ctx, taskNameForPage(id)); delErr != nil {
			return ok, fmt.Errorf("delete schedule: %w", delErr)
		}
	}
	return ok, nil
}

// GetByID retrieves a page by ID.
func (s *PageService) GetByID(ctx context.Context, id string) (*model.Page, error) {
	return s.pages.GetByID(ctx, id)
}

// GetByName retrieves a page by name.
func (s *PageService) GetByName(ctx context.Context, name string) (*model.Page, error) {
	return s.pages.GetByName(ctx, name)
}

// List returns pages using the provided filters.
func (s *PageService) List(ctx context.Context, opts model.PagesListOptions) ([]*model.Page, error) {
	return s.pages.List(ctx, normalizePageListOptions(opts))
}

// TouchLastCaptured records when a capture job was last enqueued for the page.
func (s *PageService) TouchLastCaptured(ctx context.Context, id string, at time.Time) error {
	return s.pages.TouchLastCaptured(ctx, id, at)
}

func (s *PageService) reconcileSchedule(ctx context.Context, page *model.Page) error {
	if s.adm == nil || page == nil {
		return nil
	}
	name := taskNameForPage(page.ID)
	if page.Enabled {
		interval := time.Duration(page.CaptureEveryMinutes) * time.Minute
		if interval <= 0 {
			interval = time.Minute
		}
		payload := model.CaptureJobPayload{PageID: page.ID, URL: page.URL}
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		return s.adm.UpsertByTaskName(ctx, domain.UpsertTaskParams{TaskName: name, Payload: b, Interval: interval})
	}
	_, err := s.adm.DeleteByTaskName(ctx, name)
	return err
}

// cancelPendingCaptures drops queued capture jobs for the page. Best effort:
// a reservation race leaves at most one job in flight, which fails on the
// missing page and is not retried against it.
func (s *PageService) cancelPendingCaptures(ctx context.Context, pageID string) {
	if s.jobs == nil {
		return
	}
	removed, err := s.jobs.DeletePendingForPage(ctx, model.JobTypeCapture, pageID)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to cancel pending capture jobs",
				"page_id", pageID, "error", err)
		}
		return
	}
	if removed > 0 && s.logger != nil {
		s.logger.DebugContext(ctx, "cancelled pending capture jobs",
			"page_id", pageID, "count", removed)
	}
}

func taskNameForPage(id string) string { return "page:" + id }

func normalizePageListOptions(opts model.PagesListOptions) model.PagesListOptions {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Sort == "" {
		opts.Sort = "created_at"
	}
	if opts.Dir == "" {
		opts.Dir = "desc"
	}

	return opts
}
