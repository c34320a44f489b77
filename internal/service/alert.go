package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/domain/model"
)

// AlertServiceOptions groups dependencies for AlertService.
//
// All fields are required except Pages, Dispatcher and Logger.
type AlertServiceOptions struct {
	Repo       core.AlertRepository // Required: alert repository
	Pages      core.PageRepository  // Optional: load page context for delivery decisions
	Dispatcher core.AlertDispatcher // Optional: dispatches alerts to webhook sinks
	Logger     *slog.Logger         // Optional: structured logger
}

// AlertService provides business logic for overage alert operations.
//
// RESPONSIBILITIES:
// - CRUD operations for alerts
// - Async dispatch to webhook sinks (non-blocking)
// - Alert resolution workflow
// - Alert statistics
//
// ORCHESTRATION:
//   - Alerts for disabled pages are stored muted and never dispatched.
//   - When a dispatcher is configured, created alerts are dispatched to all
//     enabled webhook sinks asynchronously (fire-and-forget with error
//     logging). Queue-driven delivery goes through the notify runner instead.
type AlertService struct {
	repo       core.AlertRepository
	pages      core.PageRepository
	dispatcher core.AlertDispatcher
	logger     *slog.Logger
}

// NewAlertService constructs a new AlertService.
//
// Returns an error if Repo is nil. Pages, Dispatcher and Logger are optional.
func NewAlertService(opts AlertServiceOptions) (*AlertService, error) {
	if opts.Repo == nil {
		return nil, errors.New("AlertRepository is required")
	}

	if opts.Logger != nil {
		opts.Logger.Info("AlertService initialized",
			"has_dispatcher", opts.Dispatcher != nil)
	}

	return &AlertService{
		repo:       opts.Repo,
		pages:      opts.Pages,
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger,
	}, nil
}

// MustNewAlertService constructs a new AlertService and panics on error.
//
// This is a convenience wrapper around NewAlertService for use in main.go
// and other initialization code where errors should be fatal.
func MustNewAlertService(opts AlertServiceOptions) *AlertService {
	svc, err := NewAlertService(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return svc
}

// Create creates a new overage alert with the given request parameters.
//
// Alerts whose page is disabled are stored with a muted delivery status and
// skipped by dispatch. Dispatch errors are logged but do not fail the create.
func (s *AlertService) Create(
	ctx context.Context,
	req *model.CreateOverageAlertRequest,
) (*model.OverageAlert, error) {
	if req == nil {
		return nil, errors.New("create alert request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	deliveryStatus := model.AlertDeliveryStatusPending
	if s.pages != nil && req.PageID != "" {
		page, err := s.pages.GetByID(ctx, req.PageID)
		switch {
		case err != nil:
			if s.logger != nil {
				s.logger.WarnContext(ctx, "failed to load page for alert creation",
					"page_id", req.PageID,
					"error", err)
			}
		case !page.Enabled:
			deliveryStatus = model.AlertDeliveryStatusMuted
		}
	}
	req.DeliveryStatus = deliveryStatus

	alert, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "alert created",
			"alert_id", alert.ID,
			"page_id", alert.PageID,
			"scan_id", alert.ScanID,
			"severity", alert.Severity,
			"delivery_status", alert.DeliveryStatus)
	}

	if deliveryStatus == model.AlertDeliveryStatusMuted {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "alert delivery muted; skipping dispatch",
				"alert_id", alert.ID,
				"page_id", alert.PageID)
		}
		return alert, nil
	}

	if s.dispatcher == nil {
		return alert, nil
	}

	// Copy alert value to avoid potential data races if caller mutates the pointer
	alertCopy := *alert
	s.dispatchAlertAsync(ctx, alertCopy)

	return alert, nil
}

// GetByID retrieves an alert by its ID.
func (s *AlertService) GetByID(ctx context.Context, id string) (*model.OverageAlert, error) {
	alert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get alert by id: %w", err)
	}
	return alert, nil
}

// List retrieves a list of alerts with the given options.
func (s *AlertService) List(
	ctx context.Context,
	opts *model.AlertListOptions,
) ([]*model.OverageAlert, error) {
	alerts, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// ListWithPageNames retrieves a list of alerts with page names using a JOIN query.
// This method eliminates N+1 queries by fetching page names in a single query.
func (s *AlertService) ListWithPageNames(
	ctx context.Context,
	opts *model.AlertListOptions,
) ([]*model.AlertWithPageName, error) {
	alerts, err := s.repo.ListWithPageNames(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list alerts with page names: %w", err)
	}
	return alerts, nil
}

// ListWithPageNamesAndCount retrieves alerts with page names and total count in a single query.
// This is more efficient than calling ListWithPageNames and Count separately.
func (s *AlertService) ListWithPageNamesAndCount(
	ctx context.Context,
	opts *model.AlertListOptions,
) (*model.AlertListResult, error) {
	result, err := s.repo.ListWithPageNamesAndCount(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list alerts with page names and count: %w", err)
	}
	return result, nil
}

// Count returns the total number of alerts matching the given filter options.
// This is useful for pagination to show accurate total alert count.
func (s *AlertService) Count(ctx context.Context, opts *model.AlertListOptions) (int, error) {
	count, err := s.repo.Count(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return count, nil
}

// Delete deletes an alert by its ID.
//
// Returns true if the alert was deleted, false if it didn't exist.
func (s *AlertService) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete alert: %w", err)
	}

	if deleted && s.logger != nil {
		s.logger.InfoContext(ctx, "alert deleted", "alert_id", id)
	}

	return deleted, nil
}

func (s *AlertService) dispatchAlertAsync(ctx context.Context, alert model.OverageAlert) {
	go func(a model.OverageAlert) {
		defer s.recoverDispatchPanic(a)

		// Preserve request-scoped values (logging, tracing) while ignoring cancellation
		// This ensures the dispatch completes even if the original request is cancelled.
		dispatchCtx := context.WithoutCancel(ctx)
		if err := s.dispatcher.Dispatch(dispatchCtx, &a); err != nil {
			s.logDispatchError(a, err)
		}
	}(alert)
}

func (s *AlertService) recoverDispatchPanic(alert model.OverageAlert) {
	if r := recover(); r != nil && s.logger != nil {
		s.logger.Error("panic in alert dispatch",
			"alert_id", alert.ID,
			"panic", r)
	}
}

func (s *AlertService) logDispatchError(alert model.OverageAlert, err error) {
	if s.logger == nil {
		return
	}

	s.logger.Error("alert dispatch failed",
		"alert_id", alert.ID,
		"error", err)
}

// Stats retrieves alert statistics, optionally filtered by page ID.
//
// If pageID is nil, returns statistics for all alerts across all pages.
// If pageID is provided, returns statistics for that specific page only.
func (s *AlertService) Stats(ctx context.Context, pageID *string) (*model.AlertStats, error) {
	stats, err := s.repo.Stats(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("get alert stats: %w", err)
	}
	return stats, nil
}

// Resolve marks an alert as resolved.
//
// This updates the alert's resolved_at timestamp, resolved_by user, and returns the updated alert.
func (s *AlertService) Resolve(
	ctx context.Context,
	params core.ResolveAlertParams,
) (*model.OverageAlert, error) {
	alert, err := s.repo.Resolve(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("resolve alert: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "alert resolved",
			"alert_id", params.ID,
			"resolved_by", params.ResolvedBy,
			"resolved_at", alert.ResolvedAt)
	}

	return alert, nil
}

// UpdateDeliveryStatus records the outcome of a delivery attempt.
func (s *AlertService) UpdateDeliveryStatus(
	ctx context.Context,
	params core.UpdateAlertDeliveryStatusParams,
) (*model.OverageAlert, error) {
	alert, err := s.repo.UpdateDeliveryStatus(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("update alert delivery status: %w", err)
	}
	return alert, nil
}
