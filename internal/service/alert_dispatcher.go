package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/domain/model"
)

// AlertSinkDeliverer performs the HTTP delivery to one webhook sink.
type AlertSinkDeliverer interface {
	Deliver(ctx context.Context, sink *model.WebhookSink, payload json.RawMessage) (*DeliveryResult, error)
}

// AlertPayload is the document delivered to webhook sinks (before a sink's
// own JMESPath expression is applied).
type AlertPayload struct {
	Alert    json.RawMessage `json:"alert"`
	PageName string          `json:"page_name,omitempty"`
	AlertURL string          `json:"alert_url"`
}

// AlertDispatchService fans an overage alert out to every enabled webhook
// sink and records the resulting delivery status on the alert.
type AlertDispatchService struct {
	sinks     core.WebhookSinkRepository
	alerts    core.AlertRepository
	pages     core.PageRepository
	deliverer AlertSinkDeliverer
	baseURL   string
	logger    *slog.Logger
}

// AlertDispatchServiceOptions configures the alert dispatch service.
type AlertDispatchServiceOptions struct {
	Sinks     core.WebhookSinkRepository
	Alerts    core.AlertRepository // Optional: delivery status updates are skipped without it
	Pages     core.PageRepository  // Optional: page name enrichment
	Deliverer AlertSinkDeliverer
	BaseURL   string
	Logger    *slog.Logger
}

// NewAlertDispatchService creates a new alert dispatch service.
// If BaseURL is empty, it defaults to "http://localhost:8080" to ensure
// a consistent default with the HTTPConfig.
func NewAlertDispatchService(opts AlertDispatchServiceOptions) *AlertDispatchService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	return &AlertDispatchService{
		sinks:     opts.Sinks,
		alerts:    opts.Alerts,
		pages:     opts.Pages,
		deliverer: opts.Deliverer,
		baseURL:   baseURL,
		logger:    logger,
	}
}

var errDelivererNotConfigured = errors.New("alert dispatch: deliverer not configured")

// Dispatch sends an alert to all enabled webhook sinks. It succeeds when at
// least one sink accepted the delivery. Alerts with no configured sinks are
// marked dispatched so they don't linger as pending.
func (s *AlertDispatchService) Dispatch(ctx context.Context, alert *model.OverageAlert) error {
	params, ok, err := s.prepareDispatchParams(ctx, alert)
	if err != nil || !ok {
		return err
	}

	successCount, lastErr := s.dispatchToSinks(params)

	if successCount == 0 {
		s.updateDeliveryStatus(ctx, alert.ID, model.AlertDeliveryStatusFailed)
		s.logger.ErrorContext(ctx, "failed to dispatch alert to any sinks", "alert_id", alert.ID)
		return fmt.Errorf("alert dispatch: all sink deliveries failed: %w", lastErr)
	}

	s.updateDeliveryStatus(ctx, alert.ID, model.AlertDeliveryStatusDispatched)
	s.logger.InfoContext(ctx, "dispatched alert to webhook sinks",
		"alert_id", alert.ID,
		"sinks_total", len(params.sinks),
		"sinks_success", successCount)

	return nil
}

func (s *AlertDispatchService) prepareDispatchParams(
	ctx context.Context,
	alert *model.OverageAlert,
) (dispatchParams, bool, error) {
	if s.deliverer == nil {
		return dispatchParams{}, false, errDelivererNotConfigured
	}

	sinks, err := s.sinks.ListEnabled(ctx)
	if err != nil {
		return dispatchParams{}, false, fmt.Errorf("alert dispatch: list sinks: %w", err)
	}
	if len(sinks) == 0 {
		s.logger.DebugContext(ctx, "no enabled webhook sinks, skipping dispatch",
			"alert_id", alert.ID)
		s.updateDeliveryStatus(ctx, alert.ID, model.AlertDeliveryStatusDispatched)
		return dispatchParams{}, false, nil
	}

	payload, err := s.buildEnrichedPayload(ctx, alert)
	if err != nil {
		return dispatchParams{}, false, err
	}

	return dispatchParams{
		ctx:     ctx,
		alert:   alert,
		sinks:   sinks,
		payload: payload,
	}, true, nil
}

func (s *AlertDispatchService) buildEnrichedPayload(
	ctx context.Context,
	alert *model.OverageAlert,
) (json.RawMessage, error) {
	alertJSON, err := json.Marshal(alert)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to marshal alert data", "alert_id", alert.ID, "error", err)
		return nil, fmt.Errorf("alert dispatch: marshal alert: %w", err)
	}

	pageName := ""
	if s.pages != nil {
		if page, pageErr := s.pages.GetByID(ctx, alert.PageID); pageErr == nil {
			pageName = page.Name
		} else {
			s.logger.WarnContext(ctx, "failed to load page for alert payload",
				"alert_id", alert.ID,
				"page_id", alert.PageID,
				"error", pageErr)
		}
	}

	enrichedPayload := AlertPayload{
		Alert:    alertJSON,
		PageName: pageName,
		AlertURL: s.buildAlertURL(alert.ID),
	}

	payload, err := json.Marshal(enrichedPayload)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to marshal enriched payload", "alert_id", alert.ID, "error", err)
		return nil, fmt.Errorf("alert dispatch: marshal enriched payload: %w", err)
	}

	return payload, nil
}

// buildAlertURL constructs the full URL to view an alert.
// baseURL is guaranteed to be non-empty due to normalization in NewAlertDispatchService.
func (s *AlertDispatchService) buildAlertURL(alertID string) string {
	baseURL := strings.TrimRight(s.baseURL, "/")
	return fmt.Sprintf("%s/alerts/%s", baseURL, alertID)
}

// dispatchParams groups parameters for dispatchToSinks to maintain ≤3 param constraint.
type dispatchParams struct {
	ctx     context.Context
	alert   *model.OverageAlert
	sinks   []*model.WebhookSink
	payload json.RawMessage
}

// dispatchToSinks delivers to each sink and returns success count and last error.
func (s *AlertDispatchService) dispatchToSinks(p dispatchParams) (int, error) {
	successCount := 0
	var lastErr error
	for _, sink := range p.sinks {
		result, err := s.deliverer.Deliver(p.ctx, sink, p.payload)
		if err != nil {
			lastErr = err
			s.logger.ErrorContext(p.ctx, "failed to deliver alert to sink",
				"alert_id", p.alert.ID,
				"sink_id", sink.ID,
				"sink_name", sink.Name,
				"error", err)
			continue
		}
		if !result.OK() {
			lastErr = fmt.Errorf("sink %s responded %d", sink.ID, result.StatusCode)
			s.logger.WarnContext(p.ctx, "sink rejected alert delivery",
				"alert_id", p.alert.ID,
				"sink_id", sink.ID,
				"sink_name", sink.Name,
				"status", result.StatusCode)
			continue
		}

		s.logger.InfoContext(p.ctx, "delivered alert to sink",
			"alert_id", p.alert.ID,
			"sink_id", sink.ID,
			"sink_name", sink.Name,
			"status", result.StatusCode)
		successCount++
	}
	return successCount, lastErr
}

func (s *AlertDispatchService) updateDeliveryStatus(
	ctx context.Context,
	alertID string,
	status model.AlertDeliveryStatus,
) {
	if s.alerts == nil {
		return
	}
	if _, err := s.alerts.UpdateDeliveryStatus(ctx, core.UpdateAlertDeliveryStatusParams{
		ID:     alertID,
		Status: status,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to update alert delivery status",
			"alert_id", alertID,
			"status", status,
			"error", err)
	}
}
