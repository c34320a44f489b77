package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/service"
)

// WebhookHandlers provides HTTP handlers for webhook sinks, including a test
// endpoint that performs a real delivery against the configured URL.
type WebhookHandlers struct {
	Svc      *service.WebhookSinkService
	Delivery *service.WebhookDeliveryService
}

const (
	defaultWebhooksLimit = 50
	maxWebhooksLimit     = 200
)

// Create handles POST /api/webhooks.
func (h *WebhookHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateWebhookSinkRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	sink, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "create_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusCreated, sink)
}

// Get handles GET /api/webhooks/{id}.
func (h *WebhookHandlers) Get(w http.ResponseWriter, r *http.Request) {
	sink, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, sink)
}

// List handles GET /api/webhooks.
func (h *WebhookHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultWebhooksLimit, maxWebhooksLimit)
	opts := model.WebhookSinkListOptions{Limit: limit, Offset: offset}
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		enabled := raw == "true"
		opts.Enabled = &enabled
	}

	sinks, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"webhooks": sinks,
		"limit":    limit,
		"offset":   offset,
	})
}

// Update handles PATCH /api/webhooks/{id}.
func (h *WebhookHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateWebhookSinkRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	sink, err := h.Svc.Update(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "update_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, sink)
}

// Delete handles DELETE /api/webhooks/{id}.
func (h *WebhookHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.Svc.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "delete_failed", Err: err})
		return
	}
	if !deleted {
		WriteError(
			w,
			ErrorParams{Code: http.StatusNotFound, ErrCode: "webhook_not_found", Err: errors.New("webhook sink not found")},
		)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /api/webhooks/{id}/test. A synthetic alert payload is
// delivered for real so the sink's URL, token and payload expression can be
// verified end to end. The response echoes the prepared request with
// sensitive headers masked.
func (h *WebhookHandlers) Test(w http.ResponseWriter, r *http.Request) {
	sink, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: err})
		return
	}

	payload := testAlertPayload(sink)
	prepared, err := h.Delivery.Prepare(sink, payload)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "prepare_failed", Err: err})
		return
	}

	result, err := h.Delivery.Deliver(r.Context(), sink, payload)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadGateway, ErrCode: "delivery_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"ok":     result.OK(),
		"result": result,
		"request": map[string]any{
			"method":  prepared.Method,
			"url":     prepared.URL,
			"headers": prepared.MaskedHeaders(),
			"body":    string(prepared.Body),
		},
	})
}

// testAlertPayload mirrors the document the notifier sends for a real
// overage alert so sink payload expressions can be exercised faithfully.
func testAlertPayload(sink *model.WebhookSink) json.RawMessage {
	payload := map[string]any{
		"test":     true,
		"alert_id": "00000000-0000-0000-0000-000000000000",
		"severity": string(model.AlertSeverityInfo),
		"title":    "pagetally webhook test",
		"summary":  "test delivery for sink " + sink.Name,
		"page":     map[string]any{"id": "", "name": "", "url": ""},
		"scan_id":  "",
		"fired_at": time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage(`{"test":true}`)
	}
	return raw
}
