package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/pagetally/pagetally/internal/domain/model"
)

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements JMESPathEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// PreparedHTTPRequest is the concrete request a delivery will perform.
// Headers are pre-masked for safe logging via MaskedHeaders.
type PreparedHTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// MaskedHeaders returns the headers with sensitive values masked for logging.
func (r *PreparedHTTPRequest) MaskedHeaders() map[string]string {
	if len(r.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		if isSensitiveHeader(k) {
			out[k] = maskHeaderValue(v)
		} else {
			out[k] = v
		}
	}
	return out
}

// DeliveryResult records the outcome of one webhook POST.
type DeliveryResult struct {
	SinkID        string `json:"sink_id"`
	SinkName      string `json:"sink_name,omitempty"`
	StatusCode    int    `json:"status_code,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	Body          string `json:"body,omitempty"`
	BodyTruncated bool   `json:"body_truncated,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// OK reports whether the delivery was accepted by the receiver.
func (r *DeliveryResult) OK() bool {
	return r.ErrorMessage == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// WebhookDeliveryConfig groups configuration parameters for WebhookDeliveryService.
type WebhookDeliveryConfig struct {
	// Timeout bounds one delivery attempt end to end.
	Timeout time.Duration
	// MaxResponseBytes caps how much of the receiver's response is retained.
	MaxResponseBytes int64
	UserAgent        string
}

// DefaultWebhookDeliveryConfig returns sensible defaults for webhook delivery.
func DefaultWebhookDeliveryConfig() WebhookDeliveryConfig {
	return WebhookDeliveryConfig{
		Timeout:          10 * time.Second,
		MaxResponseBytes: 4096,
		UserAgent:        "pagetally-webhook/1.0",
	}
}

// WebhookDeliveryOptions groups dependencies for WebhookDeliveryService.
type WebhookDeliveryOptions struct {
	Sinks      *WebhookSinkService // Required: bearer token decryption
	HTTPClient *http.Client        // Optional: defaults to a client with the configured timeout
	Evaluator  JMESPathEvaluator   // Optional: defaults to the library evaluator
	Config     WebhookDeliveryConfig
	Logger     *slog.Logger
}

// WebhookDeliveryService performs alert deliveries to webhook sinks: it
// applies the sink's JMESPath payload expression, attaches the decrypted
// bearer token, and POSTs the JSON document.
type WebhookDeliveryService struct {
	sinks  *WebhookSinkService
	client *http.Client
	jems   JMESPathEvaluator
	config WebhookDeliveryConfig
	logger *slog.Logger
}

// NewWebhookDeliveryService constructs a new WebhookDeliveryService.
func NewWebhookDeliveryService(opts WebhookDeliveryOptions) (*WebhookDeliveryService, error) {
	if opts.Sinks == nil {
		return nil, errors.New("WebhookSinkService is required")
	}

	config := opts.Config
	if config.Timeout <= 0 {
		config.Timeout = DefaultWebhookDeliveryConfig().Timeout
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = DefaultWebhookDeliveryConfig().MaxResponseBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultWebhookDeliveryConfig().UserAgent
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	jems := opts.Evaluator
	if jems == nil {
		jems = jmespathLibEvaluator{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "webhook_delivery")
	}

	return &WebhookDeliveryService{
		sinks:  opts.Sinks,
		client: client,
		jems:   jems,
		config: config,
		logger: logger,
	}, nil
}

// MustNewWebhookDeliveryService constructs a new WebhookDeliveryService and panics on error.
func MustNewWebhookDeliveryService(opts WebhookDeliveryOptions) *WebhookDeliveryService {
	svc, err := NewWebhookDeliveryService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create WebhookDeliveryService: %v", err))
	}
	return svc
}

// Prepare builds the concrete HTTP request for a sink and payload without
// sending it. Exposed so tests and the sink test endpoint can inspect what
// would go over the wire.
func (s *WebhookDeliveryService) Prepare(
	sink *model.WebhookSink,
	payload json.RawMessage,
) (*PreparedHTTPRequest, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}

	body, err := s.deriveBody(sink.PayloadExpr, payload)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"User-Agent":   s.config.UserAgent,
	}
	token, hasToken, err := s.sinks.BearerToken(sink)
	if err != nil {
		return nil, err
	}
	if hasToken {
		headers["Authorization"] = "Bearer " + token
	}

	return &PreparedHTTPRequest{
		Method:  http.MethodPost,
		URL:     sink.URL,
		Headers: headers,
		Body:    body,
	}, nil
}

// Deliver POSTs the payload to one sink and returns the attempt's result.
// A non-2xx response is reported in the result, not as an error; errors are
// reserved for failures before or during transport.
func (s *WebhookDeliveryService) Deliver(
	ctx context.Context,
	sink *model.WebhookSink,
	payload json.RawMessage,
) (*DeliveryResult, error) {
	prepared, err := s.Prepare(sink, payload)
	if err != nil {
		return nil, err
	}

	result := &DeliveryResult{SinkID: sink.ID, SinkName: sink.Name}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, prepared.Method, prepared.URL, bytes.NewReader(prepared.Body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request for sink %s: %w", sink.ID, err)
	}
	for k, v := range prepared.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	result.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		result.ErrorMessage = err.Error()
		if s.logger != nil {
			s.logger.WarnContext(ctx, "webhook delivery failed",
				"sink_id", sink.ID, "sink_name", sink.Name,
				"duration_ms", result.DurationMs, "error", err)
		}
		return result, fmt.Errorf("deliver to sink %s: %w", sink.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	result.StatusCode = resp.StatusCode
	result.Body, result.BodyTruncated = s.readResponseBody(resp.Body)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "webhook delivered",
			"sink_id", sink.ID, "sink_name", sink.Name,
			"status", resp.StatusCode, "duration_ms", result.DurationMs)
	}
	return result, nil
}

func (s *WebhookDeliveryService) readResponseBody(r io.Reader) (string, bool) {
	limited := io.LimitReader(r, s.config.MaxResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", false
	}
	if int64(len(data)) > s.config.MaxResponseBytes {
		return string(data[:s.config.MaxResponseBytes]), true
	}
	return string(data), false
}

// deriveBody applies the sink's JMESPath expression to the payload; an empty
// expression passes the payload through unchanged.
func (s *WebhookDeliveryService) deriveBody(expr *string, payload json.RawMessage) ([]byte, error) {
	e := strings.TrimSpace(ptrVal(expr))
	if e == "" {
		return payload, nil
	}
	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}
	res, err := s.jems.Evaluate(e, data)
	if err != nil {
		return nil, fmt.Errorf("evaluate payload expression: %w", err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal derived body: %w", err)
	}
	return b, nil
}

func ptrVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
