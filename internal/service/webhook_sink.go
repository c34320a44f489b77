package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/data/cryptoutil"
	"github.com/pagetally/pagetally/internal/domain/model"
)

// WebhookSinkServiceOptions groups dependencies for WebhookSinkService.
type WebhookSinkServiceOptions struct {
	Repo      core.WebhookSinkRepository // Required: webhook sink repository
	Encryptor cryptoutil.Encryptor       // Required: bearer token encryption at rest
	Logger    *slog.Logger               // Optional: structured logger
}

// WebhookSinkService manages webhook delivery targets. Bearer tokens are
// encrypted before they reach the repository and only decrypted for
// delivery; JMESPath payload expressions are compiled at write time so bad
// expressions are rejected before a delivery ever runs.
type WebhookSinkService struct {
	repo      core.WebhookSinkRepository
	encryptor cryptoutil.Encryptor
	logger    *slog.Logger
}

// NewWebhookSinkService constructs a new WebhookSinkService.
func NewWebhookSinkService(opts WebhookSinkServiceOptions) (*WebhookSinkService, error) {
	if opts.Repo == nil {
		return nil, errors.New("WebhookSinkRepository is required")
	}
	if opts.Encryptor == nil {
		return nil, errors.New("Encryptor is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "webhook_sink_service")
	}

	return &WebhookSinkService{
		repo:      opts.Repo,
		encryptor: opts.Encryptor,
		logger:    logger,
	}, nil
}

// MustNewWebhookSinkService constructs a new WebhookSinkService and panics on error.
func MustNewWebhookSinkService(opts WebhookSinkServiceOptions) *WebhookSinkService {
	svc, err := NewWebhookSinkService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create WebhookSinkService: %v", err))
	}
	return svc
}

// Create validates and persists a new webhook sink.
func (s *WebhookSinkService) Create(
	ctx context.Context,
	req *model.CreateWebhookSinkRequest,
) (*model.WebhookSink, error) {
	if req == nil {
		return nil, errors.New("create webhook sink request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := validateJMESPath(req.PayloadExpr); err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	params := &core.CreateWebhookSinkParams{
		Name:        req.Name,
		URL:         req.URL,
		PayloadExpr: emptyToNil(req.PayloadExpr),
		Enabled:     enabled,
	}
	if req.BearerToken != nil && *req.BearerToken != "" {
		ct, err := s.sealToken(*req.BearerToken)
		if err != nil {
			return nil, err
		}
		params.TokenCiphertext = ct
	}

	sink, err := s.repo.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create webhook sink: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "webhook sink created",
			"sink_id", sink.ID, "name", sink.Name, "has_token", sink.HasToken())
	}
	return sink, nil
}

// GetByID retrieves a webhook sink by ID.
func (s *WebhookSinkService) GetByID(ctx context.Context, id string) (*model.WebhookSink, error) {
	sink, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get webhook sink %s: %w", id, err)
	}
	return sink, nil
}

// GetByName retrieves a webhook sink by its unique name.
func (s *WebhookSinkService) GetByName(ctx context.Context, name string) (*model.WebhookSink, error) {
	sink, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get webhook sink %q: %w", name, err)
	}
	return sink, nil
}

// List returns webhook sinks using the provided filters.
func (s *WebhookSinkService) List(
	ctx context.Context,
	opts model.WebhookSinkListOptions,
) ([]*model.WebhookSink, error) {
	p := normalizePagination(opts.Limit, opts.Offset)
	opts.Limit = p.Limit
	opts.Offset = p.Offset

	sinks, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list webhook sinks: %w", err)
	}
	return sinks, nil
}

// ListEnabled returns every enabled sink in fan-out order.
func (s *WebhookSinkService) ListEnabled(ctx context.Context) ([]*model.WebhookSink, error) {
	sinks, err := s.repo.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled webhook sinks: %w", err)
	}
	return sinks, nil
}

// Update applies the requested changes. An empty-string BearerToken clears
// the stored token; a non-empty one replaces it; nil leaves it untouched.
func (s *WebhookSinkService) Update(
	ctx context.Context,
	id string,
	req *model.UpdateWebhookSinkRequest,
) (*model.WebhookSink, error) {
	if req == nil {
		return nil, errors.New("update webhook sink request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := validateJMESPath(req.PayloadExpr); err != nil {
		return nil, err
	}

	params := &core.UpdateWebhookSinkParams{
		Name:        req.Name,
		URL:         req.URL,
		PayloadExpr: req.PayloadExpr,
		Enabled:     req.Enabled,
	}
	if req.BearerToken != nil {
		if *req.BearerToken == "" {
			params.ClearToken = true
		} else {
			ct, err := s.sealToken(*req.BearerToken)
			if err != nil {
				return nil, err
			}
			params.TokenCiphertext = ct
		}
	}

	sink, err := s.repo.Update(ctx, id, params)
	if err != nil {
		return nil, fmt.Errorf("update webhook sink %s: %w", id, err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "webhook sink updated", "sink_id", sink.ID)
	}
	return sink, nil
}

// Delete removes a webhook sink.
func (s *WebhookSinkService) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete webhook sink %s: %w", id, err)
	}
	if deleted && s.logger != nil {
		s.logger.InfoContext(ctx, "webhook sink deleted", "sink_id", id)
	}
	return deleted, nil
}

// BearerToken decrypts the sink's stored token for delivery. The second
// return is false when no token is configured.
func (s *WebhookSinkService) BearerToken(sink *model.WebhookSink) (string, bool, error) {
	if sink == nil || !sink.HasToken() {
		return "", false, nil
	}
	plaintext, err := s.encryptor.Decrypt(string(sink.TokenCiphertext))
	if err != nil {
		return "", false, fmt.Errorf("decrypt token for sink %s: %w", sink.ID, err)
	}
	return string(plaintext), true, nil
}

func (s *WebhookSinkService) sealToken(token string) ([]byte, error) {
	sealed, err := s.encryptor.Encrypt([]byte(token))
	if err != nil {
		return nil, fmt.Errorf("encrypt bearer token: %w", err)
	}
	return []byte(sealed), nil
}

// validateJMESPath compiles the expression so malformed ones are rejected
// at write time instead of at delivery.
func validateJMESPath(expr *string) error {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return nil
	}
	if _, err := jmespath.Compile(*expr); err != nil {
		return fmt.Errorf("invalid payload_expr: %w", err)
	}
	return nil
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
