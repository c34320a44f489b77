//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// Webhook sink name constraints.
	minWebhookSinkNameLen = 3
	maxWebhookSinkNameLen = 512
	maxPayloadExprLen     = 2048
)

// WebhookSink is an HTTP delivery target for overage alerts. PayloadExpr,
// when set, is a JMESPath expression applied to the alert JSON before
// delivery so receivers can get exactly the fields they want. The bearer
// token is stored encrypted and never serialized back out.
type WebhookSink struct {
	ID              string    `json:"id"                     db:"id"`
	Name            string    `json:"name"                   db:"name"`
	URL             string    `json:"url"                    db:"url"`
	PayloadExpr     *string   `json:"payload_expr,omitempty" db:"payload_expr"`
	Enabled         bool      `json:"enabled"                db:"enabled"`
	TokenCiphertext []byte    `json:"-"                      db:"token_ciphertext"`
	CreatedAt       time.Time `json:"created_at"             db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"             db:"updated_at"`
}

// HasToken reports whether a bearer token is configured for the sink.
func (s *WebhookSink) HasToken() bool {
	return len(s.TokenCiphertext) > 0
}

// CreateWebhookSinkRequest represents a request to create a new webhook sink.
// BearerToken arrives in plaintext and is encrypted before storage.
type CreateWebhookSinkRequest struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	PayloadExpr *string `json:"payload_expr,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
	BearerToken *string `json:"bearer_token,omitempty"`
}

// UpdateWebhookSinkRequest represents a request to update an existing webhook sink.
type UpdateWebhookSinkRequest struct {
	Name        *string `json:"name,omitempty"`
	URL         *string `json:"url,omitempty"`
	PayloadExpr *string `json:"payload_expr,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
	BearerToken *string `json:"bearer_token,omitempty"`
}

// Normalize normalizes the CreateWebhookSinkRequest fields.
func (r *CreateWebhookSinkRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.URL = strings.TrimSpace(r.URL)
	if r.PayloadExpr != nil {
		e := strings.TrimSpace(*r.PayloadExpr)
		r.PayloadExpr = &e
	}
}

// Validate validates the CreateWebhookSinkRequest fields.
func (r *CreateWebhookSinkRequest) Validate() error {
	if err := validateWebhookSinkName(r.Name); err != nil {
		return err
	}
	if err := validateHTTPURL(r.URL, "url"); err != nil {
		return err
	}
	return validatePayloadExpr(r.PayloadExpr)
}

// Normalize normalizes the UpdateWebhookSinkRequest fields.
func (r *UpdateWebhookSinkRequest) Normalize() {
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		r.Name = &n
	}
	if r.URL != nil {
		u := strings.TrimSpace(*r.URL)
		r.URL = &u
	}
	if r.PayloadExpr != nil {
		e := strings.TrimSpace(*r.PayloadExpr)
		r.PayloadExpr = &e
	}
}

// HasUpdates returns true if the UpdateWebhookSinkRequest has any fields to update.
func (r *UpdateWebhookSinkRequest) HasUpdates() bool {
	return r.Name != nil || r.URL != nil || r.PayloadExpr != nil ||
		r.Enabled != nil || r.BearerToken != nil
}

// Validate validates the UpdateWebhookSinkRequest fields and ensures at least one field is being updated.
func (r *UpdateWebhookSinkRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Name != nil {
		if err := validateWebhookSinkName(*r.Name); err != nil {
			return err
		}
	}
	if r.URL != nil {
		if err := validateHTTPURL(*r.URL, "url"); err != nil {
			return err
		}
	}
	return validatePayloadExpr(r.PayloadExpr)
}

// validateWebhookSinkName validates the name field.
func validateWebhookSinkName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errors.New("name is required and cannot be empty")
	}

	nameLen := utf8.RuneCountInString(trimmed)
	if nameLen < minWebhookSinkNameLen {
		return errors.New("name must be at least 3 characters")
	}
	if nameLen > maxWebhookSinkNameLen {
		return errors.New("name cannot exceed 512 characters")
	}

	return nil
}

// validatePayloadExpr bounds the expression length. Syntax validation
// (JMESPath compilation) happens in the service layer.
func validatePayloadExpr(expr *string) error {
	if expr == nil {
		return nil
	}
	if utf8.RuneCountInString(*expr) > maxPayloadExprLen {
		return errors.New("payload_expr cannot exceed 2048 characters")
	}
	return nil
}

// WebhookSinkListOptions controls paging for listing webhook sinks.
type WebhookSinkListOptions struct {
	Limit   int
	Offset  int
	Enabled *bool
}
