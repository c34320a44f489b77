//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxPageNameLen        = 255
	maxPageURLLen         = 1024
	maxFirstPartyPatterns = 64
)

// Page is a monitored page: the service schedules capture runs for it and
// audits each run against the page's assigned budget set. FirstPartyPatterns
// widens the first-party origin set beyond the final URL's registrable
// domain (wildcard host patterns, e.g. "*.cdn.example.com").
type Page struct {
	ID                  string     `json:"id"                       db:"id"`
	Name                string     `json:"name"                     db:"name"`
	URL                 string     `json:"url"                      db:"url"`
	Enabled             bool       `json:"enabled"                  db:"enabled"`
	CaptureEveryMinutes int        `json:"capture_every_minutes"    db:"capture_every_minutes"`
	FirstPartyPatterns  []string   `json:"first_party_patterns"     db:"first_party_patterns"`
	BudgetSetID         *string    `json:"budget_set_id,omitempty"  db:"budget_set_id"`
	LastCapturedAt      *time.Time `json:"last_captured_at,omitempty" db:"last_captured_at"`
	CreatedAt           time.Time  `json:"created_at"               db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"               db:"updated_at"`
}

// CreatePageRequest represents parameters to create a Page.
type CreatePageRequest struct {
	Name                string   `json:"name"`
	URL                 string   `json:"url"`
	Enabled             *bool    `json:"enabled,omitempty"`
	CaptureEveryMinutes int      `json:"capture_every_minutes"`
	FirstPartyPatterns  []string `json:"first_party_patterns,omitempty"`
	BudgetSetID         *string  `json:"budget_set_id,omitempty"`
}

// UpdatePageRequest represents parameters to update a Page.
type UpdatePageRequest struct {
	Name                *string  `json:"name,omitempty"`
	URL                 *string  `json:"url,omitempty"`
	Enabled             *bool    `json:"enabled,omitempty"`
	CaptureEveryMinutes *int     `json:"capture_every_minutes,omitempty"`
	FirstPartyPatterns  []string `json:"first_party_patterns,omitempty"`
	BudgetSetID         *string  `json:"budget_set_id,omitempty"`
}

// PagesListOptions controls paging and filtering for listing pages.
type PagesListOptions struct {
	Limit   int
	Offset  int
	Q       *string // substring match on name (ILIKE)
	Enabled *bool   // exact match
	Sort    string  // allowed: "created_at", "name"
	Dir     string  // allowed: "asc", "desc" (case-insensitive; normalized internally)
}

// Validate validates CreatePageRequest.
func (r *CreatePageRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxPageNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	if err := validateHTTPURL(r.URL, "url"); err != nil {
		return err
	}
	if r.CaptureEveryMinutes <= 0 {
		return errors.New("capture_every_minutes must be > 0")
	}
	return validateFirstPartyPatterns(r.FirstPartyPatterns)
}

// HasUpdates reports whether any field is set in UpdatePageRequest.
func (r *UpdatePageRequest) HasUpdates() bool {
	return r.Name != nil || r.URL != nil || r.Enabled != nil ||
		r.CaptureEveryMinutes != nil ||
		r.FirstPartyPatterns != nil ||
		r.BudgetSetID != nil
}

// Validate validates UpdatePageRequest, ensuring at least one field is set and values are sane.
func (r *UpdatePageRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return errors.New("name cannot be empty")
		}
		if utf8.RuneCountInString(n) > maxPageNameLen {
			return errors.New("name cannot exceed 255 characters")
		}
	}
	if r.URL != nil {
		if err := validateHTTPURL(*r.URL, "url"); err != nil {
			return err
		}
	}
	if r.CaptureEveryMinutes != nil && *r.CaptureEveryMinutes <= 0 {
		return errors.New("capture_every_minutes must be > 0")
	}
	if r.FirstPartyPatterns != nil {
		return validateFirstPartyPatterns(r.FirstPartyPatterns)
	}
	return nil
}

// validateHTTPURL requires a parseable absolute http(s) URL with a host.
func validateHTTPURL(value, field string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s is required and cannot be empty", field)
	}
	if utf8.RuneCountInString(trimmed) > maxPageURLLen {
		return fmt.Errorf("%s cannot exceed %d characters", field, maxPageURLLen)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL", field)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must have a valid host", field)
	}
	return nil
}

// validateFirstPartyPatterns checks host patterns: non-empty, lowercase-able
// hostnames with an optional single leading "*." wildcard, no duplicates.
func validateFirstPartyPatterns(patterns []string) error {
	if len(patterns) > maxFirstPartyPatterns {
		return fmt.Errorf("first_party_patterns cannot exceed %d entries", maxFirstPartyPatterns)
	}
	seen := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		trimmed := strings.ToLower(strings.TrimSpace(p))
		if trimmed == "" {
			return errors.New("first_party_patterns cannot contain empty entries")
		}
		host := strings.TrimPrefix(trimmed, "*.")
		if host == "" || strings.ContainsAny(host, "*/ ") {
			return fmt.Errorf("invalid first-party pattern %q", p)
		}
		if seen[trimmed] {
			return errors.New("first_party_patterns cannot contain duplicate entries")
		}
		seen[trimmed] = true
	}
	return nil
}
