//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxBudgetSetNameLen = 255
	maxBudgetsPerSet    = 32
	kibibyte            = int64(1024)
)

// ResourceSize declares a transfer-size ceiling for one resource type.
// Budget is in kibibytes; the enforced ceiling is Budget*1024 bytes.
type ResourceSize struct {
	ResourceType ResourceType `json:"resourceType"`
	Budget       int64        `json:"budget"`
}

// Bytes returns the declared ceiling in bytes.
func (s ResourceSize) Bytes() int64 {
	return s.Budget * kibibyte
}

// ResourceCount declares a request-count ceiling for one resource type.
type ResourceCount struct {
	ResourceType ResourceType `json:"resourceType"`
	Budget       int64        `json:"budget"`
}

// Budget is one budget config: an optional path scope plus per-type size
// and count ceilings. The JSON shape matches the budget document format
// accepted by the API and the admin CLI.
type Budget struct {
	Path           PathPattern     `json:"path,omitempty"`
	ResourceSizes  []ResourceSize  `json:"resourceSizes,omitempty"`
	ResourceCounts []ResourceCount `json:"resourceCounts,omitempty"`
}

// Normalize lowercases and canonicalizes the resource type names in place.
// Call after decoding and before Validate.
func (b *Budget) Normalize() {
	for i := range b.ResourceSizes {
		if t, ok := ParseBudgetResourceType(string(b.ResourceSizes[i].ResourceType)); ok {
			b.ResourceSizes[i].ResourceType = t
		}
	}
	for i := range b.ResourceCounts {
		if t, ok := ParseBudgetResourceType(string(b.ResourceCounts[i].ResourceType)); ok {
			b.ResourceCounts[i].ResourceType = t
		}
	}
}

// Validate checks the config: a syntactically valid path pattern, known
// budgetable resource types, non-negative ceilings, and no duplicate type
// declarations within sizes or within counts.
func (b *Budget) Validate() error {
	if err := b.Path.Validate(); err != nil {
		return err
	}
	if len(b.ResourceSizes) == 0 && len(b.ResourceCounts) == 0 {
		return errors.New("budget must declare at least one resourceSizes or resourceCounts entry")
	}

	seenSizes := make(map[ResourceType]bool, len(b.ResourceSizes))
	for _, s := range b.ResourceSizes {
		t, ok := ParseBudgetResourceType(string(s.ResourceType))
		if !ok {
			return fmt.Errorf("resourceSizes: unknown resource type %q", s.ResourceType)
		}
		if seenSizes[t] {
			return fmt.Errorf("resourceSizes: duplicate entry for %q", t)
		}
		seenSizes[t] = true
		if s.Budget < 0 {
			return fmt.Errorf("resourceSizes: budget for %q must be non-negative", t)
		}
	}

	seenCounts := make(map[ResourceType]bool, len(b.ResourceCounts))
	for _, c := range b.ResourceCounts {
		t, ok := ParseBudgetResourceType(string(c.ResourceType))
		if !ok {
			return fmt.Errorf("resourceCounts: unknown resource type %q", c.ResourceType)
		}
		if seenCounts[t] {
			return fmt.Errorf("resourceCounts: duplicate entry for %q", t)
		}
		seenCounts[t] = true
		if c.Budget < 0 {
			return fmt.Errorf("resourceCounts: budget for %q must be non-negative", t)
		}
	}
	return nil
}

// ValidateBudgets normalizes and validates a budget list in place.
func ValidateBudgets(budgets []Budget) error {
	if len(budgets) == 0 {
		return errors.New("at least one budget config is required")
	}
	if len(budgets) > maxBudgetsPerSet {
		return fmt.Errorf("at most %d budget configs are allowed", maxBudgetsPerSet)
	}
	for i := range budgets {
		budgets[i].Normalize()
		if err := budgets[i].Validate(); err != nil {
			return fmt.Errorf("budget %d: %w", i, err)
		}
	}
	return nil
}

// BudgetSet is a named, versioned list of budget configs assignable to pages.
// Version increments on every update so stored reports can record which
// revision they were evaluated against.
type BudgetSet struct {
	ID          string    `json:"id"                    db:"id"`
	Name        string    `json:"name"                  db:"name"`
	Description *string   `json:"description,omitempty" db:"description"`
	Budgets     []Budget  `json:"budgets"               db:"-"`
	Version     int       `json:"version"               db:"version"`
	CreatedAt   time.Time `json:"created_at"            db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"            db:"updated_at"`
}

// CreateBudgetSetRequest represents parameters to create a BudgetSet.
type CreateBudgetSetRequest struct {
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	Budgets     []Budget `json:"budgets"`
}

// UpdateBudgetSetRequest represents parameters to update a BudgetSet.
type UpdateBudgetSetRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Budgets     []Budget `json:"budgets,omitempty"`
}

// Validate validates CreateBudgetSetRequest.
func (r *CreateBudgetSetRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxBudgetSetNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	return ValidateBudgets(r.Budgets)
}

// HasUpdates reports whether any field is set in UpdateBudgetSetRequest.
func (r *UpdateBudgetSetRequest) HasUpdates() bool {
	return r.Name != nil || r.Description != nil || r.Budgets != nil
}

// Validate validates UpdateBudgetSetRequest, ensuring at least one field is set.
func (r *UpdateBudgetSetRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return errors.New("name cannot be empty")
		}
		if utf8.RuneCountInString(n) > maxBudgetSetNameLen {
			return errors.New("name cannot exceed 255 characters")
		}
	}
	if r.Budgets != nil {
		return ValidateBudgets(r.Budgets)
	}
	return nil
}

// BudgetSetListOptions controls paging for listing budget sets.
type BudgetSetListOptions struct {
	Limit  int
	Offset int
	Q      *string // substring match on name (ILIKE)
}
