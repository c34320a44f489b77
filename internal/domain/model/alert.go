//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// OverageAlert represents a fired budget overage in the system. One alert is
// raised per scan whose report contains at least one over-budget row.
type OverageAlert struct {
	ID             string              `json:"id"                    db:"id"`
	PageID         string              `json:"page_id"               db:"page_id"`
	ScanID         string              `json:"scan_id"               db:"scan_id"`
	Severity       AlertSeverity       `json:"severity"              db:"severity"`
	Title          string              `json:"title"                 db:"title"`
	Summary        string              `json:"summary"               db:"summary"`
	Details        json.RawMessage     `json:"details"               db:"details"`
	DeliveryStatus AlertDeliveryStatus `json:"delivery_status"       db:"delivery_status"`
	FiredAt        time.Time           `json:"fired_at"              db:"fired_at"`
	ResolvedAt     *time.Time          `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy     *string             `json:"resolved_by,omitempty" db:"resolved_by"`
	CreatedAt      time.Time           `json:"created_at"            db:"created_at"`
}

// AlertSeverity represents the severity level of an alert.
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityInfo     AlertSeverity = "info"
)

// Valid returns true if the alert severity is valid.
func (s AlertSeverity) Valid() bool {
	switch s {
	case AlertSeverityCritical, AlertSeverityHigh, AlertSeverityMedium, AlertSeverityLow, AlertSeverityInfo:
		return true
	default:
		return false
	}
}

// String returns the string representation of the alert severity.
func (s AlertSeverity) String() string {
	return string(s)
}

// AlertDeliveryStatus tracks whether an alert was dispatched externally.
type AlertDeliveryStatus string

const (
	AlertDeliveryStatusPending    AlertDeliveryStatus = "pending"
	AlertDeliveryStatusMuted      AlertDeliveryStatus = "muted"
	AlertDeliveryStatusDispatched AlertDeliveryStatus = "dispatched"
	AlertDeliveryStatusFailed     AlertDeliveryStatus = "failed"
)

// Valid returns true when the delivery status is one of the supported values.
func (s AlertDeliveryStatus) Valid() bool {
	switch s {
	case AlertDeliveryStatusPending, AlertDeliveryStatusMuted, AlertDeliveryStatusDispatched, AlertDeliveryStatusFailed:
		return true
	default:
		return false
	}
}

func normalizeAlertDeliveryStatus(v AlertDeliveryStatus) AlertDeliveryStatus {
	normalized := AlertDeliveryStatus(strings.ToLower(strings.TrimSpace(string(v))))
	if normalized == "" {
		return AlertDeliveryStatusPending
	}
	return normalized
}

// CreateOverageAlertRequest represents a request to create a new overage alert.
type CreateOverageAlertRequest struct {
	PageID         string              `json:"page_id"`
	ScanID         string              `json:"scan_id"`
	Severity       string              `json:"severity"`
	Title          string              `json:"title"`
	Summary        string              `json:"summary"`
	Details        json.RawMessage     `json:"details,omitempty"`
	FiredAt        *time.Time          `json:"fired_at,omitempty"`
	DeliveryStatus AlertDeliveryStatus `json:"delivery_status,omitempty"`
}

// Normalize normalizes the CreateOverageAlertRequest fields.
func (r *CreateOverageAlertRequest) Normalize() {
	r.PageID = strings.TrimSpace(r.PageID)
	r.ScanID = strings.TrimSpace(r.ScanID)
	r.Severity = strings.TrimSpace(r.Severity)
	r.Title = strings.TrimSpace(r.Title)
	r.Summary = strings.TrimSpace(r.Summary)
	r.DeliveryStatus = AlertDeliveryStatus(strings.TrimSpace(string(r.DeliveryStatus)))
}

// Validate validates the CreateOverageAlertRequest fields.
func (r *CreateOverageAlertRequest) Validate() error {
	if r.PageID == "" {
		return errors.New("page_id is required")
	}
	if r.ScanID == "" {
		return errors.New("scan_id is required")
	}

	if !AlertSeverity(r.Severity).Valid() {
		return errors.New("invalid severity")
	}

	if r.Title == "" {
		return errors.New("title is required")
	}
	if utf8.RuneCountInString(r.Title) > 255 {
		return errors.New("title cannot exceed 255 characters")
	}

	if r.Summary == "" {
		return errors.New("summary is required")
	}

	r.DeliveryStatus = normalizeAlertDeliveryStatus(r.DeliveryStatus)
	if !r.DeliveryStatus.Valid() {
		return errors.New("invalid delivery_status")
	}

	return nil
}

// AlertListOptions represents options for listing alerts.
type AlertListOptions struct {
	PageID     *string `json:"page_id,omitempty"`
	Severity   *string `json:"severity,omitempty"`
	Unresolved bool    `json:"unresolved,omitempty"`
	Sort       string  `json:"sort,omitempty"` // Sort field: "fired_at", "severity", "created_at" (default: "fired_at")
	Dir        string  `json:"dir,omitempty"`  // Sort direction: "asc", "desc" (default: "desc")
	Limit      int     `json:"limit,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}

// AlertWithPageName represents an alert with the associated page name.
// This type is used for JOIN queries to avoid N+1 query patterns.
type AlertWithPageName struct {
	OverageAlert
	PageName string `json:"page_name" db:"page_name"`
}

// AlertListResult contains both the list of alerts and the total count.
// This allows efficient pagination by returning both values in a single query.
type AlertListResult struct {
	Alerts []*AlertWithPageName
	Total  int
}

// AlertStats represents statistics about alerts in the system.
type AlertStats struct {
	Total      int `json:"total"`
	Critical   int `json:"critical"`
	High       int `json:"high"`
	Medium     int `json:"medium"`
	Low        int `json:"low"`
	Info       int `json:"info"`
	Unresolved int `json:"unresolved"`
}
