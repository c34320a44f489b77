//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"strings"
	"time"
)

// ScanStatus represents the lifecycle state of a capture run.
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// Valid reports whether the scan status is supported.
func (s ScanStatus) Valid() bool {
	switch s {
	case ScanStatusPending, ScanStatusRunning, ScanStatusCompleted, ScanStatusFailed:
		return true
	default:
		return false
	}
}

// ParseScanStatus normalizes a status string and reports whether it is supported.
func ParseScanStatus(value string) (ScanStatus, bool) {
	status := ScanStatus(strings.ToLower(strings.TrimSpace(value)))
	if status.Valid() {
		return status, true
	}
	return "", false
}

// Scan is one capture run for a page. The collector reserves the paired
// capture job, uploads request batches, and completes the scan with the
// final document URL; completion enqueues the audit.
type Scan struct {
	ID           string     `json:"id"                     db:"id"`
	PageID       string     `json:"page_id"                db:"page_id"`
	Status       ScanStatus `json:"status"                 db:"status"`
	FinalURL     *string    `json:"final_url,omitempty"    db:"final_url"`
	Collector    *string    `json:"collector,omitempty"    db:"collector"`
	Error        *string    `json:"error,omitempty"        db:"error"`
	RequestCount int        `json:"request_count"          db:"request_count"`
	TotalBytes   int64      `json:"total_bytes"            db:"total_bytes"`
	StartedAt    *time.Time `json:"started_at,omitempty"   db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"             db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"             db:"updated_at"`
}

// ScanWithPageName augments a scan with its page's name for list views.
type ScanWithPageName struct {
	Scan
	PageName string `json:"page_name" db:"page_name"`
}

// CreateScanRequest represents parameters to create a Scan.
type CreateScanRequest struct {
	PageID    string  `json:"page_id"`
	Collector *string `json:"collector,omitempty"`
}

// Validate validates CreateScanRequest.
func (r *CreateScanRequest) Validate() error {
	if strings.TrimSpace(r.PageID) == "" {
		return errors.New("page_id is required")
	}
	return nil
}

// ScanListOptions controls paging and filtering for listing scans.
type ScanListOptions struct {
	Limit  int
	Offset int
	PageID *string
	Status *ScanStatus
}
