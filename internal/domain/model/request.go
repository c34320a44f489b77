//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// MaxIngestBatchEntries caps a single collector batch. It also fixes the
	// per-batch sequence stride, so record order is stable across batches.
	MaxIngestBatchEntries = 1000
)

// NetworkRequest is the evaluator's view of one captured request: where it
// went, what the page loaded it as, and its on-the-wire size in bytes.
type NetworkRequest struct {
	URL          string       `json:"url"`
	ResourceType ResourceType `json:"resourceType"`
	TransferSize int64        `json:"transferSize"`
}

// RequestRecord is a persisted captured request belonging to a scan.
type RequestRecord struct {
	ID           string       `json:"id"                    db:"id"`
	ScanID       string       `json:"scan_id"               db:"scan_id"`
	URL          string       `json:"url"                   db:"url"`
	Host         string       `json:"host"                  db:"host"`
	ResourceType ResourceType `json:"resource_type"         db:"resource_type"`
	TransferSize int64        `json:"transfer_size"         db:"transfer_size"`
	StatusCode   *int         `json:"status_code,omitempty" db:"status_code"`
	MimeType     *string      `json:"mime_type,omitempty"   db:"mime_type"`
	Seq          int          `json:"seq"                   db:"seq"`
	CreatedAt    time.Time    `json:"created_at"            db:"created_at"`
}

// NetworkRequest projects the record into the evaluator's input shape.
func (r *RequestRecord) NetworkRequest() NetworkRequest {
	return NetworkRequest{
		URL:          r.URL,
		ResourceType: r.ResourceType,
		TransferSize: r.TransferSize,
	}
}

// RequestRecordInput carries one normalized request for bulk insertion.
type RequestRecordInput struct {
	URL          string
	Host         string
	ResourceType ResourceType
	TransferSize int64
	StatusCode   *int
	MimeType     *string
	Seq          int
}

// IngestBatchRequest is one collector upload: a batch of raw capture entries
// for a scan. BatchSeq orders and deduplicates batches; replays of a
// previously accepted (scan, batch_seq) pair are dropped.
type IngestBatchRequest struct {
	BatchSeq int               `json:"batch_seq"`
	Entries  []json.RawMessage `json:"entries"`
}

// Validate validates IngestBatchRequest.
func (r *IngestBatchRequest) Validate() error {
	if r.BatchSeq < 0 {
		return errors.New("batch_seq must be non-negative")
	}
	if len(r.Entries) == 0 {
		return errors.New("entries is required and cannot be empty")
	}
	if len(r.Entries) > MaxIngestBatchEntries {
		return fmt.Errorf("entries cannot exceed %d per batch", MaxIngestBatchEntries)
	}
	return nil
}

// CompleteScanRequest finalizes a scan after the collector uploaded all
// batches. FinalURL is the document URL after redirects; the audit uses it
// to resolve budget path scoping and third-party classification.
type CompleteScanRequest struct {
	FinalURL string `json:"final_url"`
}

// Validate validates CompleteScanRequest.
func (r *CompleteScanRequest) Validate() error {
	if err := validateHTTPURL(r.FinalURL, "final_url"); err != nil {
		return err
	}
	return nil
}
