//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import "time"

// ItemType describes how a report column's values should be rendered.
type ItemType string

const (
	ItemTypeText    ItemType = "text"
	ItemTypeNumeric ItemType = "numeric"
	ItemTypeBytes   ItemType = "bytes"
)

// Heading describes one column of a report table.
type Heading struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	ItemType ItemType `json:"itemType"`
}

// Row is one report table row: the aggregate for a resource type bucket.
// SizeOverBudget and CountOverBudget are present only in budget-mode
// reports and only when the bucket actually exceeded its ceiling.
type Row struct {
	ResourceType    ResourceType `json:"resourceType"`
	Label           string       `json:"label"`
	RequestCount    int          `json:"requestCount"`
	TransferSize    int64        `json:"transferSize"`
	SizeOverBudget  *int64       `json:"sizeOverBudget,omitempty"`
	CountOverBudget string       `json:"countOverBudget,omitempty"`
}

// OverBudget reports whether the row exceeded any declared ceiling.
func (r Row) OverBudget() bool {
	return r.SizeOverBudget != nil || r.CountOverBudget != ""
}

// Report is the evaluator's output table.
type Report struct {
	Headings []Heading `json:"headings"`
	Rows     []Row     `json:"rows"`
}

// OverageRows returns the rows that exceeded a ceiling, in table order.
func (r *Report) OverageRows() []Row {
	var over []Row
	for _, row := range r.Rows {
		if row.OverBudget() {
			over = append(over, row)
		}
	}
	return over
}

// ScanReport is the persisted evaluation result for one scan.
// BudgetSetID and BudgetSetVersion are nil for summary-mode reports.
type ScanReport struct {
	ID               string    `json:"id"                          db:"id"`
	ScanID           string    `json:"scan_id"                     db:"scan_id"`
	PageID           string    `json:"page_id"                     db:"page_id"`
	BudgetSetID      *string   `json:"budget_set_id,omitempty"     db:"budget_set_id"`
	BudgetSetVersion *int      `json:"budget_set_version,omitempty" db:"budget_set_version"`
	Report           Report    `json:"report"                      db:"-"`
	RequestCount     int       `json:"request_count"               db:"request_count"`
	TransferBytes    int64     `json:"transfer_bytes"              db:"transfer_bytes"`
	OverageCount     int       `json:"overage_count"               db:"overage_count"`
	CreatedAt        time.Time `json:"created_at"                  db:"created_at"`
}
