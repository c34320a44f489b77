package data

import (
	"reflect"
	"testing"

	"github.com/pagetally/pagetally/internal/core"
)

var (
	_ core.JobRepository            = (*JobRepo)(nil)
	_ core.JobRepositoryTx         = (*JobRepo)(nil)
	_ core.ReaperRepository        = (*JobRepo)(nil)
	_ core.PageRepository          = (*PageRepo)(nil)
	_ core.BudgetSetRepository     = (*BudgetSetRepo)(nil)
	_ core.ScanRepository          = (*ScanRepo)(nil)
	_ core.RequestRecordRepository = (*RequestRecordRepo)(nil)
	_ core.ReportRepository        = (*ReportRepo)(nil)
	_ core.WebhookSinkRepository   = (*WebhookSinkRepo)(nil)
	_ core.AlertRepository         = (*AlertRepo)(nil)
)

func TestJobRepoExportedMethodsMatchAllowlist(t *testing.T) {
	allowed := map[string]struct{}{
		"Complete":                   {},
		"CountForPage":               {},
		"Create":                     {},
		"CreateInTx":                 {},
		"Delete":                     {},
		"DeleteOldJobs":              {},
		"DeleteOldScans":             {},
		"DeletePendingForPage":       {},
		"Fail":                       {},
		"FailStalePendingJobs":       {},
		"GetByID":                    {},
		"Heartbeat":                  {},
		"JobStatesByTaskName":        {},
		"List":                       {},
		"ListRecentByType":           {},
		"ReserveNext":                {},
		"RunningJobExistsByTaskName": {},
		"Stats":                      {},
		"WaitForNotification":        {},
	}

	methods := reflect.TypeOf(&JobRepo{})
	seen := make(map[string]struct{})

	for i := range methods.NumMethod() {
		m := methods.Method(i)
		if !m.IsExported() {
			continue
		}
		name := m.Name
		if _, ok := allowed[name]; !ok {
			t.Fatalf("unexpected exported method on JobRepo: %s", name)
		}
		seen[name] = struct{}{}
	}

	for name := range allowed {
		if _, ok := seen[name]; !ok {
			t.Fatalf("expected JobRepo to export method %s", name)
		}
	}
}
