package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pagetally/pagetally/internal/domain/audit"
	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/domain/netlog"
	"github.com/pagetally/pagetally/internal/util"
)

type auditHAROptions struct {
	HARPath     string
	BudgetsPath string
	FirstParty  string
	RawJSON     bool
}

func parseAuditHARFlags(args []string) (auditHAROptions, error) {
	fs := flag.NewFlagSet("audit-har", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts auditHAROptions
	fs.StringVar(&opts.HARPath, "har", "", "Path to the HAR file to evaluate (required)")
	fs.StringVar(&opts.BudgetsPath, "budgets", "", "Path to a JSON budget document; omit for a plain summary report")
	fs.StringVar(&opts.FirstParty, "first-party", "", "Comma-separated first-party host patterns (e.g. example.com,*.cdn.example.com)")
	fs.BoolVar(&opts.RawJSON, "json", false, "Print the report as JSON instead of a table")

	if err := fs.Parse(args); err != nil {
		return auditHAROptions{}, err
	}

	opts.HARPath = strings.TrimSpace(opts.HARPath)
	if opts.HARPath == "" {
		return auditHAROptions{}, errors.New("--har is required")
	}

	return opts, nil
}

// runAuditHAR evaluates a recorded HAR capture entirely offline. It exercises
// the same evaluator as the audit engine, which makes it handy for tuning
// budget documents before assigning them to a page.
func runAuditHAR(cmdCtx *commandContext, args []string) error {
	opts, err := parseAuditHARFlags(args)
	if err != nil {
		return err
	}

	harData, err := os.ReadFile(opts.HARPath)
	if err != nil {
		return fmt.Errorf("read har file: %w", err)
	}

	imported, err := netlog.ParseHAR(harData)
	if err != nil {
		return fmt.Errorf("parse har: %w", err)
	}
	if imported.Skipped > 0 {
		cmdCtx.Logger.Warn("skipped har entries without a request URL", "skipped", imported.Skipped)
	}

	budgets, err := loadBudgetDocument(opts.BudgetsPath)
	if err != nil {
		return err
	}

	report := audit.Evaluate(audit.Input{
		FinalURL:           imported.FinalURL,
		Requests:           recordsToRequests(imported.Records),
		Budgets:            budgets,
		FirstPartyPatterns: splitPatterns(opts.FirstParty),
	})

	if opts.RawJSON {
		return printReportJSON(report)
	}
	return printReportTable(os.Stdout, imported, report)
}

// runValidateBudgets checks a budget document without evaluating anything,
// so documents can be linted in CI before they are assigned to a page.
func runValidateBudgets(_ *commandContext, args []string) error {
	fs := flag.NewFlagSet("validate-budgets", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var path string
	fs.StringVar(&path, "file", "", "Path to the JSON budget document (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("--file is required")
	}

	budgets, err := loadBudgetDocument(path)
	if err != nil {
		return err
	}
	if len(budgets) == 0 {
		return errors.New("budget document is empty")
	}

	for i, b := range budgets {
		scope := "all paths"
		if b.Path != "" {
			scope = string(b.Path)
		}
		if writeErr := writef(os.Stdout, "budget %d: %s (%d size ceilings, %d count ceilings)\n",
			i, scope, len(b.ResourceSizes), len(b.ResourceCounts)); writeErr != nil {
			return writeErr
		}
	}
	return writef(os.Stdout, "OK: %d budget config(s) valid\n", len(budgets))
}

// loadBudgetDocument reads and normalizes a budget JSON document. An empty
// path means no budgets, producing the summary report form.
func loadBudgetDocument(path string) ([]model.Budget, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read budget document: %w", err)
	}

	var budgets []model.Budget
	if err := json.Unmarshal(data, &budgets); err != nil {
		return nil, fmt.Errorf("decode budget document: %w", err)
	}

	for i := range budgets {
		budgets[i].Normalize()
		if validateErr := budgets[i].Validate(); validateErr != nil {
			return nil, fmt.Errorf("budget %d: %w", i, validateErr)
		}
	}

	return budgets, nil
}

func recordsToRequests(records []netlog.Record) []model.NetworkRequest {
	requests := make([]model.NetworkRequest, 0, len(records))
	for _, rec := range records {
		requests = append(requests, model.NetworkRequest{
			URL:          rec.URL,
			ResourceType: rec.ResourceType,
			TransferSize: rec.TransferSize,
		})
	}
	return requests
}

func splitPatterns(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	patterns := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	return patterns
}

func printReportJSON(report *model.Report) error {
	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if writeErr := writef(os.Stdout, "%s\n", encoded); writeErr != nil {
		return fmt.Errorf("print report json: %w", writeErr)
	}
	return nil
}

func printReportTable(out io.Writer, imported *netlog.Import, report *model.Report) error {
	if err := writef(out, "\nResource Budget Report\n"); err != nil {
		return fmt.Errorf("print report title: %w", err)
	}
	if imported.FinalURL != "" {
		if err := writef(out, "URL:      %s\n", imported.FinalURL); err != nil {
			return fmt.Errorf("print report url: %w", err)
		}
	}
	if err := writef(out, "Requests: %d\n\n", len(imported.Records)); err != nil {
		return fmt.Errorf("print report request count: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writeTableHeader(w, report.Headings); err != nil {
		return err
	}
	for _, row := range report.Rows {
		if err := writeTableRow(w, row); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush report table: %w", err)
	}

	return printOverageSummary(out, report)
}

func writeTableHeader(w io.Writer, headings []model.Heading) error {
	labels := make([]string, 0, len(headings))
	for _, h := range headings {
		labels = append(labels, h.Label)
	}
	if err := writeln(w, strings.Join(labels, "\t")); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	return nil
}

func writeTableRow(w io.Writer, row model.Row) error {
	cols := []string{
		row.Label,
		util.FormatRequestCount(int64(row.RequestCount)),
		util.FormatBytes(row.TransferSize),
	}
	if row.SizeOverBudget != nil {
		cols = append(cols, util.FormatBytes(*row.SizeOverBudget))
	} else if row.CountOverBudget != "" {
		cols = append(cols, row.CountOverBudget)
	}
	if err := writef(w, "%s\n", strings.Join(cols, "\t")); err != nil {
		return fmt.Errorf("write report row %q: %w", row.Label, err)
	}
	return nil
}

func printOverageSummary(out io.Writer, report *model.Report) error {
	over := report.OverageRows()
	if len(over) == 0 {
		if err := writef(out, "\nAll budgets met.\n"); err != nil {
			return fmt.Errorf("print overage summary: %w", err)
		}
		return nil
	}

	labels := make([]string, 0, len(over))
	for _, row := range over {
		labels = append(labels, row.Label)
	}
	if err := writef(out, "\nOver budget: %s\n", strings.Join(labels, ", ")); err != nil {
		return fmt.Errorf("print overage summary: %w", err)
	}
	return nil
}
