package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pagetally/pagetally/internal/bootstrap"
	"github.com/pagetally/pagetally/internal/data"
	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/service"
)

const (
	defaultFireAlertTimeout = 20 * time.Second
	defaultAlertSeverity    = "info"
	defaultAlertTitle       = "Pagetally webhook sink test alert"
	defaultAlertSummary     = "Manual test alert to verify webhook sink delivery."
)

type fireAlertOptions struct {
	Page         string
	ScanID       string
	Severity     string
	Title        string
	Summary      string
	SkipDispatch bool
	Timeout      time.Duration
}

func parseFireAlertFlags(args []string) (fireAlertOptions, error) {
	fs := flag.NewFlagSet("fire-test-alert", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := fireAlertOptions{
		Severity: defaultAlertSeverity,
		Title:    defaultAlertTitle,
		Summary:  defaultAlertSummary,
		Timeout:  defaultFireAlertTimeout,
	}
	fs.StringVar(&opts.Page, "page", "", "Page ID or name to attach the alert to (required)")
	fs.StringVar(&opts.ScanID, "scan-id", "", "Scan ID to reference; defaults to the page's latest completed scan")
	fs.StringVar(&opts.Severity, "severity", defaultAlertSeverity, "Alert severity (critical, high, medium, low, info)")
	fs.StringVar(&opts.Title, "title", defaultAlertTitle, "Alert title")
	fs.StringVar(&opts.Summary, "summary", defaultAlertSummary, "Alert summary text")
	fs.BoolVar(&opts.SkipDispatch, "skip-dispatch", false, "Create the alert without delivering it to webhook sinks")
	fs.DurationVar(&opts.Timeout, "timeout", defaultFireAlertTimeout, "Maximum duration for the whole operation")

	if err := fs.Parse(args); err != nil {
		return fireAlertOptions{}, err
	}

	opts.Page = strings.TrimSpace(opts.Page)
	if opts.Page == "" {
		return fireAlertOptions{}, errors.New("--page is required")
	}
	if opts.Timeout <= 0 {
		return fireAlertOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

type fireAlertDeps struct {
	Pages  *data.PageRepo
	Scans  *data.ScanRepo
	Alerts *data.AlertRepo
	Sinks  *data.WebhookSinkRepo
}

// runFireTestAlert creates a synthetic alert against a real page and pushes it
// through the same dispatch path the notifier uses, so operators can verify a
// sink configuration end to end without waiting for an actual overage.
func runFireTestAlert(cmdCtx *commandContext, args []string) error {
	opts, err := parseFireAlertFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, _, err := connectInfraWithOptions(&connectInfraOptions{
		Logger: cmdCtx.Logger,
		Config: &cmdCtx.Config,
		WantDB: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	deps := fireAlertDeps{
		Pages:  data.NewPageRepo(db),
		Scans:  data.NewScanRepo(db),
		Alerts: data.NewAlertRepo(db),
		Sinks:  data.NewWebhookSinkRepo(db),
	}

	page, err := resolvePage(ctx, deps.Pages, opts.Page)
	if err != nil {
		return err
	}

	scanID, err := resolveScanID(ctx, deps.Scans, page.ID, opts.ScanID)
	if err != nil {
		return err
	}

	alert, err := createTestAlert(ctx, deps.Alerts, page, scanID, opts)
	if err != nil {
		return err
	}

	if err := printCreatedAlert(os.Stdout, alert, page); err != nil {
		return err
	}

	if opts.SkipDispatch {
		return writeln(os.Stdout, "Dispatch skipped (--skip-dispatch); alert left in pending state.")
	}

	return dispatchTestAlert(ctx, &dispatchTestAlertParams{
		Deps:    deps,
		Alert:   alert,
		Config:  cmdCtx,
		BaseURL: cmdCtx.Config.HTTP.BaseURL,
		Logger:  cmdCtx.Logger,
	})
}

func resolvePage(ctx context.Context, pages *data.PageRepo, ref string) (*model.Page, error) {
	page, err := pages.GetByID(ctx, ref)
	if err == nil {
		return page, nil
	}
	if !errors.Is(err, data.ErrPageNotFound) {
		return nil, fmt.Errorf("look up page by id: %w", err)
	}

	page, err = pages.GetByName(ctx, ref)
	if err != nil {
		if errors.Is(err, data.ErrPageNotFound) {
			return nil, fmt.Errorf("no page with id or name %q", ref)
		}
		return nil, fmt.Errorf("look up page by name: %w", err)
	}
	return page, nil
}

// resolveScanID picks a scan to reference: an explicit one, the latest
// completed scan, or a fresh pending scan when the page has never completed a
// capture.
func resolveScanID(ctx context.Context, scans *data.ScanRepo, pageID, explicit string) (string, error) {
	if explicit != "" {
		scan, err := scans.GetByID(ctx, explicit)
		if err != nil {
			return "", fmt.Errorf("look up scan %q: %w", explicit, err)
		}
		return scan.ID, nil
	}

	scan, err := scans.LatestCompletedForPage(ctx, pageID)
	if err == nil {
		return scan.ID, nil
	}
	if !errors.Is(err, data.ErrScanNotFound) {
		return "", fmt.Errorf("find latest completed scan: %w", err)
	}

	created, err := scans.Create(ctx, &model.CreateScanRequest{PageID: pageID})
	if err != nil {
		return "", fmt.Errorf("create placeholder scan: %w", err)
	}
	return created.ID, nil
}

func createTestAlert(
	ctx context.Context,
	alerts *data.AlertRepo,
	page *model.Page,
	scanID string,
	opts fireAlertOptions,
) (*model.OverageAlert, error) {
	details, err := json.Marshal(map[string]any{
		"test":      true,
		"page_name": page.Name,
		"issued_by": "pagetally-admin fire-test-alert",
	})
	if err != nil {
		return nil, fmt.Errorf("encode alert details: %w", err)
	}

	alert, err := alerts.Create(ctx, &model.CreateOverageAlertRequest{
		PageID:   page.ID,
		ScanID:   scanID,
		Severity: opts.Severity,
		Title:    opts.Title,
		Summary:  opts.Summary,
		Details:  details,
	})
	if err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	return alert, nil
}

type dispatchTestAlertParams struct {
	Deps    fireAlertDeps
	Alert   *model.OverageAlert
	Config  *commandContext
	BaseURL string
	Logger  *slog.Logger
}

func dispatchTestAlert(ctx context.Context, params *dispatchTestAlertParams) error {
	dispatcher, err := buildTestDispatcher(params)
	if err != nil {
		return err
	}

	if dispatchErr := dispatcher.Dispatch(ctx, params.Alert); dispatchErr != nil {
		return fmt.Errorf("dispatch alert: %w", dispatchErr)
	}

	// Re-read for the final delivery status the dispatcher recorded.
	refreshed, err := params.Deps.Alerts.GetByID(ctx, params.Alert.ID)
	if err != nil {
		return fmt.Errorf("reload alert after dispatch: %w", err)
	}

	return writef(os.Stdout, "Dispatch complete; delivery status: %s\n", refreshed.DeliveryStatus)
}

func buildTestDispatcher(params *dispatchTestAlertParams) (*service.AlertDispatchService, error) {
	encryptor := bootstrap.CreateEncryptor(params.Config.Config.TokenEncryptionKey, params.Logger)

	sinkSvc, err := service.NewWebhookSinkService(service.WebhookSinkServiceOptions{
		Repo:      params.Deps.Sinks,
		Encryptor: encryptor,
		Logger:    params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook sink service: %w", err)
	}

	deliverySvc, err := service.NewWebhookDeliveryService(service.WebhookDeliveryOptions{
		Sinks:  sinkSvc,
		Logger: params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook delivery service: %w", err)
	}

	return service.NewAlertDispatchService(service.AlertDispatchServiceOptions{
		Sinks:     params.Deps.Sinks,
		Alerts:    params.Deps.Alerts,
		Pages:     params.Deps.Pages,
		Deliverer: deliverySvc,
		BaseURL:   params.BaseURL,
		Logger:    params.Logger,
	}), nil
}

func printCreatedAlert(out io.Writer, alert *model.OverageAlert, page *model.Page) error {
	if err := writef(out, "\nCreated test alert\n"); err != nil {
		return fmt.Errorf("print alert header: %w", err)
	}
	if err := writef(out, "Alert ID: %s\n", alert.ID); err != nil {
		return fmt.Errorf("print alert id: %w", err)
	}
	if err := writef(out, "Page:     %s (%s)\n", page.Name, page.ID); err != nil {
		return fmt.Errorf("print alert page: %w", err)
	}
	if err := writef(out, "Severity: %s\n", alert.Severity); err != nil {
		return fmt.Errorf("print alert severity: %w", err)
	}
	if err := writef(out, "Title:    %s\n\n", alert.Title); err != nil {
		return fmt.Errorf("print alert title: %w", err)
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func writeln(w io.Writer, args ...any) error {
	if _, err := fmt.Fprintln(w, args...); err != nil {
		return fmt.Errorf("write output line: %w", err)
	}
	return nil
}
