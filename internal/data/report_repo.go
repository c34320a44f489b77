package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pagetally/pagetally/internal/data/pgxutil"
	"github.com/pagetally/pagetally/internal/domain/model"
)

var (
	// ErrReportNotFound is returned when a scan report is not found.
	ErrReportNotFound = errors.New("report not found")
	// ErrReportScanNotFound is returned when storing a report for a missing scan.
	ErrReportScanNotFound = errors.New("report scan not found")
	// ErrReportExists is returned when a scan already has a stored report.
	ErrReportExists = errors.New("report already exists for scan")
)

// ReportRepo persists evaluation results. The report table itself is stored
// as a JSONB document; the scalar summary columns exist for list views and
// cleanup queries that must not decode the payload.
type ReportRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewReportRepo creates a new ReportRepo instance with the given database connection.
func NewReportRepo(db *sql.DB) *ReportRepo {
	return &ReportRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewReportRepoWithTimeProvider creates a ReportRepo with a custom TimeProvider (useful for testing).
func NewReportRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *ReportRepo {
	return &ReportRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

type reportRow struct {
	ID               string    `db:"id"`
	ScanID           string    `db:"scan_id"`
	PageID           string    `db:"page_id"`
	BudgetSetID      *string   `db:"budget_set_id"`
	BudgetSetVersion *int      `db:"budget_set_version"`
	Report           []byte    `db:"report"`
	RequestCount     int       `db:"request_count"`
	TransferBytes    int64     `db:"transfer_bytes"`
	OverageCount     int       `db:"overage_count"`
	CreatedAt        time.Time `db:"created_at"`
}

func (row *reportRow) toModel() (*model.ScanReport, error) {
	report := &model.ScanReport{
		ID:               row.ID,
		ScanID:           row.ScanID,
		PageID:           row.PageID,
		BudgetSetID:      row.BudgetSetID,
		BudgetSetVersion: row.BudgetSetVersion,
		RequestCount:     row.RequestCount,
		TransferBytes:    row.TransferBytes,
		OverageCount:     row.OverageCount,
		CreatedAt:        row.CreatedAt,
	}
	if len(row.Report) > 0 {
		if err := json.Unmarshal(row.Report, &report.Report); err != nil {
			return nil, fmt.Errorf("decode report payload: %w", err)
		}
	}
	return report, nil
}

const reportColumns = `id, scan_id, page_id, budget_set_id, budget_set_version,
	report, request_count, transfer_bytes, overage_count, created_at`

// Create stores the evaluation result for a scan. Each scan has at most one report.
func (r *ReportRepo) Create(
	ctx context.Context,
	report *model.ScanReport,
) (*model.ScanReport, error) {
	if report == nil {
		return nil, errors.New("report is required")
	}

	payload, err := json.Marshal(report.Report)
	if err != nil {
		return nil, fmt.Errorf("encode report payload: %w", err)
	}

	createdAt := r.timeProvider.Now().UTC()
	var row reportRow
	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, `
			INSERT INTO reports (scan_id, page_id, budget_set_id, budget_set_version,
				report, request_count, transfer_bytes, overage_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+reportColumns,
			report.ScanID, report.PageID, report.BudgetSetID, report.BudgetSetVersion,
			payload, report.RequestCount, report.TransferBytes, report.OverageCount,
			createdAt)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		row, queryErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[reportRow])
		return queryErr
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return nil, ErrReportExists
			case "23503":
				return nil, ErrReportScanNotFound
			}
		}
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	return row.toModel()
}

// GetByScanID retrieves the report for a scan.
func (r *ReportRepo) GetByScanID(ctx context.Context, scanID string) (*model.ScanReport, error) {
	return r.getByQuery(ctx, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE scan_id = $1`, "failed to get report by scan ID", scanID)
}

// LatestForPage returns the newest stored report for a page.
func (r *ReportRepo) LatestForPage(ctx context.Context, pageID string) (*model.ScanReport, error) {
	return r.getByQuery(ctx, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE page_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, "failed to get latest report for page", pageID)
}

func (r *ReportRepo) getByQuery(
	ctx context.Context,
	q string,
	errMsg string,
	args ...any,
) (*model.ScanReport, error) {
	var row reportRow
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, q, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		row, queryErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[reportRow])
		return queryErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	return row.toModel()
}
