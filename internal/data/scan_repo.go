package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/data/pgxutil"
	"github.com/pagetally/pagetally/internal/domain/model"
)

var (
	// ErrScanNotFound is returned when a scan is not found.
	ErrScanNotFound = errors.New("scan not found")
	// ErrScanPageNotFound is returned when creating a scan for a page that does not exist.
	ErrScanPageNotFound = errors.New("scan page not found")
)

// ScanRepo provides database operations for capture runs.
type ScanRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewScanRepo creates a new ScanRepo instance with the given database connection.
func NewScanRepo(db *sql.DB) *ScanRepo {
	return &ScanRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewScanRepoWithTimeProvider creates a ScanRepo with a custom TimeProvider (useful for testing).
func NewScanRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *ScanRepo {
	return &ScanRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const scanColumns = `id, page_id, status, final_url, collector, error,
	request_count, total_bytes, started_at, completed_at, created_at, updated_at`

// Create creates a new pending scan for a page.
func (r *ScanRepo) Create(ctx context.Context, req *model.CreateScanRequest) (*model.Scan, error) {
	if req == nil {
		return nil, errors.New("create scan request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	createdAt := r.timeProvider.Now().UTC()
	var scan model.Scan
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, `
			INSERT INTO scans (page_id, status, collector, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING `+scanColumns,
			req.PageID, model.ScanStatusPending, req.Collector, createdAt)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		scan, queryErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Scan])
		return queryErr
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrScanPageNotFound
		}
		return nil, fmt.Errorf("failed to create scan: %w", err)
	}
	return &scan, nil
}

// GetByID retrieves a scan by its ID.
func (r *ScanRepo) GetByID(ctx context.Context, id string) (*model.Scan, error) {
	return r.getByQuery(ctx, `
		SELECT `+scanColumns+`
		FROM scans
		WHERE id = $1`, "failed to get scan by ID", id)
}

// List retrieves scans joined with their page names, newest first.
func (r *ScanRepo) List(
	ctx context.Context,
	opts model.ScanListOptions,
) ([]*model.ScanWithPageName, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(opts.Offset, 0)

	conditions := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if opts.PageID != nil {
		args = append(args, *opts.PageID)
		conditions = append(conditions, fmt.Sprintf("s.page_id = $%d", len(args)))
	}
	if opts.Status != nil {
		args = append(args, *opts.Status)
		conditions = append(conditions, fmt.Sprintf("s.status = $%d", len(args)))
	}

	query := `
		SELECT s.id, s.page_id, s.status, s.final_url, s.collector, s.error,
			s.request_count, s.total_bytes, s.started_at, s.completed_at,
			s.created_at, s.updated_at, p.name AS page_name
		FROM scans s
		JOIN pages p ON p.id = s.page_id`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY s.created_at DESC, s.id DESC LIMIT $%d OFFSET $%d",
		len(args)-1, len(args))

	var scans []*model.ScanWithPageName
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		scans, queryErr = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.ScanWithPageName])
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	return scans, nil
}

// MarkRunning transitions a pending scan to running. The transition is
// guarded so a retried capture job cannot restart a finished scan.
func (r *ScanRepo) MarkRunning(
	ctx context.Context,
	id string,
	startedAt time.Time,
) (*model.Scan, error) {
	return r.updateByQuery(ctx, `
		UPDATE scans
		SET status = $2, started_at = $3, updated_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+scanColumns,
		"failed to mark scan running",
		id, model.ScanStatusRunning, startedAt.UTC(), r.timeProvider.Now().UTC(),
		model.ScanStatusPending)
}

// Complete finalizes a scan with the collector's closing summary.
// Only pending or running scans can complete.
func (r *ScanRepo) Complete(
	ctx context.Context,
	params core.CompleteScanParams,
) (*model.Scan, error) {
	return r.updateByQuery(ctx, `
		UPDATE scans
		SET status = $2, final_url = $3, request_count = $4, total_bytes = $5,
			completed_at = $6, updated_at = $7
		WHERE id = $1 AND status IN ($8, $9)
		RETURNING `+scanColumns,
		"failed to complete scan",
		params.ID, model.ScanStatusCompleted, params.FinalURL,
		params.RequestCount, params.TotalBytes,
		params.CompletedAt.UTC(), r.timeProvider.Now().UTC(),
		model.ScanStatusPending, model.ScanStatusRunning)
}

// MarkFailed marks an unfinished scan as failed with an error message.
func (r *ScanRepo) MarkFailed(ctx context.Context, id, errMsg string) (*model.Scan, error) {
	now := r.timeProvider.Now().UTC()
	return r.updateByQuery(ctx, `
		UPDATE scans
		SET status = $2, error = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND status IN ($5, $6)
		RETURNING `+scanColumns,
		"failed to mark scan failed",
		id, model.ScanStatusFailed, errMsg, now,
		model.ScanStatusPending, model.ScanStatusRunning)
}

// LatestCompletedForPage returns the most recently completed scan for a page.
func (r *ScanRepo) LatestCompletedForPage(
	ctx context.Context,
	pageID string,
) (*model.Scan, error) {
	return r.getByQuery(ctx, `
		SELECT `+scanColumns+`
		FROM scans
		WHERE page_id = $1 AND status = $2
		ORDER BY completed_at DESC
		LIMIT 1`,
		"failed to get latest completed scan", pageID, model.ScanStatusCompleted)
}

func (r *ScanRepo) getByQuery(
	ctx context.Context,
	q string,
	errMsg string,
	args ...any,
) (*model.Scan, error) {
	var scan model.Scan
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, q, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		scan, queryErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Scan])
		return queryErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScanNotFound
		}
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	return &scan, nil
}

func (r *ScanRepo) updateByQuery(
	ctx context.Context,
	q string,
	errMsg string,
	args ...any,
) (*model.Scan, error) {
	return r.getByQuery(ctx, q, errMsg, args...)
}
