package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/data/database"
	"github.com/pagetally/pagetally/internal/data/pgxutil"
	"github.com/pagetally/pagetally/internal/domain/model"
)

// ErrAlertNotFound is returned when an alert is not found.
var ErrAlertNotFound = errors.New("alert not found")

// AlertRepo provides database operations for overage alert management.
type AlertRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAlertRepo creates a new AlertRepo instance with the given database connection.
func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// alertColumns defines the column list for alert SELECT queries to ensure consistent field mapping.
const alertColumns = `id, page_id, scan_id, severity, title, summary, details, delivery_status, fired_at, resolved_at, resolved_by, created_at`

// alertColumnsWithPageName defines the column list for alert SELECT queries with page name JOIN.
const alertColumnsWithPageName = `a.id, a.page_id, a.scan_id, a.severity, a.title, a.summary, a.details, a.delivery_status, a.fired_at, a.resolved_at, a.resolved_by, a.created_at, COALESCE(p.name, '') as page_name`

// getAlertColumnList returns a slice of alert column names for use with the query builder.
func getAlertColumnList() []string {
	return []string{
		"id", "page_id", "scan_id", "severity", "title", "summary",
		"details", "delivery_status", "fired_at", "resolved_at", "resolved_by", "created_at",
	}
}

const (
	sortDirAsc         = "ASC"
	sortDirDesc        = "DESC"
	sortFieldCreatedAt = "created_at"
	sortFieldFiredAt   = "fired_at"
	sortFieldSeverity  = "severity"
)

// handleCreateError handles database errors during alert creation.
func (r *AlertRepo) handleCreateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("create alert: %w", err)
	}

	if pgErr.Code == "23503" {
		if strings.Contains(pgErr.Detail, "page_id") {
			return errors.New("page not found")
		}
		if strings.Contains(pgErr.Detail, "scan_id") {
			return errors.New("scan not found")
		}
	}

	return fmt.Errorf("create alert: %w", err)
}

// Create creates a new overage alert with the given request parameters.
func (r *AlertRepo) Create(
	ctx context.Context,
	req *model.CreateOverageAlertRequest,
) (*model.OverageAlert, error) {
	if req == nil {
		return nil, errors.New("create alert request is required")
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now()
	firedAt := now
	if req.FiredAt != nil {
		firedAt = *req.FiredAt
	}

	// Set default empty JSON if not provided
	details := req.Details
	if details == nil {
		details = []byte("{}")
	}

	query := `
		INSERT INTO alerts (page_id, scan_id, severity, title, summary, details, delivery_status, fired_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + alertColumns

	var alert model.OverageAlert
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, query,
			req.PageID, req.ScanID, req.Severity, req.Title, req.Summary,
			details, req.DeliveryStatus, firedAt, now,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		alert, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.OverageAlert])
		return err
	})
	if err != nil {
		return nil, r.handleCreateError(err)
	}

	return &alert, nil
}

// UpdateDeliveryStatus updates an alert's delivery status and returns the updated alert.
func (r *AlertRepo) UpdateDeliveryStatus(
	ctx context.Context,
	params core.UpdateAlertDeliveryStatusParams,
) (*model.OverageAlert, error) {
	if params.ID == "" {
		return nil, errors.New("alert id is required")
	}
	if !params.Status.Valid() {
		return nil, errors.New("invalid delivery status")
	}
	if _, err := uuid.Parse(params.ID); err != nil {
		return nil, ErrAlertNotFound
	}

	var alert model.OverageAlert
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			UPDATE alerts
			SET delivery_status = $1
			WHERE id = $2
			RETURNING `+alertColumns,
			params.Status,
			params.ID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		alert, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.OverageAlert])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("update alert delivery status: %w", err)
	}

	return &alert, nil
}

// GetByID retrieves an alert by its ID.
func (r *AlertRepo) GetByID(ctx context.Context, id string) (*model.OverageAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	var alert model.OverageAlert
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, query, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		alert, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.OverageAlert])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("get alert by id: %w", err)
	}

	return &alert, nil
}

// normalizePagination normalizes limit and offset values for pagination.
func (r *AlertRepo) normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

// validateSortOptions validates and returns safe sort column and direction.
// Returns base column names (without table aliases) that are valid for both
// List and ListWithPageNames methods. The ListWithPageNames method will
// prefix returned columns with "a." for the alerts table alias.
func (r *AlertRepo) validateSortOptions(sort, dir string) (string, string) {
	// Validate sort field - allow fired_at, created_at, and severity
	switch sort {
	case sortFieldFiredAt, sortFieldCreatedAt, sortFieldSeverity:
		// Valid sort fields
	default:
		sort = sortFieldFiredAt // Default to fired_at
	}

	// Validate and normalize direction (case-insensitive)
	if strings.EqualFold(dir, "asc") {
		dir = sortDirAsc
	} else {
		dir = sortDirDesc // Default to DESC
	}

	return sort, dir
}

// buildListWhereClauseWithAlias builds the WHERE clause and arguments for the List query with table aliases.
func (r *AlertRepo) buildListWhereClauseWithAlias(
	opts *model.AlertListOptions,
) (string, []any, int) {
	if opts == nil {
		opts = &model.AlertListOptions{}
	}

	var conditions []string
	var args []any
	argIndex := 1

	if opts.PageID != nil {
		conditions = append(conditions, fmt.Sprintf("a.page_id = $%d", argIndex))
		args = append(args, *opts.PageID)
		argIndex++
	}

	if opts.Severity != nil {
		conditions = append(conditions, fmt.Sprintf("a.severity = $%d", argIndex))
		args = append(args, *opts.Severity)
		argIndex++
	}

	if opts.Unresolved {
		conditions = append(conditions, "a.resolved_at IS NULL")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	return whereClause, args, argIndex
}

// List retrieves a list of alerts with the given options using the query builder.
func (r *AlertRepo) List(ctx context.Context, opts *model.AlertListOptions) ([]*model.OverageAlert, error) {
	if opts == nil {
		opts = &model.AlertListOptions{}
	}

	limit, offset := r.normalizePagination(opts.Limit, opts.Offset)
	sortCol, sortDir := r.validateSortOptions(opts.Sort, opts.Dir)

	// Build query options using the query builder
	queryOpts := []database.ListQueryOption{
		database.WithColumns(getAlertColumnList()...),
		database.WithLimit(limit),
		database.WithOffset(offset),
		database.WithOrderBy(sortCol, sortDir),
	}

	// Add filter conditions
	if opts.PageID != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("page_id", database.Equal, *opts.PageID),
		))
	}
	if opts.Severity != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("severity", database.Equal, *opts.Severity),
		))
	}
	if opts.Unresolved {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereRawCond("resolved_at IS NULL"),
		))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("alerts", queryOpts...))

	// Add secondary sort key for deterministic ordering
	// Replace "ORDER BY column DIR" with "ORDER BY column DIR, id DESC"
	if strings.Contains(query, "ORDER BY") {
		query = strings.Replace(query, fmt.Sprintf("ORDER BY %s %s", sortCol, sortDir),
			fmt.Sprintf("ORDER BY %s %s, id DESC", sortCol, sortDir), 1)
	}

	var alerts []*model.OverageAlert
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		alerts, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.OverageAlert])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	return alerts, nil
}

// ListWithPageNames retrieves a list of alerts with page names using a JOIN query.
// This method eliminates N+1 queries by fetching page names in a single query.
func (r *AlertRepo) ListWithPageNames(
	ctx context.Context,
	opts *model.AlertListOptions,
) ([]*model.AlertWithPageName, error) {
	if opts == nil {
		opts = &model.AlertListOptions{}
	}

	limit, offset := r.normalizePagination(opts.Limit, opts.Offset)
	sortCol, sortDir := r.validateSortOptions(opts.Sort, opts.Dir)

	// Build WHERE clause and arguments manually since we need JOIN support
	whereClause, args, argIndex := r.buildListWhereClauseWithAlias(opts)

	// Build the query with JOIN
	var queryBuilder strings.Builder
	queryBuilder.WriteString("SELECT ")
	queryBuilder.WriteString(alertColumnsWithPageName)
	queryBuilder.WriteString(" FROM alerts a LEFT JOIN pages p ON a.page_id = p.id ")
	queryBuilder.WriteString(whereClause)
	queryBuilder.WriteString(fmt.Sprintf(" ORDER BY a.%s %s, a.id DESC", sortCol, sortDir))
	queryBuilder.WriteString(" LIMIT $")
	queryBuilder.WriteString(strconv.Itoa(argIndex))
	queryBuilder.WriteString(" OFFSET $")
	queryBuilder.WriteString(strconv.Itoa(argIndex + 1))
	query := queryBuilder.String()

	args = append(args, limit, offset)

	var alerts []*model.AlertWithPageName
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		alerts, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.AlertWithPageName])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list alerts with page names: %w", err)
	}

	return alerts, nil
}

// ListWithPageNamesAndCount retrieves alerts with page names plus the total
// matching count, so handlers can paginate without a second round trip.
func (r *AlertRepo) ListWithPageNamesAndCount(
	ctx context.Context,
	opts *model.AlertListOptions,
) (*model.AlertListResult, error) {
	alerts, err := r.ListWithPageNames(ctx, opts)
	if err != nil {
		return nil, err
	}
	total, err := r.Count(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &model.AlertListResult{Alerts: alerts, Total: total}, nil
}

// Count returns the number of alerts matching the filter options.
func (r *AlertRepo) Count(ctx context.Context, opts *model.AlertListOptions) (int, error) {
	whereClause, args, _ := r.buildListWhereClauseWithAlias(opts)
	query := "SELECT COUNT(*) FROM alerts a " + whereClause

	var total int
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return total, nil
}

// Delete deletes an alert by its ID.
func (r *AlertRepo) Delete(ctx context.Context, id string) (bool, error) {
	query := `DELETE FROM alerts WHERE id = $1`

	result, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Stats retrieves alert statistics, optionally filtered by page ID.
func (r *AlertRepo) Stats(ctx context.Context, pageID *string) (*model.AlertStats, error) {
	whereClause := ""
	var args []any
	if pageID != nil {
		whereClause = "WHERE page_id = $1"
		args = append(args, *pageID)
	}

	// Build query with safe string concatenation instead of fmt.Sprintf for SQL
	query := `SELECT
		COUNT(*) as total,
		COUNT(CASE WHEN severity = 'critical' THEN 1 END) as critical,
		COUNT(CASE WHEN severity = 'high' THEN 1 END) as high,
		COUNT(CASE WHEN severity = 'medium' THEN 1 END) as medium,
		COUNT(CASE WHEN severity = 'low' THEN 1 END) as low,
		COUNT(CASE WHEN severity = 'info' THEN 1 END) as info,
		COUNT(CASE WHEN resolved_at IS NULL THEN 1 END) as unresolved
	FROM alerts ` + whereClause

	var stats model.AlertStats
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total, &stats.Critical, &stats.High, &stats.Medium,
		&stats.Low, &stats.Info, &stats.Unresolved,
	)
	if err != nil {
		return nil, fmt.Errorf("get alert stats: %w", err)
	}

	return &stats, nil
}

// Resolve marks an alert as resolved by setting resolved_at and resolved_by.
func (r *AlertRepo) Resolve(
	ctx context.Context,
	params core.ResolveAlertParams,
) (*model.OverageAlert, error) {
	now := r.timeProvider.Now()

	query := `
		UPDATE alerts
		SET resolved_at = $1, resolved_by = $2
		WHERE id = $3 AND resolved_at IS NULL
		RETURNING ` + alertColumns

	var alert model.OverageAlert
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, query, now, params.ResolvedBy, params.ID)
		if err != nil {
			return err
		}
		defer rows.Close()

		alert, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.OverageAlert])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("resolve alert: %w", err)
	}

	return &alert, nil
}
