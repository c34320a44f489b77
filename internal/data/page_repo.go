package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pagetally/pagetally/internal/data/database"
	"github.com/pagetally/pagetally/internal/data/pgxutil"
	"github.com/pagetally/pagetally/internal/domain/model"
)

var (
	// ErrPageNotFound is returned when a page is not found.
	ErrPageNotFound = errors.New("page not found")
	// ErrPageNameExists is returned when attempting to create/update a page with a duplicate name.
	ErrPageNameExists = errors.New("page name already exists")
)

// PageRepo provides database operations for monitored pages.
type PageRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewPageRepo creates a new PageRepo with real time provider.
func NewPageRepo(db *sql.DB) *PageRepo {
	return &PageRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewPageRepoWithTimeProvider creates a new PageRepo with a custom time provider (useful for tests).
func NewPageRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *PageRepo {
	return &PageRepo{DB: db, timeProvider: tp}
}

// Create inserts a new page.
func (r *PageRepo) Create(ctx context.Context, req *model.CreatePageRequest) (*model.Page, error) {
	if req == nil {
		return nil, errors.New("create page request is required")
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Default enabled to true if not specified (matches DB default)
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	patterns := req.FirstPartyPatterns
	if patterns == nil {
		patterns = []string{}
	}

	createdAt := r.timeProvider.Now().UTC()
	var out model.Page
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO pages (
				name, url, enabled, capture_every_minutes, first_party_patterns, budget_set_id, created_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7
			) RETURNING id, name, url, enabled, capture_every_minutes, first_party_patterns,
			            budget_set_id, last_captured_at, created_at, updated_at
		`,
			strings.TrimSpace(req.Name),
			strings.TrimSpace(req.URL),
			enabled,
			req.CaptureEveryMinutes,
			patterns,
			req.BudgetSetID,
			createdAt,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Page])
		return err
	}); err != nil {
		return nil, r.mapWriteErr(err, false)
	}
	return &out, nil
}

// GetByID retrieves a page by ID.
func (r *PageRepo) GetByID(ctx context.Context, id string) (*model.Page, error) {
	return r.getByQuery(ctx, pageGetByIDQuery, "failed to get page by ID", id)
}

// GetByName retrieves a page by name.
func (r *PageRepo) GetByName(ctx context.Context, name string) (*model.Page, error) {
	return r.getByQuery(ctx, pageGetByNameQuery, "failed to get page by name", name)
}

// List retrieves pages with optional filters and sorting.
func (r *PageRepo) List(ctx context.Context, opts model.PagesListOptions) ([]*model.Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(opts.Offset, 0)

	queryOpts := r.buildPageQueryOptions(opts, limit, offset)
	query, args := database.BuildListQuery(queryOpts)

	var rowsOut []model.Page
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Page])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	res := make([]*model.Page, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// Update updates fields of a page.
func (r *PageRepo) Update(
	ctx context.Context,
	id string,
	req model.UpdatePageRequest,
) (*model.Page, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out model.Page
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		setClause, args := r.buildUpdateClause(req)
		if setClause == "" {
			rows, err := conn.Query(ctx, pageGetByIDQuery, id)
			if err != nil {
				return err
			}
			defer rows.Close()
			var e error
			out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Page])
			return e
		}
		args = append(args, id)
		query := "UPDATE pages SET " + setClause + " WHERE id = $" + strconv.Itoa(
			len(args),
		) + ` RETURNING id, name, url, enabled, capture_every_minutes, first_party_patterns,
		      budget_set_id, last_captured_at, created_at, updated_at`
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		var e error
		out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Page])
		return e
	})
	if err != nil {
		return nil, r.mapWriteErr(err, true)
	}
	return &out, nil
}

// buildUpdateClause builds the SQL SET clause and args for updating a page based on the request.
func (r *PageRepo) buildUpdateClause(req model.UpdatePageRequest) (string, []any) {
	setParts := make([]string, 0, 6)
	args := make([]any, 0, 8)
	nextIdx := func() int { return len(args) + 1 }

	if req.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.Name))
	}
	if req.URL != nil {
		setParts = append(setParts, fmt.Sprintf("url = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.URL))
	}
	if req.Enabled != nil {
		setParts = append(setParts, fmt.Sprintf("enabled = $%d", nextIdx()))
		args = append(args, *req.Enabled)
	}
	if req.CaptureEveryMinutes != nil {
		setParts = append(setParts, fmt.Sprintf("capture_every_minutes = $%d", nextIdx()))
		args = append(args, *req.CaptureEveryMinutes)
	}
	if req.FirstPartyPatterns != nil {
		setParts = append(setParts, fmt.Sprintf("first_party_patterns = $%d", nextIdx()))
		args = append(args, req.FirstPartyPatterns)
	}
	if req.BudgetSetID != nil {
		if strings.TrimSpace(*req.BudgetSetID) == "" {
			setParts = append(setParts, "budget_set_id = NULL")
		} else {
			setParts = append(setParts, fmt.Sprintf("budget_set_id = $%d", nextIdx()))
			args = append(args, *req.BudgetSetID)
		}
	}

	if len(setParts) == 0 {
		return "", nil
	}
	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", nextIdx()))
	args = append(args, r.timeProvider.Now().UTC())
	return strings.Join(setParts, ", "), args
}

// Delete deletes a page by ID.
func (r *PageRepo) Delete(ctx context.Context, id string) (bool, error) {
	var rows int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `DELETE FROM pages WHERE id = $1`, id)
		if err != nil {
			return err
		}
		rows = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete page: %w", err)
	}
	return rows > 0, nil
}

// TouchLastCaptured records the time a capture job was last enqueued for the page.
func (r *PageRepo) TouchLastCaptured(ctx context.Context, id string, at time.Time) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, execErr := conn.Exec(ctx,
			`UPDATE pages SET last_captured_at = $2, updated_at = $2 WHERE id = $1`,
			id, at.UTC())
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to touch last_captured_at: %w", err)
	}
	return nil
}

// --- helpers ---

// SQL query constants for static queries (no dynamic WHERE/ORDER BY).
// Using constants avoids runtime query building overhead for hot paths.
const (
	pageGetByIDQuery = `
		SELECT id, name, url, enabled, capture_every_minutes, first_party_patterns,
		       budget_set_id, last_captured_at, created_at, updated_at
		FROM pages
		WHERE id = $1`

	pageGetByNameQuery = `
		SELECT id, name, url, enabled, capture_every_minutes, first_party_patterns,
		       budget_set_id, last_captured_at, created_at, updated_at
		FROM pages
		WHERE name = $1`
)

// pageColumns returns the standard column list for page queries.
// Used by dynamic queries that need to build column lists at runtime.
func pageColumns() []string {
	return []string{
		"id",
		"name",
		"url",
		"enabled",
		"capture_every_minutes",
		"first_party_patterns",
		"budget_set_id",
		"last_captured_at",
		"created_at",
		"updated_at",
	}
}

// buildPageQueryOptions builds query options for page listing with filters and sorting.
func (r *PageRepo) buildPageQueryOptions(
	opts model.PagesListOptions,
	limit, offset int,
) *database.ListQueryOptions {
	queryOpts := []database.ListQueryOption{
		database.WithColumns(pageColumns()...),
		database.WithLimit(limit),
		database.WithOffset(offset),
	}

	if opts.Q != nil && strings.TrimSpace(*opts.Q) != "" {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("name", database.ILike, "%"+strings.TrimSpace(*opts.Q)+"%"),
		))
	}
	if opts.Enabled != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("enabled", database.Equal, *opts.Enabled),
		))
	}

	sortCol, sortDir := validateSortOptions(opts.Sort, opts.Dir)
	queryOpts = append(queryOpts, database.WithOrderBy(sortCol, sortDir))

	return database.NewListQueryOptions("pages", queryOpts...)
}

// validateSortOptions validates and returns safe sort column and direction.
func validateSortOptions(sort, dir string) (string, string) {
	sortCol := "created_at"
	sortDir := sortDirDesc

	if sort != "" {
		allowedSorts := map[string]string{
			"name":       "name",
			"created_at": "created_at",
		}
		if validSort, ok := allowedSorts[strings.ToLower(strings.TrimSpace(sort))]; ok {
			sortCol = validSort
		}
	}
	if dir != "" {
		allowedDirs := map[string]string{
			"asc":  sortDirAsc,
			"desc": sortDirDesc,
		}
		if validDir, ok := allowedDirs[strings.ToLower(strings.TrimSpace(dir))]; ok {
			sortDir = validDir
		}
	}
	return sortCol, sortDir
}

// getByQuery is a helper function to execute a query and return a single page.
// Uses variadic args to avoid slice allocation at call sites.
func (r *PageRepo) getByQuery(
	ctx context.Context,
	q string,
	errMsg string,
	args ...any,
) (*model.Page, error) {
	var page model.Page
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		page, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Page])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPageNotFound
		}
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	return &page, nil
}

func (r *PageRepo) mapWriteErr(err error, includeNotFound bool) error {
	if err == nil {
		return nil
	}
	if includeNotFound && errors.Is(err, pgx.ErrNoRows) {
		return ErrPageNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrPageNameExists
	}
	return err
}
