package data

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pagetally/pagetally/internal/data/pgxutil"
	"github.com/pagetally/pagetally/internal/domain/model"
)

type jobFilterQueryBuilder struct {
	query  string
	args   []any
	argIdx int
}

func (b *jobFilterQueryBuilder) addFilter(condition string, value any) {
	if value != nil {
		b.query += fmt.Sprintf(" AND %s = $%d", condition, b.argIdx)
		b.args = append(b.args, value)
		b.argIdx++
	}
}

// buildJobListQuery constructs the SQL query and args for the job list with filtering.
func buildJobListQuery(opts *model.JobListOptions) (string, []any) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}

	builder := &jobFilterQueryBuilder{
		query: `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE 1=1`,
		args:   []any{},
		argIdx: 1,
	}

	if opts.Status != nil {
		builder.addFilter("status", string(*opts.Status))
	}
	if opts.Type != nil {
		builder.addFilter("type", string(*opts.Type))
	}
	if opts.PageID != nil && *opts.PageID != "" {
		builder.addFilter("page_id", *opts.PageID)
	}

	builder.query += " ORDER BY created_at DESC, id DESC"
	return builder.query, builder.args
}

// List returns jobs with optional filtering, newest first.
func (r *JobRepo) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50 // Default limit
	}
	if limit > 1000 {
		limit = 1000 // Max limit
	}
	offset := max(opts.Offset, 0)

	query, args := buildJobListQuery(opts)
	argIdx := len(args) + 1
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	var result []*model.Job
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query jobs with filters: %w", err)
		}
		defer rows.Close()

		vals, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Job])
		if err != nil {
			return fmt.Errorf("collect jobs: %w", err)
		}
		result = vals
		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// ListRecentByType returns the most recent jobs of a given type, ordered by created_at DESC.
func (r *JobRepo) ListRecentByType(ctx context.Context, jobType model.JobType, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 5 // sensible default for dashboard
	}
	if limit > 1000 {
		limit = 1000 // cap to prevent large scans
	}
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE type = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	var result []*model.Job
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, string(jobType), limit)
		if err != nil {
			return fmt.Errorf("query jobs by type: %w", err)
		}
		defer rows.Close()

		vals, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Job])
		if err != nil {
			return fmt.Errorf("collect jobs: %w", err)
		}
		result = vals
		return nil
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// CountForPage returns the total number of jobs attributed to a page.
func (r *JobRepo) CountForPage(ctx context.Context, pageID string) (int, error) {
	var n int
	row := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM jobs
		WHERE page_id = $1
	`, pageID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs for page: %w", err)
	}
	return n, nil
}
