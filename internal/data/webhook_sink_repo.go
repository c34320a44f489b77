package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/data/pgxutil"
	"github.com/pagetally/pagetally/internal/domain/model"
)

var (
	// ErrWebhookSinkNotFound is returned when a webhook sink is not found.
	ErrWebhookSinkNotFound = errors.New("webhook sink not found")
	// ErrWebhookSinkNameExists is returned when attempting to create a webhook sink with a name that already exists.
	ErrWebhookSinkNameExists = errors.New("webhook sink name already exists")
)

// WebhookSinkRepo provides database operations for webhook sink management.
// Bearer tokens arrive already encrypted; plaintext never reaches this layer.
type WebhookSinkRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewWebhookSinkRepo creates a new WebhookSinkRepo.
func NewWebhookSinkRepo(db *sql.DB) *WebhookSinkRepo {
	return &WebhookSinkRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewWebhookSinkRepoWithTimeProvider creates a new WebhookSinkRepo with a custom time provider.
func NewWebhookSinkRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *WebhookSinkRepo {
	return &WebhookSinkRepo{
		DB:           db,
		timeProvider: tp,
	}
}

const webhookSinkColumns = `id, name, url, payload_expr, enabled, token_ciphertext, created_at, updated_at`

// Create creates a new webhook sink.
func (r *WebhookSinkRepo) Create(
	ctx context.Context,
	params *core.CreateWebhookSinkParams,
) (*model.WebhookSink, error) {
	if params == nil {
		return nil, errors.New("create webhook sink params are required")
	}

	createdAt := r.timeProvider.Now().UTC()
	var sink model.WebhookSink
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, `
			INSERT INTO webhook_sinks (name, url, payload_expr, enabled, token_ciphertext, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+webhookSinkColumns,
			params.Name, params.URL, params.PayloadExpr, params.Enabled,
			params.TokenCiphertext, createdAt)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		sink, queryErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.WebhookSink])
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook sink: %w", r.mapWriteErr(err, false))
	}
	return &sink, nil
}

// GetByID retrieves a webhook sink by its ID.
func (r *WebhookSinkRepo) GetByID(ctx context.Context, id string) (*model.WebhookSink, error) {
	return r.getByQuery(ctx, `
		SELECT `+webhookSinkColumns+`
		FROM webhook_sinks
		WHERE id = $1`, "failed to get webhook sink by ID", id)
}

// GetByName retrieves a webhook sink by its name.
func (r *WebhookSinkRepo) GetByName(ctx context.Context, name string) (*model.WebhookSink, error) {
	return r.getByQuery(ctx, `
		SELECT `+webhookSinkColumns+`
		FROM webhook_sinks
		WHERE name = $1`, "failed to get webhook sink by name", name)
}

// List retrieves webhook sinks with pagination and optional enabled filtering.
func (r *WebhookSinkRepo) List(
	ctx context.Context,
	opts model.WebhookSinkListOptions,
) ([]*model.WebhookSink, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(opts.Offset, 0)

	query := `
		SELECT ` + webhookSinkColumns + `
		FROM webhook_sinks`
	args := []any{}
	if opts.Enabled != nil {
		args = append(args, *opts.Enabled)
		query += " WHERE enabled = $1"
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		len(args)-1, len(args))

	return r.listByQuery(ctx, query, args...)
}

// ListEnabled returns all enabled sinks. The notifier fans an alert out to
// every sink this returns.
func (r *WebhookSinkRepo) ListEnabled(ctx context.Context) ([]*model.WebhookSink, error) {
	return r.listByQuery(ctx, `
		SELECT `+webhookSinkColumns+`
		FROM webhook_sinks
		WHERE enabled = TRUE
		ORDER BY created_at ASC, id ASC`)
}

// Update updates an existing webhook sink.
func (r *WebhookSinkRepo) Update(
	ctx context.Context,
	id string,
	params *core.UpdateWebhookSinkParams,
) (*model.WebhookSink, error) {
	if params == nil {
		return nil, errors.New("update webhook sink params are required")
	}

	setParts, args := buildWebhookSinkUpdateParts(params)
	if len(setParts) == 0 {
		return nil, errors.New("at least one field must be updated")
	}

	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", len(args)+1))
	args = append(args, r.timeProvider.Now().UTC())
	args = append(args, id)

	query := "UPDATE webhook_sinks SET " + strings.Join(setParts, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING %s", len(args), webhookSinkColumns)

	var sink model.WebhookSink
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		sink, queryErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.WebhookSink])
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update webhook sink: %w", r.mapWriteErr(err, true))
	}
	return &sink, nil
}

// Delete deletes a webhook sink by its ID.
func (r *WebhookSinkRepo) Delete(ctx context.Context, id string) (bool, error) {
	var rowsAffected int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, execErr := conn.Exec(ctx, `DELETE FROM webhook_sinks WHERE id = $1`, id)
		if execErr != nil {
			return execErr
		}
		rowsAffected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete webhook sink: %w", err)
	}
	return rowsAffected > 0, nil
}

func buildWebhookSinkUpdateParts(params *core.UpdateWebhookSinkParams) ([]string, []any) {
	var setParts []string
	var args []any
	add := func(column string, value any) {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)+1))
		args = append(args, value)
	}

	if params.Name != nil {
		add("name", *params.Name)
	}
	if params.URL != nil {
		add("url", *params.URL)
	}
	if params.PayloadExpr != nil {
		add("payload_expr", *params.PayloadExpr)
	}
	if params.Enabled != nil {
		add("enabled", *params.Enabled)
	}
	switch {
	case params.TokenCiphertext != nil:
		add("token_ciphertext", params.TokenCiphertext)
	case params.ClearToken:
		setParts = append(setParts, "token_ciphertext = NULL")
	}

	return setParts, args
}

func (r *WebhookSinkRepo) getByQuery(
	ctx context.Context,
	q string,
	errMsg string,
	args ...any,
) (*model.WebhookSink, error) {
	var sink model.WebhookSink
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, q, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		sink, queryErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.WebhookSink])
		return queryErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWebhookSinkNotFound
		}
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	return &sink, nil
}

func (r *WebhookSinkRepo) listByQuery(
	ctx context.Context,
	q string,
	args ...any,
) ([]*model.WebhookSink, error) {
	var sinks []*model.WebhookSink
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, q, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		sinks, queryErr = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.WebhookSink])
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook sinks: %w", err)
	}
	return sinks, nil
}

func (r *WebhookSinkRepo) mapWriteErr(err error, includeNotFound bool) error {
	if err == nil {
		return nil
	}
	if includeNotFound && errors.Is(err, pgx.ErrNoRows) {
		return ErrWebhookSinkNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrWebhookSinkNameExists
	}
	return err
}
