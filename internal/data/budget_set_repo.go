package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pagetally/pagetally/internal/data/pgxutil"
	"github.com/pagetally/pagetally/internal/domain/model"
)

var (
	// ErrBudgetSetNotFound is returned when a budget set is not found.
	ErrBudgetSetNotFound = errors.New("budget set not found")
	// ErrBudgetSetNameExists is returned when attempting to create a budget set with a name that already exists.
	ErrBudgetSetNameExists = errors.New("budget set name already exists")
	// ErrBudgetSetInUse is returned when deleting a budget set still referenced by pages.
	ErrBudgetSetInUse = errors.New("budget set is referenced by pages")
)

// BudgetSetRepo provides database operations for budget set management.
// The budget configs themselves are stored as a JSONB document; every update
// bumps the version column so reports can record which revision they used.
type BudgetSetRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewBudgetSetRepo creates a new BudgetSetRepo instance with the given database connection.
func NewBudgetSetRepo(db *sql.DB) *BudgetSetRepo {
	return &BudgetSetRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewBudgetSetRepoWithTimeProvider creates a BudgetSetRepo with a custom TimeProvider (useful for testing).
func NewBudgetSetRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *BudgetSetRepo {
	return &BudgetSetRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

// budgetSetRow is the scan shape. Budgets arrives as raw JSONB and is
// unmarshalled into the model type afterwards.
type budgetSetRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description *string   `db:"description"`
	Budgets     []byte    `db:"budgets"`
	Version     int       `db:"version"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (row *budgetSetRow) toModel() (*model.BudgetSet, error) {
	set := &model.BudgetSet{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Version:     row.Version,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if len(row.Budgets) > 0 {
		if err := json.Unmarshal(row.Budgets, &set.Budgets); err != nil {
			return nil, fmt.Errorf("decode budgets payload: %w", err)
		}
	}
	return set, nil
}

const budgetSetColumns = `id, name, description, budgets, version, created_at, updated_at`

// Create creates a new budget set at version 1.
func (r *BudgetSetRepo) Create(
	ctx context.Context,
	req *model.CreateBudgetSetRequest,
) (*model.BudgetSet, error) {
	if req == nil {
		return nil, errors.New("create budget set request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req.Budgets)
	if err != nil {
		return nil, fmt.Errorf("encode budgets payload: %w", err)
	}

	createdAt := r.timeProvider.Now().UTC()
	var row budgetSetRow
	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, `
			INSERT INTO budget_sets (name, description, budgets, version, created_at)
			VALUES ($1, $2, $3, 1, $4)
			RETURNING `+budgetSetColumns,
			strings.TrimSpace(req.Name), req.Description, payload, createdAt)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		row, queryErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[budgetSetRow])
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create budget set: %w", r.mapWriteErr(err, false))
	}
	return row.toModel()
}

// GetByID retrieves a budget set by its ID.
func (r *BudgetSetRepo) GetByID(ctx context.Context, id string) (*model.BudgetSet, error) {
	return r.getByQuery(ctx, budgetSetGetByIDQuery, "failed to get budget set by ID", id)
}

// GetByName retrieves a budget set by its name.
func (r *BudgetSetRepo) GetByName(ctx context.Context, name string) (*model.BudgetSet, error) {
	return r.getByQuery(ctx, budgetSetGetByNameQuery, "failed to get budget set by name", name)
}

// List retrieves budget sets with pagination and optional name filtering.
func (r *BudgetSetRepo) List(
	ctx context.Context,
	opts model.BudgetSetListOptions,
) ([]*model.BudgetSet, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(opts.Offset, 0)

	query := budgetSetListQuery
	args := []any{limit, offset}
	if opts.Q != nil && strings.TrimSpace(*opts.Q) != "" {
		query = budgetSetListByNameQuery
		args = []any{"%" + strings.TrimSpace(*opts.Q) + "%", limit, offset}
	}

	var rowsOut []budgetSetRow
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		rowsOut, queryErr = pgx.CollectRows(rows, pgx.RowToStructByName[budgetSetRow])
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list budget sets: %w", err)
	}

	result := make([]*model.BudgetSet, 0, len(rowsOut))
	for i := range rowsOut {
		set, convErr := rowsOut[i].toModel()
		if convErr != nil {
			return nil, convErr
		}
		result = append(result, set)
	}
	return result, nil
}

// Update updates a budget set and bumps its version when the budgets payload changes.
func (r *BudgetSetRepo) Update(
	ctx context.Context,
	id string,
	req model.UpdateBudgetSetRequest,
) (*model.BudgetSet, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	setParts := make([]string, 0, 4)
	args := make([]any, 0, 5)
	nextIdx := func() int { return len(args) + 1 }

	if req.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*req.Name))
	}
	if req.Description != nil {
		setParts = append(setParts, fmt.Sprintf("description = $%d", nextIdx()))
		args = append(args, *req.Description)
	}
	if req.Budgets != nil {
		payload, err := json.Marshal(req.Budgets)
		if err != nil {
			return nil, fmt.Errorf("encode budgets payload: %w", err)
		}
		setParts = append(setParts, fmt.Sprintf("budgets = $%d", nextIdx()))
		args = append(args, payload)
		setParts = append(setParts, "version = version + 1")
	}
	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", nextIdx()))
	args = append(args, r.timeProvider.Now().UTC())

	args = append(args, id)
	query := "UPDATE budget_sets SET " + strings.Join(setParts, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING %s", len(args), budgetSetColumns)

	var row budgetSetRow
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		row, queryErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[budgetSetRow])
		return queryErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update budget set: %w", r.mapWriteErr(err, true))
	}
	return row.toModel()
}

// Delete deletes a budget set by its ID. Fails with ErrBudgetSetInUse while
// any page still references the set.
func (r *BudgetSetRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.DB.ExecContext(ctx, `DELETE FROM budget_sets WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return false, ErrBudgetSetInUse
		}
		return false, fmt.Errorf("failed to delete budget set: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// getByQuery is a helper function to execute a query and return a single budget set.
func (r *BudgetSetRepo) getByQuery(
	ctx context.Context,
	q string,
	errMsg string,
	args ...any,
) (*model.BudgetSet, error) {
	var row budgetSetRow
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, q, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		row, queryErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[budgetSetRow])
		return queryErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBudgetSetNotFound
		}
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	return row.toModel()
}

func (r *BudgetSetRepo) mapWriteErr(err error, includeNotFound bool) error {
	if err == nil {
		return nil
	}
	if includeNotFound && errors.Is(err, pgx.ErrNoRows) {
		return ErrBudgetSetNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrBudgetSetNameExists
	}
	return err
}

// --- helpers ---

// SQL query constants for static queries (no dynamic WHERE/ORDER BY).
// Using constants avoids runtime query building overhead for hot paths.
const (
	budgetSetGetByIDQuery = `
		SELECT ` + budgetSetColumns + `
		FROM budget_sets
		WHERE id = $1`

	budgetSetGetByNameQuery = `
		SELECT ` + budgetSetColumns + `
		FROM budget_sets
		WHERE name = $1`

	budgetSetListQuery = `
		SELECT ` + budgetSetColumns + `
		FROM budget_sets
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	budgetSetListByNameQuery = `
		SELECT ` + budgetSetColumns + `
		FROM budget_sets
		WHERE name ILIKE $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
)
