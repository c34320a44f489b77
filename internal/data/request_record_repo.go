package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pagetally/pagetally/internal/data/pgxutil"
	"github.com/pagetally/pagetally/internal/domain/model"
)

// ErrRequestRecordScanNotFound is returned when inserting records for a scan
// that does not exist.
var ErrRequestRecordScanNotFound = errors.New("request record scan not found")

// copyFromThreshold is the batch size above which BulkInsert switches from
// pgx batching to COPY. COPY is faster for large uploads but reports errors
// for the whole batch rather than per row.
const copyFromThreshold = 500

// RequestRecordRepo provides database operations for captured network requests.
type RequestRecordRepo struct{ DB *sql.DB }

// NewRequestRecordRepo creates a new RequestRecordRepo instance with the given database connection.
func NewRequestRecordRepo(db *sql.DB) *RequestRecordRepo {
	return &RequestRecordRepo{DB: db}
}

const requestRecordColumns = `id, scan_id, url, host, resource_type, transfer_size,
	status_code, mime_type, seq, created_at`

// BulkInsert inserts a batch of captured requests for a scan inside a single
// transaction and returns the number of rows written.
func (r *RequestRecordRepo) BulkInsert(
	ctx context.Context,
	scanID string,
	records []model.RequestRecordInput,
) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var created int
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			var execErr error
			if len(records) > copyFromThreshold {
				created, execErr = insertRecordsCopy(ctx, tx, scanID, records)
			} else {
				created, execErr = insertRecordsBatch(ctx, tx, scanID, records)
			}
			return execErr
		},
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return 0, ErrRequestRecordScanNotFound
		}
		return 0, fmt.Errorf("bulk insert transaction failed: %w", err)
	}
	return created, nil
}

func insertRecordsBatch(
	ctx context.Context,
	tx pgx.Tx,
	scanID string,
	records []model.RequestRecordInput,
) (int, error) {
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO request_records (
				scan_id, url, host, resource_type, transfer_size,
				status_code, mime_type, seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, scanID, rec.URL, rec.Host, rec.ResourceType, rec.TransferSize,
			rec.StatusCode, rec.MimeType, rec.Seq)
	}

	br := tx.SendBatch(ctx, batch)

	created := 0
	for i := range records {
		if _, err := br.Exec(); err != nil {
			return 0, fmt.Errorf("failed to insert request record %d: %w", i, err)
		}
		created++
	}

	if cerr := br.Close(); cerr != nil {
		return 0, fmt.Errorf("batch close: %w", cerr)
	}
	return created, nil
}

func insertRecordsCopy(
	ctx context.Context,
	tx pgx.Tx,
	scanID string,
	records []model.RequestRecordInput,
) (int, error) {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []any{
			scanID,
			rec.URL,
			rec.Host,
			rec.ResourceType,
			rec.TransferSize,
			rec.StatusCode,
			rec.MimeType,
			rec.Seq,
		})
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"request_records"},
		[]string{
			"scan_id",
			"url",
			"host",
			"resource_type",
			"transfer_size",
			"status_code",
			"mime_type",
			"seq",
		},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk copy request records: %w", err)
	}
	return int(copyCount), nil
}

// ListByScan returns all captured requests for a scan in capture order.
func (r *RequestRecordRepo) ListByScan(
	ctx context.Context,
	scanID string,
) ([]*model.RequestRecord, error) {
	query := `
		SELECT ` + requestRecordColumns + `
		FROM request_records
		WHERE scan_id = $1
		ORDER BY seq ASC, id ASC`

	var result []*model.RequestRecord
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, query, scanID)
		if err != nil {
			return fmt.Errorf("query request records by scan: %w", err)
		}
		defer rows.Close()
		result, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.RequestRecord])
		if err != nil {
			return fmt.Errorf("collect request records: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// CountByScan returns the number of captured requests stored for a scan.
func (r *RequestRecordRepo) CountByScan(ctx context.Context, scanID string) (int, error) {
	var count int
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		return pgxConn.QueryRow(ctx,
			`SELECT COUNT(*) FROM request_records WHERE scan_id = $1`, scanID).Scan(&count)
	}); err != nil {
		return 0, fmt.Errorf("count request records by scan: %w", err)
	}
	return count, nil
}
