package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pagetally/pagetally/internal/data"
	"github.com/pagetally/pagetally/internal/service"
)

// StatusForError maps service and repository errors to an HTTP status code.
// Unknown errors fall back to the provided default.
func StatusForError(err error, fallback int) int {
	switch {
	case err == nil:
		return http.StatusOK
	case isNotFoundError(err):
		return http.StatusNotFound
	case isConflictError(err):
		return http.StatusConflict
	case isValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.ForeignKeyViolation:
			return http.StatusConflict
		case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
			return http.StatusBadRequest
		}
	}

	return fallback
}

func isNotFoundError(err error) bool {
	return errors.Is(err, data.ErrPageNotFound) ||
		errors.Is(err, data.ErrScanNotFound) ||
		errors.Is(err, data.ErrReportNotFound) ||
		errors.Is(err, data.ErrBudgetSetNotFound) ||
		errors.Is(err, data.ErrWebhookSinkNotFound) ||
		errors.Is(err, data.ErrAlertNotFound) ||
		errors.Is(err, data.ErrJobNotFound)
}

func isConflictError(err error) bool {
	return errors.Is(err, data.ErrPageNameExists) ||
		errors.Is(err, data.ErrBudgetSetNameExists) ||
		errors.Is(err, data.ErrBudgetSetInUse) ||
		errors.Is(err, data.ErrWebhookSinkNameExists) ||
		errors.Is(err, data.ErrReportExists) ||
		errors.Is(err, service.ErrScanFinished) ||
		errors.Is(err, service.ErrScanNotAuditable) ||
		errors.Is(err, service.ErrPageDisabled)
}

// WriteMappedError writes a JSON error response with the status derived from
// the error itself, falling back to the given code for unclassified errors.
func WriteMappedError(w http.ResponseWriter, p ErrorParams) {
	fallback := p.Code
	if fallback == 0 {
		fallback = http.StatusInternalServerError
	}
	p.Code = StatusForError(p.Err, fallback)
	WriteError(w, p)
}
