package httpx

import (
	"errors"
	"net/http"

	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/service"
)

// BudgetSetHandlers provides HTTP handlers for budget sets.
type BudgetSetHandlers struct {
	Svc *service.BudgetSetService
}

const (
	defaultBudgetSetsLimit = 50
	maxBudgetSetsLimit     = 200
)

// Create handles POST /api/budget-sets.
func (h *BudgetSetHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBudgetSetRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	set, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "create_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusCreated, set)
}

// Get handles GET /api/budget-sets/{id}.
func (h *BudgetSetHandlers) Get(w http.ResponseWriter, r *http.Request) {
	set, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, set)
}

// List handles GET /api/budget-sets.
func (h *BudgetSetHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultBudgetSetsLimit, maxBudgetSetsLimit)
	opts := model.BudgetSetListOptions{Limit: limit, Offset: offset}
	if q := r.URL.Query().Get("q"); q != "" {
		opts.Q = &q
	}

	sets, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"budget_sets": sets,
		"limit":       limit,
		"offset":      offset,
	})
}

// Update handles PATCH /api/budget-sets/{id}. Updating budgets bumps the
// set's version; reports pin the version they were evaluated against.
func (h *BudgetSetHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateBudgetSetRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	set, err := h.Svc.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "update_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, set)
}

// Delete handles DELETE /api/budget-sets/{id}. A set still referenced by
// pages cannot be deleted.
func (h *BudgetSetHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.Svc.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteMappedError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "delete_failed", Err: err})
		return
	}
	if !deleted {
		WriteError(
			w,
			ErrorParams{Code: http.StatusNotFound, ErrCode: "budget_set_not_found", Err: errors.New("budget set not found")},
		)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
