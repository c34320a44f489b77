package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/domain/model"
)

// BudgetSetServiceOptions groups dependencies for BudgetSetService.
type BudgetSetServiceOptions struct {
	Repo   core.BudgetSetRepository // Required: budget set repository
	Logger *slog.Logger             // Optional
}

// BudgetSetService manages named budget sets. Budget documents are validated
// and normalized at this layer; the repository bumps the version on update so
// stored reports can pin the revision they were evaluated against.
type BudgetSetService struct {
	repo   core.BudgetSetRepository
	logger *slog.Logger
}

// NewBudgetSetService constructs a new BudgetSetService.
func NewBudgetSetService(opts BudgetSetServiceOptions) (*BudgetSetService, error) {
	if opts.Repo == nil {
		return nil, errors.New("BudgetSetRepository is required")
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "budget_set_service")
	}
	return &BudgetSetService{repo: opts.Repo, logger: logger}, nil
}

// MustNewBudgetSetService constructs a new BudgetSetService and panics on error.
func MustNewBudgetSetService(opts BudgetSetServiceOptions) *BudgetSetService {
	svc, err := NewBudgetSetService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create BudgetSetService: %v", err))
	}
	return svc
}

// Create validates and persists a new budget set.
func (s *BudgetSetService) Create(
	ctx context.Context,
	req *model.CreateBudgetSetRequest,
) (*model.BudgetSet, error) {
	if req == nil {
		return nil, errors.New("create budget set request is required")
	}
	set, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create budget set: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "budget set created",
			"budget_set_id", set.ID, "name", set.Name, "budgets", len(set.Budgets))
	}
	return set, nil
}

// GetByID retrieves a budget set by ID.
func (s *BudgetSetService) GetByID(ctx context.Context, id string) (*model.BudgetSet, error) {
	set, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get budget set %s: %w", id, err)
	}
	return set, nil
}

// GetByName retrieves a budget set by its unique name.
func (s *BudgetSetService) GetByName(ctx context.Context, name string) (*model.BudgetSet, error) {
	set, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get budget set %q: %w", name, err)
	}
	return set, nil
}

// List returns budget sets using the provided filters.
func (s *BudgetSetService) List(
	ctx context.Context,
	opts model.BudgetSetListOptions,
) ([]*model.BudgetSet, error) {
	p := normalizePagination(opts.Limit, opts.Offset)
	opts.Limit = p.Limit
	opts.Offset = p.Offset

	sets, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list budget sets: %w", err)
	}
	return sets, nil
}

// Update applies the requested changes and bumps the set version. Reports
// cached before the update age out on their own TTL; the next audit of each
// page picks up the new revision.
func (s *BudgetSetService) Update(
	ctx context.Context,
	id string,
	req model.UpdateBudgetSetRequest,
) (*model.BudgetSet, error) {
	set, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("update budget set %s: %w", id, err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "budget set updated",
			"budget_set_id", set.ID, "version", set.Version)
	}
	return set, nil
}

// Delete removes a budget set. Sets still assigned to a page are refused by
// the repository with ErrBudgetSetInUse.
func (s *BudgetSetService) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete budget set %s: %w", id, err)
	}
	if deleted && s.logger != nil {
		s.logger.InfoContext(ctx, "budget set deleted", "budget_set_id", id)
	}
	return deleted, nil
}
