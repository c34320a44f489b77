package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/testutil"
)

func defaultBudgets() []model.Budget {
	return []model.Budget{
		{
			ResourceSizes: []model.ResourceSize{
				{ResourceType: model.ResourceTypeScript, Budget: 300},
				{ResourceType: model.ResourceTypeImage, Budget: 500},
			},
			ResourceCounts: []model.ResourceCount{
				{ResourceType: model.ResourceTypeThirdParty, Budget: 20},
			},
		},
	}
}

func TestBudgetSetRepo_Create(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewBudgetSetRepo(db)

		set, err := repo.Create(ctx, &model.CreateBudgetSetRequest{
			Name:        "storefront",
			Description: testutil.StringPtr("budgets for shop pages"),
			Budgets:     defaultBudgets(),
		})
		require.NoError(t, err)
		require.NotNil(t, set)

		assert.NotEmpty(t, set.ID)
		assert.Equal(t, "storefront", set.Name)
		require.NotNil(t, set.Description)
		assert.Equal(t, "budgets for shop pages", *set.Description)
		assert.Equal(t, 1, set.Version)
		require.Len(t, set.Budgets, 1)
		assert.Equal(t, int64(300), set.Budgets[0].ResourceSizes[0].Budget)
		assert.NotZero(t, set.CreatedAt)
	})
}

func TestBudgetSetRepo_Create_Validation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	tests := []struct {
		name   string
		req    *model.CreateBudgetSetRequest
		errMsg string
	}{
		{
			name:   "missing name",
			req:    &model.CreateBudgetSetRequest{Budgets: defaultBudgets()},
			errMsg: "name is required",
		},
		{
			name:   "no budgets",
			req:    &model.CreateBudgetSetRequest{Name: "empty"},
			errMsg: "at least one budget config is required",
		},
		{
			name: "unknown resource type",
			req: &model.CreateBudgetSetRequest{
				Name: "bad-type",
				Budgets: []model.Budget{
					{ResourceSizes: []model.ResourceSize{{ResourceType: "bytecode", Budget: 10}}},
				},
			},
			errMsg: "unknown resource type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.WithAutoDB(t, func(db *sql.DB) {
				repo := NewBudgetSetRepo(db)

				set, err := repo.Create(context.Background(), tt.req)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, set)
			})
		})
	}
}

func TestBudgetSetRepo_Create_DuplicateName(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewBudgetSetRepo(db)

		_, err := repo.Create(ctx, &model.CreateBudgetSetRequest{
			Name:    "storefront",
			Budgets: defaultBudgets(),
		})
		require.NoError(t, err)

		_, err = repo.Create(ctx, &model.CreateBudgetSetRequest{
			Name:    "storefront",
			Budgets: defaultBudgets(),
		})
		require.ErrorIs(t, err, ErrBudgetSetNameExists)
	})
}

func TestBudgetSetRepo_GetByIDAndName(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewBudgetSetRepo(db)

		created, err := repo.Create(ctx, &model.CreateBudgetSetRequest{
			Name:    "storefront",
			Budgets: defaultBudgets(),
		})
		require.NoError(t, err)

		byID, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, byID.ID)
		require.Len(t, byID.Budgets, 1)

		byName, err := repo.GetByName(ctx, "storefront")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byName.ID)

		_, err = repo.GetByID(ctx, "550e8400-e29b-41d4-a716-446655440999")
		require.ErrorIs(t, err, ErrBudgetSetNotFound)

		_, err = repo.GetByName(ctx, "missing")
		require.ErrorIs(t, err, ErrBudgetSetNotFound)
	})
}

func TestBudgetSetRepo_List(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewBudgetSetRepo(db)

		for _, name := range []string{"storefront", "checkout", "marketing"} {
			_, err := repo.Create(ctx, &model.CreateBudgetSetRequest{
				Name:    name,
				Budgets: defaultBudgets(),
			})
			require.NoError(t, err)
		}

		all, err := repo.List(ctx, model.BudgetSetListOptions{Limit: 10})
		require.NoError(t, err)
		assert.Len(t, all, 3)
		// Newest first.
		assert.Equal(t, "marketing", all[0].Name)

		filtered, err := repo.List(ctx, model.BudgetSetListOptions{
			Limit: 10,
			Q:     testutil.StringPtr("front"),
		})
		require.NoError(t, err)
		require.Len(t, filtered, 1)
		assert.Equal(t, "storefront", filtered[0].Name)

		paged, err := repo.List(ctx, model.BudgetSetListOptions{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, paged, 1)
	})
}

func TestBudgetSetRepo_Update(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewBudgetSetRepo(db)

		created, err := repo.Create(ctx, &model.CreateBudgetSetRequest{
			Name:    "storefront",
			Budgets: defaultBudgets(),
		})
		require.NoError(t, err)
		require.Equal(t, 1, created.Version)

		t.Run("rename does not bump version", func(t *testing.T) {
			updated, err := repo.Update(ctx, created.ID, model.UpdateBudgetSetRequest{
				Name: testutil.StringPtr("shop"),
			})
			require.NoError(t, err)
			assert.Equal(t, "shop", updated.Name)
			assert.Equal(t, 1, updated.Version)
		})

		t.Run("budget change bumps version", func(t *testing.T) {
			updated, err := repo.Update(ctx, created.ID, model.UpdateBudgetSetRequest{
				Budgets: []model.Budget{
					{ResourceSizes: []model.ResourceSize{{ResourceType: model.ResourceTypeTotal, Budget: 2048}}},
				},
			})
			require.NoError(t, err)
			assert.Equal(t, 2, updated.Version)
			require.Len(t, updated.Budgets, 1)
			assert.Equal(t, model.ResourceTypeTotal, updated.Budgets[0].ResourceSizes[0].ResourceType)
		})

		t.Run("no fields", func(t *testing.T) {
			_, err := repo.Update(ctx, created.ID, model.UpdateBudgetSetRequest{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "at least one field must be updated")
		})

		t.Run("missing id", func(t *testing.T) {
			_, err := repo.Update(ctx, "550e8400-e29b-41d4-a716-446655440999", model.UpdateBudgetSetRequest{
				Name: testutil.StringPtr("ghost"),
			})
			require.ErrorIs(t, err, ErrBudgetSetNotFound)
		})
	})
}

func TestBudgetSetRepo_Delete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewBudgetSetRepo(db)

		created, err := repo.Create(ctx, &model.CreateBudgetSetRequest{
			Name:    "storefront",
			Budgets: defaultBudgets(),
		})
		require.NoError(t, err)

		t.Run("referenced by a page", func(t *testing.T) {
			page, err := NewPageRepo(db).Create(ctx, &model.CreatePageRequest{
				Name:                "Checkout",
				URL:                 "https://shop.example.com/checkout",
				CaptureEveryMinutes: 60,
				BudgetSetID:         &created.ID,
			})
			require.NoError(t, err)

			_, err = repo.Delete(ctx, created.ID)
			require.ErrorIs(t, err, ErrBudgetSetInUse)

			_, err = NewPageRepo(db).Delete(ctx, page.ID)
			require.NoError(t, err)
		})

		t.Run("unreferenced", func(t *testing.T) {
			deleted, err := repo.Delete(ctx, created.ID)
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = repo.Delete(ctx, created.ID)
			require.NoError(t, err)
			assert.False(t, deleted)
		})
	})
}
