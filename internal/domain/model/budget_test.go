package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceSizeBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(0), ResourceSize{ResourceType: ResourceTypeScript, Budget: 0}.Bytes())
	assert.Equal(t, int64(1024), ResourceSize{ResourceType: ResourceTypeScript, Budget: 1}.Bytes())
	assert.Equal(t, int64(125*1024), ResourceSize{ResourceType: ResourceTypeImage, Budget: 125}.Bytes())
}

func TestBudgetValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		budget  Budget
		wantErr string
	}{
		{
			name: "valid sizes and counts",
			budget: Budget{
				Path:           "/",
				ResourceSizes:  []ResourceSize{{ResourceType: ResourceTypeScript, Budget: 125}},
				ResourceCounts: []ResourceCount{{ResourceType: ResourceTypeThirdParty, Budget: 10}},
			},
		},
		{
			name:    "empty budget rejected",
			budget:  Budget{Path: "/"},
			wantErr: "at least one",
		},
		{
			name: "unknown type rejected",
			budget: Budget{
				ResourceSizes: []ResourceSize{{ResourceType: "websocket", Budget: 1}},
			},
			wantErr: "unknown resource type",
		},
		{
			name: "duplicate size entry rejected",
			budget: Budget{
				ResourceSizes: []ResourceSize{
					{ResourceType: ResourceTypeScript, Budget: 1},
					{ResourceType: "Script", Budget: 2},
				},
			},
			wantErr: "duplicate entry",
		},
		{
			name: "negative ceiling rejected",
			budget: Budget{
				ResourceCounts: []ResourceCount{{ResourceType: ResourceTypeImage, Budget: -1}},
			},
			wantErr: "non-negative",
		},
		{
			name: "bad path pattern rejected",
			budget: Budget{
				Path:          "news",
				ResourceSizes: []ResourceSize{{ResourceType: ResourceTypeScript, Budget: 1}},
			},
			wantErr: "must begin with /",
		},
		{
			name: "zero ceiling allowed",
			budget: Budget{
				ResourceSizes: []ResourceSize{{ResourceType: ResourceTypeScript, Budget: 0}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.budget.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBudgetNormalizeFoldsCase(t *testing.T) {
	t.Parallel()

	b := Budget{
		ResourceSizes:  []ResourceSize{{ResourceType: "Script", Budget: 1}},
		ResourceCounts: []ResourceCount{{ResourceType: "Fetch", Budget: 2}},
	}
	b.Normalize()

	assert.Equal(t, ResourceTypeScript, b.ResourceSizes[0].ResourceType)
	assert.Equal(t, ResourceTypeXHR, b.ResourceCounts[0].ResourceType)
}

func TestValidateBudgets(t *testing.T) {
	t.Parallel()

	valid := []Budget{{ResourceSizes: []ResourceSize{{ResourceType: "Script", Budget: 5}}}}
	require.NoError(t, ValidateBudgets(valid))
	// Normalization happens in place.
	assert.Equal(t, ResourceTypeScript, valid[0].ResourceSizes[0].ResourceType)

	assert.Error(t, ValidateBudgets(nil))

	bad := []Budget{
		{ResourceSizes: []ResourceSize{{ResourceType: ResourceTypeScript, Budget: 5}}},
		{Path: "broken"},
	}
	err := ValidateBudgets(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget 1")
}

func TestCreateBudgetSetRequestValidate(t *testing.T) {
	t.Parallel()

	req := CreateBudgetSetRequest{
		Name:    "storefront",
		Budgets: []Budget{{ResourceSizes: []ResourceSize{{ResourceType: ResourceTypeScript, Budget: 125}}}},
	}
	assert.NoError(t, req.Validate())

	assert.Error(t, (&CreateBudgetSetRequest{Name: "  "}).Validate())
	assert.Error(t, (&CreateBudgetSetRequest{Name: "x"}).Validate())
}

func TestUpdateBudgetSetRequestValidate(t *testing.T) {
	t.Parallel()

	assert.Error(t, (&UpdateBudgetSetRequest{}).Validate())

	name := "renamed"
	assert.NoError(t, (&UpdateBudgetSetRequest{Name: &name}).Validate())

	empty := "  "
	assert.Error(t, (&UpdateBudgetSetRequest{Name: &empty}).Validate())
}
