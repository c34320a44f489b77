package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagetally/pagetally/internal/domain/model"
)

func req(url string, resourceType string, size int64) model.NetworkRequest {
	return model.NetworkRequest{
		URL:          url,
		ResourceType: model.ResourceType(resourceType),
		TransferSize: size,
	}
}

func rowByType(t *testing.T, report *model.Report, rt model.ResourceType) model.Row {
	t.Helper()
	for _, row := range report.Rows {
		if row.ResourceType == rt {
			return row
		}
	}
	t.Fatalf("no row for resource type %q", rt)
	return model.Row{}
}

func sizeBudget(rt model.ResourceType, kib int64) model.ResourceSize {
	return model.ResourceSize{ResourceType: rt, Budget: kib}
}

func countBudget(rt model.ResourceType, n int64) model.ResourceCount {
	return model.ResourceCount{ResourceType: rt, Budget: n}
}

func TestEvaluateSummaryOrdering(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/", "document", 3000),
			req("https://shop.example/app.js", "script", 9000),
			req("https://shop.example/style.css", "stylesheet", 500),
			req("https://cdn.ads.example/pixel.gif", "image", 9000),
		},
	})

	require.Len(t, report.Headings, 3)
	assert.Equal(t, "resourceType", report.Headings[0].Key)
	assert.Equal(t, "requestCount", report.Headings[1].Key)
	assert.Equal(t, "transferSize", report.Headings[2].Key)

	require.Len(t, report.Rows, 6)
	assert.Equal(t, model.ResourceTypeTotal, report.Rows[0].ResourceType)
	// script and image tie at 9000; script grouped first so it stays first.
	assert.Equal(t, model.ResourceTypeScript, report.Rows[1].ResourceType)
	assert.Equal(t, model.ResourceTypeImage, report.Rows[2].ResourceType)
	assert.Equal(t, model.ResourceTypeDocument, report.Rows[3].ResourceType)
	assert.Equal(t, model.ResourceTypeStylesheet, report.Rows[4].ResourceType)
	assert.Equal(t, model.ResourceTypeThirdParty, report.Rows[5].ResourceType)

	total := report.Rows[0]
	assert.Equal(t, 4, total.RequestCount)
	assert.Equal(t, int64(21500), total.TransferSize)

	third := report.Rows[5]
	assert.Equal(t, 1, third.RequestCount)
	assert.Equal(t, int64(9000), third.TransferSize)

	// Summary rows never carry overage fields.
	for _, row := range report.Rows {
		assert.Nil(t, row.SizeOverBudget)
		assert.Empty(t, row.CountOverBudget)
	}
}

func TestEvaluateSummaryTypeRowsSumToTotal(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/", "document", 1111),
			req("https://shop.example/a.js", "script", 222),
			req("https://third.example/b.js", "script", 333),
			req("https://shop.example/f.woff2", "font", 44),
			req("https://other.example/x", "xhr", 5),
			req("https://shop.example/big.png", "image", 0),
		},
	})

	total := rowByType(t, report, model.ResourceTypeTotal)
	var sumCount int
	var sumSize int64
	for _, row := range report.Rows {
		if row.ResourceType == model.ResourceTypeTotal || row.ResourceType == model.ResourceTypeThirdParty {
			continue
		}
		sumCount += row.RequestCount
		sumSize += row.TransferSize
	}
	assert.Equal(t, total.RequestCount, sumCount)
	assert.Equal(t, total.TransferSize, sumSize)
}

func TestEvaluateSummaryEmptyInput(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{FinalURL: "https://shop.example/"})

	require.Len(t, report.Rows, 2)
	assert.Equal(t, model.ResourceTypeTotal, report.Rows[0].ResourceType)
	assert.Equal(t, model.ResourceTypeThirdParty, report.Rows[1].ResourceType)
	assert.Zero(t, report.Rows[0].RequestCount)
	assert.Zero(t, report.Rows[0].TransferSize)
	assert.Zero(t, report.Rows[1].RequestCount)
}

func TestEvaluateNormalizesResourceTypes(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/a", "Script", 10),
			req("https://shop.example/b", "SCRIPT", 20),
			req("https://shop.example/c", "Fetch", 5),
			req("https://shop.example/d", "xhr", 5),
			req("https://shop.example/e", "websocket", 1),
		},
	})

	script := rowByType(t, report, model.ResourceTypeScript)
	assert.Equal(t, 2, script.RequestCount)
	assert.Equal(t, int64(30), script.TransferSize)

	xhr := rowByType(t, report, model.ResourceTypeXHR)
	assert.Equal(t, 2, xhr.RequestCount)

	other := rowByType(t, report, model.ResourceTypeOther)
	assert.Equal(t, 1, other.RequestCount)
}

func TestEvaluateThirdPartyClassification(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		FinalURL:           "https://www.shop.example.com/checkout",
		FirstPartyPatterns: []string{"*.trusted-cdn.net"},
		Requests: []model.NetworkRequest{
			// Same registrable domain: first-party even across subdomains.
			req("https://assets.shop.example.com/app.js", "script", 100),
			// Pattern-exempted CDN host.
			req("https://img.trusted-cdn.net/hero.webp", "image", 200),
			// Genuinely third-party.
			req("https://tracker.ads.example.org/t.js", "script", 400),
			// URLs without a resolvable host never count as third-party.
			req("data:image/png;base64,iVBORw0KGgo=", "other", 800),
		},
	})

	third := rowByType(t, report, model.ResourceTypeThirdParty)
	assert.Equal(t, 1, third.RequestCount)
	assert.Equal(t, int64(400), third.TransferSize)
}

func TestEvaluateThirdPartyWithoutFinalURL(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		Requests: []model.NetworkRequest{
			req("https://anywhere.example/x.js", "script", 10),
		},
	})

	third := rowByType(t, report, model.ResourceTypeThirdParty)
	assert.Zero(t, third.RequestCount)
}

func TestEvaluateBudgetHeadingsAndRowSelection(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/", "document", 3000),
			req("https://shop.example/app.js", "script", 9000),
			req("https://shop.example/hero.png", "image", 5000),
		},
		Budgets: []model.Budget{{
			ResourceSizes:  []model.ResourceSize{sizeBudget(model.ResourceTypeScript, 2)},
			ResourceCounts: []model.ResourceCount{countBudget(model.ResourceTypeImage, 5)},
		}},
	})

	require.Len(t, report.Headings, 5)
	assert.Equal(t, "sizeOverBudget", report.Headings[3].Key)
	assert.Equal(t, "countOverBudget", report.Headings[4].Key)

	// Only budgeted types appear; document is absent despite being observed.
	require.Len(t, report.Rows, 2)
	assert.Equal(t, model.ResourceTypeScript, report.Rows[0].ResourceType)
	assert.Equal(t, model.ResourceTypeImage, report.Rows[1].ResourceType)
}

func TestEvaluateBudgetSizeOverage(t *testing.T) {
	t.Parallel()

	in := Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/a.js", "script", 3000),
			req("https://shop.example/hero.png", "image", 2048),
			req("https://shop.example/f.woff2", "font", 100),
		},
		Budgets: []model.Budget{{
			ResourceSizes: []model.ResourceSize{
				sizeBudget(model.ResourceTypeScript, 2), // 2048 bytes, over by 952
				sizeBudget(model.ResourceTypeImage, 2),  // exactly at budget
				sizeBudget(model.ResourceTypeFont, 1),   // under budget
			},
		}},
	}
	report := Evaluate(in)

	script := rowByType(t, report, model.ResourceTypeScript)
	require.NotNil(t, script.SizeOverBudget)
	assert.Equal(t, int64(952), *script.SizeOverBudget)

	// At or under budget: the field is absent, never zero.
	image := rowByType(t, report, model.ResourceTypeImage)
	assert.Nil(t, image.SizeOverBudget)
	font := rowByType(t, report, model.ResourceTypeFont)
	assert.Nil(t, font.SizeOverBudget)
}

func TestEvaluateBudgetZeroSizeCeiling(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/a.js", "script", 10),
			req("https://shop.example/b.js", "script", 50),
			req("https://shop.example/hero.png", "image", 70),
		},
		Budgets: []model.Budget{{
			ResourceSizes: []model.ResourceSize{
				sizeBudget(model.ResourceTypeScript, 0),
				sizeBudget(model.ResourceTypeImage, 1000),
			},
		}},
	})

	script := rowByType(t, report, model.ResourceTypeScript)
	assert.Equal(t, 2, script.RequestCount)
	assert.Equal(t, int64(60), script.TransferSize)
	require.NotNil(t, script.SizeOverBudget)
	assert.Equal(t, int64(60), *script.SizeOverBudget)

	image := rowByType(t, report, model.ResourceTypeImage)
	assert.Nil(t, image.SizeOverBudget)

	// Rows sort by transfer size descending.
	assert.Equal(t, model.ResourceTypeImage, report.Rows[0].ResourceType)
	assert.Equal(t, model.ResourceTypeScript, report.Rows[1].ResourceType)
}

func TestEvaluateBudgetCountOverage(t *testing.T) {
	t.Parallel()

	in := Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/a.js", "script", 10),
			req("https://shop.example/b.js", "script", 10),
			req("https://shop.example/c.js", "script", 10),
			req("https://shop.example/hero.png", "image", 10),
			req("https://shop.example/alt.png", "image", 10),
		},
		Budgets: []model.Budget{{
			ResourceCounts: []model.ResourceCount{
				countBudget(model.ResourceTypeScript, 1), // over by 2
				countBudget(model.ResourceTypeImage, 1),  // over by 1
				countBudget(model.ResourceTypeFont, 0),   // zero observed, not over
			},
		}},
	}
	report := Evaluate(in)

	script := rowByType(t, report, model.ResourceTypeScript)
	assert.Equal(t, "2 requests", script.CountOverBudget)
	assert.Nil(t, script.SizeOverBudget)

	image := rowByType(t, report, model.ResourceTypeImage)
	assert.Equal(t, "1 request", image.CountOverBudget)

	font := rowByType(t, report, model.ResourceTypeFont)
	assert.Empty(t, font.CountOverBudget)
	assert.Zero(t, font.RequestCount)
}

func TestEvaluateBudgetCountAtCeilingNotOver(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/a.js", "script", 10),
			req("https://shop.example/b.js", "script", 10),
		},
		Budgets: []model.Budget{{
			ResourceCounts: []model.ResourceCount{countBudget(model.ResourceTypeScript, 2)},
		}},
	})

	script := rowByType(t, report, model.ResourceTypeScript)
	assert.Empty(t, script.CountOverBudget)
}

func TestEvaluateBudgetUnobservedTypeGetsZeroRow(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/", "document", 30*1024),
		},
		Budgets: []model.Budget{{
			ResourceSizes: []model.ResourceSize{sizeBudget(model.ResourceTypeScript, 20)},
		}},
	})

	// A 30 KiB document never produces overage on the script budget.
	require.Len(t, report.Rows, 1)
	script := report.Rows[0]
	assert.Equal(t, model.ResourceTypeScript, script.ResourceType)
	assert.Zero(t, script.RequestCount)
	assert.Zero(t, script.TransferSize)
	assert.Nil(t, script.SizeOverBudget)
	assert.Empty(t, script.CountOverBudget)
}

func TestEvaluateBudgetMatchesTypesCaseInsensitively(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/a.js", "SCRIPT", 4096),
		},
		Budgets: []model.Budget{{
			ResourceSizes: []model.ResourceSize{sizeBudget("Script", 3)},
		}},
	})

	script := rowByType(t, report, model.ResourceTypeScript)
	assert.Equal(t, 1, script.RequestCount)
	require.NotNil(t, script.SizeOverBudget)
	assert.Equal(t, int64(1024), *script.SizeOverBudget)
}

func TestEvaluateBudgetSyntheticBuckets(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/a.js", "script", 1024),
			req("https://ads.example.org/b.js", "script", 2048),
		},
		Budgets: []model.Budget{{
			ResourceSizes: []model.ResourceSize{sizeBudget(model.ResourceTypeTotal, 1)},
			ResourceCounts: []model.ResourceCount{
				countBudget(model.ResourceTypeThirdParty, 0),
			},
		}},
	})

	total := rowByType(t, report, model.ResourceTypeTotal)
	assert.Equal(t, 2, total.RequestCount)
	require.NotNil(t, total.SizeOverBudget)
	assert.Equal(t, int64(2048), *total.SizeOverBudget)

	third := rowByType(t, report, model.ResourceTypeThirdParty)
	assert.Equal(t, 1, third.RequestCount)
	assert.Equal(t, "1 request", third.CountOverBudget)
}

func TestEvaluateOnlyFirstBudgetApplies(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/a.js", "script", 2048),
		},
		Budgets: []model.Budget{
			{ResourceSizes: []model.ResourceSize{sizeBudget(model.ResourceTypeScript, 1)}},
			{ResourceSizes: []model.ResourceSize{
				sizeBudget(model.ResourceTypeScript, 1000),
				sizeBudget(model.ResourceTypeImage, 1),
			}},
		},
	})

	// Second config is ignored entirely: no image row, first ceiling applies.
	require.Len(t, report.Rows, 1)
	script := report.Rows[0]
	assert.Equal(t, model.ResourceTypeScript, script.ResourceType)
	require.NotNil(t, script.SizeOverBudget)
	assert.Equal(t, int64(1024), *script.SizeOverBudget)
}

func TestEvaluateBudgetPathScoping(t *testing.T) {
	t.Parallel()

	budgets := []model.Budget{
		{
			Path:          "/checkout",
			ResourceSizes: []model.ResourceSize{sizeBudget(model.ResourceTypeScript, 1)},
		},
		{
			Path:          "/",
			ResourceSizes: []model.ResourceSize{sizeBudget(model.ResourceTypeImage, 1)},
		},
	}
	requests := []model.NetworkRequest{
		req("https://shop.example/whatever", "script", 4096),
		req("https://shop.example/hero.png", "image", 4096),
	}

	// Final URL outside /checkout: the second config is in scope.
	report := Evaluate(Input{FinalURL: "https://shop.example/landing", Requests: requests, Budgets: budgets})
	require.Len(t, report.Rows, 1)
	assert.Equal(t, model.ResourceTypeImage, report.Rows[0].ResourceType)

	// Final URL under /checkout: the first config wins.
	report = Evaluate(Input{FinalURL: "https://shop.example/checkout/review", Requests: requests, Budgets: budgets})
	require.Len(t, report.Rows, 1)
	assert.Equal(t, model.ResourceTypeScript, report.Rows[0].ResourceType)
}

func TestEvaluateNoBudgetInScopeFallsBackToSummary(t *testing.T) {
	t.Parallel()

	report := Evaluate(Input{
		FinalURL: "https://shop.example/landing",
		Requests: []model.NetworkRequest{
			req("https://shop.example/a.js", "script", 10),
		},
		Budgets: []model.Budget{{
			Path:          "/checkout$",
			ResourceSizes: []model.ResourceSize{sizeBudget(model.ResourceTypeScript, 0)},
		}},
	})

	require.Len(t, report.Headings, 3)
	assert.Equal(t, model.ResourceTypeTotal, report.Rows[0].ResourceType)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	t.Parallel()

	in := Input{
		FinalURL: "https://shop.example/",
		Requests: []model.NetworkRequest{
			req("https://shop.example/a.js", "script", 500),
			req("https://ads.example.org/t.gif", "image", 900),
			req("https://shop.example/", "document", 700),
		},
		Budgets: []model.Budget{{
			ResourceSizes:  []model.ResourceSize{sizeBudget(model.ResourceTypeScript, 0)},
			ResourceCounts: []model.ResourceCount{countBudget(model.ResourceTypeImage, 0)},
		}},
	}

	first := Evaluate(in)
	second := Evaluate(in)
	assert.Equal(t, first, second)

	summaryIn := Input{FinalURL: in.FinalURL, Requests: in.Requests}
	assert.Equal(t, Evaluate(summaryIn), Evaluate(summaryIn))
}

func TestActiveBudget(t *testing.T) {
	t.Parallel()

	checkout := model.Budget{Path: "/checkout", ResourceSizes: []model.ResourceSize{sizeBudget(model.ResourceTypeScript, 1)}}
	catchAll := model.Budget{ResourceSizes: []model.ResourceSize{sizeBudget(model.ResourceTypeImage, 1)}}

	assert.Nil(t, ActiveBudget(nil, "https://shop.example/"))

	got := ActiveBudget([]model.Budget{checkout, catchAll}, "https://shop.example/checkout")
	require.NotNil(t, got)
	assert.Equal(t, checkout.ResourceSizes, got.ResourceSizes)

	got = ActiveBudget([]model.Budget{checkout, catchAll}, "https://shop.example/elsewhere")
	require.NotNil(t, got)
	assert.Equal(t, catchAll.ResourceSizes, got.ResourceSizes)

	// No final URL: path defaults to "/" so only the catch-all matches.
	got = ActiveBudget([]model.Budget{checkout, catchAll}, "")
	require.NotNil(t, got)
	assert.Equal(t, catchAll.ResourceSizes, got.ResourceSizes)

	assert.Nil(t, ActiveBudget([]model.Budget{checkout}, "https://shop.example/elsewhere"))
}
