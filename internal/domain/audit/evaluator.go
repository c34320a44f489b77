// Package audit evaluates captured page requests against resource budgets,
// producing the per-type summary table that reports and alerts are built on.
package audit

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/pagetally/pagetally/internal/domain/model"
)

// Input bundles everything one evaluation needs. Requests typically come
// from a completed scan, Budgets from the page's assigned budget set.
type Input struct {
	FinalURL           string
	Requests           []model.NetworkRequest
	Budgets            []model.Budget
	FirstPartyPatterns []string
}

// Evaluate aggregates the requests by resource type and renders the report
// table. When a budget config is in scope for the final URL the budget form
// is produced (only budgeted types, with overage columns); otherwise the
// summary form (total first, every observed type, third-party last).
// Evaluate is pure: identical inputs yield identical reports.
func Evaluate(in Input) *model.Report {
	agg := aggregate(in)
	if budget := ActiveBudget(in.Budgets, in.FinalURL); budget != nil {
		return budgetReport(agg, budget)
	}
	return summaryReport(agg)
}

// ActiveBudget returns the first budget config whose path pattern matches
// the final URL's path, or nil when none does. Configs never merge; when
// several match, the first wins. An empty pattern matches every path.
func ActiveBudget(budgets []model.Budget, finalURL string) *model.Budget {
	if len(budgets) == 0 {
		return nil
	}
	path := "/"
	if u, err := url.Parse(strings.TrimSpace(finalURL)); err == nil && u.Path != "" {
		path = u.Path
	}
	for i := range budgets {
		if budgets[i].Path.Matches(path) {
			return &budgets[i]
		}
	}
	return nil
}

type bucket struct {
	requestCount int
	transferSize int64
}

func (b *bucket) add(size int64) {
	b.requestCount++
	b.transferSize += size
}

// aggregation holds per-type buckets plus the synthetic total and
// third-party buckets. order preserves first-seen grouping order for
// deterministic tie-breaking.
type aggregation struct {
	byType     map[model.ResourceType]*bucket
	order      []model.ResourceType
	total      bucket
	thirdParty bucket
}

func aggregate(in Input) *aggregation {
	classifier := NewOriginClassifier(in.FinalURL, in.FirstPartyPatterns)
	agg := &aggregation{byType: make(map[model.ResourceType]*bucket)}
	for _, req := range in.Requests {
		t := model.NormalizeResourceType(string(req.ResourceType))
		b := agg.byType[t]
		if b == nil {
			b = &bucket{}
			agg.byType[t] = b
			agg.order = append(agg.order, t)
		}
		b.add(req.TransferSize)
		agg.total.add(req.TransferSize)
		if classifier.IsThirdParty(req.URL) {
			agg.thirdParty.add(req.TransferSize)
		}
	}
	return agg
}

// lookup resolves a budgetable type to its bucket; the synthetic types map
// to the total and third-party aggregates, unseen types to an empty bucket.
func (a *aggregation) lookup(t model.ResourceType) bucket {
	switch t {
	case model.ResourceTypeTotal:
		return a.total
	case model.ResourceTypeThirdParty:
		return a.thirdParty
	default:
		if b := a.byType[t]; b != nil {
			return *b
		}
		return bucket{}
	}
}

func summaryReport(agg *aggregation) *model.Report {
	typed := make([]model.Row, 0, len(agg.order))
	for _, t := range agg.order {
		typed = append(typed, newRow(t, *agg.byType[t]))
	}
	sort.SliceStable(typed, func(i, j int) bool {
		return typed[i].TransferSize > typed[j].TransferSize
	})

	rows := make([]model.Row, 0, len(typed)+2)
	rows = append(rows, newRow(model.ResourceTypeTotal, agg.total))
	rows = append(rows, typed...)
	rows = append(rows, newRow(model.ResourceTypeThirdParty, agg.thirdParty))

	return &model.Report{Headings: summaryHeadings(), Rows: rows}
}

// ceilings carries the declared budgets for one type; nil means undeclared.
type ceilings struct {
	sizeBytes *int64
	count     *int64
}

func budgetReport(agg *aggregation, budget *model.Budget) *model.Report {
	limits := make(map[model.ResourceType]*ceilings)
	var order []model.ResourceType
	limitFor := func(t model.ResourceType) *ceilings {
		c := limits[t]
		if c == nil {
			c = &ceilings{}
			limits[t] = c
			order = append(order, t)
		}
		return c
	}
	for _, s := range budget.ResourceSizes {
		t, ok := model.ParseBudgetResourceType(string(s.ResourceType))
		if !ok {
			continue
		}
		ceiling := s.Bytes()
		limitFor(t).sizeBytes = &ceiling
	}
	for _, c := range budget.ResourceCounts {
		t, ok := model.ParseBudgetResourceType(string(c.ResourceType))
		if !ok {
			continue
		}
		ceiling := c.Budget
		limitFor(t).count = &ceiling
	}

	rows := make([]model.Row, 0, len(order))
	for _, t := range order {
		b := agg.lookup(t)
		row := newRow(t, b)
		lim := limits[t]
		if lim.sizeBytes != nil {
			if over := b.transferSize - *lim.sizeBytes; over > 0 {
				row.SizeOverBudget = &over
			}
		}
		if lim.count != nil {
			if over := int64(b.requestCount) - *lim.count; over > 0 {
				row.CountOverBudget = requestCountString(over)
			}
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].TransferSize > rows[j].TransferSize
	})

	return &model.Report{Headings: budgetHeadings(), Rows: rows}
}

func newRow(t model.ResourceType, b bucket) model.Row {
	return model.Row{
		ResourceType: t,
		Label:        t.Label(),
		RequestCount: b.requestCount,
		TransferSize: b.transferSize,
	}
}

// requestCountString renders an overage count as the report's
// human-readable form, e.g. "1 request" or "4 requests".
func requestCountString(n int64) string {
	if n == 1 {
		return "1 request"
	}
	return fmt.Sprintf("%d requests", n)
}

func summaryHeadings() []model.Heading {
	return []model.Heading{
		{Key: "resourceType", Label: "Resource Type", ItemType: model.ItemTypeText},
		{Key: "requestCount", Label: "Requests", ItemType: model.ItemTypeNumeric},
		{Key: "transferSize", Label: "Transfer Size", ItemType: model.ItemTypeBytes},
	}
}

func budgetHeadings() []model.Heading {
	return append(summaryHeadings(),
		model.Heading{Key: "sizeOverBudget", Label: "Over Budget", ItemType: model.ItemTypeBytes},
		model.Heading{Key: "countOverBudget", Label: "Requests Over Budget", ItemType: model.ItemTypeText},
	)
}
