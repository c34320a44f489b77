package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/testutil"
)

func sampleReport() model.Report {
	over := int64(51200)
	return model.Report{
		Headings: []model.Heading{
			{Key: "label", Label: "Resource Type", ItemType: model.ItemTypeText},
			{Key: "requestCount", Label: "Requests", ItemType: model.ItemTypeNumeric},
			{Key: "transferSize", Label: "Transfer Size", ItemType: model.ItemTypeBytes},
		},
		Rows: []model.Row{
			{ResourceType: model.ResourceTypeScript, Label: "Script", RequestCount: 12, TransferSize: 358400, SizeOverBudget: &over},
			{ResourceType: model.ResourceTypeImage, Label: "Image", RequestCount: 30, TransferSize: 204800},
			{ResourceType: model.ResourceTypeTotal, Label: "Total", RequestCount: 42, TransferSize: 563200},
		},
	}
}

func TestReportRepo_Create(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewReportRepo(db)
		ctx := context.Background()

		page, scan := createTestPageAndScan(t, db, "Report Create Page", "https://example.com/reports")
		set, err := NewBudgetSetRepo(db).Create(ctx, &model.CreateBudgetSetRequest{
			Name:    "report-create-budgets",
			Budgets: defaultBudgets(),
		})
		require.NoError(t, err)

		report, err := repo.Create(ctx, &model.ScanReport{
			ScanID:           scan.ID,
			PageID:           page.ID,
			BudgetSetID:      &set.ID,
			BudgetSetVersion: &set.Version,
			Report:           sampleReport(),
			RequestCount:     42,
			TransferBytes:    563200,
			OverageCount:     1,
		})
		require.NoError(t, err)
		require.NotNil(t, report)

		assert.NotEmpty(t, report.ID)
		assert.Equal(t, scan.ID, report.ScanID)
		assert.Equal(t, page.ID, report.PageID)
		require.NotNil(t, report.BudgetSetID)
		assert.Equal(t, set.ID, *report.BudgetSetID)
		require.NotNil(t, report.BudgetSetVersion)
		assert.Equal(t, 1, *report.BudgetSetVersion)
		assert.Equal(t, 42, report.RequestCount)
		assert.Equal(t, int64(563200), report.TransferBytes)
		assert.Equal(t, 1, report.OverageCount)
		assert.False(t, report.CreatedAt.IsZero())

		require.Len(t, report.Report.Rows, 3)
		assert.Equal(t, model.ResourceTypeScript, report.Report.Rows[0].ResourceType)
		require.NotNil(t, report.Report.Rows[0].SizeOverBudget)
		assert.Equal(t, int64(51200), *report.Report.Rows[0].SizeOverBudget)
		assert.True(t, report.Report.Rows[0].OverBudget())
		assert.False(t, report.Report.Rows[1].OverBudget())
	})
}

func TestReportRepo_Create_SummaryMode(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewReportRepo(db)
		ctx := context.Background()

		page, scan := createTestPageAndScan(t, db, "Report Summary Page", "https://example.com/summary")

		summary := sampleReport()
		summary.Rows[0].SizeOverBudget = nil

		report, err := repo.Create(ctx, &model.ScanReport{
			ScanID:        scan.ID,
			PageID:        page.ID,
			Report:        summary,
			RequestCount:  42,
			TransferBytes: 563200,
		})
		require.NoError(t, err)

		assert.Nil(t, report.BudgetSetID)
		assert.Nil(t, report.BudgetSetVersion)
		assert.Equal(t, 0, report.OverageCount)
		assert.Empty(t, report.Report.OverageRows())
	})
}

func TestReportRepo_Create_Duplicate(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewReportRepo(db)
		ctx := context.Background()

		page, scan := createTestPageAndScan(t, db, "Report Dup Page", "https://example.com/dup")

		first := &model.ScanReport{
			ScanID:        scan.ID,
			PageID:        page.ID,
			Report:        sampleReport(),
			RequestCount:  42,
			TransferBytes: 563200,
		}
		_, err := repo.Create(ctx, first)
		require.NoError(t, err)

		_, err = repo.Create(ctx, first)
		assert.ErrorIs(t, err, ErrReportExists)
	})
}

func TestReportRepo_Create_UnknownScan(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewReportRepo(db)
		ctx := context.Background()

		page, _ := createTestPageAndScan(t, db, "Report Missing Scan Page", "https://example.com/missing")

		_, err := repo.Create(ctx, &model.ScanReport{
			ScanID: uuid.NewString(),
			PageID: page.ID,
			Report: sampleReport(),
		})
		assert.ErrorIs(t, err, ErrReportScanNotFound)
	})
}

func TestReportRepo_Create_NilReport(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewReportRepo(db)

		_, err := repo.Create(context.Background(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "report is required")
	})
}

func TestReportRepo_GetByScanID(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewReportRepo(db)
		ctx := context.Background()

		page, scan := createTestPageAndScan(t, db, "Report Get Page", "https://example.com/get")

		created, err := repo.Create(ctx, &model.ScanReport{
			ScanID:        scan.ID,
			PageID:        page.ID,
			Report:        sampleReport(),
			RequestCount:  42,
			TransferBytes: 563200,
			OverageCount:  1,
		})
		require.NoError(t, err)

		got, err := repo.GetByScanID(ctx, scan.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, created.Report, got.Report)

		_, err = repo.GetByScanID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrReportNotFound)
	})
}

func TestReportRepo_LatestForPage(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()

		page, firstScan := createTestPageAndScan(t, db, "Report Latest Page", "https://example.com/latest")
		secondScan, err := NewScanRepo(db).Create(ctx, &model.CreateScanRequest{PageID: page.ID})
		require.NoError(t, err)

		// Fixed clock so the two reports have a deterministic order.
		clock := NewFixedTimeProvider(testutil.TestTime())
		repo := NewReportRepoWithTimeProvider(db, clock)

		_, err = repo.Create(ctx, &model.ScanReport{
			ScanID:        firstScan.ID,
			PageID:        page.ID,
			Report:        sampleReport(),
			RequestCount:  42,
			TransferBytes: 563200,
		})
		require.NoError(t, err)

		clock.AddTime(30 * time.Minute)
		newest, err := repo.Create(ctx, &model.ScanReport{
			ScanID:        secondScan.ID,
			PageID:        page.ID,
			Report:        sampleReport(),
			RequestCount:  45,
			TransferBytes: 600000,
		})
		require.NoError(t, err)

		latest, err := repo.LatestForPage(ctx, page.ID)
		require.NoError(t, err)
		assert.Equal(t, newest.ID, latest.ID)
		assert.Equal(t, secondScan.ID, latest.ScanID)
		assert.Equal(t, 45, latest.RequestCount)

		otherPage, _ := createTestPageAndScan(t, db, "Report Latest Empty", "https://example.com/latest-empty")
		_, err = repo.LatestForPage(ctx, otherPage.ID)
		assert.ErrorIs(t, err, ErrReportNotFound)
	})
}
