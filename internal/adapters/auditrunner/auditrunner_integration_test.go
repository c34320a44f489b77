package auditrunner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagetally/pagetally/internal/core"
	"github.com/pagetally/pagetally/internal/data"
	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/service"
	"github.com/pagetally/pagetally/internal/testutil"
)

func TestAuditRunner_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()

		jobRepo := data.NewJobRepo(db, data.RepoConfig{})
		scanRepo := data.NewScanRepo(db)
		recordRepo := data.NewRequestRecordRepo(db)
		pageRepo := data.NewPageRepo(db)
		reportRepo := data.NewReportRepo(db)

		page, err := pageRepo.Create(ctx, &model.CreatePageRequest{
			Name:                "audit-runner-page",
			URL:                 "https://shop.example.com/",
			CaptureEveryMinutes: 60,
		})
		require.NoError(t, err)

		scan, err := scanRepo.Create(ctx, &model.CreateScanRequest{PageID: page.ID})
		require.NoError(t, err)

		status := 200
		inserted, err := recordRepo.BulkInsert(ctx, scan.ID, []model.RequestRecordInput{
			{
				URL:          "https://shop.example.com/",
				Host:         "shop.example.com",
				ResourceType: model.ResourceTypeDocument,
				TransferSize: 4096,
				StatusCode:   &status,
				Seq:          0,
			},
			{
				URL:          "https://cdn.example.net/app.js",
				Host:         "cdn.example.net",
				ResourceType: model.ResourceTypeScript,
				TransferSize: 65536,
				StatusCode:   &status,
				Seq:          1,
			},
		})
		require.NoError(t, err)
		require.Equal(t, 2, inserted)

		finalURL := "https://shop.example.com/"
		_, err = scanRepo.Complete(ctx, core.CompleteScanParams{
			ID:           scan.ID,
			FinalURL:     &finalURL,
			RequestCount: 2,
			TotalBytes:   69632,
			CompletedAt:  time.Now(),
		})
		require.NoError(t, err)

		payload, err := json.Marshal(model.AuditJobPayload{ScanID: scan.ID})
		require.NoError(t, err)

		job, err := jobRepo.Create(ctx, &model.CreateJobRequest{
			Type:       model.JobTypeAudit,
			Payload:    payload,
			ScanID:     &scan.ID,
			Priority:   50,
			MaxRetries: 3,
		})
		require.NoError(t, err)
		require.NotNil(t, job)

		audits, err := service.NewAuditService(service.AuditServiceOptions{
			Scans:   scanRepo,
			Reports: reportRepo,
			Deps: service.AuditServiceDeps{
				Pages:      pageRepo,
				BudgetSets: data.NewBudgetSetRepo(db),
				Records:    recordRepo,
			},
		})
		require.NoError(t, err)

		require.NoError(t, audits.EvaluateScan(ctx, job))

		report, err := reportRepo.GetByScanID(ctx, scan.ID)
		require.NoError(t, err)
		assert.Equal(t, page.ID, report.PageID)
		assert.Equal(t, 2, report.RequestCount)
		assert.Equal(t, int64(69632), report.TransferBytes)
	})
}

func TestAuditRunner_NewRunner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	testutil.WithAutoDB(t, func(db *sql.DB) {
		runner, err := NewRunner(RunnerOptions{
			DB:          db,
			RedisClient: nil,
			Concurrency: 1,
			Lease:       30 * time.Second,
		})

		require.NoError(t, err)
		require.NotNil(t, runner)
	})
}

func TestAuditRunner_DependencyResolution(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	testutil.WithAutoDB(t, func(db *sql.DB) {
		opts := RunnerOptions{
			DB:          db,
			RedisClient: nil,
			Concurrency: 1,
			Lease:       30 * time.Second,
		}

		deps := resolveDependencies(opts)
		require.NotNil(t, deps)

		assert.NotNil(t, deps.jobsRepo)
		assert.NotNil(t, deps.scansRepo)
		assert.NotNil(t, deps.reportsRepo)
		assert.NotNil(t, deps.pagesRepo)
		assert.NotNil(t, deps.budgetSetsRepo)
		assert.NotNil(t, deps.recordsRepo)
		assert.NotNil(t, deps.alertsRepo)
		// cacheRepo is nil since no Redis client provided
		assert.Nil(t, deps.cacheRepo)
		assert.Nil(t, deps.reportCache)
	})
}

func TestAuditRunner_JobProcessing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		runner, err := NewRunner(RunnerOptions{
			DB:          db,
			RedisClient: nil,
			Concurrency: 1,
			Lease:       30 * time.Second,
		})
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()

		// Let the runner start before stopping it.
		time.Sleep(100 * time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			t.Fatalf("Runner failed: %v", err)
		case <-time.After(1 * time.Second):
			// Runner stopped cleanly
		}
	})
}
