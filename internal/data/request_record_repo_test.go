package data

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagetally/pagetally/internal/domain/model"
	"github.com/pagetally/pagetally/internal/testutil"
)

func TestRequestRecordRepo_BulkInsert(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewRequestRecordRepo(db)
		ctx := context.Background()

		_, scan := createTestPageAndScan(t, db, "Record Insert Page", "https://example.com/records")

		records := []model.RequestRecordInput{
			{
				URL:          "https://example.com/",
				Host:         "example.com",
				ResourceType: model.ResourceTypeDocument,
				TransferSize: 15000,
				StatusCode:   testutil.IntPtr(200),
				MimeType:     testutil.StringPtr("text/html"),
				Seq:          0,
			},
			{
				URL:          "https://cdn.example.com/app.js",
				Host:         "cdn.example.com",
				ResourceType: model.ResourceTypeScript,
				TransferSize: 204800,
				StatusCode:   testutil.IntPtr(200),
				MimeType:     testutil.StringPtr("application/javascript"),
				Seq:          1,
			},
			{
				URL:          "https://tracker.example.net/pixel.gif",
				Host:         "tracker.example.net",
				ResourceType: model.ResourceTypeImage,
				TransferSize: 43,
				Seq:          2,
			},
		}

		created, err := repo.BulkInsert(ctx, scan.ID, records)
		require.NoError(t, err)
		assert.Equal(t, 3, created)

		stored, err := repo.ListByScan(ctx, scan.ID)
		require.NoError(t, err)
		require.Len(t, stored, 3)

		assert.Equal(t, "https://example.com/", stored[0].URL)
		assert.Equal(t, "example.com", stored[0].Host)
		assert.Equal(t, model.ResourceTypeDocument, stored[0].ResourceType)
		assert.Equal(t, int64(15000), stored[0].TransferSize)
		require.NotNil(t, stored[0].StatusCode)
		assert.Equal(t, 200, *stored[0].StatusCode)
		require.NotNil(t, stored[0].MimeType)
		assert.Equal(t, "text/html", *stored[0].MimeType)
		assert.Equal(t, scan.ID, stored[0].ScanID)
		assert.False(t, stored[0].CreatedAt.IsZero())

		// Third record had no status or mime type.
		assert.Nil(t, stored[2].StatusCode)
		assert.Nil(t, stored[2].MimeType)
	})
}

func TestRequestRecordRepo_BulkInsert_Empty(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewRequestRecordRepo(db)

		created, err := repo.BulkInsert(context.Background(), uuid.NewString(), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, created)
	})
}

func TestRequestRecordRepo_BulkInsert_UnknownScan(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewRequestRecordRepo(db)

		_, err := repo.BulkInsert(context.Background(), uuid.NewString(), []model.RequestRecordInput{
			{URL: "https://example.com/x.js", Host: "example.com", ResourceType: model.ResourceTypeScript, TransferSize: 10},
		})
		assert.ErrorIs(t, err, ErrRequestRecordScanNotFound)
	})
}

func TestRequestRecordRepo_BulkInsert_CopyPath(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewRequestRecordRepo(db)
		ctx := context.Background()

		_, scan := createTestPageAndScan(t, db, "Record Copy Page", "https://example.com/copy")

		// Over the COPY threshold so the bulk path is exercised.
		total := copyFromThreshold + 50
		records := make([]model.RequestRecordInput, 0, total)
		for i := 0; i < total; i++ {
			records = append(records, model.RequestRecordInput{
				URL:          fmt.Sprintf("https://cdn.example.com/asset-%d.png", i),
				Host:         "cdn.example.com",
				ResourceType: model.ResourceTypeImage,
				TransferSize: int64(1000 + i),
				Seq:          i,
			})
		}

		created, err := repo.BulkInsert(ctx, scan.ID, records)
		require.NoError(t, err)
		assert.Equal(t, total, created)

		count, err := repo.CountByScan(ctx, scan.ID)
		require.NoError(t, err)
		assert.Equal(t, total, count)
	})
}

func TestRequestRecordRepo_BulkInsert_CopyPath_UnknownScan(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewRequestRecordRepo(db)

		records := make([]model.RequestRecordInput, 0, copyFromThreshold+1)
		for i := 0; i < copyFromThreshold+1; i++ {
			records = append(records, model.RequestRecordInput{
				URL:          fmt.Sprintf("https://example.com/%d", i),
				Host:         "example.com",
				ResourceType: model.ResourceTypeOther,
				Seq:          i,
			})
		}

		// COPY surfaces the FK violation for the batch as a whole.
		_, err := repo.BulkInsert(context.Background(), uuid.NewString(), records)
		assert.ErrorIs(t, err, ErrRequestRecordScanNotFound)
	})
}

func TestRequestRecordRepo_ListByScan_Order(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewRequestRecordRepo(db)
		ctx := context.Background()

		_, scan := createTestPageAndScan(t, db, "Record Order Page", "https://example.com/order")

		// Inserted out of capture order; listing must restore it by seq.
		records := []model.RequestRecordInput{
			{URL: "https://example.com/late.js", Host: "example.com", ResourceType: model.ResourceTypeScript, TransferSize: 30, Seq: 2},
			{URL: "https://example.com/", Host: "example.com", ResourceType: model.ResourceTypeDocument, TransferSize: 10, Seq: 0},
			{URL: "https://example.com/style.css", Host: "example.com", ResourceType: model.ResourceTypeStylesheet, TransferSize: 20, Seq: 1},
		}
		_, err := repo.BulkInsert(ctx, scan.ID, records)
		require.NoError(t, err)

		stored, err := repo.ListByScan(ctx, scan.ID)
		require.NoError(t, err)
		require.Len(t, stored, 3)
		assert.Equal(t, 0, stored[0].Seq)
		assert.Equal(t, "https://example.com/", stored[0].URL)
		assert.Equal(t, 1, stored[1].Seq)
		assert.Equal(t, 2, stored[2].Seq)
	})
}

func TestRequestRecordRepo_ListByScan_Isolation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewRequestRecordRepo(db)
		ctx := context.Background()

		_, scanA := createTestPageAndScan(t, db, "Record Iso Page A", "https://a.example.com")
		_, scanB := createTestPageAndScan(t, db, "Record Iso Page B", "https://b.example.com")

		_, err := repo.BulkInsert(ctx, scanA.ID, []model.RequestRecordInput{
			{URL: "https://a.example.com/", Host: "a.example.com", ResourceType: model.ResourceTypeDocument, TransferSize: 10, Seq: 0},
			{URL: "https://a.example.com/a.js", Host: "a.example.com", ResourceType: model.ResourceTypeScript, TransferSize: 20, Seq: 1},
		})
		require.NoError(t, err)

		_, err = repo.BulkInsert(ctx, scanB.ID, []model.RequestRecordInput{
			{URL: "https://b.example.com/", Host: "b.example.com", ResourceType: model.ResourceTypeDocument, TransferSize: 30, Seq: 0},
		})
		require.NoError(t, err)

		countA, err := repo.CountByScan(ctx, scanA.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, countA)

		listB, err := repo.ListByScan(ctx, scanB.ID)
		require.NoError(t, err)
		require.Len(t, listB, 1)
		assert.Equal(t, "https://b.example.com/", listB[0].URL)

		empty, err := repo.ListByScan(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}
