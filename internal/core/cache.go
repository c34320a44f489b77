// Package core provides the business logic and service layer for the pagetally service.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pagetally/pagetally/internal/domain/model"
)

// CacheRepository defines the interface for caching operations.
// This follows the hexagonal architecture pattern where the core defines interfaces
// and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// SetTTL updates the TTL for an existing key.
	// Returns true if the key exists and TTL was updated.
	SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	// This is useful for implementing distributed locks and deduplication.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// ReportCache keeps the latest audit report per page in the cache so the
// dashboard's hot path skips Postgres. Misses fall through to the report
// repository; the cache is repopulated on every successful audit.
type ReportCache struct {
	cache   CacheRepository
	reports ReportRepository
	ttl     time.Duration
}

// ReportCacheConfig holds configuration for report caching.
type ReportCacheConfig struct {
	TTL time.Duration `json:"ttl"`
}

// ReportCacheOptions bundles dependencies for NewReportCache.
type ReportCacheOptions struct {
	Cache   CacheRepository
	Reports ReportRepository
	Config  ReportCacheConfig
}

// DefaultReportCacheConfig returns a ReportCacheConfig with sensible defaults.
func DefaultReportCacheConfig() ReportCacheConfig {
	return ReportCacheConfig{
		TTL: 15 * time.Minute,
	}
}

// NewReportCache creates a new ReportCache.
func NewReportCache(opts ReportCacheOptions) *ReportCache {
	ttl := opts.Config.TTL
	if ttl <= 0 {
		ttl = DefaultReportCacheConfig().TTL
	}
	return &ReportCache{
		cache:   opts.Cache,
		reports: opts.Reports,
		ttl:     ttl,
	}
}

// LatestForPage returns the newest report for a page, preferring the cache.
// A repository hit refreshes the cache entry; cache write failures are
// swallowed since the repository already answered.
func (c *ReportCache) LatestForPage(ctx context.Context, pageID string) (*model.ScanReport, error) {
	key := c.latestReportKey(pageID)
	if cached, err := c.cache.Get(ctx, key); err == nil && len(cached) > 0 {
		var report model.ScanReport
		if unmarshalErr := json.Unmarshal(cached, &report); unmarshalErr == nil {
			return &report, nil
		}
		// Corrupt entry: drop it and fall through to the repository.
		_, _ = c.cache.Delete(ctx, key)
	}

	report, err := c.reports.LatestForPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	_ = c.store(ctx, pageID, report)
	return report, nil
}

// StoreLatest refreshes the cached latest report for a page. Called after an
// audit persists a new report.
func (c *ReportCache) StoreLatest(ctx context.Context, report *model.ScanReport) error {
	if report == nil || report.PageID == "" {
		return nil
	}
	return c.store(ctx, report.PageID, report)
}

// Invalidate removes the cached latest report for a page. Called when a page
// or its budget set changes so stale overage columns don't linger.
func (c *ReportCache) Invalidate(ctx context.Context, pageID string) error {
	if pageID == "" {
		return nil
	}
	_, err := c.cache.Delete(ctx, c.latestReportKey(pageID))
	return err
}

func (c *ReportCache) store(ctx context.Context, pageID string, report *model.ScanReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report for cache: %w", err)
	}
	return c.cache.Set(ctx, c.latestReportKey(pageID), payload, c.ttl)
}

// latestReportKey generates the cache key for a page's latest report.
func (c *ReportCache) latestReportKey(pageID string) string {
	return "report:latest:" + pageID
}
