package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	reportCacheKeyPrefix = "report:latest:"
	reportCacheScanCount = 1000
	reportCacheDelBatch  = 100
)

type listReportCacheOptions struct {
	PageID string
	Limit  int
}

func parseListReportCacheFlags(args []string) (*listReportCacheOptions, error) {
	fs := flag.NewFlagSet("list-report-cache", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := &listReportCacheOptions{}
	fs.StringVar(&opts.PageID, "page-id", "", "Only show the cache entry for this page ID")
	fs.IntVar(&opts.Limit, "limit", 100, "Maximum entries to display (0 shows all)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.Limit < 0 {
		return nil, errors.New("--limit must not be negative")
	}
	return opts, nil
}

type reportCacheEntry struct {
	Key    string
	PageID string
	Bytes  int64
	TTL    time.Duration
}

func runListReportCache(cmdCtx *commandContext, args []string) error {
	opts, err := parseListReportCacheFlags(args)
	if err != nil {
		return err
	}

	client, err := connectReportCacheRedis(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()

	entries, total, err := collectReportCacheEntries(cmdCtx.Ctx, client, opts)
	if err != nil {
		return err
	}
	return printReportCacheEntries(entries, total, opts.Limit)
}

func connectReportCacheRedis(cmdCtx *commandContext) (redis.UniversalClient, error) { //nolint:ireturn // keeps sentinel/cluster support flexible
	client, err := maybeConnectRedis(cmdCtx.Logger, &cmdCtx.Config.Redis)
	if err != nil {
		if errors.Is(err, errRedisNotConfigured) {
			return nil, errors.New("redis is not configured; the report cache requires REDIS_URI (or cluster/sentinel settings)")
		}
		return nil, err
	}
	return client, nil
}

func reportCachePattern(pageID string) string {
	if pageID == "" {
		return reportCacheKeyPrefix + "*"
	}
	return reportCacheKeyPrefix + pageID
}

func collectReportCacheEntries(
	ctx context.Context,
	client redis.UniversalClient,
	opts *listReportCacheOptions,
) ([]reportCacheEntry, int, error) {
	pattern := reportCachePattern(opts.PageID)
	iter := client.Scan(ctx, 0, pattern, reportCacheScanCount).Iterator()

	entries := make([]reportCacheEntry, 0)
	total := 0
	for iter.Next(ctx) {
		total++
		if opts.Limit > 0 && len(entries) >= opts.Limit {
			continue
		}

		key := iter.Val()
		entry := reportCacheEntry{
			Key:    key,
			PageID: strings.TrimPrefix(key, reportCacheKeyPrefix),
		}

		size, err := client.StrLen(ctx, key).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("query size for key %q: %w", key, err)
		}
		entry.Bytes = size

		ttl, err := client.TTL(ctx, key).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("query ttl for key %q: %w", key, err)
		}
		entry.TTL = ttl

		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan report cache keys: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].PageID < entries[j].PageID
	})
	return entries, total, nil
}

func printReportCacheEntries(entries []reportCacheEntry, total, limit int) error {
	if err := writef(os.Stdout, "\nCached latest reports"); err != nil {
		return fmt.Errorf("write report cache header: %w", err)
	}
	if limit > 0 {
		if err := writef(os.Stdout, " (showing up to %d)", limit); err != nil {
			return fmt.Errorf("write report cache limit: %w", err)
		}
	}
	if err := writeln(os.Stdout); err != nil {
		return fmt.Errorf("write report cache header newline: %w", err)
	}

	if len(entries) == 0 {
		return writeln(os.Stdout, "  (no cached reports found)")
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "PAGE ID\tSIZE (BYTES)\tTTL\tKEY"); err != nil {
		return fmt.Errorf("write report cache header row: %w", err)
	}
	for _, entry := range entries {
		if err := writef(tw, "%s\t%d\t%s\t%s\n", entry.PageID, entry.Bytes, renderTTL(entry.TTL), entry.Key); err != nil {
			return fmt.Errorf("write report cache row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush report cache table: %w", err)
	}

	if err := writef(os.Stdout, "Total keys matched: %d\n", total); err != nil {
		return fmt.Errorf("write report cache total: %w", err)
	}
	if limit > 0 && total > len(entries) {
		if err := writeln(os.Stdout, "More keys available; increase --limit to view additional entries."); err != nil {
			return fmt.Errorf("write report cache more-keys message: %w", err)
		}
	}
	return nil
}

type clearReportCacheOptions struct {
	PageID string
	All    bool
	DryRun bool
	Yes    bool
}

func (o *clearReportCacheOptions) IsDryRun() bool { return o.DryRun }
func (o *clearReportCacheOptions) IsYes() bool    { return o.Yes }

func (o *clearReportCacheOptions) GetWarning() string {
	if o.All {
		return "WARNING: this removes every cached latest report; the next report fetch per page falls back to Postgres."
	}
	return ""
}

func (o *clearReportCacheOptions) GetTarget() string {
	if o.All {
		return "all cached latest reports"
	}
	return fmt.Sprintf("the cached latest report for page %s", o.PageID)
}

func parseClearReportCacheFlags(args []string) (*clearReportCacheOptions, error) {
	fs := flag.NewFlagSet("clear-report-cache", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := &clearReportCacheOptions{}
	fs.StringVar(&opts.PageID, "page-id", "", "Clear the cache entry for this page ID")
	fs.BoolVar(&opts.All, "all", false, "Clear every cached report entry")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Show what would be deleted without deleting")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.PageID = strings.TrimSpace(opts.PageID)
	if opts.All == (opts.PageID != "") {
		return nil, errors.New("exactly one of --page-id or --all is required")
	}
	return opts, nil
}

func runClearReportCache(cmdCtx *commandContext, args []string) error {
	opts, err := parseClearReportCacheFlags(args)
	if err != nil {
		return err
	}
	if err := confirmAction(opts, "clear the report cache"); err != nil {
		return err
	}

	client, err := connectReportCacheRedis(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()

	deleted, err := purgeReportCache(cmdCtx.Ctx, client, cmdCtx.Logger, opts)
	if err != nil {
		return err
	}
	if opts.DryRun {
		return writef(os.Stdout, "Dry run: %d cached report(s) would be deleted.\n", deleted)
	}
	return writef(os.Stdout, "Deleted %d cached report(s).\n", deleted)
}

func purgeReportCache(
	ctx context.Context,
	client redis.UniversalClient,
	logger *slog.Logger,
	opts *clearReportCacheOptions,
) (int, error) {
	pattern := reportCachePattern(opts.PageID)
	logger.Info("scanning redis", "pattern", pattern, "dry_run", opts.DryRun)

	iter := client.Scan(ctx, 0, pattern, reportCacheScanCount).Iterator()
	keys := make([]string, 0)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan report cache keys: %w", err)
	}
	if len(keys) == 0 || opts.DryRun {
		return len(keys), nil
	}

	for start := 0; start < len(keys); start += reportCacheDelBatch {
		end := min(start+reportCacheDelBatch, len(keys))
		if err := client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return 0, fmt.Errorf("delete report cache keys: %w", err)
		}
	}
	logger.Info("report cache keys deleted", "count", len(keys))
	return len(keys), nil
}
