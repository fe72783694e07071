package ingest

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomdata/tidemark/asset"
	"github.com/fathomdata/tidemark/config"
	"github.com/fathomdata/tidemark/errors"
	tidetest "github.com/fathomdata/tidemark/internal/testing"
	"github.com/fathomdata/tidemark/provider"
)

func testEngine(t *testing.T, db *sql.DB, collector provider.Collector) *Engine {
	t.Helper()
	cfg := config.IngestConfig{BatchSize: 50, Incremental: true, ConflictPolicy: "do_nothing"}
	return NewEngine(asset.NewManager(db), NewTracker(db), NewLoader(db, cfg.BatchSize), NewLogStore(db), collector, cfg)
}

func syntheticEngine(t *testing.T, db *sql.DB) *Engine {
	t.Helper()
	registry := provider.NewRegistry()
	registry.Register(provider.SyntheticName, provider.NewSynthetic())
	return testEngine(t, db, registry)
}

func tableCount(t *testing.T, db *sql.DB, table string, assetID int64) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM "+table+" WHERE asset_id = ?", assetID).Scan(&n))
	return n
}

// January 2024 has 23 business days. The first ingest fetches and loads
// them; the identical second request finds no gaps and touches nothing.
func TestIngestThenRerunSkips(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	eng := syntheticEngine(t, db)
	ctx := context.Background()

	req := Request{
		Symbol:    "AAPL",
		AssetType: asset.TypeStock,
		Start:     day(t, "2024-01-01"),
		End:       day(t, "2024-02-01"),
	}

	res, err := eng.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, LogStatusSuccess, res.Status)
	assert.Equal(t, "AAPL", res.Asset.Symbol)
	assert.Equal(t, []Range{rng(t, "2024-01-01", "2024-02-01")}, res.Fetched)
	assert.Equal(t, 23, res.RecordsLoaded)
	assert.Zero(t, res.RecordsDropped)
	assert.Equal(t, 23, tableCount(t, db, "market_data", res.Asset.ID))

	rerun, err := eng.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, LogStatusSkipped, rerun.Status)
	assert.Empty(t, rerun.Fetched)
	assert.Zero(t, rerun.RecordsLoaded)
	assert.Equal(t, 23, tableCount(t, db, "market_data", res.Asset.ID), "no new rows on re-run")

	logs, err := NewLogStore(db).List(ctx, LogFilter{AssetID: res.Asset.ID})
	require.NoError(t, err)
	require.Len(t, logs, 2, "every run leaves an audit row")
	assert.Equal(t, LogStatusSkipped, logs[0].Status)
	assert.Equal(t, LogStatusSuccess, logs[1].Status)
}

func TestIngestFillsOnlyGaps(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	eng := syntheticEngine(t, db)
	ctx := context.Background()

	mid, err := eng.Ingest(ctx, Request{
		Symbol:    "BTC",
		AssetType: asset.TypeCrypto,
		Start:     day(t, "2024-01-10"),
		End:       day(t, "2024-01-20"),
	})
	require.NoError(t, err)
	require.Equal(t, 10, mid.RecordsLoaded, "crypto trades every calendar day")

	full, err := eng.Ingest(ctx, Request{
		Symbol:    "BTC",
		AssetType: asset.TypeCrypto,
		Start:     day(t, "2024-01-01"),
		End:       day(t, "2024-02-01"),
	})
	require.NoError(t, err)
	assert.Equal(t, LogStatusSuccess, full.Status)
	assert.Equal(t, []Range{
		rng(t, "2024-01-01", "2024-01-10"),
		rng(t, "2024-01-20", "2024-02-01"),
	}, full.Fetched, "only the uncovered flanks are fetched")
	assert.Equal(t, 21, full.RecordsLoaded)

	covered, err := NewTracker(db).AllCovered(ctx, full.Asset.ID)
	require.NoError(t, err)
	assert.Equal(t, []Range{rng(t, "2024-01-01", "2024-02-01")}, covered, "coverage merges into one range")
}

func TestIngestFullModeRefetches(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	eng := syntheticEngine(t, db)
	ctx := context.Background()

	req := Request{
		Symbol:    "EURUSD",
		AssetType: asset.TypeForex,
		Start:     day(t, "2024-01-01"),
		End:       day(t, "2024-01-08"),
	}

	first, err := eng.Ingest(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 7, first.RecordsLoaded)

	req.Mode = ModeFull
	second, err := eng.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, LogStatusSuccess, second.Status)
	assert.Equal(t, []Range{rng(t, "2024-01-01", "2024-01-08")}, second.Fetched, "full mode ignores coverage")
	assert.Zero(t, second.RecordsLoaded, "do_nothing skips the identical rows")
	assert.Equal(t, 7, tableCount(t, db, "forex_rates", second.Asset.ID))
}

func TestIngestValidation(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	eng := syntheticEngine(t, db)
	ctx := context.Background()

	t.Run("unknown asset type writes nothing", func(t *testing.T) {
		_, err := eng.Ingest(ctx, Request{
			Symbol:    "AAPL",
			AssetType: asset.Type("warrant"),
			Start:     day(t, "2024-01-01"),
			End:       day(t, "2024-01-31"),
		})
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))

		var assets, logs int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM assets").Scan(&assets))
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM ingestion_logs").Scan(&logs))
		assert.Zero(t, assets)
		assert.Zero(t, logs)
	})

	t.Run("inverted range", func(t *testing.T) {
		_, err := eng.Ingest(ctx, Request{
			Symbol:    "AAPL",
			AssetType: asset.TypeStock,
			Start:     day(t, "2024-02-01"),
			End:       day(t, "2024-01-01"),
		})
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := eng.Ingest(ctx, Request{
			Symbol:    "AAPL",
			AssetType: asset.TypeStock,
			Start:     day(t, "2024-01-01"),
			End:       day(t, "2024-01-31"),
			Mode:      Mode("differential"),
		})
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("unknown conflict policy", func(t *testing.T) {
		_, err := eng.Ingest(ctx, Request{
			Symbol:    "AAPL",
			AssetType: asset.TypeStock,
			Start:     day(t, "2024-01-01"),
			End:       day(t, "2024-01-31"),
			Conflict:  ConflictPolicy("merge"),
		})
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("empty range skips without fetching", func(t *testing.T) {
		res, err := eng.Ingest(ctx, Request{
			Symbol:    "AAPL",
			AssetType: asset.TypeStock,
			Start:     day(t, "2024-01-15"),
			End:       day(t, "2024-01-15"),
		})
		require.NoError(t, err)
		assert.Equal(t, LogStatusSkipped, res.Status)
		assert.Empty(t, res.Fetched)
	})
}

func TestIngestDropsInvalidRecords(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	collector := provider.CollectorFunc(func(ctx context.Context, req provider.Request) ([]provider.Record, error) {
		return []provider.Record{
			{Timestamp: day(t, "2024-01-01"), Values: map[string]float64{"close": 100}},
			{Timestamp: day(t, "2024-01-02"), Values: map[string]float64{"open": 99}},
			{Timestamp: day(t, "2024-01-03"), Values: map[string]float64{"close": 101}},
		}, nil
	})
	eng := testEngine(t, db, collector)

	res, err := eng.Ingest(context.Background(), Request{
		Symbol:    "AAPL",
		AssetType: asset.TypeStock,
		Start:     day(t, "2024-01-01"),
		End:       day(t, "2024-01-04"),
	})
	require.NoError(t, err)
	assert.Equal(t, LogStatusSuccess, res.Status, "bad records drop without failing the run")
	assert.Equal(t, 2, res.RecordsLoaded)
	assert.Equal(t, 1, res.RecordsDropped)
}

// A collector failure on a later gap must not undo earlier gaps: their rows
// stay loaded, their coverage stays marked, and the next run fetches only
// what is still missing.
func TestIngestPartialFailurePreservesProgress(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	ctx := context.Background()

	// Pre-cover the middle so the month splits into two gaps
	seed := syntheticEngine(t, db)
	pre, err := seed.Ingest(ctx, Request{
		Symbol:    "BTC",
		AssetType: asset.TypeCrypto,
		Start:     day(t, "2024-01-10"),
		End:       day(t, "2024-01-20"),
	})
	require.NoError(t, err)

	synthetic := provider.NewSynthetic()
	var mu sync.Mutex
	calls := 0
	flaky := provider.CollectorFunc(func(ctx context.Context, req provider.Request) ([]provider.Record, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n > 1 {
			return nil, errors.Mark(errors.New("upstream returned 502"), errors.ErrCollection)
		}
		return synthetic.Collect(ctx, req)
	})

	eng := testEngine(t, db, flaky)
	res, err := eng.Ingest(ctx, Request{
		Symbol:    "BTC",
		AssetType: asset.TypeCrypto,
		Start:     day(t, "2024-01-01"),
		End:       day(t, "2024-02-01"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsCollectionError(err))
	require.NotNil(t, res, "failed runs still report progress")
	assert.Equal(t, LogStatusFailed, res.Status)
	assert.Equal(t, []Range{rng(t, "2024-01-01", "2024-01-10")}, res.Fetched, "first gap completed before the failure")
	assert.Equal(t, 9, res.RecordsLoaded)

	covered, err := NewTracker(db).AllCovered(ctx, pre.Asset.ID)
	require.NoError(t, err)
	assert.Equal(t, []Range{rng(t, "2024-01-01", "2024-01-20")}, covered)

	logs, err := NewLogStore(db).List(ctx, LogFilter{AssetID: pre.Asset.ID, Status: LogStatusFailed})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Error, "upstream returned 502")

	// Recovery fetches only the still-missing tail
	retry, err := seed.Ingest(ctx, Request{
		Symbol:    "BTC",
		AssetType: asset.TypeCrypto,
		Start:     day(t, "2024-01-01"),
		End:       day(t, "2024-02-01"),
	})
	require.NoError(t, err)
	assert.Equal(t, []Range{rng(t, "2024-01-20", "2024-02-01")}, retry.Fetched)
}

// Hitting the context deadline mid-run behaves like a collection failure:
// completed gap ranges stay covered and the error says what happened.
func TestIngestTimeoutMidRun(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	ctx := context.Background()

	seed := syntheticEngine(t, db)
	pre, err := seed.Ingest(ctx, Request{
		Symbol:    "ETH",
		AssetType: asset.TypeCrypto,
		Start:     day(t, "2024-01-10"),
		End:       day(t, "2024-01-20"),
	})
	require.NoError(t, err)

	synthetic := provider.NewSynthetic()
	var mu sync.Mutex
	calls := 0
	stalling := provider.CollectorFunc(func(ctx context.Context, req provider.Request) ([]provider.Record, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n > 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return synthetic.Collect(ctx, req)
	})

	eng := testEngine(t, db, stalling)
	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	res, err := eng.Ingest(runCtx, Request{
		Symbol:    "ETH",
		AssetType: asset.TypeCrypto,
		Start:     day(t, "2024-01-01"),
		End:       day(t, "2024-02-01"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsCollectionError(err))
	assert.Contains(t, err.Error(), "timeout")
	require.NotNil(t, res)
	assert.Equal(t, LogStatusFailed, res.Status)
	assert.Equal(t, []Range{rng(t, "2024-01-01", "2024-01-10")}, res.Fetched)

	covered, err := NewTracker(db).AllCovered(ctx, pre.Asset.ID)
	require.NoError(t, err)
	assert.Equal(t, []Range{rng(t, "2024-01-01", "2024-01-20")}, covered,
		"completed ranges stay covered after a timeout")

	logs, err := NewLogStore(db).List(ctx, LogFilter{AssetID: pre.Asset.ID, Status: LogStatusFailed})
	require.NoError(t, err)
	require.Len(t, logs, 1, "the audit row is written even though the run context expired")
	assert.Contains(t, logs[0].Error, "timeout")
}

func TestIngestUpsertPolicy(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	ctx := context.Background()

	fixed := func(closePx float64) provider.CollectorFunc {
		return func(ctx context.Context, req provider.Request) ([]provider.Record, error) {
			return []provider.Record{
				{Timestamp: day(t, "2024-01-02"), Values: map[string]float64{"close": closePx}},
			}, nil
		}
	}

	first := testEngine(t, db, fixed(100))
	res, err := first.Ingest(ctx, Request{
		Symbol:    "GLD",
		AssetType: asset.TypeCommodity,
		Start:     day(t, "2024-01-02"),
		End:       day(t, "2024-01-03"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.RecordsLoaded)

	second := testEngine(t, db, fixed(250))
	corrected, err := second.Ingest(ctx, Request{
		Symbol:    "GLD",
		AssetType: asset.TypeCommodity,
		Start:     day(t, "2024-01-02"),
		End:       day(t, "2024-01-03"),
		Mode:      ModeFull,
		Conflict:  ConflictUpsert,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, corrected.RecordsLoaded, "upsert counts the overwritten row")

	var closePx float64
	require.NoError(t, db.QueryRow(
		"SELECT close FROM market_data WHERE asset_id = ? AND ts = ?",
		res.Asset.ID, "2024-01-02T00:00:00Z").Scan(&closePx))
	assert.Equal(t, 250.0, closePx)
}

func TestIngestThroughCoordinator(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	ctx := context.Background()

	registry := provider.NewRegistry()
	registry.Register(provider.SyntheticName, provider.NewSynthetic())

	cfg := &config.Config{Providers: map[string]config.ProviderConfig{
		"default": {RequestsPerMinute: 600, Burst: 10, AcquireTimeoutSeconds: 5},
	}}
	limiter := provider.NewRateLimiter(cfg)
	coordinator := provider.NewRequestCoordinator(registry, limiter)

	eng := testEngine(t, db, coordinator)
	res, err := eng.Ingest(ctx, Request{
		Symbol:    "US10Y",
		AssetType: asset.TypeBond,
		Start:     day(t, "2024-01-01"),
		End:       day(t, "2024-01-06"),
	})
	require.NoError(t, err)
	assert.Equal(t, LogStatusSuccess, res.Status)
	assert.Equal(t, 5, res.RecordsLoaded)
}

func TestIngestUnknownProvider(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	eng := syntheticEngine(t, db)

	res, err := eng.Ingest(context.Background(), Request{
		Symbol:    "AAPL",
		AssetType: asset.TypeStock,
		Provider:  "bloomberg",
		Start:     day(t, "2024-01-01"),
		End:       day(t, "2024-01-05"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsCollectionError(err))
	require.NotNil(t, res)
	assert.Equal(t, LogStatusFailed, res.Status)
}
