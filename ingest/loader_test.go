package ingest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomdata/tidemark/asset"
	"github.com/fathomdata/tidemark/errors"
	tidetest "github.com/fathomdata/tidemark/internal/testing"
)

func marketRow(t *testing.T, dayStr string, open, high, low, closePx float64, volume int64) Row {
	t.Helper()
	return Row{Ts: day(t, dayStr), Args: []interface{}{open, high, low, closePx, volume}}
}

func marketSpec() TableSpec {
	return TableSpec{Table: "market_data", Columns: []string{"open", "high", "low", "close", "volume"}}
}

func TestParseConflictPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ConflictPolicy
		wantErr bool
	}{
		{"", ConflictDoNothing, false},
		{"do_nothing", ConflictDoNothing, false},
		{"upsert", ConflictUpsert, false},
		{"replace", "", true},
		{"DO_NOTHING", "", true},
	}
	for _, tt := range tests {
		t.Run("input "+tt.in, func(t *testing.T) {
			got, err := ParseConflictPolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoaderLoad(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	a := createAsset(t, db, "AAPL", asset.TypeStock)
	loader := NewLoader(db, 0)
	ctx := context.Background()

	t.Run("inserts market rows", func(t *testing.T) {
		rows := []Row{
			marketRow(t, "2024-03-01", 100, 103, 99, 102, 1000),
			marketRow(t, "2024-03-04", 102, 104, 101, 103, 1200),
		}
		res, err := loader.Load(ctx, marketSpec(), a.ID, rows, ConflictDoNothing)
		require.NoError(t, err)
		assert.Equal(t, LoadResult{Attempted: 2, Loaded: 2}, res)

		var ts string
		var closePx float64
		var volume int64
		require.NoError(t, db.QueryRow(
			"SELECT ts, close, volume FROM market_data WHERE asset_id = ? ORDER BY ts LIMIT 1", a.ID).
			Scan(&ts, &closePx, &volume))
		assert.Equal(t, "2024-03-01T00:00:00Z", ts)
		assert.Equal(t, 102.0, closePx)
		assert.Equal(t, int64(1000), volume)
	})

	t.Run("nil optional columns store as NULL", func(t *testing.T) {
		rows := []Row{{Ts: day(t, "2024-03-05"), Args: []interface{}{nil, nil, nil, 99.5, nil}}}
		res, err := loader.Load(ctx, marketSpec(), a.ID, rows, ConflictDoNothing)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Loaded)

		var open sql.NullFloat64
		var closePx float64
		require.NoError(t, db.QueryRow(
			"SELECT open, close FROM market_data WHERE asset_id = ? AND ts = ?",
			a.ID, "2024-03-05T00:00:00Z").Scan(&open, &closePx))
		assert.False(t, open.Valid)
		assert.Equal(t, 99.5, closePx)
	})

	t.Run("do_nothing keeps existing rows", func(t *testing.T) {
		rows := []Row{marketRow(t, "2024-03-01", 1, 1, 1, 1, 1)}
		res, err := loader.Load(ctx, marketSpec(), a.ID, rows, ConflictDoNothing)
		require.NoError(t, err)
		assert.Equal(t, LoadResult{Attempted: 1, Loaded: 0}, res, "duplicate is attempted but not loaded")

		var closePx float64
		require.NoError(t, db.QueryRow(
			"SELECT close FROM market_data WHERE asset_id = ? AND ts = ?",
			a.ID, "2024-03-01T00:00:00Z").Scan(&closePx))
		assert.Equal(t, 102.0, closePx, "original close survives")
	})

	t.Run("upsert overwrites existing rows", func(t *testing.T) {
		rows := []Row{marketRow(t, "2024-03-01", 100, 105, 99, 104.5, 2000)}
		res, err := loader.Load(ctx, marketSpec(), a.ID, rows, ConflictUpsert)
		require.NoError(t, err)
		assert.Equal(t, LoadResult{Attempted: 1, Loaded: 1}, res)

		var closePx float64
		var volume int64
		require.NoError(t, db.QueryRow(
			"SELECT close, volume FROM market_data WHERE asset_id = ? AND ts = ?",
			a.ID, "2024-03-01T00:00:00Z").Scan(&closePx, &volume))
		assert.Equal(t, 104.5, closePx)
		assert.Equal(t, int64(2000), volume)
	})

	t.Run("no rows is a no-op", func(t *testing.T) {
		res, err := loader.Load(ctx, marketSpec(), a.ID, nil, ConflictDoNothing)
		require.NoError(t, err)
		assert.Equal(t, LoadResult{}, res)
	})
}

func TestLoaderSingleColumnTables(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	eur := createAsset(t, db, "EURUSD", asset.TypeForex)
	loader := NewLoader(db, 0)
	ctx := context.Background()

	spec := TableSpec{Table: "forex_rates", Columns: []string{"rate"}}
	rows := []Row{
		{Ts: day(t, "2024-03-01"), Args: []interface{}{1.0856}},
		{Ts: day(t, "2024-03-02"), Args: []interface{}{1.0872}},
	}
	res, err := loader.Load(ctx, spec, eur.ID, rows, ConflictDoNothing)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Loaded)

	var rate float64
	require.NoError(t, db.QueryRow(
		"SELECT rate FROM forex_rates WHERE asset_id = ? AND ts = ?",
		eur.ID, "2024-03-02T00:00:00Z").Scan(&rate))
	assert.Equal(t, 1.0872, rate)
}

func TestLoaderBatches(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	a := createAsset(t, db, "BTC", asset.TypeCrypto)
	loader := NewLoader(db, 3)
	ctx := context.Background()

	var rows []Row
	start := day(t, "2024-03-01")
	for i := 0; i < 10; i++ {
		rows = append(rows, Row{
			Ts:   start.AddDate(0, 0, i),
			Args: []interface{}{nil, nil, nil, 50000.0 + float64(i), nil},
		})
	}

	res, err := loader.Load(ctx, marketSpec(), a.ID, rows, ConflictDoNothing)
	require.NoError(t, err)
	assert.Equal(t, LoadResult{Attempted: 10, Loaded: 10}, res)

	var n int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM market_data WHERE asset_id = ?", a.ID).Scan(&n))
	assert.Equal(t, 10, n)
}

// A failing later batch must not roll back earlier batches, and the error
// has to say how many rows already landed.
func TestLoaderPartialFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO forex_rates").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO forex_rates").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	loader := NewLoader(db, 2)
	spec := TableSpec{Table: "forex_rates", Columns: []string{"rate"}}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]Row, 4)
	for i := range rows {
		rows[i] = Row{Ts: base.AddDate(0, 0, i), Args: []interface{}{1.08}}
	}

	res, err := loader.Load(context.Background(), spec, 1, rows, ConflictDoNothing)
	require.Error(t, err)
	assert.True(t, errors.IsPersistenceError(err))
	assert.Contains(t, err.Error(), "2 of 4 rows committed")
	assert.Equal(t, LoadResult{Attempted: 4, Loaded: 2}, res)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildQuery(t *testing.T) {
	loader := NewLoader(nil, 0)

	t.Run("do_nothing", func(t *testing.T) {
		q := loader.buildQuery(TableSpec{Table: "bond_rates", Columns: []string{"rate"}}, ConflictDoNothing)
		assert.Equal(t, "INSERT INTO bond_rates (asset_id, ts, rate) VALUES %VALUES% ON CONFLICT(asset_id, ts) DO NOTHING", q)
	})

	t.Run("upsert", func(t *testing.T) {
		q := loader.buildQuery(marketSpec(), ConflictUpsert)
		assert.Contains(t, q, "ON CONFLICT(asset_id, ts) DO UPDATE SET open = excluded.open, high = excluded.high, low = excluded.low, close = excluded.close, volume = excluded.volume")
	})
}
