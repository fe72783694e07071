package asset

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomdata/tidemark/errors"
	tidetest "github.com/fathomdata/tidemark/internal/testing"
)

func TestGetOrCreate(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	mgr := NewManager(db)
	ctx := context.Background()

	t.Run("creates on first reference", func(t *testing.T) {
		a, err := mgr.GetOrCreate(ctx, "AAPL", TypeStock)
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, "AAPL", a.Symbol)
		assert.Equal(t, TypeStock, a.Type)
		assert.NotZero(t, a.ID)
	})

	t.Run("returns existing on second call", func(t *testing.T) {
		first, err := mgr.GetOrCreate(ctx, "MSFT", TypeStock)
		require.NoError(t, err)

		second, err := mgr.GetOrCreate(ctx, "MSFT", TypeStock)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("normalizes symbol case and whitespace", func(t *testing.T) {
		first, err := mgr.GetOrCreate(ctx, "tsla", TypeStock)
		require.NoError(t, err)

		second, err := mgr.GetOrCreate(ctx, "  TSLA ", TypeStock)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "TSLA", second.Symbol)
	})

	t.Run("same symbol different type is a different asset", func(t *testing.T) {
		stock, err := mgr.GetOrCreate(ctx, "GLD", TypeStock)
		require.NoError(t, err)

		commodity, err := mgr.GetOrCreate(ctx, "GLD", TypeCommodity)
		require.NoError(t, err)
		assert.NotEqual(t, stock.ID, commodity.ID)
	})

	t.Run("empty symbol is rejected", func(t *testing.T) {
		_, err := mgr.GetOrCreate(ctx, "   ", TypeStock)
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("unknown asset type is rejected", func(t *testing.T) {
		_, err := mgr.GetOrCreate(ctx, "AAPL", Type("derivative"))
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})
}

func TestGetOrCreate_Concurrent(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	mgr := NewManager(db)
	ctx := context.Background()

	const goroutines = 16

	var wg sync.WaitGroup
	ids := make([]int64, goroutines)
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := mgr.GetOrCreate(ctx, "EURUSD", TypeForex)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = a.ID
		}(i)
	}
	wg.Wait()

	// Every caller succeeds and converges on the same id
	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i], "goroutine %d", i)
		assert.Equal(t, ids[0], ids[i], "goroutine %d got a different asset id", i)
	}

	// Exactly one row exists
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM assets WHERE symbol = 'EURUSD' AND asset_type = 'forex'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGet(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	mgr := NewManager(db)
	ctx := context.Background()

	t.Run("missing asset is not found", func(t *testing.T) {
		_, err := mgr.Get(ctx, "NOPE", TypeStock)
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("round-trips created asset", func(t *testing.T) {
		created, err := mgr.GetOrCreate(ctx, "DGS10", TypeBond)
		require.NoError(t, err)

		got, err := mgr.Get(ctx, "DGS10", TypeBond)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, TypeBond, got.Type)
		assert.False(t, got.CreatedAt.IsZero())
	})
}

func TestGetByID(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	mgr := NewManager(db)
	ctx := context.Background()

	created, err := mgr.GetOrCreate(ctx, "CPIAUCSL", TypeEconomic)
	require.NoError(t, err)

	got, err := mgr.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "CPIAUCSL", got.Symbol)

	_, err = mgr.GetByID(ctx, 99999)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestList(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	mgr := NewManager(db)
	ctx := context.Background()

	assets, err := mgr.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, assets)

	_, err = mgr.GetOrCreate(ctx, "BTC-USD", TypeCrypto)
	require.NoError(t, err)
	_, err = mgr.GetOrCreate(ctx, "AAPL", TypeStock)
	require.NoError(t, err)

	assets, err = mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	// Ordered by symbol
	assert.Equal(t, "AAPL", assets[0].Symbol)
	assert.Equal(t, "BTC-USD", assets[1].Symbol)
}

func TestSetName(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	mgr := NewManager(db)
	ctx := context.Background()

	created, err := mgr.GetOrCreate(ctx, "AAPL", TypeStock)
	require.NoError(t, err)

	require.NoError(t, mgr.SetName(ctx, created.ID, "Apple Inc."))

	got, err := mgr.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", got.Name)

	err = mgr.SetName(ctx, 99999, "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestTypeTable(t *testing.T) {
	tests := []struct {
		typ   Type
		table string
	}{
		{TypeStock, "market_data"},
		{TypeCrypto, "market_data"},
		{TypeCommodity, "market_data"},
		{TypeForex, "forex_rates"},
		{TypeBond, "bond_rates"},
		{TypeEconomic, "economic_data"},
		{Type("derivative"), ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.table, tt.typ.Table(), "table for %s", tt.typ)
	}
}
