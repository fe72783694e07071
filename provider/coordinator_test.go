package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomdata/tidemark/asset"
	"github.com/fathomdata/tidemark/config"
	"github.com/fathomdata/tidemark/errors"
)

func testRequest(symbol string) Request {
	return Request{
		Provider:  "alpha",
		Symbol:    symbol,
		AssetType: asset.TypeStock,
		Start:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
	}
}

func TestCoordinator_CoalescesIdenticalRequests(t *testing.T) {
	var calls int32
	release := make(chan struct{})

	slow := CollectorFunc(func(ctx context.Context, req Request) ([]Record, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []Record{{
			Timestamp: req.Start,
			Values:    map[string]float64{"close": 100},
		}}, nil
	})

	rl := NewRateLimiter(limiterConfig(map[string]config.ProviderConfig{
		// One token total: coalesced callers must share it
		"alpha": {RequestsPerMinute: 0, Burst: 1, AcquireTimeoutSeconds: 1},
	}))
	coord := NewRequestCoordinator(slow, rl)

	const waiters = 8
	var wg sync.WaitGroup
	results := make([][]Record, waiters)
	errs := make([]error, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coord.Collect(context.Background(), testRequest("AAPL"))
		}(i)
	}

	// Let every waiter reach the coordinator before the flight completes
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "identical in-flight requests must share one upstream call")

	for i := 0; i < waiters; i++ {
		require.NoError(t, errs[i], "waiter %d", i)
		require.Len(t, results[i], 1, "waiter %d", i)
		assert.Equal(t, float64(100), results[i][0].Values["close"], "waiter %d", i)
	}
}

func TestCoordinator_DistinctKeysDoNotCoalesce(t *testing.T) {
	var calls int32
	collector := CollectorFunc(func(ctx context.Context, req Request) ([]Record, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})

	rl := NewRateLimiter(limiterConfig(map[string]config.ProviderConfig{
		"alpha": {RequestsPerMinute: 600, Burst: 10, AcquireTimeoutSeconds: 1},
	}))
	coord := NewRequestCoordinator(collector, rl)

	ctx := context.Background()
	_, err := coord.Collect(ctx, testRequest("AAPL"))
	require.NoError(t, err)
	_, err = coord.Collect(ctx, testRequest("MSFT"))
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCoordinator_RateLimitNeverBypassed(t *testing.T) {
	var calls int32
	collector := CollectorFunc(func(ctx context.Context, req Request) ([]Record, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})

	// Two tokens ever, zero refill
	rl := NewRateLimiter(limiterConfig(map[string]config.ProviderConfig{
		"alpha": {RequestsPerMinute: 0, Burst: 2, AcquireTimeoutSeconds: 1},
	}))
	coord := NewRequestCoordinator(collector, rl)

	const requests = 5
	var wg sync.WaitGroup
	errs := make([]error, requests)
	symbols := []string{"AAPL", "MSFT", "TSLA", "NVDA", "AMZN"}

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_, errs[i] = coord.Collect(ctx, testRequest(symbols[i]))
		}(i)
	}
	wg.Wait()

	// Exactly as many upstream calls as tokens; the rest fail rate-limited
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	var limited int
	for i := 0; i < requests; i++ {
		if errs[i] != nil {
			assert.True(t, errors.IsRateLimitedError(errs[i]), "request %d: %v", i, errs[i])
			limited++
		}
	}
	assert.Equal(t, 3, limited)
}

func TestCoordinator_SharesFailure(t *testing.T) {
	var calls int32
	release := make(chan struct{})

	failing := CollectorFunc(func(ctx context.Context, req Request) ([]Record, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil, errors.Mark(errors.New("upstream exploded"), errors.ErrCollection)
	})

	rl := NewRateLimiter(limiterConfig(map[string]config.ProviderConfig{
		"alpha": {RequestsPerMinute: 60, Burst: 5, AcquireTimeoutSeconds: 1},
	}))
	coord := NewRequestCoordinator(failing, rl)

	const waiters = 4
	var wg sync.WaitGroup
	errs := make([]error, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Collect(context.Background(), testRequest("AAPL"))
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < waiters; i++ {
		require.Error(t, errs[i], "waiter %d", i)
		assert.True(t, errors.IsCollectionError(errs[i]), "waiter %d", i)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	var gotProvider string
	reg.Register("alpha", CollectorFunc(func(ctx context.Context, req Request) ([]Record, error) {
		gotProvider = req.Provider
		return nil, nil
	}))

	t.Run("dispatches to registered collector", func(t *testing.T) {
		_, err := reg.Collect(context.Background(), testRequest("AAPL"))
		require.NoError(t, err)
		assert.Equal(t, "alpha", gotProvider)
	})

	t.Run("unregistered provider is a collection error", func(t *testing.T) {
		req := testRequest("AAPL")
		req.Provider = "ghost"
		_, err := reg.Collect(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.IsCollectionError(err))
	})

	t.Run("names are sorted", func(t *testing.T) {
		reg.Register("zeta", NewSynthetic())
		reg.Register("beta", NewSynthetic())
		assert.Equal(t, []string{"alpha", "beta", "zeta"}, reg.Names())
	})
}
