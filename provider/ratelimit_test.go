package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomdata/tidemark/config"
	"github.com/fathomdata/tidemark/errors"
)

func limiterConfig(providers map[string]config.ProviderConfig) *config.Config {
	return &config.Config{Providers: providers}
}

func TestRateLimiter_Acquire(t *testing.T) {
	t.Run("burst tokens grant immediately", func(t *testing.T) {
		rl := NewRateLimiter(limiterConfig(map[string]config.ProviderConfig{
			"alpha": {RequestsPerMinute: 60, Burst: 3, AcquireTimeoutSeconds: 1},
		}))

		ctx := context.Background()
		for i := 0; i < 3; i++ {
			require.NoError(t, rl.Acquire(ctx, "alpha"), "token %d", i)
		}
	})

	t.Run("exhausted bucket fails within deadline", func(t *testing.T) {
		// Zero refill rate: only the burst tokens ever exist
		rl := NewRateLimiter(limiterConfig(map[string]config.ProviderConfig{
			"alpha": {RequestsPerMinute: 0, Burst: 1, AcquireTimeoutSeconds: 1},
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		require.NoError(t, rl.Acquire(ctx, "alpha"))

		err := rl.Acquire(ctx, "alpha")
		require.Error(t, err)
		assert.True(t, errors.IsRateLimitedError(err))
	})

	t.Run("blocked provider never grants", func(t *testing.T) {
		rl := NewRateLimiter(limiterConfig(map[string]config.ProviderConfig{
			"dead": {RequestsPerMinute: 0, Burst: 0, AcquireTimeoutSeconds: 1},
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err := rl.Acquire(ctx, "dead")
		require.Error(t, err)
		assert.True(t, errors.IsRateLimitedError(err))
	})

	t.Run("unknown provider inherits default budget", func(t *testing.T) {
		rl := NewRateLimiter(limiterConfig(map[string]config.ProviderConfig{
			"default": {RequestsPerMinute: 60, Burst: 2, AcquireTimeoutSeconds: 1},
		}))

		ctx := context.Background()
		require.NoError(t, rl.Acquire(ctx, "never-configured"))
		require.NoError(t, rl.Acquire(ctx, "never-configured"))
	})

	t.Run("canceled context maps to rate limited", func(t *testing.T) {
		rl := NewRateLimiter(limiterConfig(map[string]config.ProviderConfig{
			"alpha": {RequestsPerMinute: 0, Burst: 0, AcquireTimeoutSeconds: 30},
		}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := rl.Acquire(ctx, "alpha")
		require.Error(t, err)
		assert.True(t, errors.IsRateLimitedError(err))
	})
}

func TestRateLimiter_SetLimits(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(map[string]config.ProviderConfig{
		"alpha": {RequestsPerMinute: 0, Burst: 0, AcquireTimeoutSeconds: 1},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Blocked under the initial config
	err := rl.Acquire(ctx, "alpha")
	require.Error(t, err)

	// Hot reload opens the budget; the live limiter picks it up
	rl.SetLimits(limiterConfig(map[string]config.ProviderConfig{
		"alpha": {RequestsPerMinute: 60, Burst: 2, AcquireTimeoutSeconds: 1},
	}))

	require.NoError(t, rl.Acquire(context.Background(), "alpha"))
}

func TestRateLimiter_Providers(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(map[string]config.ProviderConfig{
		"default": {RequestsPerMinute: 60, Burst: 5, AcquireTimeoutSeconds: 1},
	}))

	assert.Empty(t, rl.Providers())

	require.NoError(t, rl.Acquire(context.Background(), "alpha"))
	require.NoError(t, rl.Acquire(context.Background(), "beta"))

	assert.ElementsMatch(t, []string{"alpha", "beta"}, rl.Providers())
}
