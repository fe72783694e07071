package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/fathomdata/tidemark/config"
	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/logger"
)

// RateLimiter enforces per-provider request budgets. One token bucket per
// provider key, shared by every concurrently firing job in the process, so
// the aggregate request rate never exceeds the configured ceiling no matter
// how many jobs target the same provider.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      *config.Config
}

// NewRateLimiter creates a rate limiter drawing per-provider budgets from cfg.
// Limiters are created lazily on first Acquire for a provider key.
func NewRateLimiter(cfg *config.Config) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
	}
}

// limiterFor returns the bucket for a provider, creating it from config on
// first use. Callers must hold rl.mu.
func (rl *RateLimiter) limiterFor(provider string) *rate.Limiter {
	if l, ok := rl.limiters[provider]; ok {
		return l
	}

	p := rl.cfg.ProviderLimit(provider)
	l := rate.NewLimiter(rate.Limit(float64(p.RequestsPerMinute)/60.0), p.Burst)
	rl.limiters[provider] = l
	return l
}

// Acquire blocks until a request token is available for the provider or the
// wait deadline passes. The wait is bounded by the provider's configured
// acquire timeout and by ctx, whichever ends first; exceeding either maps to
// a rate-limited error. A provider configured with zero requests_per_minute
// and zero burst never grants tokens.
func (rl *RateLimiter) Acquire(ctx context.Context, provider string) error {
	rl.mu.Lock()
	l := rl.limiterFor(provider)
	timeout := rl.cfg.ProviderLimit(provider).AcquireTimeout()
	rl.mu.Unlock()

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := l.Wait(waitCtx); err != nil {
		return errors.Mark(
			errors.Wrapf(err, "rate limit wait for provider %q", provider),
			errors.ErrRateLimited)
	}

	return nil
}

// SetLimits applies a reloaded configuration to all live limiters and makes
// it the source for limiters created later. In-flight waiters see the new
// rate immediately.
func (rl *RateLimiter) SetLimits(cfg *config.Config) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cfg = cfg
	for provider, l := range rl.limiters {
		p := cfg.ProviderLimit(provider)
		newLimit := rate.Limit(float64(p.RequestsPerMinute) / 60.0)
		if l.Limit() != newLimit || l.Burst() != p.Burst {
			l.SetLimit(newLimit)
			l.SetBurst(p.Burst)
			logger.Infow("Applied provider rate limit",
				"provider", provider,
				"requests_per_minute", p.RequestsPerMinute,
				"burst", p.Burst)
		}
	}
}

// Providers returns the provider keys with live limiters, for stats output.
func (rl *RateLimiter) Providers() []string {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	keys := make([]string, 0, len(rl.limiters))
	for k := range rl.limiters {
		keys = append(keys, k)
	}
	return keys
}
