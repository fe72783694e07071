package provider

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/fathomdata/tidemark/logger"
)

// RequestCoordinator deduplicates identical in-flight upstream requests and
// applies the provider rate limit before every real call. Concurrent
// requests with the same coalescing key consume one rate-limit token and
// one upstream call between them; every waiter receives the shared outcome,
// success or failure.
type RequestCoordinator struct {
	collector Collector
	limiter   *RateLimiter
	group     singleflight.Group
}

// NewRequestCoordinator wraps a collector with coalescing and rate limiting.
func NewRequestCoordinator(collector Collector, limiter *RateLimiter) *RequestCoordinator {
	return &RequestCoordinator{
		collector: collector,
		limiter:   limiter,
	}
}

// Collect fetches records for the request, sharing in-flight work by key.
// The returned slice is shared between coalesced callers and must be treated
// as read-only. No retry happens here: a rate-limit or upstream failure
// surfaces to every caller and the scheduler decides what to do with it.
func (c *RequestCoordinator) Collect(ctx context.Context, req Request) ([]Record, error) {
	key := req.Key()
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		if err := c.limiter.Acquire(ctx, req.Provider); err != nil {
			return nil, err
		}
		return c.collector.Collect(ctx, req)
	})

	if shared {
		logger.Debugw("Coalesced upstream request",
			"key", key,
			"provider", req.Provider)
	}

	if err != nil {
		return nil, err
	}
	return v.([]Record), nil
}
