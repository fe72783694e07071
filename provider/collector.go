// Package provider fronts every upstream market-data source. A Collector is
// the minimal fetch capability; the coordinator layers request coalescing
// and per-provider rate limiting on top so concurrently firing jobs cannot
// stampede an upstream API.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/fathomdata/tidemark/asset"
)

// Record is one raw observation from a provider: a timestamp plus named
// numeric fields. Which fields are required is decided later, per asset
// class, by the schema mapper.
type Record struct {
	Timestamp time.Time
	Values    map[string]float64
}

// Request identifies one upstream fetch over a closed-open time range.
type Request struct {
	Provider  string
	Symbol    string
	AssetType asset.Type
	Start     time.Time
	End       time.Time
}

// Key returns the coalescing key for this request. Two requests with equal
// keys share a single upstream call when in flight together.
func (r Request) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d|%d",
		r.Provider, r.Symbol, r.AssetType, r.Start.Unix(), r.End.Unix())
}

// Collector fetches raw records for a symbol over [Start, End).
// Implementations must honor ctx cancellation.
type Collector interface {
	Collect(ctx context.Context, req Request) ([]Record, error)
}

// CollectorFunc adapts a plain function to the Collector interface.
type CollectorFunc func(ctx context.Context, req Request) ([]Record, error)

// Collect implements Collector.
func (f CollectorFunc) Collect(ctx context.Context, req Request) ([]Record, error) {
	return f(ctx, req)
}
