package provider

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"time"

	"github.com/fathomdata/tidemark/asset"
)

// SyntheticName is the provider key the synthetic collector registers under.
const SyntheticName = "synthetic"

// Synthetic generates deterministic price series without touching any
// upstream API. The same (symbol, day) always produces the same values, so
// repeated ingestion runs are reproducible end to end. Stock and commodity
// series emit business days only; crypto, forex, bond and economic series
// emit every calendar day.
type Synthetic struct{}

// NewSynthetic creates the offline data source
func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

// Collect implements Collector. Timestamps are UTC midnights within
// [req.Start, req.End).
func (s *Synthetic) Collect(ctx context.Context, req Request) ([]Record, error) {
	start := truncateDay(req.Start)
	end := truncateDay(req.End)

	var records []Record
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if skipsWeekends(req.AssetType) && isWeekend(day) {
			continue
		}

		records = append(records, Record{
			Timestamp: day,
			Values:    s.valuesAt(req.Symbol, req.AssetType, day),
		})
	}

	return records, nil
}

func (s *Synthetic) valuesAt(symbol string, assetType asset.Type, day time.Time) map[string]float64 {
	switch assetType {
	case asset.TypeStock, asset.TypeCrypto, asset.TypeCommodity:
		closePx := s.closeAt(symbol, day)
		openPx := s.closeAt(symbol, day.AddDate(0, 0, -1))
		high := math.Max(openPx, closePx) * (1 + 0.01*unitAt(symbol, day, "high"))
		low := math.Min(openPx, closePx) * (1 - 0.01*unitAt(symbol, day, "low"))
		volume := math.Floor(1e6 * (0.5 + unitAt(symbol, day, "volume")))
		return map[string]float64{
			"open":   round4(openPx),
			"high":   round4(high),
			"low":    round4(low),
			"close":  round4(closePx),
			"volume": volume,
		}
	case asset.TypeForex:
		rate := 0.5 + unitOf(symbol)*1.5
		rate *= 1 + 0.02*(unitAt(symbol, day, "rate")-0.5)
		return map[string]float64{"rate": round4(rate)}
	case asset.TypeBond:
		yield := 1.0 + unitOf(symbol)*5.0
		yield += 0.3 * (unitAt(symbol, day, "rate") - 0.5)
		return map[string]float64{"rate": round4(yield)}
	default:
		value := 50 + unitOf(symbol)*250
		value *= 1 + 0.01*(unitAt(symbol, day, "value")-0.5)
		return map[string]float64{"value": round4(value)}
	}
}

// closeAt is a slow seasonal drift plus per-day noise around a per-symbol
// base price. Pure function of (symbol, day).
func (s *Synthetic) closeAt(symbol string, day time.Time) float64 {
	base := 20 + unitOf(symbol)*500
	dayIndex := day.Unix() / 86400
	drift := math.Sin(float64(dayIndex)/9.0) * 0.2
	wiggle := (unitAt(symbol, day, "close") - 0.5) * 0.05
	return base * (1 + drift + wiggle)
}

// unitOf hashes a symbol to [0, 1).
func unitOf(symbol string) float64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return float64(h.Sum64()>>11) / float64(1<<53)
}

// unitAt hashes (symbol, day, salt) to [0, 1).
func unitAt(symbol string, day time.Time, salt string) float64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte{'|'})
	h.Write([]byte(salt))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(day.Unix()))
	h.Write(b[:])
	return float64(h.Sum64()>>11) / float64(1<<53)
}

func skipsWeekends(t asset.Type) bool {
	return t == asset.TypeStock || t == asset.TypeCommodity
}

func isWeekend(day time.Time) bool {
	wd := day.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
