package ingest

import (
	"math"
	"time"

	"github.com/fathomdata/tidemark/asset"
	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/provider"
)

// TableSpec describes the insert shape of one observation table: the data
// columns that follow (asset_id, ts).
type TableSpec struct {
	Table   string
	Columns []string
}

// Row is one mapped observation. Args holds the column values in TableSpec
// order; optional columns that were absent are nil.
type Row struct {
	Ts   time.Time
	Args []interface{}
}

// Mapper translates raw provider records into observation-table rows.
// It is pure and stateless: the same (asset type, record) always maps to
// the same row or the same validation error.
type Mapper struct{}

// NewMapper creates the schema mapper
func NewMapper() *Mapper {
	return &Mapper{}
}

// Spec returns the target table shape for an asset class.
func (m *Mapper) Spec(assetType asset.Type) (TableSpec, error) {
	switch assetType {
	case asset.TypeStock, asset.TypeCrypto, asset.TypeCommodity:
		return TableSpec{
			Table:   "market_data",
			Columns: []string{"open", "high", "low", "close", "volume"},
		}, nil
	case asset.TypeForex:
		return TableSpec{Table: "forex_rates", Columns: []string{"rate"}}, nil
	case asset.TypeBond:
		return TableSpec{Table: "bond_rates", Columns: []string{"rate"}}, nil
	case asset.TypeEconomic:
		return TableSpec{Table: "economic_data", Columns: []string{"value"}}, nil
	}
	return TableSpec{}, errors.NewValidationError("unknown asset type %q", assetType)
}

// Map validates a raw record and shapes it for the asset class's table.
// A validation failure drops only this record: the caller counts it and
// moves on.
func (m *Mapper) Map(assetType asset.Type, rec provider.Record) (Row, error) {
	if rec.Timestamp.IsZero() {
		return Row{}, errors.NewValidationError("record has no timestamp")
	}
	ts := TruncateDay(rec.Timestamp)

	switch assetType {
	case asset.TypeStock, asset.TypeCrypto, asset.TypeCommodity:
		return mapMarket(ts, rec)
	case asset.TypeForex, asset.TypeBond:
		return mapRate(ts, rec)
	case asset.TypeEconomic:
		return mapValue(ts, rec)
	}
	return Row{}, errors.NewValidationError("unknown asset type %q", assetType)
}

func mapMarket(ts time.Time, rec provider.Record) (Row, error) {
	closePx, ok := rec.Values["close"]
	if !ok {
		return Row{}, errors.NewValidationError("market record at %s missing close", ts.Format("2006-01-02"))
	}
	if !isFinite(closePx) || closePx <= 0 {
		return Row{}, errors.NewValidationError("market record at %s has invalid close %v", ts.Format("2006-01-02"), closePx)
	}

	// open/high/low/volume are optional but must be sane when present
	args := make([]interface{}, 5)
	args[3] = closePx

	var high, low float64
	var hasHigh, hasLow bool
	if v, ok := rec.Values["open"]; ok {
		if !isFinite(v) || v <= 0 {
			return Row{}, errors.NewValidationError("market record at %s has invalid open %v", ts.Format("2006-01-02"), v)
		}
		args[0] = v
	}
	if v, ok := rec.Values["high"]; ok {
		if !isFinite(v) || v <= 0 {
			return Row{}, errors.NewValidationError("market record at %s has invalid high %v", ts.Format("2006-01-02"), v)
		}
		args[1] = v
		high, hasHigh = v, true
	}
	if v, ok := rec.Values["low"]; ok {
		if !isFinite(v) || v <= 0 {
			return Row{}, errors.NewValidationError("market record at %s has invalid low %v", ts.Format("2006-01-02"), v)
		}
		args[2] = v
		low, hasLow = v, true
	}
	if hasHigh && hasLow && high < low {
		return Row{}, errors.NewValidationError("market record at %s has high %v below low %v", ts.Format("2006-01-02"), high, low)
	}
	if v, ok := rec.Values["volume"]; ok {
		if !isFinite(v) || v < 0 {
			return Row{}, errors.NewValidationError("market record at %s has invalid volume %v", ts.Format("2006-01-02"), v)
		}
		args[4] = int64(v)
	}

	return Row{Ts: ts, Args: args}, nil
}

func mapRate(ts time.Time, rec provider.Record) (Row, error) {
	rate, ok := rec.Values["rate"]
	if !ok {
		return Row{}, errors.NewValidationError("rate record at %s missing rate", ts.Format("2006-01-02"))
	}
	// Bond yields can legitimately go negative; only non-finite is invalid
	if !isFinite(rate) {
		return Row{}, errors.NewValidationError("rate record at %s has invalid rate %v", ts.Format("2006-01-02"), rate)
	}

	return Row{Ts: ts, Args: []interface{}{rate}}, nil
}

func mapValue(ts time.Time, rec provider.Record) (Row, error) {
	value, ok := rec.Values["value"]
	if !ok {
		return Row{}, errors.NewValidationError("indicator record at %s missing value", ts.Format("2006-01-02"))
	}
	if !isFinite(value) {
		return Row{}, errors.NewValidationError("indicator record at %s has invalid value %v", ts.Format("2006-01-02"), value)
	}

	return Row{Ts: ts, Args: []interface{}{value}}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
