// Package asset keeps the registry of everything tidemark ingests data for.
// An asset is identified by its (symbol, asset_type) pair; the numeric id is
// internal and immutable once assigned.
package asset

import (
	"strings"
	"time"
)

// Type identifies the asset class. The class decides which observation
// table an asset's data lands in.
type Type string

const (
	TypeStock     Type = "stock"
	TypeCrypto    Type = "crypto"
	TypeCommodity Type = "commodity"
	TypeForex     Type = "forex"
	TypeBond      Type = "bond"
	TypeEconomic  Type = "economic"
)

var validTypes = map[Type]struct{}{
	TypeStock:     {},
	TypeCrypto:    {},
	TypeCommodity: {},
	TypeForex:     {},
	TypeBond:      {},
	TypeEconomic:  {},
}

// IsValidType reports whether t names a known asset class.
func IsValidType(t Type) bool {
	_, ok := validTypes[t]
	return ok
}

// ValidTypes returns all known asset classes in display order.
func ValidTypes() []Type {
	return []Type{TypeStock, TypeCrypto, TypeCommodity, TypeForex, TypeBond, TypeEconomic}
}

// Table returns the observation table rows of this class are written to.
// Empty string for unknown types.
func (t Type) Table() string {
	switch t {
	case TypeStock, TypeCrypto, TypeCommodity:
		return "market_data"
	case TypeForex:
		return "forex_rates"
	case TypeBond:
		return "bond_rates"
	case TypeEconomic:
		return "economic_data"
	}
	return ""
}

// Asset is one registered (symbol, asset_type) pair.
type Asset struct {
	ID        int64
	Symbol    string
	Type      Type
	Name      string
	CreatedAt time.Time
}

// NormalizeSymbol trims whitespace and uppercases a symbol so "aapl " and
// "AAPL" resolve to the same asset.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
