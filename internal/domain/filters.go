package domain

import "github.com/shopspring/decimal"

// LotFilter holds the quantity constraints of a single venue filter.
type LotFilter struct {
	StepSize decimal.Decimal
	MinQty   decimal.Decimal
	MaxQty   decimal.Decimal
}

// SymbolFilters is the per-pair set of trading constraints.
//
// LotSize governs quantization granularity for every order type.
// MarketLotSize, when present with a nonzero MaxQty, overrides the min/max
// bounds for market orders only.
type SymbolFilters struct {
	LotSize       *LotFilter
	MarketLotSize *LotFilter
}

// MarketBounds returns the (min, max) quantity bounds effective for a market
// order. A MarketLotSize filter with zero MaxQty falls back to LotSize bounds.
func (f SymbolFilters) MarketBounds() (minQty, maxQty decimal.Decimal) {
	if f.LotSize == nil {
		return decimal.Zero, decimal.Zero
	}
	if f.MarketLotSize != nil && f.MarketLotSize.MaxQty.IsPositive() {
		return f.MarketLotSize.MinQty, f.MarketLotSize.MaxQty
	}
	return f.LotSize.MinQty, f.LotSize.MaxQty
}
