// Package lotsize normalizes raw order quantities into quantities that
// satisfy the venue's LOT_SIZE and MARKET_LOT_SIZE filters.
package lotsize

import (
	"github.com/shopspring/decimal"

	"github.com/dkruglov/flatten/internal/domain"
)

// Normalize adjusts raw into a venue-legal quantity for the given filters.
//
// The quantity is clamped to the effective max before step-quantization,
// floor-quantized to a multiple of LOT_SIZE's step using exact decimal
// arithmetic, and truncated to the precision implied by the step's fractional
// digits. A result below the effective min returns decimal.Zero: the
// "unfillable" sentinel, which is a distinct non-error outcome.
func Normalize(filters domain.SymbolFilters, raw decimal.Decimal, market bool) decimal.Decimal {
	if filters.LotSize == nil {
		return raw
	}

	minQty, maxQty := bounds(filters, market)

	qty := raw
	if maxQty.IsPositive() && qty.GreaterThan(maxQty) {
		qty = maxQty
	}

	step := filters.LotSize.StepSize
	if step.IsPositive() {
		qty = qty.Div(step).Floor().Mul(step)
		qty = qty.Truncate(StepPrecision(step))
	}

	if qty.LessThan(minQty) {
		return decimal.Zero
	}

	return qty
}

// MinQty returns the minimum quantity effective for an order of the given
// kind, or zero when no lot filter is known.
func MinQty(filters domain.SymbolFilters, market bool) decimal.Decimal {
	if filters.LotSize == nil {
		return decimal.Zero
	}
	minQty, _ := bounds(filters, market)
	return minQty
}

// StepPrecision returns the number of fractional digits carried by a step
// size after trailing zeros are stripped, e.g. "0.00100000" -> 3.
func StepPrecision(step decimal.Decimal) int32 {
	exp := step.Exponent()
	for exp < 0 && step.Truncate(-exp).Equal(step.Truncate(-exp-1)) {
		exp++
	}
	if exp >= 0 {
		return 0
	}
	return -exp
}

func bounds(filters domain.SymbolFilters, market bool) (minQty, maxQty decimal.Decimal) {
	if market {
		return filters.MarketBounds()
	}
	return filters.LotSize.MinQty, filters.LotSize.MaxQty
}
