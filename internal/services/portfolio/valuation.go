// Package portfolio values the account and maintains the portfolio history
// series with debounced writes, duplicate suppression and historical backfill.
package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/dkruglov/flatten/internal/domain"
)

// Valuation is the account's worth broken down per asset.
type Valuation struct {
	QuoteBalance float64
	TotalValue   float64
	Assets       map[string]domain.AssetDetail
}

// ComputeValue prices every balance in quote currency. Assets without a
// quote pair contribute zero value but still appear in the breakdown.
func ComputeValue(balances []domain.Balance, prices map[string]decimal.Decimal, quote string) Valuation {
	v := Valuation{Assets: make(map[string]domain.AssetDetail, len(balances))}

	for _, b := range balances {
		total := b.Total()
		var value decimal.Decimal

		if b.Asset == quote {
			value = total
			v.QuoteBalance = total.InexactFloat64()
		} else {
			pair := domain.Pair{Base: b.Asset, Quote: quote}.Symbol()
			if price, ok := prices[pair]; ok {
				value = total.Mul(price)
			}
		}

		v.TotalValue += value.InexactFloat64()
		v.Assets[b.Asset] = domain.AssetDetail{
			Quantity: total.InexactFloat64(),
			Value:    value.InexactFloat64(),
		}
	}

	return v
}
