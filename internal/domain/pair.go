// Package domain defines the core data structures shared by the trading
// operations services.
package domain

import "fmt"

// Pair is a spot trading pair.
type Pair struct {
	// Base is the traded asset symbol.
	Base string
	// Quote is the pricing/settlement currency symbol.
	Quote string
}

// Symbol returns the concatenated venue symbol, e.g. BTCUSDT.
func (p Pair) Symbol() string {
	return p.Base + p.Quote
}

// String returns the underscore-separated representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.Base, p.Quote)
}
