package domain

import "github.com/shopspring/decimal"

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the execution type of an order.
type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

// OrderIntent describes an order to submit. Exactly one of Quantity or
// QuoteAmount is meaningful per call; Price applies to limit orders only.
type OrderIntent struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	QuoteAmount   decimal.Decimal
	Price         decimal.Decimal
	TimeInForce   string
	ClientOrderID string
}

// OrderResult is the venue's response to a submitted order.
type OrderResult struct {
	OrderID         int64
	Status          string
	ExecutedQty     decimal.Decimal
	CumulativeQuote decimal.Decimal
}

// Order is an existing order on the venue, as returned by open/all order reads.
type Order struct {
	Symbol  string          `json:"symbol"`
	OrderID int64           `json:"order_id"`
	Side    string          `json:"side"`
	Type    string          `json:"type"`
	Status  string          `json:"status"`
	Price   decimal.Decimal `json:"price"`
	OrigQty decimal.Decimal `json:"orig_qty"`
}
