// Package clients adapts the Binance spot API to the typed records the
// services consume. Venue responses are validated and converted once at this
// boundary instead of propagating untyped maps upward.
package clients

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/dkruglov/flatten/internal/domain"
)

// BinanceClient wraps the spot REST client for one account on one venue.
type BinanceClient struct {
	client *binance.Client
}

// NewBinanceClient creates a client against the given base URL (the spot
// testnet by default).
func NewBinanceClient(apiKey, apiSecret, baseURL string) *BinanceClient {
	client := binance.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceClient{client: client}
}

// AccountInfo returns all asset balances on the account.
func (c *BinanceClient) AccountInfo(ctx context.Context) ([]domain.Balance, error) {
	account, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch account info")
	}

	balances := make([]domain.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse free balance for %s", b.Asset)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse locked balance for %s", b.Asset)
		}
		balances = append(balances, domain.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}

	return balances, nil
}

// AllPrices returns the current price of every trading pair.
func (c *BinanceClient) AllPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	tickers, err := c.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch ticker prices")
	}

	prices := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse price for %s", t.Symbol)
		}
		prices[t.Symbol] = price
	}

	return prices, nil
}

// SymbolFilters returns the lot size constraints of one trading pair.
func (c *BinanceClient) SymbolFilters(ctx context.Context, symbol string) (domain.SymbolFilters, error) {
	info, err := c.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.SymbolFilters{}, errors.Wrapf(err, "failed to fetch exchange info for %s", symbol)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}

		var filters domain.SymbolFilters
		if lot := s.LotSizeFilter(); lot != nil {
			parsed, err := parseLotFilter(lot.StepSize, lot.MinQuantity, lot.MaxQuantity)
			if err != nil {
				return domain.SymbolFilters{}, errors.Wrapf(err, "bad LOT_SIZE filter for %s", symbol)
			}
			filters.LotSize = parsed
		}
		if mlot := s.MarketLotSizeFilter(); mlot != nil {
			parsed, err := parseLotFilter(mlot.StepSize, mlot.MinQuantity, mlot.MaxQuantity)
			if err != nil {
				return domain.SymbolFilters{}, errors.Wrapf(err, "bad MARKET_LOT_SIZE filter for %s", symbol)
			}
			filters.MarketLotSize = parsed
		}
		return filters, nil
	}

	return domain.SymbolFilters{}, errors.Errorf("symbol %s not found in exchange info", symbol)
}

// OpenOrders returns open orders, optionally filtered by symbol.
func (c *BinanceClient) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	svc := c.client.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch open orders")
	}
	return convertOrders(orders), nil
}

// AllOrders returns the order history of one symbol. Lookups degrade to an
// empty list on venue errors rather than failing the caller's page.
func (c *BinanceClient) AllOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	orders, err := c.client.NewListOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return []domain.Order{}, nil
	}
	return convertOrders(orders), nil
}

// PlaceOrder submits an order to the venue. Logical validation errors are
// rejected before any network call.
func (c *BinanceClient) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderResult, error) {
	if intent.Type == domain.TypeLimit && !intent.Price.IsPositive() {
		return domain.OrderResult{}, errors.New("limit order requires a positive price")
	}
	if intent.Quantity.IsPositive() == intent.QuoteAmount.IsPositive() {
		return domain.OrderResult{}, errors.New("exactly one of quantity or quote amount must be set")
	}

	// The venue accepts quoteOrderQty on market orders only; a limit order
	// given by total converts to quantity at the limit price.
	if intent.Type == domain.TypeLimit && intent.QuoteAmount.IsPositive() {
		intent.Quantity = intent.QuoteAmount.Div(intent.Price)
		intent.QuoteAmount = decimal.Zero
	}

	svc := c.client.NewCreateOrderService().
		Symbol(intent.Symbol).
		Side(binance.SideType(intent.Side)).
		Type(binance.OrderType(intent.Type))

	if intent.Quantity.IsPositive() {
		svc = svc.Quantity(intent.Quantity.String())
	} else {
		svc = svc.QuoteOrderQty(intent.QuoteAmount.String())
	}

	if intent.Type == domain.TypeLimit {
		tif := intent.TimeInForce
		if tif == "" {
			tif = string(binance.TimeInForceTypeGTC)
		}
		svc = svc.TimeInForce(binance.TimeInForceType(tif)).Price(intent.Price.String())
	}

	if intent.ClientOrderID != "" {
		svc = svc.NewClientOrderID(intent.ClientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return domain.OrderResult{}, errors.Wrapf(err, "failed to place %s %s order for %s",
			intent.Side, intent.Type, intent.Symbol)
	}

	executed, err := decimal.NewFromString(resp.ExecutedQuantity)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to parse executed quantity")
	}
	quote, err := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to parse cumulative quote quantity")
	}

	return domain.OrderResult{
		OrderID:         resp.OrderID,
		Status:          string(resp.Status),
		ExecutedQty:     executed,
		CumulativeQuote: quote,
	}, nil
}

// CancelOrder cancels one order by id.
func (c *BinanceClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := c.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to cancel order %d on %s", orderID, symbol)
	}
	return nil
}

// HistoricalPrices returns the close price of each symbol for the candle
// covering the given unix timestamp.
func (c *BinanceClient) HistoricalPrices(ctx context.Context, symbols []string, ts int64) (map[string]float64, error) {
	prices := make(map[string]float64, len(symbols))

	for _, symbol := range symbols {
		klines, err := c.client.NewKlinesService().
			Symbol(symbol).
			Interval("1h").
			StartTime(ts * 1000).
			Limit(1).
			Do(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch klines for %s at %s",
				symbol, time.Unix(ts, 0).UTC().Format(time.RFC3339))
		}
		if len(klines) == 0 {
			continue
		}

		closePrice, err := decimal.NewFromString(klines[0].Close)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse close price for %s", symbol)
		}
		prices[symbol] = closePrice.InexactFloat64()
	}

	return prices, nil
}

func parseLotFilter(step, minQty, maxQty string) (*domain.LotFilter, error) {
	stepDec, err := decimal.NewFromString(step)
	if err != nil {
		return nil, errors.Wrap(err, "bad step size")
	}
	minDec, err := decimal.NewFromString(minQty)
	if err != nil {
		return nil, errors.Wrap(err, "bad min quantity")
	}
	maxDec, err := decimal.NewFromString(maxQty)
	if err != nil {
		return nil, errors.Wrap(err, "bad max quantity")
	}
	return &domain.LotFilter{StepSize: stepDec, MinQty: minDec, MaxQty: maxDec}, nil
}

func convertOrders(orders []*binance.Order) []domain.Order {
	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		price, _ := decimal.NewFromString(o.Price)
		qty, _ := decimal.NewFromString(o.OrigQuantity)
		out = append(out, domain.Order{
			Symbol:  o.Symbol,
			OrderID: o.OrderID,
			Side:    string(o.Side),
			Type:    string(o.Type),
			Status:  string(o.Status),
			Price:   price,
			OrigQty: qty,
		})
	}
	return out
}
