package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dkruglov/flatten/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *BinanceClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewBinanceClient("key", "secret", server.URL)
}

func TestAllOrdersDegradesToEmptyOnVenueError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-2013,"msg":"Order does not exist."}`)
	})

	orders, err := client.AllOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Empty(t, orders)
	require.NotNil(t, orders, "history degrades to an empty list, not nil")
}

func TestOpenOrdersPropagatesVenueError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1021,"msg":"Timestamp out of recv window."}`)
	})

	_, err := client.OpenOrders(context.Background(), "")
	require.Error(t, err)
}

func TestAllOrdersParsesHistory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","orderId":42,"price":"100.5","origQty":"0.25",
			"executedQty":"0.25","status":"FILLED","timeInForce":"GTC","type":"LIMIT","side":"BUY"}]`)
	})

	orders, err := client.AllOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, int64(42), orders[0].OrderID)
	require.Equal(t, "FILLED", orders[0].Status)
	require.True(t, orders[0].Price.Equal(decimal.RequireFromString("100.5")))
	require.True(t, orders[0].OrigQty.Equal(decimal.RequireFromString("0.25")))
}

func TestPlaceOrderLimitByTotalConvertsToQuantity(t *testing.T) {
	var form map[string][]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.Form
		fmt.Fprint(w, `{"symbol":"BTCUSDT","orderId":7,"status":"NEW","executedQty":"0","cummulativeQuoteQty":"0"}`)
	})

	res, err := client.PlaceOrder(context.Background(), domain.OrderIntent{
		Symbol:      "BTCUSDT",
		Side:        domain.SideBuy,
		Type:        domain.TypeLimit,
		QuoteAmount: decimal.RequireFromString("25"),
		Price:       decimal.RequireFromString("100"),
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), res.OrderID)

	require.Equal(t, []string{"0.25"}, form["quantity"])
	require.Equal(t, []string{"100"}, form["price"])
	require.NotContains(t, form, "quoteOrderQty")
}

func TestPlaceOrderRejectsAmbiguousIntent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no network call expected")
	})

	_, err := client.PlaceOrder(context.Background(), domain.OrderIntent{
		Symbol:      "BTCUSDT",
		Side:        domain.SideSell,
		Type:        domain.TypeMarket,
		Quantity:    decimal.RequireFromString("1"),
		QuoteAmount: decimal.RequireFromString("10"),
	})
	require.Error(t, err)

	_, err = client.PlaceOrder(context.Background(), domain.OrderIntent{
		Symbol: "BTCUSDT",
		Side:   domain.SideSell,
		Type:   domain.TypeMarket,
	})
	require.Error(t, err)

	_, err = client.PlaceOrder(context.Background(), domain.OrderIntent{
		Symbol:   "BTCUSDT",
		Side:     domain.SideBuy,
		Type:     domain.TypeLimit,
		Quantity: decimal.RequireFromString("1"),
	})
	require.Error(t, err, "limit order without a price is rejected")
}
