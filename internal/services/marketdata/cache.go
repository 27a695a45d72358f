// Package marketdata memoizes venue read calls behind per-kind TTLs so that
// the services share one consistent view of prices, balances and filters
// without hammering the REST API.
package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dkruglov/flatten/internal/domain"
	"github.com/dkruglov/flatten/pkg/retrier"
)

const (
	pricesTTL  = 10 * time.Second
	accountTTL = 10 * time.Second
	filtersTTL = 10 * time.Minute
)

// Client is the venue read surface the cache memoizes.
type Client interface {
	AccountInfo(ctx context.Context) ([]domain.Balance, error)
	AllPrices(ctx context.Context) (map[string]decimal.Decimal, error)
	SymbolFilters(ctx context.Context, symbol string) (domain.SymbolFilters, error)
}

type pricesEntry struct {
	prices    map[string]decimal.Decimal
	fetchedAt time.Time
}

type accountEntry struct {
	balances  []domain.Balance
	fetchedAt time.Time
}

type filtersEntry struct {
	filters   domain.SymbolFilters
	fetchedAt time.Time
}

// Cache is a read-through cache over the venue client. The pipeline itself is
// sequential; the mutex only covers dashboard reads racing the snapshot loop.
type Cache struct {
	client  Client
	retrier *retrier.Retrier
	now     func() time.Time

	mu      sync.Mutex
	prices  *pricesEntry
	account *accountEntry
	filters map[string]filtersEntry
}

// NewCache creates a cache over the given client.
func NewCache(client Client) *Cache {
	return &Cache{
		client:  client,
		retrier: retrier.New(),
		now:     time.Now,
		filters: make(map[string]filtersEntry),
	}
}

// Prices returns the current price map, refreshing it when stale.
func (c *Cache) Prices(ctx context.Context) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prices != nil && c.now().Sub(c.prices.fetchedAt) < pricesTTL {
		return c.prices.prices, nil
	}

	prices, err := retrier.DoWithData(c.retrier, ctx, c.client.AllPrices)
	if err != nil {
		return nil, err
	}

	c.prices = &pricesEntry{prices: prices, fetchedAt: c.now()}
	return prices, nil
}

// Balances returns the account balances, refreshing them when stale.
func (c *Cache) Balances(ctx context.Context) ([]domain.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.account != nil && c.now().Sub(c.account.fetchedAt) < accountTTL {
		return c.account.balances, nil
	}

	balances, err := retrier.DoWithData(c.retrier, ctx, c.client.AccountInfo)
	if err != nil {
		return nil, err
	}

	c.account = &accountEntry{balances: balances, fetchedAt: c.now()}
	return balances, nil
}

// Filters returns the lot filters of one symbol, cached per symbol.
func (c *Cache) Filters(ctx context.Context, symbol string) (domain.SymbolFilters, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.filters[symbol]; ok && c.now().Sub(entry.fetchedAt) < filtersTTL {
		return entry.filters, nil
	}

	filters, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (domain.SymbolFilters, error) {
		return c.client.SymbolFilters(ctx, symbol)
	})
	if err != nil {
		return domain.SymbolFilters{}, err
	}

	c.filters[symbol] = filtersEntry{filters: filters, fetchedAt: c.now()}
	return filters, nil
}

// Invalidate drops the cached prices and balances so the next read hits the
// venue. Filters survive invalidation, trading rules change rarely.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices = nil
	c.account = nil
}
