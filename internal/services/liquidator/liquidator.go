// Package liquidator drives a spot account from "holds arbitrary assets and
// open orders" to "holds only quote currency", tolerating venue rejections
// and zero-liquidity conditions along the way.
package liquidator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dkruglov/flatten/internal/domain"
	"github.com/dkruglov/flatten/internal/journal"
	"github.com/dkruglov/flatten/internal/services/lotsize"
	"github.com/dkruglov/flatten/internal/venue"
)

const (
	// dustThresholdQuote separates sellable holdings from dust: anything
	// valued below this many quote units cannot be sold directly.
	dustThresholdQuote = 10

	// sweepBuyQuote is spent to lift a dust holding above the sellable
	// threshold, chosen to clear the 10-unit minimum with margin.
	sweepBuyQuote = 11

	// sellPacing spaces repeated submissions to the same pair so the venue's
	// matching reflects in subsequent reads. Correctness, not throttling.
	sellPacing = 300 * time.Millisecond

	// settleDelay follows a sweep buy before the balance is re-read.
	settleDelay = 500 * time.Millisecond
)

// Exchange is the order/account surface of the venue client.
type Exchange interface {
	AccountInfo(ctx context.Context) ([]domain.Balance, error)
	OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)
	PlaceOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
}

// Market supplies cached prices and filters. Invalidate drops cached venue
// state so reads made after the run reflect its fills.
type Market interface {
	Prices(ctx context.Context) (map[string]decimal.Decimal, error)
	Filters(ctx context.Context, symbol string) (domain.SymbolFilters, error)
	Invalidate()
}

// Sink receives the per-step activity trail of a run.
type Sink interface {
	Append(level journal.Level, message string) error
}

// Phase names the stage of the run an outcome belongs to.
type Phase string

const (
	PhaseCancel   Phase = "cancel"
	PhaseClassify Phase = "classify"
	PhaseSell     Phase = "sell"
	PhaseSweep    Phase = "sweep"
)

// Outcome is the terminal state of one asset within a run.
type Outcome string

const (
	OutcomeSold              Outcome = "sold"
	OutcomeSwept             Outcome = "swept"
	OutcomeNoLiquidity       Outcome = "no_liquidity"
	OutcomeUnpaired          Outcome = "unpaired"
	OutcomeInsufficientQuote Outcome = "insufficient_quote"
	OutcomeFailed            Outcome = "failed"
)

// AssetResult records what happened to one asset during the run.
type AssetResult struct {
	Asset   string
	Pair    string
	Phase   Phase
	Outcome Outcome
	SoldQty decimal.Decimal
	Detail  string
}

// Report summarizes a completed liquidation run.
type Report struct {
	CancelledOrders int
	Results         []AssetResult
}

type holding struct {
	asset string
	free  decimal.Decimal
	pair  string
}

// Liquidator orchestrates the multi-phase liquidation. A run is sequential
// and has no cancellation primitive once started: it completes or aborts on
// an unrecoverable fetch error.
type Liquidator struct {
	exchange Exchange
	market   Market
	quote    string
	log      *zap.Logger
	sink     Sink
	sleep    func(time.Duration)
}

// New creates a Liquidator selling everything into the given quote asset.
func New(exchange Exchange, market Market, quote string, log *zap.Logger, sink Sink) *Liquidator {
	return &Liquidator{
		exchange: exchange,
		market:   market,
		quote:    quote,
		log:      log,
		sink:     sink,
		sleep:    time.Sleep,
	}
}

// Run executes one full liquidation. Per-asset failures are recorded in the
// report and never abort siblings; only a failure of the pre-classification
// fetches (open orders, prices, balances) aborts the run.
func (l *Liquidator) Run(ctx context.Context) (Report, error) {
	var report Report

	l.step(journal.LevelWarning, "starting portfolio liquidation")

	cancelled, err := l.cancelOpenOrders(ctx)
	if err != nil {
		return report, err
	}
	report.CancelledOrders = cancelled

	sellable, dust, err := l.classify(ctx, &report)
	if err != nil {
		return report, err
	}

	dust = append(dust, l.sellAll(ctx, sellable, &report)...)
	l.sweepDust(ctx, dust, &report)

	l.market.Invalidate()
	l.step(journal.LevelSuccess, "portfolio liquidation complete")
	return report, nil
}

// cancelOpenOrders cancels every open order individually. A single cancel
// failure is logged and does not stop the remaining cancellations.
func (l *Liquidator) cancelOpenOrders(ctx context.Context) (int, error) {
	orders, err := l.exchange.OpenOrders(ctx, "")
	if err != nil {
		return 0, errors.Wrap(err, "failed to fetch open orders")
	}

	if len(orders) == 0 {
		l.step(journal.LevelInfo, "no open orders to cancel")
		return 0, nil
	}

	cancelled := 0
	for _, order := range orders {
		if err := l.exchange.CancelOrder(ctx, order.Symbol, order.OrderID); err != nil {
			l.log.Warn("failed to cancel order",
				zap.String("symbol", order.Symbol),
				zap.Int64("orderID", order.OrderID),
				zap.Error(err))
			continue
		}
		cancelled++
	}

	l.step(journal.LevelSuccess, fmt.Sprintf("cancelled %d open orders", cancelled))
	return cancelled, nil
}

// classify partitions non-quote holdings into sellable and dust by estimated
// value. Assets without a quote pair are recorded and skipped for the rest of
// the run.
func (l *Liquidator) classify(ctx context.Context, report *Report) (sellable, dust []holding, err error) {
	prices, err := l.market.Prices(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to fetch prices")
	}

	balances, err := l.exchange.AccountInfo(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to fetch balances")
	}

	threshold := decimal.NewFromInt(dustThresholdQuote)

	for _, b := range domain.NonZeroBalances(balances) {
		if b.Asset == l.quote || !b.Free.IsPositive() {
			continue
		}

		pair := domain.Pair{Base: b.Asset, Quote: l.quote}.Symbol()
		price, ok := prices[pair]
		if !ok {
			l.step(journal.LevelWarning, fmt.Sprintf("no %s pair for %s, skipping", l.quote, b.Asset))
			report.Results = append(report.Results, AssetResult{
				Asset: b.Asset, Phase: PhaseClassify, Outcome: OutcomeUnpaired,
				Detail: "no quote pair on venue",
			})
			continue
		}

		h := holding{asset: b.Asset, free: b.Free, pair: pair}
		if b.Free.Mul(price).GreaterThanOrEqual(threshold) {
			sellable = append(sellable, h)
		} else {
			dust = append(dust, h)
		}
	}

	l.step(journal.LevelInfo, fmt.Sprintf("classified %d sellable and %d dust assets", len(sellable), len(dust)))
	return sellable, dust, nil
}

// sellAll market-sells each sellable holding in batches. A single holding can
// exceed the venue's max lot size, so submissions repeat until the remainder
// is unfillable or liquidity runs out. Unfillable remainders come back as
// dust for the sweep phase.
func (l *Liquidator) sellAll(ctx context.Context, sellable []holding, report *Report) []holding {
	var becameDust []holding

	for _, h := range sellable {
		remaining := h.free
		sold := decimal.Zero

		filters, err := l.market.Filters(ctx, h.pair)
		if err != nil {
			l.step(journal.LevelError, fmt.Sprintf("failed to fetch filters for %s: %v", h.pair, err))
			report.Results = append(report.Results, AssetResult{
				Asset: h.asset, Pair: h.pair, Phase: PhaseSell, Outcome: OutcomeFailed,
				Detail: "filter fetch failed",
			})
			continue
		}
		minQty := lotsize.MinQty(filters, true)

		for {
			qty := lotsize.Normalize(filters, remaining, true)
			if qty.IsZero() {
				// remainder is unfillable, hand it to the dust sweep
				becameDust = append(becameDust, holding{asset: h.asset, free: remaining, pair: h.pair})
				if sold.IsPositive() {
					l.step(journal.LevelInfo, fmt.Sprintf("sold %s %s, remainder %s becomes dust",
						sold.String(), h.asset, remaining.String()))
					report.Results = append(report.Results, AssetResult{
						Asset: h.asset, Pair: h.pair, Phase: PhaseSell, Outcome: OutcomeSold,
						SoldQty: sold, Detail: "remainder reclassified as dust",
					})
				} else {
					l.step(journal.LevelInfo, fmt.Sprintf("%s too small to sell, reclassified as dust", h.asset))
				}
				break
			}

			res, err := l.exchange.PlaceOrder(ctx, domain.OrderIntent{
				Symbol:        h.pair,
				Side:          domain.SideSell,
				Type:          domain.TypeMarket,
				Quantity:      qty,
				ClientOrderID: newClientOrderID("sell"),
			})
			if err != nil {
				kind := venue.Classify(err)
				l.step(journal.LevelError, fmt.Sprintf("failed to sell %s: %s", h.asset, venue.Message(kind)))
				l.log.Warn("sell order rejected", zap.String("pair", h.pair), zap.Error(err))

				switch kind {
				case venue.KindNotional, venue.KindLotSize, venue.KindMarketLotSize:
					// venue disagrees the lot is sellable, treat it as dust
					becameDust = append(becameDust, holding{asset: h.asset, free: remaining, pair: h.pair})
				default:
					report.Results = append(report.Results, AssetResult{
						Asset: h.asset, Pair: h.pair, Phase: PhaseSell, Outcome: OutcomeFailed,
						SoldQty: sold, Detail: venue.Message(kind),
					})
				}
				break
			}

			if res.Status == "EXPIRED" || res.ExecutedQty.IsZero() {
				// nothing on the other side of the book, resubmitting won't help
				l.step(journal.LevelWarning, fmt.Sprintf("no liquidity selling %s, giving up", h.asset))
				report.Results = append(report.Results, AssetResult{
					Asset: h.asset, Pair: h.pair, Phase: PhaseSell, Outcome: OutcomeNoLiquidity,
					SoldQty: sold,
				})
				break
			}

			sold = sold.Add(res.ExecutedQty)
			remaining = remaining.Sub(res.ExecutedQty)
			l.step(journal.LevelSuccess, fmt.Sprintf("sold %s %s", res.ExecutedQty.String(), h.asset))

			if remaining.LessThanOrEqual(minQty) {
				report.Results = append(report.Results, AssetResult{
					Asset: h.asset, Pair: h.pair, Phase: PhaseSell, Outcome: OutcomeSold, SoldQty: sold,
				})
				break
			}

			l.sleep(sellPacing)
		}
	}

	return becameDust
}

// sweepDust lifts each dust holding above the sellable threshold with a fixed
// quote-currency buy, then sells the refreshed full balance. Failures on one
// asset never abort the loop; only running out of quote currency does.
func (l *Liquidator) sweepDust(ctx context.Context, dust []holding, report *Report) {
	if len(dust) == 0 {
		return
	}

	l.step(journal.LevelInfo, fmt.Sprintf("sweeping %d dust assets", len(dust)))
	buyAmount := decimal.NewFromInt(sweepBuyQuote)

	for _, h := range dust {
		quoteFree, err := l.freeBalance(ctx, l.quote)
		if err != nil {
			l.step(journal.LevelError, fmt.Sprintf("failed to read %s balance, stopping sweep: %v", l.quote, err))
			return
		}

		if quoteFree.LessThan(buyAmount) {
			l.step(journal.LevelWarning, fmt.Sprintf("insufficient %s (%s < %s), stopping dust sweep",
				l.quote, quoteFree.StringFixed(2), buyAmount.String()))
			report.Results = append(report.Results, AssetResult{
				Asset: h.asset, Pair: h.pair, Phase: PhaseSweep, Outcome: OutcomeInsufficientQuote,
			})
			return
		}

		buyRes, err := l.exchange.PlaceOrder(ctx, domain.OrderIntent{
			Symbol:        h.pair,
			Side:          domain.SideBuy,
			Type:          domain.TypeMarket,
			QuoteAmount:   buyAmount,
			ClientOrderID: newClientOrderID("sweep"),
		})
		if err != nil {
			kind := venue.Classify(err)
			l.step(journal.LevelError, fmt.Sprintf("failed to sweep %s: %s", h.asset, venue.Message(kind)))
			report.Results = append(report.Results, AssetResult{
				Asset: h.asset, Pair: h.pair, Phase: PhaseSweep, Outcome: OutcomeFailed,
				Detail: venue.Message(kind),
			})
			continue
		}
		if buyRes.ExecutedQty.IsZero() {
			l.step(journal.LevelWarning, fmt.Sprintf("no liquidity buying %s, skipping sweep", h.asset))
			report.Results = append(report.Results, AssetResult{
				Asset: h.asset, Pair: h.pair, Phase: PhaseSweep, Outcome: OutcomeNoLiquidity,
			})
			continue
		}

		l.step(journal.LevelInfo, fmt.Sprintf("bought ~%s %s of %s to enable sell",
			buyAmount.String(), l.quote, h.asset))
		l.sleep(settleDelay)

		assetFree, err := l.freeBalance(ctx, h.asset)
		if err != nil {
			l.step(journal.LevelError, fmt.Sprintf("failed to refresh %s balance: %v", h.asset, err))
			report.Results = append(report.Results, AssetResult{
				Asset: h.asset, Pair: h.pair, Phase: PhaseSweep, Outcome: OutcomeFailed,
				Detail: "balance refresh failed",
			})
			continue
		}

		filters, err := l.market.Filters(ctx, h.pair)
		if err != nil {
			l.step(journal.LevelError, fmt.Sprintf("failed to fetch filters for %s: %v", h.pair, err))
			report.Results = append(report.Results, AssetResult{
				Asset: h.asset, Pair: h.pair, Phase: PhaseSweep, Outcome: OutcomeFailed,
				Detail: "filter fetch failed",
			})
			continue
		}

		qty := lotsize.Normalize(filters, assetFree, true)
		if qty.IsZero() {
			l.step(journal.LevelError, fmt.Sprintf("failed to sweep %s: adjusted quantity is zero", h.asset))
			report.Results = append(report.Results, AssetResult{
				Asset: h.asset, Pair: h.pair, Phase: PhaseSweep, Outcome: OutcomeFailed,
				Detail: "adjusted quantity is zero",
			})
			continue
		}

		sellRes, err := l.exchange.PlaceOrder(ctx, domain.OrderIntent{
			Symbol:        h.pair,
			Side:          domain.SideSell,
			Type:          domain.TypeMarket,
			Quantity:      qty,
			ClientOrderID: newClientOrderID("sweep"),
		})
		switch {
		case err != nil:
			kind := venue.Classify(err)
			l.step(journal.LevelError, fmt.Sprintf("failed to sweep %s: %s", h.asset, venue.Message(kind)))
			report.Results = append(report.Results, AssetResult{
				Asset: h.asset, Pair: h.pair, Phase: PhaseSweep, Outcome: OutcomeFailed,
				Detail: venue.Message(kind),
			})
		case sellRes.Status == "EXPIRED" || sellRes.ExecutedQty.IsZero():
			l.step(journal.LevelWarning, fmt.Sprintf("no liquidity selling swept %s", h.asset))
			report.Results = append(report.Results, AssetResult{
				Asset: h.asset, Pair: h.pair, Phase: PhaseSweep, Outcome: OutcomeNoLiquidity,
			})
		default:
			l.step(journal.LevelSuccess, fmt.Sprintf("swept dust: sold %s %s", qty.String(), h.asset))
			report.Results = append(report.Results, AssetResult{
				Asset: h.asset, Pair: h.pair, Phase: PhaseSweep, Outcome: OutcomeSwept,
				SoldQty: sellRes.ExecutedQty,
			})
		}
	}
}

func (l *Liquidator) freeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := l.exchange.AccountInfo(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b.Free, nil
		}
	}
	return decimal.Zero, nil
}

func (l *Liquidator) step(level journal.Level, message string) {
	l.log.Info(message, zap.String("level", string(level)))
	if l.sink == nil {
		return
	}
	if err := l.sink.Append(level, message); err != nil {
		l.log.Warn("failed to journal activity", zap.Error(err))
	}
}

func newClientOrderID(phase string) string {
	return fmt.Sprintf("flt-%s-%s", phase, uuid.NewString()[:8])
}
