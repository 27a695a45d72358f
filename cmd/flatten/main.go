package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dkruglov/flatten/config"
	"github.com/dkruglov/flatten/dashboard"
	"github.com/dkruglov/flatten/internal/clients"
	"github.com/dkruglov/flatten/internal/journal"
	"github.com/dkruglov/flatten/internal/services/liquidator"
	"github.com/dkruglov/flatten/internal/services/marketdata"
	"github.com/dkruglov/flatten/internal/services/portfolio"
	"github.com/dkruglov/flatten/internal/storage"
)

const retentionDays = 365

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Get()
	if err != nil {
		logger.Fatal("failed to get configuration", zap.Error(err))
	}

	client := clients.NewBinanceClient(cfg.APIKey, cfg.APISecret, cfg.BaseURL)
	cache := marketdata.NewCache(client)

	jnl, err := journal.New(cfg.JournalDir)
	if err != nil {
		logger.Fatal("failed to open activity journal", zap.Error(err))
	}
	defer jnl.Close()

	history := portfolio.NewHistory(storage.NewJSONFile(cfg.HistoryPath), client, cfg.QuoteAsset, logger, time.Local)
	liq := liquidator.New(client, cache, cfg.QuoteAsset, logger, jnl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Liquidate {
		report, err := liq.Run(ctx)
		if err != nil {
			logger.Fatal("liquidation failed", zap.Error(err))
		}
		logger.Info("liquidation finished",
			zap.Int("cancelled_orders", report.CancelledOrders),
			zap.Int("assets_processed", len(report.Results)))
		return
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return snapshotLoop(ctx, cache, history, cfg.QuoteAsset, cfg.SnapshotRefresh, logger)
	})

	g.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if removed := history.PruneOldData(retentionDays); removed > 0 {
					logger.Info("pruned old snapshots", zap.Int("removed", removed))
				}
			}
		}
	})

	server := dashboard.NewServer(cfg.DashboardAddr, history, liq, client, jnl, logger)
	g.Go(func() error {
		if len(cfg.TLSDomains) > 0 {
			return server.StartWithAutoTLS(ctx, cfg.TLSDomains, cfg.TLSCacheDir)
		}
		return server.Start(ctx)
	})

	logger.Info("started",
		zap.String("addr", cfg.DashboardAddr),
		zap.String("quote", cfg.QuoteAsset),
		zap.String("base_url", cfg.BaseURL))

	if err := g.Wait(); err != nil {
		logger.Fatal("terminated", zap.Error(err))
	}
}

// snapshotLoop periodically values the account and records a live snapshot.
// A failed cycle is logged and retried on the next tick.
func snapshotLoop(ctx context.Context, cache *marketdata.Cache, history *portfolio.History,
	quote string, refresh time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		if err := recordSnapshot(ctx, cache, history, quote); err != nil {
			logger.Warn("snapshot cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func recordSnapshot(ctx context.Context, cache *marketdata.Cache, history *portfolio.History, quote string) error {
	balances, err := cache.Balances(ctx)
	if err != nil {
		return err
	}
	prices, err := cache.Prices(ctx)
	if err != nil {
		return err
	}

	v := portfolio.ComputeValue(balances, prices, quote)
	history.UpdateHoldings(v.Assets)
	history.AddSnapshot(time.Now().Unix(), v.TotalValue, v.QuoteBalance, len(v.Assets), v.Assets, false)
	return nil
}
