// Package recovery implements the one-shot startup reconciliation that runs
// once per market before its worker goroutine begins serving live traffic:
// cancel the bot's own stale open orders, verify they're gone, and hand the
// strategy a reconciled position snapshot.
package recovery

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"trading-core/internal/exchange"
	"trading-core/internal/strategy"
)

// Config carries the bounded-retry tunables from spec.md §4.9/§5.
type Config struct {
	CancelRetry  int
	VerifyRetry  int
	RetryBackoff time.Duration
}

// botPrefix is the client-order-id prefix that marks an order as owned by
// this strategy instance on this market; recovery will never touch an open
// order that doesn't carry it.
func botPrefix(strategyID, market string) string {
	return strategyID + ":" + market + ":"
}

// Run executes the one-shot reconciliation for a single market. Failures
// are logged and swallowed: recovery never aborts startup, and the
// strategy falls back to Flat if a snapshot can't be built.
func Run(ctx context.Context, api exchange.OrderAPI, strat *strategy.Strategy, strategyID, market string, cfg Config) {
	if cfg.CancelRetry <= 0 {
		cfg.CancelRetry = 3
	}
	if cfg.VerifyRetry <= 0 {
		cfg.VerifyRetry = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}

	prefix := botPrefix(strategyID, market)

	if err := cancelStaleOrders(ctx, api, market, prefix, cfg); err != nil {
		log.Printf("recovery[%s]: cancel-stale-orders failed: %v", market, err)
	}
	if err := verifyNoBotOrders(ctx, api, market, prefix, cfg); err != nil {
		log.Printf("recovery[%s]: verification failed, proceeding anyway: %v", market, err)
	}

	snap, err := buildPositionSnapshot(ctx, api, market)
	if err != nil {
		log.Printf("recovery[%s]: failed to build position snapshot, defaulting to Flat: %v", market, err)
		strat.SyncOnStart(strategy.PositionSnapshot{})
		return
	}
	strat.SyncOnStart(snap)
}

func cancelStaleOrders(ctx context.Context, api exchange.OrderAPI, market, prefix string, cfg Config) error {
	open, err := api.GetOpenOrders(ctx, market)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}

	var lastErr error
	for _, o := range open {
		if !strings.HasPrefix(o.Identifier, prefix) {
			continue
		}
		if err := cancelWithRetry(ctx, api, o, cfg.CancelRetry, cfg.RetryBackoff); err != nil {
			lastErr = err
			log.Printf("recovery[%s]: failed to cancel stale order %s after retries: %v", market, o.ID, err)
		}
	}
	return lastErr
}

func cancelWithRetry(ctx context.Context, api exchange.OrderAPI, o exchange.Order, retries int, backoff time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		ok, err := api.CancelOrder(ctx, o.ID, o.Identifier)
		if err == nil && ok {
			return nil
		}
		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("cancel returned ok=false for order %s", o.ID)
		}
		time.Sleep(backoff)
	}
	return lastErr
}

func verifyNoBotOrders(ctx context.Context, api exchange.OrderAPI, market, prefix string, cfg Config) error {
	var lastErr error
	for attempt := 0; attempt < cfg.VerifyRetry; attempt++ {
		open, err := api.GetOpenOrders(ctx, market)
		if err != nil {
			lastErr = err
			time.Sleep(cfg.RetryBackoff)
			continue
		}
		remaining := 0
		for _, o := range open {
			if strings.HasPrefix(o.Identifier, prefix) {
				remaining++
			}
		}
		if remaining == 0 {
			return nil
		}
		lastErr = fmt.Errorf("%d bot-owned open orders still present", remaining)
		time.Sleep(cfg.RetryBackoff)
	}
	return lastErr
}

func buildPositionSnapshot(ctx context.Context, api exchange.OrderAPI, market string) (strategy.PositionSnapshot, error) {
	acct, err := api.GetMyAccount(ctx)
	if err != nil {
		return strategy.PositionSnapshot{}, fmt.Errorf("fetch account: %w", err)
	}

	base := exchange.BaseOf(market)
	quote := exchange.QuoteOf(market)
	for _, p := range acct.Positions {
		if p.Currency == base && p.UnitCurrency == quote {
			return strategy.PositionSnapshot{Coin: p.Balance, AvgEntryPrice: p.AvgBuyPrice}, nil
		}
	}
	return strategy.PositionSnapshot{}, nil
}
