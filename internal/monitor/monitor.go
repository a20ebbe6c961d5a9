package monitor

import (
	"context"
	"log"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/router"
)

// PollInterval is how often Run refreshes the ledger/router snapshot.
const PollInterval = 5 * time.Second

// Run polls acct and rt on a ticker until ctx is cancelled, refreshing the
// snapshot Snapshot() serves to the operator API and logging a summary line.
func (m *EngineMetrics) Run(ctx context.Context, acct *account.Manager, rt *router.Router) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(acct, rt)
		}
	}
}

func (m *EngineMetrics) poll(acct *account.Manager, rt *router.Router) {
	budgets := acct.Snapshot()
	markets := make([]MarketSnapshot, 0, len(budgets))
	for market, b := range budgets {
		markets = append(markets, MarketSnapshot{
			Market:       market,
			AvailableKRW: b.AvailableKRW,
			ReservedKRW:  b.ReservedKRW,
			CoinBalance:  b.CoinBalance,
			RealizedPnL:  b.RealizedPnL,
		})
	}

	fastPath, fallback, parseFailures, conflicts, unknownMarket, total := rt.StatsSnapshot()

	m.mu.Lock()
	m.markets = markets
	m.router = RouterSnapshot{
		FastPathSuccess: fastPath,
		Fallback:        fallback,
		ParseFailures:   parseFailures,
		Conflicts:       conflicts,
		UnknownMarket:   unknownMarket,
		Total:           total,
	}
	m.mu.Unlock()

	log.Printf("📊 metrics: %d market(s), %d orders, %d routed messages (%d dropped unknown)",
		len(markets), m.ordersProcessed.Load(), total, unknownMarket)
}
