package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// getStatus reports process-level state: configured markets and their ledger state.
func (s *Server) getStatus(c *gin.Context) {
	budgets := s.acct.Snapshot()
	markets := make([]gin.H, 0, len(budgets))
	for market, b := range budgets {
		markets = append(markets, gin.H{
			"market":          market,
			"available_krw":   b.AvailableKRW,
			"reserved_krw":    b.ReservedKRW,
			"coin_balance":    b.CoinBalance,
			"avg_entry_price": b.AvgEntryPrice,
			"realized_pnl":    b.RealizedPnL,
		})
	}
	c.JSON(http.StatusOK, gin.H{"markets": markets})
}

// getMetrics exposes the latest EngineMetrics snapshot.
func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// getPositions reports per-market coin balances from the account ledger.
func (s *Server) getPositions(c *gin.Context) {
	budgets := s.acct.Snapshot()
	positions := make([]gin.H, 0, len(budgets))
	for market, b := range budgets {
		if b.CoinBalance <= 0 {
			continue
		}
		positions = append(positions, gin.H{
			"market":          market,
			"coin_balance":    b.CoinBalance,
			"avg_entry_price": b.AvgEntryPrice,
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

// getOrders lists every open order across every configured market.
func (s *Server) getOrders(c *gin.Context) {
	budgets := s.acct.Snapshot()
	var orders []any
	for market := range budgets {
		for _, o := range s.store.GetOpenOrdersByMarket(market) {
			orders = append(orders, o)
		}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getMarketOrders lists open orders for a single market.
func (s *Server) getMarketOrders(c *gin.Context) {
	market := c.Param("market")
	c.JSON(http.StatusOK, gin.H{"orders": s.store.GetOpenOrdersByMarket(market)})
}

// cancelAllForMarket cancels every open order the store knows about for
// market. It does not touch the strategy's own state machine; a stray fill
// that races this call is reconciled the next time the private stream
// reports it, the same path StartupRecovery uses on boot.
func (s *Server) cancelAllForMarket(c *gin.Context) {
	market := c.Param("market")
	open := s.store.GetOpenOrdersByMarket(market)

	ctx := c.Request.Context()
	cancelled := 0
	var failures []string
	for _, o := range open {
		ok, err := s.api.CancelOrder(ctx, o.ID, o.Identifier)
		if err != nil {
			failures = append(failures, o.ID)
			continue
		}
		if ok {
			cancelled++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"market":    market,
		"attempted": len(open),
		"cancelled": cancelled,
		"failed":    failures,
	})
}
