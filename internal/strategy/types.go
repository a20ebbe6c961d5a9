// Package strategy implements the per-market RSI mean-reversion state
// machine: one instance per market, owned by that market's worker.
package strategy

import "trading-core/internal/exchange"

// State is a strategy's position lifecycle state.
type State int

const (
	Flat State = iota
	PendingEntry
	InPosition
	PendingExit
)

func (s State) String() string {
	switch s {
	case Flat:
		return "Flat"
	case PendingEntry:
		return "PendingEntry"
	case InPosition:
		return "InPosition"
	case PendingExit:
		return "PendingExit"
	default:
		return "Unknown"
	}
}

// Params are the per-market tuning knobs from spec.md §4.4.
type Params struct {
	RSILength        int
	Oversold         float64
	Overbought       float64
	TrendLookWindow  int
	MaxTrendStrength float64
	VolatilityWindow int
	MinVolatility    float64
	RiskPercent      float64 // 0..100
	StopLossPct      float64
	ProfitTargetPct  float64
	MinNotionalKRW   float64
	VolumeSafetyEps  float64
}

// AccountSnapshot is the slice of account state the strategy self-heals
// against: a market's free KRW and free coin.
type AccountSnapshot struct {
	KRWAvailable  float64
	CoinAvailable float64
}

// Decision is what OnCandle returns when the strategy wants to act.
type Decision struct {
	Order *exchange.OrderRequest
}

// FillEvent is the strategy-facing translation of a MarketEngine Fill event.
type FillEvent struct {
	Identifier   string
	OrderID      string
	TradeID      string
	Side         exchange.OrderSide
	FillPrice    float64
	FilledVolume float64
}

// OrderStatusEvent is the strategy-facing translation of a MarketEngine
// Status event. Only terminal statuses are ever delivered.
type OrderStatusEvent struct {
	Identifier      string
	OrderID         string
	Status          exchange.OrderStatus
	Side            exchange.OrderSide
	ExecutedVolume  float64
	RemainingVolume float64
}

// PositionSnapshot is the reconciled position StartupRecovery hands to
// SyncOnStart.
type PositionSnapshot struct {
	Coin          float64
	AvgEntryPrice float64
}

func stopTarget(entry, stopLossPct, profitTargetPct float64) (stop, target float64) {
	stop = entry * (1 - stopLossPct/100)
	if stop < 0 {
		stop = 0
	}
	target = entry * (1 + profitTargetPct/100)
	if target < 0 {
		target = 0
	}
	return stop, target
}

func isSignificant(coinAvailable, price, minNotionalKRW float64) bool {
	return coinAvailable*price >= minNotionalKRW
}
