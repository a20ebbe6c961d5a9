// Package account is the per-market capital ledger: it tracks available and
// reserved KRW and coin balances and mints scoped ReservationTokens for
// outstanding buys.
package account

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"trading-core/internal/exchange"
)

// Config carries the §6 tunables that govern dust handling.
type Config struct {
	CoinEpsilon          float64 // e.g. 1e-7
	KRWDustThreshold     float64 // e.g. 10
	InitDustThresholdKRW float64 // e.g. 5000
}

// MarketBudget is the ledger entry for a single market.
type MarketBudget struct {
	Market         string
	AvailableKRW   float64
	ReservedKRW    float64
	CoinBalance    float64
	AvgEntryPrice  float64
	InitialCapital float64
	RealizedPnL    float64
}

// Stats are atomic counters for test observability and monitoring.
type Stats struct {
	Reserves        atomic.Uint64
	Releases        atomic.Uint64
	FillsBuy        atomic.Uint64
	FillsSell       atomic.Uint64
	ReserveFailures atomic.Uint64
}

// StatsSnapshot is a point-in-time read of Stats.
type StatsSnapshot struct {
	Reserves, Releases, FillsBuy, FillsSell, ReserveFailures uint64
}

// Manager owns one MarketBudget per market and serializes mutation.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	budgets  map[string]*MarketBudget
	stats    Stats
	tokenSeq atomic.Uint64
}

// NewManager builds one MarketBudget per market from an exchange account
// snapshot. A position occupies its market (coin_balance/avg_entry_price set,
// available_krw = 0) when its value at avg_buy_price clears
// InitDustThresholdKRW; otherwise it is dust and folded to zero. Remaining
// free KRW is split evenly across markets holding no coin.
func NewManager(cfg Config, markets []string, snapshot exchange.AccountSnapshot) (*Manager, error) {
	if len(markets) == 0 {
		return nil, fmt.Errorf("account: at least one market is required")
	}

	budgets := make(map[string]*MarketBudget, len(markets))
	for _, mkt := range markets {
		budgets[mkt] = &MarketBudget{Market: mkt}
	}

	holdsCoin := make(map[string]bool, len(markets))
	for _, p := range snapshot.Positions {
		mkt := p.UnitCurrency + "-" + p.Currency
		b, ok := budgets[mkt]
		if !ok {
			continue
		}
		value := p.AvgBuyPrice * p.Balance
		if value >= cfg.InitDustThresholdKRW {
			b.CoinBalance = p.Balance
			b.AvgEntryPrice = p.AvgBuyPrice
			b.AvailableKRW = 0
			b.InitialCapital = value
			holdsCoin[mkt] = true
		}
	}

	var noCoinMarkets []string
	for _, mkt := range markets {
		if !holdsCoin[mkt] {
			noCoinMarkets = append(noCoinMarkets, mkt)
		}
	}
	if len(noCoinMarkets) > 0 {
		share := snapshot.KRWFree / float64(len(noCoinMarkets))
		for _, mkt := range noCoinMarkets {
			budgets[mkt].AvailableKRW = share
			budgets[mkt].InitialCapital = share
		}
	}

	return &Manager{cfg: cfg, budgets: budgets}, nil
}

// Reserve debits amount from available_krw into reserved_krw and mints a
// token scoped to market. Fails if amount <= 0, market is unregistered, or
// available_krw is insufficient.
func (m *Manager) Reserve(market string, amount float64) (*Token, error) {
	if amount <= 0 {
		m.stats.ReserveFailures.Add(1)
		return nil, fmt.Errorf("account: reserve amount must be positive, got %v", amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.budgets[market]
	if !ok {
		m.stats.ReserveFailures.Add(1)
		return nil, fmt.Errorf("account: unknown market %q", market)
	}
	if b.AvailableKRW < amount {
		m.stats.ReserveFailures.Add(1)
		return nil, fmt.Errorf("account: insufficient available KRW in %s: have %.4f need %.4f", market, b.AvailableKRW, amount)
	}

	b.AvailableKRW -= amount
	b.ReservedKRW += amount
	m.stats.Reserves.Add(1)

	id := fmt.Sprintf("rsv-%s-%d-%s", market, m.tokenSeq.Add(1), uuid.NewString())
	return newToken(m, market, amount, id), nil
}

// releaseAmount credits amount back from reserved to available, clamping
// reserved at zero. Callers must not hold m.mu.
func (m *Manager) releaseAmount(market string, amount float64) {
	if amount <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[market]
	if !ok {
		return
	}
	b.ReservedKRW -= amount
	if b.ReservedKRW < 0 {
		b.ReservedKRW = 0
	}
	b.AvailableKRW += amount
}

// Release refunds a token's unconsumed remainder. Idempotent: only the
// first call on an active token has any effect.
func (m *Manager) Release(t *Token) {
	if t == nil {
		return
	}
	remaining := t.deactivate()
	if remaining <= 0 {
		return
	}
	m.releaseAmount(t.market, remaining)
	m.stats.Releases.Add(1)
}

// FinalizeFillBuy applies a buy fill: it drains the token by the clamped
// executed KRW, folds the received coin into a volume-weighted average
// entry price, and is a no-op on an inactive token or non-positive inputs.
func (m *Manager) FinalizeFillBuy(t *Token, executedKRW, receivedCoin, fillPrice float64) {
	if t == nil || !t.Active() || executedKRW <= 0 || receivedCoin <= 0 || fillPrice <= 0 {
		return
	}
	clamped := t.consume(executedKRW)
	if clamped <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[t.market]
	if !ok {
		return
	}

	b.ReservedKRW -= clamped
	if b.ReservedKRW < 0 {
		b.ReservedKRW = 0
	}

	oldBalance, oldAvg := b.CoinBalance, b.AvgEntryPrice
	newBalance := oldBalance + receivedCoin
	if newBalance > 0 {
		b.AvgEntryPrice = (oldBalance*oldAvg + receivedCoin*fillPrice) / newBalance
	}
	b.CoinBalance = newBalance

	m.stats.FillsBuy.Add(1)
}

// FinalizeFillSell applies a sell fill: it subtracts sold coin (clamping to
// zero and scaling the credited KRW proportionally on oversell) and folds
// the position to dust once the remaining coin is negligible.
func (m *Manager) FinalizeFillSell(market string, soldCoin, receivedKRW float64) {
	if soldCoin <= 0 || receivedKRW <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[market]
	if !ok {
		return
	}

	fraction := 1.0
	if soldCoin > b.CoinBalance {
		if soldCoin > 0 {
			fraction = b.CoinBalance / soldCoin
		} else {
			fraction = 0
		}
		b.CoinBalance = 0
	} else {
		b.CoinBalance -= soldCoin
	}

	b.AvailableKRW += receivedKRW * fraction

	if b.CoinBalance < m.cfg.CoinEpsilon || b.CoinBalance*b.AvgEntryPrice < m.cfg.InitDustThresholdKRW {
		b.CoinBalance = 0
		b.AvgEntryPrice = 0
		b.RealizedPnL = b.AvailableKRW - b.InitialCapital
	}

	m.stats.FillsSell.Add(1)
}

// FinalizeOrder releases a token's remainder and sweeps any now-orphaned
// reserved dust back into available_krw, then deactivates the token.
func (m *Manager) FinalizeOrder(t *Token) {
	if t == nil {
		return
	}
	remaining := t.deactivate()

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[t.market]
	if !ok {
		return
	}
	if remaining > 0 {
		b.ReservedKRW -= remaining
		if b.ReservedKRW < 0 {
			b.ReservedKRW = 0
		}
		b.AvailableKRW += remaining
		m.stats.Releases.Add(1)
	}
	if b.ReservedKRW > 0 && b.ReservedKRW < m.cfg.KRWDustThreshold {
		b.AvailableKRW += b.ReservedKRW
		b.ReservedKRW = 0
	}
}

// SyncWithAccount atomically re-derives coin holdings from a fresh exchange
// snapshot and redistributes free KRW across markets left holding no coin.
// Idempotent: applying the same snapshot twice yields the same budgets.
func (m *Manager) SyncWithAccount(snapshot exchange.AccountSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.budgets {
		b.CoinBalance = 0
		b.AvgEntryPrice = 0
	}

	holdsCoin := make(map[string]bool, len(m.budgets))
	for _, p := range snapshot.Positions {
		mkt := p.UnitCurrency + "-" + p.Currency
		b, ok := m.budgets[mkt]
		if !ok {
			continue
		}
		value := p.AvgBuyPrice * p.Balance
		if value >= m.cfg.InitDustThresholdKRW {
			b.CoinBalance = p.Balance
			b.AvgEntryPrice = p.AvgBuyPrice
			b.AvailableKRW = 0
			b.ReservedKRW = 0
			holdsCoin[mkt] = true
		}
	}

	var noCoinMarkets []string
	for mkt := range m.budgets {
		if !holdsCoin[mkt] {
			noCoinMarkets = append(noCoinMarkets, mkt)
		}
	}
	if len(noCoinMarkets) > 0 {
		share := snapshot.KRWFree / float64(len(noCoinMarkets))
		for _, mkt := range noCoinMarkets {
			m.budgets[mkt].AvailableKRW = share
		}
	}
}

// Budget returns a snapshot copy of a market's ledger entry.
func (m *Manager) Budget(market string) (MarketBudget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.budgets[market]
	if !ok {
		return MarketBudget{}, false
	}
	return *b, true
}

// Snapshot returns a copy of every tracked market's ledger entry.
func (m *Manager) Snapshot() map[string]MarketBudget {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]MarketBudget, len(m.budgets))
	for k, v := range m.budgets {
		out[k] = *v
	}
	return out
}

// StatsSnapshot returns a point-in-time read of the reservation counters.
func (m *Manager) StatsSnapshot() StatsSnapshot {
	return StatsSnapshot{
		Reserves:        m.stats.Reserves.Load(),
		Releases:        m.stats.Releases.Load(),
		FillsBuy:        m.stats.FillsBuy.Load(),
		FillsSell:       m.stats.FillsSell.Load(),
		ReserveFailures: m.stats.ReserveFailures.Load(),
	}
}
