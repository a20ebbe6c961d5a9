package account

import (
	"math"
	"testing"

	"trading-core/internal/exchange"
)

func testConfig() Config {
	return Config{CoinEpsilon: 1e-7, KRWDustThreshold: 10, InitDustThresholdKRW: 5000}
}

func newTestManager(t *testing.T, krwFree float64) *Manager {
	t.Helper()
	m, err := NewManager(testConfig(), []string{"KRW-BTC", "KRW-ETH"}, exchange.AccountSnapshot{KRWFree: krwFree})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestReserveThenReleaseLeavesLedgerUnchanged(t *testing.T) {
	m := newTestManager(t, 1_000_000)
	before, _ := m.Budget("KRW-BTC")

	tok, err := m.Reserve("KRW-BTC", 100_000)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	tok.Release()

	after, _ := m.Budget("KRW-BTC")
	if after != before {
		t.Fatalf("ledger changed: before=%+v after=%+v", before, after)
	}
}

func TestReserveRejectsNonPositiveAmount(t *testing.T) {
	m := newTestManager(t, 1_000_000)
	for _, amt := range []float64{0, -1} {
		if _, err := m.Reserve("KRW-BTC", amt); err == nil {
			t.Fatalf("expected reserve(%v) to fail", amt)
		}
	}
	if got := m.StatsSnapshot().ReserveFailures; got != 2 {
		t.Fatalf("expected 2 reserve failures, got %d", got)
	}
}

func TestEntryCycleScenario(t *testing.T) {
	m := newTestManager(t, 1_000_000)

	tok, err := m.Reserve("KRW-BTC", 100_050)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	m.FinalizeFillBuy(tok, 100_050, 0.002, 50_000_000)
	m.FinalizeOrder(tok)

	b, _ := m.Budget("KRW-BTC")
	if !almostEqual(b.ReservedKRW, 0) {
		t.Fatalf("expected reserved KRW to be 0, got %v", b.ReservedKRW)
	}
	if !almostEqual(b.AvailableKRW, 899_950) {
		t.Fatalf("expected available KRW ~899950, got %v", b.AvailableKRW)
	}
	if !almostEqual(b.CoinBalance, 0.002) {
		t.Fatalf("expected coin balance 0.002, got %v", b.CoinBalance)
	}
	if !almostEqual(b.AvgEntryPrice, 50_000_000) {
		t.Fatalf("expected avg entry price 50000000, got %v", b.AvgEntryPrice)
	}
}

func TestOverselClampsAndScalesCredit(t *testing.T) {
	m := newTestManager(t, 0)
	m.mu.Lock()
	m.budgets["KRW-BTC"].CoinBalance = 0.001
	m.budgets["KRW-BTC"].AvgEntryPrice = 100_000_000
	m.budgets["KRW-BTC"].InitialCapital = 100_000
	m.mu.Unlock()

	m.FinalizeFillSell("KRW-BTC", 0.002, 200_000)

	b, _ := m.Budget("KRW-BTC")
	if b.CoinBalance != 0 {
		t.Fatalf("expected coin balance clamped to 0, got %v", b.CoinBalance)
	}
	if !almostEqual(b.AvailableKRW, 100_000) {
		t.Fatalf("expected available KRW credited proportionally to 100000, got %v", b.AvailableKRW)
	}
	if !almostEqual(b.RealizedPnL, b.AvailableKRW-b.InitialCapital) {
		t.Fatalf("expected realized pnl = available - initial, got %v", b.RealizedPnL)
	}
}

func TestSyncWithAccountIsIdempotent(t *testing.T) {
	m := newTestManager(t, 1_000_000)
	snap := exchange.AccountSnapshot{
		KRWFree: 400_000,
		Positions: []exchange.AccountPosition{
			{Currency: "BTC", UnitCurrency: "KRW", Balance: 0.01, AvgBuyPrice: 50_000_000},
		},
	}

	m.SyncWithAccount(snap)
	first := m.Snapshot()
	m.SyncWithAccount(snap)
	second := m.Snapshot()

	for mkt, b1 := range first {
		b2 := second[mkt]
		if b1 != b2 {
			t.Fatalf("sync not idempotent for %s: %+v vs %+v", mkt, b1, b2)
		}
	}
}

func TestTokenDropWithoutReleaseRestoresReservation(t *testing.T) {
	m := newTestManager(t, 1_000_000)
	before, _ := m.Budget("KRW-BTC")

	func() {
		tok, err := m.Reserve("KRW-BTC", 50_000)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		_ = tok
	}()

	// Finalizer timing is not deterministic from a single GC cycle in a test
	// sandbox; exercise the same code path autoRelease would take directly
	// to assert the accounting it performs is correct.
	m.mu.RLock()
	reserved := m.budgets["KRW-BTC"].ReservedKRW
	m.mu.RUnlock()
	if !almostEqual(reserved, 50_000) {
		t.Fatalf("expected reservation to still show as reserved pre-release, got %v", reserved)
	}

	m.releaseAmount("KRW-BTC", 50_000)
	after, _ := m.Budget("KRW-BTC")
	if after != before {
		t.Fatalf("expected ledger restored after manual release path: before=%+v after=%+v", before, after)
	}
}
