package monitor

import (
	"context"
	"testing"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/exchange"
	"trading-core/internal/router"
)

func TestEngineMetricsRunPopulatesSnapshot(t *testing.T) {
	acct, err := account.NewManager(account.Config{CoinEpsilon: 1e-7, KRWDustThreshold: 10, InitDustThresholdKRW: 5000},
		[]string{"KRW-BTC"}, exchange.AccountSnapshot{KRWFree: 1_000_000})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	rt := router.New(100)
	rt.Register("KRW-BTC")

	m := NewEngineMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.poll(acct, rt)

	snap := m.Snapshot()
	if len(snap.Markets) != 1 || snap.Markets[0].Market != "KRW-BTC" {
		t.Fatalf("expected one KRW-BTC market snapshot, got %+v", snap.Markets)
	}
	if snap.Markets[0].AvailableKRW != 1_000_000 {
		t.Fatalf("expected available KRW to match seed snapshot, got %v", snap.Markets[0].AvailableKRW)
	}

	done := make(chan struct{})
	go func() {
		m.Run(ctx, acct, rt)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestEngineMetricsCounters(t *testing.T) {
	m := NewEngineMetrics()
	m.IncrementOrders()
	m.IncrementOrders()
	m.IncrementSignals()
	m.IncrementErrors()

	snap := m.Snapshot()
	if snap.OrdersProcessed != 2 || snap.SignalsGenerated != 1 || snap.ErrorsCount != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}
