package enginemgr

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/exchange"
	"trading-core/internal/marketengine"
	"trading-core/internal/orderstore"
	"trading-core/internal/router"
	"trading-core/internal/strategy"
)

type fakeAPI struct {
	nextOrderID string
}

func (f *fakeAPI) GetMyAccount(ctx context.Context) (exchange.AccountSnapshot, error) {
	return exchange.AccountSnapshot{}, nil
}
func (f *fakeAPI) GetOpenOrders(ctx context.Context, market string) ([]exchange.Order, error) {
	return nil, nil
}
func (f *fakeAPI) PostOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	return f.nextOrderID, nil
}
func (f *fakeAPI) CancelOrder(ctx context.Context, id, identifier string) (bool, error) {
	return true, nil
}

type tickFrame struct {
	Market    string  `json:"market"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// testParseMarketData maps a raw tick frame to an exchange.Tick, leaving
// bar-boundary handling to the Manager's own pending_candle fold, exactly as
// the real upbit parser does.
func testParseMarketData(raw string) (exchange.Tick, bool, error) {
	var f tickFrame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return exchange.Tick{}, false, err
	}
	return exchange.Tick{Market: f.Market, Price: f.Price, TimestampMs: f.Timestamp}, true, nil
}

func testParseMyOrder(raw string) (*exchange.Order, *exchange.MyTrade, error) {
	var t exchange.MyTrade
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, nil, err
	}
	return nil, &t, nil
}

func testParams() strategy.Params {
	return strategy.Params{
		RSILength: 3, Oversold: 30, Overbought: 70,
		TrendLookWindow: 3, MaxTrendStrength: 1.0,
		VolatilityWindow: 2, MinVolatility: 0,
		RiskPercent: 10, StopLossPct: 2, ProfitTargetPct: 4,
		MinNotionalKRW: 5000, VolumeSafetyEps: 1e-7,
	}
}

func TestFoldTickStoresOverwritesAndFinalizesOnBarBoundary(t *testing.T) {
	m := New(Config{}, nil, testParseMyOrder, testParseMarketData)
	ctx := &MarketContext{Market: "KRW-BTC"}

	// First tick of a bar: stored, never finalized.
	if _, finalized := m.foldTick(ctx, exchange.Tick{Market: "KRW-BTC", Price: 100, Volume: 1, TimestampMs: 0}); finalized {
		t.Fatalf("expected the first tick of a bar to be stored, not finalized")
	}
	if ctx.pendingCandle == nil || ctx.pendingCandle.Open != 100 || ctx.pendingCandle.Close != 100 {
		t.Fatalf("expected pendingCandle seeded from the first tick, got %+v", ctx.pendingCandle)
	}

	// Second tick, same bar: overwrites high/low/close/volume in place.
	if _, finalized := m.foldTick(ctx, exchange.Tick{Market: "KRW-BTC", Price: 110, Volume: 1, TimestampMs: 30_000}); finalized {
		t.Fatalf("expected a same-bar tick to overwrite, not finalize")
	}
	if ctx.pendingCandle.Open != 100 || ctx.pendingCandle.High != 110 || ctx.pendingCandle.Close != 110 || ctx.pendingCandle.Volume != 2 {
		t.Fatalf("expected the open bar to be overwritten in place, got %+v", ctx.pendingCandle)
	}

	// Third tick, next bar: finalizes and hands off the prior bar.
	candle, finalized := m.foldTick(ctx, exchange.Tick{Market: "KRW-BTC", Price: 90, Volume: 1, TimestampMs: 61_000})
	if !finalized {
		t.Fatalf("expected a next-bar tick to finalize the prior bar")
	}
	if candle.Open != 100 || candle.High != 110 || candle.Close != 110 || candle.StartTimestamp != 0 {
		t.Fatalf("expected the finalized candle to be the just-closed bar, got %+v", candle)
	}
	if ctx.pendingCandle == nil || ctx.pendingCandle.Open != 90 || ctx.pendingCandle.StartTimestamp != 60_000 {
		t.Fatalf("expected the new bar to be seeded from the boundary-crossing tick, got %+v", ctx.pendingCandle)
	}
}

func TestManagerTicksDrainQueuesAndSubmitsOnEntry(t *testing.T) {
	market := "KRW-BTC"
	acct, err := account.NewManager(account.Config{InitDustThresholdKRW: 5000}, []string{market}, exchange.AccountSnapshot{KRWFree: 1_000_000})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	store := orderstore.New(100)
	api := &fakeAPI{nextOrderID: "U1"}
	eng := marketengine.New(market, marketengine.Config{}, store, acct, api)
	strat := strategy.New("bot", market, testParams())

	rt := router.New(100)
	mgr := New(Config{PollInterval: 5 * time.Millisecond}, acct, testParseMyOrder, testParseMarketData)
	ctx := mgr.AddMarket(market, eng, strat, rt)

	// Each price lands in its own one-minute bar (ticks 70s apart); an extra
	// trailing tick is needed to finalize-and-hand-off the last bar, since a
	// bar only finalizes once a tick from the next bar arrives.
	prices := []float64{100, 90, 80, 70, 60, 60}
	for i, p := range prices {
		frame, _ := json.Marshal(tickFrame{Market: market, Price: p, Timestamp: int64(i) * 70_000})
		rt.RouteMarketData(string(frame))
	}

	mgr.Start()
	defer mgr.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if strat.State() == strategy.PendingEntry {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected strategy to reach PendingEntry after oversold candles, got %v (queue len=%d)", strat.State(), ctx.Queues.MarketData.Len())
}

func TestManagerRoutesPrivateTradeToEngine(t *testing.T) {
	market := "KRW-BTC"
	acct, err := account.NewManager(account.Config{InitDustThresholdKRW: 5000}, []string{market}, exchange.AccountSnapshot{KRWFree: 1_000_000})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	store := orderstore.New(100)
	api := &fakeAPI{nextOrderID: "U1"}
	eng := marketengine.New(market, marketengine.Config{}, store, acct, api)
	strat := strategy.New("bot", market, testParams())

	if err := eng.BindToCurrentThread(); err != nil {
		t.Fatalf("bind: %v", err)
	}
	req := exchange.OrderRequest{
		Market: market, Side: exchange.SideBid, Type: exchange.TypeMarket,
		Size: exchange.OrderSize{Kind: exchange.SizeAmount, Amount: 100_050},
	}
	if _, err := eng.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}

	rt := router.New(100)
	mgr := New(Config{PollInterval: 5 * time.Millisecond}, acct, testParseMyOrder, testParseMarketData)
	mgr.AddMarket(market, eng, strat, rt)

	trade := exchange.MyTrade{
		OrderID: "U1", TradeID: "T1", Market: market, Side: exchange.SideBid,
		Price: 50_000_000, Volume: 0.002, ExecutedFunds: 100_000, Fee: 50,
	}
	raw, _ := json.Marshal(trade)
	rt.RouteMyOrder(string(raw))

	mgr.Start()
	defer mgr.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if b, _ := acct.Budget(market); b.CoinBalance > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected trade to be applied to the account ledger within the deadline")
}
