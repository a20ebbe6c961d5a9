package strategy

import (
	"testing"

	"trading-core/internal/exchange"
)

func testParams() Params {
	return Params{
		RSILength:        3,
		Oversold:         30,
		Overbought:       70,
		TrendLookWindow:  3,
		MaxTrendStrength: 1.0, // permissive for tests
		VolatilityWindow: 2,
		MinVolatility:    0,
		RiskPercent:      10,
		StopLossPct:      2,
		ProfitTargetPct:  4,
		MinNotionalKRW:   5000,
		VolumeSafetyEps:  1e-7,
	}
}

func feedDescending(s *Strategy, acct AccountSnapshot, start int64, closes []float64) *Decision {
	for i, c := range closes {
		if d := s.OnCandle(exchange.Candle{Market: "KRW-BTC", Close: c, StartTimestamp: start + int64(i)}, acct); d != nil {
			return d
		}
	}
	return nil
}

func TestDedupesRepeatedTimestamp(t *testing.T) {
	s := New("bot", "KRW-BTC", testParams())
	acct := AccountSnapshot{KRWAvailable: 1_000_000}

	s.OnCandle(exchange.Candle{Market: "KRW-BTC", Close: 100, StartTimestamp: 1}, acct)
	// Same timestamp again with a very different close must be ignored.
	d := s.OnCandle(exchange.Candle{Market: "KRW-BTC", Close: 1, StartTimestamp: 1}, acct)
	if d != nil {
		t.Fatalf("expected no decision from duplicate-timestamp candle")
	}
}

func TestEntersOnOversoldAndEmitsMarketBid(t *testing.T) {
	s := New("bot", "KRW-BTC", testParams())
	acct := AccountSnapshot{KRWAvailable: 1_000_000}

	// Falling closes seed RSI low enough to be oversold.
	d := feedDescending(s, acct, 1, []float64{100, 90, 80, 70, 60})
	if d == nil || d.Order == nil {
		t.Fatalf("expected an entry decision")
	}
	if d.Order.Side != exchange.SideBid || d.Order.Size.Kind != exchange.SizeAmount {
		t.Fatalf("expected market BID with amount size, got %+v", d.Order)
	}
	if s.State() != PendingEntry {
		t.Fatalf("expected PendingEntry, got %v", s.State())
	}
}

func TestPartialFillThenCancelTransitionsToInPositionWithVWAP(t *testing.T) {
	s := New("bot", "KRW-BTC", testParams())
	s.state = PendingEntry
	s.pendingClientID = "bot:KRW-BTC:entry:abc"

	s.OnFill(FillEvent{Identifier: s.pendingClientID, FillPrice: 50_000_000, FilledVolume: 0.0005})
	s.OnOrderUpdate(OrderStatusEvent{Identifier: s.pendingClientID, Status: exchange.StatusCanceled})

	if s.State() != InPosition {
		t.Fatalf("expected InPosition after cancel-after-partial-fill, got %v", s.State())
	}
	if s.entry != 50_000_000 {
		t.Fatalf("expected entry = VWAP 50000000, got %v", s.entry)
	}
}

func TestRejectWithNoFillRollsBack(t *testing.T) {
	s := New("bot", "KRW-BTC", testParams())
	s.state = PendingEntry
	s.pendingClientID = "bot:KRW-BTC:entry:abc"

	s.OnOrderUpdate(OrderStatusEvent{Identifier: s.pendingClientID, Status: exchange.StatusRejected})

	if s.State() != Flat {
		t.Fatalf("expected Flat after reject with no fill, got %v", s.State())
	}
}

func TestFilledEntrySetsStopsFromVWAP(t *testing.T) {
	s := New("bot", "KRW-BTC", testParams())
	s.state = PendingEntry
	s.pendingClientID = "bot:KRW-BTC:entry:abc"

	s.OnFill(FillEvent{Identifier: s.pendingClientID, FillPrice: 100, FilledVolume: 1})
	s.OnOrderUpdate(OrderStatusEvent{Identifier: s.pendingClientID, Status: exchange.StatusFilled})

	if s.State() != InPosition {
		t.Fatalf("expected InPosition, got %v", s.State())
	}
	wantStop := 100 * (1 - 2.0/100)
	wantTarget := 100 * (1 + 4.0/100)
	if s.stop != wantStop || s.target != wantTarget {
		t.Fatalf("expected stop=%v target=%v, got stop=%v target=%v", wantStop, wantTarget, s.stop, s.target)
	}
}

func TestOnSubmitFailedRollsBackSynchronously(t *testing.T) {
	s := New("bot", "KRW-BTC", testParams())
	s.state = PendingExit
	s.pendingClientID = "bot:KRW-BTC:exit:abc"
	s.pendingFilledVolume = 1

	s.OnSubmitFailed()

	if s.State() != InPosition {
		t.Fatalf("expected InPosition after failed exit submit, got %v", s.State())
	}
	if s.pendingClientID != "" || s.pendingFilledVolume != 0 {
		t.Fatalf("expected pending accumulators cleared")
	}
}

func TestSyncOnStartRecoversInPosition(t *testing.T) {
	s := New("bot", "KRW-BTC", testParams())
	s.SyncOnStart(PositionSnapshot{Coin: 0.01, AvgEntryPrice: 50_000_000})

	if s.State() != InPosition {
		t.Fatalf("expected InPosition, got %v", s.State())
	}
	if s.entry != 50_000_000 {
		t.Fatalf("expected entry = avg entry price, got %v", s.entry)
	}
}

func TestSyncOnStartForcesFlatWhenNoPosition(t *testing.T) {
	s := New("bot", "KRW-BTC", testParams())
	s.state = InPosition
	s.entry = 100
	s.SyncOnStart(PositionSnapshot{})

	if s.State() != Flat {
		t.Fatalf("expected Flat, got %v", s.State())
	}
	if s.entry != 0 || s.stop != 0 || s.target != 0 {
		t.Fatalf("expected entry/stop/target cleared")
	}
}

func TestSelfHealPendingEntryToInPosition(t *testing.T) {
	s := New("bot", "KRW-BTC", testParams())
	s.state = PendingEntry
	s.pendingClientID = "bot:KRW-BTC:entry:abc"

	// Account already shows a significant position: exchange event was missed.
	acct := AccountSnapshot{CoinAvailable: 0.001}
	s.OnCandle(exchange.Candle{Market: "KRW-BTC", Close: 50_000_000, StartTimestamp: 1}, acct)

	if s.State() != InPosition {
		t.Fatalf("expected self-heal to InPosition, got %v", s.State())
	}
}
