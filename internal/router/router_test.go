package router

import "testing"

func TestExtractMarketFastHandlesCodeField(t *testing.T) {
	raw := `{"type":"ticker","code":"KRW-BTC","trade_price":50000000}`
	got, ok := extractMarketFast(raw)
	if !ok || got != "KRW-BTC" {
		t.Fatalf("expected fast path to extract KRW-BTC, got %q ok=%v", got, ok)
	}
}

func TestExtractMarketFastBailsOnEscape(t *testing.T) {
	raw := `{"code":"KRW-BTC","note":"line1\nline2"}`
	_, ok := extractMarketFast(raw)
	if ok {
		t.Fatalf("expected fast path to bail on backslash escape")
	}
}

func TestExtractMarketFastBailsOnConflict(t *testing.T) {
	raw := `{"code":"KRW-BTC","market":"KRW-ETH"}`
	_, ok := extractMarketFast(raw)
	if ok {
		t.Fatalf("expected fast path to bail on conflicting code/market fields")
	}
}

func TestRouteMarketDataDispatchesToRegisteredQueue(t *testing.T) {
	r := New(10)
	mq := r.Register("KRW-BTC")

	if ok := r.RouteMarketData(`{"code":"KRW-BTC","trade_price":1}`); !ok {
		t.Fatalf("expected RouteMarketData to report successful dispatch")
	}

	msgs := mq.MarketData.Drain()
	if len(msgs) != 1 || msgs[0].Kind != MessageMarketData {
		t.Fatalf("expected one market-data message routed, got %+v", msgs)
	}
	if _, fast, _, _, _, total := r.StatsSnapshot(); fast != 1 || total != 1 {
		t.Fatalf("expected fast-path success 1 / total 1, got fast=%d total=%d", fast, total)
	}
}

func TestRouteDropsUnknownMarket(t *testing.T) {
	r := New(10)
	r.Register("KRW-BTC")

	if ok := r.RouteMarketData(`{"code":"KRW-ETH","trade_price":1}`); ok {
		t.Fatalf("expected RouteMarketData to report dispatch failure for an unknown market")
	}

	_, _, _, _, unknown, _ := r.StatsSnapshot()
	if unknown != 1 {
		t.Fatalf("expected unknown-market counter to increment, got %d", unknown)
	}
}

func TestRouteFallsBackOnEscapedPayload(t *testing.T) {
	r := New(10)
	mq := r.Register("KRW-BTC")

	if ok := r.RouteMyOrder(`{"market":"KRW-BTC","identifier":"bot:KRW-BTC:entry:abc\\123"}`); !ok {
		t.Fatalf("expected RouteMyOrder to report successful dispatch via the fallback path")
	}

	msgs := mq.MyOrders.Drain()
	if len(msgs) != 1 {
		t.Fatalf("expected one private order message routed via fallback, got %d", len(msgs))
	}
	_, _, _, _, _, total := r.StatsSnapshot()
	if total != 1 {
		t.Fatalf("expected total routed 1, got %d", total)
	}
}

func TestBoundedQueueDropsOldestAtCapacity(t *testing.T) {
	q := NewBoundedQueue(3)
	q.Push(Message{Raw: "1"})
	q.Push(Message{Raw: "2"})
	q.Push(Message{Raw: "3"})
	q.Push(Message{Raw: "4"})

	msgs := q.Drain()
	if len(msgs) != 3 {
		t.Fatalf("expected capacity-bounded length 3, got %d", len(msgs))
	}
	if msgs[0].Raw != "2" {
		t.Fatalf("expected oldest entry dropped, got first=%q", msgs[0].Raw)
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected dropped counter 1, got %d", q.Dropped())
	}
}

func TestUnboundedQueueNeverDrops(t *testing.T) {
	q := NewUnboundedQueue()
	for i := 0; i < 10000; i++ {
		q.Push(Message{Raw: "x"})
	}
	if q.Len() != 10000 {
		t.Fatalf("expected all 10000 messages retained, got %d", q.Len())
	}
}
