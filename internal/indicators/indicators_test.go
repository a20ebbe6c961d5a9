package indicators

import "testing"

func TestRingBufferEvictsOldestOnOverflow(t *testing.T) {
	r := NewRingBuffer(3)
	for _, v := range []float64{1, 2, 3} {
		if _, evicted := r.Push(v); evicted {
			t.Fatalf("unexpected eviction filling buffer")
		}
	}
	if !r.Full() {
		t.Fatalf("expected buffer full")
	}
	evicted, ok := r.Push(4)
	if !ok || evicted != 1 {
		t.Fatalf("expected eviction of oldest sample 1, got %v (ok=%v)", evicted, ok)
	}
	if r.At(0) != 2 {
		t.Fatalf("expected oldest remaining sample 2, got %v", r.At(0))
	}
}

func TestCloseWindowReadyAfterNPlus1(t *testing.T) {
	w := NewCloseWindow(3)
	closes := []float64{10, 11, 12, 13}
	for i, c := range closes {
		w.Push(c)
		ready := w.Ready()
		if i < 3 && ready {
			t.Fatalf("window should not be ready at sample %d", i)
		}
		if i == 3 && !ready {
			t.Fatalf("window should be ready at sample %d", i)
		}
	}
	got, ok := w.CloseN()
	if !ok || got != 10 {
		t.Fatalf("expected closeN=10, got %v (ok=%v)", got, ok)
	}
}

func TestRSISpecialCases(t *testing.T) {
	if v := computeRSI(0, 0); v != 50 {
		t.Fatalf("expected 50 when both flat, got %v", v)
	}
	if v := computeRSI(1, 0); v != 100 {
		t.Fatalf("expected 100 when no losses, got %v", v)
	}
	if v := computeRSI(0, 1); v != 0 {
		t.Fatalf("expected 0 when no gains, got %v", v)
	}
}

func TestRSIReadyAfterSeedWindow(t *testing.T) {
	r := NewRSI(3)
	prices := []float64{100, 101, 102, 103} // 3 deltas seed the window
	for i, p := range prices {
		r.Push(p)
		if i < 3 && r.Ready() {
			t.Fatalf("RSI should not be ready before seeding window fills")
		}
	}
	if !r.Ready() {
		t.Fatalf("expected RSI ready after seed window")
	}
	v, _ := r.Value()
	if v != 100 {
		t.Fatalf("expected RSI=100 for monotonically rising prices, got %v", v)
	}
}

func TestVolatilityReadyAfterWindow(t *testing.T) {
	v := NewVolatility(2)
	if _, ok := v.Value(); ok {
		t.Fatalf("expected not ready before any returns")
	}
	v.Push(100) // establishes prev, no return yet
	v.Push(101) // first return
	if v.Ready() {
		t.Fatalf("expected not ready after only 1 return for window=2")
	}
	v.Push(102) // second return
	if !v.Ready() {
		t.Fatalf("expected ready after 2 returns")
	}
	stdev, ok := v.Value()
	if !ok || stdev < 0 {
		t.Fatalf("expected non-negative stdev, got %v (ok=%v)", stdev, ok)
	}
}

func TestVolatilitySkipsZeroPrevClose(t *testing.T) {
	v := NewVolatility(1)
	v.Push(0)
	v.Push(10) // prev was 0, must be skipped, not produce a return
	if v.Ready() {
		t.Fatalf("expected skip of zero-prev-close sample to not count as a return")
	}
}
