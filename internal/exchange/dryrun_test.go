package exchange

import (
	"context"
	"testing"
)

func TestDryRunAPIFillsBidAndUpdatesBalances(t *testing.T) {
	api := NewDryRunAPI(1_000_000)
	api.UpdatePrice("KRW-BTC", 50_000_000)

	id, err := api.PostOrder(context.Background(), OrderRequest{
		Market: "KRW-BTC",
		Side:   SideBid,
		Type:   TypeMarket,
		Size:   OrderSize{Kind: SizeAmount, Amount: 500_000},
	})
	if err != nil {
		t.Fatalf("PostOrder: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty order id")
	}

	snap, err := api.GetMyAccount(context.Background())
	if err != nil {
		t.Fatalf("GetMyAccount: %v", err)
	}
	if snap.KRWFree >= 1_000_000 {
		t.Fatalf("expected KRW balance to decrease, got %v", snap.KRWFree)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].Currency != "BTC" {
		t.Fatalf("expected a BTC position, got %+v", snap.Positions)
	}
}

func TestDryRunAPIRejectsInsufficientFunds(t *testing.T) {
	api := NewDryRunAPI(1000)
	api.UpdatePrice("KRW-BTC", 50_000_000)

	_, err := api.PostOrder(context.Background(), OrderRequest{
		Market: "KRW-BTC",
		Side:   SideBid,
		Type:   TypeMarket,
		Size:   OrderSize{Kind: SizeAmount, Amount: 500_000},
	})
	if err == nil {
		t.Fatal("expected insufficient-funds error")
	}
}

func TestDryRunAPIRejectsAskWithoutPosition(t *testing.T) {
	api := NewDryRunAPI(1_000_000)
	api.UpdatePrice("KRW-BTC", 50_000_000)

	_, err := api.PostOrder(context.Background(), OrderRequest{
		Market: "KRW-BTC",
		Side:   SideAsk,
		Type:   TypeMarket,
		Size:   OrderSize{Kind: SizeVolume, Volume: 0.01},
	})
	if err == nil {
		t.Fatal("expected insufficient-position error")
	}
}

func TestDryRunAPIGetOpenOrdersAlwaysEmpty(t *testing.T) {
	api := NewDryRunAPI(1_000_000)
	orders, err := api.GetOpenOrders(context.Background(), "KRW-BTC")
	if err != nil || len(orders) != 0 {
		t.Fatalf("expected no open orders, got %+v err=%v", orders, err)
	}
}
