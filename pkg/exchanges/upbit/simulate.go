package upbit

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"time"
)

// SimulateMarketData generates a synthetic random-walk ticker frame per
// market every interval and hands it to sink in the same wire shape
// RunMarketData's live frames use, so the candle bucketer and router need
// no dry-run-specific code path. This only exists to give dry-run mode
// something to trade against; it is never used against the live exchange.
func SimulateMarketData(ctx context.Context, markets []string, startPrice float64, interval time.Duration, onPrice func(market string, price float64), sink func(raw string)) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prices := make(map[string]float64, len(markets))
	for _, m := range markets {
		prices[m] = startPrice
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, m := range markets {
				step := (rng.Float64() - 0.5) * 0.004
				prices[m] *= 1 + step
				frame := tickerFrame{
					Type:           "ticker",
					Code:           m,
					TradePrice:     prices[m],
					TradeVolume:    rng.Float64() * 0.01,
					TradeTimestamp: time.Now().UnixMilli(),
				}
				if onPrice != nil {
					onPrice(m, prices[m])
				}
				raw, err := json.Marshal(frame)
				if err != nil {
					log.Printf("upbit: simulate marshal failed: %v", err)
					continue
				}
				sink(string(raw))
			}
		}
	}
}
