package upbit

import (
	"encoding/json"
	"fmt"
	"time"

	"trading-core/internal/exchange"
)

type tickerFrame struct {
	Type           string  `json:"type"`
	Code           string  `json:"code"`
	TradePrice     float64 `json:"trade_price"`
	TradeVolume    float64 `json:"trade_volume"`
	TradeTimestamp int64   `json:"trade_timestamp"`
}

// NewMarketDataParser builds a ParseMarketData function (for enginemgr) that
// maps Upbit's trade-level ticker frames to exchange.Tick. Upbit's public
// feed streams individual trade prints, not pre-built candles; bucketing
// those ticks into bars is the core's own job (internal/enginemgr), not this
// wire-format mapper's.
func NewMarketDataParser() func(raw string) (exchange.Tick, bool, error) {
	return func(raw string) (exchange.Tick, bool, error) {
		var f tickerFrame
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return exchange.Tick{}, false, fmt.Errorf("upbit: parse ticker frame: %w", err)
		}
		if f.Type != "ticker" || f.Code == "" {
			return exchange.Tick{}, false, nil
		}
		ts := f.TradeTimestamp
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		return exchange.Tick{Market: f.Code, Price: f.TradePrice, Volume: f.TradeVolume, TimestampMs: ts}, true, nil
	}
}

type myOrderFrame struct {
	Type            string  `json:"type"`
	Code            string  `json:"code"`
	UUID            string  `json:"uuid"`
	Identifier      string  `json:"identifier"`
	Side            string  `json:"side"`
	OrdType         string  `json:"ord_type"`
	Price           float64 `json:"price"`
	State           string  `json:"state"`
	TradeUUID       string  `json:"trade_uuid"`
	TradeTimestamp  int64   `json:"trade_timestamp"`
	Volume          float64 `json:"volume"`
	RemainingVolume float64 `json:"remaining_volume"`
	ExecutedVolume  float64 `json:"executed_volume"`
	TradeFee        float64 `json:"trade_fee"`
	ExecutedFunds   float64 `json:"executed_funds"`
}

// ParseMyOrder maps a raw private myOrder frame into an order snapshot,
// plus a MyTrade when the frame reports an executed trade leg.
func ParseMyOrder(raw string) (*exchange.Order, *exchange.MyTrade, error) {
	var f myOrderFrame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, nil, fmt.Errorf("upbit: parse myOrder frame: %w", err)
	}
	if f.Type != "myOrder" {
		return nil, nil, nil
	}

	order := &exchange.Order{
		ID:              f.UUID,
		Identifier:      f.Identifier,
		Market:          f.Code,
		Side:            mapSide(f.Side),
		Type:            mapOrdType(f.OrdType),
		Status:          mapState(f.State),
		ExecutedVolume:  f.ExecutedVolume,
		RemainingVolume: f.RemainingVolume,
		ExecutedFunds:   f.ExecutedFunds,
	}
	if f.Price > 0 {
		p := f.Price
		order.Price = &p
	}

	var trade *exchange.MyTrade
	if f.TradeUUID != "" {
		trade = &exchange.MyTrade{
			OrderID:          f.UUID,
			TradeID:          f.TradeUUID,
			Market:           f.Code,
			Side:             mapSide(f.Side),
			Price:            f.Price,
			Volume:           f.Volume,
			ExecutedFunds:    f.ExecutedFunds,
			Fee:              f.TradeFee,
			TradeTimestampMs: f.TradeTimestamp,
			Identifier:       f.Identifier,
		}
	}
	return order, trade, nil
}
