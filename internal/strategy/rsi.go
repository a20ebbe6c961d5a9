package strategy

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"trading-core/internal/exchange"
	"trading-core/internal/indicators"
)

// Strategy is one RSI mean-reversion instance, exclusively owned by its
// market's worker goroutine.
type Strategy struct {
	id     string
	market string
	params Params

	closeWindow *indicators.CloseWindow
	rsi         *indicators.RSI
	vol         *indicators.Volatility

	state State

	haveLastTimestamp bool
	lastTimestamp     int64

	entry, stop, target float64

	pendingClientID     string
	pendingFilledVolume float64
	pendingCostSum      float64
	pendingLastPrice    float64
}

// New builds a Strategy for market, identified by id in client-order-ids
// (e.g. "rsi-mr-v1").
func New(id, market string, p Params) *Strategy {
	return &Strategy{
		id:          id,
		market:      market,
		params:      p,
		closeWindow: indicators.NewCloseWindow(p.TrendLookWindow),
		rsi:         indicators.NewRSI(p.RSILength),
		vol:         indicators.NewVolatility(p.VolatilityWindow),
		state:       Flat,
	}
}

// State returns the strategy's current lifecycle state.
func (s *Strategy) State() State { return s.state }

func (s *Strategy) clearPending() {
	s.pendingFilledVolume = 0
	s.pendingCostSum = 0
	s.pendingLastPrice = 0
}

// OnCandle ingests one finalized candle: updates indicators, self-heals
// against observed account state, and dispatches an entry/exit decision per
// the current state.
func (s *Strategy) OnCandle(c exchange.Candle, acct AccountSnapshot) *Decision {
	if c.Market != s.market {
		return nil
	}
	if s.haveLastTimestamp && c.StartTimestamp == s.lastTimestamp {
		return nil
	}
	s.haveLastTimestamp = true
	s.lastTimestamp = c.StartTimestamp

	s.closeWindow.Push(c.Close)
	s.rsi.Push(c.Close)
	s.vol.Push(c.Close)

	close := c.Close
	rsiVal, rsiReady := s.rsi.Value()
	closeN, closeNReady := s.closeWindow.CloseN()
	volVal, volReady := s.vol.Value()

	var trendStrength float64
	trendReady := closeNReady && closeN != 0
	if trendReady {
		trendStrength = math.Abs(close-closeN) / closeN
	}

	marketOk := rsiReady && volReady && volVal >= s.params.MinVolatility &&
		trendReady && trendStrength <= s.params.MaxTrendStrength

	s.selfHeal(acct, close)

	switch s.state {
	case Flat:
		if marketOk && rsiVal <= s.params.Oversold {
			krw := acct.KRWAvailable * s.params.RiskPercent / 100
			if krw >= s.params.MinNotionalKRW {
				id := fmt.Sprintf("%s:%s:entry:%s", s.id, s.market, uuid.NewString())
				req := exchange.OrderRequest{
					Market:     s.market,
					Side:       exchange.SideBid,
					Type:       exchange.TypeMarket,
					Size:       exchange.OrderSize{Kind: exchange.SizeAmount, Amount: krw},
					Identifier: id,
				}
				s.state = PendingEntry
				s.clearPending()
				s.pendingClientID = id
				return &Decision{Order: &req}
			}
		}
	case InPosition:
		exit := (rsiReady && rsiVal >= s.params.Overbought) ||
			(s.entry > 0 && close <= s.stop) ||
			(s.entry > 0 && close >= s.target)
		if exit {
			vol := acct.CoinAvailable - s.params.VolumeSafetyEps
			if vol < 0 {
				vol = 0
			}
			if vol*close >= s.params.MinNotionalKRW {
				id := fmt.Sprintf("%s:%s:exit:%s", s.id, s.market, uuid.NewString())
				req := exchange.OrderRequest{
					Market:     s.market,
					Side:       exchange.SideAsk,
					Type:       exchange.TypeMarket,
					Size:       exchange.OrderSize{Kind: exchange.SizeVolume, Volume: vol},
					Identifier: id,
				}
				s.state = PendingExit
				s.clearPending()
				s.pendingClientID = id
				return &Decision{Order: &req}
			}
		}
	case PendingEntry, PendingExit:
		// no action while an order is in flight
	}
	return nil
}

// selfHeal corrects pending-state mismatches against observed account state,
// used when exchange events are missed.
func (s *Strategy) selfHeal(acct AccountSnapshot, close float64) {
	switch s.state {
	case PendingEntry:
		if acct.CoinAvailable*close >= s.params.MinNotionalKRW {
			s.entry = close
			s.stop, s.target = stopTarget(s.entry, s.params.StopLossPct, s.params.ProfitTargetPct)
			s.state = InPosition
			s.clearPending()
			s.pendingClientID = ""
		}
	case PendingExit:
		if !isSignificant(acct.CoinAvailable, close, s.params.MinNotionalKRW) {
			s.entry, s.stop, s.target = 0, 0, 0
			s.state = Flat
			s.clearPending()
			s.pendingClientID = ""
		}
	case Flat:
		if isSignificant(acct.CoinAvailable, close, s.params.MinNotionalKRW) {
			s.entry, s.stop, s.target = 0, 0, 0
			s.state = InPosition
		}
	case InPosition:
		if !isSignificant(acct.CoinAvailable, close, s.params.MinNotionalKRW) {
			s.entry, s.stop, s.target = 0, 0, 0
			s.state = Flat
		}
	}
}

// OnFill accumulates a partial (or full) fill against the currently pending
// order. It never changes state; only OnOrderUpdate's terminal transitions do.
func (s *Strategy) OnFill(e FillEvent) {
	if s.state != PendingEntry && s.state != PendingExit {
		return
	}
	if e.Identifier == "" || e.Identifier != s.pendingClientID {
		return
	}
	s.pendingFilledVolume += e.FilledVolume
	s.pendingCostSum += e.FillPrice * e.FilledVolume
	s.pendingLastPrice = e.FillPrice
}

// OnOrderUpdate handles a terminal order-status event for the pending order.
func (s *Strategy) OnOrderUpdate(e OrderStatusEvent) {
	if s.state != PendingEntry && s.state != PendingExit {
		return
	}
	if e.Identifier == "" || e.Identifier != s.pendingClientID {
		return
	}

	switch e.Status {
	case exchange.StatusRejected, exchange.StatusCanceled:
		if s.pendingFilledVolume == 0 {
			if s.state == PendingEntry {
				s.state = Flat
			} else {
				s.state = InPosition
			}
		} else {
			vwap := s.pendingCostSum / s.pendingFilledVolume
			if s.state == PendingEntry {
				s.entry = vwap
				s.stop, s.target = stopTarget(s.entry, s.params.StopLossPct, s.params.ProfitTargetPct)
			}
			s.state = InPosition
		}
	case exchange.StatusFilled:
		finalPrice := s.pendingLastPrice
		if s.pendingFilledVolume > 0 {
			finalPrice = s.pendingCostSum / s.pendingFilledVolume
		}
		if s.state == PendingEntry {
			s.entry = finalPrice
			s.stop, s.target = stopTarget(s.entry, s.params.StopLossPct, s.params.ProfitTargetPct)
			s.state = InPosition
		} else {
			s.entry, s.stop, s.target = 0, 0, 0
			s.state = Flat
		}
	default:
		return
	}

	s.clearPending()
	s.pendingClientID = ""
}

// OnSubmitFailed synchronously rolls back pending state when the engine
// rejects submission before any websocket event can arrive.
func (s *Strategy) OnSubmitFailed() {
	switch s.state {
	case PendingEntry:
		s.state = Flat
	case PendingExit:
		s.state = InPosition
	}
	s.clearPending()
	s.pendingClientID = ""
}

// SyncOnStart applies a reconciled startup position snapshot, clearing all
// pending state.
func (s *Strategy) SyncOnStart(snap PositionSnapshot) {
	s.clearPending()
	s.pendingClientID = ""
	if snap.Coin > 0 && snap.AvgEntryPrice > 0 {
		s.entry = snap.AvgEntryPrice
		s.stop, s.target = stopTarget(s.entry, s.params.StopLossPct, s.params.ProfitTargetPct)
		s.state = InPosition
		return
	}
	s.entry, s.stop, s.target = 0, 0, 0
	s.state = Flat
}
