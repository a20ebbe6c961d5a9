// Package enginemgr owns one worker goroutine per market: it binds that
// market's MarketEngine and Strategy to the goroutine, drains its router
// queues, and dispatches decisions back through the engine.
package enginemgr

import (
	"context"
	"log"
	"sync"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/exchange"
	"trading-core/internal/marketengine"
	"trading-core/internal/router"
	"trading-core/internal/strategy"
)

// ParseMyOrder maps a raw private-order frame to an order snapshot and, when
// the frame reports an executed trade, a trade as well. Either or both may be
// nil; the Manager applies whichever are set, snapshot first. The wire format
// itself is out of the core's scope; callers inject their exchange-specific
// mapper here.
type ParseMyOrder func(raw string) (order *exchange.Order, trade *exchange.MyTrade, err error)

// ParseMarketData maps a raw market-data frame to a trade-level Tick. ok is
// false for frames that carry no tradeable price (e.g. non-ticker frames).
// Bucketing ticks into finalized bars is the Manager's own job (§4.8's
// pending_candle rule), not the parser's.
type ParseMarketData func(raw string) (tick exchange.Tick, ok bool, err error)

// Config carries the per-manager tunables.
type Config struct {
	PollInterval time.Duration
	BarInterval  time.Duration
}

// MarketContext bundles one market's engine, strategy, and queues.
type MarketContext struct {
	Market   string
	Engine   *marketengine.Engine
	Strategy *strategy.Strategy
	Queues   *router.MarketQueues

	// pendingCandle is the in-progress bar for this market: store on its
	// first tick, overwrite while the bar stays open, finalize and hand off
	// the moment a tick from the next bar arrives. Touched only from this
	// market's own worker goroutine, so it needs no lock of its own.
	pendingCandle *exchange.Candle

	stopCh chan struct{}
	doneCh chan struct{}
}

// Manager owns a MarketContext per market and its worker lifecycle.
type Manager struct {
	cfg             Config
	acct            *account.Manager
	parseMyOrder    ParseMyOrder
	parseMarketData ParseMarketData

	mu       sync.Mutex
	contexts map[string]*MarketContext
	running  bool
}

// New builds a Manager. acct supplies the account snapshot each market's
// strategy self-heals against on every candle.
func New(cfg Config, acct *account.Manager, parseMyOrder ParseMyOrder, parseMarketData ParseMarketData) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.BarInterval <= 0 {
		cfg.BarInterval = time.Minute
	}
	return &Manager{
		cfg:             cfg,
		acct:            acct,
		parseMyOrder:    parseMyOrder,
		parseMarketData: parseMarketData,
		contexts:        make(map[string]*MarketContext),
	}
}

// AddMarket registers a market's engine/strategy pair and wires its queues
// into rt. Must be called before Start.
func (m *Manager) AddMarket(market string, eng *marketengine.Engine, strat *strategy.Strategy, rt *router.Router) *MarketContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx := &MarketContext{
		Market:   market,
		Engine:   eng,
		Strategy: strat,
		Queues:   rt.Register(market),
	}
	m.contexts[market] = ctx
	return ctx
}

// Start launches one worker goroutine per registered market. Idempotent:
// calling Start twice without an intervening Stop is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	for _, ctx := range m.contexts {
		ctx.stopCh = make(chan struct{})
		ctx.doneCh = make(chan struct{})
		go m.runWorker(ctx)
	}
}

// Stop signals every worker to exit and blocks until all have joined.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	contexts := make([]*MarketContext, 0, len(m.contexts))
	for _, ctx := range m.contexts {
		contexts = append(contexts, ctx)
	}
	m.mu.Unlock()

	for _, ctx := range contexts {
		close(ctx.stopCh)
	}
	for _, ctx := range contexts {
		<-ctx.doneCh
	}
}

func (m *Manager) runWorker(ctx *MarketContext) {
	defer close(ctx.doneCh)

	if err := ctx.Engine.BindToCurrentThread(); err != nil {
		log.Printf("enginemgr[%s]: failed to bind engine to worker goroutine: %v", ctx.Market, err)
		return
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.stopCh:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx *MarketContext) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("enginemgr[%s]: recovered from panic in worker tick: %v", ctx.Market, r)
		}
	}()

	// Private order events drain with priority over market data.
	for _, msg := range ctx.Queues.MyOrders.Drain() {
		m.handleMyOrder(ctx, msg)
	}
	for _, msg := range ctx.Queues.MarketData.Drain() {
		m.handleMarketData(ctx, msg)
	}

	for _, ev := range ctx.Engine.PollEvents() {
		switch ev.Kind {
		case marketengine.EventFill:
			ctx.Strategy.OnFill(strategy.FillEvent{
				Identifier:   ev.Identifier,
				OrderID:      ev.OrderID,
				TradeID:      ev.TradeID,
				Side:         ev.Side,
				FillPrice:    ev.FillPrice,
				FilledVolume: ev.FilledVolume,
			})
		case marketengine.EventStatus:
			ctx.Strategy.OnOrderUpdate(strategy.OrderStatusEvent{
				Identifier:      ev.Identifier,
				OrderID:         ev.OrderID,
				Status:          ev.Status,
				Side:            ev.Side,
				ExecutedVolume:  ev.ExecutedVolume,
				RemainingVolume: ev.RemainingVolume,
			})
		}
	}
}

func (m *Manager) handleMyOrder(ctx *MarketContext, msg router.Message) {
	order, trade, err := m.parseMyOrder(msg.Raw)
	if err != nil {
		log.Printf("enginemgr[%s]: dropping unparsable private-order frame: %v", ctx.Market, err)
		return
	}
	if order != nil {
		ctx.Engine.OnOrderSnapshot(*order)
	}
	if trade != nil {
		ctx.Engine.OnMyTrade(*trade)
	}
}

func (m *Manager) strategyAccountSnapshot(market string) strategy.AccountSnapshot {
	b, ok := m.acct.Budget(market)
	if !ok {
		return strategy.AccountSnapshot{}
	}
	return strategy.AccountSnapshot{KRWAvailable: b.AvailableKRW, CoinAvailable: b.CoinBalance}
}

func (m *Manager) handleMarketData(ctx *MarketContext, msg router.Message) {
	tick, ok, err := m.parseMarketData(msg.Raw)
	if err != nil {
		log.Printf("enginemgr[%s]: dropping unparsable market-data frame: %v", ctx.Market, err)
		return
	}
	if !ok {
		return
	}

	candle, finalized := m.foldTick(ctx, tick)
	if !finalized {
		return
	}

	decision := ctx.Strategy.OnCandle(candle, m.strategyAccountSnapshot(ctx.Market))
	if decision == nil || decision.Order == nil {
		return
	}

	if _, err := ctx.Engine.Submit(context.Background(), *decision.Order); err != nil {
		log.Printf("enginemgr[%s]: submit failed, rolling back strategy state: %v", ctx.Market, err)
		ctx.Strategy.OnSubmitFailed()
	}
}

// barStart floors a tick's timestamp to its containing bar's start.
func (m *Manager) barStart(tsMs int64) int64 {
	interval := m.cfg.BarInterval.Milliseconds()
	return (tsMs / interval) * interval
}

// foldTick applies one tick to ctx's in-progress bar. It stores the tick as
// a new bar on the first tick seen for a market, overwrites the bar's
// high/low/close/volume while later ticks still land in the same bar, and
// finalizes + hands off the prior bar the moment a tick from the next bar
// arrives — this is the pending_candle rule spec.md §4.8 assigns to the
// MarketContext, owned here rather than by the wire-format parser.
func (m *Manager) foldTick(ctx *MarketContext, tick exchange.Tick) (exchange.Candle, bool) {
	start := m.barStart(tick.TimestampMs)

	cur := ctx.pendingCandle
	if cur == nil {
		ctx.pendingCandle = &exchange.Candle{
			Market: tick.Market, Open: tick.Price, High: tick.Price, Low: tick.Price, Close: tick.Price,
			Volume: tick.Volume, StartTimestamp: start,
		}
		return exchange.Candle{}, false
	}

	if cur.StartTimestamp == start {
		cur.Close = tick.Price
		cur.Volume += tick.Volume
		if tick.Price > cur.High {
			cur.High = tick.Price
		}
		if tick.Price < cur.Low {
			cur.Low = tick.Price
		}
		return exchange.Candle{}, false
	}

	finalized := *cur
	ctx.pendingCandle = &exchange.Candle{
		Market: tick.Market, Open: tick.Price, High: tick.Price, Low: tick.Price, Close: tick.Price,
		Volume: tick.Volume, StartTimestamp: start,
	}
	return finalized, true
}
