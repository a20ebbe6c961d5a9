// Package marketengine implements the per-market order-lifecycle state
// machine: it owns reservations, submits orders, applies fills, and emits
// engine events for its strategy to consume.
package marketengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"trading-core/internal/account"
	"trading-core/internal/exchange"
	"trading-core/internal/orderstore"
)

// Config carries the §6 tunables the engine needs.
type Config struct {
	ReserveMargin       float64 // e.g. 1.001
	MaxSeenTrades       int     // e.g. 20000
	CleanupEvery        int     // terminal-transition count that triggers OrderStore.Cleanup; e.g. 100
	DefaultTradeFeeRate float64 // not read by the Engine; trade fees are applied exactly as reported on MyTrade.Fee
}

// EngineEventKind distinguishes the two shapes of EngineEvent.
type EngineEventKind int

const (
	EventFill EngineEventKind = iota
	EventStatus
)

// EngineEvent is produced by the engine on trade/snapshot processing and
// drained by the owning worker once per tick.
type EngineEvent struct {
	Kind            EngineEventKind
	Identifier      string
	OrderID         string
	TradeID         string
	Side            exchange.OrderSide
	FillPrice       float64
	FilledVolume    float64
	Status          exchange.OrderStatus
	ExecutedVolume  float64
	RemainingVolume float64
}

// ErrKind classifies why Submit rejected a request.
type ErrKind int

const (
	ErrInvalidArgument ErrKind = iota
	ErrOrderRejected
	ErrInsufficientFunds
	ErrMarketNotSupported
	ErrInternal
)

// SubmitError is returned by Submit on any rejection.
type SubmitError struct {
	Kind ErrKind
	Msg  string
}

func (e *SubmitError) Error() string { return e.Msg }

// Engine is a single market's order-lifecycle state machine. Every public
// method except BindToCurrentThread asserts it is called from the
// goroutine that bound it; violation is a fatal programming error, matching
// the source's bindToCurrentThread()+per-call assertion.
type Engine struct {
	market string
	cfg    Config
	store  *orderstore.Store
	acct   *account.Manager
	api    exchange.OrderAPI

	bound          bool
	ownerGoroutine uint64

	activeBuyToken    *account.Token
	activeBuyOrderID  string
	activeSellOrderID string

	events []EngineEvent

	seenTrades    map[string]struct{}
	seenTradeFIFO []string

	terminalCount int
}

// New builds an Engine for market. It must be bound to a goroutine via
// BindToCurrentThread before any other method is called.
func New(market string, cfg Config, store *orderstore.Store, acct *account.Manager, api exchange.OrderAPI) *Engine {
	if cfg.MaxSeenTrades <= 0 {
		cfg.MaxSeenTrades = 20_000
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = 100
	}
	if cfg.ReserveMargin <= 0 {
		cfg.ReserveMargin = 1.001
	}
	return &Engine{
		market:     market,
		cfg:        cfg,
		store:      store,
		acct:       acct,
		api:        api,
		seenTrades: make(map[string]struct{}),
	}
}

// BindToCurrentThread captures the calling goroutine as this engine's sole
// owner. Returns an error if the goroutine id cannot be determined.
func (e *Engine) BindToCurrentThread() error {
	id := goroutineID()
	if id == 0 {
		return errors.New("marketengine: unable to determine goroutine id")
	}
	e.ownerGoroutine = id
	e.bound = true
	return nil
}

func (e *Engine) assertOwner() {
	if !e.bound {
		panic(fmt.Sprintf("marketengine[%s]: used before BindToCurrentThread", e.market))
	}
	if id := goroutineID(); id != 0 && id != e.ownerGoroutine {
		panic(fmt.Sprintf("marketengine[%s]: accessed from foreign goroutine %d (owner %d)", e.market, id, e.ownerGoroutine))
	}
}

func validateOrderRequest(req exchange.OrderRequest) error {
	if req.Market == "" {
		return errors.New("market must not be empty")
	}
	switch req.Size.Kind {
	case exchange.SizeVolume:
		if req.Size.Volume <= 0 {
			return errors.New("volume must be positive")
		}
	case exchange.SizeAmount:
		if req.Size.Amount <= 0 {
			return errors.New("amount must be positive")
		}
	default:
		return errors.New("size must be either volume or amount")
	}

	switch req.Type {
	case exchange.TypeLimit:
		if req.Price <= 0 {
			return errors.New("limit order requires a positive price")
		}
		if req.Size.Kind != exchange.SizeVolume {
			return errors.New("limit order requires volume size")
		}
	case exchange.TypeMarket:
		if req.Price != 0 {
			return errors.New("market order must not specify a price")
		}
		if req.Side == exchange.SideBid && req.Size.Kind != exchange.SizeAmount {
			return errors.New("market buy requires amount size")
		}
		if req.Side == exchange.SideAsk && req.Size.Kind != exchange.SizeVolume {
			return errors.New("market sell requires volume size")
		}
	default:
		return errors.New("unknown order type")
	}
	return nil
}

// Submit validates and submits an order request, reserving capital for BIDs
// and enforcing the at-most-one-active-order-per-side invariants.
func (e *Engine) Submit(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	e.assertOwner()

	if err := validateOrderRequest(req); err != nil {
		return exchange.Order{}, &SubmitError{Kind: ErrInvalidArgument, Msg: err.Error()}
	}
	if req.Market != e.market {
		return exchange.Order{}, &SubmitError{Kind: ErrMarketNotSupported, Msg: "request market does not match this engine"}
	}

	var token *account.Token
	if req.Side == exchange.SideBid {
		if e.activeBuyToken != nil {
			return exchange.Order{}, &SubmitError{Kind: ErrOrderRejected, Msg: "already has pending buy order"}
		}
		if e.activeSellOrderID != "" {
			return exchange.Order{}, &SubmitError{Kind: ErrOrderRejected, Msg: "cannot submit buy while sell order is active"}
		}

		var reserveAmount float64
		switch req.Size.Kind {
		case exchange.SizeAmount:
			reserveAmount = req.Size.Amount * e.cfg.ReserveMargin
		case exchange.SizeVolume:
			reserveAmount = req.Price * req.Size.Volume * e.cfg.ReserveMargin
		}
		tok, err := e.acct.Reserve(e.market, reserveAmount)
		if err != nil {
			return exchange.Order{}, &SubmitError{Kind: ErrInsufficientFunds, Msg: err.Error()}
		}
		token = tok
	} else {
		if e.activeSellOrderID != "" {
			return exchange.Order{}, &SubmitError{Kind: ErrOrderRejected, Msg: "already has pending sell order"}
		}
		if e.activeBuyToken != nil {
			return exchange.Order{}, &SubmitError{Kind: ErrOrderRejected, Msg: "cannot submit sell while buy order is active"}
		}
	}

	orderID, err := e.api.PostOrder(ctx, req)
	if err != nil || orderID == "" {
		if token != nil {
			token.Release()
		}
		msg := "postOrder returned an empty order id"
		if err != nil {
			msg = err.Error()
		}
		return exchange.Order{}, &SubmitError{Kind: ErrInternal, Msg: msg}
	}

	if req.Side == exchange.SideBid {
		e.activeBuyToken = token
		e.activeBuyOrderID = orderID
	} else {
		e.activeSellOrderID = orderID
	}

	o := exchange.Order{
		ID:         orderID,
		Identifier: req.Identifier,
		Market:     req.Market,
		Side:       req.Side,
		Type:       req.Type,
		Status:     exchange.StatusPending,
		CreatedAt:  time.Now(),
	}
	if req.Size.Kind == exchange.SizeVolume {
		v := req.Size.Volume
		o.Volume = &v
		o.RemainingVolume = v
	}
	if req.Type == exchange.TypeLimit {
		p := req.Price
		o.Price = &p
	}
	e.store.Upsert(o)
	return o, nil
}

func makeTradeDedupeKey(t exchange.MyTrade) string {
	if t.TradeID != "" {
		return t.TradeID
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%.10f|%.10f|%.10f|%.10f|%s",
		t.OrderID, t.Side, t.Market, t.Price, t.Volume, t.ExecutedFunds, t.Fee, t.Identifier)
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) recordSeenTrade(key string) {
	e.seenTrades[key] = struct{}{}
	e.seenTradeFIFO = append(e.seenTradeFIFO, key)
	if len(e.seenTradeFIFO) > e.cfg.MaxSeenTrades {
		oldest := e.seenTradeFIFO[0]
		e.seenTradeFIFO = e.seenTradeFIFO[1:]
		delete(e.seenTrades, oldest)
	}
}

// OnMyTrade applies a private trade fill: dedupes, emits a Fill event when
// an identifier is known, and mutates the account ledger exactly once per
// trade id.
func (e *Engine) OnMyTrade(t exchange.MyTrade) {
	e.assertOwner()
	if t.Market != e.market {
		return
	}

	key := makeTradeDedupeKey(t)
	if _, seen := e.seenTrades[key]; seen {
		return
	}
	e.recordSeenTrade(key)

	ord, ok := e.store.Get(t.OrderID)
	if !ok {
		log.Printf("marketengine[%s]: trade for unknown order %s dropped", e.market, t.OrderID)
		return
	}

	identifier := t.Identifier
	if identifier == "" {
		identifier = ord.Identifier
	}
	if identifier != "" {
		e.events = append(e.events, EngineEvent{
			Kind:         EventFill,
			Identifier:   identifier,
			OrderID:      t.OrderID,
			TradeID:      t.TradeID,
			Side:         t.Side,
			FillPrice:    t.Price,
			FilledVolume: t.Volume,
		})
	}

	if t.Side == exchange.SideBid {
		if e.activeBuyToken != nil && e.activeBuyOrderID == t.OrderID {
			e.acct.FinalizeFillBuy(e.activeBuyToken, t.ExecutedFunds+t.Fee, t.Volume, t.Price)
		} else {
			log.Printf("marketengine[%s]: BID fill for %s dropped (no matching active token)", e.market, t.OrderID)
		}
	} else {
		net := t.ExecutedFunds - t.Fee
		if net < 0 {
			net = 0
		}
		e.acct.FinalizeFillSell(e.market, t.Volume, net)
	}
}

func (e *Engine) finalizeBuyToken(orderID string) {
	if e.activeBuyToken == nil || e.activeBuyOrderID != orderID {
		log.Printf("marketengine[%s]: finalizeBuyToken mismatch for %s", e.market, orderID)
		return
	}
	e.acct.FinalizeOrder(e.activeBuyToken)
	e.activeBuyToken = nil
	e.activeBuyOrderID = ""
}

// OnOrderStatus applies an authoritative status transition by order id.
func (e *Engine) OnOrderStatus(orderID string, status exchange.OrderStatus) {
	e.assertOwner()
	ord, ok := e.store.Get(orderID)
	if !ok {
		return
	}
	if ord.Market != e.market {
		return
	}

	wasTerminal := ord.Status.Terminal()
	ord.Status = status
	if status == exchange.StatusFilled {
		ord.RemainingVolume = 0
	}
	e.store.Update(ord)

	if !wasTerminal && status.Terminal() {
		if ord.Side == exchange.SideBid && orderID == e.activeBuyOrderID {
			e.finalizeBuyToken(orderID)
		} else if ord.Side == exchange.SideAsk && orderID == e.activeSellOrderID {
			e.activeSellOrderID = ""
		}
		e.terminalCount++
		if e.terminalCount%e.cfg.CleanupEvery == 0 {
			e.store.Cleanup()
		}
	}
}

// OnOrderSnapshot applies the authoritative exchange view of an order,
// emitting a Status engine event on a terminal transition.
func (e *Engine) OnOrderSnapshot(snap exchange.Order) {
	e.assertOwner()
	if snap.Market != "" && snap.Market != e.market {
		return
	}

	existing, ok := e.store.Get(snap.ID)
	if !ok {
		e.store.Upsert(snap)
		return
	}

	wasTerminal := existing.Status.Terminal()
	merged := existing
	merged.ExecutedVolume = snap.ExecutedVolume
	merged.RemainingVolume = snap.RemainingVolume
	merged.TradesCount = snap.TradesCount
	merged.ReservedFee = snap.ReservedFee
	merged.PaidFee = snap.PaidFee
	merged.RemainingFee = snap.RemainingFee
	merged.Locked = snap.Locked
	merged.ExecutedFunds = snap.ExecutedFunds
	if snap.Price != nil {
		merged.Price = snap.Price
	}
	if snap.Volume != nil {
		merged.Volume = snap.Volume
	}
	if !snap.CreatedAt.IsZero() {
		merged.CreatedAt = snap.CreatedAt
	}
	if snap.Identifier != "" {
		merged.Identifier = snap.Identifier
	}
	statusChanged := merged.Status != snap.Status
	merged.Status = snap.Status

	e.store.Update(merged)

	if statusChanged && !wasTerminal && merged.Status.Terminal() {
		e.events = append(e.events, EngineEvent{
			Kind:            EventStatus,
			Identifier:      merged.Identifier,
			OrderID:         merged.ID,
			Side:            merged.Side,
			Status:          merged.Status,
			ExecutedVolume:  merged.ExecutedVolume,
			RemainingVolume: merged.RemainingVolume,
		})
		if merged.Side == exchange.SideBid && e.activeBuyToken != nil && e.activeBuyOrderID == merged.ID {
			e.finalizeBuyToken(merged.ID)
		} else if merged.Side == exchange.SideAsk && e.activeSellOrderID == merged.ID {
			e.activeSellOrderID = ""
		}
	}
}

// PollEvents drains and returns the event queue accumulated since the last call.
func (e *Engine) PollEvents() []EngineEvent {
	e.assertOwner()
	if len(e.events) == 0 {
		return nil
	}
	out := e.events
	e.events = nil
	return out
}
