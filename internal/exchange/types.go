// Package exchange defines the contracts the trading core consumes from its
// external collaborators: the signed REST client, the websocket feed, and
// the JSON-to-domain mapper. No wire format is fixed here.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBid OrderSide = "BID"
	SideAsk OrderSide = "ASK"
)

// OrderType distinguishes market orders from limit orders.
type OrderType string

const (
	TypeMarket OrderType = "MARKET"
	TypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusOpen     OrderStatus = "OPEN"
	StatusPending  OrderStatus = "PENDING"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
)

// Terminal reports whether status is sticky (Filled/Canceled/Rejected).
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	default:
		return false
	}
}

// SizeKind selects which field of OrderSize is populated.
type SizeKind int

const (
	SizeVolume SizeKind = iota // base-currency volume (sells, limit orders)
	SizeAmount                 // quote-currency amount (market buys)
)

// OrderSize is a tagged union: exactly one of Volume/Amount applies per Kind.
type OrderSize struct {
	Kind   SizeKind
	Volume float64
	Amount float64
}

// OrderRequest is what a strategy decision turns into before it reaches the engine.
type OrderRequest struct {
	Market     string
	Side       OrderSide
	Type       OrderType
	Price      float64 // quote currency, limit orders only
	Size       OrderSize
	Identifier string // client-order-id, stable across restarts
}

// Order is the canonical per-order snapshot held by OrderStore.
type Order struct {
	ID              string
	Identifier      string
	Market          string
	Side            OrderSide
	Type            OrderType
	Price           *float64
	Volume          *float64
	ExecutedVolume  float64
	RemainingVolume float64
	TradesCount     int
	ReservedFee     float64
	PaidFee         float64
	RemainingFee    float64
	Locked          float64
	ExecutedFunds   float64
	Status          OrderStatus
	CreatedAt       time.Time
}

// MyTrade is a single fill reported on the private user stream.
type MyTrade struct {
	OrderID          string
	TradeID          string // dedupe key when present
	Market           string
	Side             OrderSide
	Price            float64
	Volume           float64
	ExecutedFunds    float64
	Fee              float64
	IsMaker          *bool
	TradeTimestampMs int64
	Identifier       string
}

// Tick is one trade-level update off the market-data feed: the raw unit the
// core buckets into Candles. Exchanges that stream pre-built bars can still
// produce one Tick per bar; exchanges that stream trade-level prints (like
// Upbit) produce many per bar.
type Tick struct {
	Market      string
	Price       float64
	Volume      float64
	TimestampMs int64
}

// Candle is one OHLCV bar from the market-data feed.
type Candle struct {
	Market         string
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Volume         float64
	StartTimestamp int64
}

// AccountPosition is one non-quote-currency balance line from the exchange snapshot.
type AccountPosition struct {
	Currency     string // base currency, e.g. "BTC"
	UnitCurrency string // quote currency the position is valued in, e.g. "KRW"
	Balance      float64
	AvgBuyPrice  float64
}

// AccountSnapshot is the exchange's authoritative account state.
type AccountSnapshot struct {
	KRWFree   float64
	Positions []AccountPosition
}

// RestErrorKind classifies a failed call to the order API.
type RestErrorKind int

const (
	ErrUnknown RestErrorKind = iota
	ErrResolveFailed
	ErrConnectFailed
	ErrHandshakeFailed
	ErrWriteFailed
	ErrReadFailed
	ErrTimeout
	ErrBadStatus
	ErrInvalidArgument
	ErrParseError
)

// RestError wraps a transport- or exchange-level failure with a stable kind
// the engine can classify on, independent of the underlying client's error type.
type RestError struct {
	Kind       RestErrorKind
	HTTPStatus int
	Err        error
}

func (e *RestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rest error (kind=%d status=%d): %v", e.Kind, e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("rest error (kind=%d status=%d)", e.Kind, e.HTTPStatus)
}

func (e *RestError) Unwrap() error { return e.Err }

// OrderAPI is the signed REST surface the core depends on. Concrete
// implementations are DryRunAPI in this package and the client under
// pkg/exchanges/upbit.
type OrderAPI interface {
	GetMyAccount(ctx context.Context) (AccountSnapshot, error)
	GetOpenOrders(ctx context.Context, market string) ([]Order, error)
	PostOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, id, identifier string) (bool, error)
}

// BaseOf returns the base currency of a "QUOTE-BASE" market string.
func BaseOf(market string) string {
	if _, base, ok := strings.Cut(market, "-"); ok {
		return base
	}
	return market
}

// QuoteOf returns the quote currency of a "QUOTE-BASE" market string.
func QuoteOf(market string) string {
	if quote, _, ok := strings.Cut(market, "-"); ok {
		return quote
	}
	return ""
}
