// Package router demultiplexes the single websocket stream the exchange
// hands the core into per-market queues, routing market-data frames and
// private order frames to the right MarketQueues without fully parsing
// every message on the fast path.
package router

import (
	"bytes"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
)

// MessageKind distinguishes the two frame families carried on the stream.
type MessageKind int

const (
	MessageMarketData MessageKind = iota
	MessageMyOrder
)

// Message is a raw frame tagged with its kind, queued for its market's worker.
type Message struct {
	Kind MessageKind
	Raw  string
}

// Stats are atomic counters for routing observability.
type Stats struct {
	FastPathSuccess  atomic.Uint64
	FallbackUsed     atomic.Uint64
	ParseFailures    atomic.Uint64
	ConflictDetected atomic.Uint64
	UnknownMarket    atomic.Uint64
	TotalRouted      atomic.Uint64
}

// Router owns the per-market queue set and demuxes incoming frames onto them.
type Router struct {
	mu      sync.RWMutex
	markets map[string]*MarketQueues
	stats   Stats
	queueCap int
}

// New builds an empty Router. queueCap sizes each market's BoundedQueue.
func New(queueCap int) *Router {
	return &Router{markets: make(map[string]*MarketQueues), queueCap: queueCap}
}

// Register installs a market's queue pair, building one if absent.
func (r *Router) Register(market string) *MarketQueues {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mq, ok := r.markets[market]; ok {
		return mq
	}
	mq := &MarketQueues{
		MarketData: NewBoundedQueue(r.queueCap),
		MyOrders:   NewUnboundedQueue(),
	}
	r.markets[market] = mq
	return mq
}

func (r *Router) lookup(market string) (*MarketQueues, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mq, ok := r.markets[market]
	return mq, ok
}

// RouteMarketData dispatches a raw market-data frame to its market's
// bounded queue. Returns true on successful dispatch, false on parse
// failure, unknown market, or a code/market conflict.
func (r *Router) RouteMarketData(raw string) bool {
	return r.route(raw, MessageMarketData)
}

// RouteMyOrder dispatches a raw private order frame to its market's
// unbounded queue. Returns true on successful dispatch, false on parse
// failure, unknown market, or a code/market conflict.
func (r *Router) RouteMyOrder(raw string) bool {
	return r.route(raw, MessageMyOrder)
}

func (r *Router) route(raw string, kind MessageKind) bool {
	r.stats.TotalRouted.Add(1)

	market, ok := extractMarketFast(raw)
	if ok {
		r.stats.FastPathSuccess.Add(1)
	} else {
		r.stats.FallbackUsed.Add(1)
		m, err := extractMarketSlow(raw)
		if err != nil {
			if err == errConflict {
				r.stats.ConflictDetected.Add(1)
			} else {
				r.stats.ParseFailures.Add(1)
			}
			log.Printf("router: dropping unparsable frame: %v", err)
			return false
		}
		market = m
		ok = true
	}

	mq, found := r.lookup(market)
	if !found {
		r.stats.UnknownMarket.Add(1)
		log.Printf("router: dropping frame for unregistered market %q", market)
		return false
	}

	msg := Message{Kind: kind, Raw: raw}
	switch kind {
	case MessageMarketData:
		mq.MarketData.Push(msg)
	case MessageMyOrder:
		mq.MyOrders.Push(msg)
	}
	return true
}

// extractMarketFast performs a lexical scan for "code" or "market" string
// fields without invoking the JSON decoder, bailing (ok=false) the moment
// it sees a backslash escape, a second distinct market-bearing field, or
// malformed quoting — any of which falls through to extractMarketSlow.
func extractMarketFast(raw string) (string, bool) {
	if bytes.IndexByte([]byte(raw), '\\') != -1 {
		return "", false
	}

	code, codeOK := extractStringField(raw, "code")
	market, marketOK := extractStringField(raw, "market")

	switch {
	case codeOK && marketOK:
		if code != market {
			return "", false // conflicting fields: let the slow path arbitrate
		}
		return code, true
	case codeOK:
		return code, true
	case marketOK:
		return market, true
	default:
		return "", false
	}
}

// extractStringField finds `"key":"value"` (allowing whitespace around the
// colon) and returns value, or ok=false if the key is absent or malformed.
func extractStringField(raw, key string) (string, bool) {
	needle := `"` + key + `"`
	idx := indexOf(raw, needle)
	if idx < 0 {
		return "", false
	}
	rest := raw[idx+len(needle):]
	i := 0
	for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t') {
		i++
	}
	if i >= len(rest) || rest[i] != ':' {
		return "", false
	}
	i++
	for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t') {
		i++
	}
	if i >= len(rest) || rest[i] != '"' {
		return "", false
	}
	i++
	start := i
	for i < len(rest) && rest[i] != '"' {
		i++
	}
	if i >= len(rest) {
		return "", false
	}
	return rest[start:i], true
}

func indexOf(s, sub string) int {
	return bytes.Index([]byte(s), []byte(sub))
}

type slowFields struct {
	Code   string `json:"code"`
	Market string `json:"market"`
}

// extractMarketSlow fully parses raw to resolve the market field,
// preferring "code" and falling back to "market", and errors on a
// genuine conflict between the two.
func extractMarketSlow(raw string) (string, error) {
	var f slowFields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return "", err
	}
	if f.Code != "" && f.Market != "" && f.Code != f.Market {
		return "", errConflict
	}
	if f.Code != "" {
		return f.Code, nil
	}
	return f.Market, nil
}

var errConflict = jsonConflictError{}

type jsonConflictError struct{}

func (jsonConflictError) Error() string { return "router: conflicting code/market fields" }

// StatsSnapshot returns a point-in-time read of the routing counters.
func (r *Router) StatsSnapshot() (fastPath, fallback, parseFailures, conflicts, unknownMarket, total uint64) {
	return r.stats.FastPathSuccess.Load(), r.stats.FallbackUsed.Load(), r.stats.ParseFailures.Load(),
		r.stats.ConflictDetected.Load(), r.stats.UnknownMarket.Load(), r.stats.TotalRouted.Load()
}
