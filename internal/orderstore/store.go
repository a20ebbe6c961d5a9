// Package orderstore holds the keyed registry of active and recently
// terminated orders shared across a market's engine and its observers.
package orderstore

import (
	"sync"

	"trading-core/internal/exchange"
)

// Store is a concurrent, keyed mapping of OrderId -> Order.
type Store struct {
	mu           sync.RWMutex
	orders       map[string]exchange.Order
	terminalFIFO []string
	maxCompleted int
}

// New builds a Store that purges terminal orders once the terminal FIFO
// exceeds maxCompleted entries.
func New(maxCompleted int) *Store {
	if maxCompleted <= 0 {
		maxCompleted = 1024
	}
	return &Store{
		orders:       make(map[string]exchange.Order),
		maxCompleted: maxCompleted,
	}
}

// Add inserts o if its id is non-empty and not already present.
func (s *Store) Add(o exchange.Order) bool {
	if o.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; exists {
		return false
	}
	s.orders[o.ID] = o
	if o.Status.Terminal() {
		s.terminalFIFO = append(s.terminalFIFO, o.ID)
	}
	return true
}

// Get returns a snapshot copy of the order, if present.
func (s *Store) Get(id string) (exchange.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// Update replaces an existing order. Returns false if id is absent.
func (s *Store) Update(o exchange.Order) bool {
	if o.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, exists := s.orders[o.ID]
	if !exists {
		return false
	}
	s.orders[o.ID] = o
	if !prev.Status.Terminal() && o.Status.Terminal() {
		s.terminalFIFO = append(s.terminalFIFO, o.ID)
	}
	return true
}

// Upsert inserts or replaces o. A terminal transition is recorded into the
// FIFO exactly once regardless of which caller observes it first.
func (s *Store) Upsert(o exchange.Order) {
	if o.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, exists := s.orders[o.ID]
	wasTerminal := exists && prev.Status.Terminal()
	s.orders[o.ID] = o
	if !wasTerminal && o.Status.Terminal() {
		s.terminalFIFO = append(s.terminalFIFO, o.ID)
	}
}

// GetOpenOrdersByMarket returns all non-terminal orders for market.
func (s *Store) GetOpenOrdersByMarket(market string) []exchange.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []exchange.Order
	for _, o := range s.orders {
		if o.Market == market && !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

// Cleanup drops the oldest terminal orders until the terminal FIFO length is
// at most maxCompleted, returning the number of orders dropped.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for len(s.terminalFIFO) > s.maxCompleted {
		id := s.terminalFIFO[0]
		s.terminalFIFO = s.terminalFIFO[1:]
		delete(s.orders, id)
		dropped++
	}
	return dropped
}

// Size returns the number of orders currently held (active + not-yet-purged terminal).
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
