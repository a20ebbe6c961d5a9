package account

import (
	"runtime"
	"sync"
)

// Token is a scoped reservation minted by Manager.Reserve. It is single-
// threaded by convention (owned by the MarketEngine that requested it) but
// its internal mutex guards against the finalizer running on another
// goroutine. Go has no destructors; the finalizer below is the drop-path
// analogue of the source's RAII auto-release, armed on mint and disarmed by
// any explicit release path so it never double-refunds.
type Token struct {
	mgr    *Manager
	market string

	mu       sync.Mutex
	amount   float64
	consumed float64
	id       string
	active   bool
}

func newToken(mgr *Manager, market string, amount float64, id string) *Token {
	t := &Token{mgr: mgr, market: market, amount: amount, id: id, active: true}
	runtime.SetFinalizer(t, func(tok *Token) { tok.autoRelease() })
	return t
}

// autoRelease is the finalizer path: refund whatever is left, exactly once.
func (t *Token) autoRelease() {
	remaining := t.deactivate()
	if remaining <= 0 {
		return
	}
	t.mgr.releaseAmount(t.market, remaining)
	t.mgr.stats.Releases.Add(1)
}

// deactivate marks the token inactive and returns its unconsumed remainder.
// Returns 0 on every call after the first.
func (t *Token) deactivate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return 0
	}
	t.active = false
	runtime.SetFinalizer(t, nil)
	return t.amount - t.consumed
}

// consume drains up to amount from the token's remainder and returns the
// actually-consumed (clamped) portion.
func (t *Token) consume(amount float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return 0
	}
	remaining := t.amount - t.consumed
	if amount > remaining {
		amount = remaining
	}
	if amount < 0 {
		amount = 0
	}
	t.consumed += amount
	return amount
}

// Release refunds the token's unconsumed remainder via its owning Manager.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.mgr.Release(t)
}

// Active reports whether the token has not yet been released or finalized.
func (t *Token) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Remaining returns the unconsumed portion of the reservation.
func (t *Token) Remaining() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.amount - t.consumed
}

// Market returns the market this token is scoped to.
func (t *Token) Market() string { return t.market }

// ID returns the token's unique id.
func (t *Token) ID() string { return t.id }
