// Package sharedapi provides a synchronous facade over the exchange order
// API that serializes every call across all markets: at most one REST call
// is ever in flight on the underlying client.
package sharedapi

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"trading-core/internal/exchange"
)

// noCopy marks Facade as non-copyable for `go vet -copylocks`; the facade
// also must not be relocated after its mutex has been used.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Facade serializes GetMyAccount/GetOpenOrders/PostOrder/CancelOrder calls
// to inner behind a single mutex and a token-bucket limiter sized to the
// exchange's documented REST budget.
type Facade struct {
	_ noCopy

	mu      sync.Mutex
	limiter *rate.Limiter
	inner   exchange.OrderAPI

	inFlight atomic.Int64
}

// New wraps inner with a single-caller mutex and a requests-per-second limiter.
func New(inner exchange.OrderAPI, rps float64, burst int) *Facade {
	return &Facade{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// InFlight reports the number of calls currently executing against the
// underlying client (0 or 1 by construction; exposed for test observability).
func (f *Facade) InFlight() int64 { return f.inFlight.Load() }

func (f *Facade) enter(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.inFlight.Add(1)
	return nil
}

func (f *Facade) leave() {
	f.inFlight.Add(-1)
	f.mu.Unlock()
}

// GetMyAccount serializes a call to inner.GetMyAccount.
func (f *Facade) GetMyAccount(ctx context.Context) (exchange.AccountSnapshot, error) {
	if err := f.enter(ctx); err != nil {
		return exchange.AccountSnapshot{}, err
	}
	defer f.leave()
	return f.inner.GetMyAccount(ctx)
}

// GetOpenOrders serializes a call to inner.GetOpenOrders.
func (f *Facade) GetOpenOrders(ctx context.Context, market string) ([]exchange.Order, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	defer f.leave()
	return f.inner.GetOpenOrders(ctx, market)
}

// PostOrder serializes a call to inner.PostOrder.
func (f *Facade) PostOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	if err := f.enter(ctx); err != nil {
		return "", err
	}
	defer f.leave()
	return f.inner.PostOrder(ctx, req)
}

// CancelOrder serializes a call to inner.CancelOrder.
func (f *Facade) CancelOrder(ctx context.Context, id, identifier string) (bool, error) {
	if err := f.enter(ctx); err != nil {
		return false, err
	}
	defer f.leave()
	return f.inner.CancelOrder(ctx, id, identifier)
}

var _ exchange.OrderAPI = (*Facade)(nil)
