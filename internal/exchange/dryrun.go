package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DryRunAPI is an in-memory OrderAPI that fills every order immediately at
// its limit price, or for market orders at the latest reference price (plus
// a little simulated slippage in both cases), so the rest of
// the core can run end-to-end without touching the real exchange.
type DryRunAPI struct {
	mu        sync.Mutex
	krw       float64
	positions map[string]*AccountPosition
	orders    map[string]*Order
	rng       *rand.Rand

	feeRate     float64
	slippageBps float64
	refPrices   map[string]float64
}

// NewDryRunAPI builds a DryRunAPI seeded with initialKRW and no positions.
func NewDryRunAPI(initialKRW float64) *DryRunAPI {
	return &DryRunAPI{
		krw:         initialKRW,
		positions:   make(map[string]*AccountPosition),
		orders:      make(map[string]*Order),
		rng:         rand.New(rand.NewSource(1)),
		feeRate:     0.0005,
		slippageBps: 2,
		refPrices:   make(map[string]float64),
	}
}

// UpdatePrice records the latest traded price for market, so a subsequent
// market order has something to fill against. In dry-run mode the
// simulated market-data feed calls this on every tick it generates.
func (d *DryRunAPI) UpdatePrice(market string, price float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refPrices[market] = price
}

func (d *DryRunAPI) GetMyAccount(ctx context.Context) (AccountSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := AccountSnapshot{KRWFree: d.krw}
	for _, p := range d.positions {
		if p.Balance <= 0 {
			continue
		}
		cp := *p
		snap.Positions = append(snap.Positions, cp)
	}
	return snap, nil
}

func (d *DryRunAPI) GetOpenOrders(ctx context.Context, market string) ([]Order, error) {
	// Every dry-run order fills synchronously in PostOrder, so there is
	// never an open order left behind for StartupRecovery to cancel.
	return nil, nil
}

func (d *DryRunAPI) PostOrder(ctx context.Context, req OrderRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	price := req.Price
	if req.Type == TypeMarket {
		price = d.lastPrice(req.Market)
	}
	if price <= 0 {
		return "", &RestError{Kind: ErrInvalidArgument, Err: fmt.Errorf("dry-run: no reference price for %s", req.Market)}
	}

	noise := d.rng.Float64() * (d.slippageBps / 10000.0)
	if req.Side == SideBid {
		price *= 1 + noise
	} else {
		price *= 1 - noise
	}

	var volume float64
	switch req.Size.Kind {
	case SizeVolume:
		volume = req.Size.Volume
	case SizeAmount:
		volume = req.Size.Amount / price
	}
	funds := price * volume
	fee := funds * d.feeRate

	base := BaseOf(req.Market)
	quote := QuoteOf(req.Market)
	if quote != "KRW" {
		return "", &RestError{Kind: ErrInvalidArgument, Err: fmt.Errorf("dry-run: only KRW-quoted markets supported, got %s", req.Market)}
	}

	if req.Side == SideBid {
		cost := funds + fee
		if cost > d.krw {
			return "", &RestError{Kind: ErrBadStatus, Err: fmt.Errorf("dry-run: insufficient KRW: need %.0f, have %.0f", cost, d.krw)}
		}
		d.krw -= cost
		d.addPosition(base, quote, volume, price)
	} else {
		pos := d.positions[base]
		if pos == nil || pos.Balance < volume {
			return "", &RestError{Kind: ErrBadStatus, Err: fmt.Errorf("dry-run: insufficient %s balance", base)}
		}
		pos.Balance -= volume
		d.krw += funds - fee
	}

	id := uuid.NewString()
	d.orders[id] = &Order{
		ID:              id,
		Identifier:      req.Identifier,
		Market:          req.Market,
		Side:            req.Side,
		Type:            req.Type,
		Price:           &price,
		Volume:          &volume,
		ExecutedVolume:  volume,
		RemainingVolume: 0,
		PaidFee:         fee,
		ExecutedFunds:   funds,
		Status:          StatusFilled,
		CreatedAt:       time.Now(),
	}
	fmt.Printf("DRY-RUN: %s %s vol=%.8f price=%.2f fee=%.2f krw=%.0f\n",
		req.Side, req.Market, volume, price, fee, d.krw)
	return id, nil
}

func (d *DryRunAPI) CancelOrder(ctx context.Context, id, identifier string) (bool, error) {
	// Dry-run orders are already terminal by the time PostOrder returns.
	return false, nil
}

func (d *DryRunAPI) addPosition(base, quote string, volume, price float64) {
	pos, ok := d.positions[base]
	if !ok {
		d.positions[base] = &AccountPosition{Currency: base, UnitCurrency: quote, Balance: volume, AvgBuyPrice: price}
		return
	}
	totalCost := pos.Balance*pos.AvgBuyPrice + volume*price
	pos.Balance += volume
	if pos.Balance > 0 {
		pos.AvgBuyPrice = totalCost / pos.Balance
	}
}

// lastPrice returns the most recent price UpdatePrice recorded for market,
// falling back to the position's average buy price, then zero (rejected)
// when neither is available.
func (d *DryRunAPI) lastPrice(market string) float64 {
	if p, ok := d.refPrices[market]; ok && p > 0 {
		return p
	}
	if pos, ok := d.positions[BaseOf(market)]; ok {
		return pos.AvgBuyPrice
	}
	return 0
}

var _ OrderAPI = (*DryRunAPI)(nil)
