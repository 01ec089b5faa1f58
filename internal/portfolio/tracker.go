package portfolio

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emily-flambe/get-money-get-paid/internal/alpaca"
)

// AccountSource is the broker surface the tracker reads.
type AccountSource interface {
	Account(ctx context.Context) (alpaca.Account, error)
	Positions(ctx context.Context) ([]alpaca.Position, error)
}

// Tracker caches account equity, buying power and open positions between
// syncs. The owner decides when to call Sync.
type Tracker struct {
	source AccountSource

	mu          sync.RWMutex
	equity      float64
	buyingPower float64
	cash        float64
	positions   map[string]alpaca.Position
	lastSync    time.Time
}

func NewTracker(source AccountSource) *Tracker {
	return &Tracker{
		source:    source,
		positions: make(map[string]alpaca.Position),
	}
}

// Sync fetches the account and positions from the broker.
func (t *Tracker) Sync(ctx context.Context) error {
	acct, err := t.source.Account(ctx)
	if err != nil {
		return err
	}
	positions, err := t.source.Positions(ctx)
	if err != nil {
		return err
	}

	bySymbol := make(map[string]alpaca.Position, len(positions))
	for _, p := range positions {
		bySymbol[strings.ToUpper(p.Symbol)] = p
	}

	t.mu.Lock()
	t.equity = acct.Equity.InexactFloat64()
	t.buyingPower = acct.BuyingPower.InexactFloat64()
	t.cash = acct.Cash.InexactFloat64()
	t.positions = bySymbol
	t.lastSync = time.Now()
	t.mu.Unlock()
	return nil
}

func (t *Tracker) Equity() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.equity
}

func (t *Tracker) BuyingPower() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.buyingPower
}

func (t *Tracker) Cash() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cash
}

// MarketValue returns the cached market value held in symbol.
func (t *Tracker) MarketValue(symbol string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[strings.ToUpper(symbol)]
	if !ok {
		return 0
	}
	return p.MarketValue.InexactFloat64()
}

// Qty returns the cached share quantity held in symbol.
func (t *Tracker) Qty(symbol string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.positions[strings.ToUpper(symbol)].Qty
}

// ApplyFill adjusts the cached position between syncs so consecutive orders
// see their own effect.
func (t *Tracker) ApplyFill(symbol, side string, qty, price float64) {
	if qty <= 0 {
		return
	}
	key := strings.ToUpper(symbol)
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.positions[key]
	p.Symbol = key
	q := decimal.NewFromFloat(qty).Truncate(9)
	switch strings.ToLower(side) {
	case "buy":
		p.Qty = p.Qty.Add(q)
		p.MarketValue = p.MarketValue.Add(q.Mul(decimal.NewFromFloat(price)))
		t.positions[key] = p
	case "sell":
		p.Qty = p.Qty.Sub(q)
		if !p.Qty.IsPositive() {
			delete(t.positions, key)
			return
		}
		p.MarketValue = p.Qty.Mul(decimal.NewFromFloat(price))
		t.positions[key] = p
	}
}

// Positions returns cached positions sorted by symbol.
func (t *Tracker) Positions() []alpaca.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]alpaca.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// LastSync returns the time of the last successful sync.
func (t *Tracker) LastSync() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSync
}
