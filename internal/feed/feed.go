package feed

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/emily-flambe/get-money-get-paid/internal/alpaca"
)

// Quote is the last known price of a symbol and where it came from.
type Quote struct {
	Price   float64   `json:"price"`
	Bid     float64   `json:"bid,omitempty"`
	Ask     float64   `json:"ask,omitempty"`
	Source  string    `json:"source"`
	Updated time.Time `json:"updated"`
}

// Prices maintains the last price per symbol.
type Prices struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewPrices() *Prices {
	return &Prices{quotes: make(map[string]Quote)}
}

func (p *Prices) UpdateTrade(t alpaca.Trade) {
	p.set(t.Symbol, Quote{Price: t.Price, Source: "trade", Updated: stamp(t.Time)})
}

func (p *Prices) UpdateBar(b alpaca.StreamBar) {
	p.set(b.Symbol, Quote{Price: b.Close, Source: "bar", Updated: stamp(b.Time)})
}

// UpdateQuote records the quote midpoint. One-sided quotes are ignored.
func (p *Prices) UpdateQuote(q alpaca.Quote) {
	mid := q.Mid()
	if mid <= 0 {
		return
	}
	p.set(q.Symbol, Quote{Price: mid, Bid: q.BidPrice, Ask: q.AskPrice, Source: "quote", Updated: stamp(q.Time)})
}

// Set records a price directly.
func (p *Prices) Set(symbol string, price float64) {
	p.set(symbol, Quote{Price: price, Source: "manual", Updated: time.Now().UTC()})
}

func (p *Prices) set(symbol string, q Quote) {
	if symbol == "" || q.Price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[symbol] = q
}

func (p *Prices) Get(symbol string) (Quote, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[symbol]
	return q, ok
}

// Last returns the last price for symbol.
func (p *Prices) Last(symbol string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return q.Price, nil
}

// Symbols returns all tracked symbols, sorted.
func (p *Prices) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.quotes))
	for s := range p.quotes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
