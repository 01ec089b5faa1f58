package execution

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// OrderState tracks a submitted order.
type OrderState struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Status    string    `json:"status"`
	Strategy  string    `json:"strategy,omitempty"`
	Notional  float64   `json:"notional,omitempty"`
	Qty       float64   `json:"qty,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fill represents a single execution.
type Fill struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Price       float64   `json:"price"`
	Qty         float64   `json:"qty"`
	RealizedPnL float64   `json:"realized_pnl"`
	Strategy    string    `json:"strategy,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Position is a long-only holding with average entry and realized P&L.
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	TotalFills    int     `json:"total_fills"`
}

// Apply adjusts the position for a fill and returns the P&L realized by it.
// Buys blend the average entry price. Sells close at most the held qty.
func (p *Position) Apply(side string, qty, price float64) float64 {
	if qty <= 0 {
		return 0
	}
	p.TotalFills++

	if strings.EqualFold(side, "buy") {
		totalCost := p.AvgEntryPrice*p.Qty + price*qty
		p.Qty += qty
		p.AvgEntryPrice = totalCost / p.Qty
		return 0
	}

	closed := qty
	if closed > p.Qty {
		closed = p.Qty
	}
	pnl := (price - p.AvgEntryPrice) * closed
	p.RealizedPnL += pnl
	p.Qty -= closed
	if p.Qty <= 1e-9 {
		p.Qty = 0
		p.AvgEntryPrice = 0
	}
	return pnl
}

// Tracker records submitted orders, fills and the resulting positions.
type Tracker struct {
	mu        sync.RWMutex
	orders    map[string]*OrderState
	fills     []Fill
	positions map[string]*Position
	OnFill    func(Fill)
}

func NewTracker() *Tracker {
	return &Tracker{
		orders:    make(map[string]*OrderState),
		positions: make(map[string]*Position),
	}
}

// RegisterOrder records a submitted order. A repeated id updates its status.
func (t *Tracker) RegisterOrder(o OrderState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if existing, ok := t.orders[o.ID]; ok {
		existing.Status = o.Status
		existing.UpdatedAt = now
		return
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	t.orders[o.ID] = &o
}

// RecordFill appends a fill, updates the position and fires OnFill.
// The returned fill carries the realized P&L.
func (t *Tracker) RecordFill(f Fill) Fill {
	if f.Qty <= 0 {
		return f
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}

	t.mu.Lock()
	pos, ok := t.positions[f.Symbol]
	if !ok {
		pos = &Position{Symbol: f.Symbol}
		t.positions[f.Symbol] = pos
	}
	f.RealizedPnL = pos.Apply(f.Side, f.Qty, f.Price)
	t.fills = append(t.fills, f)
	if o, ok := t.orders[f.OrderID]; ok {
		o.Status = "filled"
		o.UpdatedAt = f.Timestamp
	}
	cb := t.OnFill
	t.mu.Unlock()

	if cb != nil {
		cb(f)
	}
	return f
}

// Position returns the position for symbol (nil if none).
func (t *Tracker) Position(symbol string) *Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[symbol]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// Positions returns open positions sorted by symbol.
func (t *Tracker) Positions() []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Position, 0, len(t.positions))
	for _, p := range t.positions {
		if p.Qty > 0 {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (t *Tracker) OrderCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.orders)
}

func (t *Tracker) TotalFills() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.fills)
}

// TotalRealizedPnL sums realized P&L across all positions.
func (t *Tracker) TotalRealizedPnL() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total float64
	for _, p := range t.positions {
		total += p.RealizedPnL
	}
	return total
}

// RecentFills returns the last N fills (most recent first).
func (t *Tracker) RecentFills(limit int) []Fill {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := len(t.fills)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Fill, limit)
	for i := 0; i < limit; i++ {
		out[i] = t.fills[n-1-i]
	}
	return out
}
