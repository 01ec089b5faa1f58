package strategy

import (
	"sync"

	"github.com/emily-flambe/get-money-get-paid/internal/indicators"
)

// BuyAndHold buys each symbol once and never sells. It is the benchmark the
// other strategies are compared against.
type BuyAndHold struct {
	*Base

	mu     sync.Mutex
	bought map[string]bool
}

func NewBuyAndHold(cfg Config) *BuyAndHold {
	return &BuyAndHold{
		Base:   newBase(cfg),
		bought: make(map[string]bool),
	}
}

func (s *BuyAndHold) OnTick(symbol string, price float64, _ indicators.Snapshot) *Signal {
	s.mu.Lock()
	if s.bought[symbol] {
		s.mu.Unlock()
		return nil
	}
	if s.HasPosition(symbol) {
		s.mu.Unlock()
		return nil
	}
	s.bought[symbol] = true
	s.mu.Unlock()
	return s.emit(Buy, symbol, price, "Buy and hold initial purchase")
}

// OnBar covers symbols whose first tick was missed.
func (s *BuyAndHold) OnBar(symbol string, bar Bar, snap indicators.Snapshot) *Signal {
	return s.OnTick(symbol, bar.Close, snap)
}
