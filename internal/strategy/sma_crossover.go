package strategy

import (
	"fmt"
	"sync"

	"github.com/emily-flambe/get-money-get-paid/internal/indicators"
)

// SMACrossover approximates short and long moving averages with the tick
// buffer's rolling means and trades when they cross.
type SMACrossover struct {
	*Base
	short int
	long  int

	mu         sync.Mutex
	shortAbove map[string]bool
}

func NewSMACrossover(cfg Config) *SMACrossover {
	b := newBase(cfg)
	return &SMACrossover{
		Base:       b,
		short:      int(b.Param("short_window_seconds", 30)),
		long:       int(b.Param("long_window_seconds", 120)),
		shortAbove: make(map[string]bool),
	}
}

func (s *SMACrossover) OnTick(symbol string, price float64, snap indicators.Snapshot) *Signal {
	shortSMA, ok := snap.MeanFor(s.short)
	if !ok {
		return nil
	}
	longSMA, ok := snap.MeanFor(s.long)
	if !ok {
		return nil
	}
	if s.InCooldown(symbol) {
		return nil
	}

	above := shortSMA > longSMA
	s.mu.Lock()
	prev, seen := s.shortAbove[symbol]
	s.shortAbove[symbol] = above
	s.mu.Unlock()
	if !seen {
		return nil
	}

	if above && !prev && !s.HasPosition(symbol) {
		return s.emit(Buy, symbol, price, fmt.Sprintf("Golden cross: SMA%ds %.2f > SMA%ds %.2f", s.short, shortSMA, s.long, longSMA))
	}
	if !above && prev && s.HasPosition(symbol) {
		return s.emit(Sell, symbol, price, fmt.Sprintf("Death cross: SMA%ds %.2f < SMA%ds %.2f", s.short, shortSMA, s.long, longSMA))
	}
	return nil
}
