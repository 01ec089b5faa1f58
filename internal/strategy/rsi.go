package strategy

import (
	"fmt"
	"sync"

	"github.com/emily-flambe/get-money-get-paid/internal/indicators"
)

// RSI trades oversold and overbought readings computed from recent ticks.
type RSI struct {
	*Base
	period     int
	oversold   float64
	overbought float64

	mu     sync.Mutex
	prices map[string][]float64 // last period+1 tick prices per symbol
}

func NewRSI(cfg Config) *RSI {
	b := newBase(cfg)
	period := int(b.Param("period", 14))
	if period < 1 {
		period = 14
	}
	return &RSI{
		Base:       b,
		period:     period,
		oversold:   b.Param("oversold", 30),
		overbought: b.Param("overbought", 70),
		prices:     make(map[string][]float64),
	}
}

// push records price and returns the RSI once period+1 prices are held.
func (r *RSI) push(symbol string, price float64) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	window := append(r.prices[symbol], price)
	if len(window) > r.period+1 {
		window = window[len(window)-(r.period+1):]
	}
	r.prices[symbol] = window
	if len(window) < r.period+1 {
		return 0, false
	}
	return RSIValue(window, r.period), true
}

func (r *RSI) OnTick(symbol string, price float64, _ indicators.Snapshot) *Signal {
	rsi, ok := r.push(symbol, price)
	if !ok {
		return nil
	}
	if r.InCooldown(symbol) {
		return nil
	}

	if rsi < r.oversold && !r.HasPosition(symbol) {
		return r.emit(Buy, symbol, price, fmt.Sprintf("RSI oversold: %.1f < %g", rsi, r.oversold))
	}
	if rsi > r.overbought && r.HasPosition(symbol) {
		return r.emit(Sell, symbol, price, fmt.Sprintf("RSI overbought: %.1f > %g", rsi, r.overbought))
	}
	return nil
}
