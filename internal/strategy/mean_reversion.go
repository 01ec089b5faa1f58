package strategy

import (
	"fmt"
	"math"

	"github.com/emily-flambe/get-money-get-paid/internal/indicators"
)

// MeanReversion buys when price falls well below its rolling mean and exits
// when it reverts or overshoots.
type MeanReversion struct {
	*Base
	window       int
	stdThreshold float64
	exit         float64
}

func NewMeanReversion(cfg Config) *MeanReversion {
	b := newBase(cfg)
	return &MeanReversion{
		Base:         b,
		window:       int(b.Param("window_seconds", 60)),
		stdThreshold: b.Param("std_threshold", 2.0),
		exit:         b.Param("exit_threshold", 0.5),
	}
}

func (m *MeanReversion) OnTick(symbol string, price float64, snap indicators.Snapshot) *Signal {
	mean, ok := snap.MeanFor(m.window)
	if !ok {
		return nil
	}
	std, ok := snap.StdFor(m.window)
	if !ok || std == 0 {
		return nil
	}
	if m.InCooldown(symbol) {
		return nil
	}

	z := (price - mean) / std
	held := m.HasPosition(symbol)

	switch {
	case z < -m.stdThreshold && !held:
		return m.emit(Buy, symbol, price, fmt.Sprintf("Oversold: z=%.2f < -%g", z, m.stdThreshold))
	case math.Abs(z) < m.exit && held:
		return m.emit(Sell, symbol, price, fmt.Sprintf("Reverted: z=%.2f within %g of mean", z, m.exit))
	case z > m.stdThreshold && held:
		return m.emit(Sell, symbol, price, fmt.Sprintf("Take profit: z=%.2f > %g", z, m.stdThreshold))
	}
	return nil
}
