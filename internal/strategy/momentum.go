package strategy

import (
	"fmt"

	"github.com/emily-flambe/get-money-get-paid/internal/indicators"
)

// Momentum buys on a fast move up and exits on a reversal.
//
// Params:
//   - threshold_pct: minimum percent move over the lookback to buy (0.05 = 0.05%)
//   - exit_threshold_pct: percent drop over the lookback that exits
//   - lookback_seconds: momentum window, must be one of the buffer's windows
type Momentum struct {
	*Base
	threshold float64
	exit      float64
	lookback  int
}

func NewMomentum(cfg Config) *Momentum {
	b := newBase(cfg)
	return &Momentum{
		Base:      b,
		threshold: b.Param("threshold_pct", 0.05),
		exit:      b.Param("exit_threshold_pct", 0.03),
		lookback:  int(b.Param("lookback_seconds", 10)),
	}
}

func (m *Momentum) OnTick(symbol string, price float64, snap indicators.Snapshot) *Signal {
	momentum, ok := snap.MomentumFor(m.lookback)
	if !ok {
		return nil
	}
	if m.InCooldown(symbol) {
		return nil
	}

	if momentum > m.threshold && !m.HasPosition(symbol) {
		return m.emit(Buy, symbol, price, fmt.Sprintf("Momentum %.3f%% > %g%%", momentum, m.threshold))
	}
	if momentum < -m.exit && m.HasPosition(symbol) {
		return m.emit(Sell, symbol, price, fmt.Sprintf("Reversal %.3f%% < -%g%%", momentum, m.exit))
	}
	return nil
}
