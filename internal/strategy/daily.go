package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"
)

// Action is the outcome of a daily-bar evaluation.
type Action string

const (
	Hold       Action = "hold"
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Decision is what the scheduled worker should do for one symbol.
type Decision struct {
	Action          Action
	Reason          string
	PositionSizePct float64
}

// RSIValue computes RSI over closes using simple averages of the last period
// changes. It returns 100 when there were no losses.
func RSIValue(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < 2 {
		return 0
	}
	var gains, losses []float64
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}
	avgGain := sumLast(gains, period) / float64(period)
	avgLoss := sumLast(losses, period) / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// SMA returns the simple moving average of the last period closes.
func SMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	out := talib.Sma(closes[len(closes)-period:], period)
	return out[len(out)-1], true
}

// MomentumPct is the percent change from start to end; 0 when start is 0.
func MomentumPct(start, end float64) float64 {
	if start == 0 {
		return 0
	}
	return (end - start) / start * 100
}

func ShouldBuySMACrossover(shortSMA, longSMA float64, hasPosition bool) bool {
	return shortSMA > longSMA && !hasPosition
}

func ShouldSellSMACrossover(shortSMA, longSMA float64, hasPosition bool) bool {
	return shortSMA < longSMA && hasPosition
}

func ShouldBuyRSI(rsi, oversold float64, hasPosition bool) bool {
	return rsi < oversold && !hasPosition
}

func ShouldSellRSI(rsi, overbought float64, hasPosition bool) bool {
	return rsi > overbought && hasPosition
}

func ShouldBuyMomentum(momentumPct, thresholdPct float64, hasPosition bool) bool {
	return momentumPct > thresholdPct && !hasPosition
}

func ShouldSellMomentum(momentumPct, thresholdPct float64, hasPosition bool) bool {
	return momentumPct < -thresholdPct && hasPosition
}

// DailyTypes are the strategy types the scheduled worker can run.
var DailyTypes = []string{"sma_crossover", "rsi", "momentum", "buy_and_hold"}

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

// BarsNeeded is the number of daily bars to request for a strategy type.
// Zero means the strategy does not need bars.
func BarsNeeded(typ string, params map[string]float64) int {
	switch typ {
	case "sma_crossover":
		return int(param(params, "long_period", 50)) + 5
	case "rsi":
		return int(param(params, "period", 14)) + 5
	case "momentum":
		return int(param(params, "lookback_days", 20)) + 1
	}
	return 0
}

// EvaluateDaily runs a daily-bar strategy over closes, oldest first.
func EvaluateDaily(typ string, params map[string]float64, closes []float64, hasPosition bool) (Decision, error) {
	size := param(params, "position_size_pct", 0.1)
	hold := Decision{Action: Hold, PositionSizePct: size}

	switch typ {
	case "sma_crossover":
		shortP := int(param(params, "short_period", 10))
		longP := int(param(params, "long_period", 50))
		if len(closes) < longP {
			return hold, nil
		}
		shortSMA, ok := SMA(closes, shortP)
		if !ok {
			return hold, nil
		}
		longSMA, _ := SMA(closes, longP)
		switch {
		case ShouldBuySMACrossover(shortSMA, longSMA, hasPosition):
			return Decision{Action: ActionBuy, Reason: "SMA crossover buy signal", PositionSizePct: size}, nil
		case ShouldSellSMACrossover(shortSMA, longSMA, hasPosition):
			return Decision{Action: ActionSell, Reason: "SMA crossover sell signal", PositionSizePct: size}, nil
		}
		return hold, nil

	case "rsi":
		period := int(param(params, "period", 14))
		if len(closes) < period+1 {
			return hold, nil
		}
		rsi := RSIValue(closes, period)
		switch {
		case ShouldBuyRSI(rsi, param(params, "oversold", 30), hasPosition):
			return Decision{Action: ActionBuy, Reason: fmt.Sprintf("RSI oversold (%.1f)", rsi), PositionSizePct: size}, nil
		case ShouldSellRSI(rsi, param(params, "overbought", 70), hasPosition):
			return Decision{Action: ActionSell, Reason: fmt.Sprintf("RSI overbought (%.1f)", rsi), PositionSizePct: size}, nil
		}
		return hold, nil

	case "momentum":
		lookback := int(param(params, "lookback_days", 20))
		if len(closes) < lookback || len(closes) == 0 {
			return hold, nil
		}
		m := MomentumPct(closes[0], closes[len(closes)-1])
		threshold := param(params, "threshold_pct", 5)
		switch {
		case ShouldBuyMomentum(m, threshold, hasPosition):
			return Decision{Action: ActionBuy, Reason: fmt.Sprintf("Momentum buy (%.1f%%)", m), PositionSizePct: size}, nil
		case ShouldSellMomentum(m, threshold, hasPosition):
			return Decision{Action: ActionSell, Reason: fmt.Sprintf("Momentum sell (%.1f%%)", m), PositionSizePct: size}, nil
		}
		return hold, nil

	case "buy_and_hold":
		size = param(params, "position_size_pct", 1.0)
		if !hasPosition {
			return Decision{Action: ActionBuy, Reason: "Buy and hold initial purchase", PositionSizePct: size}, nil
		}
		return Decision{Action: Hold, PositionSizePct: size}, nil
	}
	return hold, fmt.Errorf("strategy type %q has no daily rules", typ)
}

func sumLast(xs []float64, n int) float64 {
	if n > len(xs) {
		n = len(xs)
	}
	var s float64
	for _, x := range xs[len(xs)-n:] {
		s += x
	}
	return s
}
