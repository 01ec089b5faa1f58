// Package performance computes return and risk statistics over an
// algorithm's daily equity snapshots.
package performance

import (
	"math"

	"github.com/shopspring/decimal"
)

// TradingDays annualizes daily Sharpe ratios.
const TradingDays = 252

// Performance is the summary served by the dashboard.
type Performance struct {
	AlgorithmID    string  `json:"algorithm_id"`
	Name           string  `json:"name,omitempty"`
	InitialEquity  float64 `json:"initial_equity"`
	FinalEquity    float64 `json:"final_equity"`
	TotalReturnPct float64 `json:"total_return_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	WinRate        float64 `json:"win_rate"`
	TotalTrades    int     `json:"total_trades"`
	DaysActive     int     `json:"days_active"`
}

// TotalReturn is the percentage change from initial to final, or 0 when
// initial is not positive.
func TotalReturn(initial, final float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (final - initial) / initial * 100
}

// DailyReturns returns fractional day-over-day changes. Steps from a
// non-positive equity are skipped.
func DailyReturns(equities []float64) []float64 {
	if len(equities) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equities)-1)
	for i := 1; i < len(equities); i++ {
		prev := equities[i-1]
		if prev > 0 {
			out = append(out, (equities[i]-prev)/prev)
		}
	}
	return out
}

// Sharpe is the annualized mean over population standard deviation of
// returns, with no risk-free rate.
func Sharpe(returns []float64, annualization float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	n := float64(len(returns))
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / n
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / n)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(annualization)
}

// MaxDrawdown is the largest peak-to-trough decline as a fraction. The
// peak starts at the first value.
func MaxDrawdown(equities []float64) float64 {
	if len(equities) == 0 {
		return 0
	}
	peak := equities[0]
	var maxDD float64
	for _, eq := range equities {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// WinRate is the fraction of strictly positive values.
func WinRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls))
}

// Summarize builds the performance summary for equities ordered by date.
// pnls are the realized P&L of closed trades. Everything is zero when
// there are no snapshots.
func Summarize(algoID string, equities []float64, tradeCount int, pnls []float64) Performance {
	if len(equities) == 0 {
		return Performance{AlgorithmID: algoID}
	}
	initial := equities[0]
	final := equities[len(equities)-1]
	return Performance{
		AlgorithmID:    algoID,
		InitialEquity:  round2(initial),
		FinalEquity:    round2(final),
		TotalReturnPct: round2(TotalReturn(initial, final)),
		SharpeRatio:    round2(Sharpe(DailyReturns(equities), TradingDays)),
		MaxDrawdownPct: round2(MaxDrawdown(equities) * 100),
		WinRate:        round2(WinRate(pnls)),
		TotalTrades:    tradeCount,
		DaysActive:     len(equities),
	}
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
