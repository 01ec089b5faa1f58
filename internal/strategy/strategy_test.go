package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emily-flambe/get-money-get-paid/internal/indicators"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newClock() *testClock {
	return &testClock{t: time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)}
}

func momentumSnap(window int, pct float64) indicators.Snapshot {
	return indicators.Snapshot{
		TickCount: 10,
		Momentum:  map[int]float64{window: pct},
		Mean:      map[int]float64{},
		Std:       map[int]float64{},
	}
}

func statSnap(window int, mean, std float64) indicators.Snapshot {
	return indicators.Snapshot{
		TickCount: 10,
		Momentum:  map[int]float64{},
		Mean:      map[int]float64{window: mean},
		Std:       map[int]float64{window: std},
	}
}

func testConfig(typ string, params map[string]float64) Config {
	cfg := DefaultConfig()
	cfg.Name = typ + "_test"
	cfg.Type = typ
	cfg.Symbols = []string{"SPY"}
	cfg.Params = params
	return cfg
}

func TestMomentumBuyAndExit(t *testing.T) {
	clock := newClock()
	m := NewMomentum(testConfig("momentum", nil))
	m.SetClock(clock.now)

	assert.Nil(t, m.OnTick("SPY", 100, momentumSnap(10, 0.01)), "below threshold")
	assert.Nil(t, m.OnTick("SPY", 100, momentumSnap(30, 1.0)), "wrong window")

	sig := m.OnTick("SPY", 100, momentumSnap(10, 0.06))
	require.NotNil(t, sig)
	assert.Equal(t, Buy, sig.Type)
	assert.Equal(t, "momentum_test", sig.StrategyName)
	assert.Equal(t, "buy", sig.Side())
	assert.Contains(t, sig.Reason, "Momentum")

	m.UpdatePosition("SPY", 2)
	assert.Nil(t, m.OnTick("SPY", 99, momentumSnap(10, -0.5)), "cooldown blocks the exit")

	clock.t = clock.t.Add(6 * time.Second)
	sig = m.OnTick("SPY", 99, momentumSnap(10, -0.5))
	require.NotNil(t, sig)
	assert.Equal(t, Sell, sig.Type)
}

func TestMomentumCustomParams(t *testing.T) {
	m := NewMomentum(testConfig("momentum", map[string]float64{
		"threshold_pct":    0.2,
		"lookback_seconds": 30,
	}))
	assert.Nil(t, m.OnTick("SPY", 100, momentumSnap(30, 0.1)))
	assert.NotNil(t, m.OnTick("SPY", 100, momentumSnap(30, 0.3)))
}

func TestMeanReversionSignals(t *testing.T) {
	clock := newClock()
	s := NewMeanReversion(testConfig("mean_reversion", nil))
	s.SetClock(clock.now)

	assert.Nil(t, s.OnTick("SPY", 100, statSnap(60, 100, 0)), "zero std is skipped")

	sig := s.OnTick("SPY", 95, statSnap(60, 100, 2))
	require.NotNil(t, sig)
	assert.Equal(t, Buy, sig.Type)
	assert.Contains(t, sig.Reason, "Oversold")

	s.UpdatePosition("SPY", 1)
	clock.t = clock.t.Add(10 * time.Second)
	sig = s.OnTick("SPY", 100.5, statSnap(60, 100, 2))
	require.NotNil(t, sig)
	assert.Equal(t, Sell, sig.Type)
	assert.Contains(t, sig.Reason, "Reverted")

	clock.t = clock.t.Add(10 * time.Second)
	sig = s.OnTick("SPY", 105, statSnap(60, 100, 2))
	require.NotNil(t, sig)
	assert.Contains(t, sig.Reason, "Take profit")
}

func TestRSIStrategyNeedsFullWindow(t *testing.T) {
	s := NewRSI(testConfig("rsi", map[string]float64{"period": 3}))
	snap := indicators.Snapshot{}

	assert.Nil(t, s.OnTick("SPY", 100, snap))
	assert.Nil(t, s.OnTick("SPY", 99, snap))
	assert.Nil(t, s.OnTick("SPY", 98, snap))
	sig := s.OnTick("SPY", 97, snap)
	require.NotNil(t, sig, "falling prices give RSI 0")
	assert.Equal(t, Buy, sig.Type)
}

func TestRSIStrategySellsOverbought(t *testing.T) {
	s := NewRSI(testConfig("rsi", map[string]float64{"period": 3}))
	s.UpdatePosition("SPY", 5)
	var sig *Signal
	for _, p := range []float64{100, 101, 102, 103} {
		sig = s.OnTick("SPY", p, indicators.Snapshot{})
	}
	require.NotNil(t, sig)
	assert.Equal(t, Sell, sig.Type)
}

func TestSMACrossoverNeedsPreviousState(t *testing.T) {
	clock := newClock()
	s := NewSMACrossover(testConfig("sma_crossover", nil))
	s.SetClock(clock.now)

	snap := func(short, long float64) indicators.Snapshot {
		return indicators.Snapshot{
			TickCount: 20,
			Mean:      map[int]float64{30: short, 120: long},
		}
	}

	assert.Nil(t, s.OnTick("SPY", 100, snap(101, 100)), "first observation only records state")
	assert.Nil(t, s.OnTick("SPY", 100, snap(99, 100)))

	sig := s.OnTick("SPY", 100, snap(101, 100))
	require.NotNil(t, sig)
	assert.Equal(t, Buy, sig.Type)

	s.UpdatePosition("SPY", 1)
	clock.t = clock.t.Add(time.Minute)
	sig = s.OnTick("SPY", 100, snap(98, 100))
	require.NotNil(t, sig)
	assert.Equal(t, Sell, sig.Type)
}

func TestBuyAndHoldBuysOnce(t *testing.T) {
	s := NewBuyAndHold(testConfig("buy_and_hold", nil))

	sig := s.OnBar("SPY", Bar{Symbol: "SPY", Close: 412.5}, indicators.Snapshot{})
	require.NotNil(t, sig)
	assert.Equal(t, 412.5, sig.Price)

	assert.Nil(t, s.OnTick("SPY", 413, indicators.Snapshot{}))
	assert.NotNil(t, s.OnTick("QQQ", 350, indicators.Snapshot{}))
}

func TestBaseDefaultsAndPositions(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.1, cfg.PositionSizePct)
	assert.Equal(t, 1000.0, cfg.CashAllocation)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 100.0, cfg.DollarsPerTrade())

	m := NewMomentum(testConfig("momentum", nil))
	assert.False(t, m.HasPosition("SPY"))
	m.UpdatePosition("SPY", 3)
	assert.Equal(t, map[string]float64{"SPY": 3}, m.Positions())
	assert.Nil(t, m.OnBar("SPY", Bar{}, indicators.Snapshot{}))
}

func TestRegistry(t *testing.T) {
	for _, typ := range Types() {
		s, err := New(testConfig(typ, nil))
		require.NoError(t, err, typ)
		assert.Equal(t, typ+"_test", s.Name())
	}
	assert.Len(t, Types(), 5)

	_, err := New(testConfig("martingale", nil))
	assert.Error(t, err)

	cfg := testConfig("momentum", nil)
	cfg.Name = ""
	_, err = New(cfg)
	assert.Error(t, err)

	assert.True(t, IsKnownType("rsi"))
	assert.False(t, IsKnownType("grid"))
}
