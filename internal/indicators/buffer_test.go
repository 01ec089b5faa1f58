package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBuffer() (*TickBuffer, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)}
	b := NewTickBuffer(DefaultConfig())
	b.SetClock(clock.now)
	return b, clock
}

func TestIndicatorsEmptyBelowTwoTicks(t *testing.T) {
	b, _ := newTestBuffer()
	assert.False(t, b.Indicators("SPY").Ready())

	b.Add("SPY", 100, 10, time.Time{})
	snap := b.Indicators("SPY")
	assert.False(t, snap.Ready())
	assert.Zero(t, snap.TickCount)
}

func TestMomentumUsesFirstTickInWindow(t *testing.T) {
	b, clock := newTestBuffer()
	b.Add("SPY", 100, 1, time.Time{})
	clock.advance(3 * time.Second)
	b.Add("SPY", 101, 1, time.Time{})
	clock.advance(3 * time.Second)
	b.Add("SPY", 102, 1, time.Time{})

	snap := b.Indicators("SPY")
	require.True(t, snap.Ready())
	assert.Equal(t, 3, snap.TickCount)
	assert.Equal(t, 102.0, snap.LastPrice)

	// 10s window reaches back to the first tick.
	m10, ok := snap.MomentumFor(10)
	require.True(t, ok)
	assert.InDelta(t, 2.0, m10, 1e-9)

	// 5s window starts at the 101 tick.
	m5, ok := snap.MomentumFor(5)
	require.True(t, ok)
	assert.InDelta(t, (102.0-101.0)/101.0*100, m5, 1e-9)
}

func TestMomentumOmittedForZeroStartPrice(t *testing.T) {
	b, clock := newTestBuffer()
	b.Add("X", 0, 1, time.Time{})
	clock.advance(time.Second)
	b.Add("X", 5, 1, time.Time{})

	snap := b.Indicators("X")
	_, ok := snap.MomentumFor(10)
	assert.False(t, ok)
}

func TestMeanStdNeedFiveSamples(t *testing.T) {
	b, clock := newTestBuffer()
	prices := []float64{10, 12, 14, 16}
	for _, p := range prices {
		b.Add("QQQ", p, 1, time.Time{})
		clock.advance(time.Second)
	}
	_, ok := b.Indicators("QQQ").MeanFor(30)
	assert.False(t, ok, "four samples is below the minimum")

	b.Add("QQQ", 18, 1, time.Time{})
	snap := b.Indicators("QQQ")
	mean, ok := snap.MeanFor(30)
	require.True(t, ok)
	assert.InDelta(t, 14.0, mean, 1e-9)

	std, ok := snap.StdFor(30)
	require.True(t, ok)
	// sample std of 10,12,14,16,18
	assert.InDelta(t, math.Sqrt(10), std, 1e-9)
}

func TestVWAPAndEviction(t *testing.T) {
	b, clock := newTestBuffer()
	b.Add("AAPL", 100, 10, time.Time{})
	clock.advance(time.Second)
	b.Add("AAPL", 110, 30, time.Time{})

	snap := b.Indicators("AAPL")
	require.True(t, snap.HasVWAP)
	assert.InDelta(t, (100*10+110*30)/40.0, snap.VWAP, 1e-9)

	// Push the first two ticks out of the 120s window.
	clock.advance(125 * time.Second)
	b.Add("AAPL", 120, 5, time.Time{})
	clock.advance(time.Second)
	b.Add("AAPL", 130, 5, time.Time{})

	assert.Equal(t, 2, b.Len("AAPL"))
	snap = b.Indicators("AAPL")
	assert.InDelta(t, 125.0, snap.VWAP, 1e-9)
}

func TestVWAPOmittedWithoutVolume(t *testing.T) {
	b, clock := newTestBuffer()
	b.Add("IWM", 50, 0, time.Time{})
	clock.advance(time.Second)
	b.Add("IWM", 51, 0, time.Time{})

	snap := b.Indicators("IWM")
	assert.False(t, snap.HasVWAP)
	assert.Zero(t, snap.VWAP)
}

func TestSymbolsLastPriceReset(t *testing.T) {
	b, _ := newTestBuffer()
	b.Add("SPY", 400, 1, time.Time{})
	b.Add("AAPL", 180, 1, time.Time{})

	assert.Equal(t, []string{"AAPL", "SPY"}, b.Symbols())
	p, ok := b.LastPrice("SPY")
	require.True(t, ok)
	assert.Equal(t, 400.0, p)

	b.Reset("SPY")
	_, ok = b.LastPrice("SPY")
	assert.False(t, ok)
	assert.Equal(t, []string{"AAPL"}, b.Symbols())
}
