package indicators

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Tick is a single trade print.
type Tick struct {
	Price float64
	Size  float64
	Time  time.Time
}

// Config controls the rolling windows computed by a TickBuffer.
type Config struct {
	MaxAge          time.Duration
	MomentumWindows []int // seconds
	StatWindows     []int // seconds
	MinStatSamples  int
}

// DefaultConfig returns a two-minute buffer with the standard windows.
func DefaultConfig() Config {
	return Config{
		MaxAge:          120 * time.Second,
		MomentumWindows: []int{5, 10, 15, 30, 60},
		StatWindows:     []int{30, 60, 120},
		MinStatSamples:  5,
	}
}

// Snapshot is the indicator set for one symbol at one instant.
// Windows missing from a map did not have enough data.
type Snapshot struct {
	TickCount int
	LastPrice float64
	Momentum  map[int]float64 // window seconds -> percent change
	Mean      map[int]float64
	Std       map[int]float64
	VWAP      float64
	HasVWAP   bool
}

// Ready reports whether the snapshot carries any indicators.
func (s Snapshot) Ready() bool { return s.TickCount >= 2 }

func (s Snapshot) MomentumFor(seconds int) (float64, bool) {
	v, ok := s.Momentum[seconds]
	return v, ok
}

func (s Snapshot) MeanFor(seconds int) (float64, bool) {
	v, ok := s.Mean[seconds]
	return v, ok
}

func (s Snapshot) StdFor(seconds int) (float64, bool) {
	v, ok := s.Std[seconds]
	return v, ok
}

type series struct {
	ticks    []Tick
	notional float64 // running sum of price*size over ticks
	volume   float64 // running sum of size over ticks
}

// TickBuffer keeps a rolling window of ticks per symbol.
type TickBuffer struct {
	mu      sync.RWMutex
	cfg     Config
	now     func() time.Time
	symbols map[string]*series
}

// NewTickBuffer creates a TickBuffer. Zero fields in cfg take defaults.
func NewTickBuffer(cfg Config) *TickBuffer {
	def := DefaultConfig()
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if len(cfg.MomentumWindows) == 0 {
		cfg.MomentumWindows = def.MomentumWindows
	}
	if len(cfg.StatWindows) == 0 {
		cfg.StatWindows = def.StatWindows
	}
	if cfg.MinStatSamples < 2 {
		cfg.MinStatSamples = def.MinStatSamples
	}
	return &TickBuffer{
		cfg:     cfg,
		now:     time.Now,
		symbols: make(map[string]*series),
	}
}

// SetClock replaces the buffer's time source.
func (b *TickBuffer) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Add appends a tick and evicts everything older than MaxAge.
// A zero ts stamps the tick with the current time. Ticks must arrive in
// time order.
func (b *TickBuffer) Add(symbol string, price, size float64, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if ts.IsZero() {
		ts = now
	}
	s, ok := b.symbols[symbol]
	if !ok {
		s = &series{}
		b.symbols[symbol] = s
	}
	s.ticks = append(s.ticks, Tick{Price: price, Size: size, Time: ts})
	s.notional += price * size
	s.volume += size
	b.evict(s, now)
}

// evict removes expired ticks. Caller must hold b.mu.
func (b *TickBuffer) evict(s *series, now time.Time) {
	cutoff := now.Add(-b.cfg.MaxAge)
	i := 0
	for i < len(s.ticks) && s.ticks[i].Time.Before(cutoff) {
		s.notional -= s.ticks[i].Price * s.ticks[i].Size
		s.volume -= s.ticks[i].Size
		i++
	}
	if i == 0 {
		return
	}
	s.ticks = append(s.ticks[:0:0], s.ticks[i:]...)
	if len(s.ticks) == 0 {
		s.notional, s.volume = 0, 0
	}
}

// Indicators computes the indicator snapshot for symbol.
func (b *TickBuffer) Indicators(symbol string) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.symbols[symbol]
	if !ok || len(s.ticks) < 2 {
		return Snapshot{}
	}
	now := b.now()
	ticks := s.ticks
	last := ticks[len(ticks)-1].Price

	snap := Snapshot{
		TickCount: len(ticks),
		LastPrice: last,
		Momentum:  make(map[int]float64, len(b.cfg.MomentumWindows)),
		Mean:      make(map[int]float64, len(b.cfg.StatWindows)),
		Std:       make(map[int]float64, len(b.cfg.StatWindows)),
	}

	for _, w := range b.cfg.MomentumWindows {
		i := firstSince(ticks, now.Add(-time.Duration(w)*time.Second))
		if i >= len(ticks) {
			continue
		}
		p0 := ticks[i].Price
		if p0 == 0 {
			continue
		}
		snap.Momentum[w] = (last - p0) / p0 * 100
	}

	for _, w := range b.cfg.StatWindows {
		i := firstSince(ticks, now.Add(-time.Duration(w)*time.Second))
		window := ticks[i:]
		if len(window) < b.cfg.MinStatSamples {
			continue
		}
		mean, std := meanStd(window)
		snap.Mean[w] = mean
		snap.Std[w] = std
	}

	if s.volume > 0 {
		snap.VWAP = s.notional / s.volume
		snap.HasVWAP = true
	}
	return snap
}

// LastPrice returns the most recent price for symbol.
func (b *TickBuffer) LastPrice(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.symbols[symbol]
	if !ok || len(s.ticks) == 0 {
		return 0, false
	}
	return s.ticks[len(s.ticks)-1].Price, true
}

// Len returns the number of buffered ticks for symbol.
func (b *TickBuffer) Len(symbol string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.symbols[symbol]; ok {
		return len(s.ticks)
	}
	return 0
}

// Symbols returns all symbols with buffered ticks, sorted.
func (b *TickBuffer) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.symbols))
	for sym, s := range b.symbols {
		if len(s.ticks) > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Reset drops all ticks for symbol.
func (b *TickBuffer) Reset(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.symbols, symbol)
}

// firstSince returns the index of the first tick at or after cutoff.
func firstSince(ticks []Tick, cutoff time.Time) int {
	return sort.Search(len(ticks), func(i int) bool {
		return !ticks[i].Time.Before(cutoff)
	})
}

// meanStd returns the mean and sample standard deviation of the window prices.
func meanStd(window []Tick) (float64, float64) {
	n := float64(len(window))
	var sum float64
	for _, t := range window {
		sum += t.Price
	}
	mean := sum / n
	var sq float64
	for _, t := range window {
		d := t.Price - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / (n - 1))
}
