package strategy

import (
	"sort"
	"sync"
	"time"

	"github.com/emily-flambe/get-money-get-paid/internal/indicators"
)

type SignalType string

const (
	Buy  SignalType = "buy"
	Sell SignalType = "sell"
)

// Signal is a strategy's request to trade a symbol.
type Signal struct {
	Type         SignalType
	Symbol       string
	StrategyName string
	Reason       string
	Price        float64
	Timestamp    time.Time
}

// Side returns the order side for the signal.
func (s Signal) Side() string { return string(s.Type) }

// Bar is an OHLCV bar delivered to strategies.
type Bar struct {
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Time   time.Time
}

// Config describes one strategy instance.
type Config struct {
	Name            string             `yaml:"name" json:"name"`
	Type            string             `yaml:"type" json:"type"`
	Symbols         []string           `yaml:"symbols" json:"symbols"`
	Params          map[string]float64 `yaml:"params" json:"params"`
	PositionSizePct float64            `yaml:"position_size_pct" json:"position_size_pct"`
	CashAllocation  float64            `yaml:"cash_allocation" json:"cash_allocation"`
	Enabled         bool               `yaml:"enabled" json:"enabled"`
	AlgorithmID     string             `yaml:"algorithm_id" json:"algorithm_id,omitempty"`
}

// DefaultConfig returns the per-strategy defaults applied before decoding.
func DefaultConfig() Config {
	return Config{
		PositionSizePct: 0.1,
		CashAllocation:  1000,
		Enabled:         true,
	}
}

// DollarsPerTrade is the notional a buy signal from this strategy is worth.
func (c Config) DollarsPerTrade() float64 {
	return c.CashAllocation * c.PositionSizePct
}

// Strategy reacts to ticks and bars with trade signals.
type Strategy interface {
	Name() string
	Symbols() []string
	Enabled() bool
	Config() Config
	OnTick(symbol string, price float64, snap indicators.Snapshot) *Signal
	OnBar(symbol string, bar Bar, snap indicators.Snapshot) *Signal
	Position(symbol string) float64
	Positions() map[string]float64
	UpdatePosition(symbol string, qty float64)
}

const defaultSignalCooldown = 5 * time.Second

// Base carries the state shared by all strategies: positions per symbol and
// a per-symbol signal cooldown.
type Base struct {
	cfg      Config
	cooldown time.Duration
	now      func() time.Time

	mu         sync.Mutex
	positions  map[string]float64
	lastSignal map[string]time.Time
}

func newBase(cfg Config) *Base {
	return &Base{
		cfg:        cfg,
		cooldown:   defaultSignalCooldown,
		now:        time.Now,
		positions:  make(map[string]float64),
		lastSignal: make(map[string]time.Time),
	}
}

func (b *Base) Name() string      { return b.cfg.Name }
func (b *Base) Symbols() []string { return append([]string(nil), b.cfg.Symbols...) }
func (b *Base) Enabled() bool     { return b.cfg.Enabled }
func (b *Base) Config() Config    { return b.cfg }

// SetClock replaces the time source used for cooldowns and timestamps.
func (b *Base) SetClock(now func() time.Time) { b.now = now }

// SetSignalCooldown overrides the per-symbol cooldown between signals.
func (b *Base) SetSignalCooldown(d time.Duration) { b.cooldown = d }

// OnBar is a no-op unless a strategy overrides it.
func (b *Base) OnBar(string, Bar, indicators.Snapshot) *Signal { return nil }

func (b *Base) Param(key string, def float64) float64 {
	if v, ok := b.cfg.Params[key]; ok {
		return v
	}
	return def
}

func (b *Base) Position(symbol string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions[symbol]
}

func (b *Base) Positions() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.positions))
	for k, v := range b.positions {
		out[k] = v
	}
	return out
}

func (b *Base) UpdatePosition(symbol string, qty float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[symbol] = qty
}

func (b *Base) HasPosition(symbol string) bool { return b.Position(symbol) > 0 }

// InCooldown reports whether symbol signalled within the cooldown.
func (b *Base) InCooldown(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	last, ok := b.lastSignal[symbol]
	return ok && b.now().Sub(last) < b.cooldown
}

// emit records the signal time for symbol and builds the signal.
func (b *Base) emit(typ SignalType, symbol string, price float64, reason string) *Signal {
	now := b.now()
	b.mu.Lock()
	b.lastSignal[symbol] = now
	b.mu.Unlock()
	return &Signal{
		Type:         typ,
		Symbol:       symbol,
		StrategyName: b.cfg.Name,
		Reason:       reason,
		Price:        price,
		Timestamp:    now,
	}
}

// Types returns the registered strategy type names, sorted.
func Types() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
