package risk

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrEmergencyStop = errors.New("emergency stop active")
	ErrRateLimited   = errors.New("order rate limit reached")
	ErrCooldown      = errors.New("symbol in cooldown")
	ErrPositionLimit = errors.New("position limit exceeded")
	ErrNoPosition    = errors.New("no position to sell")
	ErrNotPaper      = errors.New("paper_only is set but base url is not a paper endpoint")
)

const rateWindow = time.Minute

type Config struct {
	PaperOnly          bool
	BaseURL            string
	MaxPositionPct     float64 // max market value per symbol as a fraction of equity
	MaxOrdersPerMinute int
	Cooldown           time.Duration // min time between orders on one symbol
}

// Snapshot is the externally visible state of the rails.
type Snapshot struct {
	MaxPositionPct     float64  `json:"max_position_pct"`
	MaxOrdersPerMinute int      `json:"max_orders_per_minute"`
	CooldownSeconds    float64  `json:"cooldown_seconds"`
	OrdersLastMinute   int      `json:"orders_last_minute"`
	CoolingSymbols     []string `json:"cooling_symbols"`
	EmergencyStop      bool     `json:"emergency_stop"`
	Blocked            int      `json:"blocked"`
}

// Manager enforces the order safety rails: rate limit, per-symbol cooldown,
// position cap and emergency stop.
type Manager struct {
	mu            sync.Mutex
	cfg           Config
	now           func() time.Time
	orderTimes    []time.Time
	lastOrder     map[string]time.Time
	emergencyStop bool
	blocked       int
}

// New validates cfg and returns a Manager. Zero limits take defaults.
func New(cfg Config) (*Manager, error) {
	if cfg.PaperOnly && !strings.Contains(cfg.BaseURL, "paper") {
		return nil, fmt.Errorf("%w: %s", ErrNotPaper, cfg.BaseURL)
	}
	if cfg.MaxPositionPct <= 0 {
		cfg.MaxPositionPct = 0.25
	}
	if cfg.MaxOrdersPerMinute <= 0 {
		cfg.MaxOrdersPerMinute = 10
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	return &Manager{
		cfg:       cfg,
		now:       time.Now,
		lastOrder: make(map[string]time.Time),
	}, nil
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Check runs the rails for an order on symbol. dollars is the buy notional;
// equity and marketValue describe the account and the current holding.
// The position cap is skipped when equity is unknown.
func (m *Manager) Check(symbol, side string, dollars, equity, marketValue float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now)

	err := m.checkLocked(now, symbol, side, dollars, equity, marketValue)
	if err != nil {
		m.blocked++
	}
	return err
}

func (m *Manager) checkLocked(now time.Time, symbol, side string, dollars, equity, marketValue float64) error {
	if m.emergencyStop {
		return ErrEmergencyStop
	}
	if len(m.orderTimes) >= m.cfg.MaxOrdersPerMinute {
		return fmt.Errorf("%w: %d/%d in the last minute", ErrRateLimited, len(m.orderTimes), m.cfg.MaxOrdersPerMinute)
	}
	if last, ok := m.lastOrder[symbol]; ok {
		if elapsed := now.Sub(last); elapsed < m.cfg.Cooldown {
			return fmt.Errorf("%w: %s %.1fs remaining", ErrCooldown, symbol, (m.cfg.Cooldown - elapsed).Seconds())
		}
	}
	if strings.EqualFold(side, "buy") && equity > 0 {
		pct := (marketValue + dollars) / equity
		if pct > m.cfg.MaxPositionPct {
			return fmt.Errorf("%w for %s: %.1f%% > %.1f%%", ErrPositionLimit, symbol, pct*100, m.cfg.MaxPositionPct*100)
		}
	}
	return nil
}

// Record registers a successfully submitted order on symbol.
func (m *Manager) Record(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.orderTimes = append(m.orderTimes, now)
	m.lastOrder[symbol] = now
}

// pruneLocked drops order times outside the rate window. Caller must hold m.mu.
func (m *Manager) pruneLocked(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(m.orderTimes) && !m.orderTimes[i].After(cutoff) {
		i++
	}
	if i > 0 {
		m.orderTimes = append(m.orderTimes[:0:0], m.orderTimes[i:]...)
	}
}

func (m *Manager) SetEmergencyStop(stop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStop = stop
}

func (m *Manager) EmergencyStop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergencyStop
}

// Snapshot returns the current limits and usage.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.pruneLocked(now)

	var cooling []string
	for sym, last := range m.lastOrder {
		if now.Sub(last) < m.cfg.Cooldown {
			cooling = append(cooling, sym)
		}
	}
	sort.Strings(cooling)

	return Snapshot{
		MaxPositionPct:     m.cfg.MaxPositionPct,
		MaxOrdersPerMinute: m.cfg.MaxOrdersPerMinute,
		CooldownSeconds:    m.cfg.Cooldown.Seconds(),
		OrdersLastMinute:   len(m.orderTimes),
		CoolingSymbols:     cooling,
		EmergencyStop:      m.emergencyStop,
		Blocked:            m.blocked,
	}
}

// BlockReason maps a Check error to a short label for metrics and logs.
func BlockReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmergencyStop):
		return "emergency_stop"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, ErrCooldown):
		return "cooldown"
	case errors.Is(err, ErrPositionLimit):
		return "position_limit"
	case errors.Is(err, ErrNoPosition):
		return "no_position"
	}
	return "other"
}
