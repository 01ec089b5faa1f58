package risk

import (
	"errors"
	"testing"
	"time"
)

const paperURL = "https://paper-api.alpaca.markets"

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }

func newTestManager(t *testing.T, cfg Config) (*Manager, *stepClock) {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = paperURL
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := &stepClock{t: time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)}
	m.SetClock(clock.now)
	return m, clock
}

func TestNewRejectsLiveURLWhenPaperOnly(t *testing.T) {
	_, err := New(Config{PaperOnly: true, BaseURL: "https://api.alpaca.markets"})
	if !errors.Is(err, ErrNotPaper) {
		t.Fatalf("expected ErrNotPaper, got %v", err)
	}
	if _, err := New(Config{PaperOnly: false, BaseURL: "https://api.alpaca.markets"}); err != nil {
		t.Fatalf("expected live url allowed without paper_only, got %v", err)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	m, _ := newTestManager(t, Config{PaperOnly: true})
	snap := m.Snapshot()
	if snap.MaxPositionPct != 0.25 {
		t.Fatalf("expected default max position 0.25, got %f", snap.MaxPositionPct)
	}
	if snap.MaxOrdersPerMinute != 10 {
		t.Fatalf("expected default 10 orders/min, got %d", snap.MaxOrdersPerMinute)
	}
}

func TestAllowOrderBasic(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxPositionPct: 0.25, MaxOrdersPerMinute: 10, Cooldown: 5 * time.Second})
	if err := m.Check("SPY", "buy", 100, 10000, 0); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestBlockOnRateLimit(t *testing.T) {
	m, clock := newTestManager(t, Config{MaxPositionPct: 1, MaxOrdersPerMinute: 2})
	m.Record("AAPL")
	m.Record("MSFT")

	err := m.Check("SPY", "buy", 10, 0, 0)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}

	clock.t = clock.t.Add(61 * time.Second)
	if err := m.Check("SPY", "buy", 10, 0, 0); err != nil {
		t.Fatalf("expected window to roll over, got %v", err)
	}
}

func TestBlockOnCooldown(t *testing.T) {
	m, clock := newTestManager(t, Config{MaxPositionPct: 1, MaxOrdersPerMinute: 10, Cooldown: 5 * time.Second})
	m.Record("SPY")

	clock.t = clock.t.Add(2 * time.Second)
	if err := m.Check("SPY", "sell", 0, 0, 0); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	if err := m.Check("QQQ", "buy", 10, 0, 0); err != nil {
		t.Fatalf("cooldown is per symbol, got %v", err)
	}

	clock.t = clock.t.Add(4 * time.Second)
	if err := m.Check("SPY", "sell", 0, 0, 0); err != nil {
		t.Fatalf("expected cooldown expired, got %v", err)
	}
}

func TestBlockOnPositionLimit(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxPositionPct: 0.25, MaxOrdersPerMinute: 10})

	// 2000 held + 600 new = 26% of 10k.
	err := m.Check("SPY", "buy", 600, 10000, 2000)
	if !errors.Is(err, ErrPositionLimit) {
		t.Fatalf("expected position limit, got %v", err)
	}
	if err := m.Check("SPY", "buy", 500, 10000, 2000); err != nil {
		t.Fatalf("expected exactly 25%% to pass, got %v", err)
	}
	if err := m.Check("SPY", "sell", 0, 10000, 9000); err != nil {
		t.Fatalf("sells ignore the position cap, got %v", err)
	}
}

func TestPositionLimitSkippedWithoutEquity(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxPositionPct: 0.01, MaxOrdersPerMinute: 10})
	if err := m.Check("SPY", "buy", 1e6, 0, 0); err != nil {
		t.Fatalf("expected no cap with unknown equity, got %v", err)
	}
}

func TestEmergencyStop(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxPositionPct: 1, MaxOrdersPerMinute: 10})
	m.SetEmergencyStop(true)
	if err := m.Check("SPY", "buy", 10, 0, 0); !errors.Is(err, ErrEmergencyStop) {
		t.Fatalf("expected emergency stop, got %v", err)
	}
	if !m.EmergencyStop() {
		t.Fatal("expected emergency flag set")
	}
	m.SetEmergencyStop(false)
	if err := m.Check("SPY", "buy", 10, 0, 0); err != nil {
		t.Fatalf("expected allow after clearing stop, got %v", err)
	}
}

func TestSnapshotCountsUsage(t *testing.T) {
	m, clock := newTestManager(t, Config{MaxPositionPct: 0.5, MaxOrdersPerMinute: 3, Cooldown: 10 * time.Second})
	m.Record("SPY")
	clock.t = clock.t.Add(20 * time.Second)
	m.Record("AAPL")
	_ = m.Check("AAPL", "buy", 1, 0, 0)

	snap := m.Snapshot()
	if snap.OrdersLastMinute != 2 {
		t.Fatalf("expected 2 orders in window, got %d", snap.OrdersLastMinute)
	}
	if len(snap.CoolingSymbols) != 1 || snap.CoolingSymbols[0] != "AAPL" {
		t.Fatalf("expected only AAPL cooling, got %v", snap.CoolingSymbols)
	}
	if snap.Blocked != 1 {
		t.Fatalf("expected 1 blocked check, got %d", snap.Blocked)
	}
}

func TestBlockReason(t *testing.T) {
	cases := map[string]error{
		"emergency_stop": ErrEmergencyStop,
		"rate_limit":     ErrRateLimited,
		"cooldown":       ErrCooldown,
		"position_limit": ErrPositionLimit,
		"no_position":    ErrNoPosition,
		"other":          errors.New("boom"),
		"":               nil,
	}
	for want, err := range cases {
		if got := BlockReason(err); got != want {
			t.Errorf("BlockReason(%v) = %q, want %q", err, got, want)
		}
	}
}
