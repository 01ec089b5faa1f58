package engine

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Stats is the engine's activity counters. Daily fields reset at UTC
// midnight; totals live for the process.
type Stats struct {
	DayStartUTC time.Time `json:"day_start_utc"`

	TicksDaily   int `json:"ticks_daily"`
	SignalsDaily int `json:"signals_daily"`
	OrdersDaily  int `json:"orders_daily"`
	BlockedDaily int `json:"blocked_daily"`

	BlockedDailyByReason map[string]int `json:"blocked_daily_by_reason"`
	LastBlockReason      string         `json:"last_block_reason,omitempty"`
	SyncFailuresDaily    int            `json:"sync_failures_daily"`

	EmergencyStopActive       bool       `json:"emergency_stop_active"`
	EmergencyStopSince        *time.Time `json:"emergency_stop_since,omitempty"`
	EmergencyStopSecondsDaily float64    `json:"emergency_stop_seconds_daily"`

	RealizedPnLDaily float64 `json:"realized_pnl_daily"`

	TicksTotal   int64 `json:"ticks_total"`
	SignalsTotal int64 `json:"signals_total"`
	OrdersTotal  int64 `json:"orders_total"`

	LastTickAt time.Time `json:"last_tick_at,omitempty"`
}

type statsCollector struct {
	mu sync.Mutex

	dayStartUTC time.Time

	ticksDaily        int
	signalsDaily      int
	ordersDaily       int
	blockedDaily      int
	blockedByReason   map[string]int
	lastBlockReason   string
	syncFailuresDaily int

	emergencyActive        bool
	emergencySince         time.Time
	emergencyDurationDaily time.Duration

	realizedPnL       float64
	realizedBaseline  float64
	realizedBaselined bool

	ticksTotal   int64
	signalsTotal int64
	ordersTotal  int64
	lastTickAt   time.Time
}

func newStatsCollector(now time.Time) *statsCollector {
	return &statsCollector{
		dayStartUTC:     startOfUTCDay(now),
		blockedByReason: make(map[string]int),
	}
}

func startOfUTCDay(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	return startOfUTCDay(now).Add(24 * time.Hour).Sub(now)
}

// ensureDayLocked rolls the daily counters when now is past the current day.
func (c *statsCollector) ensureDayLocked(now time.Time) {
	day := startOfUTCDay(now)
	if !day.After(c.dayStartUTC) {
		return
	}
	if c.emergencyActive {
		c.emergencySince = day
	}
	c.dayStartUTC = day
	c.ticksDaily = 0
	c.signalsDaily = 0
	c.ordersDaily = 0
	c.blockedDaily = 0
	c.blockedByReason = make(map[string]int)
	c.lastBlockReason = ""
	c.syncFailuresDaily = 0
	c.emergencyDurationDaily = 0
	c.realizedBaseline = c.realizedPnL
	c.realizedBaselined = true
}

func (c *statsCollector) roll(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDayLocked(now)
}

func (c *statsCollector) recordTick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDayLocked(now)
	c.ticksDaily++
	c.ticksTotal++
	c.lastTickAt = now
}

func (c *statsCollector) recordSignal(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDayLocked(now)
	c.signalsDaily++
	c.signalsTotal++
}

func (c *statsCollector) recordOrder(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDayLocked(now)
	c.ordersDaily++
	c.ordersTotal++
}

func (c *statsCollector) recordBlock(now time.Time, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDayLocked(now)
	reason = strings.ToLower(strings.TrimSpace(reason))
	if reason == "" {
		reason = "other"
	}
	c.blockedDaily++
	c.blockedByReason[reason]++
	c.lastBlockReason = reason
}

func (c *statsCollector) recordSyncFailure(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDayLocked(now)
	c.syncFailuresDaily++
}

// recordRealizedPnL stores the running realized P&L. The first sample of a
// day becomes that day's baseline.
func (c *statsCollector) recordRealizedPnL(now time.Time, realized float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDayLocked(now)
	if !c.realizedBaselined {
		c.realizedBaseline = c.realizedPnL
		c.realizedBaselined = true
	}
	c.realizedPnL = realized
}

func (c *statsCollector) setEmergencyStop(now time.Time, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDayLocked(now)
	if c.emergencyActive == active {
		return
	}
	if active {
		c.emergencyActive = true
		c.emergencySince = now
		return
	}
	if now.After(c.emergencySince) {
		c.emergencyDurationDaily += now.Sub(c.emergencySince)
	}
	c.emergencyActive = false
	c.emergencySince = time.Time{}
}

func (c *statsCollector) snapshot(now time.Time) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDayLocked(now)

	emergency := c.emergencyDurationDaily
	var since *time.Time
	if c.emergencyActive {
		if now.After(c.emergencySince) {
			emergency += now.Sub(c.emergencySince)
		}
		s := c.emergencySince.UTC()
		since = &s
	}

	byReason := make(map[string]int, len(c.blockedByReason))
	for k, v := range c.blockedByReason {
		byReason[k] = v
	}

	return Stats{
		DayStartUTC:               c.dayStartUTC,
		TicksDaily:                c.ticksDaily,
		SignalsDaily:              c.signalsDaily,
		OrdersDaily:               c.ordersDaily,
		BlockedDaily:              c.blockedDaily,
		BlockedDailyByReason:      byReason,
		LastBlockReason:           c.lastBlockReason,
		SyncFailuresDaily:         c.syncFailuresDaily,
		EmergencyStopActive:       c.emergencyActive,
		EmergencyStopSince:        since,
		EmergencyStopSecondsDaily: round2(emergency.Seconds()),
		RealizedPnLDaily:          round2(c.realizedPnL - c.realizedBaseline),
		TicksTotal:                c.ticksTotal,
		SignalsTotal:              c.signalsTotal,
		OrdersTotal:               c.ordersTotal,
		LastTickAt:                c.lastTickAt,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
