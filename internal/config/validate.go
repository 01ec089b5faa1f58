package config

import (
	"fmt"
	"strings"
)

// Validate checks high-impact runtime configuration constraints.
func (c Config) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.TradingMode))
	if mode != "" && mode != "paper" && mode != "simulate" {
		return fmt.Errorf("trading_mode must be 'paper' or 'simulate', got %q", c.TradingMode)
	}

	if c.Safety.PaperOnly && mode != "simulate" && !strings.Contains(c.Alpaca.BaseURL, "paper") {
		return fmt.Errorf("safety.paper_only is set but alpaca.base_url %q is not a paper endpoint", c.Alpaca.BaseURL)
	}
	if c.Safety.MaxPositionPct <= 0 || c.Safety.MaxPositionPct > 1 {
		return fmt.Errorf("safety.max_position_pct must be within (0,1], got %f", c.Safety.MaxPositionPct)
	}
	if c.Safety.MaxOrdersPerMinute <= 0 {
		return fmt.Errorf("safety.max_orders_per_minute must be > 0, got %d", c.Safety.MaxOrdersPerMinute)
	}
	if c.Safety.Cooldown < 0 {
		return fmt.Errorf("safety.cooldown must be >= 0, got %v", c.Safety.Cooldown)
	}

	if c.Engine.TickWindow <= 0 {
		return fmt.Errorf("engine.tick_window must be > 0, got %v", c.Engine.TickWindow)
	}
	for _, w := range append(append([]int{}, c.Engine.MomentumWindows...), c.Engine.StatWindows...) {
		if w <= 0 {
			return fmt.Errorf("engine windows must be positive seconds, got %d", w)
		}
	}
	if c.Engine.MinStatSamples < 2 {
		return fmt.Errorf("engine.min_stat_samples must be >= 2, got %d", c.Engine.MinStatSamples)
	}

	if c.Worker.Interval <= 0 {
		return fmt.Errorf("worker.interval must be > 0, got %v", c.Worker.Interval)
	}
	if c.Worker.DefaultCapital <= 0 {
		return fmt.Errorf("worker.default_capital must be > 0, got %f", c.Worker.DefaultCapital)
	}
	if c.Worker.FillWait < 0 {
		return fmt.Errorf("worker.fill_wait must be >= 0, got %v", c.Worker.FillWait)
	}
	if strings.TrimSpace(c.Worker.BarTimeframe) == "" {
		return fmt.Errorf("worker.bar_timeframe is required")
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0, got %d", c.Database.MaxConns)
	}

	switch strings.ToLower(strings.TrimSpace(c.Sync.Mode)) {
	case "", "none":
	case "http":
		if strings.TrimSpace(c.Sync.DashboardURL) == "" {
			return fmt.Errorf("sync.mode=http requires sync.dashboard_url")
		}
	case "redis":
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("sync.mode=redis requires redis.addr")
		}
	default:
		return fmt.Errorf("sync.mode must be one of http|redis|none, got %q", c.Sync.Mode)
	}

	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis.enabled requires redis.addr")
	}

	if c.Paper.InitialBalanceUSD <= 0 {
		return fmt.Errorf("paper.initial_balance_usd must be > 0, got %f", c.Paper.InitialBalanceUSD)
	}
	if c.Paper.FeeBps < 0 {
		return fmt.Errorf("paper.fee_bps must be >= 0, got %f", c.Paper.FeeBps)
	}
	if c.Paper.SlippageBps < 0 {
		return fmt.Errorf("paper.slippage_bps must be >= 0, got %f", c.Paper.SlippageBps)
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.enabled requires bot_token and chat_id")
	}

	return nil
}
