package config

import (
	"fmt"
	"strings"
	"time"
)

// ApplyRolloutPhase applies a staged rollout preset to the config.
// Supported phases:
// - dry-run:     signals and safety checks only, no orders leave the process
// - simulate:    orders fill against the local paper broker at streamed prices
// - paper:       orders go to the Alpaca paper API using configured values
// - paper-small: Alpaca paper API with conservative rate and size caps
func ApplyRolloutPhase(cfg *Config, phase string) error {
	p := strings.ToLower(strings.TrimSpace(phase))
	if p == "" {
		return nil
	}

	switch p {
	case "dry-run", "dryrun", "shadow":
		cfg.DryRun = true
	case "simulate", "sim":
		cfg.TradingMode = "simulate"
		cfg.DryRun = false
	case "paper":
		cfg.TradingMode = "paper"
		cfg.DryRun = false
	case "paper-small", "small":
		cfg.TradingMode = "paper"
		cfg.DryRun = false

		clampMaxInt(&cfg.Safety.MaxOrdersPerMinute, 3)
		clampMaxFloat(&cfg.Safety.MaxPositionPct, 0.05)
		if cfg.Safety.Cooldown < 30*time.Second {
			cfg.Safety.Cooldown = 30 * time.Second
		}
	default:
		return fmt.Errorf("unknown rollout phase %q (supported: dry-run|simulate|paper|paper-small)", phase)
	}

	return nil
}

func clampMaxFloat(v *float64, max float64) {
	if max <= 0 {
		return
	}
	if *v <= 0 || *v > max {
		*v = max
	}
}

func clampMaxInt(v *int, max int) {
	if max <= 0 {
		return
	}
	if *v <= 0 || *v > max {
		*v = max
	}
}
