package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/emily-flambe/get-money-get-paid/internal/strategy"
)

type strategiesFile struct {
	Strategies []yaml.Node `yaml:"strategies"`
}

// LoadStrategies reads the realtime strategy list. Each entry starts from
// strategy.DefaultConfig so omitted sizing fields keep their defaults.
// Names must be unique and types registered.
func LoadStrategies(path string) ([]strategy.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file strategiesFile
	if err := decodeYAML(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Strategies))
	out := make([]strategy.Config, 0, len(file.Strategies))
	for i := range file.Strategies {
		cfg := strategy.DefaultConfig()
		if err := file.Strategies[i].Decode(&cfg); err != nil {
			return nil, fmt.Errorf("strategy %d: %w", i, err)
		}
		if cfg.Name == "" {
			return nil, fmt.Errorf("strategy %d: name is required", i)
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("strategy %q: duplicate name", cfg.Name)
		}
		seen[cfg.Name] = true
		if !strategy.IsKnownType(cfg.Type) {
			return nil, fmt.Errorf("strategy %q: unknown type %q", cfg.Name, cfg.Type)
		}
		if cfg.PositionSizePct <= 0 || cfg.PositionSizePct > 1 {
			return nil, fmt.Errorf("strategy %q: position_size_pct must be within (0,1], got %f", cfg.Name, cfg.PositionSizePct)
		}
		for j, sym := range cfg.Symbols {
			cfg.Symbols[j] = strings.ToUpper(strings.TrimSpace(sym))
		}
		out = append(out, cfg)
	}
	return out, nil
}
