package strategy

import "fmt"

var registry = map[string]func(Config) Strategy{
	"momentum":       func(c Config) Strategy { return NewMomentum(c) },
	"mean_reversion": func(c Config) Strategy { return NewMeanReversion(c) },
	"rsi":            func(c Config) Strategy { return NewRSI(c) },
	"sma_crossover":  func(c Config) Strategy { return NewSMACrossover(c) },
	"buy_and_hold":   func(c Config) Strategy { return NewBuyAndHold(c) },
}

// New builds the strategy named by cfg.Type.
func New(cfg Config) (Strategy, error) {
	ctor, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown strategy type: %q", cfg.Type)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("strategy of type %q has no name", cfg.Type)
	}
	return ctor(cfg), nil
}

// IsKnownType reports whether typ is a registered strategy type.
func IsKnownType(typ string) bool {
	_, ok := registry[typ]
	return ok
}
