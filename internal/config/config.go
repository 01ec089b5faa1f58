package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel    string `yaml:"log_level"`
	DryRun      bool   `yaml:"dry_run"`
	TradingMode string `yaml:"trading_mode"`

	Alpaca   AlpacaConfig   `yaml:"alpaca"`
	Safety   SafetyConfig   `yaml:"safety"`
	Engine   EngineConfig   `yaml:"engine"`
	Worker   WorkerConfig   `yaml:"worker"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Sync     SyncConfig     `yaml:"sync"`
	Redis    RedisConfig    `yaml:"redis"`
	Paper    PaperConfig    `yaml:"paper"`
	Telegram TelegramConfig `yaml:"telegram"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type AlpacaConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	StreamURL string `yaml:"stream_url"`
	Feed      string `yaml:"feed"`
}

// SafetyConfig holds the order manager's rails.
type SafetyConfig struct {
	PaperOnly          bool          `yaml:"paper_only"`
	MaxPositionPct     float64       `yaml:"max_position_pct"`
	MaxOrdersPerMinute int           `yaml:"max_orders_per_minute"`
	Cooldown           time.Duration `yaml:"cooldown"`
	EmergencyStop      bool          `yaml:"emergency_stop"`
}

type EngineConfig struct {
	StrategiesFile         string        `yaml:"strategies_file"`
	TickWindow             time.Duration `yaml:"tick_window"`
	MomentumWindows        []int         `yaml:"momentum_windows"`
	StatWindows            []int         `yaml:"stat_windows"`
	MinStatSamples         int           `yaml:"min_stat_samples"`
	SignalCooldown         time.Duration `yaml:"signal_cooldown"`
	AccountRefreshInterval time.Duration `yaml:"account_refresh_interval"`
	StatsInterval          time.Duration `yaml:"stats_interval"`
	SubscribeQuotes        bool          `yaml:"subscribe_quotes"`
	StatusAddr             string        `yaml:"status_addr"`
}

type WorkerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	BarTimeframe   string        `yaml:"bar_timeframe"`
	DefaultCapital float64       `yaml:"default_capital"`
	FillWait       time.Duration `yaml:"fill_wait"`
	Addr           string        `yaml:"addr"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"`
}

type APIConfig struct {
	Addr       string `yaml:"addr"`
	CORSOrigin string `yaml:"cors_origin"`
}

// SyncConfig selects where the realtime engine reports accepted trades.
type SyncConfig struct {
	Mode         string        `yaml:"mode"` // http | redis | none
	DashboardURL string        `yaml:"dashboard_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RedisConfig is shared by the realtime publisher (sync.mode redis) and the
// dashboard consumer, which only runs when Enabled is set.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

type PaperConfig struct {
	InitialBalanceUSD float64 `yaml:"initial_balance_usd"`
	FeeBps            float64 `yaml:"fee_bps"`
	SlippageBps       float64 `yaml:"slippage_bps"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Default() Config {
	return Config{
		LogLevel:    "info",
		TradingMode: "paper",
		Alpaca: AlpacaConfig{
			BaseURL:   "https://paper-api.alpaca.markets",
			DataURL:   "https://data.alpaca.markets",
			StreamURL: "wss://stream.data.alpaca.markets/v2/iex",
			Feed:      "iex",
		},
		Safety: SafetyConfig{
			PaperOnly:          true,
			MaxPositionPct:     0.25,
			MaxOrdersPerMinute: 10,
			Cooldown:           5 * time.Second,
		},
		Engine: EngineConfig{
			StrategiesFile:         "strategies.yaml",
			TickWindow:             120 * time.Second,
			MomentumWindows:        []int{5, 10, 15, 30, 60},
			StatWindows:            []int{30, 60, 120},
			MinStatSamples:         5,
			SignalCooldown:         5 * time.Second,
			AccountRefreshInterval: 60 * time.Second,
			StatsInterval:          30 * time.Second,
			StatusAddr:             ":8081",
		},
		Worker: WorkerConfig{
			Interval:       time.Minute,
			BarTimeframe:   "1Day",
			DefaultCapital: 100000,
			FillWait:       2 * time.Second,
			Addr:           ":8082",
		},
		Database: DatabaseConfig{
			MaxConns: 10,
			Migrate:  true,
		},
		API: APIConfig{
			Addr:       ":8080",
			CORSOrigin: "*",
		},
		Sync: SyncConfig{
			Mode:    "none",
			Timeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Stream:   "trades:stream",
			Group:    "dashboard",
			Consumer: "dashboard-1",
		},
		Paper: PaperConfig{
			InitialBalanceUSD: 100000,
			FeeBps:            0,
			SlippageBps:       5,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
		},
	}
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := decodeYAML(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// decodeYAML decodes data into out after replacing scalars of the form
// ${VAR} with the variable's value. Unset variables keep the literal.
func decodeYAML(data []byte, out interface{}) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if len(root.Content) == 0 {
		return nil
	}
	expandEnv(&root)
	return root.Decode(out)
}

func expandEnv(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		if m := envRef.FindStringSubmatch(n.Value); m != nil {
			if v, ok := os.LookupEnv(m[1]); ok {
				n.Value = v
				n.Tag = ""
				n.Style = 0
			}
		}
		return
	}
	for _, c := range n.Content {
		expandEnv(c)
	}
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		c.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_SECRET_KEY"); v != "" {
		c.Alpaca.SecretKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ALPACA_BASE_URL")); v != "" {
		c.Alpaca.BaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		c.Redis.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("TRADER_DRY_RUN"); v != "" {
		c.DryRun = strings.EqualFold(v, "true") || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("TRADER_TRADING_MODE")); v != "" {
		c.TradingMode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("TRADER_SYNC_MODE")); v != "" {
		c.Sync.Mode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("DASHBOARD_API_URL")); v != "" {
		c.Sync.DashboardURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}
