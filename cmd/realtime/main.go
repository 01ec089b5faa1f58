package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/emily-flambe/get-money-get-paid/internal/alpaca"
	"github.com/emily-flambe/get-money-get-paid/internal/api"
	"github.com/emily-flambe/get-money-get-paid/internal/config"
	"github.com/emily-flambe/get-money-get-paid/internal/dashsync"
	"github.com/emily-flambe/get-money-get-paid/internal/engine"
	"github.com/emily-flambe/get-money-get-paid/internal/execution"
	"github.com/emily-flambe/get-money-get-paid/internal/feed"
	"github.com/emily-flambe/get-money-get-paid/internal/indicators"
	"github.com/emily-flambe/get-money-get-paid/internal/logging"
	"github.com/emily-flambe/get-money-get-paid/internal/metrics"
	"github.com/emily-flambe/get-money-get-paid/internal/notify"
	"github.com/emily-flambe/get-money-get-paid/internal/orders"
	"github.com/emily-flambe/get-money-get-paid/internal/paper"
	"github.com/emily-flambe/get-money-get-paid/internal/portfolio"
	"github.com/emily-flambe/get-money-get-paid/internal/risk"
	"github.com/emily-flambe/get-money-get-paid/internal/strategy"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	strategiesPath := flag.String("strategies", "", "path to strategies file (overrides engine.strategies_file)")
	phase := flag.String("phase", "", "rollout phase preset: dry-run|simulate|paper|paper-small")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env: %v", err)
	}

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Printf("warning: config file: %v, using defaults", err)
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if err := config.ApplyRolloutPhase(&cfg, *phase); err != nil {
		log.Fatalf("invalid -phase: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if *strategiesPath != "" {
		cfg.Engine.StrategiesFile = *strategiesPath
	}
	stratCfgs, err := config.LoadStrategies(cfg.Engine.StrategiesFile)
	if err != nil {
		logger.Fatal("load strategies", zap.String("path", cfg.Engine.StrategiesFile), zap.Error(err))
	}
	strategies := make([]strategy.Strategy, 0, len(stratCfgs))
	for _, sc := range stratCfgs {
		s, err := strategy.New(sc)
		if err != nil {
			logger.Fatal("build strategy", zap.String("name", sc.Name), zap.Error(err))
		}
		if c, ok := s.(interface{ SetSignalCooldown(time.Duration) }); ok {
			c.SetSignalCooldown(cfg.Engine.SignalCooldown)
		}
		strategies = append(strategies, s)
	}
	if len(strategies) == 0 {
		logger.Fatal("no strategies configured", zap.String("path", cfg.Engine.StrategiesFile))
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.TradingMode))
	if mode == "" {
		mode = "paper"
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.SecretKey == "" {
		logger.Fatal("ALPACA_API_KEY and ALPACA_SECRET_KEY are required for market data")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger)

	prices := feed.NewPrices()

	var broker orders.Broker
	if mode == "simulate" {
		broker = paper.NewBroker(paper.Config{
			InitialBalanceUSD: cfg.Paper.InitialBalanceUSD,
			FeeBps:            cfg.Paper.FeeBps,
			SlippageBps:       cfg.Paper.SlippageBps,
		}, prices)
	} else {
		broker = alpaca.NewClient(alpaca.Config{
			APIKey:    cfg.Alpaca.APIKey,
			SecretKey: cfg.Alpaca.SecretKey,
			BaseURL:   cfg.Alpaca.BaseURL,
			DataURL:   cfg.Alpaca.DataURL,
			Feed:      cfg.Alpaca.Feed,
		})
	}

	rails, err := risk.New(risk.Config{
		PaperOnly:          cfg.Safety.PaperOnly && mode != "simulate",
		BaseURL:            cfg.Alpaca.BaseURL,
		MaxPositionPct:     cfg.Safety.MaxPositionPct,
		MaxOrdersPerMinute: cfg.Safety.MaxOrdersPerMinute,
		Cooldown:           cfg.Safety.Cooldown,
	})
	if err != nil {
		logger.Fatal("safety rails", zap.Error(err))
	}
	if cfg.Safety.EmergencyStop {
		rails.SetEmergencyStop(true)
	}

	fills := execution.NewTracker()
	fills.OnFill = func(f execution.Fill) {
		logger.Debug("fill",
			zap.String("order_id", f.OrderID),
			zap.String("strategy", f.Strategy),
			zap.String("symbol", f.Symbol),
			zap.String("side", f.Side),
			zap.Float64("qty", f.Qty),
			zap.Float64("price", f.Price),
			zap.Float64("realized_pnl", f.RealizedPnL))
	}

	mgr := orders.New(orders.Options{
		Broker:    broker,
		Risk:      rails,
		Portfolio: portfolio.NewTracker(broker),
		Tracker:   fills,
		Metrics:   m,
		Logger:    logger,
		DryRun:    cfg.DryRun,
	})

	sink, closeSink, err := dashsync.NewSink(cfg, logger)
	if err != nil {
		logger.Fatal("trade sync", zap.Error(err))
	}
	defer func() { _ = closeSink() }()

	var notifier engine.Notifier
	if cfg.Telegram.Enabled {
		notifier = notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}

	eng := engine.New(engine.Options{
		Strategies: strategies,
		Orders:     mgr,
		Buffer: indicators.NewTickBuffer(indicators.Config{
			MaxAge:          cfg.Engine.TickWindow,
			MomentumWindows: cfg.Engine.MomentumWindows,
			StatWindows:     cfg.Engine.StatWindows,
			MinStatSamples:  cfg.Engine.MinStatSamples,
		}),
		Prices:         prices,
		Sink:           sink,
		Notifier:       notifier,
		Metrics:        m,
		Logger:         logger,
		TradingMode:    mode,
		AccountRefresh: cfg.Engine.AccountRefreshInterval,
		StatsInterval:  cfg.Engine.StatsInterval,
	})

	symbols := eng.Symbols()
	streamCfg := alpaca.StreamConfig{
		URL:       cfg.Alpaca.StreamURL,
		APIKey:    cfg.Alpaca.APIKey,
		SecretKey: cfg.Alpaca.SecretKey,
		Trades:    symbols,
		Bars:      symbols,
	}
	if cfg.Engine.SubscribeQuotes {
		streamCfg.Quotes = symbols
	}
	stream := alpaca.NewStream(streamCfg, eng, logger)

	var statusServer *api.EngineServer
	if cfg.Engine.StatusAddr != "" {
		statusServer = api.NewEngineServer(cfg.Engine.StatusAddr, eng, logger)
		if err := statusServer.Start(ctx); err != nil {
			logger.Warn("status server failed to start", zap.Error(err))
			statusServer = nil
		}
	}

	logger.Info("realtime engine starting",
		zap.String("mode", mode),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("phase", strings.TrimSpace(*phase)),
		zap.String("sync", cfg.Sync.Mode),
		zap.Int("strategies", len(strategies)),
		zap.Strings("symbols", symbols),
		zap.Float64("max_position_pct", cfg.Safety.MaxPositionPct),
		zap.Int("max_orders_per_minute", cfg.Safety.MaxOrdersPerMinute))

	if err := eng.Run(ctx, stream); err != nil {
		logger.Error("engine stopped", zap.Error(err))
	}

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = statusServer.Shutdown(shutdownCtx)
	}
	if sim, ok := broker.(*paper.Broker); ok {
		logger.Info("paper broker", zap.Any("snapshot", sim.Snapshot()))
	}
	logger.Info("realtime engine stopped",
		zap.Int64("stream_messages", stream.Messages()),
		zap.Any("stats", eng.Stats()))
}
