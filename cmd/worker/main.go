package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
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
	"github.com/emily-flambe/get-money-get-paid/internal/config"
	"github.com/emily-flambe/get-money-get-paid/internal/logging"
	"github.com/emily-flambe/get-money-get-paid/internal/metrics"
	"github.com/emily-flambe/get-money-get-paid/internal/notify"
	"github.com/emily-flambe/get-money-get-paid/internal/store"
	"github.com/emily-flambe/get-money-get-paid/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run every enabled algorithm once and exit")
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
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Database.URL == "" {
		logger.Fatal("database.url (or DATABASE_URL) is required")
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.SecretKey == "" {
		logger.Fatal("ALPACA_API_KEY and ALPACA_SECRET_KEY are required")
	}
	if cfg.Safety.PaperOnly && !isPaperURL(cfg.Alpaca.BaseURL) {
		logger.Fatal("refusing to trade against a non-paper endpoint", zap.String("base_url", cfg.Alpaca.BaseURL))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer st.Close()
	if cfg.Database.Migrate {
		if err := st.Migrate(ctx); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	broker := alpaca.NewClient(alpaca.Config{
		APIKey:    cfg.Alpaca.APIKey,
		SecretKey: cfg.Alpaca.SecretKey,
		BaseURL:   cfg.Alpaca.BaseURL,
		DataURL:   cfg.Alpaca.DataURL,
		Feed:      cfg.Alpaca.Feed,
	})

	var notifier worker.Notifier
	if cfg.Telegram.Enabled {
		notifier = notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}

	w := worker.New(worker.Config{
		Interval:       cfg.Worker.Interval,
		Timeframe:      cfg.Worker.BarTimeframe,
		DefaultCapital: cfg.Worker.DefaultCapital,
		FillWait:       cfg.Worker.FillWait,
	}, broker, st, notifier, m, logger)

	if *once {
		rep, err := w.RunOnce(ctx)
		if err != nil {
			logger.Fatal("worker run", zap.Error(err))
		}
		logger.Info("worker run complete",
			zap.Bool("market_open", rep.MarketOpen),
			zap.Int("algorithms", rep.Algorithms),
			zap.Int("orders", rep.Orders),
			zap.Strings("failures", rep.Failures))
		return
	}

	metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger)

	srv := &http.Server{
		Addr:              cfg.Worker.Addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker http listening", zap.String("addr", cfg.Worker.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker http stopped", zap.Error(err))
		}
	}()

	logger.Info("worker started",
		zap.Duration("interval", cfg.Worker.Interval),
		zap.String("alpaca", broker.BaseURL()))

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func isPaperURL(u string) bool {
	return u == "" || strings.Contains(strings.ToLower(u), "paper")
}
