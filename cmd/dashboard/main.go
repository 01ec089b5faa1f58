package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/emily-flambe/get-money-get-paid/internal/alpaca"
	"github.com/emily-flambe/get-money-get-paid/internal/api"
	"github.com/emily-flambe/get-money-get-paid/internal/config"
	"github.com/emily-flambe/get-money-get-paid/internal/eventbus"
	"github.com/emily-flambe/get-money-get-paid/internal/logging"
	"github.com/emily-flambe/get-money-get-paid/internal/metrics"
	"github.com/emily-flambe/get-money-get-paid/internal/store"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	consume := flag.Bool("consume", true, "consume trade events from the redis stream when redis.enabled is set")
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

	srv := api.NewServer(cfg.API.Addr, api.Options{
		Store:      st,
		Account:    broker,
		Metrics:    m,
		Registry:   reg,
		Logger:     logger,
		CORSOrigin: cfg.API.CORSOrigin,
	})
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("api server", zap.Error(err))
	}

	if *consume && cfg.Redis.Enabled {
		rdb := eventbus.NewClient(cfg.Redis)
		defer rdb.Close()
		consumer := eventbus.NewConsumer(rdb, eventbus.ConsumerConfig{
			Stream:   cfg.Redis.Stream,
			Group:    cfg.Redis.Group,
			Consumer: cfg.Redis.Consumer,
		}, logger)
		go func() {
			if err := consumer.Run(ctx, srv.IngestTrade); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("trade stream consumer stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("dashboard started",
		zap.String("addr", cfg.API.Addr),
		zap.String("alpaca", broker.BaseURL()))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
}
