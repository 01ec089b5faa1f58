package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/emily-flambe/get-money-get-paid/internal/alpaca"
	"github.com/emily-flambe/get-money-get-paid/internal/eventbus"
	"github.com/emily-flambe/get-money-get-paid/internal/execution"
	"github.com/emily-flambe/get-money-get-paid/internal/feed"
	"github.com/emily-flambe/get-money-get-paid/internal/indicators"
	"github.com/emily-flambe/get-money-get-paid/internal/metrics"
	"github.com/emily-flambe/get-money-get-paid/internal/orders"
	"github.com/emily-flambe/get-money-get-paid/internal/risk"
	"github.com/emily-flambe/get-money-get-paid/internal/strategy"
)

// TradeSink receives every order the engine gets accepted.
type TradeSink interface {
	RecordTrade(ctx context.Context, ev eventbus.TradeEvent) error
}

// Notifier defines the alerts the engine sends.
type Notifier interface {
	NotifyOrder(ctx context.Context, strategy, symbol, side string, dollars, price float64, reason string) error
	NotifyBlocked(ctx context.Context, symbol, side, reason string) error
	NotifyEmergencyStop(ctx context.Context, active bool) error
	NotifyDailySummary(ctx context.Context, ticks, signals, orders, blocked int, realizedPnL float64) error
}

// MarketStream is the market data connection driving the engine.
type MarketStream interface {
	Run(ctx context.Context) error
	Connected() bool
}

type Options struct {
	Strategies     []strategy.Strategy
	Orders         *orders.Manager
	Buffer         *indicators.TickBuffer
	Prices         *feed.Prices
	Sink           TradeSink
	Notifier       Notifier
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	TradingMode    string
	AccountRefresh time.Duration
	StatsInterval  time.Duration
}

// Engine routes market data to strategies and their signals to the order
// manager.
type Engine struct {
	strategies []strategy.Strategy
	bySymbol   map[string][]strategy.Strategy
	orders     *orders.Manager
	buffer     *indicators.TickBuffer
	prices     *feed.Prices
	sink       TradeSink
	notifier   Notifier
	metrics    *metrics.Metrics
	log        *zap.Logger
	mode       string

	accountRefresh time.Duration
	statsInterval  time.Duration

	now       func() time.Time
	stats     *statsCollector
	startedAt time.Time

	mu      sync.RWMutex
	baseCtx context.Context
	stream  MarketStream
	running atomic.Bool
}

func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Buffer == nil {
		opts.Buffer = indicators.NewTickBuffer(indicators.DefaultConfig())
	}
	if opts.Prices == nil {
		opts.Prices = feed.NewPrices()
	}
	if opts.AccountRefresh <= 0 {
		opts.AccountRefresh = 60 * time.Second
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 30 * time.Second
	}
	if opts.TradingMode == "" {
		opts.TradingMode = "paper"
	}

	bySymbol := make(map[string][]strategy.Strategy)
	for _, s := range opts.Strategies {
		for _, sym := range s.Symbols() {
			bySymbol[sym] = append(bySymbol[sym], s)
		}
	}

	now := time.Now()
	return &Engine{
		strategies:     opts.Strategies,
		bySymbol:       bySymbol,
		orders:         opts.Orders,
		buffer:         opts.Buffer,
		prices:         opts.Prices,
		sink:           opts.Sink,
		notifier:       opts.Notifier,
		metrics:        opts.Metrics,
		log:            opts.Logger.Named("engine"),
		mode:           opts.TradingMode,
		accountRefresh: opts.AccountRefresh,
		statsInterval:  opts.StatsInterval,
		now:            time.Now,
		stats:          newStatsCollector(now),
		startedAt:      now,
		baseCtx:        context.Background(),
	}
}

// Symbols returns every symbol some strategy trades, sorted.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.bySymbol))
	for sym := range e.bySymbol {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) ctx() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.baseCtx
}

// OnTrade handles a trade print. Ticks are stamped with receipt time.
func (e *Engine) OnTrade(t alpaca.Trade) {
	now := e.now()
	e.stats.recordTick(now)
	e.metrics.Ticks.Inc()
	e.prices.UpdateTrade(t)
	e.buffer.Add(t.Symbol, t.Price, t.Size, now)

	strategies := e.bySymbol[t.Symbol]
	if len(strategies) == 0 {
		return
	}
	snap := e.buffer.Indicators(t.Symbol)
	for _, s := range strategies {
		if !s.Enabled() {
			continue
		}
		if sig := s.OnTick(t.Symbol, t.Price, snap); sig != nil {
			e.handleSignal(e.ctx(), *sig, s)
		}
	}
}

// OnBar updates the last price and lets strategies react to the bar.
func (e *Engine) OnBar(b alpaca.StreamBar) {
	e.prices.UpdateBar(b)

	strategies := e.bySymbol[b.Symbol]
	if len(strategies) == 0 {
		return
	}
	bar := strategy.Bar{
		Symbol: b.Symbol,
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
		Time:   b.Time,
	}
	snap := e.buffer.Indicators(b.Symbol)
	for _, s := range strategies {
		if !s.Enabled() {
			continue
		}
		if sig := s.OnBar(b.Symbol, bar, snap); sig != nil {
			e.handleSignal(e.ctx(), *sig, s)
		}
	}
}

func (e *Engine) OnQuote(q alpaca.Quote) {
	e.prices.UpdateQuote(q)
}

// handleSignal sizes and submits the order for sig, then updates the
// strategy's position and reports the trade. Failures are logged only.
func (e *Engine) handleSignal(ctx context.Context, sig strategy.Signal, s strategy.Strategy) {
	now := e.now()
	e.stats.recordSignal(now)
	e.metrics.Signals.WithLabelValues(sig.StrategyName, sig.Side()).Inc()
	e.log.Info("signal",
		zap.String("strategy", sig.StrategyName),
		zap.String("side", sig.Side()),
		zap.String("symbol", sig.Symbol),
		zap.Float64("price", sig.Price),
		zap.String("reason", sig.Reason))

	dollars := 0.0
	if sig.Type == strategy.Buy {
		dollars = s.Config().DollarsPerTrade()
	}

	order, err := e.orders.Submit(ctx, sig, dollars)
	if err != nil {
		e.handleOrderError(ctx, sig, err)
		return
	}
	e.stats.recordOrder(now)
	e.stats.recordRealizedPnL(now, e.orders.Tracker().TotalRealizedPnL())

	qty, price := orders.FillEstimate(*order, sig.Price, dollars)
	switch sig.Type {
	case strategy.Buy:
		s.UpdatePosition(sig.Symbol, s.Position(sig.Symbol)+qty)
	case strategy.Sell:
		s.UpdatePosition(sig.Symbol, 0)
	}

	e.publish(ctx, tradeEvent(s.Config(), sig, *order, qty, price))
	if e.notifier != nil {
		if err := e.notifier.NotifyOrder(ctx, sig.StrategyName, sig.Symbol, sig.Side(), dollars, price, sig.Reason); err != nil {
			e.log.Warn("order notification failed", zap.Error(err))
		}
	}
}

func (e *Engine) handleOrderError(ctx context.Context, sig strategy.Signal, err error) {
	reason := risk.BlockReason(err)
	if reason == "other" {
		e.log.Error("order failed",
			zap.String("strategy", sig.StrategyName),
			zap.String("symbol", sig.Symbol),
			zap.String("side", sig.Side()),
			zap.Error(err))
		return
	}
	e.stats.recordBlock(e.now(), reason)
	e.log.Info("order blocked",
		zap.String("strategy", sig.StrategyName),
		zap.String("symbol", sig.Symbol),
		zap.String("reason", reason))
	// Cooldown and rate-limit blocks are routine; only alert on the rest.
	if e.notifier != nil && (reason == "position_limit" || reason == "emergency_stop") {
		if nerr := e.notifier.NotifyBlocked(ctx, sig.Symbol, sig.Side(), reason); nerr != nil {
			e.log.Warn("blocked notification failed", zap.Error(nerr))
		}
	}
}

func (e *Engine) publish(ctx context.Context, ev eventbus.TradeEvent) {
	if e.sink == nil {
		return
	}
	if err := e.sink.RecordTrade(ctx, ev); err != nil {
		e.stats.recordSyncFailure(e.now())
		e.metrics.TradeEvents.WithLabelValues("engine", "failed").Inc()
		e.log.Warn("trade sync failed",
			zap.String("algorithm_id", ev.AlgorithmID),
			zap.String("symbol", ev.Symbol),
			zap.Error(err))
		return
	}
	e.metrics.TradeEvents.WithLabelValues("engine", "ok").Inc()
}

// tradeEvent builds the sink payload. Strategies without an algorithm id
// report under their name.
func tradeEvent(cfg strategy.Config, sig strategy.Signal, o alpaca.Order, qty, price float64) eventbus.TradeEvent {
	algoID := cfg.AlgorithmID
	if algoID == "" {
		algoID = cfg.Name
	}
	ev := eventbus.TradeEvent{
		AlgorithmID:   algoID,
		Symbol:        sig.Symbol,
		Side:          sig.Side(),
		Quantity:      qty,
		OrderType:     "market",
		Status:        o.Status,
		AlpacaOrderID: o.ID,
		Notes:         fmt.Sprintf("%s: %s", sig.StrategyName, sig.Reason),
		Timestamp:     sig.Timestamp,
	}
	if o.Filled() {
		ev.FilledPrice = eventbus.Float(price)
		ev.FilledQty = eventbus.Float(qty)
	}
	return ev
}

// Run refreshes the account, then drives the stream until ctx ends. The
// account refresh, stats log and daily reset run alongside.
func (e *Engine) Run(ctx context.Context, stream MarketStream) error {
	e.mu.Lock()
	e.baseCtx = ctx
	e.stream = stream
	e.mu.Unlock()
	e.running.Store(true)
	defer e.running.Store(false)

	e.log.Info("starting engine",
		zap.Int("strategies", len(e.strategies)),
		zap.Strings("symbols", e.Symbols()),
		zap.String("mode", e.mode),
		zap.Bool("dry_run", e.orders.DryRun()))

	if err := e.orders.RefreshAccount(ctx); err != nil {
		e.log.Warn("initial account refresh failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.housekeeping(ctx)
	}()

	err := stream.Run(ctx)
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) housekeeping(ctx context.Context) {
	refresh := time.NewTicker(e.accountRefresh)
	defer refresh.Stop()
	statsTicker := time.NewTicker(e.statsInterval)
	defer statsTicker.Stop()
	daily := time.NewTimer(untilNextUTCMidnight(e.now()))
	defer daily.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			if err := e.orders.RefreshAccount(ctx); err != nil {
				e.log.Warn("account refresh failed", zap.Error(err))
			}
		case <-statsTicker.C:
			e.logStats()
		case <-daily.C:
			e.dailyReset(ctx)
			daily.Reset(untilNextUTCMidnight(e.now()))
		}
	}
}

func (e *Engine) logStats() {
	st := e.stats.snapshot(e.now())
	connected := e.streamConnected()
	if connected {
		e.metrics.StreamConnected.Set(1)
	} else {
		e.metrics.StreamConnected.Set(0)
	}
	e.log.Info("stats",
		zap.Int64("ticks", st.TicksTotal),
		zap.Int64("signals", st.SignalsTotal),
		zap.Int64("orders", st.OrdersTotal),
		zap.Int("blocked_today", st.BlockedDaily),
		zap.Bool("stream_connected", connected))
}

// dailyReset sends the summary for the day that just ended and rolls the
// daily counters.
func (e *Engine) dailyReset(ctx context.Context) {
	st := e.stats.snapshot(e.now().Add(-time.Second))
	e.log.Info("daily stats reset",
		zap.Int("ticks", st.TicksDaily),
		zap.Int("signals", st.SignalsDaily),
		zap.Int("orders", st.OrdersDaily),
		zap.Float64("realized_pnl", st.RealizedPnLDaily))
	if e.notifier != nil {
		if err := e.notifier.NotifyDailySummary(ctx, st.TicksDaily, st.SignalsDaily, st.OrdersDaily, st.BlockedDaily, st.RealizedPnLDaily); err != nil {
			e.log.Warn("daily summary notification failed", zap.Error(err))
		}
	}
	e.stats.roll(e.now())
}

func (e *Engine) streamConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stream != nil && e.stream.Connected()
}

// SetEmergencyStop halts or resumes order submission.
func (e *Engine) SetEmergencyStop(stop bool) {
	e.orders.Risk().SetEmergencyStop(stop)
	e.stats.setEmergencyStop(e.now(), stop)
	e.log.Warn("emergency stop changed", zap.Bool("active", stop))
	if e.notifier != nil {
		if err := e.notifier.NotifyEmergencyStop(e.ctx(), stop); err != nil {
			e.log.Warn("emergency stop notification failed", zap.Error(err))
		}
	}
}

func (e *Engine) EmergencyStop() bool { return e.orders.Risk().EmergencyStop() }

func (e *Engine) Stats() Stats { return e.stats.snapshot(e.now()) }

func (e *Engine) IsRunning() bool { return e.running.Load() }

func (e *Engine) RecentFills(limit int) []execution.Fill {
	return e.orders.Tracker().RecentFills(limit)
}

func (e *Engine) Positions() []execution.Position {
	return e.orders.Tracker().Positions()
}

// StrategyStatus is one strategy's configuration and tracked positions.
type StrategyStatus struct {
	Name            string             `json:"name"`
	Type            string             `json:"type"`
	Enabled         bool               `json:"enabled"`
	Symbols         []string           `json:"symbols"`
	PositionSizePct float64            `json:"position_size_pct"`
	CashAllocation  float64            `json:"cash_allocation"`
	Positions       map[string]float64 `json:"positions"`
}

type Status struct {
	Running         bool             `json:"running"`
	DryRun          bool             `json:"dry_run"`
	TradingMode     string           `json:"trading_mode"`
	StreamConnected bool             `json:"stream_connected"`
	UptimeSeconds   float64          `json:"uptime_seconds"`
	Symbols         []string         `json:"symbols"`
	Equity          float64          `json:"equity"`
	BuyingPower     float64          `json:"buying_power"`
	Cash            float64          `json:"cash"`
	RealizedPnL     float64          `json:"realized_pnl"`
	LastAccountSync *time.Time       `json:"last_account_sync,omitempty"`
	Risk            risk.Snapshot    `json:"risk"`
	Stats           Stats            `json:"stats"`
	Strategies      []StrategyStatus `json:"strategies"`
}

// Status reports the engine state for the status API.
func (e *Engine) Status() Status {
	pf := e.orders.Portfolio()
	st := Status{
		Running:         e.IsRunning(),
		DryRun:          e.orders.DryRun(),
		TradingMode:     e.mode,
		StreamConnected: e.streamConnected(),
		UptimeSeconds:   round2(e.now().Sub(e.startedAt).Seconds()),
		Symbols:         e.Symbols(),
		Equity:          pf.Equity(),
		BuyingPower:     pf.BuyingPower(),
		Cash:            pf.Cash(),
		RealizedPnL:     round2(e.orders.Tracker().TotalRealizedPnL()),
		Risk:            e.orders.Risk().Snapshot(),
		Stats:           e.Stats(),
		Strategies:      make([]StrategyStatus, 0, len(e.strategies)),
	}
	if last := pf.LastSync(); !last.IsZero() {
		st.LastAccountSync = &last
	}
	for _, s := range e.strategies {
		cfg := s.Config()
		st.Strategies = append(st.Strategies, StrategyStatus{
			Name:            cfg.Name,
			Type:            cfg.Type,
			Enabled:         s.Enabled(),
			Symbols:         s.Symbols(),
			PositionSizePct: cfg.PositionSizePct,
			CashAllocation:  cfg.CashAllocation,
			Positions:       s.Positions(),
		})
	}
	return st
}
