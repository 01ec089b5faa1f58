package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/emily-flambe/get-money-get-paid/internal/alpaca"
	"github.com/emily-flambe/get-money-get-paid/internal/execution"
	"github.com/emily-flambe/get-money-get-paid/internal/metrics"
	"github.com/emily-flambe/get-money-get-paid/internal/store"
	"github.com/emily-flambe/get-money-get-paid/internal/strategy"
)

// ErrBusy is returned when a run is requested while one is in progress.
var ErrBusy = errors.New("worker: run already in progress")

// Broker is the Alpaca surface the worker trades through.
type Broker interface {
	Clock(ctx context.Context) (alpaca.Clock, error)
	Account(ctx context.Context) (alpaca.Account, error)
	Bars(ctx context.Context, symbol, timeframe string, limit int) ([]alpaca.Bar, error)
	SubmitOrder(ctx context.Context, req alpaca.OrderRequest) (alpaca.Order, error)
	Order(ctx context.Context, id string) (alpaca.Order, error)
}

// Store is the persistence the worker reads algorithms from and books
// trades, positions and snapshots into.
type Store interface {
	ListEnabledAlgorithms(ctx context.Context) ([]store.Algorithm, error)
	GetPosition(ctx context.Context, algoID, symbol string) (store.Position, error)
	ListPositions(ctx context.Context, algoID string) ([]store.Position, error)
	UpsertPosition(ctx context.Context, p store.Position) error
	DeletePosition(ctx context.Context, algoID, symbol string) error
	InsertTrade(ctx context.Context, t store.Trade) (string, error)
	RealizedPnL(ctx context.Context, algoID string) (decimal.Decimal, error)
	UpsertSnapshot(ctx context.Context, snap store.Snapshot) error
}

type Notifier interface {
	NotifyWorkerRun(ctx context.Context, algorithms, orders int, failures []string) error
}

type Config struct {
	Interval       time.Duration
	Timeframe      string
	DefaultCapital float64
	// FillWait is how long to wait before re-reading an unfilled order.
	// Zero skips the re-read.
	FillWait time.Duration
}

// Report summarizes one run.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	MarketOpen bool      `json:"market_open"`
	Algorithms int       `json:"algorithms"`
	Orders     int       `json:"orders"`
	Failures   []string  `json:"failures,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Worker runs the enabled algorithms against daily bars on a schedule.
type Worker struct {
	cfg      Config
	broker   Broker
	store    Store
	notifier Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time

	running sync.Mutex

	mu   sync.RWMutex
	last *Report
}

func New(cfg Config, broker Broker, st Store, notifier Notifier, m *metrics.Metrics, log *zap.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1Day"
	}
	if cfg.DefaultCapital <= 0 {
		cfg.DefaultCapital = 100000
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		cfg:      cfg,
		broker:   broker,
		store:    st,
		notifier: notifier,
		metrics:  m,
		log:      log.Named("worker"),
		now:      time.Now,
	}
}

// LastReport returns the most recent run report, if any.
func (w *Worker) LastReport() *Report {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return nil
	}
	cp := *w.last
	return &cp
}

// Run calls RunOnce on every interval tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", zap.Duration("interval", w.cfg.Interval))
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, ErrBusy) {
				w.log.Error("run failed", zap.Error(err))
			}
		}
	}
}

// RunOnce checks the market clock and, when open, runs every enabled
// algorithm. A failing algorithm is reported and the rest continue.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	if !w.running.TryLock() {
		return Report{}, ErrBusy
	}
	defer w.running.Unlock()

	start := w.now()
	rep := Report{StartedAt: start.UTC()}
	defer func() {
		rep.DurationMS = w.now().Sub(start).Milliseconds()
		w.mu.Lock()
		w.last = &rep
		w.mu.Unlock()
	}()

	clock, err := w.broker.Clock(ctx)
	if err != nil {
		w.metrics.WorkerRuns.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("market clock: %w", err)
	}
	if !clock.IsOpen {
		w.metrics.WorkerRuns.WithLabelValues("market_closed").Inc()
		w.log.Debug("market closed, skipping", zap.Time("next_open", clock.NextOpen))
		return rep, nil
	}
	rep.MarketOpen = true

	algos, err := w.store.ListEnabledAlgorithms(ctx)
	if err != nil {
		w.metrics.WorkerRuns.WithLabelValues("error").Inc()
		return rep, fmt.Errorf("load algorithms: %w", err)
	}
	rep.Algorithms = len(algos)

	for _, algo := range algos {
		n, err := w.runAlgorithm(ctx, algo)
		rep.Orders += n
		if err != nil {
			rep.Failures = append(rep.Failures, fmt.Sprintf("%s: %v", algo.Name, err))
			w.log.Error("algorithm failed",
				zap.String("algorithm_id", algo.ID),
				zap.String("name", algo.Name),
				zap.Error(err))
		}
	}

	result := "ok"
	if len(rep.Failures) > 0 {
		result = "partial"
	}
	w.metrics.WorkerRuns.WithLabelValues(result).Inc()
	w.log.Info("run complete",
		zap.Int("algorithms", rep.Algorithms),
		zap.Int("orders", rep.Orders),
		zap.Int("failures", len(rep.Failures)))

	if w.notifier != nil && (rep.Orders > 0 || len(rep.Failures) > 0) {
		if err := w.notifier.NotifyWorkerRun(ctx, rep.Algorithms, rep.Orders, rep.Failures); err != nil {
			w.log.Warn("run notification failed", zap.Error(err))
		}
	}
	return rep, nil
}

// runAlgorithm evaluates every symbol of algo, then writes the day's
// snapshot. It returns the number of orders placed.
func (w *Worker) runAlgorithm(ctx context.Context, algo store.Algorithm) (int, error) {
	params := algo.Params()
	if !strategy.IsKnownType(algo.StrategyType) {
		return 0, fmt.Errorf("unknown strategy type %q", algo.StrategyType)
	}

	lastClose := make(map[string]float64)
	placed := 0
	var errs []error
	for _, raw := range algo.Symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}
		ok, err := w.runSymbol(ctx, algo, params, symbol, lastClose)
		if ok {
			placed++
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
		}
	}

	if err := w.snapshot(ctx, algo, lastClose); err != nil {
		errs = append(errs, err)
	}
	return placed, errors.Join(errs...)
}

func (w *Worker) runSymbol(ctx context.Context, algo store.Algorithm, params map[string]float64, symbol string, lastClose map[string]float64) (bool, error) {
	var closes []float64
	if n := strategy.BarsNeeded(algo.StrategyType, params); n > 0 {
		bars, err := w.broker.Bars(ctx, symbol, w.cfg.Timeframe, n)
		if err != nil {
			return false, fmt.Errorf("bars: %w", err)
		}
		closes = alpaca.Closes(bars)
		if len(closes) > 0 {
			lastClose[symbol] = closes[len(closes)-1]
		}
	}

	pos, err := w.store.GetPosition(ctx, algo.ID, symbol)
	hasPosition := err == nil && pos.Quantity.IsPositive()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	decision, err := strategy.EvaluateDaily(algo.StrategyType, params, closes, hasPosition)
	if err != nil {
		return false, err
	}

	switch decision.Action {
	case strategy.ActionBuy:
		return w.buy(ctx, algo, symbol, decision, lastClose)
	case strategy.ActionSell:
		return w.sell(ctx, algo, symbol, pos, decision, lastClose)
	}
	return false, nil
}

// buy sizes the order as floor(buying_power * pct / last close).
func (w *Worker) buy(ctx context.Context, algo store.Algorithm, symbol string, d strategy.Decision, lastClose map[string]float64) (bool, error) {
	acct, err := w.broker.Account(ctx)
	if err != nil {
		return false, fmt.Errorf("account: %w", err)
	}
	bars, err := w.broker.Bars(ctx, symbol, w.cfg.Timeframe, 1)
	if err != nil {
		return false, fmt.Errorf("price: %w", err)
	}
	if len(bars) == 0 {
		return false, nil
	}
	price := bars[len(bars)-1].Close
	lastClose[symbol] = price

	qty := Quantity(acct.BuyingPower.InexactFloat64(), d.PositionSizePct, price)
	if qty <= 0 {
		w.log.Debug("buy skipped, zero quantity",
			zap.String("algorithm_id", algo.ID),
			zap.String("symbol", symbol))
		return false, nil
	}
	return w.execute(ctx, algo, symbol, "buy", decimal.NewFromInt(qty), price, d.Reason)
}

func (w *Worker) sell(ctx context.Context, algo store.Algorithm, symbol string, pos store.Position, d strategy.Decision, lastClose map[string]float64) (bool, error) {
	if !pos.Quantity.IsPositive() {
		return false, nil
	}
	return w.execute(ctx, algo, symbol, "sell", pos.Quantity, lastClose[symbol], d.Reason)
}

// Quantity is the whole-share count a buy of pct of buyingPower affords.
func Quantity(buyingPower, pct, price float64) int64 {
	if price <= 0 || pct <= 0 || buyingPower <= 0 {
		return 0
	}
	return int64(math.Floor(buyingPower * pct / price))
}

// execute submits the order, records the trade and then applies the fill
// to the stored position. It reports true once the broker accepted the
// order, even when a later write fails.
func (w *Worker) execute(ctx context.Context, algo store.Algorithm, symbol, side string, qty decimal.Decimal, refPrice float64, reason string) (bool, error) {
	req := alpaca.MarketQty(symbol, side, qty)
	req.ClientOrderID = uuid.NewString()
	order, err := w.broker.SubmitOrder(ctx, req)
	if err != nil {
		return false, fmt.Errorf("submit %s: %w", side, err)
	}
	order = w.awaitFill(ctx, order)
	w.metrics.WorkerOrders.WithLabelValues(side).Inc()

	fillQty, fillPrice := qty, refPrice
	if order.Filled() {
		fillQty = order.FilledQty
		fillPrice = order.FilledAvgPrice.Decimal.InexactFloat64()
	}
	next, pnl, posErr := w.projectFill(ctx, algo.ID, symbol, side, fillQty.InexactFloat64(), fillPrice)

	t := store.Trade{
		AlgorithmID:   algo.ID,
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		OrderType:     "market",
		Status:        order.Status,
		AlpacaOrderID: order.ID,
		Notes:         reason,
	}
	if order.Filled() {
		t.FilledPrice = order.FilledAvgPrice
		t.FilledQty = decimal.NewNullDecimal(order.FilledQty)
	}
	if side == "sell" && posErr == nil {
		t.PnL = decimal.NewNullDecimal(decimal.NewFromFloat(pnl).Round(2))
	}
	var errs []error
	if _, err := w.store.InsertTrade(ctx, t); err != nil {
		errs = append(errs, fmt.Errorf("record trade %s: %w", order.ID, err))
	}
	if posErr == nil {
		posErr = w.savePosition(ctx, next)
	}
	if posErr != nil {
		w.log.Error("position update failed",
			zap.String("algorithm_id", algo.ID),
			zap.String("symbol", symbol),
			zap.String("order_id", order.ID),
			zap.Error(posErr))
		errs = append(errs, fmt.Errorf("position: %w", posErr))
	}

	w.log.Info("order submitted",
		zap.String("algorithm", algo.Name),
		zap.String("side", side),
		zap.String("symbol", symbol),
		zap.String("qty", qty.String()),
		zap.String("status", order.Status),
		zap.String("reason", reason))
	return true, errors.Join(errs...)
}

// awaitFill re-reads an unfilled order once after FillWait.
func (w *Worker) awaitFill(ctx context.Context, o alpaca.Order) alpaca.Order {
	if o.Filled() || w.cfg.FillWait <= 0 || o.ID == "" {
		return o
	}
	select {
	case <-ctx.Done():
		return o
	case <-time.After(w.cfg.FillWait):
	}
	updated, err := w.broker.Order(ctx, o.ID)
	if err != nil {
		w.log.Warn("order refresh failed", zap.String("order_id", o.ID), zap.Error(err))
		return o
	}
	return updated
}

// storedFill is a position after a fill, ready to be written back.
type storedFill struct {
	stored store.Position
	algoID string
	pos    execution.Position
}

// projectFill applies a fill to the stored position in memory and returns
// the result with the realized P&L.
func (w *Worker) projectFill(ctx context.Context, algoID, symbol, side string, qty, price float64) (storedFill, float64, error) {
	stored, err := w.store.GetPosition(ctx, algoID, symbol)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return storedFill{}, 0, err
	}
	pos := execution.Position{
		Symbol:        symbol,
		Qty:           stored.Quantity.InexactFloat64(),
		AvgEntryPrice: stored.AvgEntryPrice.InexactFloat64(),
	}
	pnl := pos.Apply(side, qty, price)
	return storedFill{stored: stored, algoID: algoID, pos: pos}, pnl, nil
}

func (w *Worker) savePosition(ctx context.Context, f storedFill) error {
	if f.pos.Qty <= 0 {
		if f.stored.ID == "" {
			return nil
		}
		return w.store.DeletePosition(ctx, f.algoID, f.pos.Symbol)
	}
	return w.store.UpsertPosition(ctx, store.Position{
		ID:            f.stored.ID,
		AlgorithmID:   f.algoID,
		Symbol:        f.pos.Symbol,
		Quantity:      decimal.NewFromFloat(f.pos.Qty),
		AvgEntryPrice: decimal.NewFromFloat(f.pos.AvgEntryPrice).Round(4),
	})
}

// snapshot upserts today's snapshot for algo, pricing holdings at the last
// close seen this run or fetched now.
func (w *Worker) snapshot(ctx context.Context, algo store.Algorithm, lastClose map[string]float64) error {
	positions, err := w.store.ListPositions(ctx, algo.ID)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if _, ok := lastClose[p.Symbol]; ok {
			continue
		}
		bars, err := w.broker.Bars(ctx, p.Symbol, w.cfg.Timeframe, 1)
		if err != nil || len(bars) == 0 {
			w.log.Warn("no price for snapshot, using entry price",
				zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}
		lastClose[p.Symbol] = bars[len(bars)-1].Close
	}

	realized, err := w.store.RealizedPnL(ctx, algo.ID)
	if err != nil {
		return err
	}
	snap := BuildSnapshot(algo.ID, w.now(), algo.Capital(w.cfg.DefaultCapital), realized.InexactFloat64(), positions, lastClose)
	return w.store.UpsertSnapshot(ctx, snap)
}

// BuildSnapshot values an algorithm's book. Equity is capital plus realized
// P&L plus unrealized P&L at the last prices; holdings without a price are
// marked at entry.
func BuildSnapshot(algoID string, at time.Time, capital, realized float64, positions []store.Position, lastClose map[string]float64) store.Snapshot {
	var costBasis, value float64
	holdings := make([]store.SnapshotPosition, 0, len(positions))
	for _, p := range positions {
		qty := p.Quantity.InexactFloat64()
		entry := p.AvgEntryPrice.InexactFloat64()
		last, ok := lastClose[p.Symbol]
		if !ok || last <= 0 {
			last = entry
		}
		costBasis += qty * entry
		value += qty * last
		holdings = append(holdings, store.SnapshotPosition{
			Symbol:        p.Symbol,
			Quantity:      qty,
			AvgEntryPrice: entry,
			LastPrice:     last,
			MarketValue:   math.Round(qty*last*100) / 100,
		})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })

	cash := capital + realized - costBasis
	equity := cash + value
	return store.Snapshot{
		AlgorithmID:    algoID,
		SnapshotDate:   at.UTC(),
		Equity:         decimal.NewFromFloat(equity).Round(2),
		Cash:           decimal.NewFromFloat(cash).Round(2),
		PositionsValue: decimal.NewFromFloat(value).Round(2),
		Positions:      holdings,
	}
}
