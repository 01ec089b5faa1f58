package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/emily-flambe/get-money-get-paid/internal/alpaca"
	"github.com/emily-flambe/get-money-get-paid/internal/execution"
	"github.com/emily-flambe/get-money-get-paid/internal/metrics"
	"github.com/emily-flambe/get-money-get-paid/internal/portfolio"
	"github.com/emily-flambe/get-money-get-paid/internal/risk"
	"github.com/emily-flambe/get-money-get-paid/internal/strategy"
)

// maxQtyDecimals is the finest share fraction the broker accepts.
const maxQtyDecimals = 9

// Broker is the order surface shared by the Alpaca client and the paper broker.
type Broker interface {
	Account(ctx context.Context) (alpaca.Account, error)
	Positions(ctx context.Context) ([]alpaca.Position, error)
	SubmitOrder(ctx context.Context, req alpaca.OrderRequest) (alpaca.Order, error)
}

type Options struct {
	Broker    Broker
	Risk      *risk.Manager
	Portfolio *portfolio.Tracker
	Tracker   *execution.Tracker
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	DryRun    bool
}

// Manager turns strategy signals into market orders behind the safety rails.
type Manager struct {
	broker    Broker
	risk      *risk.Manager
	portfolio *portfolio.Tracker
	tracker   *execution.Tracker
	metrics   *metrics.Metrics
	log       *zap.Logger
	dryRun    bool

	mu        sync.Mutex
	dryRunSeq int64
}

func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Tracker == nil {
		opts.Tracker = execution.NewTracker()
	}
	if opts.Portfolio == nil {
		opts.Portfolio = portfolio.NewTracker(opts.Broker)
	}
	return &Manager{
		broker:    opts.Broker,
		risk:      opts.Risk,
		portfolio: opts.Portfolio,
		tracker:   opts.Tracker,
		metrics:   opts.Metrics,
		log:       opts.Logger.Named("orders"),
		dryRun:    opts.DryRun,
	}
}

func (m *Manager) Risk() *risk.Manager           { return m.risk }
func (m *Manager) Portfolio() *portfolio.Tracker { return m.portfolio }
func (m *Manager) Tracker() *execution.Tracker   { return m.tracker }
func (m *Manager) DryRun() bool                  { return m.dryRun }

// RefreshAccount re-reads equity and positions from the broker.
func (m *Manager) RefreshAccount(ctx context.Context) error {
	if err := m.portfolio.Sync(ctx); err != nil {
		return fmt.Errorf("refresh account: %w", err)
	}
	m.metrics.Equity.Set(m.portfolio.Equity())
	return nil
}

// Submit places a market order for sig. Buys are notional orders for
// dollars; sells close the whole cached position.
func (m *Manager) Submit(ctx context.Context, sig strategy.Signal, dollars float64) (*alpaca.Order, error) {
	symbol := sig.Symbol
	side := sig.Side()

	if err := m.risk.Check(symbol, side, dollars, m.portfolio.Equity(), m.portfolio.MarketValue(symbol)); err != nil {
		m.blocked(err)
		return nil, err
	}

	var req alpaca.OrderRequest
	switch sig.Type {
	case strategy.Buy:
		if dollars < 1 {
			return nil, fmt.Errorf("buy %s: notional %.2f below $1", symbol, dollars)
		}
		req = alpaca.MarketNotional(symbol, side, dollars)
	case strategy.Sell:
		qty := m.portfolio.Qty(symbol).Truncate(maxQtyDecimals)
		if !qty.IsPositive() {
			m.blocked(risk.ErrNoPosition)
			return nil, fmt.Errorf("sell %s: %w", symbol, risk.ErrNoPosition)
		}
		req = alpaca.MarketQty(symbol, side, qty)
	default:
		return nil, fmt.Errorf("unsupported signal type %q", sig.Type)
	}
	req.ClientOrderID = uuid.NewString()

	var (
		order alpaca.Order
		err   error
	)
	if m.dryRun {
		order = m.simulate(req, sig.Price)
		m.log.Info("dry run order",
			zap.String("symbol", symbol), zap.String("side", side),
			zap.Float64("dollars", dollars), zap.Float64("price", sig.Price),
			zap.String("strategy", sig.StrategyName))
	} else {
		order, err = m.broker.SubmitOrder(ctx, req)
		if err != nil {
			m.metrics.Orders.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("submit %s %s: %w", side, symbol, err)
		}
	}

	m.risk.Record(symbol)
	m.record(order, sig, dollars)
	if m.dryRun {
		m.metrics.Orders.WithLabelValues("dry_run").Inc()
	} else {
		m.metrics.Orders.WithLabelValues("submitted").Inc()
	}
	return &order, nil
}

func (m *Manager) blocked(err error) {
	m.metrics.Blocked.WithLabelValues(risk.BlockReason(err)).Inc()
}

// record books the order. Only broker-confirmed fills reach the execution
// tracker and the portfolio cache, so a later sell never closes shares the
// account may not hold.
func (m *Manager) record(o alpaca.Order, sig strategy.Signal, dollars float64) {
	m.tracker.RegisterOrder(execution.OrderState{
		ID:       o.ID,
		Symbol:   sig.Symbol,
		Side:     sig.Side(),
		Status:   o.Status,
		Strategy: sig.StrategyName,
		Notional: dollars,
		Qty:      o.Qty.Decimal.InexactFloat64(),
	})
	if !o.Filled() {
		return
	}

	qty := o.FilledQty.InexactFloat64()
	price := o.FilledAvgPrice.Decimal.InexactFloat64()
	m.tracker.RecordFill(execution.Fill{
		OrderID:  o.ID,
		Symbol:   sig.Symbol,
		Side:     sig.Side(),
		Price:    price,
		Qty:      qty,
		Strategy: sig.StrategyName,
	})
	m.portfolio.ApplyFill(sig.Symbol, sig.Side(), qty, price)
}

// FillEstimate returns the filled qty and price of o, or dollars/price and
// the signal price when the order has no fill yet.
func FillEstimate(o alpaca.Order, price, dollars float64) (float64, float64) {
	if o.Filled() {
		return o.FilledQty.InexactFloat64(), o.FilledAvgPrice.Decimal.InexactFloat64()
	}
	if o.Qty.Valid {
		return o.Qty.Decimal.InexactFloat64(), price
	}
	if price <= 0 {
		return 0, 0
	}
	return dollars / price, price
}

func (m *Manager) simulate(req alpaca.OrderRequest, price float64) alpaca.Order {
	m.mu.Lock()
	m.dryRunSeq++
	seq := m.dryRunSeq
	m.mu.Unlock()

	now := time.Now().UTC()
	o := alpaca.Order{
		ID:            fmt.Sprintf("dry-run-%06d", seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Status:        "dry_run",
		CreatedAt:     now,
		SubmittedAt:   now,
	}
	if req.Qty != nil {
		o.Qty = decimal.NewNullDecimal(*req.Qty)
	}
	if req.Notional != nil {
		o.Notional = decimal.NewNullDecimal(*req.Notional)
	}
	if price > 0 {
		qty := o.Qty.Decimal
		if !o.Qty.Valid && req.Notional != nil {
			qty = req.Notional.Div(decimal.NewFromFloat(price))
		}
		o.FilledQty = qty
		o.FilledAvgPrice = decimal.NewNullDecimal(decimal.NewFromFloat(price))
	}
	return o
}
