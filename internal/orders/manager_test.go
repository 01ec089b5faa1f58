package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emily-flambe/get-money-get-paid/internal/alpaca"
	"github.com/emily-flambe/get-money-get-paid/internal/feed"
	"github.com/emily-flambe/get-money-get-paid/internal/metrics"
	"github.com/emily-flambe/get-money-get-paid/internal/paper"
	"github.com/emily-flambe/get-money-get-paid/internal/risk"
	"github.com/emily-flambe/get-money-get-paid/internal/strategy"
)

type recordingBroker struct {
	*paper.Broker
	requests []alpaca.OrderRequest
	fail     error
	unfilled bool
}

func (b *recordingBroker) SubmitOrder(ctx context.Context, req alpaca.OrderRequest) (alpaca.Order, error) {
	b.requests = append(b.requests, req)
	if b.fail != nil {
		return alpaca.Order{}, b.fail
	}
	if b.unfilled {
		return alpaca.Order{ID: "ord-" + req.ClientOrderID, Symbol: req.Symbol, Side: req.Side, Status: "accepted"}, nil
	}
	return b.Broker.SubmitOrder(ctx, req)
}

func newTestManager(t *testing.T, dryRun bool, rails risk.Config) (*Manager, *recordingBroker, *metrics.Metrics) {
	t.Helper()
	prices := feed.NewPrices()
	prices.Set("SPY", 500)
	prices.Set("AAPL", 200)
	broker := &recordingBroker{Broker: paper.NewBroker(paper.Config{InitialBalanceUSD: 100000}, prices)}

	if rails.BaseURL == "" {
		rails.BaseURL = "https://paper-api.alpaca.markets"
	}
	rm, err := risk.New(rails)
	require.NoError(t, err)

	m := metrics.New(nil)
	mgr := New(Options{Broker: broker, Risk: rm, Metrics: m, DryRun: dryRun})
	require.NoError(t, mgr.RefreshAccount(context.Background()))
	return mgr, broker, m
}

func buy(symbol string, price float64) strategy.Signal {
	return strategy.Signal{Type: strategy.Buy, Symbol: symbol, StrategyName: "mom", Price: price, Timestamp: time.Now()}
}

func sell(symbol string, price float64) strategy.Signal {
	return strategy.Signal{Type: strategy.Sell, Symbol: symbol, StrategyName: "mom", Price: price, Timestamp: time.Now()}
}

func TestRefreshAccountSetsEquity(t *testing.T) {
	mgr, _, m := newTestManager(t, false, risk.Config{})
	assert.Equal(t, 100000.0, mgr.Portfolio().Equity())
	assert.Equal(t, 100000.0, testutil.ToFloat64(m.Equity))
}

func TestSubmitBuyIsNotionalRoundedToCents(t *testing.T) {
	mgr, broker, m := newTestManager(t, false, risk.Config{})

	o, err := mgr.Submit(context.Background(), buy("SPY", 500), 100.456)
	require.NoError(t, err)
	require.NotNil(t, o)

	require.Len(t, broker.requests, 1)
	req := broker.requests[0]
	require.NotNil(t, req.Notional)
	assert.Nil(t, req.Qty)
	assert.Equal(t, "100.46", req.Notional.String())
	assert.NotEmpty(t, req.ClientOrderID)

	assert.Equal(t, 1, mgr.Tracker().OrderCount())
	assert.Equal(t, 1, mgr.Tracker().TotalFills())
	assert.Greater(t, mgr.Portfolio().MarketValue("SPY"), 0.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues("submitted")))
	assert.Equal(t, 1, mgr.Risk().Snapshot().OrdersLastMinute)
}

func TestSubmitSellClosesWholePosition(t *testing.T) {
	mgr, broker, _ := newTestManager(t, false, risk.Config{})
	_, err := mgr.Submit(context.Background(), buy("AAPL", 200), 1000)
	require.NoError(t, err)

	_, err = mgr.Submit(context.Background(), sell("AAPL", 200), 0)
	require.NoError(t, err)

	req := broker.requests[1]
	require.NotNil(t, req.Qty)
	assert.Nil(t, req.Notional)
	assert.True(t, req.Qty.Equal(decimal.NewFromInt(5)), "sold %s", req.Qty)
	assert.False(t, mgr.Portfolio().Qty("AAPL").IsPositive())
}

func TestSellAfterUnfilledBuyIsBlocked(t *testing.T) {
	mgr, broker, _ := newTestManager(t, false, risk.Config{})
	broker.unfilled = true

	o, err := mgr.Submit(context.Background(), buy("AAPL", 190), 100)
	require.NoError(t, err)
	assert.False(t, o.Filled())
	assert.Equal(t, 1, mgr.Tracker().OrderCount())
	assert.Zero(t, mgr.Tracker().TotalFills())
	assert.True(t, mgr.Portfolio().Qty("AAPL").IsZero())

	_, err = mgr.Submit(context.Background(), sell("AAPL", 190), 0)
	assert.ErrorIs(t, err, risk.ErrNoPosition)
	assert.Len(t, broker.requests, 1)
}

func TestSubmitSellWithoutPosition(t *testing.T) {
	mgr, broker, m := newTestManager(t, false, risk.Config{})

	_, err := mgr.Submit(context.Background(), sell("SPY", 500), 0)
	assert.ErrorIs(t, err, risk.ErrNoPosition)
	assert.Empty(t, broker.requests)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Blocked.WithLabelValues("no_position")))
}

func TestSubmitBlockedByRails(t *testing.T) {
	mgr, broker, m := newTestManager(t, false, risk.Config{MaxOrdersPerMinute: 1, MaxPositionPct: 0.25})

	_, err := mgr.Submit(context.Background(), buy("SPY", 500), 30000)
	assert.ErrorIs(t, err, risk.ErrPositionLimit)

	_, err = mgr.Submit(context.Background(), buy("SPY", 500), 100)
	require.NoError(t, err)
	_, err = mgr.Submit(context.Background(), buy("AAPL", 200), 100)
	assert.ErrorIs(t, err, risk.ErrRateLimited)

	assert.Len(t, broker.requests, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Blocked.WithLabelValues("position_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Blocked.WithLabelValues("rate_limit")))
}

func TestSubmitBrokerFailureIsNotRecorded(t *testing.T) {
	mgr, broker, m := newTestManager(t, false, risk.Config{})
	broker.fail = errors.New("503")

	_, err := mgr.Submit(context.Background(), buy("SPY", 500), 100)
	require.Error(t, err)
	assert.Equal(t, 0, mgr.Risk().Snapshot().OrdersLastMinute)
	assert.Equal(t, 0, mgr.Tracker().OrderCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues("failed")))
}

func TestDryRunSkipsBrokerButRecords(t *testing.T) {
	mgr, broker, m := newTestManager(t, true, risk.Config{})

	o, err := mgr.Submit(context.Background(), buy("SPY", 500), 250)
	require.NoError(t, err)
	assert.Empty(t, broker.requests)
	assert.Equal(t, "dry-run-000001", o.ID)
	assert.Equal(t, "dry_run", o.Status)
	assert.True(t, o.Filled())
	assert.InDelta(t, 0.5, o.FilledQty.InexactFloat64(), 1e-9)

	assert.Equal(t, 1, mgr.Risk().Snapshot().OrdersLastMinute)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Orders.WithLabelValues("dry_run")))
	assert.InDelta(t, 0.5, mgr.Portfolio().Qty("SPY").InexactFloat64(), 1e-9)
}

func TestFillEstimate(t *testing.T) {
	qty, px := FillEstimate(alpaca.Order{}, 50, 100)
	assert.Equal(t, 2.0, qty)
	assert.Equal(t, 50.0, px)

	filled := alpaca.Order{
		FilledQty:      decimal.NewFromFloat(1.5),
		FilledAvgPrice: decimal.NewNullDecimal(decimal.NewFromInt(60)),
	}
	qty, px = FillEstimate(filled, 50, 100)
	assert.Equal(t, 1.5, qty)
	assert.Equal(t, 60.0, px)

	qty, _ = FillEstimate(alpaca.Order{}, 0, 100)
	assert.Equal(t, 0.0, qty)
}
