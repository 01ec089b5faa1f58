package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emily-flambe/get-money-get-paid/internal/alpaca"
)

type Config struct {
	InitialBalanceUSD float64 `yaml:"initial_balance_usd"`
	FeeBps            float64 `yaml:"fee_bps"`
	SlippageBps       float64 `yaml:"slippage_bps"`
}

// PriceSource supplies the last traded price of a symbol.
type PriceSource interface {
	Last(symbol string) (float64, error)
}

type Snapshot struct {
	InitialBalanceUSD float64 `json:"initial_balance_usd"`
	CashUSD           float64 `json:"cash_usd"`
	FeesPaidUSD       float64 `json:"fees_paid_usd"`
	TotalVolumeUSD    float64 `json:"total_volume_usd"`
	TotalTrades       int     `json:"total_trades"`
}

type holding struct {
	qty      float64
	avgPrice float64
}

// Broker fills market orders locally against the last feed price. It is
// long-only: sells are limited to the held quantity.
type Broker struct {
	mu sync.Mutex

	cfg    Config
	prices PriceSource
	now    func() time.Time

	sequence       int64
	cashUSD        float64
	feesPaidUSD    float64
	totalVolumeUSD float64
	totalTrades    int
	inventory      map[string]*holding
}

func NewBroker(cfg Config, prices PriceSource) *Broker {
	if cfg.InitialBalanceUSD <= 0 {
		cfg.InitialBalanceUSD = 100000
	}
	return &Broker{
		cfg:       cfg,
		prices:    prices,
		now:       func() time.Time { return time.Now().UTC() },
		cashUSD:   cfg.InitialBalanceUSD,
		inventory: make(map[string]*holding),
	}
}

func (b *Broker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		InitialBalanceUSD: b.cfg.InitialBalanceUSD,
		CashUSD:           b.cashUSD,
		FeesPaidUSD:       b.feesPaidUSD,
		TotalVolumeUSD:    b.totalVolumeUSD,
		TotalTrades:       b.totalTrades,
	}
}

// Account reports cash plus holdings marked at the last price.
func (b *Broker) Account(ctx context.Context) (alpaca.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cashUSD
	for sym, h := range b.inventory {
		equity += h.qty * b.markLocked(sym, h)
	}
	cash := decimal.NewFromFloat(b.cashUSD).Round(2)
	eq := decimal.NewFromFloat(equity).Round(2)
	return alpaca.Account{
		ID:             "paper",
		AccountNumber:  "PAPER",
		Status:         "ACTIVE",
		Currency:       "USD",
		Cash:           cash,
		Equity:         eq,
		LastEquity:     eq,
		BuyingPower:    cash,
		PortfolioValue: eq,
	}, nil
}

func (b *Broker) Positions(ctx context.Context) ([]alpaca.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]alpaca.Position, 0, len(b.inventory))
	for sym, h := range b.inventory {
		mark := b.markLocked(sym, h)
		qty := decimal.NewFromFloat(h.qty)
		out = append(out, alpaca.Position{
			AssetID:       sym,
			Symbol:        sym,
			Side:          "long",
			Qty:           qty,
			AvgEntryPrice: decimal.NewFromFloat(h.avgPrice),
			MarketValue:   decimal.NewFromFloat(h.qty * mark).Round(2),
			CostBasis:     decimal.NewFromFloat(h.qty * h.avgPrice).Round(2),
			UnrealizedPL:  decimal.NewFromFloat(h.qty * (mark - h.avgPrice)).Round(2),
			CurrentPrice:  decimal.NewFromFloat(mark),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// markLocked prices a holding at the feed, falling back to its entry price.
func (b *Broker) markLocked(symbol string, h *holding) float64 {
	if b.prices != nil {
		if p, err := b.prices.Last(symbol); err == nil && p > 0 {
			return p
		}
	}
	return h.avgPrice
}

// SubmitOrder fills a market order immediately. Notional orders are sized at
// the slipped execution price.
func (b *Broker) SubmitOrder(ctx context.Context, req alpaca.OrderRequest) (alpaca.Order, error) {
	side := strings.ToLower(strings.TrimSpace(req.Side))
	if side != "buy" && side != "sell" {
		return alpaca.Order{}, fmt.Errorf("unsupported side: %s", req.Side)
	}
	if req.Type != "" && req.Type != "market" {
		return alpaca.Order{}, fmt.Errorf("unsupported order type: %s", req.Type)
	}
	if b.prices == nil {
		return alpaca.Order{}, fmt.Errorf("no price source")
	}
	last, err := b.prices.Last(req.Symbol)
	if err != nil {
		return alpaca.Order{}, err
	}
	price := applySlippage(last, side, b.cfg.SlippageBps)
	if price <= 0 {
		return alpaca.Order{}, fmt.Errorf("invalid execution price")
	}

	var qty, amount float64
	switch {
	case req.Notional != nil:
		amount = req.Notional.InexactFloat64()
		qty = amount / price
	case req.Qty != nil:
		qty = req.Qty.InexactFloat64()
		amount = qty * price
	default:
		return alpaca.Order{}, fmt.Errorf("order needs qty or notional")
	}
	if qty <= 0 || amount <= 0 {
		return alpaca.Order{}, fmt.Errorf("order size must be positive")
	}
	fee := amount * b.cfg.FeeBps / 10000

	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.inventory[req.Symbol]
	switch side {
	case "buy":
		if amount+fee > b.cashUSD {
			return alpaca.Order{}, fmt.Errorf("insufficient paper balance: need %.2f have %.2f", amount+fee, b.cashUSD)
		}
		if h == nil {
			h = &holding{}
			b.inventory[req.Symbol] = h
		}
		h.avgPrice = (h.qty*h.avgPrice + qty*price) / (h.qty + qty)
		h.qty += qty
		b.cashUSD -= amount + fee
	case "sell":
		held := 0.0
		if h != nil {
			held = h.qty
		}
		if held+1e-9 < qty {
			return alpaca.Order{}, fmt.Errorf("insufficient paper inventory: need %.6f have %.6f", qty, held)
		}
		h.qty -= qty
		if h.qty < 1e-9 {
			delete(b.inventory, req.Symbol)
		}
		b.cashUSD += amount - fee
	}
	b.feesPaidUSD += fee
	b.totalVolumeUSD += amount
	b.totalTrades++
	b.sequence++

	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	now := b.now()
	o := alpaca.Order{
		ID:             fmt.Sprintf("paper-order-%06d", b.sequence),
		ClientOrderID:  clientID,
		Symbol:         req.Symbol,
		Side:           side,
		Type:           "market",
		TimeInForce:    "day",
		Status:         "filled",
		FilledQty:      decimal.NewFromFloat(qty),
		FilledAvgPrice: decimal.NewNullDecimal(decimal.NewFromFloat(price)),
		CreatedAt:      now,
		SubmittedAt:    now,
		FilledAt:       &now,
	}
	if req.Qty != nil {
		o.Qty = decimal.NewNullDecimal(*req.Qty)
	}
	if req.Notional != nil {
		o.Notional = decimal.NewNullDecimal(*req.Notional)
	}
	return o, nil
}

func applySlippage(price float64, side string, slippageBps float64) float64 {
	if slippageBps <= 0 {
		return price
	}
	multiplier := slippageBps / 10000
	if side == "buy" {
		return price * (1 + multiplier)
	}
	return price * (1 - multiplier)
}
