package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const DefaultTradeLimit = 100

type Trade struct {
	ID            string              `db:"id" json:"id"`
	AlgorithmID   string              `db:"algorithm_id" json:"algorithm_id"`
	Symbol        string              `db:"symbol" json:"symbol"`
	Side          string              `db:"side" json:"side"`
	Quantity      decimal.Decimal     `db:"quantity" json:"quantity"`
	OrderType     string              `db:"order_type" json:"order_type"`
	Status        string              `db:"status" json:"status"`
	AlpacaOrderID string              `db:"alpaca_order_id" json:"alpaca_order_id"`
	FilledPrice   decimal.NullDecimal `db:"filled_price" json:"filled_price"`
	FilledQty     decimal.NullDecimal `db:"filled_qty" json:"filled_qty"`
	PnL           decimal.NullDecimal `db:"pnl" json:"pnl"`
	Notes         string              `db:"notes" json:"notes"`
	SubmittedAt   time.Time           `db:"submitted_at" json:"submitted_at"`
}

const tradeColumns = `id, algorithm_id, symbol, side, quantity, order_type, status, alpaca_order_id,
	filled_price, filled_qty, pnl, notes, submitted_at`

// InsertTrade records a trade and returns its id. Empty id, order type,
// status and submit time are filled in.
func (s *Store) InsertTrade(ctx context.Context, t Trade) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.OrderType == "" {
		t.OrderType = "market"
	}
	if t.Status == "" {
		t.Status = "submitted"
	}
	if t.SubmittedAt.IsZero() {
		t.SubmittedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.AlgorithmID, t.Symbol, t.Side, t.Quantity, t.OrderType, t.Status, t.AlpacaOrderID,
		t.FilledPrice, t.FilledQty, t.PnL, t.Notes, t.SubmittedAt)
	if err != nil {
		return "", fmt.Errorf("insert trade: %w", err)
	}
	return t.ID, nil
}

// ListTrades returns the most recent trades of an algorithm, newest first.
func (s *Store) ListTrades(ctx context.Context, algoID string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = DefaultTradeLimit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE algorithm_id = $1 ORDER BY submitted_at DESC LIMIT $2`, algoID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Trade])
}

func (s *Store) CountTrades(ctx context.Context, algoID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trades WHERE algorithm_id = $1`, algoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

// TradePnLs returns the realized P&L of every closing trade.
func (s *Store) TradePnLs(ctx context.Context, algoID string) ([]float64, error) {
	rows, err := s.pool.Query(ctx, `SELECT pnl FROM trades
		WHERE algorithm_id = $1 AND pnl IS NOT NULL ORDER BY submitted_at`, algoID)
	if err != nil {
		return nil, fmt.Errorf("trade pnls: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (float64, error) {
		var d decimal.Decimal
		err := row.Scan(&d)
		return d.InexactFloat64(), err
	})
}

// RealizedPnL sums the realized P&L of an algorithm's trades.
func (s *Store) RealizedPnL(ctx context.Context, algoID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE algorithm_id = $1`, algoID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("realized pnl: %w", err)
	}
	return total, nil
}
