package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Position struct {
	ID            string          `db:"id" json:"id"`
	AlgorithmID   string          `db:"algorithm_id" json:"algorithm_id"`
	Symbol        string          `db:"symbol" json:"symbol"`
	Quantity      decimal.Decimal `db:"quantity" json:"quantity"`
	AvgEntryPrice decimal.Decimal `db:"avg_entry_price" json:"avg_entry_price"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

const positionColumns = `id, algorithm_id, symbol, quantity, avg_entry_price, created_at, updated_at`

func (s *Store) ListPositions(ctx context.Context, algoID string) ([]Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+positionColumns+` FROM positions
		WHERE algorithm_id = $1 ORDER BY symbol`, algoID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Position])
}

// GetPosition returns the algorithm's position in symbol or ErrNotFound.
func (s *Store) GetPosition(ctx context.Context, algoID, symbol string) (Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+positionColumns+` FROM positions
		WHERE algorithm_id = $1 AND symbol = $2`, algoID, symbol)
	if err != nil {
		return Position{}, fmt.Errorf("get position: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Position])
	return p, notFound(err)
}

// UpsertPosition writes the quantity and entry price for (algorithm, symbol).
func (s *Store) UpsertPosition(ctx context.Context, p Position) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (id, algorithm_id, symbol, quantity, avg_entry_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (algorithm_id, symbol) DO UPDATE
		SET quantity = EXCLUDED.quantity, avg_entry_price = EXCLUDED.avg_entry_price, updated_at = now()`,
		p.ID, p.AlgorithmID, p.Symbol, p.Quantity, p.AvgEntryPrice)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

func (s *Store) DeletePosition(ctx context.Context, algoID, symbol string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE algorithm_id = $1 AND symbol = $2`, algoID, symbol); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}
