package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// SnapshotPosition is one holding inside a daily snapshot.
type SnapshotPosition struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	LastPrice     float64 `json:"last_price"`
	MarketValue   float64 `json:"market_value"`
}

type Snapshot struct {
	ID             string             `db:"id" json:"id"`
	AlgorithmID    string             `db:"algorithm_id" json:"algorithm_id"`
	SnapshotDate   time.Time          `db:"snapshot_date" json:"snapshot_date"`
	Equity         decimal.Decimal    `db:"equity" json:"equity"`
	Cash           decimal.Decimal    `db:"cash" json:"cash"`
	PositionsValue decimal.Decimal    `db:"positions_value" json:"positions_value"`
	Positions      []SnapshotPosition `db:"positions" json:"positions"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
}

// ListSnapshots returns an algorithm's snapshots in date order.
func (s *Store) ListSnapshots(ctx context.Context, algoID string) ([]Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, algorithm_id, snapshot_date, equity, cash, positions_value, positions, created_at
		FROM snapshots WHERE algorithm_id = $1 ORDER BY snapshot_date ASC`, algoID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Snapshot])
}

// UpsertSnapshot writes the snapshot for its (algorithm, date), replacing
// any earlier one for the same day.
func (s *Store) UpsertSnapshot(ctx context.Context, snap Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.Positions == nil {
		snap.Positions = []SnapshotPosition{}
	}
	day := snap.SnapshotDate.UTC().Truncate(24 * time.Hour)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (id, algorithm_id, snapshot_date, equity, cash, positions_value, positions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (algorithm_id, snapshot_date) DO UPDATE
		SET equity = EXCLUDED.equity, cash = EXCLUDED.cash,
		    positions_value = EXCLUDED.positions_value, positions = EXCLUDED.positions`,
		snap.ID, snap.AlgorithmID, day, snap.Equity, snap.Cash, snap.PositionsValue, snap.Positions)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Equities returns the snapshot equity series for an algorithm.
func Equities(snaps []Snapshot) []float64 {
	out := make([]float64, len(snaps))
	for i, s := range snaps {
		out[i] = s.Equity.InexactFloat64()
	}
	return out
}
