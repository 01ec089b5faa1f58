package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Algorithm struct {
	ID           string         `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	Description  string         `db:"description" json:"description"`
	StrategyType string         `db:"strategy_type" json:"strategy_type"`
	Config       map[string]any `db:"config" json:"config"`
	Symbols      []string       `db:"symbols" json:"symbols"`
	Enabled      bool           `db:"enabled" json:"enabled"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Params returns the numeric entries of Config.
func (a Algorithm) Params() map[string]float64 {
	out := make(map[string]float64, len(a.Config))
	for k, v := range a.Config {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		}
	}
	return out
}

// Capital is the starting equity used for snapshots, read from the
// "capital" config key.
func (a Algorithm) Capital(def float64) float64 {
	if v, ok := a.Params()["capital"]; ok && v > 0 {
		return v
	}
	return def
}

// NewAlgorithm is the create payload. Missing fields take defaults.
type NewAlgorithm struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	StrategyType string         `json:"strategy_type"`
	Config       map[string]any `json:"config"`
	Symbols      []string       `json:"symbols"`
	Enabled      *bool          `json:"enabled"`
}

func (n NewAlgorithm) withDefaults() NewAlgorithm {
	if strings.TrimSpace(n.Name) == "" {
		n.Name = "Unnamed"
	}
	if n.StrategyType == "" {
		n.StrategyType = "sma_crossover"
	}
	if n.Config == nil {
		n.Config = map[string]any{}
	}
	if n.Symbols == nil {
		n.Symbols = []string{}
	}
	if n.Enabled == nil {
		enabled := true
		n.Enabled = &enabled
	}
	return n
}

// AlgorithmPatch holds the fields of an update. Nil fields are left alone.
type AlgorithmPatch struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Config      *map[string]any `json:"config"`
	Symbols     *[]string       `json:"symbols"`
	Enabled     *bool           `json:"enabled"`
}

const algorithmColumns = `id, name, description, strategy_type, config, symbols, enabled, created_at, updated_at`

func (s *Store) ListAlgorithms(ctx context.Context) ([]Algorithm, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+algorithmColumns+` FROM algorithms ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list algorithms: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Algorithm])
}

func (s *Store) ListEnabledAlgorithms(ctx context.Context) ([]Algorithm, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+algorithmColumns+` FROM algorithms WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list enabled algorithms: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Algorithm])
}

func (s *Store) GetAlgorithm(ctx context.Context, id string) (Algorithm, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+algorithmColumns+` FROM algorithms WHERE id = $1`, id)
	if err != nil {
		return Algorithm{}, fmt.Errorf("get algorithm: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Algorithm])
	return a, notFound(err)
}

// CreateAlgorithm inserts a new algorithm and returns its id.
func (s *Store) CreateAlgorithm(ctx context.Context, in NewAlgorithm) (string, error) {
	in = in.withDefaults()
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO algorithms (id, name, description, strategy_type, config, symbols, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, in.Name, in.Description, in.StrategyType, in.Config, in.Symbols, *in.Enabled)
	if err != nil {
		return "", fmt.Errorf("create algorithm: %w", err)
	}
	return id, nil
}

// UpdateAlgorithm applies the present fields of patch. ErrNotFound is
// returned when no row matches.
func (s *Store) UpdateAlgorithm(ctx context.Context, id string, patch AlgorithmPatch) error {
	query, args, ok := buildAlgorithmUpdate(id, patch)
	if !ok {
		return nil
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update algorithm: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func buildAlgorithmUpdate(id string, patch AlgorithmPatch) (string, []any, bool) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Config != nil {
		cfg := *patch.Config
		if cfg == nil {
			cfg = map[string]any{}
		}
		add("config", cfg)
	}
	if patch.Symbols != nil {
		syms := *patch.Symbols
		if syms == nil {
			syms = []string{}
		}
		add("symbols", syms)
	}
	if patch.Enabled != nil {
		add("enabled", *patch.Enabled)
	}
	if len(sets) == 0 {
		return "", nil, false
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf("UPDATE algorithms SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return query, args, true
}

// DeleteAlgorithm removes the algorithm and its trades, positions and
// snapshots in one transaction.
func (s *Store) DeleteAlgorithm(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, q := range []string{
			`DELETE FROM trades WHERE algorithm_id = $1`,
			`DELETE FROM positions WHERE algorithm_id = $1`,
			`DELETE FROM snapshots WHERE algorithm_id = $1`,
			`DELETE FROM algorithms WHERE id = $1`,
		} {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return fmt.Errorf("delete algorithm: %w", err)
			}
		}
		return nil
	})
}
