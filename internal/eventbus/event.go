package eventbus

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emily-flambe/get-money-get-paid/internal/store"
)

// TradeEvent is an accepted order reported by the realtime engine. It is the
// body of POST /api/trades and the payload of a trade stream entry.
type TradeEvent struct {
	AlgorithmID   string    `json:"algorithm_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Quantity      float64   `json:"quantity"`
	OrderType     string    `json:"order_type,omitempty"`
	Status        string    `json:"status,omitempty"`
	AlpacaOrderID string    `json:"alpaca_order_id,omitempty"`
	FilledPrice   *float64  `json:"filled_price,omitempty"`
	FilledQty     *float64  `json:"filled_qty,omitempty"`
	PnL           *float64  `json:"pnl,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
}

var ErrInvalidEvent = errors.New("eventbus: invalid trade event")

// Validate checks the fields every trade row needs.
func (e TradeEvent) Validate() error {
	switch {
	case e.AlgorithmID == "":
		return errors.Join(ErrInvalidEvent, errors.New("algorithm_id required"))
	case e.Symbol == "":
		return errors.Join(ErrInvalidEvent, errors.New("symbol required"))
	}
	side := strings.ToLower(e.Side)
	if side != "buy" && side != "sell" {
		return errors.Join(ErrInvalidEvent, errors.New("side must be buy or sell"))
	}
	return nil
}

// ToTrade converts the event into a trade row. Empty defaults are left to
// store.InsertTrade.
func (e TradeEvent) ToTrade() store.Trade {
	t := store.Trade{
		AlgorithmID:   e.AlgorithmID,
		Symbol:        strings.ToUpper(e.Symbol),
		Side:          strings.ToLower(e.Side),
		Quantity:      decimal.NewFromFloat(e.Quantity),
		OrderType:     e.OrderType,
		Status:        e.Status,
		AlpacaOrderID: e.AlpacaOrderID,
		FilledPrice:   nullDecimal(e.FilledPrice),
		FilledQty:     nullDecimal(e.FilledQty),
		PnL:           nullDecimal(e.PnL),
		Notes:         e.Notes,
	}
	if !e.Timestamp.IsZero() {
		t.SubmittedAt = e.Timestamp.UTC()
	}
	return t
}

func nullDecimal(v *float64) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*v))
}

// Float returns a pointer to v, for the optional event fields.
func Float(v float64) *float64 { return &v }
