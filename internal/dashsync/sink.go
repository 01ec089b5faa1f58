package dashsync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/emily-flambe/get-money-get-paid/internal/config"
	"github.com/emily-flambe/get-money-get-paid/internal/eventbus"
)

const (
	ModeHTTP  = "http"
	ModeRedis = "redis"
	ModeNone  = "none"
)

// Sink receives every trade the realtime engine gets accepted.
type Sink interface {
	RecordTrade(ctx context.Context, ev eventbus.TradeEvent) error
}

type nopSink struct{}

func (nopSink) RecordTrade(context.Context, eventbus.TradeEvent) error { return nil }

// Nop discards trades.
func Nop() Sink { return nopSink{} }

// NewSink picks the trade sink for sync.mode. The returned close func
// releases the redis client when one was opened.
func NewSink(cfg config.Config, log *zap.Logger) (Sink, func() error, error) {
	if log == nil {
		log = zap.NewNop()
	}
	noClose := func() error { return nil }

	switch mode := strings.ToLower(strings.TrimSpace(cfg.Sync.Mode)); mode {
	case ModeHTTP:
		if cfg.Sync.DashboardURL == "" {
			return nil, noClose, fmt.Errorf("sync.mode http requires sync.dashboard_url")
		}
		log.Info("trade sync via dashboard api", zap.String("url", cfg.Sync.DashboardURL))
		return NewClient(cfg.Sync.DashboardURL, cfg.Sync.Timeout), noClose, nil
	case ModeRedis:
		rdb := eventbus.NewClient(cfg.Redis)
		log.Info("trade sync via redis stream",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("stream", cfg.Redis.Stream))
		return eventbus.NewPublisher(rdb, cfg.Redis.Stream), rdb.Close, nil
	case ModeNone, "":
		return Nop(), noClose, nil
	default:
		return nil, noClose, fmt.Errorf("unknown sync.mode %q", mode)
	}
}
