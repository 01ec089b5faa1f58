package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler processes one trade event. A nil return acknowledges the entry.
type Handler func(ctx context.Context, ev TradeEvent) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Count    int64
}

// Consumer reads trade events through a consumer group.
type Consumer struct {
	rdb *redis.Client
	cfg ConsumerConfig
	log *zap.Logger
}

func NewConsumer(rdb *redis.Client, cfg ConsumerConfig, log *zap.Logger) *Consumer {
	cfg.Stream = streamOrDefault(cfg.Stream)
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Consumer == "" {
		cfg.Consumer = cfg.Group + "-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{rdb: rdb, cfg: cfg, log: log.Named("eventbus")}
}

// EnsureGroup creates the consumer group (and the stream). An existing group
// is not an error.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", c.cfg.Group, err)
	}
	return nil
}

// Run consumes until ctx is cancelled. Entries whose handler fails stay
// pending; they are replayed when the consumer starts again.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	// Pending entries from a previous run first, then new ones. The pending
	// pass walks the list once, past entries that fail again.
	start := "0"
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		read, last, err := c.poll(ctx, start, h)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("read group failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		if start != ">" {
			if read == 0 {
				start = ">"
			} else {
				start = last
			}
		}
	}
}

// poll reads one batch. It returns how many entries were read and the id
// of the last one.
func (c *Consumer) poll(ctx context.Context, start string, h Handler) (int, string, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, start},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}
	if start != ">" {
		args.Block = -1
	}
	streams, err := c.rdb.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return 0, start, nil
	}
	if err != nil {
		return 0, start, err
	}

	read, last := 0, start
	for _, s := range streams {
		for _, m := range s.Messages {
			c.handle(ctx, m, h)
			read++
			last = m.ID
		}
	}
	return read, last, nil
}

func (c *Consumer) handle(ctx context.Context, m redis.XMessage, h Handler) {
	ev, err := decode(m)
	if err != nil {
		// Malformed entries can never succeed.
		c.log.Warn("dropping malformed trade event", zap.String("id", m.ID), zap.Error(err))
		c.ack(ctx, m.ID)
		return
	}
	if err := h(ctx, ev); err != nil {
		c.log.Warn("trade event handler failed",
			zap.String("id", m.ID),
			zap.String("algorithm_id", ev.AlgorithmID),
			zap.Error(err))
		return
	}
	c.ack(ctx, m.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.log.Warn("xack failed", zap.String("id", id), zap.Error(err))
	}
}

func decode(m redis.XMessage) (TradeEvent, error) {
	var ev TradeEvent
	raw, ok := m.Values[payloadField].(string)
	if !ok {
		return ev, fmt.Errorf("entry %s has no %q field", m.ID, payloadField)
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, err
	}
	return ev, ev.Validate()
}
