package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher appends trade events to a redis stream.
type Publisher struct {
	rdb    *redis.Client
	stream string
}

func NewPublisher(rdb *redis.Client, stream string) *Publisher {
	return &Publisher{rdb: rdb, stream: streamOrDefault(stream)}
}

// PublishTrade XADDs the event as JSON under the "data" field and returns the
// entry id.
func (p *Publisher) PublishTrade(ctx context.Context, ev TradeEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{payloadField: string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return id, nil
}

// RecordTrade lets the publisher act as the engine's trade sink.
func (p *Publisher) RecordTrade(ctx context.Context, ev TradeEvent) error {
	_, err := p.PublishTrade(ctx, ev)
	return err
}

func (p *Publisher) Stream() string { return p.stream }
