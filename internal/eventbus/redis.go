package eventbus

import (
	"github.com/redis/go-redis/v9"

	"github.com/emily-flambe/get-money-get-paid/internal/config"
)

const (
	DefaultStream = "trades:stream"
	DefaultGroup  = "dashboard"
	payloadField  = "data"
)

// NewClient builds a redis client from the redis config section.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Username: cfg.Username,
		Password: cfg.Password,
	})
}

func streamOrDefault(s string) string {
	if s == "" {
		return DefaultStream
	}
	return s
}
