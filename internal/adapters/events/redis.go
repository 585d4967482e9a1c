// Package events publishes room events to redis pub/sub so an external
// store can persist chat and presence history.
package events

import (
	"context"
	"fmt"

	"github.com/dkeye/Jam/internal/app"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink writes every event to <prefix>:<roomId>.
type RedisSink struct {
	rdb    Publisher
	prefix string
}

func NewRedisSink(rdb Publisher, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "jam"
	}
	return &RedisSink{rdb: rdb, prefix: prefix}
}

// Dial connects to redis and checks it is reachable.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	log.Info().Str("module", "adapters.events").Str("addr", addr).Msg("redis connected")
	return rdb, nil
}

func (s *RedisSink) Channel(ev app.Event) string {
	return s.prefix + ":" + string(ev.RoomID)
}

func (s *RedisSink) Write(ctx context.Context, ev app.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	if err := s.rdb.Publish(ctx, s.Channel(ev), b).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	return nil
}
