// Package mirror republishes room events to Redis pub/sub so other services
// can consume chat activity without holding their own session.
package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"sechat/chat"
)

type Publisher struct {
	rdb *redis.Client
	ctx context.Context
}

func NewPublisher(redisURL string) (*Publisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Error("[MIRROR] Failed to parse Redis URL", "error", err)
		return nil, err
	}

	rdb := redis.NewClient(opt)
	ctx := context.Background()

	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("[MIRROR] Failed to connect to Redis", "error", err)
		return nil, err
	}

	slog.Info("[MIRROR] Connected to Redis")
	return &Publisher{rdb: rdb, ctx: ctx}, nil
}

func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// PublishEvent fans one room event out to the room's pub/sub channel.
func (p *Publisher) PublishEvent(ev *chat.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("[MIRROR] Failed to marshal event", "type", ev.Type, "room", ev.RoomID, "error", err)
		return err
	}

	channel := fmt.Sprintf("room:%d", ev.RoomID)
	if err := p.rdb.Publish(p.ctx, channel, payload).Err(); err != nil {
		slog.Error("[MIRROR] Failed to publish event", "type", ev.Type, "channel", channel, "error", err)
		return err
	}
	return nil
}
