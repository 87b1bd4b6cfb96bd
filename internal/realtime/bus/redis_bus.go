package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/realtime"
)

// redisBus publishes each message on "<prefix>:<hub channel>", so one dataset's traffic can
// be watched with a plain SUBSCRIBE, and every replica pattern-subscribes to the prefix.
type redisBus struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

func NewRedisBus(rdb *goredis.Client, prefix string, log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "dataset-events"
	}
	return &redisBus{log: log.With("service", "RedisBus"), rdb: rdb, prefix: prefix}, nil
}

func (b *redisBus) key(channel string) string { return b.prefix + ":" + channel }

func (b *redisBus) Publish(ctx context.Context, msg realtime.Message) error {
	if msg.Channel == "" {
		return fmt.Errorf("message without channel")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.key(msg.Channel), raw).Err()
}

// StartForwarder returns once the pattern subscription is confirmed; delivery then runs in
// the background until ctx is done.
func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	sub := b.rdb.PSubscribe(ctx, b.key("*"))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis psubscribe %s: %w", b.key("*"), err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg realtime.Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn("bad redis bus payload", "redis_channel", m.Channel, "error", err)
					continue
				}
				if msg.Channel == "" {
					msg.Channel = strings.TrimPrefix(m.Channel, b.prefix+":")
				}
				onMsg(msg)
			}
		}
	}()
	return nil
}

// Close leaves the shared client open; its owner closes it.
func (b *redisBus) Close() error { return nil }
