package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const defaultChannelPrefix = "recall:events:"

// RedisSink publishes every event as JSON on a per-owner pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

func NewRedisSink(addr, password string, db int, prefix string) *RedisSink {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisSink{client: client, prefix: prefix, timeout: 3 * time.Second, now: time.Now}
}

func (s *RedisSink) Channel(ownerID string) string {
	return s.prefix + ownerID
}

func (s *RedisSink) Publish(ownerID, name string, payload interface{}) {
	evt := Event{Name: name, OwnerID: ownerID, Payload: payload, Ts: s.now().UnixMilli()}
	data, err := json.Marshal(evt)
	if err != nil {
		logutil.GetLogger(context.Background()).Error("marshal event failed", zap.String("event", name), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Publish(ctx, s.Channel(ownerID), data).Err(); err != nil {
		logutil.GetLogger(ctx).Warn("publish event to redis failed",
			zap.String("owner_id", ownerID),
			zap.String("event", name),
			zap.Error(err),
		)
	}
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
