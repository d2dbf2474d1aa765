package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultChannel = "worksafe:changes"

// RedisRelay publishes committed changes on a Redis channel and feeds every
// message it receives into the local hub, so all instances sharing the
// database notify their subscribers. The writing instance has already
// notified its own hub; the echo of its own message is an extra poke.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     *zap.Logger
}

// NewRedisRelay connects to redisURL and checks the connection.
func NewRedisRelay(redisURL string, hub *Hub, log *zap.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisRelayWithClient(client, hub, log), nil
}

// NewRedisRelayWithClient builds a relay from an existing client.
func NewRedisRelayWithClient(client *redis.Client, hub *Hub, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{client: client, channel: defaultChannel, hub: hub, log: log}
}

func (r *RedisRelay) Broadcast(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	payload, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish changes: %w", err)
	}
	return nil
}

// Start subscribes to the channel and relays messages until ctx ends.
// It returns once the subscription is confirmed by the server.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var changes []Change
				if err := json.Unmarshal([]byte(msg.Payload), &changes); err != nil {
					r.log.Warn("drop malformed change message", zap.Error(err))
					continue
				}
				r.hub.Broadcast(ctx, changes)
			}
		}
	}()
	return nil
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
