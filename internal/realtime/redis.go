package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel returns the Redis channel of an address.
func Channel(prefix, addressID string) string {
	return prefix + ":" + addressID
}

// RedisPublisher publishes events on one pub/sub channel per address.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisPublisher publishes through client under prefix. The client
// stays owned by the caller.
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (r *RedisPublisher) Name() string { return "redis" }

// Publish sends e on the address channel.
func (r *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return r.client.Publish(ctx, Channel(r.prefix, e.AddressID), payload).Err()
}

// Close is a no-op; the client is shared with the relay and the rate
// limiter and closed by its owner.
func (r *RedisPublisher) Close() error {
	return nil
}

// RedisRelay feeds events published by other processes into the local
// hub, so an API node can stream mail ingested elsewhere.
type RedisRelay struct {
	client *redis.Client
	prefix string
	origin string
	hub    *Hub
	logger *zap.Logger
}

// NewRedisRelay returns a relay that skips events tagged with origin.
func NewRedisRelay(client *redis.Client, prefix, origin string, hub *Hub, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		client: client,
		prefix: prefix,
		origin: origin,
		hub:    hub,
		logger: logger.Named("redis-relay"),
	}
}

// Run subscribes to every address channel until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, r.prefix+":*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s:*: %w", r.prefix, err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Channel, msg.Payload)
		}
	}
}

// handle decodes one pub/sub payload and republishes it locally. It
// reports whether the event was forwarded.
func (r *RedisRelay) handle(channel, payload string) bool {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		r.logger.Warn("dropping undecodable event", zap.String("channel", channel), zap.Error(err))
		return false
	}
	if e.Origin != "" && e.Origin == r.origin {
		return false
	}
	if e.AddressID == "" {
		e.AddressID = strings.TrimPrefix(channel, r.prefix+":")
	}
	r.hub.Publish(e)
	return true
}
