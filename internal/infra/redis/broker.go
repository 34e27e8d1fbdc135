// internal/infra/redis/broker.go
package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jack139/internvl-backend/internal/domain"
)

// NewClient creates the shared Redis client from the broker connection
// parameters. The caller owns the client lifecycle.
func NewClient(addr, password string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
	})
}

// Broker implements domain.Broker on Redis pub/sub. Work arrives on the
// shared request queue channel; replies go out on one channel per request.
type Broker struct {
	client *goredis.Client
	logger *slog.Logger
}

var _ domain.Broker = (*Broker)(nil)

// NewBroker wraps an existing Redis client.
func NewBroker(client *goredis.Client, logger *slog.Logger) *Broker {
	return &Broker{
		client: client,
		logger: logger.With("component", "redis-broker"),
	}
}

// Ping verifies the Redis connection is alive.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Subscribe opens a pub/sub subscription on the named channel. Connection
// problems surface from the first Receive, not from Subscribe itself.
func (b *Broker) Subscribe(ctx context.Context, channel string) (domain.BrokerSubscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	return &subscription{ps: ps}, nil
}

// Publish sends one message and does not wait for any receiver. A message
// published to a channel nobody listens on is simply gone.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

type subscription struct {
	ps *goredis.PubSub
}

// Receive blocks for the next raw pub/sub item and maps it onto a broker
// event. Subscribe acks and pongs come through as control events so the
// listener can log them with pool occupancy before discarding.
func (s *subscription) Receive(ctx context.Context) (domain.BrokerEvent, error) {
	raw, err := s.ps.Receive(ctx)
	if err != nil {
		return domain.BrokerEvent{}, fmt.Errorf("redis receive: %w", err)
	}
	return eventFromRedis(raw), nil
}

func (s *subscription) Close() error {
	return s.ps.Close()
}

// eventFromRedis maps go-redis pub/sub types onto broker events. Only
// *redis.Message carries caller data.
func eventFromRedis(raw any) domain.BrokerEvent {
	switch m := raw.(type) {
	case *goredis.Message:
		return domain.BrokerEvent{
			Kind:    domain.BrokerEventData,
			Channel: m.Channel,
			Payload: []byte(m.Payload),
		}
	case *goredis.Subscription:
		return domain.BrokerEvent{
			Kind:    domain.BrokerEventControl,
			Channel: m.Channel,
		}
	default:
		// *redis.Pong and whatever go-redis adds later.
		return domain.BrokerEvent{Kind: domain.BrokerEventControl}
	}
}
