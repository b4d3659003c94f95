package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayPrefix = "consultation:"

// RedisRelay fans events out across API instances. Publish goes to Redis only;
// every instance, including the publisher, delivers to its local hub from Run.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	logger *zap.Logger
}

func NewRedisRelay(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisRelay {
	initMetrics()

	return &RedisRelay{
		client: client,
		hub:    hub,
		logger: logger.Named("relay"),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, channel, event string, payload any) error {
	frame, err := EncodeFrame(channel, event, payload, time.Now())
	if err != nil {
		return err
	}

	if err := r.client.Publish(ctx, relayPrefix+channel, frame).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, channel, err)
	}

	publishedTotal.WithLabelValues(namespaceOf(channel)).Inc()
	return nil
}

// Run relays Redis messages into the local hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, relayPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe relay: %w", err)
	}
	r.logger.Info("notification relay subscribed", zap.String("pattern", relayPrefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			channel := strings.TrimPrefix(msg.Channel, relayPrefix)
			r.hub.Deliver(channel, []byte(msg.Payload))
		}
	}
}
