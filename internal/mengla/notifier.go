package mengla

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Notifier fans delivered execution ids out to every process sharing the cache.
type Notifier interface {
	Publish(ctx context.Context, executionID string) error
	// Subscribe blocks, invoking fn for each delivered id, until ctx is done.
	// ready, if non-nil, is called once the subscription is confirmed.
	Subscribe(ctx context.Context, ready func(), fn func(executionID string)) error
}

type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Publish(ctx context.Context, executionID string) error {
	if err := n.client.Publish(ctx, n.channel, executionID).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", n.channel, err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, ready func(), fn func(executionID string)) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", n.channel, err)
	}
	if ready != nil {
		ready()
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}
