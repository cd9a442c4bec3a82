package notifier

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes to a plain Redis PUBLISH channel named after the
// topic, the same PUBLISH/SUBSCRIBE primitive the teacher's
// queue/redis_notifier.go uses for queue-availability signals.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps an existing Redis client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, message string) error {
	return p.client.Publish(ctx, topic, message).Err()
}

// Subscribe returns a channel of raw published messages for topic, for the
// ChatBridge to drain. The returned channel is closed when ctx is
// cancelled.
func (p *RedisPublisher) Subscribe(ctx context.Context, topic string) <-chan string {
	out := make(chan string, 32)
	pubsub := p.client.Subscribe(ctx, topic)
	go func() {
		defer close(out)
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
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
