package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PubSub is a broker.Broker backed by Redis pub/sub, used when several
// inkboard nodes serve the same boards.
type PubSub struct {
	client *redis.Client
	buffer int
}

func New(ctx context.Context, addr, password string, db, buffer int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	if buffer < 1 {
		buffer = 64
	}
	return &PubSub{client: client, buffer: buffer}, nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (ps *PubSub) Ping(ctx context.Context) error {
	if err := ps.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Ping: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish: %w", err)
	}
	return nil
}

// Subscribe forwards channel messages until ctx ends or cleanup runs. A
// consumer that lets the buffer fill is cut off: the returned channel closes
// and the caller is expected to resubscribe and resynchronize.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan []byte, ps.buffer)
	redisCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					log.Warn().Str("channel", channel).Msg("redis: dropping slow subscriber")
					_ = sub.Close()
					return
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}
