package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"feedsync/internal/domain/feed/model"
	"feedsync/internal/domain/feed/repository"
	"feedsync/pkg/logger"
)

// RedisFeed carries change events over redis pub/sub. Reconnects are
// handled by the go-redis PubSub.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

// Publish sends ev on its channel.
func (f *RedisFeed) Publish(ctx context.Context, ev model.ChangeEvent) error {
	packet, err := Encode(ev)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, ev.Channel(), packet).Err()
}

// Subscribe listens on the scope's channel and calls onEvent for every
// decodable packet, in order, from a single goroutine.
func (f *RedisFeed) Subscribe(ctx context.Context, scope model.Scope, onEvent func(model.ChangeEvent)) (repository.Subscription, error) {
	channel := scope.Channel()
	pubsub := f.client.Subscribe(ctx, channel)
	// wait for the subscription confirmation before reporting Live
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			ev, err := Decode([]byte(msg.Payload))
			if err != nil {
				logger.Log.Warn("Skipping undecodable change packet", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			onEvent(ev)
		}
	}()

	return &redisSubscription{pubsub: pubsub}, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
}

func (s *redisSubscription) Unsubscribe() error {
	return s.pubsub.Close()
}

var (
	_ repository.ChangeFeed     = (*RedisFeed)(nil)
	_ repository.EventPublisher = (*RedisFeed)(nil)
)
