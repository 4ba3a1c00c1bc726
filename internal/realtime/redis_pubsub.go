package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "live:session:"
	publishTimeout = 5 * time.Second
)

// SessionChannel returns the Redis channel for a session.
func SessionChannel(sessionID uuid.UUID) string {
	return channelPrefix + sessionID.String()
}

// RedisPubSub implements Publisher and Subscriber using Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for session envelopes.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// PublishSession publishes an encoded envelope to the session's channel.
func (r *RedisPubSub) PublishSession(sessionID uuid.UUID, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, SessionChannel(sessionID), body).Err()
}

// SubscribeSession calls handler for each message on the session's channel
// until cancel is called.
func (r *RedisPubSub) SubscribeSession(sessionID uuid.UUID, handler func(body []byte)) (cancel func(), err error) {
	channel := SessionChannel(sessionID)
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	return cancelCtx, nil
}
