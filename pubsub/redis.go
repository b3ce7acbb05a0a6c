package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RedisPubSub implements the PubSub interface over Redis channels so that
// several process instances can fan dashboard notifications out to each
// other's clients.
type RedisPubSub struct {
	// client is the Redis client.
	client *redis.Client
	// logger logs delivery failures inside subscription loops.
	logger *zap.Logger
	// subscriptions is a map of topic+subscriberID to subscription.
	subscriptions map[string]*redisSubscription
	// mutex protects the subscriptions map.
	mutex sync.RWMutex
	// closed indicates whether the PubSub has been closed.
	closed bool
}

// redisSubscription represents a subscription to a Redis channel.
type redisSubscription struct {
	// topic is the topic being subscribed to.
	topic string
	// subscriberID is the unique identifier for the subscriber.
	subscriberID string
	// pubsub is the underlying Redis subscription.
	pubsub *redis.PubSub
	// cancel stops the receive loop.
	cancel context.CancelFunc
	// done is closed when the receive loop exits.
	done chan struct{}
}

// NewRedisPubSub creates a new RedisPubSub with the specified Redis client.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) (*RedisPubSub, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisPubSub{
		client:        client,
		logger:        logger,
		subscriptions: make(map[string]*redisSubscription),
	}, nil
}

// Publish publishes an envelope to the specified topic.
func (ps *RedisPubSub) Publish(ctx context.Context, topic string, env *Envelope) error {
	ps.mutex.RLock()
	closed := ps.closed
	ps.mutex.RUnlock()
	if closed {
		return fmt.Errorf("pubsub is closed")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to encode envelope")
	}
	if err := ps.client.Publish(ctx, topic, data).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish to topic %s", topic)
	}
	return nil
}

// Subscribe subscribes to the specified topic and calls the handler for
// each received envelope.
func (ps *RedisPubSub) Subscribe(ctx context.Context, topic string, subscriberID string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if ps.closed {
		return fmt.Errorf("pubsub is closed")
	}
	key := subscriptionKey(topic, subscriberID)
	if _, ok := ps.subscriptions[key]; ok {
		return fmt.Errorf("subscriber %s is already subscribed to topic %s", subscriberID, topic)
	}

	pubsub := ps.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return errors.Wrapf(err, "failed to subscribe to topic %s", topic)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{
		topic:        topic,
		subscriberID: subscriberID,
		pubsub:       pubsub,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	ps.subscriptions[key] = sub

	go ps.receiveLoop(subCtx, sub, handler)
	return nil
}

func (ps *RedisPubSub) receiveLoop(ctx context.Context, sub *redisSubscription, handler HandlerFunc) {
	defer close(sub.done)

	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				ps.logger.Warn("failed to decode envelope",
					zap.String("topic", sub.topic),
					zap.Error(err))
				continue
			}
			if err := handler(ctx, sub.topic, &env); err != nil {
				ps.logger.Warn("envelope handler failed",
					zap.String("topic", sub.topic),
					zap.String("subscriber_id", sub.subscriberID),
					zap.Error(err))
			}
		}
	}
}

// Unsubscribe unsubscribes from the specified topic.
func (ps *RedisPubSub) Unsubscribe(ctx context.Context, topic string, subscriberID string) error {
	ps.mutex.Lock()
	key := subscriptionKey(topic, subscriberID)
	sub, ok := ps.subscriptions[key]
	if ok {
		delete(ps.subscriptions, key)
	}
	ps.mutex.Unlock()

	if !ok {
		return fmt.Errorf("subscriber %s is not subscribed to topic %s", subscriberID, topic)
	}

	sub.cancel()
	if err := sub.pubsub.Close(); err != nil {
		return errors.Wrapf(err, "failed to close subscription to topic %s", topic)
	}
	<-sub.done
	return nil
}

// Close closes every subscription and marks the PubSub closed.
func (ps *RedisPubSub) Close() error {
	ps.mutex.Lock()
	if ps.closed {
		ps.mutex.Unlock()
		return nil
	}
	ps.closed = true
	subs := make([]*redisSubscription, 0, len(ps.subscriptions))
	for _, sub := range ps.subscriptions {
		subs = append(subs, sub)
	}
	ps.subscriptions = make(map[string]*redisSubscription)
	ps.mutex.Unlock()

	for _, sub := range subs {
		sub.cancel()
		sub.pubsub.Close()
		<-sub.done
	}
	return nil
}

func subscriptionKey(topic, subscriberID string) string {
	return topic + "|" + subscriberID
}
