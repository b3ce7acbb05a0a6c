package pubsub

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// MemoryPubSub implements the PubSub interface in-process. It is the
// default fabric for single-instance deployments and for tests.
type MemoryPubSub struct {
	// subscriptions is a map of topic to subscriptions.
	subscriptions map[string][]*memorySubscription
	// mutex protects the subscriptions map.
	mutex sync.RWMutex
	// closed indicates whether the PubSub has been closed.
	closed bool
	// logger is used for delivery failures.
	logger *zap.Logger
}

// memorySubscription represents a subscription to an in-memory topic.
type memorySubscription struct {
	// topic is the topic being subscribed to.
	topic string
	// subscriberID is the unique identifier for the subscriber.
	subscriberID string
	// handler is the envelope handler.
	handler HandlerFunc
	// ctx is the context for the subscription.
	ctx context.Context
	// cancel is the cancel function for the context.
	cancel context.CancelFunc
}

// NewMemoryPubSub creates a new in-memory PubSub.
func NewMemoryPubSub() *MemoryPubSub {
	return NewMemoryPubSubWithLogger(nil)
}

// NewMemoryPubSubWithLogger creates a new in-memory PubSub that reports
// handler failures through the given logger.
func NewMemoryPubSubWithLogger(logger *zap.Logger) *MemoryPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryPubSub{
		subscriptions: make(map[string][]*memorySubscription),
		logger:        logger,
	}
}

// Publish delivers the envelope to every subscriber of the topic. A failing
// handler is logged and skipped; it never blocks delivery to the rest.
func (ps *MemoryPubSub) Publish(ctx context.Context, topic string, env *Envelope) error {
	ps.mutex.RLock()
	if ps.closed {
		ps.mutex.RUnlock()
		return fmt.Errorf("pubsub is closed")
	}
	subs := make([]*memorySubscription, len(ps.subscriptions[topic]))
	copy(subs, ps.subscriptions[topic])
	ps.mutex.RUnlock()

	for _, sub := range subs {
		select {
		case <-sub.ctx.Done():
			continue
		default:
		}
		// Handlers run synchronously so tests observe delivery without
		// sleeping; handlers must not block.
		if err := sub.handler(ctx, topic, env); err != nil {
			ps.logger.Warn("failed to deliver envelope",
				zap.String("topic", topic),
				zap.String("subscriber_id", sub.subscriberID),
				zap.Error(err))
		}
	}
	return nil
}

// Subscribe registers a handler for the topic.
func (ps *MemoryPubSub) Subscribe(ctx context.Context, topic string, subscriberID string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if ps.closed {
		return fmt.Errorf("pubsub is closed")
	}
	for _, sub := range ps.subscriptions[topic] {
		if sub.subscriberID == subscriberID {
			return fmt.Errorf("subscriber %s is already subscribed to topic %s", subscriberID, topic)
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	ps.subscriptions[topic] = append(ps.subscriptions[topic], &memorySubscription{
		topic:        topic,
		subscriberID: subscriberID,
		handler:      handler,
		ctx:          subCtx,
		cancel:       cancel,
	})
	return nil
}

// Unsubscribe removes the subscriber from the topic.
func (ps *MemoryPubSub) Unsubscribe(ctx context.Context, topic string, subscriberID string) error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	subs := ps.subscriptions[topic]
	for i, sub := range subs {
		if sub.subscriberID == subscriberID {
			sub.cancel()
			ps.subscriptions[topic] = append(subs[:i], subs[i+1:]...)
			if len(ps.subscriptions[topic]) == 0 {
				delete(ps.subscriptions, topic)
			}
			return nil
		}
	}
	return fmt.Errorf("subscriber %s is not subscribed to topic %s", subscriberID, topic)
}

// Close cancels every subscription and marks the PubSub closed.
func (ps *MemoryPubSub) Close() error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if ps.closed {
		return nil
	}
	for _, subs := range ps.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	ps.subscriptions = make(map[string][]*memorySubscription)
	ps.closed = true
	return nil
}
