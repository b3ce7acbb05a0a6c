// Package pubsub is the message-passing boundary between the collaboration
// core and whatever transport fabric fans its notifications out to clients.
// Envelopes are plain serializable records so any JSON-capable transport
// can forward them without knowing the core's internals.
package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// EnvelopeType identifies the kind of notification carried by an envelope.
type EnvelopeType string

const (
	// EnvelopeTypeOperations carries a batch of applied operations and the
	// new document version.
	EnvelopeTypeOperations EnvelopeType = "operations_applied"
	// EnvelopeTypePresence carries a presence delta for a dashboard.
	EnvelopeTypePresence EnvelopeType = "presence_update"
)

// Envelope is a single notification published on a dashboard topic.
type Envelope struct {
	// Type is the kind of notification.
	Type EnvelopeType `json:"type"`
	// DashboardID is the dashboard the notification belongs to.
	DashboardID string `json:"dashboardId"`
	// OriginUserID is the user whose action produced the notification.
	// Transports use it to avoid echoing a change back to its author.
	OriginUserID string `json:"originUserId,omitempty"`
	// Payload is the type-specific body, already JSON-encoded.
	Payload json.RawMessage `json:"payload"`
	// PublishedAt is when the envelope was published.
	PublishedAt time.Time `json:"publishedAt"`
}

// NewEnvelope creates an envelope with the payload JSON-encoded.
func NewEnvelope(envType EnvelopeType, dashboardID, originUserID string, payload any) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:         envType,
		DashboardID:  dashboardID,
		OriginUserID: originUserID,
		Payload:      body,
		PublishedAt:  time.Now().UTC(),
	}, nil
}

// HandlerFunc handles an envelope received on a subscribed topic.
type HandlerFunc func(ctx context.Context, topic string, env *Envelope) error

// Publisher defines the interface for publishing envelopes.
type Publisher interface {
	// Publish publishes an envelope to the specified topic.
	Publish(ctx context.Context, topic string, env *Envelope) error
	// Close closes the publisher.
	Close() error
}

// Subscriber defines the interface for subscribing to envelopes.
type Subscriber interface {
	// Subscribe subscribes to the specified topic and calls the handler
	// for each received envelope.
	Subscribe(ctx context.Context, topic string, subscriberID string, handler HandlerFunc) error
	// Unsubscribe unsubscribes from the specified topic.
	Unsubscribe(ctx context.Context, topic string, subscriberID string) error
	// Close closes the subscriber.
	Close() error
}

// PubSub combines the Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
}

// DashboardTopic returns the topic a dashboard's notifications are
// published on.
func DashboardTopic(dashboardID string) string {
	return "dashsync:dashboard:" + dashboardID
}
