package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPubSubRoundTrip(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()
	defer ps.Close()

	topic := DashboardTopic("d1")
	received := make([]*Envelope, 0, 1)
	require.NoError(t, ps.Subscribe(ctx, topic, "sub1", func(ctx context.Context, gotTopic string, env *Envelope) error {
		assert.Equal(t, topic, gotTopic)
		received = append(received, env)
		return nil
	}))

	env, err := NewEnvelope(EnvelopeTypePresence, "d1", "u1", map[string]string{"event": "joined"})
	require.NoError(t, err)
	require.NoError(t, ps.Publish(ctx, topic, env))

	require.Len(t, received, 1)
	assert.Equal(t, EnvelopeTypePresence, received[0].Type)
	assert.Equal(t, "u1", received[0].OriginUserID)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(received[0].Payload, &payload))
	assert.Equal(t, "joined", payload["event"])
}

func TestMemoryPubSubTopicIsolation(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()
	defer ps.Close()

	delivered := 0
	require.NoError(t, ps.Subscribe(ctx, DashboardTopic("d1"), "sub1", func(ctx context.Context, topic string, env *Envelope) error {
		delivered++
		return nil
	}))

	env, err := NewEnvelope(EnvelopeTypeOperations, "d2", "u1", nil)
	require.NoError(t, err)
	require.NoError(t, ps.Publish(ctx, DashboardTopic("d2"), env))

	assert.Equal(t, 0, delivered)
}

func TestMemoryPubSubFailingHandlerDoesNotStopDelivery(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()
	defer ps.Close()

	require.NoError(t, ps.Subscribe(ctx, "t", "bad", func(ctx context.Context, topic string, env *Envelope) error {
		return errors.New("handler exploded")
	}))
	delivered := 0
	require.NoError(t, ps.Subscribe(ctx, "t", "good", func(ctx context.Context, topic string, env *Envelope) error {
		delivered++
		return nil
	}))

	env, err := NewEnvelope(EnvelopeTypeOperations, "d1", "u1", nil)
	require.NoError(t, err)
	require.NoError(t, ps.Publish(ctx, "t", env), "a failing handler is logged, not surfaced")
	assert.Equal(t, 1, delivered)
}

func TestMemoryPubSubDuplicateSubscriberFails(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()
	defer ps.Close()

	handler := func(ctx context.Context, topic string, env *Envelope) error { return nil }
	require.NoError(t, ps.Subscribe(ctx, "t", "sub1", handler))
	assert.Error(t, ps.Subscribe(ctx, "t", "sub1", handler))
}

func TestMemoryPubSubUnsubscribe(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()
	defer ps.Close()

	delivered := 0
	require.NoError(t, ps.Subscribe(ctx, "t", "sub1", func(ctx context.Context, topic string, env *Envelope) error {
		delivered++
		return nil
	}))
	require.NoError(t, ps.Unsubscribe(ctx, "t", "sub1"))
	assert.Error(t, ps.Unsubscribe(ctx, "t", "sub1"), "double unsubscribe must fail")

	env, err := NewEnvelope(EnvelopeTypeOperations, "d1", "u1", nil)
	require.NoError(t, err)
	require.NoError(t, ps.Publish(ctx, "t", env))
	assert.Equal(t, 0, delivered)
}

func TestMemoryPubSubClosed(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()
	require.NoError(t, ps.Close())
	require.NoError(t, ps.Close(), "close is idempotent")

	env, err := NewEnvelope(EnvelopeTypeOperations, "d1", "u1", nil)
	require.NoError(t, err)
	assert.Error(t, ps.Publish(ctx, "t", env))
	assert.Error(t, ps.Subscribe(ctx, "t", "sub1", func(ctx context.Context, topic string, env *Envelope) error { return nil }))
}

func TestDashboardTopic(t *testing.T) {
	assert.Equal(t, "dashsync:dashboard:d1", DashboardTopic("d1"))
}
