package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tubeshelf/accounts/internal/mq"
	"github.com/tubeshelf/accounts/types"
)

type memoryBroker struct {
	messages   []mq.Message
	topics     []string
	subs       []mq.Subscription
	publishErr error
}

func (b *memoryBroker) Publish(_ context.Context, topic string, msg mq.Message) (string, error) {
	if b.publishErr != nil {
		return "", b.publishErr
	}
	msg.ID = "m"
	b.topics = append(b.topics, topic)
	b.messages = append(b.messages, msg)
	return msg.ID, nil
}

func (b *memoryBroker) Subscribe(ctx context.Context, _ string, sub mq.Subscription, handler mq.Handler) error {
	b.subs = append(b.subs, sub)
	for _, msg := range b.messages {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func TestPublisher_RoundTrip(t *testing.T) {
	broker := &memoryBroker{}
	p := NewPublisher(broker, "account-events")

	event := types.AccountEvent{
		Type:       types.EventUserAvatarUpdated,
		UserID:     "u1",
		Username:   "alice",
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Attributes: map[string]string{"previous_url": "https://cdn/old.png"},
	}
	require.NoError(t, p.Publish(context.Background(), event))

	require.Len(t, broker.messages, 1)
	assert.Equal(t, []string{"account-events"}, broker.topics)
	assert.Equal(t, "application/json", broker.messages[0].ContentType)
	assert.Equal(t, "user.avatar_updated", broker.messages[0].Attributes["type"])
	assert.Equal(t, "u1", broker.messages[0].Attributes["user_id"])

	var got []types.AccountEvent
	err := p.Listen(context.Background(), "", func(_ context.Context, e types.AccountEvent) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, event, got[0])
	require.Len(t, broker.subs, 1)
	assert.True(t, broker.subs[0].Ephemeral())
}

func TestPublisher_ListenGroup(t *testing.T) {
	broker := &memoryBroker{}
	p := NewPublisher(broker, "account-events")

	err := p.Listen(context.Background(), "media-cleanup", func(context.Context, types.AccountEvent) error { return nil })
	require.NoError(t, err)
	require.Len(t, broker.subs, 1)
	assert.Equal(t, "media-cleanup", broker.subs[0].Group)
	assert.False(t, broker.subs[0].Ephemeral())
}

func TestPublisher_Errors(t *testing.T) {
	p := NewPublisher(&memoryBroker{}, "c")
	assert.Error(t, p.Publish(context.Background(), types.AccountEvent{}))

	p = NewPublisher(&memoryBroker{publishErr: errors.New("down")}, "c")
	err := p.Publish(context.Background(), types.AccountEvent{Type: types.EventUserLoggedIn})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode(mq.Message{ID: "bad", Data: []byte("{")})
	assert.Error(t, err)

	_, err = Decode(mq.Message{ID: "xml", ContentType: "text/xml", Data: []byte(`{"type":"user.logged_in"}`)})
	assert.ErrorContains(t, err, "unexpected content type")
}
