// Package events publishes account changes to the message broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tubeshelf/accounts/internal/mq"
	"github.com/tubeshelf/accounts/types"
)

const ContentType = "application/json"

// Broker is the subset of mq.MQ used for account events.
type Broker interface {
	Publish(ctx context.Context, topic string, msg mq.Message) (string, error)
	Subscribe(ctx context.Context, topic string, sub mq.Subscription, handler mq.Handler) error
}

// Publisher encodes AccountEvents as JSON and fans them out on one topic.
type Publisher struct {
	broker Broker
	topic  string
}

func NewPublisher(broker Broker, topic string) *Publisher {
	return &Publisher{broker: broker, topic: topic}
}

// Publish sends the event. The event type and user ID are duplicated into
// message attributes so consumers can filter without decoding the body.
func (p *Publisher) Publish(ctx context.Context, event types.AccountEvent) error {
	if event.Type == "" {
		return errors.New("event type is required")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := mq.Message{
		Data:        data,
		ContentType: ContentType,
		Attributes: map[string]string{
			"type":    string(event.Type),
			"user_id": event.UserID,
		},
	}
	if _, err := p.broker.Publish(ctx, p.topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Listen consumes account events until ctx is done. An empty group reads a
// private copy of the stream; a named group shares one durable feed with the
// other members of that group.
func (p *Publisher) Listen(ctx context.Context, group string, handle func(context.Context, types.AccountEvent) error) error {
	sub := mq.Subscription{Group: group}
	return p.broker.Subscribe(ctx, p.topic, sub, func(ctx context.Context, msg mq.Message) error {
		event, err := Decode(msg)
		if err != nil {
			return err
		}
		return handle(ctx, event)
	})
}

// Decode parses a broker message into an AccountEvent.
func Decode(msg mq.Message) (types.AccountEvent, error) {
	if msg.ContentType != "" && msg.ContentType != ContentType {
		return types.AccountEvent{}, fmt.Errorf("decode event %s: unexpected content type %q", msg.ID, msg.ContentType)
	}
	var event types.AccountEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return types.AccountEvent{}, fmt.Errorf("decode event %s: %w", msg.ID, err)
	}
	return event, nil
}
