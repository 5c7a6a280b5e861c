package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/tubeshelf/accounts/config"
	"google.golang.org/api/option"
)

const (
	// Pub/Sub has no content type field, so it travels as an attribute.
	contentTypeAttribute = "content_type"

	// Shortest expiration Pub/Sub accepts. It only matters when a tail
	// exits without deleting its subscription.
	ephemeralExpiration = 24 * time.Hour
	ephemeralCleanup    = 10 * time.Second
)

// PubSubClient maps each topic to a Pub/Sub topic. Groups get a named
// subscription; ephemeral subscribers create a private one and delete it
// when they stop.
type PubSubClient struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return &PubSubClient{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

func (p *PubSubClient) Publish(ctx context.Context, topic string, msg Message) (string, error) {
	t, err := p.topic(ctx, topic)
	if err != nil {
		return "", err
	}
	result := t.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: encodeAttributes(msg.ContentType, msg.Attributes),
	})
	return result.Get(ctx)
}

func (p *PubSubClient) Subscribe(ctx context.Context, topic string, sub Subscription, handler Handler) error {
	t, err := p.topic(ctx, topic)
	if err != nil {
		return err
	}

	name := subscriptionID(topic, sub)
	var subscription *pubsub.Subscription
	if sub.Ephemeral() {
		subscription, err = p.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
			Topic:            t,
			ExpirationPolicy: ephemeralExpiration,
		})
		if err != nil {
			return fmt.Errorf("create subscription %q: %w", name, err)
		}
		defer func() {
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ephemeralCleanup)
			defer cancel()
			_ = subscription.Delete(cleanupCtx)
		}()
	} else {
		subscription, err = p.groupSubscription(ctx, name, t)
		if err != nil {
			return err
		}
	}

	return subscription.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		contentType, attrs := decodeAttributes(m.Attributes)
		err := handler(ctx, Message{
			ID:          m.ID,
			Data:        m.Data,
			ContentType: contentType,
			Attributes:  attrs,
		})
		if err != nil {
			m.Nack()
			return
		}
		m.Ack()
	})
}

func (p *PubSubClient) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	return p.client.Close()
}

// topic returns a cached handle, creating the topic on first use.
func (p *PubSubClient) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t, nil
	}

	t := p.client.Topic(name)
	exists, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q: %w", name, err)
	}
	if !exists {
		if t, err = p.client.CreateTopic(ctx, name); err != nil {
			return nil, fmt.Errorf("create topic %q: %w", name, err)
		}
	}
	p.topics[name] = t
	return t, nil
}

func (p *PubSubClient) groupSubscription(ctx context.Context, name string, t *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %q: %w", name, err)
	}
	if exists {
		return sub, nil
	}
	sub, err = p.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{Topic: t})
	if err != nil {
		return nil, fmt.Errorf("create subscription %q: %w", name, err)
	}
	return sub, nil
}

func subscriptionID(topic string, sub Subscription) string {
	if sub.Ephemeral() {
		return topic + "-tail-" + uuid.NewString()
	}
	return topic + "-" + strings.TrimSpace(sub.Group)
}

func encodeAttributes(contentType string, attrs map[string]string) map[string]string {
	if contentType == "" && len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs)+1)
	for key, value := range attrs {
		out[key] = value
	}
	if contentType != "" {
		out[contentTypeAttribute] = contentType
	}
	return out
}

func decodeAttributes(attrs map[string]string) (string, map[string]string) {
	contentType, ok := attrs[contentTypeAttribute]
	if !ok {
		return "", attrs
	}
	out := make(map[string]string, len(attrs)-1)
	for key, value := range attrs {
		if key != contentTypeAttribute {
			out[key] = value
		}
	}
	return contentType, out
}
