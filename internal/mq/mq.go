// Package mq is a publish/subscribe layer over RabbitMQ or Google Pub/Sub.
// Every subscriber attached to a topic sees every message published to it.
package mq

import (
	"context"
	"errors"
	"strings"
)

var ErrTopicRequired = errors.New("mq topic is required")

// Message is a broker-agnostic payload.
type Message struct {
	ID          string
	Data        []byte
	ContentType string
	Attributes  map[string]string
}

// Handler processes a delivered message. A returned error asks the broker
// to deliver it again.
type Handler func(ctx context.Context, msg Message) error

// Subscription selects how a subscriber attaches to a topic. An empty Group
// gets a private feed that exists only while Subscribe runs. Subscribers
// that share a Group split one durable feed, which keeps messages while
// none of them is connected.
type Subscription struct {
	Group string
}

func (s Subscription) Ephemeral() bool {
	return strings.TrimSpace(s.Group) == ""
}

// Backend is implemented by each broker client.
type Backend interface {
	Publish(ctx context.Context, topic string, msg Message) (string, error)
	Subscribe(ctx context.Context, topic string, sub Subscription, handler Handler) error
	Close() error
}

// MQ validates requests before handing them to a Backend.
type MQ struct {
	backend Backend
}

func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Publish fans msg out to every subscriber of topic and returns the
// broker's message ID.
func (m *MQ) Publish(ctx context.Context, topic string, msg Message) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", ErrTopicRequired
	}
	return m.backend.Publish(ctx, topic, msg)
}

// Subscribe blocks delivering messages to handler until ctx is done or the
// broker connection fails.
func (m *MQ) Subscribe(ctx context.Context, topic string, sub Subscription, handler Handler) error {
	if strings.TrimSpace(topic) == "" {
		return ErrTopicRequired
	}
	if handler == nil {
		return errors.New("mq handler is required")
	}
	return m.backend.Subscribe(ctx, topic, sub, handler)
}

func (m *MQ) Close() error {
	return m.backend.Close()
}
