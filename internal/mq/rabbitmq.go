package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tubeshelf/accounts/config"
)

const defaultContentType = "application/octet-stream"

// amqpChannel is the part of *amqp.Channel the client drives.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// RabbitMQClient maps each topic to a fanout exchange of the same name.
// Subscribers bind their own queue to it, so a tail never takes messages
// away from a group consumer.
type RabbitMQClient struct {
	conn    *amqp.Connection
	channel amqpChannel

	durable         bool
	groupAutoDelete bool

	mu        sync.Mutex
	exchanges map[string]struct{}
}

func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, err
		}
	}

	client := newRabbitMQClient(ch, cfg)
	client.conn = conn
	return client, nil
}

func newRabbitMQClient(ch amqpChannel, cfg config.RabbitMQConfig) *RabbitMQClient {
	return &RabbitMQClient{
		channel:         ch,
		durable:         cfg.Durable,
		groupAutoDelete: cfg.QueueAutoDelete,
		exchanges:       make(map[string]struct{}),
	}
}

func (r *RabbitMQClient) Publish(ctx context.Context, topic string, msg Message) (string, error) {
	if err := r.declareExchange(topic); err != nil {
		return "", err
	}

	headers := amqp.Table{}
	for key, value := range msg.Attributes {
		headers[key] = value
	}
	contentType := msg.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	deliveryMode := amqp.Transient
	if r.durable {
		deliveryMode = amqp.Persistent
	}

	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	err := r.channel.PublishWithContext(ctx, topic, "", false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: deliveryMode,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         msg.Data,
	})
	if err != nil {
		return "", fmt.Errorf("publish to exchange %q: %w", topic, err)
	}
	return id, nil
}

// Subscribe consumes from a queue bound to the topic's exchange. A handler
// error requeues the delivery once; a second failure drops it.
func (r *RabbitMQClient) Subscribe(ctx context.Context, topic string, sub Subscription, handler Handler) error {
	if err := r.declareExchange(topic); err != nil {
		return err
	}
	queue, err := r.bindQueue(topic, sub)
	if err != nil {
		return err
	}

	consumerTag := "accounts-" + uuid.NewString()
	deliveries, err := r.channel.Consume(queue, consumerTag, false, sub.Ephemeral(), false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %q: %w", queue, err)
	}
	defer func() {
		_ = r.channel.Cancel(consumerTag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			msg := Message{
				ID:          delivery.MessageId,
				Data:        delivery.Body,
				ContentType: delivery.ContentType,
				Attributes:  headersToAttributes(delivery.Headers),
			}
			if err := handler(ctx, msg); err != nil {
				_ = delivery.Nack(false, !delivery.Redelivered)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

func (r *RabbitMQClient) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *RabbitMQClient) declareExchange(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exchanges[topic]; ok {
		return nil
	}
	if err := r.channel.ExchangeDeclare(topic, amqp.ExchangeFanout, r.durable, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", topic, err)
	}
	r.exchanges[topic] = struct{}{}
	return nil
}

// bindQueue declares the subscriber's queue and binds it to the exchange.
// Ephemeral subscribers get a server-named exclusive queue that the broker
// deletes when the consumer goes away.
func (r *RabbitMQClient) bindQueue(topic string, sub Subscription) (string, error) {
	var (
		queue amqp.Queue
		err   error
	)
	if sub.Ephemeral() {
		queue, err = r.channel.QueueDeclare("", false, true, true, false, nil)
	} else {
		queue, err = r.channel.QueueDeclare(groupQueueName(topic, sub.Group), r.durable, r.groupAutoDelete, false, false, nil)
	}
	if err != nil {
		return "", fmt.Errorf("declare queue for %q: %w", topic, err)
	}
	if err := r.channel.QueueBind(queue.Name, "", topic, false, nil); err != nil {
		return "", fmt.Errorf("bind queue %q to %q: %w", queue.Name, topic, err)
	}
	return queue.Name, nil
}

func groupQueueName(topic, group string) string {
	return topic + "." + strings.TrimSpace(group)
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}
