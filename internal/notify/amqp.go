package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangePush = "push.exchange"
	QueuePush    = "push.queue"
	RoutingPush  = "push"
)

// AmqpPublisher publishes push notifications to a durable queue
// consumed by the (external) push-dispatch worker.
type AmqpPublisher struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	publishMu sync.Mutex
}

func NewAmqpPublisher(url string) (*AmqpPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	p := &AmqpPublisher{conn: conn, channel: ch}
	if err := p.declareTopology(); err != nil {
		p.Close()
		return nil, err
	}

	return p, nil
}

func (p *AmqpPublisher) declareTopology() error {
	if err := p.channel.ExchangeDeclare(ExchangePush, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := p.channel.QueueDeclare(QueuePush, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := p.channel.QueueBind(QueuePush, RoutingPush, ExchangePush, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

func (p *AmqpPublisher) Publish(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	return p.channel.PublishWithContext(ctx, ExchangePush, RoutingPush, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    payload.Id,
		Body:         body,
	})
}

func (p *AmqpPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
