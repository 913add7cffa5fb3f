package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName = "booking.lifecycle"
	publishTTL   = 5 * time.Second
)

// AMQPPublisher publishes lifecycle events to a topic exchange. Routing key is
// the lowercased event type, so consumers can bind per event.
type AMQPPublisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func NewAMQPPublisher(amqpURL string) (*AMQPPublisher, error) {
	conn, err := amqp091.DialConfig(amqpURL, amqp091.Config{
		Dial: amqp091.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTTL)
	defer cancel()

	err = p.channel.PublishWithContext(pubCtx, exchangeName, routingKey(ev.Type), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    ev.At,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func routingKey(eventType string) string {
	key := make([]byte, len(eventType))
	for i := 0; i < len(eventType); i++ {
		c := eventType[i]
		switch {
		case c >= 'A' && c <= 'Z':
			key[i] = c + ('a' - 'A')
		case c == '_':
			key[i] = '.'
		default:
			key[i] = c
		}
	}
	return string(key)
}
