package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"classattend/internal/attendance"

	"github.com/streadway/amqp"
)

// AMQPDispatcher publishes notifications to a durable fanout exchange.
type AMQPDispatcher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPDispatcher connects to RabbitMQ and declares exchange.
func NewAMQPDispatcher(amqpURL, exchange string) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	err = ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPDispatcher{conn: conn, channel: ch, exchange: exchange}, nil
}

// Notify publishes n with its message type as routing key.
func (d *AMQPDispatcher) Notify(ctx context.Context, n attendance.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel.Publish(
		d.exchange,
		MessageType(n),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         MessageType(n),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

// Close closes the RabbitMQ channel and connection.
func (d *AMQPDispatcher) Close() {
	if d.channel != nil {
		d.channel.Close()
	}
	if d.conn != nil {
		d.conn.Close()
	}
}
