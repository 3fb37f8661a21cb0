package events

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQ publishes events as persistent JSON messages to a durable topic
// exchange.
type RabbitMQ struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
}

// NewRabbitMQ dials the broker and declares the exchange.
func NewRabbitMQ(url, exchange string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, eris.Wrap(err, "events: dial rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "events: open channel")
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, eris.Wrapf(err, "events: declare exchange %s", exchange)
	}

	zap.L().Info("events: rabbitmq publisher ready", zap.String("exchange", exchange))
	return &RabbitMQ{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish sends ev with routing key "job.<status>".
func (r *RabbitMQ) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.ch.PublishWithContext(ctx, r.exchange, ev.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.JobID,
		Timestamp:    ev.OccurredAt,
		Type:         "job.status",
		Body:         body,
	})
	if err != nil {
		return eris.Wrapf(err, "events: publish %s", ev.RoutingKey())
	}
	return nil
}

// Close closes the channel and connection.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			first = eris.Wrap(err, "events: close channel")
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil && first == nil {
			first = eris.Wrap(err, "events: close connection")
		}
	}
	return first
}
