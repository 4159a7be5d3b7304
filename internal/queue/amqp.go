package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueueName is the durable queue run messages are published to.
const DefaultQueueName = "studio.workflow_runs"

// AMQP is a Queue backed by a durable RabbitMQ queue on the default exchange.
type AMQP struct {
	conn     *amqp.Connection
	name     string
	prefetch int

	mu      sync.Mutex
	publish *amqp.Channel
}

// NewAMQP connects and declares the queue. prefetch bounds unacked deliveries per consumer.
func NewAMQP(url, name string, prefetch int) (*AMQP, error) {
	if name == "" {
		name = DefaultQueueName
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declare(ch, name); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQP{conn: conn, name: name, prefetch: prefetch, publish: ch}, nil
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}

// Publish sends a persistent message.
func (q *AMQP) Publish(ctx context.Context, msg Message) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.publish.PublishWithContext(
		ctx,
		"",     // default exchange
		q.name, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.RunID.String(),
			Timestamp:    time.Now(),
		},
	); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Consume opens a dedicated channel with manual acks.
func (q *AMQP) Consume(ctx context.Context) (<-chan Delivery, error) {
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declare(ch, q.name); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.name,
		"",
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-msgs:
				if !ok {
					return
				}
				msg, err := decode(raw.Body)
				if err != nil {
					// Undecodable messages can never succeed.
					_ = raw.Nack(false, false)
					continue
				}
				d := Delivery{
					Message: msg,
					ack:     func() error { return raw.Ack(false) },
					nack:    func(requeue bool) error { return raw.Nack(false, requeue) },
				}
				select {
				case out <- d:
				case <-ctx.Done():
					_ = raw.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *AMQP) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publish != nil {
		_ = q.publish.Close()
	}
	return q.conn.Close()
}
