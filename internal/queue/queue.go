// Package queue carries workflow run IDs from the trigger to the dispatcher.
// Delivery is at least once; consumers ack after a run reaches a resting state.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrClosed is returned when publishing to a closed queue.
var ErrClosed = errors.New("queue closed")

// Message announces a run ready to execute.
type Message struct {
	RunID    uuid.UUID `json:"run_id"`
	Workflow string    `json:"workflow"`
}

// Delivery is a received Message that must be acked or nacked.
type Delivery struct {
	Message
	ack  func() error
	nack func(requeue bool) error
}

// Ack confirms the message was handled.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack rejects the message, optionally returning it to the queue.
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Queue publishes and consumes run messages.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	// Consume streams deliveries until ctx is done or the queue closes.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Options configures New.
type Options struct {
	Driver   string
	URL      string
	Name     string
	Capacity int
	Prefetch int
}

// New creates the queue named by opts.Driver.
func New(opts Options) (Queue, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemory(opts.Capacity), nil
	case "amqp":
		return NewAMQP(opts.URL, opts.Name, opts.Prefetch)
	default:
		return nil, fmt.Errorf("unknown queue driver %q", opts.Driver)
	}
}

func encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return body, nil
}

func decode(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg.RunID == uuid.Nil {
		return msg, fmt.Errorf("failed to decode message: missing run_id")
	}
	return msg, nil
}
