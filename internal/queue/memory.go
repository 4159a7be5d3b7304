package queue

import (
	"context"
	"sync"
)

// DefaultCapacity bounds the in-process queue when no capacity is configured.
const DefaultCapacity = 256

// Memory is an in-process Queue. Messages do not survive a restart; the dispatcher
// re-publishes unfinished runs on start.
type Memory struct {
	ch   chan Message
	once sync.Once
	done chan struct{}

	// requeues tracks Nack(true) publishes still waiting for room
	requeues sync.WaitGroup
}

// NewMemory creates a Memory queue holding up to capacity messages.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{ch: make(chan Message, capacity), done: make(chan struct{})}
}

// Publish blocks while the queue is full.
func (m *Memory) Publish(ctx context.Context, msg Message) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

func (m *Memory) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case msg := <-m.ch:
				d := Delivery{
					Message: msg,
					nack: func(requeue bool) error {
						if !requeue {
							return nil
						}
						// Bounded by the consumer: a message that cannot be requeued
						// before it stops is dropped, and its run is resumed on next start.
						m.requeues.Add(1)
						go func() {
							defer m.requeues.Done()
							_ = m.Publish(ctx, msg)
						}()
						return nil
					},
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				case <-m.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// Len reports the number of buffered messages.
func (m *Memory) Len() int {
	return len(m.ch)
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
