package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/lepinkainen/coverhub/internal/message"
)

// Memory is an in-process Transport for tests and single-binary runs.
// Nacked deliveries come back after RetryDelay with Attempts incremented.
type Memory struct {
	mu         sync.Mutex
	queues     map[message.Topic][]Delivery
	notify     map[message.Topic]chan struct{}
	acked      map[message.Topic][]Delivery
	seq        int
	closed     bool
	RetryDelay time.Duration
	Block      time.Duration
}

// NewMemory creates an empty in-process transport.
func NewMemory() *Memory {
	return &Memory{
		queues:     make(map[message.Topic][]Delivery),
		notify:     make(map[message.Topic]chan struct{}),
		acked:      make(map[message.Topic][]Delivery),
		RetryDelay: time.Second,
		Block:      time.Second,
	}
}

func (m *Memory) signal(topic message.Topic) chan struct{} {
	ch, ok := m.notify[topic]
	if !ok {
		ch = make(chan struct{}, 1)
		m.notify[topic] = ch
	}
	return ch
}

func (m *Memory) push(d Delivery) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.queues[d.Topic] = append(m.queues[d.Topic], d)
	select {
	case m.signal(d.Topic) <- struct{}{}:
	default:
	}
}

func (m *Memory) Publish(ctx context.Context, topic message.Topic, body []byte, redelivered bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.seq++
	id := strconv.Itoa(m.seq)
	m.mu.Unlock()

	m.push(Delivery{ID: id, Topic: topic, Body: append([]byte(nil), body...), Redelivered: redelivered, Attempts: 1})
	return nil
}

func (m *Memory) Receive(ctx context.Context, topic message.Topic, max int) ([]Delivery, error) {
	timer := time.NewTimer(m.Block)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if n := min(max, len(m.queues[topic])); n > 0 {
			out := append([]Delivery(nil), m.queues[topic][:n]...)
			m.queues[topic] = m.queues[topic][n:]
			m.mu.Unlock()
			return out, nil
		}
		ch := m.signal(topic)
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-ch:
		}
	}
}

func (m *Memory) Ack(_ context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked[d.Topic] = append(m.acked[d.Topic], d)
	return nil
}

func (m *Memory) Nack(_ context.Context, d Delivery) error {
	d.Redelivered = true
	d.Attempts++
	time.AfterFunc(m.RetryDelay, func() { m.push(d) })
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Pending returns the bodies waiting on topic.
func (m *Memory) Pending(topic message.Topic) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, 0, len(m.queues[topic]))
	for _, d := range m.queues[topic] {
		out = append(out, d.Body)
	}
	return out
}

// Acked returns the deliveries acknowledged on topic.
func (m *Memory) Acked(topic message.Topic) []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.acked[topic]...)
}
