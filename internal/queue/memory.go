package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryFabric is an in-process Fabric used by tests and local development.
// Published messages are retained per queue until a consumer acks them;
// nack with requeue puts the message back with the redelivered flag set.
type MemoryFabric struct {
	mu       sync.Mutex
	pending  map[string][]*memoryMessage
	handlers map[string]Handler
}

type memoryMessage struct {
	body        []byte
	redelivered bool
	acked       bool
}

func NewMemoryFabric() *MemoryFabric {
	return &MemoryFabric{
		pending:  map[string][]*memoryMessage{},
		handlers: map[string]Handler{},
	}
}

func (f *MemoryFabric) Publish(ctx context.Context, queue string, payload any, opts ...PublishOption) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	msg := &memoryMessage{body: body}

	f.mu.Lock()
	handler := f.handlers[queue]
	if handler == nil {
		f.pending[queue] = append(f.pending[queue], msg)
	}
	f.mu.Unlock()

	if handler != nil {
		f.deliver(ctx, queue, handler, msg)
	}
	return nil
}

func (f *MemoryFabric) Consume(ctx context.Context, queue string, handler Handler) error {
	f.mu.Lock()
	if _, exists := f.handlers[queue]; exists {
		f.mu.Unlock()
		return fmt.Errorf("queue %s already has a consumer", queue)
	}
	f.handlers[queue] = handler
	backlog := f.pending[queue]
	f.pending[queue] = nil
	f.mu.Unlock()

	for _, msg := range backlog {
		f.deliver(ctx, queue, handler, msg)
	}
	return nil
}

// deliver invokes the handler synchronously and redelivers once when the
// handler nacks with requeue.
func (f *MemoryFabric) deliver(ctx context.Context, queue string, handler Handler, msg *memoryMessage) {
	requeued := false
	d := NewDelivery(msg.body, msg.redelivered,
		func() error { msg.acked = true; return nil },
		func(requeue bool) error {
			requeued = requeue
			return nil
		},
	)
	handler(ctx, d)

	if requeued && !msg.acked {
		msg.redelivered = true
		f.deliver(ctx, queue, handler, msg)
	}
}

func (f *MemoryFabric) Purge(ctx context.Context, queue string) error {
	f.mu.Lock()
	f.pending[queue] = nil
	f.mu.Unlock()
	return nil
}

func (f *MemoryFabric) Close() error {
	return nil
}

// Pending returns the unconsumed message bodies of a queue, oldest first.
// Test helper; the real broker offers no such peek.
func (f *MemoryFabric) Pending(queue string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	bodies := make([][]byte, 0, len(f.pending[queue]))
	for _, msg := range f.pending[queue] {
		bodies = append(bodies, msg.body)
	}
	return bodies
}

var _ Fabric = (*MemoryFabric)(nil)
