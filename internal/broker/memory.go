package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a Queue backed by an in-memory buffered channel. Delivered
// messages stay in an in-flight set until acked or rejected, so Requeue can
// return them for redelivery. Used for tests and local development.
type MemoryQueue struct {
	ch chan Message

	mu       sync.Mutex
	inflight map[string]Message
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		ch:       make(chan Message, buffer),
		inflight: make(map[string]Message),
	}
}

// Publish enqueues a payload or blocks until ctx is done.
func (q *MemoryQueue) Publish(ctx context.Context, body []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	msg := Message{
		ID:            uuid.NewString(),
		Body:          string(body),
		ReceiptHandle: uuid.NewString(),
	}

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or wait elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timer *time.Timer
	if wait > 0 {
		timer = time.NewTimer(wait)
		defer timer.Stop()
	}

	if timer == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-q.ch:
			return q.collect(ctx, msg, maxMessages), nil
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(ctx, msg, maxMessages), nil
	}
}

// Ack removes a delivered message permanently.
func (q *MemoryQueue) Ack(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, receiptHandle)
	return nil
}

// Reject discards a delivered message with no redelivery.
func (q *MemoryQueue) Reject(ctx context.Context, receiptHandle string) error {
	return q.Ack(ctx, receiptHandle)
}

// Requeue returns a delivered message to the queue for redelivery.
func (q *MemoryQueue) Requeue(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	msg, ok := q.inflight[receiptHandle]
	if ok {
		delete(q.inflight, receiptHandle)
	}
	q.mu.Unlock()
	if !ok {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InflightCount reports delivered-but-unacknowledged messages; test helper.
func (q *MemoryQueue) InflightCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *MemoryQueue) collect(ctx context.Context, first Message, max int) []Message {
	messages := make([]Message, 0, max)
	messages = append(messages, first)

	for len(messages) < max {
		select {
		case <-ctx.Done():
			q.track(messages)
			return messages
		case msg := <-q.ch:
			messages = append(messages, msg)
		default:
			q.track(messages)
			return messages
		}
	}
	q.track(messages)
	return messages
}

func (q *MemoryQueue) track(messages []Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, msg := range messages {
		q.inflight[msg.ReceiptHandle] = msg
	}
}
