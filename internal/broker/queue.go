// Package broker abstracts the message queue the workers consume and publish
// on: one Queue per logical routing key, with explicit acknowledgment.
package broker

import (
	"context"
	"time"
)

// Message is one delivered broker message. The receipt handle stays valid
// until the message is acked, rejected or requeued.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Queue is a durable queue with at-least-once delivery semantics.
//
// Ack removes a processed message. Reject discards a poison message
// permanently, with no redelivery. Requeue returns a message to the queue for
// prompt redelivery after a transient processing failure.
type Queue interface {
	Publish(ctx context.Context, body []byte) error
	Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error)
	Ack(ctx context.Context, receiptHandle string) error
	Reject(ctx context.Context, receiptHandle string) error
	Requeue(ctx context.Context, receiptHandle string) error
}
