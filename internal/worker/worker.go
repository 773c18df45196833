// Package worker contains the queue consumers: the inbound/event worker that
// drives the conversation engine, and the answer batching worker that pushes
// collected answers to the aggregation API.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/broker"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/engine"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/models"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/observability/metrics"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/session"
	"github.com/praekeltfoundation/who-smoking-cessation/pkg/logging"
)

// AppFactory builds a fresh engine App for one user and one message. Apps are
// single-use: the worker never shares one across messages.
type AppFactory func(user *models.User) *engine.App

const (
	defaultWorkerCount = 20
	defaultWaitTime    = 2 * time.Second
	defaultBatchSize   = 5
	maxReceiveBatch    = 10
	ackTimeout         = 5 * time.Second
)

type inboundConfig struct {
	workers          int
	receiveWait      time.Duration
	receiveBatchSize int
	answers          broker.Queue
	metrics          *metrics.WorkerMetrics
}

// InboundOption customizes the inbound worker.
type InboundOption func(*inboundConfig)

// WithConcurrency sets the number of concurrent consumer goroutines. This is
// the admission-control knob bounding simultaneous in-flight inbound
// messages.
func WithConcurrency(count int) InboundOption {
	return func(cfg *inboundConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWait sets the long-poll wait duration.
func WithReceiveWait(wait time.Duration) InboundOption {
	return func(cfg *inboundConfig) {
		if wait >= 0 {
			cfg.receiveWait = wait
		}
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) InboundOption {
	return func(cfg *inboundConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatch {
			size = maxReceiveBatch
		}
		cfg.receiveBatchSize = size
	}
}

// WithAnswerQueue enables answer publication. Without it the engine's answer
// records are dropped after processing.
func WithAnswerQueue(queue broker.Queue) InboundOption {
	return func(cfg *inboundConfig) {
		cfg.answers = queue
	}
}

// WithMetrics wires worker metrics.
func WithMetrics(m *metrics.WorkerMetrics) InboundOption {
	return func(cfg *inboundConfig) {
		cfg.metrics = m
	}
}

// Inbound consumes the inbound and event queues, drives the conversation
// engine, and publishes the replies and answers it produces.
//
// Nothing serializes concurrent messages from the same address: the session
// read-modify-write is last-write-wins by design of the original pipeline.
type Inbound struct {
	newApp   AppFactory
	sessions *session.Store
	inbound  broker.Queue
	events   broker.Queue
	outbound broker.Queue
	answers  broker.Queue
	logger   *logging.Logger
	metrics  *metrics.WorkerMetrics

	cfg inboundConfig
	wg  sync.WaitGroup
}

// NewInbound constructs the inbound/event worker.
func NewInbound(newApp AppFactory, sessions *session.Store, inbound, events, outbound broker.Queue, logger *logging.Logger, opts ...InboundOption) *Inbound {
	if newApp == nil {
		panic("worker: app factory cannot be nil")
	}
	if sessions == nil {
		panic("worker: session store cannot be nil")
	}
	if inbound == nil || events == nil || outbound == nil {
		panic("worker: queues cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := inboundConfig{
		workers:          defaultWorkerCount,
		receiveWait:      defaultWaitTime,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Inbound{
		newApp:   newApp,
		sessions: sessions,
		inbound:  inbound,
		events:   events,
		outbound: outbound,
		answers:  cfg.answers,
		logger:   logger,
		metrics:  cfg.metrics,
		cfg:      cfg,
	}
}

// Start launches consumer goroutines until ctx is cancelled.
func (w *Inbound) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1, w.inbound, w.handleInbound)
	}
	w.wg.Add(1)
	go w.run(ctx, 0, w.events, w.handleEvent)
}

// Wait blocks until all consumer goroutines exit.
func (w *Inbound) Wait() {
	w.wg.Wait()
}

func (w *Inbound) run(ctx context.Context, workerID int, queue broker.Queue, handle func(context.Context, broker.Message)) {
	defer w.wg.Done()
	w.logger.Debug("worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWait)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive messages", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			handle(ctx, msg)
		}
	}
}

func (w *Inbound) handleInbound(ctx context.Context, msg broker.Message) {
	started := time.Now()

	inbound, err := models.ParseMessage([]byte(msg.Body))
	if err != nil {
		w.logger.Error("invalid message body", "error", err, "body", msg.Body)
		w.metrics.ObserveInbound("rejected")
		w.reject(w.inbound, msg)
		return
	}

	w.logger.Debug("processing inbound message", "message_id", inbound.MessageID, "from", inbound.From)

	if err := w.process(ctx, inbound); err != nil {
		w.logger.Error("failed to process inbound message",
			"error", err,
			"message_id", inbound.MessageID,
			"from", inbound.From,
		)
		w.metrics.ObserveInbound("requeued")
		w.requeue(w.inbound, msg)
		return
	}

	w.metrics.ObserveInbound("ok")
	w.metrics.ObserveProcessLatency(time.Since(started).Seconds())
	w.ack(w.inbound, msg)
}

// process is the read-modify-write around one inbound message: load the
// session, run the engine, publish replies and answers, persist the session.
// Any error here requeues the broker message for retry.
func (w *Inbound) process(ctx context.Context, inbound models.Message) error {
	user, err := w.sessions.Load(ctx, inbound.From)
	if err != nil {
		return err
	}

	app := w.newApp(&user)
	replies, err := app.ProcessMessage(ctx, inbound)
	if err != nil {
		return err
	}

	for _, reply := range replies {
		data, err := reply.ToJSON()
		if err != nil {
			return err
		}
		if err := w.outbound.Publish(ctx, data); err != nil {
			return err
		}
	}

	if w.answers != nil {
		for _, answer := range app.Answers() {
			data, err := answer.ToJSON()
			if err != nil {
				return err
			}
			if err := w.answers.Publish(ctx, data); err != nil {
				return err
			}
		}
	}

	return w.sessions.Save(ctx, user)
}

func (w *Inbound) handleEvent(ctx context.Context, msg broker.Message) {
	event, err := models.ParseEvent([]byte(msg.Body))
	if err != nil {
		w.logger.Error("invalid event body", "error", err, "body", msg.Body)
		w.metrics.ObserveEvent("rejected")
		w.reject(w.events, msg)
		return
	}

	// Delivery reports are not acted on yet; receipt is logged so transport
	// issues remain visible in the meantime.
	w.logger.Debug("processing event",
		"event_id", event.EventID,
		"event_type", string(event.EventType),
		"user_message_id", event.UserMessageID,
	)
	w.metrics.ObserveEvent("ok")
	w.ack(w.events, msg)
}

func (w *Inbound) ack(queue broker.Queue, msg broker.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := queue.Ack(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to ack message", "error", err, "message_id", msg.ID)
	}
}

func (w *Inbound) reject(queue broker.Queue, msg broker.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := queue.Reject(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to reject message", "error", err, "message_id", msg.ID)
	}
}

func (w *Inbound) requeue(queue broker.Queue, msg broker.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := queue.Requeue(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to requeue message", "error", err, "message_id", msg.ID)
	}
}
