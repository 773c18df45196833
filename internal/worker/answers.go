package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/broker"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/models"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/observability/metrics"
	"github.com/praekeltfoundation/who-smoking-cessation/pkg/logging"
)

const (
	defaultAnswerBatchSize = 500
	defaultFlushInterval   = 5 * time.Second
	defaultSubmitTimeout   = 10 * time.Second
	ingestBackoff          = 100 * time.Millisecond
)

// AnswerArchiver mirrors successfully submitted answers into long-term
// storage. Archive failures are logged, never retried: the aggregation API is
// the system of record.
type AnswerArchiver interface {
	Record(ctx context.Context, answers []models.Answer) error
}

// AnswerConfig holds the aggregation API settings for the batching worker.
type AnswerConfig struct {
	BaseURL       string
	Token         string
	ResourceID    string
	BatchSize     int
	FlushInterval time.Duration
	SubmitTimeout time.Duration
}

// AnswerOption customizes the answer worker.
type AnswerOption func(*AnswerWorker)

// WithAnswerMetrics wires worker metrics.
func WithAnswerMetrics(m *metrics.WorkerMetrics) AnswerOption {
	return func(w *AnswerWorker) { w.metrics = m }
}

// WithArchiver mirrors flushed batches into an archive store.
func WithArchiver(archiver AnswerArchiver) AnswerOption {
	return func(w *AnswerWorker) { w.archive = archiver }
}

// WithHTTPClient replaces the submission client; test hook.
func WithHTTPClient(client *http.Client) AnswerOption {
	return func(w *AnswerWorker) { w.client = client }
}

// AnswerWorker decouples answer production from the rate-limited aggregation
// API. Raw broker messages are buffered unparsed; a periodic flush decodes
// them, submits one batch, and only then acknowledges. A failed submission
// re-buffers the batch, so parsed answers are never lost — at the cost of
// at-least-once delivery.
type AnswerWorker struct {
	queue     broker.Queue
	client    *http.Client
	submitURL string
	token     string
	resource  string

	batchSize int
	interval  time.Duration

	archive AnswerArchiver
	logger  *logging.Logger
	metrics *metrics.WorkerMetrics

	mu     sync.Mutex
	buffer []broker.Message

	wg sync.WaitGroup
}

// NewAnswerWorker constructs the batching worker.
func NewAnswerWorker(queue broker.Queue, cfg AnswerConfig, logger *logging.Logger, opts ...AnswerOption) *AnswerWorker {
	if queue == nil {
		panic("worker: answer queue cannot be nil")
	}
	if cfg.BaseURL == "" || cfg.Token == "" || cfg.ResourceID == "" {
		panic("worker: answer API config incomplete")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultAnswerBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}

	w := &AnswerWorker{
		queue:     queue,
		client:    &http.Client{Timeout: cfg.SubmitTimeout},
		submitURL: submitURL(cfg.BaseURL, cfg.ResourceID),
		token:     cfg.Token,
		resource:  cfg.ResourceID,
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func submitURL(baseURL, resourceID string) string {
	return strings.TrimSuffix(baseURL, "/") + "/flow-results/packages/" + resourceID + "/responses/"
}

// Start launches the ingestion loop and the periodic flush until ctx is
// cancelled.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.wg.Add(2)
	go w.ingest(ctx)
	go w.tick(ctx)
}

// Wait blocks until both loops exit.
func (w *AnswerWorker) Wait() {
	w.wg.Wait()
}

// ingest appends raw broker messages to the buffer. No parsing happens here;
// the expensive JSON decode and HTTP I/O stay on the flush path. Ingestion
// pauses while a full batch is already buffered, bounding memory.
func (w *AnswerWorker) ingest(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.buffered() >= w.batchSize {
			select {
			case <-ctx.Done():
				return
			case <-time.After(ingestBackoff):
			}
			continue
		}

		receive := w.batchSize - w.buffered()
		if receive > maxReceiveBatch {
			receive = maxReceiveBatch
		}
		messages, err := w.queue.Receive(ctx, receive, defaultWaitTime)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive answer messages", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		w.mu.Lock()
		w.buffer = append(w.buffer, messages...)
		w.mu.Unlock()
	}
}

// tick runs the flush on a fixed interval. Flushes never overlap: the next
// tick waits for the previous flush to finish.
func (w *AnswerWorker) tick(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// flush swaps the buffer for an empty one, decodes the batch, submits it in
// one request and acknowledges on success. Poison messages are rejected and
// dropped from the batch; a failed submission pushes every decodable handle
// back for the next tick.
func (w *AnswerWorker) flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	answers := make([]models.Answer, 0, len(batch))
	kept := make([]broker.Message, 0, len(batch))
	for _, msg := range batch {
		answer, err := models.ParseAnswer([]byte(msg.Body))
		if err != nil {
			w.logger.Error("invalid answer body", "error", err, "body", msg.Body)
			if rejectErr := w.queue.Reject(ctx, msg.ReceiptHandle); rejectErr != nil {
				w.logger.Error("failed to reject answer message", "error", rejectErr)
			}
			continue
		}
		answers = append(answers, answer)
		kept = append(kept, msg)
	}

	if len(answers) == 0 {
		return
	}

	if err := w.submit(ctx, answers); err != nil {
		w.logger.Error("error sending results to flow results server", "error", err, "rows", len(answers))
		w.metrics.ObserveFlush("error", 0)
		w.mu.Lock()
		w.buffer = append(w.buffer, kept...)
		w.mu.Unlock()
		return
	}

	w.metrics.ObserveFlush("ok", len(answers))

	for _, msg := range kept {
		if err := w.queue.Ack(ctx, msg.ReceiptHandle); err != nil {
			w.logger.Error("failed to ack answer message", "error", err)
		}
	}

	if w.archive != nil {
		if err := w.archive.Record(ctx, answers); err != nil {
			w.logger.Error("failed to archive answers", "error", err, "rows", len(answers))
		}
	}
}

type submitBody struct {
	Data submitData `json:"data"`
}

type submitData struct {
	Type       string           `json:"type"`
	ID         string           `json:"id"`
	Attributes submitAttributes `json:"attributes"`
}

type submitAttributes struct {
	Responses [][]any `json:"responses"`
}

// submit issues exactly one POST carrying the full batch as flow-results
// rows, in ingestion order. Any transport error or non-2xx response is a
// failure; the caller re-buffers.
func (w *AnswerWorker) submit(ctx context.Context, answers []models.Answer) error {
	rows := make([][]any, 0, len(answers))
	for _, answer := range answers {
		rows = append(rows, answer.Row())
	}

	body, err := json.Marshal(submitBody{
		Data: submitData{
			Type:       "responses",
			ID:         w.resource,
			Attributes: submitAttributes{Responses: rows},
		},
	})
	if err != nil {
		return fmt.Errorf("worker: encode answer batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.submitURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("worker: build answer request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+w.token)
	req.Header.Set("Content-Type", "application/vnd.api+json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("worker: submit answer batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("worker: answer API returned %s", resp.Status)
	}
	return nil
}

func (w *AnswerWorker) buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}
