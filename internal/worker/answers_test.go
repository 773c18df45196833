package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/broker"
	"github.com/praekeltfoundation/who-smoking-cessation/internal/models"
)

type capturedRequest struct {
	path        string
	auth        string
	contentType string
	body        []byte
}

type captureServer struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
}

func (s *captureServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, capturedRequest{
			path:        r.URL.Path,
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
			body:        body,
		})
		status := s.status
		s.mu.Unlock()
		if status == 0 {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
	}
}

func (s *captureServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *captureServer) last() capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func newAnswerFixture(t *testing.T, baseURL string) (*AnswerWorker, *broker.MemoryQueue) {
	t.Helper()
	queue := broker.NewMemoryQueue(32)
	w := NewAnswerWorker(queue, AnswerConfig{
		BaseURL:       baseURL,
		Token:         "secret-token",
		ResourceID:    "resource-1",
		BatchSize:     100,
		FlushInterval: 50 * time.Millisecond,
	}, nil)
	return w, queue
}

func publishAnswer(t *testing.T, queue *broker.MemoryQueue, question, response string) models.Answer {
	t.Helper()
	answer := models.NewAnswer(question, response, "27820001001", "session-1")
	data, err := answer.ToJSON()
	require.NoError(t, err)
	require.NoError(t, queue.Publish(context.Background(), data))
	return answer
}

// fill receives everything pending on the queue into the worker's buffer, the
// way the ingestion loop would.
func fill(t *testing.T, w *AnswerWorker, queue *broker.MemoryQueue) {
	t.Helper()
	messages, err := queue.Receive(context.Background(), 10, 20*time.Millisecond)
	require.NoError(t, err)
	w.mu.Lock()
	w.buffer = append(w.buffer, messages...)
	w.mu.Unlock()
}

func TestAnswerWorker_FlushSubmitsOneBatch(t *testing.T) {
	server := &captureServer{}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	w, queue := newAnswerFixture(t, ts.URL+"/")
	ctx := context.Background()

	first := publishAnswer(t, queue, "state_age", "25_35")
	second := publishAnswer(t, queue, "state_gender", "female")
	require.NoError(t, queue.Publish(ctx, []byte("{poison")))
	third := publishAnswer(t, queue, "state_city", "Cape Town")

	fill(t, w, queue)
	w.flush(ctx)

	require.Equal(t, 1, server.count(), "expected exactly one POST for the batch")
	req := server.last()
	assert.Equal(t, "/flow-results/packages/resource-1/responses/", req.path)
	assert.Equal(t, "Token secret-token", req.auth)
	assert.Equal(t, "application/vnd.api+json", req.contentType)

	var payload struct {
		Data struct {
			Type       string `json:"type"`
			ID         string `json:"id"`
			Attributes struct {
				Responses [][]any `json:"responses"`
			} `json:"attributes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(req.body, &payload))
	assert.Equal(t, "responses", payload.Data.Type)
	assert.Equal(t, "resource-1", payload.Data.ID)

	rows := payload.Data.Attributes.Responses
	require.Len(t, rows, 3, "poison rows must be dropped from the batch")
	assert.Equal(t, string(first.RowID), rows[0][1])
	assert.Equal(t, string(second.RowID), rows[1][1])
	assert.Equal(t, string(third.RowID), rows[2][1])

	assert.Equal(t, 0, queue.InflightCount(), "all handles should be settled")
	assert.Equal(t, 0, w.buffered(), "buffer should be empty after a clean flush")
}

func TestAnswerWorker_FlushFailureRebuffers(t *testing.T) {
	server := &captureServer{status: http.StatusBadGateway}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	w, queue := newAnswerFixture(t, ts.URL)
	ctx := context.Background()

	publishAnswer(t, queue, "state_age", "25_35")
	publishAnswer(t, queue, "state_gender", "male")

	fill(t, w, queue)
	w.flush(ctx)

	assert.Equal(t, 1, server.count())
	assert.Equal(t, 2, w.buffered(), "failed batch should be re-buffered")
	assert.Equal(t, 2, queue.InflightCount(), "nothing should be acked on failure")

	// The server recovers; the next flush drains the re-buffered batch.
	server.mu.Lock()
	server.status = http.StatusCreated
	server.mu.Unlock()

	w.flush(ctx)
	assert.Equal(t, 2, server.count())
	assert.Equal(t, 0, w.buffered())
	assert.Equal(t, 0, queue.InflightCount())
}

func TestAnswerWorker_FlushSkipsEmptyBuffer(t *testing.T) {
	server := &captureServer{}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	w, _ := newAnswerFixture(t, ts.URL)
	w.flush(context.Background())

	assert.Equal(t, 0, server.count(), "an empty buffer must not POST")
}

func TestAnswerWorker_AllPoisonBatchSkipsSubmit(t *testing.T) {
	server := &captureServer{}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	w, queue := newAnswerFixture(t, ts.URL)
	ctx := context.Background()

	require.NoError(t, queue.Publish(ctx, []byte("not json")))
	require.NoError(t, queue.Publish(ctx, []byte(`{"response": "x"}`)))

	fill(t, w, queue)
	w.flush(ctx)

	assert.Equal(t, 0, server.count())
	assert.Equal(t, 0, queue.InflightCount(), "poison handles should be rejected")
}

type recordingArchiver struct {
	mu      sync.Mutex
	batches [][]models.Answer
}

func (a *recordingArchiver) Record(_ context.Context, answers []models.Answer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, answers)
	return nil
}

func TestAnswerWorker_ArchivesSubmittedBatches(t *testing.T) {
	server := &captureServer{}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	archiver := &recordingArchiver{}
	queue := broker.NewMemoryQueue(32)
	w := NewAnswerWorker(queue, AnswerConfig{
		BaseURL:    ts.URL,
		Token:      "secret-token",
		ResourceID: "resource-1",
	}, nil, WithArchiver(archiver))

	publishAnswer(t, queue, "state_age", "45_55")
	fill(t, w, queue)
	w.flush(context.Background())

	require.Len(t, archiver.batches, 1)
	require.Len(t, archiver.batches[0], 1)
	assert.Equal(t, "state_age", archiver.batches[0][0].Question)
}

func TestAnswerWorker_StartFlushesOnTicker(t *testing.T) {
	server := &captureServer{}
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	w, queue := newAnswerFixture(t, ts.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publishAnswer(t, queue, "state_age", "55+")
	w.Start(ctx)

	deadline := time.After(2 * time.Second)
	for server.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected the ticker to flush the buffered answer")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	w.Wait()
	assert.Equal(t, 0, queue.InflightCount())
}
