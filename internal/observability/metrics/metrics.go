package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics tracks conversation state machine activity.
type EngineMetrics struct {
	stateChange *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		stateChange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "state_change",
			Help: "Whenever a user's state gets changed",
		}, []string{"from_state", "to_state"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stateChange)
	return m
}

// ObserveStateChange records a state transition, including re-entries.
func (m *EngineMetrics) ObserveStateChange(from, to string) {
	if m == nil {
		return
	}
	m.stateChange.WithLabelValues(from, to).Inc()
}

// WorkerMetrics tracks the inbound/event worker and answer batching worker.
type WorkerMetrics struct {
	inboundTotal   *prometheus.CounterVec
	eventTotal     *prometheus.CounterVec
	answerFlush    *prometheus.CounterVec
	answerRows     prometheus.Histogram
	processLatency prometheus.Histogram
}

func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	m := &WorkerMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "survey",
			Subsystem: "worker",
			Name:      "inbound_total",
			Help:      "Inbound messages consumed, by outcome",
		}, []string{"status"}),
		eventTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "survey",
			Subsystem: "worker",
			Name:      "event_total",
			Help:      "Transport events consumed, by outcome",
		}, []string{"status"}),
		answerFlush: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "survey",
			Subsystem: "answers",
			Name:      "flush_total",
			Help:      "Answer batch submissions, by outcome",
		}, []string{"status"}),
		answerRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "survey",
			Subsystem: "answers",
			Name:      "batch_rows",
			Help:      "Rows per submitted answer batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		processLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "survey",
			Subsystem: "worker",
			Name:      "process_latency_seconds",
			Help:      "End-to-end latency of one inbound message",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.eventTotal, m.answerFlush, m.answerRows, m.processLatency)
	return m
}

func (m *WorkerMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *WorkerMetrics) ObserveEvent(status string) {
	if m == nil {
		return
	}
	m.eventTotal.WithLabelValues(status).Inc()
}

func (m *WorkerMetrics) ObserveFlush(status string, rows int) {
	if m == nil {
		return
	}
	m.answerFlush.WithLabelValues(status).Inc()
	if rows > 0 {
		m.answerRows.Observe(float64(rows))
	}
}

func (m *WorkerMetrics) ObserveProcessLatency(seconds float64) {
	if m == nil {
		return
	}
	m.processLatency.Observe(seconds)
}

// HTTPMetrics tracks the health/metrics HTTP surface.
type HTTPMetrics struct {
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "survey",
			Subsystem: "http",
			Name:      "request_count",
			Help:      "HTTP request count",
		}, []string{"method", "endpoint", "http_status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "survey",
			Subsystem: "http",
			Name:      "request_latency_sec",
			Help:      "HTTP request latency histogram",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint", "http_status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestLatency)
	return m
}

func (m *HTTPMetrics) ObserveRequest(method, endpoint, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.requestLatency.WithLabelValues(method, endpoint, status).Observe(seconds)
}
