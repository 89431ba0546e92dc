package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

type TopicSnapshot struct {
	Published     int64   `json:"published"`
	Consumed      int64   `json:"consumed"`
	HandlerErrors int64   `json:"handler_errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type Snapshot struct {
	UptimeSec      int64                    `json:"uptime_sec"`
	TotalPublished int64                    `json:"total_published"`
	TotalConsumed  int64                    `json:"total_consumed"`
	TotalErrors    int64                    `json:"total_errors"`
	InFlight       int64                    `json:"in_flight"`
	Lifecycle      *LifecycleSnapshot       `json:"lifecycle,omitempty"`
	Topics         map[string]TopicSnapshot `json:"topics"`
}

type topicStats struct {
	published     int64
	consumed      int64
	handlerErrors int64
	inFlight      int64
	totalLatency  time.Duration
	maxLatency    time.Duration
	lastLatency   time.Duration
}

// Metrics tracks per-topic publish and consume counters for the saga.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	mu        sync.Mutex
	start     time.Time
	topics    map[string]*topicStats
	lifecycle lifecycleStats
}

// HandleSpan times one handler invocation for a topic.
type HandleSpan struct {
	metrics *Metrics
	topic   string
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:  time.Now(),
		topics: make(map[string]*topicStats),
	}
}

// MarkPublished records one published event on topic.
func (m *Metrics) MarkPublished(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ensureTopic(topic).published++
	m.mu.Unlock()
}

// StartHandle opens a timing span around a handler invocation.
func (m *Metrics) StartHandle(topic string) *HandleSpan {
	if m == nil {
		return &HandleSpan{}
	}
	m.mu.Lock()
	m.ensureTopic(topic).inFlight++
	m.mu.Unlock()
	return &HandleSpan{
		metrics: m,
		topic:   topic,
		start:   time.Now(),
	}
}

func (s *HandleSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.topic, dur, err != nil)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec: int64(now.Sub(m.start).Seconds()),
		Topics:    make(map[string]TopicSnapshot),
	}

	for topic, stats := range m.topics {
		avg := 0.0
		if stats.consumed > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.consumed)
		}
		snap.Topics[topic] = TopicSnapshot{
			Published:     stats.published,
			Consumed:      stats.consumed,
			HandlerErrors: stats.handlerErrors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalPublished += stats.published
		snap.TotalConsumed += stats.consumed
		snap.TotalErrors += stats.handlerErrors
		snap.InFlight += stats.inFlight
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureTopic(topic string) *topicStats {
	stats, ok := m.topics[topic]
	if !ok {
		stats = &topicStats{}
		m.topics[topic] = stats
	}
	return stats
}

func (m *Metrics) finish(topic string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureTopic(topic)
	stats.inFlight--
	stats.consumed++
	if failed {
		stats.handlerErrors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}

// Handler serves the current snapshot as JSON; a nil *Metrics serves an
// empty one.
func Handler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})
}
