// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "copilot_transcript"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Event metrics
	EventsAccepted *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec

	// Block metrics
	BlocksOpened      prometheus.Counter
	BlocksClosed      prometheus.Counter
	UtteranceSegments prometheus.Histogram
	SegmentUpserts    *prometheus.CounterVec
	Resets            prometheus.Counter

	// Audio metrics
	AudioBytesReceived  *prometheus.CounterVec
	AudioFramesReceived *prometheus.CounterVec

	// STT metrics
	STTErrors *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
	OutboxDropped       prometheus.Counter

	// Stream subscribers
	StreamSubscribers prometheus.Gauge

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec

	// Backpressure metrics
	LimitExceeded *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of transcript sessions created",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open transcript sessions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of transcript sessions in seconds",
			Buckets:   []float64{10, 60, 300, 900, 1800, 3600, 7200, 10800},
		}),

		EventsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_accepted_total",
			Help:      "Total number of transcription events applied to a transcript",
		}, []string{"channel_kind", "hypothesis"}),
		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Total number of transcription events rejected",
		}, []string{"reason"}),

		BlocksOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_opened_total",
			Help:      "Total number of speaker blocks opened",
		}),
		BlocksClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_closed_total",
			Help:      "Total number of utterances closed by silence",
		}),
		UtteranceSegments: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_segments",
			Help:      "Number of speech chunks in an utterance when it closes",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
		SegmentUpserts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_upserts_total",
			Help:      "Total number of segment merges by outcome",
		}, []string{"outcome"}),
		Resets: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Total number of transcript resets",
		}),

		AudioBytesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}, []string{"channel"}),
		AudioFramesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}, []string{"channel"}),

		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
		OutboxDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dropped_total",
			Help:      "Total number of block events dropped because a session outbox was full",
		}),

		StreamSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Number of connected transcript stream subscribers",
		}),

		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC requests by method and status code",
		}, []string{"method", "code"}),

		LimitExceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_exceeded_total",
			Help:      "Total number of times a session limit was exceeded",
		}, []string{"limit_type"}),
	}
}

// RecordSessionStart records a new session.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordEventAccepted records an event applied to a transcript.
func (m *Metrics) RecordEventAccepted(local, final bool) {
	kind := "remote"
	if local {
		kind = "local"
	}
	hyp := "interim"
	if final {
		hyp = "final"
	}
	m.EventsAccepted.WithLabelValues(kind, hyp).Inc()
}

// RecordEventRejected records a rejected event.
func (m *Metrics) RecordEventRejected(reason string) {
	m.EventsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordBlockOpened() {
	m.BlocksOpened.Inc()
}

func (m *Metrics) RecordBlockClosed(segments int) {
	m.BlocksClosed.Inc()
	m.UtteranceSegments.Observe(float64(segments))
}

// RecordSegmentUpsert records how an event merged into its utterance.
func (m *Metrics) RecordSegmentUpsert(outcome string) {
	m.SegmentUpserts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordReset() {
	m.Resets.Inc()
}

// RecordAudioReceived records audio bytes and frames received on a channel.
func (m *Metrics) RecordAudioReceived(channel string, bytes int) {
	m.AudioBytesReceived.WithLabelValues(channel).Add(float64(bytes))
	m.AudioFramesReceived.WithLabelValues(channel).Inc()
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordOutboxDropped records a block event dropped on a full outbox.
func (m *Metrics) RecordOutboxDropped() {
	m.OutboxDropped.Inc()
}

func (m *Metrics) RecordSubscriberAdded() {
	m.StreamSubscribers.Inc()
}

func (m *Metrics) RecordSubscriberRemoved() {
	m.StreamSubscribers.Dec()
}

// RecordGRPCRequest records a completed gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}

// RecordLimitExceeded records when a session limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.LimitExceeded.WithLabelValues(limitType).Inc()
}
